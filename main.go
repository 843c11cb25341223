// SPDX-License-Identifier: MPL-2.0

package main

import cmd "github.com/invowk/modlink/cmd/modlink"

func main() {
	cmd.Execute()
}
