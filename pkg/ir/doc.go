// SPDX-License-Identifier: MPL-2.0

// Package ir models the binary intermediate-representation units that modules
// are compiled into. A [Unit] is an ordered table of global symbols; function
// bodies are opaque. Units can be encoded, hashed, renamed symbol by symbol
// and linked together, which is all the module system needs from them.
package ir
