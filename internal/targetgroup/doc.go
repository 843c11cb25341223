// SPDX-License-Identifier: MPL-2.0

// Package targetgroup manages one module registry per target architecture
// and decides which of them a composition can be built for.
package targetgroup
