// SPDX-License-Identifier: MPL-2.0

// Package testutil provides test helpers: Must* wrappers that fail the test
// instead of returning errors, and builders for module IR units and the files
// that hold them.
package testutil
