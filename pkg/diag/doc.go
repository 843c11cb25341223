// SPDX-License-Identifier: MPL-2.0

// Package diag defines the structured diagnostics returned by module loading,
// link planning and target resolution. Diagnostics are values handed back to
// callers for rendering; they are never written to stderr by the producing
// package.
package diag
