// SPDX-License-Identifier: MPL-2.0

// Package moduleset reads and writes module sets: zip archives bundling many
// compiled modules with their documentation.
//
// Layout:
//
//	modules/<file name>.mlm     one IR unit per module (see module.FileName)
//	descriptions/<key>.md       optional per-module documentation
//	examples/...                optional example compositions
package moduleset
