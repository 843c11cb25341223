// SPDX-License-Identifier: MPL-2.0

// Package module turns compiled IR units into modules.
//
// Construction detects whether a unit is a module at all (it must define the
// metadata symbol), isolates the unit's well-known entry points by renaming
// them under the module key so independently compiled modules can be linked
// into one program, decodes the embedded metadata, and classifies the unit as
// a node class, type, library, or specialization of a generic node class.
package module
