// SPDX-License-Identifier: MPL-2.0

// Package compat describes which systems a module or a build target can run on.
//
// A [Set] maps platform keys ("macos", "linux", "windows") to a [Rule]. A nil
// map means "compatible with everything". A platform absent from a restricted
// set is unrestricted, while a platform whose rule is marked incompatible
// (encoded as JSON false) is excluded entirely. This asymmetry makes
// [Any] the identity of [Intersect]; explicit false entries are never
// synthesized for platforms the operands did not mention.
//
// Sets are immutable values. All operations return new sets.
package compat
