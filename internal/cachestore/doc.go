// SPDX-License-Identifier: MPL-2.0

// Package cachestore persists cache manifests in a Badger key-value store and
// writes the compressed cache artifacts they describe. A manifest records
// which module keys one artifact satisfies and the content hash each module
// had when the artifact was built, so a later run can tell whether the
// artifact is still usable.
package cachestore
