// SPDX-License-Identifier: MPL-2.0

// Package cueutil validates and decodes documents against embedded CUE
// schemas. It backs module metadata (JSON is a subset of CUE), composition
// manifests and the configuration file.
//
//	//go:embed metadata_schema.cue
//	var metadataSchema []byte
//
//	result, err := cueutil.ParseAndDecode[Metadata](
//	    metadataSchema, raw, "#Metadata",
//	    cueutil.WithFilename("blur.mlm#moduleDetails"),
//	)
package cueutil
