// SPDX-License-Identifier: MPL-2.0

package cachestore

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/invowk/modlink/pkg/ir"
)

// ArtifactName returns the artifact file name for a target and tier.
func ArtifactName(target, tier string) string {
	return target + "-" + tier + FileExt
}

// WriteArtifact writes u compressed to path. The file is written to a
// temporary name first and renamed into place, so readers never see a
// partial artifact.
func WriteArtifact(path string, u *ir.Unit) (err error) {
	if err = os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".artifact-*")
	if err != nil {
		return fmt.Errorf("create cache artifact: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if err = u.WriteCompressed(tmp); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write cache artifact %s: %w", path, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("write cache artifact %s: %w", path, err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("install cache artifact %s: %w", path, err)
	}
	return nil
}

// ReadArtifact reads an artifact written by WriteArtifact.
func ReadArtifact(path string) (*ir.Unit, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	u, err := ir.ReadCompressed(f)
	if err != nil {
		return nil, fmt.Errorf("read cache artifact %s: %w", path, err)
	}
	return u, nil
}
