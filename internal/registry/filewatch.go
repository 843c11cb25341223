// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/invowk/modlink/internal/subgraph"
	"github.com/invowk/modlink/pkg/module"
	"github.com/invowk/modlink/pkg/moduleset"
)

// fileKind classifies a file in a search path by extension.
type fileKind int

const (
	fileNone fileKind = iota
	fileUnit
	fileSet
	fileSource
)

// kindOf returns the kind of file name, or fileNone for files the registry
// ignores.
func kindOf(name string) fileKind {
	switch filepath.Ext(name) {
	case module.FileExt:
		return fileUnit
	case moduleset.FileExt:
		return fileSet
	case subgraph.FileExt:
		return fileSource
	default:
		return fileNone
	}
}

// FileWatch tracks one file in a search path: which keys it provides and
// the modification time they were loaded at.
type FileWatch struct {
	SearchPath   string
	RelativePath string
	// ModuleKey is the key derived from the file name. It is empty for
	// module sets, which provide ContainedModuleKeys instead.
	ModuleKey string
	// KeyIsMangled reports whether the file name encodes the key.
	KeyIsMangled bool
	// LastModified is the modification time, in seconds since the epoch,
	// of the file contents currently loaded. Zero means never loaded.
	LastModified float64
	// ContainedModuleKeys lists the modules a module set bundles, or the
	// node classes a composition source instantiates.
	ContainedModuleKeys []string

	kind fileKind
	// pending is the in-flight compile of a composition source.
	pending *Future[*module.Module]
}

// newFileWatch derives the key of the file at searchPath/rel.
func newFileWatch(searchPath, rel string) (*FileWatch, error) {
	base := filepath.Base(rel)
	w := &FileWatch{SearchPath: searchPath, RelativePath: rel, kind: kindOf(base)}
	switch w.kind {
	case fileUnit:
		key, err := module.KeyFromFileName(base)
		if err != nil {
			return nil, err
		}
		w.ModuleKey, w.KeyIsMangled = key, module.IsMangledFileName(base)
	case fileSource:
		stem := strings.TrimSuffix(base, subgraph.FileExt) + module.FileExt
		key, err := module.KeyFromFileName(stem)
		if err != nil {
			return nil, err
		}
		w.ModuleKey, w.KeyIsMangled = key, module.IsMangledFileName(stem)
	case fileSet:
	default:
		return nil, fmt.Errorf("%s: not a module file", rel)
	}
	return w, nil
}

// Path returns the absolute file path.
func (w *FileWatch) Path() string {
	return filepath.Join(w.SearchPath, w.RelativePath)
}

// Keys returns every module key the file provides.
func (w *FileWatch) Keys() []string {
	if w.kind == fileSet {
		return slices.Clone(w.ContainedModuleKeys)
	}
	return []string{w.ModuleKey}
}

// IsSource reports whether the file is a composition source.
func (w *FileWatch) IsSource() bool {
	return w.kind == fileSource
}

// stat returns the file's current modification time. exists is false when
// the file is gone.
func (w *FileWatch) stat() (modified float64, exists bool, err error) {
	info, err := os.Stat(w.Path())
	if errors.Is(err, fs.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return float64(info.ModTime().UnixNano()) / 1e9, true, nil
}

// changed reports whether the file differs from what was last loaded.
func (w *FileWatch) changed() (bool, error) {
	modified, exists, err := w.stat()
	if err != nil || !exists {
		return true, err
	}
	return modified != w.LastModified, nil
}
