// SPDX-License-Identifier: MPL-2.0

package moduleset

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/klauspost/compress/zip"

	"github.com/invowk/modlink/pkg/ir"
	"github.com/invowk/modlink/pkg/module"
)

const (
	// FileExt is the extension of module set archives.
	FileExt = ".mls"

	modulesDir      = "modules/"
	descriptionsDir = "descriptions/"
	examplesDir     = "examples/"
	descriptionExt  = ".md"

	// maxEntrySize bounds a single decompressed entry.
	maxEntrySize = 256 << 20
)

// ErrModuleNotFound is returned for keys the set does not contain.
var ErrModuleNotFound = errors.New("module not in set")

// Set is an open module set. Its methods are safe for concurrent use.
type Set struct {
	path     string
	archive  *zip.ReadCloser
	modules  map[string]*zip.File
	docs     map[string]*zip.File
	examples []string

	mu           sync.Mutex
	descriptions map[string]string
}

// Open indexes the module set at path. Malformed entry names are skipped.
func Open(path string) (*Set, error) {
	archive, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening module set %s: %w", path, err)
	}
	s := &Set{
		path:         path,
		archive:      archive,
		modules:      make(map[string]*zip.File),
		docs:         make(map[string]*zip.File),
		descriptions: make(map[string]string),
	}
	for _, f := range archive.File {
		if f.FileInfo().IsDir() {
			continue
		}
		switch {
		case strings.HasPrefix(f.Name, modulesDir) && strings.HasSuffix(f.Name, module.FileExt):
			key, err := module.KeyFromFileName(strings.TrimPrefix(f.Name, modulesDir))
			if err != nil {
				continue
			}
			s.modules[key] = f
		case strings.HasPrefix(f.Name, descriptionsDir) && strings.HasSuffix(f.Name, descriptionExt):
			key := strings.TrimSuffix(strings.TrimPrefix(f.Name, descriptionsDir), descriptionExt)
			s.docs[key] = f
		case strings.HasPrefix(f.Name, examplesDir):
			s.examples = append(s.examples, strings.TrimPrefix(f.Name, examplesDir))
		}
	}
	slices.Sort(s.examples)
	return s, nil
}

// Path returns the archive path.
func (s *Set) Path() string { return s.path }

// Keys returns the sorted keys of the modules in the set.
func (s *Set) Keys() []string {
	return slices.Sorted(maps.Keys(s.modules))
}

// Contains reports whether the set has a module with key.
func (s *Set) Contains(key string) bool {
	_, ok := s.modules[key]
	return ok
}

// Examples returns the example file names relative to examples/.
func (s *Set) Examples() []string {
	return slices.Clone(s.examples)
}

// ReadUnit decodes the IR unit stored for key.
func (s *Set) ReadUnit(key string) (*ir.Unit, error) {
	f, ok := s.modules[key]
	if !ok {
		return nil, fmt.Errorf("%s: %s: %w", s.path, key, ErrModuleNotFound)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %w", s.path, f.Name, err)
	}
	defer rc.Close()
	unit, err := ir.Decode(io.LimitReader(rc, maxEntrySize))
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %w", s.path, f.Name, err)
	}
	return unit, nil
}

// Description returns the documentation for key. The entry is read on first
// use and cached. ok is false when the set has no description for key.
func (s *Set) Description(key string) (text string, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if text, cached := s.descriptions[key]; cached {
		return text, true, nil
	}
	f, found := s.docs[key]
	if !found {
		return "", false, nil
	}
	rc, err := f.Open()
	if err != nil {
		return "", false, fmt.Errorf("%s: %s: %w", s.path, f.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, maxEntrySize))
	if err != nil {
		return "", false, fmt.Errorf("%s: %s: %w", s.path, f.Name, err)
	}
	text = string(data)
	s.descriptions[key] = text
	return text, true, nil
}

// Close releases the archive.
func (s *Set) Close() error {
	return s.archive.Close()
}

// Writer creates a module set.
type Writer struct {
	zw   *zip.Writer
	seen map[string]bool
}

// Create starts a module set written to w.
func Create(w io.Writer) *Writer {
	return &Writer{zw: zip.NewWriter(w), seen: make(map[string]bool)}
}

// AddModule stores unit under key.
func (w *Writer) AddModule(key string, unit *ir.Unit) error {
	if err := module.ValidateKey(key); err != nil {
		return err
	}
	f, err := w.create(modulesDir + module.FileName(key) + module.FileExt)
	if err != nil {
		return err
	}
	return unit.Encode(f)
}

// AddDescription stores documentation for key.
func (w *Writer) AddDescription(key, text string) error {
	f, err := w.create(descriptionsDir + key + descriptionExt)
	if err != nil {
		return err
	}
	_, err = io.WriteString(f, text)
	return err
}

// AddExample stores an example file.
func (w *Writer) AddExample(name string, data []byte) error {
	f, err := w.create(examplesDir + path.Clean(name))
	if err != nil {
		return err
	}
	_, err = f.Write(data)
	return err
}

// Close finishes the archive. It does not close the underlying writer.
func (w *Writer) Close() error {
	return w.zw.Close()
}

func (w *Writer) create(name string) (io.Writer, error) {
	if w.seen[name] {
		return nil, fmt.Errorf("duplicate module set entry %s", name)
	}
	w.seen[name] = true
	return w.zw.Create(name)
}
