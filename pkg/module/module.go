// SPDX-License-Identifier: MPL-2.0

package module

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/Masterminds/semver/v3"

	"github.com/invowk/modlink/pkg/compat"
	"github.com/invowk/modlink/pkg/diag"
	"github.com/invowk/modlink/pkg/ir"
)

// ErrNotAModule is returned when a unit does not define the metadata symbol.
var ErrNotAModule = errors.New("not a module")

type (
	// Options describe where a unit came from.
	Options struct {
		// Path is the file the unit was read from, if any.
		Path string
		// ArchivePath is the module set containing the unit, if any.
		ArchivePath string
		// SourcePath and SourceCode describe the source the unit was
		// compiled from, for modules generated at run time.
		SourcePath string
		SourceCode string
		// BuiltIn marks modules shipped with the toolchain.
		BuiltIn bool
	}

	// Module is a loaded module. It exclusively owns its unit, whose
	// isolated symbols are unique within the process. Modules are not
	// modified after construction.
	Module struct {
		key         string
		kind        Kind
		metadata    Metadata
		unit        *ir.Unit
		hash        string
		opts        Options
		diagnostics diag.List
	}
)

// New builds a module from a unit. unit is taken over and its well-known
// symbols are renamed under key. It returns an error wrapping ErrNotAModule
// when the unit lacks metadata; callers skip such units. Metadata that cannot
// be decoded is reported through Diagnostics and leaves the metadata empty.
func New(key string, unit *ir.Unit, opts Options) (*Module, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if !definesMetadata(unit, key) {
		return nil, fmt.Errorf("%s: %w", key, ErrNotAModule)
	}
	if err := isolate(unit, key); err != nil {
		return nil, err
	}

	m := &Module{key: key, unit: unit, opts: opts}
	sym, _ := unit.Lookup(MangleSymbol(MetadataSymbol, key))
	md, err := ParseMetadata(sym.Initializer, m.displayPath()+"#"+MetadataSymbol)
	if err != nil {
		m.diagnostics = append(m.diagnostics, diag.Warning(diag.CodeMetadataInvalid, "module metadata could not be decoded").
			WithModule(key).WithPath(m.DependencyPath()).WithCause(err))
		md = Metadata{}
	}
	if md.Version != "" {
		if _, err := semver.NewVersion(md.Version); err != nil {
			m.diagnostics = append(m.diagnostics, diag.Warning(diag.CodeMetadataInvalid,
				fmt.Sprintf("version %q is not a semantic version", md.Version)).
				WithModule(key).WithPath(m.DependencyPath()).WithCause(err))
		}
	}
	m.metadata = md
	m.kind = detectKind(key, unit, md)
	m.hash = unit.Hash()
	return m, nil
}

// definesMetadata checks for the metadata symbol under its original or
// isolated name.
func definesMetadata(unit *ir.Unit, key string) bool {
	for _, name := range []string{MetadataSymbol, MangleSymbol(MetadataSymbol, key)} {
		if s, ok := unit.Lookup(name); ok && s.Defined {
			return true
		}
	}
	return false
}

// isolate renames every well-known symbol the unit defines to its isolated
// name. Symbols that already carry their isolated name are left alone, so
// isolation is idempotent.
func isolate(unit *ir.Unit, key string) error {
	for _, sym := range isolatedSymbols {
		if _, ok := unit.Lookup(sym); !ok {
			continue
		}
		if err := unit.Rename(sym, MangleSymbol(sym, key)); err != nil {
			return fmt.Errorf("isolating %s: %w", key, err)
		}
	}
	return nil
}

// Key returns the module key.
func (m *Module) Key() string { return m.key }

// Kind returns the module's classification.
func (m *Module) Kind() Kind { return m.kind }

// Metadata returns a copy of the decoded metadata.
func (m *Module) Metadata() Metadata { return m.metadata.clone() }

// Title returns the metadata title, falling back to the key.
func (m *Module) Title() string {
	if m.metadata.Title != "" {
		return m.metadata.Title
	}
	return m.key
}

// Version returns the parsed semantic version, if the metadata has a valid one.
func (m *Module) Version() (*semver.Version, bool) {
	if m.metadata.Version == "" {
		return nil, false
	}
	v, err := semver.NewVersion(m.metadata.Version)
	return v, err == nil
}

// Dependencies returns the sorted keys the module depends on.
func (m *Module) Dependencies() []string {
	return slices.Clone(m.metadata.Dependencies)
}

// Compatibility returns the systems the module declares support for.
func (m *Module) Compatibility() compat.Set { return m.metadata.Compatibility }

// GenericTypes returns the module's type parameter rules.
func (m *Module) GenericTypes() map[string]GenericType { return m.metadata.clone().GenericTypes }

// IsUnspecializedGeneric reports whether m is a generic node class with type
// parameters that have not been substituted; such modules cannot be linked.
func (m *Module) IsUnspecializedGeneric() bool {
	_, isNode := m.kind.(NodeClass)
	return isNode && m.metadata.IsGeneric()
}

// Unit returns the module's isolated IR unit. Callers must not mutate it.
func (m *Module) Unit() *ir.Unit { return m.unit }

// Hash returns the content hash of the isolated unit.
func (m *Module) Hash() string { return m.hash }

// BuiltIn reports whether the module ships with the toolchain.
func (m *Module) BuiltIn() bool { return m.opts.BuiltIn }

// Path returns the file the module was loaded from, if it was loaded from
// its own file.
func (m *Module) Path() string { return m.opts.Path }

// ArchivePath returns the module set the module was loaded from, if any.
func (m *Module) ArchivePath() string { return m.opts.ArchivePath }

// SourcePath returns the path of the source the module was compiled from.
func (m *Module) SourcePath() string { return m.opts.SourcePath }

// SourceCode returns the source the module was compiled from, if kept.
func (m *Module) SourceCode() string { return m.opts.SourceCode }

// DependencyName is the name other modules use to depend on m.
func (m *Module) DependencyName() string { return m.key }

// DependencyPath returns the file to hand to a linker for m: its own file,
// or the module set it was packaged in.
func (m *Module) DependencyPath() string {
	if m.opts.Path != "" {
		return m.opts.Path
	}
	return m.opts.ArchivePath
}

// Diagnostics returns the non-fatal problems found while loading.
func (m *Module) Diagnostics() diag.List { return slices.Clone(m.diagnostics) }

// IsolatedSymbol returns the process-unique name of one of m's well-known
// symbols.
func (m *Module) IsolatedSymbol(symbol string) string {
	return MangleSymbol(symbol, m.key)
}

// Equal reports whether two modules have the same key, kind, metadata and
// unit content. Reloading an unchanged file yields an equal module.
func (m *Module) Equal(o *Module) bool {
	if m == nil || o == nil {
		return m == o
	}
	return m.key == o.key &&
		kindsEqual(m.kind, o.kind) &&
		m.metadata.Equal(o.metadata) &&
		m.opts.BuiltIn == o.opts.BuiltIn &&
		m.hash == o.hash
}

func (m *Module) String() string {
	return fmt.Sprintf("%s (%s)", m.key, m.kind)
}

func (m *Module) displayPath() string {
	if p := m.DependencyPath(); p != "" {
		return p
	}
	return m.key
}

// SortedKeys returns the keys of a module map in order.
func SortedKeys[V any](mods map[string]V) []string {
	return slices.Sorted(maps.Keys(mods))
}
