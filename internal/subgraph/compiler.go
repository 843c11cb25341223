// SPDX-License-Identifier: MPL-2.0

package subgraph

import (
	"context"
	_ "embed"
	"fmt"
	"maps"
	"slices"

	"github.com/invowk/modlink/pkg/compat"
	"github.com/invowk/modlink/pkg/cueutil"
	"github.com/invowk/modlink/pkg/diag"
	"github.com/invowk/modlink/pkg/ir"
	"github.com/invowk/modlink/pkg/module"
)

// FileExt is the extension of composition sources.
const FileExt = ".mlc"

//go:embed composition_schema.cue
var compositionSchema []byte

type (
	// Lookup returns the loaded module for key.
	Lookup func(key string) (*module.Module, bool)

	// Compiler turns composition sources into module units.
	Compiler interface {
		// ContainedKeys returns the node class keys src instantiates, sorted.
		ContainedKeys(src []byte) ([]string, error)
		// Compile builds the unit for the composition named key. Node
		// classes are resolved through lookup; unresolvable ones fail the
		// compile with a *diag.Error.
		Compile(ctx context.Context, key string, src []byte, lookup Lookup) (*ir.Unit, error)
	}

	// Composition is a decoded composition source.
	Composition struct {
		Title       string            `json:"title"`
		Description string            `json:"description,omitempty"`
		Keywords    []string          `json:"keywords,omitempty"`
		Nodes       map[string]string `json:"nodes"`
	}

	// CUECompiler compiles CUE composition sources.
	CUECompiler struct{}
)

// Parse validates and decodes a composition source.
func Parse(src []byte, filename string) (*Composition, error) {
	result, err := cueutil.ParseAndDecode[Composition](compositionSchema, src, "#Composition",
		cueutil.WithFilename(filename))
	if err != nil {
		return nil, err
	}
	return result.Value, nil
}

// ClassKeys returns the distinct node class keys, sorted.
func (c *Composition) ClassKeys() []string {
	keys := slices.Sorted(maps.Values(c.Nodes))
	return slices.Compact(keys)
}

// ContainedKeys implements Compiler.
func (CUECompiler) ContainedKeys(src []byte) ([]string, error) {
	c, err := Parse(src, "")
	if err != nil {
		return nil, err
	}
	return c.ClassKeys(), nil
}

// Compile implements Compiler. The unit's event function calls the isolated
// event function of every contained node class, and its metadata lists the
// classes as dependencies with the intersection of their compatibility.
func (CUECompiler) Compile(ctx context.Context, key string, src []byte, lookup Lookup) (*ir.Unit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := Parse(src, key+FileExt)
	if err != nil {
		return nil, diag.List{
			diag.Errorf(diag.CodeCompileFailed, "composition %s is invalid", key).WithModule(key).WithCause(err),
		}.Err()
	}

	var (
		diags   diag.List
		entries []string
		sets    []compat.Set
	)
	for _, dep := range c.ClassKeys() {
		m, ok := lookup(dep)
		switch {
		case !ok:
			diags = append(diags, diag.Errorf(diag.CodeDependencyUnresolved,
				"node class %q used by %s is not loaded", dep, key).WithModule(key))
		case !module.IsNodeClass(m.Kind()):
			diags = append(diags, diag.Errorf(diag.CodeCompileFailed,
				"%q used by %s is a %s, not a node class", dep, key, m.Kind()).WithModule(key))
		default:
			entries = append(entries, m.IsolatedSymbol(eventSymbol(m.Kind())))
			sets = append(sets, m.Compatibility())
		}
	}
	if err := diags.Err(); err != nil {
		return nil, err
	}

	md := module.Metadata{
		Title:         c.Title,
		Description:   c.Description,
		Keywords:      c.Keywords,
		Dependencies:  c.ClassKeys(),
		Compatibility: compat.IntersectAll(sets...),
	}
	raw, err := md.Encode()
	if err != nil {
		return nil, fmt.Errorf("encoding metadata for %s: %w", key, err)
	}

	u := ir.NewUnit(key)
	if err := u.Define(ir.Symbol{Name: module.MetadataSymbol, Kind: ir.Variable, Initializer: raw}); err != nil {
		return nil, err
	}
	if err := u.Define(ir.Symbol{Name: "nodeEvent", Kind: ir.Function, Refs: entries}); err != nil {
		return nil, err
	}
	for _, e := range entries {
		u.Declare(e, ir.Function)
	}
	return u, nil
}

func eventSymbol(k module.Kind) string {
	var nc module.NodeClass
	switch k := k.(type) {
	case module.NodeClass:
		nc = k
	case module.Specialized:
		nc = k.NodeClass
	}
	if nc.Stateful {
		return "nodeInstanceEvent"
	}
	return "nodeEvent"
}
