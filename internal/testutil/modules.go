// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/invowk/modlink/pkg/ir"
)

// Unit kinds understood by ModuleUnit.
const (
	KindNode     = "node"
	KindStateful = "stateful"
	KindTrigger  = "trigger"
	KindType     = "type"
	KindLibrary  = "library"
	// KindPlain builds a unit without the metadata symbol.
	KindPlain = "plain"
)

// ModuleSpec describes a unit to build.
type ModuleSpec struct {
	Kind string
	// Metadata is encoded as the metadata symbol's JSON. It is ignored
	// when RawMetadata is set.
	Metadata map[string]any
	// RawMetadata is stored verbatim.
	RawMetadata string
	// Helpers are internal functions the entry point references. Modules
	// built with the same helper names collide unless linked separately.
	Helpers []string
	// Exports are additional external functions.
	Exports []string
	// Imports are external functions referenced but not defined.
	Imports []string
}

// ModuleUnit builds an IR unit as a compiler would emit it for a module:
// entry points under their well-known, not yet isolated names.
func ModuleUnit(t testing.TB, name string, spec ModuleSpec) *ir.Unit {
	t.Helper()
	u := ir.NewUnit(name)
	define := func(s ir.Symbol) {
		t.Helper()
		if err := u.Define(s); err != nil {
			t.Fatalf("building unit %s: %v", name, err)
		}
	}

	if spec.Kind != KindPlain {
		raw := []byte(spec.RawMetadata)
		if spec.RawMetadata == "" {
			md := spec.Metadata
			if md == nil {
				md = map[string]any{}
			}
			var err error
			if raw, err = json.Marshal(md); err != nil {
				t.Fatalf("encoding metadata for %s: %v", name, err)
			}
		}
		define(ir.Symbol{Name: "moduleDetails", Kind: ir.Variable, Initializer: raw})
	}

	refs := append(append([]string{}, spec.Helpers...), spec.Imports...)
	switch spec.Kind {
	case KindNode:
		define(ir.Symbol{Name: "nodeEvent", Kind: ir.Function, Refs: refs})
	case KindStateful:
		define(ir.Symbol{Name: "nodeInstanceEvent", Kind: ir.Function, Refs: refs})
		define(ir.Symbol{Name: "nodeInstanceInit", Kind: ir.Function})
		define(ir.Symbol{Name: "nodeInstanceFini", Kind: ir.Function})
	case KindTrigger:
		define(ir.Symbol{Name: "nodeInstanceEvent", Kind: ir.Function, Refs: refs})
		define(ir.Symbol{Name: "nodeInstanceTriggerStart", Kind: ir.Function})
		define(ir.Symbol{Name: "nodeInstanceTriggerStop", Kind: ir.Function})
	case KindType:
		define(ir.Symbol{Name: "makeFromJson", Kind: ir.Function, Refs: refs})
		define(ir.Symbol{Name: "getJson", Kind: ir.Function})
	default:
		if len(refs) > 0 {
			define(ir.Symbol{Name: name + "_init", Kind: ir.Function, Refs: refs})
		}
	}
	for _, h := range spec.Helpers {
		define(ir.Symbol{Name: h, Kind: ir.Function, Linkage: ir.Internal})
	}
	for _, e := range spec.Exports {
		define(ir.Symbol{Name: e, Kind: ir.Function})
	}
	for _, imp := range spec.Imports {
		u.Declare(imp, ir.Function)
	}
	return u
}

// ModuleBytes encodes a unit built by ModuleUnit.
func ModuleBytes(t testing.TB, name string, spec ModuleSpec) []byte {
	t.Helper()
	data, err := ModuleUnit(t, name, spec).MarshalBinary()
	if err != nil {
		t.Fatalf("encoding unit %s: %v", name, err)
	}
	return data
}

// WriteModule writes a unit built by ModuleUnit to dir/fileName and returns
// the path.
func WriteModule(t testing.TB, dir, fileName, name string, spec ModuleSpec) string {
	t.Helper()
	path := filepath.Join(dir, fileName)
	MustWriteFile(t, path, ModuleBytes(t, name, spec))
	return path
}
