// SPDX-License-Identifier: MPL-2.0

package module

import (
	"maps"
	"slices"
	"strings"

	"github.com/invowk/modlink/pkg/ir"
)

// MetadataSymbol is the global every module defines; its initializer holds
// the module's JSON metadata.
const MetadataSymbol = "moduleDetails"

// Node class entry points.
const (
	symNodeEvent                  = "nodeEvent"
	symNodeInstanceEvent          = "nodeInstanceEvent"
	symNodeInstanceInit           = "nodeInstanceInit"
	symNodeInstanceFini           = "nodeInstanceFini"
	symNodeInstanceTriggerStart   = "nodeInstanceTriggerStart"
	symNodeInstanceTriggerUpdate  = "nodeInstanceTriggerUpdate"
	symNodeInstanceTriggerStop    = "nodeInstanceTriggerStop"
	symNodeInstanceCallbackStart  = "nodeInstanceCallbackStart"
	symNodeInstanceCallbackUpdate = "nodeInstanceCallbackUpdate"
	symNodeInstanceCallbackStop   = "nodeInstanceCallbackStop"
	symMakeFromJSON               = "makeFromJson"
	symGetJSON                    = "getJson"
	symGetSummary                 = "getSummary"
)

// isolatedSymbols lists the globals renamed under the module key. Every
// module defines some of them under the same names, so they would collide
// when two modules are linked together.
var isolatedSymbols = []string{
	MetadataSymbol,
	symNodeEvent,
	symNodeInstanceEvent,
	symNodeInstanceInit,
	symNodeInstanceFini,
	symNodeInstanceTriggerStart,
	symNodeInstanceTriggerUpdate,
	symNodeInstanceTriggerStop,
	symNodeInstanceCallbackStart,
	symNodeInstanceCallbackUpdate,
	symNodeInstanceCallbackStop,
	symMakeFromJSON,
	symGetJSON,
	symGetSummary,
}

// IsolatedSymbols returns the names renamed during isolation.
func IsolatedSymbols() []string {
	return slices.Clone(isolatedSymbols)
}

type (
	// Kind classifies a module. The concrete types are NodeClass, Type,
	// Library and Specialized; no other implementations exist.
	Kind interface {
		isKind()
		String() string
	}

	// NodeClass is a module defining a node's event function.
	NodeClass struct {
		// Stateful is set when the node keeps per-instance data.
		Stateful bool
		// Triggers is set when the node fires events on its own.
		Triggers bool
	}

	// Type is a module defining a port data type.
	Type struct{}

	// Library is any other module.
	Library struct{}

	// Specialized is a node class generated from a generic node class by
	// substituting concrete types for its type parameters.
	Specialized struct {
		NodeClass
		Generic string
		Types   map[string]string
	}
)

func (NodeClass) isKind()   {}
func (Type) isKind()        {}
func (Library) isKind()     {}
func (Specialized) isKind() {}

func (NodeClass) String() string { return "node class" }
func (Type) String() string      { return "type" }
func (Library) String() string   { return "library" }

func (s Specialized) String() string {
	params := slices.Sorted(maps.Keys(s.Types))
	pairs := make([]string, len(params))
	for i, p := range params {
		pairs[i] = p + "=" + s.Types[p]
	}
	return "specialization of " + s.Generic + " (" + strings.Join(pairs, ", ") + ")"
}

// IsNodeClass reports whether k is a node class or a specialization of one.
func IsNodeClass(k Kind) bool {
	switch k.(type) {
	case NodeClass, Specialized:
		return true
	default:
		return false
	}
}

// kindsEqual compares kinds including specialization arguments.
func kindsEqual(a, b Kind) bool {
	sa, aok := a.(Specialized)
	sb, bok := b.(Specialized)
	if aok || bok {
		return aok && bok && sa.Generic == sb.Generic && sa.NodeClass == sb.NodeClass && maps.Equal(sa.Types, sb.Types)
	}
	return a == b
}

// detectKind classifies an isolated unit from the entry points it defines
// and the specialization recorded in its metadata.
func detectKind(key string, unit *ir.Unit, md Metadata) Kind {
	has := func(sym string) bool {
		s, ok := unit.Lookup(MangleSymbol(sym, key))
		return ok && s.Defined
	}
	switch {
	case has(symNodeEvent) || has(symNodeInstanceEvent):
		nc := NodeClass{
			Stateful: has(symNodeInstanceEvent),
			Triggers: has(symNodeInstanceTriggerStart) || has(symNodeInstanceCallbackStart),
		}
		if md.SpecializedFrom != "" {
			return Specialized{NodeClass: nc, Generic: md.SpecializedFrom, Types: maps.Clone(md.SpecializedTypes)}
		}
		return nc
	case has(symMakeFromJSON):
		return Type{}
	default:
		return Library{}
	}
}
