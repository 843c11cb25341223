// SPDX-License-Identifier: MPL-2.0

package ir

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

const (
	// Function is a code symbol.
	Function SymbolKind = iota
	// Variable is a data symbol.
	Variable
)

const (
	// External symbols are visible to other units at link time.
	External Linkage = iota
	// Internal symbols are private to their unit.
	Internal
)

var (
	// ErrSymbolNotFound is returned when a named symbol does not exist.
	ErrSymbolNotFound = errors.New("symbol not found")
	// ErrSymbolExists is returned when a rename or definition would clobber
	// another symbol.
	ErrSymbolExists = errors.New("symbol already exists")
)

type (
	// SymbolKind distinguishes code from data.
	SymbolKind uint8

	// Linkage controls symbol visibility across units.
	Linkage uint8

	// Symbol is one global in a unit.
	Symbol struct {
		Name    string     `msgpack:"name"`
		Kind    SymbolKind `msgpack:"kind"`
		Linkage Linkage    `msgpack:"linkage"`
		// Defined is false for declarations resolved at link time.
		Defined bool `msgpack:"defined"`
		// Initializer holds the value of a defined variable.
		Initializer []byte `msgpack:"init,omitempty"`
		// Refs names the globals this symbol's body or initializer uses.
		Refs []string `msgpack:"refs,omitempty"`
	}

	// Unit is a compiled binary IR unit. A Unit is not safe for concurrent
	// mutation; the registry mutates units only from its serial queue.
	Unit struct {
		name    string
		symbols []Symbol
		index   map[string]int
	}
)

func (k SymbolKind) String() string {
	switch k {
	case Function:
		return "function"
	case Variable:
		return "variable"
	default:
		return fmt.Sprintf("SymbolKind(%d)", k)
	}
}

func (l Linkage) String() string {
	switch l {
	case External:
		return "external"
	case Internal:
		return "internal"
	default:
		return fmt.Sprintf("Linkage(%d)", l)
	}
}

// NewUnit creates an empty unit. name identifies the unit in errors.
func NewUnit(name string) *Unit {
	return &Unit{name: name, index: make(map[string]int)}
}

// Name returns the unit's identifier.
func (u *Unit) Name() string {
	return u.name
}

// Len returns the number of symbols.
func (u *Unit) Len() int {
	return len(u.symbols)
}

// Symbols returns a copy of the symbol table in definition order.
func (u *Unit) Symbols() []Symbol {
	out := make([]Symbol, len(u.symbols))
	for i, s := range u.symbols {
		out[i] = s.clone()
	}
	return out
}

// Lookup returns the named symbol.
func (u *Unit) Lookup(name string) (Symbol, bool) {
	i, ok := u.index[name]
	if !ok {
		return Symbol{}, false
	}
	return u.symbols[i].clone(), true
}

// Define adds a defined symbol, or completes an existing declaration of the
// same name. Redefining a defined symbol is an error.
func (u *Unit) Define(s Symbol) error {
	if s.Name == "" {
		return fmt.Errorf("%s: define: empty symbol name", u.name)
	}
	s = s.clone()
	s.Defined = true
	if i, ok := u.index[s.Name]; ok {
		if u.symbols[i].Defined {
			return fmt.Errorf("%s: define %q: %w", u.name, s.Name, ErrSymbolExists)
		}
		u.symbols[i] = s
		return nil
	}
	u.index[s.Name] = len(u.symbols)
	u.symbols = append(u.symbols, s)
	return nil
}

// SetInitializer replaces the initializer of a defined variable.
func (u *Unit) SetInitializer(name string, data []byte) error {
	i, ok := u.index[name]
	if !ok || !u.symbols[i].Defined {
		return fmt.Errorf("%s: set initializer %q: %w", u.name, name, ErrSymbolNotFound)
	}
	u.symbols[i].Initializer = slices.Clone(data)
	return nil
}

// Declare adds an external declaration unless the name already exists.
func (u *Unit) Declare(name string, kind SymbolKind) {
	if _, ok := u.index[name]; ok {
		return
	}
	u.index[name] = len(u.symbols)
	u.symbols = append(u.symbols, Symbol{Name: name, Kind: kind, Linkage: External})
}

// Rename changes a symbol's name and rewrites every reference to it.
func (u *Unit) Rename(from, to string) error {
	if from == to {
		return nil
	}
	i, ok := u.index[from]
	if !ok {
		return fmt.Errorf("%s: rename %q: %w", u.name, from, ErrSymbolNotFound)
	}
	if _, ok := u.index[to]; ok {
		return fmt.Errorf("%s: rename %q to %q: %w", u.name, from, to, ErrSymbolExists)
	}
	u.symbols[i].Name = to
	delete(u.index, from)
	u.index[to] = i
	u.rewriteRefs(map[string]string{from: to})
	return nil
}

// Clone returns a deep copy of u under a new name.
func (u *Unit) Clone(name string) *Unit {
	out := &Unit{
		name:    name,
		symbols: make([]Symbol, len(u.symbols)),
		index:   maps.Clone(u.index),
	}
	for i, s := range u.symbols {
		out.symbols[i] = s.clone()
	}
	return out
}

// Undefined returns the sorted names of external symbols that are declared or
// referenced but not defined in u.
func (u *Unit) Undefined() []string {
	seen := make(map[string]bool)
	for _, s := range u.symbols {
		if !s.Defined {
			seen[s.Name] = true
		}
		for _, ref := range s.Refs {
			if _, ok := u.index[ref]; !ok {
				seen[ref] = true
			}
		}
	}
	return slices.Sorted(maps.Keys(seen))
}

// Reachable reports whether name is defined in u and, when it is a function,
// whether every global it references transitively is resolvable inside u.
func (u *Unit) Reachable(name string) bool {
	visited := make(map[string]bool)
	var visit func(string) bool
	visit = func(n string) bool {
		if visited[n] {
			return true
		}
		visited[n] = true
		i, ok := u.index[n]
		if !ok || !u.symbols[i].Defined {
			return false
		}
		for _, ref := range u.symbols[i].Refs {
			if !visit(ref) {
				return false
			}
		}
		return true
	}
	return visit(name)
}

func (u *Unit) rewriteRefs(renames map[string]string) {
	for i := range u.symbols {
		for j, ref := range u.symbols[i].Refs {
			if to, ok := renames[ref]; ok {
				u.symbols[i].Refs[j] = to
			}
		}
	}
}

func (u *Unit) reindex() {
	u.index = make(map[string]int, len(u.symbols))
	for i, s := range u.symbols {
		u.index[s.Name] = i
	}
}

func (s Symbol) clone() Symbol {
	s.Initializer = slices.Clone(s.Initializer)
	s.Refs = slices.Clone(s.Refs)
	return s
}
