// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"fmt"
	"slices"
)

// Scope is one layer of module visibility. Scopes are ordered broadest
// first; when a key exists in several scopes the narrowest one is active.
type Scope int

const (
	// ScopeBuiltIn holds modules shipped with the application.
	ScopeBuiltIn Scope = iota
	// ScopeSystem holds modules installed for every user.
	ScopeSystem
	// ScopeUser holds modules installed for the current user.
	ScopeUser
	// ScopeComposition holds modules local to the open composition.
	ScopeComposition

	numScopes = int(ScopeComposition) + 1
)

// SubScope splits a scope into modules read from disk and modules the
// registry synthesized itself.
type SubScope int

const (
	// Installed modules come from files in the scope's search paths.
	Installed SubScope = iota
	// Generated modules are compiled compositions and generic
	// specializations.
	Generated

	numSubScopes = int(Generated) + 1
)

// Scopes returns every scope, broadest first.
func Scopes() []Scope {
	return []Scope{ScopeBuiltIn, ScopeSystem, ScopeUser, ScopeComposition}
}

// narrowestFirst returns every scope, narrowest first.
func narrowestFirst() []Scope {
	s := Scopes()
	slices.Reverse(s)
	return s
}

// ParseScope parses a scope name as returned by String.
func ParseScope(name string) (Scope, error) {
	for _, s := range Scopes() {
		if s.String() == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown scope %q", name)
}

func (s Scope) String() string {
	switch s {
	case ScopeBuiltIn:
		return "builtin"
	case ScopeSystem:
		return "system"
	case ScopeUser:
		return "user"
	case ScopeComposition:
		return "composition"
	default:
		return fmt.Sprintf("Scope(%d)", int(s))
	}
}

// Cacheable reports whether the scope gets a cache artifact. Composition
// modules change too often to be worth caching.
func (s Scope) Cacheable() bool {
	return s != ScopeComposition
}

func (s SubScope) String() string {
	if s == Generated {
		return "generated"
	}
	return "installed"
}

// Location identifies one sub-scope.
type Location struct {
	Scope    Scope
	SubScope SubScope
}

func (l Location) String() string {
	return l.Scope.String() + "/" + l.SubScope.String()
}

// State is the lifecycle state of a key within one scope.
type State int

const (
	// StateUnloaded means the key is known from a file name but its unit has
	// not been read.
	StateUnloaded State = iota
	// StateLoading means the unit is being read or compiled.
	StateLoading
	// StateLoaded means a module record is installed.
	StateLoaded
	// StateInvalidated means an upstream change requires the module to be
	// reloaded or recompiled.
	StateInvalidated
	// StateRemoved means the backing file is gone.
	StateRemoved
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateInvalidated:
		return "invalidated"
	case StateRemoved:
		return "removed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}
