// SPDX-License-Identifier: MPL-2.0

package module

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

var (
	// ErrNotGeneric is returned when specializing a module without type parameters.
	ErrNotGeneric = errors.New("module is not a generic node class")
	// ErrTypeNotAllowed is returned when a concrete type violates a parameter's rule.
	ErrTypeNotAllowed = errors.New("type not allowed for parameter")
)

// SpecializedKey returns the key of generic specialized with types: the
// generic key followed by each concrete type, in type-parameter order.
func SpecializedKey(generic string, types map[string]string) string {
	params := slices.Sorted(maps.Keys(types))
	parts := make([]string, 0, len(params)+1)
	parts = append(parts, generic)
	for _, p := range params {
		parts = append(parts, types[p])
	}
	return strings.Join(parts, ".")
}

// ParseSpecializedKey splits key into the concrete types for the parameters
// of generic. It reports false when key is not a specialization of generic.
func ParseSpecializedKey(key string, generic *Module) (map[string]string, bool) {
	params := slices.Sorted(maps.Keys(generic.metadata.GenericTypes))
	if len(params) == 0 {
		return nil, false
	}
	rest, ok := strings.CutPrefix(key, generic.key+".")
	if !ok {
		return nil, false
	}
	parts := strings.Split(rest, ".")
	if len(parts) != len(params) {
		return nil, false
	}
	types := make(map[string]string, len(params))
	for i, p := range params {
		if parts[i] == "" {
			return nil, false
		}
		types[p] = parts[i]
	}
	return types, true
}

// Specialize derives a node class from generic by substituting concrete types
// for its type parameters. Parameters missing from types use their default.
// The returned module owns a fresh copy of the generic's unit, isolated under
// the specialized key, and records its origin in its metadata.
func Specialize(generic *Module, types map[string]string, opts Options) (*Module, error) {
	if !generic.IsUnspecializedGeneric() {
		return nil, fmt.Errorf("%s: %w", generic.key, ErrNotGeneric)
	}

	resolved := make(map[string]string, len(generic.metadata.GenericTypes))
	for param, rule := range generic.metadata.GenericTypes {
		concrete := types[param]
		if concrete == "" {
			concrete = rule.DefaultType
		}
		switch {
		case concrete == "":
			return nil, fmt.Errorf("%s: no type given for parameter %s and no default", generic.key, param)
		case strings.Contains(concrete, "."):
			return nil, fmt.Errorf("%s: %w: %s=%q contains '.'", generic.key, ErrTypeNotAllowed, param, concrete)
		case len(rule.CompatibleTypes) > 0 && !slices.Contains(rule.CompatibleTypes, concrete):
			return nil, fmt.Errorf("%s: %w: %s=%s (allowed: %s)", generic.key, ErrTypeNotAllowed,
				param, concrete, strings.Join(rule.CompatibleTypes, ", "))
		}
		resolved[param] = concrete
	}
	for param := range types {
		if _, ok := resolved[param]; !ok {
			return nil, fmt.Errorf("%s: unknown type parameter %s", generic.key, param)
		}
	}

	key := SpecializedKey(generic.key, resolved)
	unit := generic.unit.Clone(key)
	for _, sym := range isolatedSymbols {
		if _, ok := unit.Lookup(MangleSymbol(sym, generic.key)); !ok {
			continue
		}
		if err := unit.Rename(MangleSymbol(sym, generic.key), sym); err != nil {
			return nil, fmt.Errorf("specializing %s: %w", key, err)
		}
	}

	md := generic.metadata.clone()
	md.GenericTypes = nil
	md.SpecializedFrom = generic.key
	md.SpecializedTypes = resolved
	deps := make([]string, len(md.Dependencies))
	for i, dep := range md.Dependencies {
		if concrete, ok := resolved[dep]; ok {
			dep = concrete
		}
		deps[i] = dep
	}
	md.Dependencies = normalizeKeys(deps)

	raw, err := md.Encode()
	if err != nil {
		return nil, err
	}
	if err := unit.SetInitializer(MetadataSymbol, raw); err != nil {
		return nil, fmt.Errorf("specializing %s: %w", key, err)
	}

	if opts.SourcePath == "" {
		opts.SourcePath = generic.DependencyPath()
	}
	return New(key, unit, opts)
}
