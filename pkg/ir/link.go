// SPDX-License-Identifier: MPL-2.0

package ir

import (
	"fmt"
	"strconv"
)

// DuplicateSymbolError reports two units defining the same external symbol.
type DuplicateSymbolError struct {
	Symbol string
	First  string
	Second string
}

func (e *DuplicateSymbolError) Error() string {
	return fmt.Sprintf("duplicate symbol %q defined in %s and %s", e.Symbol, e.First, e.Second)
}

// Link merges units into a new unit called name. External definitions must be
// unique across all inputs; declarations are satisfied by definitions from any
// input. Internal symbols stay private to their unit: when two units use the
// same internal name, later copies get a numeric suffix and their unit's
// references are rewritten. The inputs are not modified.
func Link(name string, units ...*Unit) (*Unit, error) {
	out := NewUnit(name)
	owner := make(map[string]string)
	external := make(map[string]bool)
	for _, u := range units {
		for _, s := range u.symbols {
			if s.Linkage == External {
				external[s.Name] = true
			}
		}
	}
	taken := func(n string) bool {
		_, ok := out.index[n]
		return ok || external[n]
	}

	for ui, u := range units {
		local := u.Clone(u.name)
		renames := make(map[string]string)
		for _, s := range local.symbols {
			if s.Linkage != Internal {
				continue
			}
			if !taken(s.Name) {
				continue
			}
			for n := ui; ; n++ {
				candidate := s.Name + "." + strconv.Itoa(n)
				if !taken(candidate) && !local.has(candidate) {
					renames[s.Name] = candidate
					break
				}
			}
		}
		for from, to := range renames {
			local.symbols[local.index[from]].Name = to
		}
		local.rewriteRefs(renames)

		for _, s := range local.symbols {
			i, exists := out.index[s.Name]
			switch {
			case !exists:
				out.index[s.Name] = len(out.symbols)
				out.symbols = append(out.symbols, s)
				if s.Defined {
					owner[s.Name] = u.name
				}
			case !s.Defined:
				// Declaration of something already present.
			case !out.symbols[i].Defined:
				out.symbols[i] = s
				owner[s.Name] = u.name
			default:
				return nil, &DuplicateSymbolError{Symbol: s.Name, First: owner[s.Name], Second: u.name}
			}
		}
	}
	return out, nil
}

func (u *Unit) has(name string) bool {
	_, ok := u.index[name]
	return ok
}
