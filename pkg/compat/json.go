// SPDX-License-Identifier: MPL-2.0

package compat

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ruleJSON is the wire form of a restricted platform.
type ruleJSON struct {
	Arch []string `json:"arch,omitempty"`
	Min  string   `json:"min,omitempty"`
	Max  string   `json:"max,omitempty"`
}

// MarshalJSON encodes s as null (unrestricted) or an object mapping platform
// keys to false or {"arch": [...], "min": "...", "max": "..."}.
func (s Set) MarshalJSON() ([]byte, error) {
	if s.IsUnrestricted() {
		return []byte("null"), nil
	}
	out := make(map[string]any, len(s.rules))
	for p, r := range s.rules {
		if r.Incompatible {
			out[p] = false
			continue
		}
		out[p] = ruleJSON{Arch: r.Architectures, Min: r.Min, Max: r.Max}
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the encoding produced by MarshalJSON. A platform
// value of true or null is accepted and means "no restriction".
func (s *Set) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*s = Set{}
		return nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("compatibility: %w", err)
	}
	rules := make(map[string]Rule, len(raw))
	for p, value := range raw {
		if bytes.Equal(bytes.TrimSpace(value), []byte("null")) {
			continue
		}
		var flag bool
		if err := json.Unmarshal(value, &flag); err == nil {
			if !flag {
				rules[p] = Rule{Incompatible: true}
			}
			continue
		}
		var rj ruleJSON
		if err := json.Unmarshal(value, &rj); err != nil {
			return fmt.Errorf("compatibility: platform %q: %w", p, err)
		}
		for _, v := range []string{rj.Min, rj.Max} {
			if v == "" {
				continue
			}
			if _, err := parseVersion(v); err != nil {
				return fmt.Errorf("compatibility: platform %q: %w", p, err)
			}
		}
		rules[p] = Rule{Architectures: rj.Arch, Min: rj.Min, Max: rj.Max}
	}
	*s = New(rules)
	return nil
}

// Parse decodes a JSON compatibility description.
func Parse(data []byte) (Set, error) {
	var s Set
	if err := s.UnmarshalJSON(data); err != nil {
		return Set{}, err
	}
	return s, nil
}
