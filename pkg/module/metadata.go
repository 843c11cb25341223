// SPDX-License-Identifier: MPL-2.0

package module

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/invowk/modlink/pkg/compat"
	"github.com/invowk/modlink/pkg/cueutil"
)

//go:embed metadata_schema.cue
var metadataSchema []byte

type (
	// Metadata is the decoded content of a module's metadata symbol.
	Metadata struct {
		Title         string     `json:"title,omitempty"`
		Description   string     `json:"description,omitempty"`
		Version       string     `json:"version,omitempty"`
		Keywords      []string   `json:"keywords,omitempty"`
		Dependencies  []string   `json:"dependencies,omitempty"`
		Compatibility compat.Set `json:"compatibility"`
		// GenericTypes maps each type parameter of a generic node class to
		// its substitution rule.
		GenericTypes map[string]GenericType `json:"genericTypes,omitempty"`
		// SpecializedFrom and SpecializedTypes are set on units produced by
		// Specialize.
		SpecializedFrom  string            `json:"specializedFrom,omitempty"`
		SpecializedTypes map[string]string `json:"specializedTypes,omitempty"`
	}

	// GenericType constrains one type parameter.
	GenericType struct {
		DefaultType string `json:"defaultType,omitempty"`
		// CompatibleTypes lists the allowed concrete types; empty allows any.
		CompatibleTypes []string `json:"compatibleTypes,omitempty"`
	}
)

// metadataDoc is the schema-validated form of Metadata. The compatibility
// value is kept generic and handed to compat.Parse afterwards.
type metadataDoc struct {
	Title            string                 `json:"title,omitempty"`
	Description      string                 `json:"description,omitempty"`
	Version          string                 `json:"version,omitempty"`
	Keywords         []string               `json:"keywords,omitempty"`
	Dependencies     []string               `json:"dependencies,omitempty"`
	Compatibility    any                    `json:"compatibility,omitempty"`
	GenericTypes     map[string]GenericType `json:"genericTypes,omitempty"`
	SpecializedFrom  string                 `json:"specializedFrom,omitempty"`
	SpecializedTypes map[string]string      `json:"specializedTypes,omitempty"`
}

// ParseMetadata validates and decodes raw metadata JSON. name identifies the
// source in error messages.
func ParseMetadata(raw []byte, name string) (Metadata, error) {
	if len(raw) == 0 {
		return Metadata{}, nil
	}
	result, err := cueutil.ParseAndDecode[metadataDoc](metadataSchema, raw, "#Metadata", cueutil.WithFilename(name))
	if err != nil {
		return Metadata{}, err
	}
	doc := result.Value
	md := Metadata{
		Title:            doc.Title,
		Description:      doc.Description,
		Version:          doc.Version,
		Keywords:         doc.Keywords,
		Dependencies:     doc.Dependencies,
		GenericTypes:     doc.GenericTypes,
		SpecializedFrom:  doc.SpecializedFrom,
		SpecializedTypes: doc.SpecializedTypes,
	}
	if c := doc.Compatibility; c != nil {
		data, err := json.Marshal(c)
		if err != nil {
			return Metadata{}, fmt.Errorf("%s: compatibility: %w", name, err)
		}
		if md.Compatibility, err = compat.Parse(data); err != nil {
			return Metadata{}, fmt.Errorf("%s: %w", name, err)
		}
	}
	md.Dependencies = normalizeKeys(md.Dependencies)
	return md, nil
}

// Encode renders the metadata as the JSON stored in a module's metadata symbol.
func (m Metadata) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}
	return data, nil
}

// Equal reports whether two metadata values carry the same information.
func (m Metadata) Equal(o Metadata) bool {
	return m.Title == o.Title &&
		m.Description == o.Description &&
		m.Version == o.Version &&
		slices.Equal(m.Keywords, o.Keywords) &&
		slices.Equal(m.Dependencies, o.Dependencies) &&
		m.Compatibility.Equal(o.Compatibility) &&
		maps.EqualFunc(m.GenericTypes, o.GenericTypes, func(a, b GenericType) bool {
			return a.DefaultType == b.DefaultType && slices.Equal(a.CompatibleTypes, b.CompatibleTypes)
		}) &&
		m.SpecializedFrom == o.SpecializedFrom &&
		maps.Equal(m.SpecializedTypes, o.SpecializedTypes)
}

// IsGeneric reports whether the metadata declares type parameters.
func (m Metadata) IsGeneric() bool {
	return len(m.GenericTypes) > 0
}

func (m Metadata) clone() Metadata {
	m.Keywords = slices.Clone(m.Keywords)
	m.Dependencies = slices.Clone(m.Dependencies)
	if m.GenericTypes != nil {
		gt := make(map[string]GenericType, len(m.GenericTypes))
		for k, v := range m.GenericTypes {
			v.CompatibleTypes = slices.Clone(v.CompatibleTypes)
			gt[k] = v
		}
		m.GenericTypes = gt
	}
	m.SpecializedTypes = maps.Clone(m.SpecializedTypes)
	return m
}

// normalizeKeys sorts and deduplicates dependency keys.
func normalizeKeys(keys []string) []string {
	if len(keys) == 0 {
		return nil
	}
	out := slices.Clone(keys)
	slices.Sort(out)
	return slices.Compact(out)
}
