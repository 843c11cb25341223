// SPDX-License-Identifier: MPL-2.0

package compat

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestJSON_RoundTrip(t *testing.T) {
	t.Parallel()
	inputs := []string{
		`null`,
		`{"macos":false}`,
		`{"linux":{"arch":["arm64","x86_64"],"min":"5.4"},"windows":false}`,
	}
	for _, in := range inputs {
		set, err := Parse([]byte(in))
		if err != nil {
			t.Fatalf("Parse(%s): %v", in, err)
		}
		out, err := json.Marshal(set)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if string(out) != in {
			t.Errorf("Marshal(Parse(%s)) = %s", in, out)
		}
	}
}

func TestJSON_InvalidVersion(t *testing.T) {
	t.Parallel()
	_, err := Parse([]byte(`{"macos": {"min": "ten"}}`))
	if !errors.Is(err, ErrInvalidVersion) {
		t.Errorf("expected ErrInvalidVersion, got %v", err)
	}
}

func TestJSON_EmbeddedField(t *testing.T) {
	t.Parallel()
	var doc struct {
		Compatibility Set `json:"compatibility"`
	}
	if err := json.Unmarshal([]byte(`{"compatibility": {"linux": {"arch": ["arm64"]}}}`), &doc); err != nil {
		t.Fatal(err)
	}
	if doc.Compatibility.SupportsArchitecture("linux", "x86_64") {
		t.Error("x86_64 should be excluded on linux")
	}
}
