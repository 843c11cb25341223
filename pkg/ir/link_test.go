// SPDX-License-Identifier: MPL-2.0

package ir

import (
	"errors"
	"slices"
	"testing"
)

func TestLink_DuplicateExternal(t *testing.T) {
	t.Parallel()
	a := sampleUnit(t, "a")
	b := sampleUnit(t, "b")

	_, err := Link("program", a, b)
	var dup *DuplicateSymbolError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateSymbolError, got %v", err)
	}
	if dup.Symbol != "nodeEvent" || dup.First != "a" || dup.Second != "b" {
		t.Errorf("unexpected error detail: %+v", dup)
	}
}

func TestLink_InternalSymbolsStayPrivate(t *testing.T) {
	t.Parallel()
	a := NewUnit("a")
	mustDefine(t, a, Symbol{Name: "a_entry", Refs: []string{"helper"}})
	mustDefine(t, a, Symbol{Name: "helper", Linkage: Internal})
	b := NewUnit("b")
	mustDefine(t, b, Symbol{Name: "b_entry", Refs: []string{"helper"}})
	mustDefine(t, b, Symbol{Name: "helper", Linkage: Internal})

	out, err := Link("program", a, b)
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	if out.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", out.Len())
	}
	entry, _ := out.Lookup("b_entry")
	if slices.Contains(entry.Refs, "helper") {
		t.Errorf("b_entry still refers to a's helper: %v", entry.Refs)
	}
	if !out.Reachable("a_entry") || !out.Reachable("b_entry") {
		t.Error("entry points should be reachable after linking")
	}
	if _, ok := b.Lookup("helper"); !ok {
		t.Error("Link modified its input")
	}
}

func TestLink_ResolvesDeclarations(t *testing.T) {
	t.Parallel()
	app := NewUnit("app")
	mustDefine(t, app, Symbol{Name: "main", Refs: []string{"printf"}})
	app.Declare("printf", Function)
	libc := NewUnit("libc")
	mustDefine(t, libc, Symbol{Name: "printf"})

	out, err := Link("program", app, libc)
	if err != nil {
		t.Fatal(err)
	}
	if got := out.Undefined(); len(got) != 0 {
		t.Errorf("Undefined() = %v, want none", got)
	}

	alone, err := Link("program", app)
	if err != nil {
		t.Fatal(err)
	}
	if got := alone.Undefined(); !slices.Equal(got, []string{"printf"}) {
		t.Errorf("Undefined() = %v, want [printf]", got)
	}
}
