// SPDX-License-Identifier: MPL-2.0

package cachestore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/invowk/modlink/pkg/ir"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Options{InMemory: true})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_PutGet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openMemory(t)
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	in := Manifest{
		Target:       "x86_64-apple-macosx10.15.0",
		Tier:         "user",
		ArtifactPath: "/cache/user.mlcache",
		Keys:         []string{"vendor.b", "vendor.a", "vendor.b"},
		Hashes:       map[string]string{"vendor.a": "aa", "vendor.b": "bb"},
		Created:      created,
	}
	if err := s.Put(ctx, in); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, ok, err := s.Get(ctx, in.Target, "user")
	if err != nil || !ok {
		t.Fatalf("Get() = %v, %v", ok, err)
	}
	want := in
	want.Keys = []string{"vendor.a", "vendor.b"}
	if diff := cmp.Diff(want, got, cmpopts.EquateApproxTime(0)); diff != "" {
		t.Errorf("Get() mismatch (-want +got):\n%s", diff)
	}
	if !got.Contains("vendor.a") || got.Contains("vendor.c") {
		t.Error("Contains() disagrees with Keys")
	}

	if _, ok, err := s.Get(ctx, in.Target, "system"); err != nil || ok {
		t.Errorf("Get(missing) = %v, %v", ok, err)
	}
}

func TestStore_ListDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openMemory(t)
	for _, m := range []Manifest{
		{Target: "arm64-apple-macosx11.0.0", Tier: "user"},
		{Target: "arm64-apple-macosx11.0.0", Tier: "builtin", BuiltInTier: true},
		{Target: "x86_64-apple-macosx10.15.0", Tier: "user"},
	} {
		if err := s.Put(ctx, m); err != nil {
			t.Fatal(err)
		}
	}

	list, err := s.List(ctx, "arm64-apple-macosx11.0.0")
	if err != nil {
		t.Fatal(err)
	}
	var tiers []string
	for _, m := range list {
		tiers = append(tiers, m.Tier)
	}
	if diff := cmp.Diff([]string{"builtin", "user"}, tiers); diff != "" {
		t.Errorf("List() tiers mismatch (-want +got):\n%s", diff)
	}

	n, err := s.Delete(ctx, "arm64-apple-macosx11.0.0")
	if err != nil || n != 2 {
		t.Fatalf("Delete() = %d, %v", n, err)
	}
	if list, _ := s.List(ctx, "arm64-apple-macosx11.0.0"); len(list) != 0 {
		t.Errorf("List() after Delete = %v", list)
	}
	if list, _ := s.List(ctx, "x86_64-apple-macosx10.15.0"); len(list) != 1 {
		t.Errorf("Delete removed another target's manifests: %v", list)
	}
}

func TestStore_Errors(t *testing.T) {
	t.Parallel()

	s := openMemory(t)
	if err := s.Put(context.Background(), Manifest{Tier: "user"}); !errors.Is(err, ErrInvalidManifest) {
		t.Errorf("Put() without target error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := s.Get(ctx, "t", "user"); !errors.Is(err, context.Canceled) {
		t.Errorf("Get() with canceled context error = %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(context.Background(), Manifest{Target: "t", Tier: "user"}); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("Put() after Close error = %v", err)
	}
}

func TestStore_Persistent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()
	s, err := Open(Options{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, Manifest{Target: "t", Tier: "system", Keys: []string{"k"}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = Open(Options{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = s.Close() }()
	m, ok, err := s.Get(ctx, "t", "system")
	if err != nil || !ok || !m.Contains("k") {
		t.Errorf("reopened Get() = %+v, %v, %v", m, ok, err)
	}
}

func TestStale(t *testing.T) {
	t.Parallel()

	m := Manifest{Keys: []string{"a", "b"}, Hashes: map[string]string{"a": "1", "b": "2"}}
	tests := []struct {
		name    string
		current map[string]string
		want    bool
	}{
		{"unchanged", map[string]string{"a": "1", "b": "2"}, false},
		{"modified", map[string]string{"a": "1", "b": "3"}, true},
		{"added", map[string]string{"a": "1", "b": "2", "c": "4"}, true},
		{"removed", map[string]string{"a": "1"}, true},
		{"replaced", map[string]string{"a": "1", "c": "2"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Stale(m, tt.current); got != tt.want {
				t.Errorf("Stale() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestArtifactRoundTrip(t *testing.T) {
	t.Parallel()

	u := ir.NewUnit("cache")
	if err := u.Define(ir.Symbol{Name: "entry", Kind: ir.Function, Refs: []string{"helper"}}); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "nested", ArtifactName("t", "user"))
	if err := WriteArtifact(path, u); err != nil {
		t.Fatalf("WriteArtifact() error = %v", err)
	}
	got, err := ReadArtifact(path)
	if err != nil {
		t.Fatalf("ReadArtifact() error = %v", err)
	}
	if got.Hash() != u.Hash() {
		t.Error("artifact round trip changed the unit")
	}
}
