// SPDX-License-Identifier: MPL-2.0

package linkplan

import (
	"context"
	"path/filepath"
	"slices"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/invowk/modlink/internal/metrics"
	"github.com/invowk/modlink/internal/testutil"
	"github.com/invowk/modlink/pkg/diag"
	"github.com/invowk/modlink/pkg/module"
)

type fakeCache struct {
	path    string
	keys    []string
	builtIn bool
}

func (c fakeCache) Path() string             { return c.path }
func (c fakeCache) Contains(key string) bool { return slices.Contains(c.keys, key) }
func (c fakeCache) BuiltIn() bool            { return c.builtIn }

type scopeMap map[string]Resolution

func (s scopeMap) Resolve(key string) (Resolution, bool) {
	r, ok := s[key]
	return r, ok
}

func newModule(t *testing.T, key, kind, path string, md map[string]any) *module.Module {
	t.Helper()
	m, err := module.New(key, testutil.ModuleUnit(t, key, testutil.ModuleSpec{Kind: kind, Metadata: md}), module.Options{Path: path})
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestBuild_CacheFirst(t *testing.T) {
	t.Parallel()

	blur := newModule(t, "vendor.blur", testutil.KindNode, "", nil)
	resolver := scopeMap{"vendor.blur": {Module: blur, BuiltIn: true}}
	caches := []CacheEntry{fakeCache{path: "/cache/builtin.mlcache", keys: []string{"vendor.blur", module.RuntimeKey}, builtIn: true}}

	plan, err := Build(context.Background(), []string{"vendor.blur"}, caches, resolver, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if got := plan.Caches(true); !slices.Equal(got, []string{"/cache/builtin.mlcache"}) {
		t.Errorf("Caches(true) = %v", got)
	}
	if len(plan.Modules(true)) != 0 || len(plan.Modules(false)) != 0 {
		t.Error("a key satisfied by a cache must not also be linked individually")
	}
}

func TestBuild_ModuleCategories(t *testing.T) {
	t.Parallel()

	node := newModule(t, "vendor.node", testutil.KindNode, "/mods/vendor.node.mlm", nil)
	lib := newModule(t, "vendor.lib", testutil.KindLibrary, "/mods/vendor.lib.mlm", nil)
	typ := newModule(t, "vendor.type", testutil.KindType, "/builtin/vendor.type.mlm", nil)
	gen := newModule(t, "vendor.generated", testutil.KindLibrary, "/tmp/vendor.generated.mlm", nil)
	generic := newModule(t, "vendor.hold", testutil.KindNode, "", map[string]any{
		"genericTypes": map[string]any{"T": map[string]any{"defaultType": "Real"}},
	})
	resolver := scopeMap{
		"vendor.node":      {Module: node},
		"vendor.lib":       {Module: lib},
		"vendor.type":      {Module: typ, BuiltIn: true},
		"vendor.generated": {Module: gen, Generated: true},
		"vendor.hold":      {Module: generic},
	}
	caches := []CacheEntry{fakeCache{path: "/cache/runtime.mlcache", keys: []string{module.RuntimeKey}, builtIn: true}}

	plan, err := Build(context.Background(),
		[]string{"vendor.node", "vendor.lib", "vendor.type", "vendor.generated", "vendor.hold"},
		caches, resolver, Options{})
	if err != nil {
		t.Fatal(err)
	}

	if got := plan.ModuleFiles(false); !slices.Equal(got, []string{"/mods/vendor.lib.mlm"}) {
		t.Errorf("ModuleFiles(false) = %v", got)
	}
	if got := plan.ModuleFiles(true); !slices.Equal(got, []string{"/builtin/vendor.type.mlm"}) {
		t.Errorf("ModuleFiles(true) = %v", got)
	}
	if got := plan.ModuleKeys(); !slices.Equal(got, []string{"vendor.generated", "vendor.node"}) {
		t.Errorf("ModuleKeys() = %v", got)
	}
	if got := plan.Skipped(); !slices.Equal(got, []string{"vendor.hold"}) {
		t.Errorf("Skipped() = %v", got)
	}
	if len(plan.Diagnostics()) != 0 {
		t.Errorf("unexpected diagnostics %v", plan.Diagnostics())
	}
}

func TestBuild_ExternalDependencies(t *testing.T) {
	t.Parallel()

	libDir := t.TempDir()
	testutil.MustWriteFile(t, filepath.Join(libDir, "libz.a"), []byte("!<arch>"))
	testutil.MustWriteFile(t, filepath.Join(libDir, "modlink.runtime.mlm"), []byte("x"))
	testutil.MustWriteFile(t, filepath.Join(libDir, "libmodlink.runtime.main.a"), []byte("x"))

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	plan, err := Build(context.Background(),
		[]string{"z", "AppKit.framework", "vendor.missing", "m", "pthread"},
		nil, ResolverFunc(func(string) (Resolution, bool) { return Resolution{}, false }),
		Options{LibrarySearchPaths: []string{t.TempDir(), libDir}, Executable: true, Metrics: m})
	if err != nil {
		t.Fatal(err)
	}

	wantLibs := []string{
		filepath.Join(libDir, "modlink.runtime.mlm"),
		filepath.Join(libDir, "libmodlink.runtime.main.a"),
		filepath.Join(libDir, "libz.a"),
	}
	if got := plan.ExternalLibraries(); !slices.Equal(got, wantLibs) {
		t.Errorf("ExternalLibraries() = %v, want %v", got, wantLibs)
	}
	if got := plan.Frameworks(); !slices.Equal(got, []string{"AppKit"}) {
		t.Errorf("Frameworks() = %v", got)
	}
	if got := plan.Unresolved(); !slices.Equal(got, []string{"m", "pthread", "vendor.missing"}) {
		t.Errorf("Unresolved() = %v", got)
	}

	diags := plan.Diagnostics()
	if len(diags) != 1 {
		t.Fatalf("expected one warning, got %v", diags)
	}
	if diags[0].Severity != diag.SeverityWarning || diags[0].Code != diag.CodeDependencyUnresolved || diags[0].ModuleKey != "vendor.missing" {
		t.Errorf("unexpected diagnostic %+v", diags[0])
	}
	if n := counterValue(t, reg, "modlink_unresolved_dependencies_total"); n != 1 {
		t.Errorf("unresolved metric = %v, want 1", n)
	}
}

func TestBuild_Canceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Build(ctx, []string{"a"}, nil, scopeMap{}, Options{}); err == nil {
		t.Error("expected context error")
	}
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range families {
		if f.GetName() == name && len(f.GetMetric()) == 1 {
			return f.GetMetric()[0].GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}
