// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/invowk/modlink/internal/cachestore"
	"github.com/invowk/modlink/internal/testutil"
	"github.com/invowk/modlink/pkg/compat"
	"github.com/invowk/modlink/pkg/diag"
	"github.com/invowk/modlink/pkg/module"
	"github.com/invowk/modlink/pkg/moduleset"
)

var macTarget = compat.MustParseTriple("x86_64-apple-macosx11.0")

// dirs holds one search path per scope.
type dirs struct {
	builtIn, system, user, composition string
}

func newDirs(t *testing.T) dirs {
	t.Helper()
	return dirs{builtIn: t.TempDir(), system: t.TempDir(), user: t.TempDir(), composition: t.TempDir()}
}

func (d dirs) options() Options {
	return Options{
		SearchPaths: map[Scope][]string{
			ScopeBuiltIn:     {d.builtIn},
			ScopeSystem:      {d.system},
			ScopeUser:        {d.user},
			ScopeComposition: {d.composition},
		},
		Target: macTarget,
	}
}

// recorder is an Observer collecting every wave.
type recorder struct {
	mu    sync.Mutex
	waves []Changes
}

func (r *recorder) ModulesChanged(_ context.Context, c Changes) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waves = append(r.waves, c)
}

func (r *recorder) get() []Changes {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.waves)
}

func newRegistry(t *testing.T, opts Options) *Registry {
	t.Helper()
	r, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		if err := r.Close(context.Background()); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return r
}

func wait(t *testing.T, f *Future[Result]) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := f.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	return res
}

func writeModule(t *testing.T, dir, key string, spec testutil.ModuleSpec) string {
	t.Helper()
	return testutil.WriteModule(t, dir, module.FileName(key)+module.FileExt, key, spec)
}

// writeSet bundles one module per key into a module set at path.
func writeSet(t *testing.T, path string, spec testutil.ModuleSpec, keys ...string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer testutil.MustClose(t, f)

	w := moduleset.Create(f)
	for _, key := range keys {
		if err := w.AddModule(key, testutil.ModuleUnit(t, key, spec)); err != nil {
			t.Fatalf("AddModule(%s): %v", key, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
}

func deps(keys ...string) map[string]any {
	return map[string]any{"dependencies": keys}
}

func keysOf[V any](m map[string]V) []string {
	return module.SortedKeys(m)
}

func codes(l diag.List) []diag.Code {
	out := make([]diag.Code, len(l))
	for i, d := range l {
		out[i] = d.Code
	}
	slices.Sort(out)
	return out
}

func TestNew_RequiresTarget(t *testing.T) {
	t.Parallel()

	if _, err := New(Options{}); err == nil {
		t.Error("New() without a target should fail")
	}
}

func TestRegistry_LoadIsLazy(t *testing.T) {
	t.Parallel()

	d := newDirs(t)
	writeModule(t, d.user, "vendor.a", testutil.ModuleSpec{Kind: testutil.KindNode, Metadata: deps("vendor.b")})
	writeModule(t, d.user, "vendor.b", testutil.ModuleSpec{Kind: testutil.KindType})
	writeModule(t, d.user, "vendor.c", testutil.ModuleSpec{Kind: testutil.KindType})
	r := newRegistry(t, d.options())

	res := wait(t, r.Load(context.Background(), "vendor.a"))
	if len(res.Waves) != 1 {
		t.Fatalf("got %d waves, want 1", len(res.Waves))
	}
	if got := keysOf(res.Waves[0].Added); !slices.Equal(got, []string{"vendor.a", "vendor.b"}) {
		t.Errorf("Added = %v", got)
	}
	if _, ok := r.Lookup("vendor.c"); ok {
		t.Error("vendor.c was loaded without being needed")
	}

	wait(t, r.LoadAll(context.Background()))
	if _, ok := r.Lookup("vendor.c"); !ok {
		t.Error("LoadAll did not load vendor.c")
	}
}

func TestRegistry_LoadAllModules(t *testing.T) {
	t.Parallel()

	d := newDirs(t)
	writeModule(t, d.builtIn, "vendor.core", testutil.ModuleSpec{Kind: testutil.KindLibrary})
	writeModule(t, d.user, "vendor.extra", testutil.ModuleSpec{Kind: testutil.KindType})
	opts := d.options()
	opts.LoadAllModules = true
	r := newRegistry(t, opts)

	wait(t, r.Load(context.Background()))
	if got := keysOf(r.Modules()); !slices.Equal(got, []string{"vendor.core", "vendor.extra"}) {
		t.Errorf("Modules() = %v", got)
	}
	loc, _ := r.Location("vendor.core")
	if loc != (Location{Scope: ScopeBuiltIn, SubScope: Installed}) {
		t.Errorf("Location(vendor.core) = %v", loc)
	}
	if m, _ := r.Lookup("vendor.core"); !m.BuiltIn() {
		t.Error("module from the built-in scope should report BuiltIn")
	}
}

func TestRegistry_ScopeShadowing(t *testing.T) {
	t.Parallel()

	d := newDirs(t)
	systemPath := writeModule(t, d.system, "vendor.a", testutil.ModuleSpec{Kind: testutil.KindType})
	userPath := writeModule(t, d.user, "vendor.a", testutil.ModuleSpec{Kind: testutil.KindType, Exports: []string{"extra"}})
	r := newRegistry(t, d.options())

	wait(t, r.Load(context.Background(), "vendor.a"))
	m, _ := r.Lookup("vendor.a")
	if m.Path() != userPath {
		t.Errorf("active path = %s, want the user scope's %s", m.Path(), userPath)
	}
	if state := r.State("vendor.a", Location{Scope: ScopeSystem, SubScope: Installed}); state != StateLoaded {
		t.Errorf("shadowed module state = %v, want loaded", state)
	}

	testutil.MustRemove(t, userPath)
	res := wait(t, r.Rescan(context.Background(), userPath))
	if len(res.Waves) != 1 {
		t.Fatalf("got %d waves, want 1", len(res.Waves))
	}
	mod, ok := res.Waves[0].Modified["vendor.a"]
	if !ok {
		t.Fatalf("vendor.a not reported modified: %+v", res.Waves[0])
	}
	if mod.Old != m || mod.New.Path() != systemPath {
		t.Errorf("modification = %s -> %s", mod.Old.Path(), mod.New.Path())
	}
	if loc, _ := r.Location("vendor.a"); loc.Scope != ScopeSystem {
		t.Errorf("Location() = %v, want system scope", loc)
	}
}

func TestRegistry_UnchangedReloadIsSilent(t *testing.T) {
	t.Parallel()

	d := newDirs(t)
	path := writeModule(t, d.user, "vendor.a", testutil.ModuleSpec{Kind: testutil.KindNode})
	rec := &recorder{}
	opts := d.options()
	opts.Observer = rec
	r := newRegistry(t, opts)

	wait(t, r.Load(context.Background(), "vendor.a"))
	before, _ := r.Lookup("vendor.a")

	testutil.MustTouch(t, path, 2*time.Second)
	res := wait(t, r.Rescan(context.Background(), path))
	if len(res.Waves) != 0 {
		t.Errorf("rewriting identical content produced waves %+v", res.Waves)
	}
	if after, _ := r.Lookup("vendor.a"); after != before {
		t.Error("identical reload replaced the module instance")
	}
	if n := len(rec.get()); n != 1 {
		t.Errorf("observer saw %d notifications, want 1", n)
	}
}

func TestRegistry_PropagatesInDependencyOrder(t *testing.T) {
	t.Parallel()

	d := newDirs(t)
	pathA := writeModule(t, d.user, "vendor.a", testutil.ModuleSpec{Kind: testutil.KindType})
	writeModule(t, d.user, "vendor.b", testutil.ModuleSpec{Kind: testutil.KindLibrary, Metadata: deps("vendor.a")})
	writeModule(t, d.user, "vendor.c", testutil.ModuleSpec{Kind: testutil.KindNode, Metadata: deps("vendor.b")})
	rec := &recorder{}
	opts := d.options()
	opts.Observer = rec
	r := newRegistry(t, opts)

	wait(t, r.Load(context.Background(), "vendor.c"))
	oldB, _ := r.Lookup("vendor.b")

	testutil.WriteModule(t, d.user, "vendor.a.mlm", "vendor.a", testutil.ModuleSpec{Kind: testutil.KindType, Exports: []string{"newFn"}})
	testutil.MustTouch(t, pathA, 2*time.Second)
	res := wait(t, r.Rescan(context.Background(), pathA))

	var order [][]string
	for _, w := range res.Waves {
		if len(w.Added) != 0 || len(w.Removed) != 0 {
			t.Errorf("unexpected additions or removals in %+v", w)
		}
		order = append(order, keysOf(w.Modified))
	}
	want := [][]string{{"vendor.a"}, {"vendor.b"}, {"vendor.c"}}
	if diff := cmp.Diff(want, order); diff != "" {
		t.Errorf("wave order mismatch (-want +got):\n%s", diff)
	}
	if got := rec.get(); len(got) != 4 {
		t.Errorf("observer saw %d notifications, want 4", len(got))
	}

	newB, _ := r.Lookup("vendor.b")
	if newB == oldB {
		t.Error("dependent was not reloaded")
	}
	loc, _ := r.Location("vendor.b")
	if state := r.State("vendor.b", loc); state != StateLoaded {
		t.Errorf("State(vendor.b) = %v after propagation", state)
	}
	if _, ok := r.InvalidationToken("vendor.b"); ok {
		t.Error("vendor.b still invalidated after propagation")
	}
	if got := r.Dependents("vendor.a"); !slices.Equal(got, []string{"vendor.b", "vendor.c"}) {
		t.Errorf("Dependents(vendor.a) = %v", got)
	}
}

func TestRegistry_ObserverSeesReloadedDependents(t *testing.T) {
	t.Parallel()

	d := newDirs(t)
	pathA := writeModule(t, d.user, "vendor.a", testutil.ModuleSpec{Kind: testutil.KindType})
	writeModule(t, d.user, "vendor.b", testutil.ModuleSpec{Kind: testutil.KindLibrary, Metadata: deps("vendor.a")})
	writeModule(t, d.user, "vendor.c", testutil.ModuleSpec{Kind: testutil.KindNode, Metadata: deps("vendor.b")})

	type seen struct {
		state      State
		current    *module.Module
		invalidated  bool
		reportedAt int
	}
	var (
		mu    sync.Mutex
		r     *Registry
		waves int
		got   *seen
	)
	opts := d.options()
	opts.Observer = ObserverFunc(func(_ context.Context, c Changes) {
		mu.Lock()
		defer mu.Unlock()
		waves++
		if _, ok := c.Modified["vendor.a"]; !ok {
			return
		}
		loc, _ := r.Location("vendor.c")
		current, _ := r.Lookup("vendor.c")
		_, held := r.InvalidationToken("vendor.c")
		got = &seen{state: r.State("vendor.c", loc), current: current, invalidated: held, reportedAt: waves}
	})
	r = newRegistry(t, opts)

	wait(t, r.Load(context.Background(), "vendor.c"))
	oldC, _ := r.Lookup("vendor.c")

	testutil.WriteModule(t, d.user, "vendor.a.mlm", "vendor.a", testutil.ModuleSpec{Kind: testutil.KindType, Exports: []string{"newFn"}})
	testutil.MustTouch(t, pathA, 2*time.Second)
	res := wait(t, r.Rescan(context.Background(), pathA))
	if len(res.Waves) != 3 {
		t.Fatalf("got %d waves, want 3", len(res.Waves))
	}

	mu.Lock()
	defer mu.Unlock()
	if got == nil {
		t.Fatal("observer never saw the vendor.a change")
	}
	if got.reportedAt != 2 {
		t.Errorf("vendor.a change was notification %d, want 2", got.reportedAt)
	}
	if got.state != StateLoaded {
		t.Errorf("State(vendor.c) = %v when vendor.a was reported, want loaded", got.state)
	}
	if got.current == nil || got.current == oldC {
		t.Error("vendor.c was not yet reloaded when vendor.a was reported")
	}
	if got.invalidated {
		t.Error("vendor.c still held an invalidation token when vendor.a was reported")
	}
	if newC := res.Waves[2].Modified["vendor.c"].New; newC != got.current {
		t.Error("observer saw a different vendor.c instance than the batch installed")
	}
}

func TestRegistry_ReloadsSetDependentsTogether(t *testing.T) {
	t.Parallel()

	d := newDirs(t)
	pathA := writeModule(t, d.user, "vendor.a", testutil.ModuleSpec{Kind: testutil.KindType})
	bundle := filepath.Join(d.user, "bundle"+moduleset.FileExt)
	bundled := []string{"vendor.b", "vendor.c", "vendor.d", "vendor.e"}
	writeSet(t, bundle, testutil.ModuleSpec{Kind: testutil.KindLibrary, Metadata: deps("vendor.a")}, bundled...)
	r := newRegistry(t, d.options())

	res := wait(t, r.LoadAll(context.Background()))
	if len(res.Diagnostics) != 0 {
		t.Fatalf("unexpected diagnostics %v", res.Diagnostics)
	}
	before := r.Modules()

	testutil.WriteModule(t, d.user, "vendor.a.mlm", "vendor.a", testutil.ModuleSpec{Kind: testutil.KindType, Exports: []string{"newFn"}})
	testutil.MustTouch(t, pathA, 2*time.Second)
	res = wait(t, r.Rescan(context.Background(), pathA))
	if len(res.Waves) != 2 {
		t.Fatalf("got %d waves, want 2", len(res.Waves))
	}
	if got := keysOf(res.Waves[1].Modified); !slices.Equal(got, bundled) {
		t.Fatalf("second wave modified %v, want %v", got, bundled)
	}
	for _, key := range bundled {
		mod := res.Waves[1].Modified[key]
		if mod.Old != before[key] || mod.New == mod.Old {
			t.Errorf("%s was not replaced by a fresh instance", key)
		}
		if mod.New.ArchivePath() != bundle {
			t.Errorf("%s archive = %q, want %q", key, mod.New.ArchivePath(), bundle)
		}
		if current, _ := r.Lookup(key); current != mod.New {
			t.Errorf("Lookup(%s) does not return the reloaded instance", key)
		}
	}
}

func TestRegistry_RejectsNonModules(t *testing.T) {
	t.Parallel()

	d := newDirs(t)
	writeModule(t, d.user, "vendor.plain", testutil.ModuleSpec{Kind: testutil.KindPlain, Exports: []string{"f"}})
	testutil.MustWriteFile(t, filepath.Join(d.user, "vendor.junk.mlm"), []byte("not a unit"))
	writeModule(t, d.builtIn, module.RuntimeKey, testutil.ModuleSpec{Kind: testutil.KindPlain, Exports: []string{"rt"}})
	writeModule(t, d.user, "vendor.ok", testutil.ModuleSpec{Kind: testutil.KindType})
	r := newRegistry(t, d.options())

	res := wait(t, r.LoadAll(context.Background()))
	want := []diag.Code{diag.CodeModuleParseFailed, diag.CodeNotAModule}
	if diff := cmp.Diff(want, codes(res.Diagnostics)); diff != "" {
		t.Errorf("diagnostic codes mismatch (-want +got):\n%s", diff)
	}
	if got := keysOf(r.Modules()); !slices.Equal(got, []string{"vendor.ok"}) {
		t.Errorf("Modules() = %v", got)
	}
	if got := r.Diagnostics("vendor.junk"); len(got) != 1 || got[0].Code != diag.CodeModuleParseFailed {
		t.Errorf("Diagnostics(vendor.junk) = %v", got)
	}
}

func TestRegistry_MissingSearchPath(t *testing.T) {
	t.Parallel()

	d := newDirs(t)
	opts := d.options()
	opts.SearchPaths[ScopeSystem] = []string{filepath.Join(t.TempDir(), "absent")}
	r := newRegistry(t, opts)

	res := wait(t, r.LoadAll(context.Background()))
	if got := codes(res.Diagnostics); !slices.Equal(got, []diag.Code{diag.CodeSearchPathInvalid}) {
		t.Errorf("first scan diagnostics = %v", got)
	}
	res = wait(t, r.Rescan(context.Background()))
	if len(res.Diagnostics) != 0 {
		t.Errorf("missing path reported again: %v", res.Diagnostics)
	}
}

func TestRegistry_CompositionSource(t *testing.T) {
	t.Parallel()

	d := newDirs(t)
	blurPath := writeModule(t, d.user, "vendor.blur", testutil.ModuleSpec{Kind: testutil.KindNode})
	testutil.MustWriteFile(t, filepath.Join(d.composition, "my.pipeline.mlc"), []byte(`
title: "Pipeline"
nodes: {
	first: "vendor.blur"
}
`))
	r := newRegistry(t, d.options())

	res := wait(t, r.Load(context.Background(), "my.pipeline"))
	if len(res.Diagnostics) != 0 {
		t.Fatalf("unexpected diagnostics %v", res.Diagnostics)
	}
	m, ok := r.Lookup("my.pipeline")
	if !ok {
		t.Fatal("composition was not compiled")
	}
	if loc, _ := r.Location("my.pipeline"); loc != (Location{Scope: ScopeComposition, SubScope: Generated}) {
		t.Errorf("Location() = %v", loc)
	}
	if got := m.Dependencies(); !slices.Equal(got, []string{"vendor.blur"}) {
		t.Errorf("Dependencies() = %v", got)
	}
	if m.Title() != "Pipeline" {
		t.Errorf("Title() = %q", m.Title())
	}

	testutil.WriteModule(t, d.user, "vendor.blur.mlm", "vendor.blur", testutil.ModuleSpec{Kind: testutil.KindNode, Helpers: []string{"kernel"}})
	testutil.MustTouch(t, blurPath, 2*time.Second)
	res = wait(t, r.Rescan(context.Background(), blurPath))
	if len(res.Waves) != 2 {
		t.Fatalf("got %d waves, want 2", len(res.Waves))
	}
	if _, ok := res.Waves[1].Modified["my.pipeline"]; !ok {
		t.Errorf("composition was not recompiled: %+v", res.Waves[1])
	}
	if recompiled, _ := r.Lookup("my.pipeline"); recompiled == m {
		t.Error("composition instance unchanged after its node class changed")
	}
}

func TestRegistry_NestedCompositions(t *testing.T) {
	t.Parallel()

	d := newDirs(t)
	blurPath := writeModule(t, d.user, "vendor.blur", testutil.ModuleSpec{Kind: testutil.KindNode})
	testutil.MustWriteFile(t, filepath.Join(d.composition, "my.inner.mlc"), []byte(`
title: "Inner"
nodes: {blur: "vendor.blur"}
`))
	testutil.MustWriteFile(t, filepath.Join(d.composition, "my.outer.mlc"), []byte(`
title: "Outer"
nodes: {inner: "my.inner"}
`))
	r := newRegistry(t, d.options())

	res := wait(t, r.Load(context.Background(), "my.outer"))
	if len(res.Diagnostics) != 0 {
		t.Fatalf("unexpected diagnostics %v", res.Diagnostics)
	}
	outer, ok := r.Lookup("my.outer")
	if !ok {
		t.Fatal("outer composition was not compiled")
	}
	if got := outer.Dependencies(); !slices.Equal(got, []string{"my.inner"}) {
		t.Errorf("Dependencies() = %v", got)
	}

	testutil.WriteModule(t, d.user, "vendor.blur.mlm", "vendor.blur", testutil.ModuleSpec{Kind: testutil.KindNode, Helpers: []string{"kernel"}})
	testutil.MustTouch(t, blurPath, 2*time.Second)
	res = wait(t, r.Rescan(context.Background(), blurPath))
	var order [][]string
	for _, w := range res.Waves {
		order = append(order, keysOf(w.Modified))
	}
	want := [][]string{{"vendor.blur"}, {"my.inner"}, {"my.outer"}}
	if diff := cmp.Diff(want, order); diff != "" {
		t.Errorf("wave order mismatch (-want +got):\n%s", diff)
	}
}

func TestRegistry_CompositionContainmentCycle(t *testing.T) {
	t.Parallel()

	d := newDirs(t)
	testutil.MustWriteFile(t, filepath.Join(d.composition, "my.a.mlc"), []byte(`
title: "A"
nodes: {b: "my.b"}
`))
	testutil.MustWriteFile(t, filepath.Join(d.composition, "my.b.mlc"), []byte(`
title: "B"
nodes: {a: "my.a"}
`))
	r := newRegistry(t, d.options())

	res := wait(t, r.Load(context.Background(), "my.a"))
	want := []diag.Code{diag.CodeDependencyCycle, diag.CodeDependencyCycle}
	if diff := cmp.Diff(want, codes(res.Diagnostics)); diff != "" {
		t.Errorf("diagnostic codes mismatch (-want +got):\n%s", diff)
	}
	for _, key := range []string{"my.a", "my.b"} {
		if _, ok := r.Lookup(key); ok {
			t.Errorf("%s is active despite the cycle", key)
		}
		if got := r.Diagnostics(key); len(got) != 1 || got[0].Code != diag.CodeDependencyCycle {
			t.Errorf("Diagnostics(%s) = %v", key, got)
		}
	}
}

func TestRegistry_CompositionFailure(t *testing.T) {
	t.Parallel()

	d := newDirs(t)
	testutil.MustWriteFile(t, filepath.Join(d.composition, "my.pipeline.mlc"), []byte(`
title: "Broken"
nodes: {
	first: "vendor.missing"
}
`))
	r := newRegistry(t, d.options())

	res := wait(t, r.Load(context.Background(), "my.pipeline"))
	if got := codes(res.Diagnostics); !slices.Equal(got, []diag.Code{diag.CodeDependencyUnresolved}) {
		t.Errorf("diagnostics = %v", got)
	}
	if _, ok := r.Lookup("my.pipeline"); ok {
		t.Error("failed composition should not be active")
	}

	_, err := r.LinkPlan(context.Background(), []string{"my.pipeline"}, LinkOptions{})
	var derr *diag.Error
	if !errors.As(err, &derr) {
		t.Fatalf("LinkPlan() error = %v, want *diag.Error", err)
	}
	if derr.Diagnostics[0].Path != filepath.Join(d.composition, "my.pipeline.mlc") {
		t.Errorf("diagnostic path = %q", derr.Diagnostics[0].Path)
	}
}

func TestRegistry_Reification(t *testing.T) {
	t.Parallel()

	d := newDirs(t)
	writeModule(t, d.user, "vendor.gauss", testutil.ModuleSpec{
		Kind: testutil.KindNode,
		Metadata: map[string]any{
			"dependencies": []string{"T"},
			"genericTypes": map[string]any{"T": map[string]any{}},
		},
	})
	floatPath := writeModule(t, d.user, "float", testutil.ModuleSpec{Kind: testutil.KindType})
	r := newRegistry(t, d.options())

	res := wait(t, r.Load(context.Background(), "vendor.gauss.float"))
	m, ok := r.Lookup("vendor.gauss.float")
	if !ok {
		t.Fatalf("specialization not reified; diagnostics %v", res.Diagnostics)
	}
	kind, ok := m.Kind().(module.Specialized)
	if !ok || kind.Generic != "vendor.gauss" || kind.Types["T"] != "float" {
		t.Errorf("Kind() = %v", m.Kind())
	}
	if got := m.Dependencies(); !slices.Equal(got, []string{"float"}) {
		t.Errorf("Dependencies() = %v", got)
	}
	if loc, _ := r.Location("vendor.gauss.float"); loc != (Location{Scope: ScopeUser, SubScope: Generated}) {
		t.Errorf("Location() = %v", loc)
	}
	if got := r.Shared().AwaitingReification(r.owner(ScopeUser)); len(got) != 0 {
		t.Errorf("still awaiting %v", got)
	}

	testutil.WriteModule(t, d.user, "float.mlm", "float", testutil.ModuleSpec{Kind: testutil.KindType, Exports: []string{"toDouble"}})
	testutil.MustTouch(t, floatPath, 2*time.Second)
	res = wait(t, r.Rescan(context.Background(), floatPath))
	if len(res.Waves) != 2 {
		t.Fatalf("got %d waves, want 2", len(res.Waves))
	}
	if _, ok := res.Waves[1].Modified["vendor.gauss.float"]; !ok {
		t.Errorf("specialization not rebuilt: %+v", res.Waves[1])
	}
}

func TestRegistry_LinkPlanChecksTarget(t *testing.T) {
	t.Parallel()

	d := newDirs(t)
	writeModule(t, d.user, "vendor.win", testutil.ModuleSpec{
		Kind:     testutil.KindNode,
		Metadata: map[string]any{"compatibility": map[string]any{"macos": false}},
	})
	writeModule(t, d.user, "vendor.any", testutil.ModuleSpec{Kind: testutil.KindNode, Metadata: deps("vendor.win")})
	r := newRegistry(t, d.options())

	_, err := r.LinkPlan(context.Background(), []string{"vendor.any"}, LinkOptions{})
	var derr *diag.Error
	if !errors.As(err, &derr) {
		t.Fatalf("LinkPlan() error = %v, want *diag.Error", err)
	}
	if len(derr.Diagnostics) != 1 || derr.Diagnostics[0].Code != diag.CodeUnsupportedTarget || derr.Diagnostics[0].ModuleKey != "vendor.win" {
		t.Errorf("diagnostics = %v", derr.Diagnostics)
	}
	if r.Compatibility("vendor.any").IsCompatibleWithPlatform(compat.PlatformMacOS) {
		t.Error("Compatibility() should inherit the dependency's restriction")
	}
}

func TestRegistry_CacheFirstLinking(t *testing.T) {
	t.Parallel()

	d := newDirs(t)
	store, err := cachestore.Open(cachestore.Options{InMemory: true})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { testutil.MustClose(t, store) })

	writeModule(t, d.builtIn, "vendor.core", testutil.ModuleSpec{Kind: testutil.KindLibrary, Exports: []string{"coreFn"}})
	blurPath := writeModule(t, d.user, "vendor.blur", testutil.ModuleSpec{Kind: testutil.KindNode, Metadata: deps("vendor.core")})
	opts := d.options()
	opts.CacheDir = t.TempDir()
	opts.CacheStore = store
	r := newRegistry(t, opts)
	ctx := context.Background()

	manifests, err := r.BuildCaches(ctx).Wait(ctx)
	if err != nil {
		t.Fatalf("BuildCaches() error = %v", err)
	}
	var tiers []string
	for _, m := range manifests {
		tiers = append(tiers, m.Tier)
	}
	if !slices.Equal(tiers, []string{"builtin", "user"}) {
		t.Fatalf("built tiers %v", tiers)
	}
	builtinArtifact := filepath.Join(opts.CacheDir, cachestore.ArtifactName(macTarget.String(), "builtin"))
	userArtifact := filepath.Join(opts.CacheDir, cachestore.ArtifactName(macTarget.String(), "user"))

	plan, err := r.LinkPlan(ctx, []string{"vendor.blur"}, LinkOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if got := plan.Caches(true); !slices.Equal(got, []string{builtinArtifact}) {
		t.Errorf("Caches(true) = %v", got)
	}
	if got := plan.Caches(false); !slices.Equal(got, []string{userArtifact}) {
		t.Errorf("Caches(false) = %v", got)
	}
	if len(plan.Modules(false)) != 0 {
		t.Errorf("cached module linked individually: %v", plan.Modules(false))
	}

	plan, err = r.LinkPlan(ctx, []string{"vendor.blur"}, LinkOptions{Strategy: NoCaches})
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Caches(true))+len(plan.Caches(false)) != 0 {
		t.Error("NoCaches plan uses caches")
	}

	testutil.WriteModule(t, d.user, "vendor.blur.mlm", "vendor.blur", testutil.ModuleSpec{
		Kind: testutil.KindNode, Metadata: deps("vendor.core"), Helpers: []string{"kernel"},
	})
	testutil.MustTouch(t, blurPath, 2*time.Second)
	wait(t, r.Rescan(ctx, blurPath))

	plan, err = r.LinkPlan(ctx, []string{"vendor.blur"}, LinkOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if got := plan.Caches(false); len(got) != 0 {
		t.Errorf("stale user cache used: %v", got)
	}
	if got := plan.ModuleKeys(); !slices.Contains(got, "vendor.blur") {
		t.Errorf("ModuleKeys() = %v, want vendor.blur linked individually", got)
	}
	if got := plan.Caches(true); !slices.Equal(got, []string{builtinArtifact}) {
		t.Errorf("Caches(true) = %v after user change", got)
	}
}

func TestRegistry_BuildCachesDependencyTiersFirst(t *testing.T) {
	t.Parallel()

	d := newDirs(t)
	store, err := cachestore.Open(cachestore.Options{InMemory: true})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { testutil.MustClose(t, store) })

	writeModule(t, d.user, "vendor.base", testutil.ModuleSpec{Kind: testutil.KindLibrary, Exports: []string{"baseFn"}})
	writeModule(t, d.user, "vendor.util", testutil.ModuleSpec{Kind: testutil.KindLibrary, Metadata: deps("vendor.base")})
	writeModule(t, d.builtIn, "vendor.core", testutil.ModuleSpec{Kind: testutil.KindLibrary, Metadata: deps("vendor.util")})
	opts := d.options()
	opts.CacheDir = t.TempDir()
	opts.CacheStore = store
	r := newRegistry(t, opts)
	ctx := context.Background()

	manifests, err := r.BuildCaches(ctx).Wait(ctx)
	if err != nil {
		t.Fatalf("BuildCaches() error = %v", err)
	}
	var tiers []string
	for _, m := range manifests {
		tiers = append(tiers, m.Tier)
	}
	if !slices.Equal(tiers, []string{"user", "builtin"}) {
		t.Errorf("built tiers %v, want the user tier first", tiers)
	}
	if got := manifests[0].Keys; !slices.Equal(got, []string{"vendor.base", "vendor.util"}) {
		t.Errorf("user manifest keys = %v", got)
	}
}

func TestByDownstreamPath(t *testing.T) {
	t.Parallel()

	keys := []string{"a", "b", "c", "d"}
	downstream := map[string]int{"a": 0, "b": 2, "c": 1, "d": 2}
	got := byDownstreamPath(keys, downstream)
	if want := []string{"b", "d", "c", "a"}; !slices.Equal(got, want) {
		t.Errorf("byDownstreamPath() = %v, want %v", got, want)
	}
	if !slices.Equal(keys, []string{"a", "b", "c", "d"}) {
		t.Error("byDownstreamPath modified its input")
	}
}

func TestRegistry_BuildCachesWithoutStore(t *testing.T) {
	t.Parallel()

	r := newRegistry(t, newDirs(t).options())
	if _, err := r.BuildCaches(context.Background()).Wait(context.Background()); !errors.Is(err, ErrNoCacheStore) {
		t.Errorf("BuildCaches() error = %v, want ErrNoCacheStore", err)
	}
}

func TestRegistry_Close(t *testing.T) {
	t.Parallel()

	d := newDirs(t)
	writeModule(t, d.user, "vendor.blur", testutil.ModuleSpec{Kind: testutil.KindNode})
	testutil.MustWriteFile(t, filepath.Join(d.composition, "my.pipeline.mlc"), []byte(`
title: "Pipeline"
nodes: {first: "vendor.blur"}
`))
	shared := NewShared(SharedOptions{})
	opts := d.options()
	opts.Shared = shared
	r, err := New(opts)
	if err != nil {
		t.Fatal(err)
	}
	if shared.Refs() != 1 {
		t.Fatalf("Refs() = %d, want 1", shared.Refs())
	}

	pending := r.Load(context.Background(), "my.pipeline")
	if err := r.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	select {
	case <-pending.Done():
	default:
		t.Error("Close returned before a queued load finished")
	}
	if err := shared.WaitCompiles(context.Background()); err != nil {
		t.Errorf("WaitCompiles() error = %v", err)
	}
	if shared.Refs() != 0 {
		t.Errorf("Refs() = %d after Close", shared.Refs())
	}
	if _, err := r.Load(context.Background(), "vendor.blur").Wait(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Load() after Close error = %v, want ErrClosed", err)
	}
	if err := r.Close(context.Background()); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestRegistry_ResetForTesting(t *testing.T) {
	t.Parallel()

	d := newDirs(t)
	writeModule(t, d.user, "vendor.a", testutil.ModuleSpec{Kind: testutil.KindType})

	locked := newRegistry(t, d.options())
	if err := locked.ResetForTesting(context.Background()); !errors.Is(err, ErrResetDisabled) {
		t.Errorf("ResetForTesting() error = %v, want ErrResetDisabled", err)
	}

	opts := d.options()
	opts.AllowReset = true
	r := newRegistry(t, opts)
	wait(t, r.Load(context.Background(), "vendor.a"))
	if err := r.ResetForTesting(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(r.Modules()) != 0 {
		t.Errorf("Modules() = %v after reset", keysOf(r.Modules()))
	}
	wait(t, r.Load(context.Background(), "vendor.a"))
	if _, ok := r.Lookup("vendor.a"); !ok {
		t.Error("module not reloaded after reset")
	}
}

func TestParseCacheStrategy(t *testing.T) {
	t.Parallel()

	for _, s := range []CacheStrategy{UseExistingCaches, RegenerateCaches, NoCaches} {
		got, err := ParseCacheStrategy(s.String())
		if err != nil || got != s {
			t.Errorf("ParseCacheStrategy(%q) = %v, %v", s, got, err)
		}
	}
	if _, err := ParseCacheStrategy("sometimes"); err == nil {
		t.Error("ParseCacheStrategy should reject unknown names")
	}
}
