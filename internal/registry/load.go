// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/invowk/modlink/internal/depgraph"
	"github.com/invowk/modlink/internal/subgraph"
	"github.com/invowk/modlink/pkg/diag"
	"github.com/invowk/modlink/pkg/ir"
	"github.com/invowk/modlink/pkg/module"
	"github.com/invowk/modlink/pkg/moduleset"
)

var tracer = otel.Tracer("github.com/invowk/modlink/internal/registry")

type (
	// batchRequest is one unit of work for the queue.
	batchRequest struct {
		// keys are requested in addition to everything wanted before.
		keys []string
		// paths are files reported changed.
		paths []string
		// full rescans every search path.
		full bool
		// all loads every discovered module regardless of LoadAllModules.
		all bool
	}

	// batch carries the state of one apply call.
	batch struct {
		r       *Registry
		ctx     context.Context
		before  map[string]*module.Module
		visited map[*FileWatch]bool
		sources []*pendingSource
		diags   diag.List
		result  Result
	}

	pendingSource struct {
		file  *FileWatch
		scope Scope
		src   []byte
	}

	// readResult is the outcome of reading one file off the queue.
	readResult struct {
		file     *FileWatch
		scope    Scope
		modified float64
		modules  []*module.Module
		// contained lists the keys of a module set or the node classes a
		// source contains. install applies it to the FileWatch.
		contained []string
		source    []byte
		diags     diag.List
		failed    bool
	}
)

// Load loads keys and, unless LoadAllModules is set, only what they
// transitively depend on. With LoadAllModules the first Load loads every
// discoverable module. Keys are remembered: later rescans keep them loaded.
func (r *Registry) Load(ctx context.Context, keys ...string) *Future[Result] {
	return r.submit(ctx, batchRequest{keys: keys})
}

// LoadAll loads every discoverable module.
func (r *Registry) LoadAll(ctx context.Context) *Future[Result] {
	return r.submit(ctx, batchRequest{all: true})
}

// Rescan reloads the given changed files, or rescans every search path when
// none are given. Files are classified as added, modified or removed by
// comparing with what was loaded.
func (r *Registry) Rescan(ctx context.Context, paths ...string) *Future[Result] {
	return r.submit(ctx, batchRequest{paths: paths, full: len(paths) == 0})
}

func (r *Registry) submit(ctx context.Context, req batchRequest) *Future[Result] {
	if r.closed.Load() {
		return completedFuture(Result{}, ErrClosed)
	}
	ctx = context.WithoutCancel(ctx)
	return submitFuture(r.queue, func() (Result, error) {
		return r.apply(ctx, req)
	})
}

// apply runs one batch: discover files, load what is needed, compile
// sources, reify specializations, then reload every dependent of what
// changed, one dependency level per wave. The observer sees the waves in
// dependency order only once the last dependent has been reloaded.
func (r *Registry) apply(ctx context.Context, req batchRequest) (Result, error) {
	ctx, span := tracer.Start(ctx, "registry.batch")
	defer span.End()
	start := time.Now()
	defer func() { r.metrics.ObserveBatch(time.Since(start)) }()

	b := &batch{
		r:       r,
		ctx:     ctx,
		before:  r.activeModules(),
		visited: make(map[*FileWatch]bool),
	}

	if !r.scanned || req.full {
		b.scanAll()
		r.scanned = true
	}
	for _, p := range req.paths {
		b.discoverPath(p)
	}
	for _, k := range req.keys {
		r.wanted[k] = true
	}

	b.load(r.opts.LoadAllModules || req.all)
	b.compileSources()
	b.reify()
	r.publish()

	first := diffActive(b.before, r.activeModules())
	first.Diagnostics = b.diags
	b.addWave(first)
	b.propagate(first.Keys())
	b.deliver()

	span.SetAttributes(
		attribute.Int("registry.waves", len(b.result.Waves)),
		attribute.Int("registry.diagnostics", len(b.result.Diagnostics)),
	)
	return b.result, nil
}

// scanAll discovers every module file in every search path and forgets
// files that no longer exist.
func (b *batch) scanAll() {
	r := b.r
	seen := make(map[string]bool)
	for _, s := range Scopes() {
		for _, dir := range r.opts.SearchPaths[s] {
			root, err := filepath.Abs(dir)
			if err != nil {
				b.warnPath(dir, err)
				continue
			}
			info, err := os.Stat(root)
			if err != nil || !info.IsDir() {
				b.warnPath(root, err)
				continue
			}
			_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					b.addDiag(diag.Warning(diag.CodeIOFailed, "search path entry is unreadable").WithPath(path).WithCause(err))
					return nil
				}
				if d.IsDir() || kindOf(d.Name()) == fileNone || strings.HasPrefix(d.Name(), ".") {
					return nil
				}
				seen[path] = true
				b.discover(s, root, path)
				return nil
			})
		}
	}
	for path, w := range r.files {
		if !seen[path] {
			b.removeFile(w)
		}
	}
}

// warnPath reports an unusable search path once per registry.
func (b *batch) warnPath(dir string, err error) {
	if b.r.warned[dir] {
		return
	}
	b.r.warned[dir] = true
	d := diag.Warning(diag.CodeSearchPathInvalid, "module search path is not a readable directory").WithPath(dir)
	if err != nil {
		d = d.WithCause(err)
	}
	b.r.logger.Warn("search path unavailable", "path", dir)
	b.addDiag(d)
}

// discoverPath handles one reported change.
func (b *batch) discoverPath(path string) {
	r := b.r
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}
	if w, ok := r.files[abs]; ok {
		if _, exists, _ := w.stat(); !exists {
			b.removeFile(w)
		}
		return
	}
	scope, root, ok := r.scopeOf(abs)
	if !ok || kindOf(abs) == fileNone {
		return
	}
	if info, err := os.Stat(abs); err == nil && info.Mode().IsRegular() {
		b.discover(scope, root, abs)
	}
}

// discover registers a file without loading it. Module sets are opened to
// list their keys.
func (b *batch) discover(scope Scope, root, path string) {
	r := b.r
	if _, ok := r.files[path]; ok {
		return
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return
	}
	w, err := newFileWatch(root, rel)
	if err != nil {
		b.addDiag(diag.Warning(diag.CodeNotAModule, "file name does not encode a module key").WithPath(path).WithCause(err))
		return
	}
	if w.kind == fileSet {
		set, err := moduleset.Open(path)
		if err != nil {
			b.addDiag(diag.Errorf(diag.CodeModuleParseFailed, "module set could not be opened").WithPath(path).WithCause(err))
			return
		}
		w.ContainedModuleKeys = set.Keys()
		_ = set.Close()
	}
	r.files[path] = w
	r.fileLoc[path] = scope
}

// removeFile drops a file and every record it provided.
func (b *batch) removeFile(w *FileWatch) {
	r := b.r
	path := w.Path()
	scope := r.fileLoc[path]
	for _, sub := range []SubScope{Installed, Generated} {
		for key, rec := range r.records[scope][sub] {
			if rec.file == w {
				delete(r.records[scope][sub], key)
				delete(r.failures, key)
			}
		}
	}
	delete(r.files, path)
	delete(r.fileLoc, path)
	r.logger.Debug("module file removed", "path", path)
}

// load reads files until every needed key is loaded. In lazy mode the
// needed keys are the wanted keys plus their transitive dependencies, the
// node classes of needed sources and the generics of needed
// specializations.
func (b *batch) load(eager bool) {
	r := b.r
	for {
		providers := r.providers()
		var needed map[string]bool
		if !eager {
			needed = b.neededKeys(providers)
		}

		var round []*FileWatch
		for _, path := range sortedPaths(r.files) {
			w := r.files[path]
			if b.visited[w] {
				continue
			}
			if !eager && w.LastModified == 0 && !providesAny(w, needed) {
				continue
			}
			b.visited[w] = true
			changed, err := w.changed()
			if err != nil {
				b.addDiag(diag.Errorf(diag.CodeIOFailed, "module file is unreadable").WithPath(path).WithCause(err))
				continue
			}
			if changed {
				round = append(round, w)
			}
		}
		if len(round) == 0 {
			return
		}
		for _, res := range b.readAll(round) {
			b.install(res)
		}
	}
}

// providers maps each key to the files providing it.
func (r *Registry) providers() map[string][]*FileWatch {
	out := make(map[string][]*FileWatch)
	for _, path := range sortedPaths(r.files) {
		w := r.files[path]
		for _, key := range w.Keys() {
			out[key] = append(out[key], w)
		}
	}
	return out
}

func (b *batch) neededKeys(providers map[string][]*FileWatch) map[string]bool {
	r := b.r
	needed := make(map[string]bool, len(r.wanted))
	queue := make([]string, 0, len(r.wanted))
	add := func(k string) {
		if !needed[k] {
			needed[k] = true
			queue = append(queue, k)
		}
	}
	for k := range r.wanted {
		add(k)
	}
	for len(queue) > 0 {
		key := queue[0]
		queue = queue[1:]
		if rec, _, ok := r.activeRecord(key); ok {
			for _, dep := range rec.module.Dependencies() {
				add(dep)
			}
		}
		for _, w := range providers[key] {
			if w.IsSource() {
				for _, k := range w.ContainedModuleKeys {
					add(k)
				}
			}
		}
		if _, ok := providers[key]; !ok {
			if g, ok := genericPrefix(key, providers); ok {
				add(g)
				if rec, _, ok := r.activeRecord(g); ok && rec.module.IsUnspecializedGeneric() {
					if types, ok := module.ParseSpecializedKey(key, rec.module); ok {
						for _, k := range specializationNeeds(rec.module, types) {
							add(k)
						}
					}
				}
			}
		}
	}
	return needed
}

// genericPrefix returns the longest known key that key extends with
// ".<types>", which is the generic a specialized key derives from.
func genericPrefix[V any](key string, known map[string]V) (string, bool) {
	best := ""
	for k := range known {
		if len(k) > len(best) && strings.HasPrefix(key, k+".") {
			best = k
		}
	}
	return best, best != ""
}

func providesAny(w *FileWatch, needed map[string]bool) bool {
	for _, k := range w.Keys() {
		if needed[k] {
			return true
		}
	}
	return false
}

func sortedPaths(files map[string]*FileWatch) []string {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	return paths
}

// readAll reads files concurrently. The results keep the input order.
func (b *batch) readAll(files []*FileWatch) []readResult {
	r := b.r
	results := make([]readResult, len(files))
	g := new(errgroup.Group)
	g.SetLimit(r.workers)
	for i, w := range files {
		scope := r.fileLoc[w.Path()]
		g.Go(func() error {
			results[i] = r.readFile(w, scope)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// readFile reads one file. It runs off the queue and touches no registry
// state, including w: what it learns about the file goes into the result.
func (r *Registry) readFile(w *FileWatch, scope Scope) readResult {
	res := readResult{file: w, scope: scope}
	path := w.Path()
	modified, exists, err := w.stat()
	if err != nil || !exists {
		if err == nil {
			err = fs.ErrNotExist
		}
		res.failed = true
		res.diags = append(res.diags, diag.Errorf(diag.CodeIOFailed, "module file is unreadable").
			WithPath(path).WithModule(w.ModuleKey).WithCause(err))
		return res
	}
	res.modified = modified
	builtIn := scope == ScopeBuiltIn

	switch w.kind {
	case fileUnit:
		data, err := os.ReadFile(path)
		if err != nil {
			res.failed = true
			res.diags = append(res.diags, diag.Errorf(diag.CodeIOFailed, "module file is unreadable").
				WithPath(path).WithModule(w.ModuleKey).WithCause(err))
			return res
		}
		unit, err := ir.Unmarshal(data)
		if err != nil {
			res.failed = true
			res.diags = append(res.diags, diag.Errorf(diag.CodeModuleParseFailed, "module file could not be decoded").
				WithPath(path).WithModule(w.ModuleKey).WithCause(err))
			return res
		}
		res.addModule(r, w.ModuleKey, unit, module.Options{Path: path, BuiltIn: builtIn})

	case fileSet:
		set, err := moduleset.Open(path)
		if err != nil {
			res.failed = true
			res.diags = append(res.diags, diag.Errorf(diag.CodeModuleParseFailed, "module set could not be opened").
				WithPath(path).WithCause(err))
			return res
		}
		defer func() { _ = set.Close() }()
		res.contained = set.Keys()
		for _, key := range res.contained {
			unit, err := set.ReadUnit(key)
			if err != nil {
				res.diags = append(res.diags, diag.Errorf(diag.CodeModuleParseFailed, "module could not be decoded").
					WithPath(path).WithModule(key).WithCause(err))
				continue
			}
			res.addModule(r, key, unit, module.Options{ArchivePath: path, BuiltIn: builtIn})
		}

	case fileSource:
		src, err := os.ReadFile(path)
		if err != nil {
			res.failed = true
			res.diags = append(res.diags, diag.Errorf(diag.CodeIOFailed, "composition source is unreadable").
				WithPath(path).WithModule(w.ModuleKey).WithCause(err))
			return res
		}
		keys, err := r.compiler.ContainedKeys(src)
		if err != nil {
			res.failed = true
			res.diags = append(res.diags, diag.Errorf(diag.CodeCompileFailed, "composition source is invalid").
				WithPath(path).WithModule(w.ModuleKey).WithCause(err))
			return res
		}
		res.contained = keys
		res.source = src
	}
	return res
}

// addModule wraps unit as a module, recording why it was rejected if it is
// not one. The runtime library carries no metadata and is skipped quietly.
func (res *readResult) addModule(r *Registry, key string, unit *ir.Unit, opts module.Options) {
	path := opts.Path
	if path == "" {
		path = opts.ArchivePath
	}
	m, err := module.New(key, unit, opts)
	switch {
	case errors.Is(err, module.ErrNotAModule) && key == module.RuntimeKey:
		r.logger.Debug("skipping runtime library", "path", path)
	case err != nil:
		r.logger.Warn("rejected module", "key", key, "path", path, "err", err)
		r.metrics.LoadFailed(string(diag.CodeNotAModule))
		res.diags = append(res.diags, diag.Warning(diag.CodeNotAModule, "file does not contain a module").
			WithPath(path).WithModule(key).WithCause(err))
	default:
		for _, d := range m.Diagnostics() {
			r.logger.Warn(d.Message, "key", key, "path", path)
		}
		res.diags = append(res.diags, m.Diagnostics()...)
		res.modules = append(res.modules, m)
	}
}

// install applies a read result to the installed sub-scope. A module equal
// to the one already installed keeps the old record so reloading an
// unchanged file is not reported as a modification.
func (b *batch) install(res readResult) {
	r := b.r
	for _, d := range res.diags {
		b.addDiag(d)
	}
	w := res.file
	records := r.records[res.scope][Installed]
	if res.failed {
		for key, rec := range records {
			if rec.file == w {
				delete(records, key)
			}
		}
		if w.IsSource() {
			delete(r.records[res.scope][Generated], w.ModuleKey)
		}
		for _, key := range w.Keys() {
			r.failures[key] = res.diags
		}
		if w.kind == fileUnit {
			r.metrics.LoadFailed(string(res.diags[0].Code))
		}
		return
	}
	w.LastModified = res.modified
	if w.kind != fileUnit {
		w.ContainedModuleKeys = res.contained
	}

	if w.IsSource() {
		b.sources = append(b.sources, &pendingSource{file: w, scope: res.scope, src: res.source})
		return
	}

	provided := make(map[string]bool, len(res.modules))
	for _, m := range res.modules {
		key := m.Key()
		provided[key] = true
		delete(r.failures, key)
		if old, ok := records[key]; ok && old.module.Equal(m) {
			old.state, old.file = StateLoaded, w
			continue
		}
		records[key] = &record{module: m, state: StateLoaded, file: w}
		r.metrics.ModuleLoaded(res.scope.String())
		r.logger.Debug("module loaded", "key", key, "scope", res.scope, "kind", m.Kind())
	}
	for key, rec := range records {
		if rec.file == w && !provided[key] {
			delete(records, key)
		}
	}
}

// compileSources compiles the pending composition sources one level of
// the partial graph at a time, so a source is compiled only after every
// source it contains. Sources on or behind a containment cycle fail.
func (b *batch) compileSources() {
	r := b.r
	if len(b.sources) == 0 {
		return
	}
	pending := make(map[string]*pendingSource, len(b.sources))
	for _, p := range b.sources {
		pending[p.file.ModuleKey] = p
	}
	b.sources = nil

	r.buildPartialGraph()
	g := r.partial.Restrict(slices.Sorted(maps.Keys(pending))...)
	levels, err := g.Levels()
	var cycle *depgraph.CycleError
	if errors.As(err, &cycle) {
		for _, key := range cycle.Cycle {
			p := pending[key]
			b.failCompile(p.file, p.scope, diag.List{diag.Errorf(diag.CodeDependencyCycle,
				"composition %s is on or behind a containment cycle among %s", key,
				strings.Join(cycle.Cycle, ", ")).WithPath(p.file.Path()).WithModule(key)})
			g.RemoveNode(key)
		}
		levels, _ = g.Levels()
	}

	for _, level := range levels {
		lookup := lookupIn(r.activeModules())
		futures := make([]*Future[*module.Module], len(level))
		for i, key := range level {
			p := pending[key]
			futures[i] = r.compileSource(p.file, p.scope, p.src, lookup)
		}
		for i, key := range level {
			p := pending[key]
			m, err := futures[i].Wait(context.Background())
			if err != nil {
				b.failCompile(p.file, p.scope, compileDiagnostics(err, p.file))
				continue
			}
			b.installGenerated(p.scope, m, p.file, p.src, false)
		}
	}
}

func lookupIn(active map[string]*module.Module) subgraph.Lookup {
	return func(key string) (*module.Module, bool) {
		m, ok := active[key]
		return m, ok
	}
}

// compileSource schedules a source compile on the worker pool.
func (r *Registry) compileSource(w *FileWatch, scope Scope, src []byte, lookup subgraph.Lookup) *Future[*module.Module] {
	key, path := w.ModuleKey, w.Path()
	f := r.runCompile(func(ctx context.Context) (*module.Module, error) {
		unit, err := r.compiler.Compile(ctx, key, src, lookup)
		if err != nil {
			return nil, err
		}
		return module.New(key, unit, module.Options{
			SourcePath: path,
			SourceCode: string(src),
			BuiltIn:    scope == ScopeBuiltIn,
		})
	})
	w.pending = f
	return f
}

// runCompile runs fn on the worker pool and tracks it in the registry and
// process-wide future sets.
func (r *Registry) runCompile(fn func(ctx context.Context) (*module.Module, error)) *Future[*module.Module] {
	f := newFuture[*module.Module]()
	r.compiles.Add(f)
	r.shared.trackCompile(f)
	go func() {
		ctx := context.Background()
		_ = r.pool.Acquire(ctx, 1)
		defer r.pool.Release(1)
		m, err := fn(ctx)
		r.metrics.Compiled(err == nil)
		f.resolve(m, err)
	}()
	return f
}

// compileDiagnostics converts a compile error into diagnostics attributed to
// the source file.
func compileDiagnostics(err error, w *FileWatch) diag.List {
	var derr *diag.Error
	if errors.As(err, &derr) {
		out := make(diag.List, len(derr.Diagnostics))
		for i, d := range derr.Diagnostics {
			out[i] = d.WithPath(w.Path()).WithModule(w.ModuleKey)
		}
		return out
	}
	return diag.List{diag.Errorf(diag.CodeCompileFailed, "composition %s failed to compile", w.ModuleKey).
		WithPath(w.Path()).WithModule(w.ModuleKey).WithCause(err)}
}

// failCompile records a failed compile and removes the stale module.
func (b *batch) failCompile(w *FileWatch, scope Scope, diags diag.List) {
	r := b.r
	delete(r.records[scope][Generated], w.ModuleKey)
	r.failures[w.ModuleKey] = diags
	for _, d := range diags {
		r.logger.Warn(d.Message, "key", w.ModuleKey, "path", w.Path())
		b.addDiag(d)
	}
}

// installGenerated installs a compiled or specialized module. Unless force
// is set, a module equal to the installed one keeps the old record.
func (b *batch) installGenerated(scope Scope, m *module.Module, w *FileWatch, src []byte, force bool) {
	r := b.r
	records := r.records[scope][Generated]
	key := m.Key()
	delete(r.failures, key)
	for _, d := range m.Diagnostics() {
		b.addDiag(d)
	}
	if old, ok := records[key]; ok && !force && old.module.Equal(m) {
		old.state = StateLoaded
		return
	}
	records[key] = &record{module: m, state: StateLoaded, file: w, source: src}
	r.metrics.ModuleLoaded(scope.String())
}

// reify records the specializations needed by wanted keys and active
// dependencies, then builds every one whose dependencies are loaded.
func (b *batch) reify() {
	r := b.r
	active := r.activeModules()
	candidates := make(map[string]bool)
	for key := range r.wanted {
		candidates[key] = true
	}
	for _, m := range active {
		for _, dep := range m.Dependencies() {
			candidates[dep] = true
		}
	}
	for key := range candidates {
		if _, ok := active[key]; ok {
			continue
		}
		generic, scope, types, ok := r.genericFor(key, active)
		if !ok {
			continue
		}
		r.shared.AwaitReification(r.owner(scope), key, specializationNeeds(generic, types))
	}

	type job struct {
		key   string
		scope Scope
		f     *Future[*module.Module]
	}
	var jobs []job
	for _, s := range Scopes() {
		owner := r.owner(s)
		for key, needs := range r.shared.AwaitingReification(owner) {
			if slices.ContainsFunc(needs, func(k string) bool { _, ok := active[k]; return !ok }) {
				continue
			}
			generic, scope, types, ok := r.genericFor(key, active)
			if !ok || scope != s {
				continue
			}
			jobs = append(jobs, job{key: key, scope: s, f: r.specialize(generic, types, s)})
		}
	}
	slices.SortFunc(jobs, func(a, b job) int { return strings.Compare(a.key, b.key) })
	for _, j := range jobs {
		m, err := j.f.Wait(context.Background())
		if err != nil {
			d := diag.Errorf(diag.CodeCompileFailed, "specialization %s failed", j.key).WithModule(j.key).WithCause(err)
			r.failures[j.key] = diag.List{d}
			b.addDiag(d)
			r.shared.Reified(r.owner(j.scope), j.key, err)
			continue
		}
		b.installGenerated(j.scope, m, nil, nil, false)
		r.shared.Reified(r.owner(j.scope), j.key, nil)
	}
}

// genericFor finds the loaded generic node class key specializes and the
// concrete types it names.
func (r *Registry) genericFor(key string, active map[string]*module.Module) (*module.Module, Scope, map[string]string, bool) {
	g, ok := genericPrefix(key, active)
	if !ok {
		return nil, 0, nil, false
	}
	generic := active[g]
	if !generic.IsUnspecializedGeneric() {
		return nil, 0, nil, false
	}
	types, ok := module.ParseSpecializedKey(key, generic)
	if !ok {
		return nil, 0, nil, false
	}
	_, loc, _ := r.activeRecord(g)
	return generic, loc.Scope, types, true
}

// specializationNeeds lists the concrete type keys that replace type
// parameters in the generic's dependencies.
func specializationNeeds(generic *module.Module, types map[string]string) []string {
	var needs []string
	for _, dep := range generic.Dependencies() {
		if concrete, ok := types[dep]; ok {
			needs = append(needs, concrete)
		}
	}
	slices.Sort(needs)
	return slices.Compact(needs)
}

func (r *Registry) specialize(generic *module.Module, types map[string]string, scope Scope) *Future[*module.Module] {
	return r.runCompile(func(context.Context) (*module.Module, error) {
		return module.Specialize(generic, types, module.Options{BuiltIn: scope == ScopeBuiltIn})
	})
}

func (b *batch) addDiag(d diag.Diagnostic) {
	b.diags = append(b.diags, d)
	b.result.Diagnostics = append(b.result.Diagnostics, d)
}

// addWave records one wave of the batch result.
func (b *batch) addWave(c Changes) {
	if c.Empty() && len(c.Diagnostics) == 0 {
		return
	}
	b.result.Waves = append(b.result.Waves, c)
}

// deliver hands every wave to the observer in order.
func (b *batch) deliver() {
	if b.r.opts.Observer == nil {
		return
	}
	for _, c := range b.result.Waves {
		b.r.opts.Observer.ModulesChanged(b.ctx, c)
		b.r.metrics.Notified()
	}
}

// propagate reloads every active module depending on changed, one
// dependency level at a time, recording one wave per level.
func (b *batch) propagate(changed []string) {
	r := b.r
	if len(changed) == 0 {
		return
	}
	skip := toSet(changed)
	affected := make(map[string]bool)
	dependents := r.graph.TransitiveDependents(changed...)
	// Compositions are recompiled when a node class they contain changes,
	// whatever dependencies their compiled module declares.
	dependents = append(dependents, r.partial.TransitiveDependents(changed...)...)
	for _, key := range dependents {
		if _, ok := skip[key]; ok {
			continue
		}
		if _, _, ok := r.activeRecord(key); ok {
			affected[key] = true
		}
	}
	if len(affected) == 0 {
		return
	}

	tokens := make(map[string]Owner, len(affected))
	for key := range affected {
		rec, loc, _ := r.activeRecord(key)
		rec.state = StateInvalidated
		tokens[key] = r.owner(loc.Scope)
		r.shared.Invalidate(tokens[key], key)
	}
	r.metrics.Invalidated(len(affected))
	r.publish()

	for _, level := range r.levels(affected) {
		wave := newChanges()
		futures := b.reloadLevel(level)
		for _, key := range level {
			old, loc, _ := r.activeRecord(key)
			m, err := futures[key].Wait(context.Background())
			if err != nil {
				var diags diag.List
				if old.file != nil && old.file.IsSource() {
					diags = compileDiagnostics(err, old.file)
				} else {
					diags = diag.List{diag.Errorf(diag.CodeCompileFailed, "reloading %s failed", key).
						WithModule(key).WithCause(err)}
				}
				delete(r.records[loc.Scope][loc.SubScope], key)
				r.failures[key] = diags
				wave.Removed[key] = old.module
				wave.Diagnostics = append(wave.Diagnostics, diags...)
				for _, d := range diags {
					b.addDiag(d)
				}
			} else {
				r.records[loc.Scope][loc.SubScope][key] = &record{
					module: m, state: StateLoaded, file: old.file, source: old.source,
				}
				delete(r.failures, key)
				wave.Modified[key] = Modification{Old: old.module, New: m}
			}
			r.shared.Revalidate(tokens[key], key)
		}
		r.publish()
		b.addWave(wave)
	}
}

// levels groups affected keys by dependency depth within the affected set,
// so each level only depends on earlier levels. A cycle leaves one level.
func (r *Registry) levels(affected map[string]bool) [][]string {
	keys := slices.Sorted(maps.Keys(affected))
	levels, err := r.graph.Restrict(keys...).Levels()
	if err != nil {
		r.logger.Warn("dependency cycle among modules", "err", err)
		return [][]string{keys}
	}
	return levels
}

// reloadLevel starts rebuilding every key of one dependency level. Keys
// provided by the same module file or module set share a single read.
func (b *batch) reloadLevel(level []string) map[string]*Future[*module.Module] {
	r := b.r
	futures := make(map[string]*Future[*module.Module], len(level))
	byFile := make(map[*FileWatch]map[string]*Future[*module.Module])
	var files []*FileWatch
	for _, key := range level {
		rec, loc, _ := r.activeRecord(key)
		if rec.source != nil || loc.SubScope == Generated {
			futures[key] = b.reload(key)
			continue
		}
		if _, ok := byFile[rec.file]; !ok {
			byFile[rec.file] = make(map[string]*Future[*module.Module])
			files = append(files, rec.file)
		}
		f := newFuture[*module.Module]()
		byFile[rec.file][key] = f
		futures[key] = f
	}
	for _, w := range files {
		pending := byFile[w]
		scope := r.fileLoc[w.Path()]
		go func() {
			ctx := context.Background()
			_ = r.pool.Acquire(ctx, 1)
			res := r.readFile(w, scope)
			r.pool.Release(1)
			for key, f := range pending {
				f.resolve(providedBy(res, key))
			}
		}()
	}
	return futures
}

// providedBy picks key out of a read result.
func providedBy(res readResult, key string) (*module.Module, error) {
	for _, m := range res.modules {
		if m.Key() == key {
			return m, nil
		}
	}
	if err := res.diags.ForModule(key).Err(); err != nil {
		return nil, err
	}
	if err := res.diags.Err(); res.failed && err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%s: no longer provided by %s", key, res.file.Path())
}

// reload rebuilds a generated module from its source or its generic.
func (b *batch) reload(key string) *Future[*module.Module] {
	r := b.r
	rec, loc, _ := r.activeRecord(key)
	if rec.source != nil {
		return r.compileSource(rec.file, loc.Scope, rec.source, lookupIn(r.activeModules()))
	}
	spec, ok := rec.module.Kind().(module.Specialized)
	if !ok {
		return completedFuture[*module.Module](nil, fmt.Errorf("%s: no way to rebuild generated module", key))
	}
	generic, ok := r.activeModules()[spec.Generic]
	if !ok {
		return completedFuture[*module.Module](nil, fmt.Errorf("%s: generic %s is not loaded", key, spec.Generic))
	}
	return r.specialize(generic, spec.Types, loc.Scope)
}
