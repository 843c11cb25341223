// SPDX-License-Identifier: MPL-2.0

// Package registry loads modules from layered search paths, keeps them
// current as files change, and resolves link requests against them.
//
// Every mutation runs on one serial queue per registry. Reads go through an
// immutable snapshot published after each step, so Lookup and Resolve never
// block on loading. Composition sources and generic specializations compile
// on a bounded worker pool; Close waits for them.
package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/invowk/modlink/internal/cachestore"
	"github.com/invowk/modlink/internal/depgraph"
	"github.com/invowk/modlink/internal/linkplan"
	"github.com/invowk/modlink/internal/logging"
	"github.com/invowk/modlink/internal/metrics"
	"github.com/invowk/modlink/internal/subgraph"
	"github.com/invowk/modlink/internal/watch"
	"github.com/invowk/modlink/pkg/compat"
	"github.com/invowk/modlink/pkg/diag"
	"github.com/invowk/modlink/pkg/module"
	"github.com/invowk/modlink/pkg/moduleset"
)

// ErrResetDisabled is returned by ResetForTesting on a registry created
// without AllowReset.
var ErrResetDisabled = errors.New("registry reset is disabled")

type (
	// Options configure New.
	Options struct {
		// SearchPaths lists the directories of each scope. Missing
		// directories produce a warning and are rescanned later.
		SearchPaths map[Scope][]string
		// Target is the compile target modules are checked against.
		Target compat.Triple
		// LoadAllModules loads every discoverable module on the first Load
		// instead of only the requested keys and their dependencies.
		LoadAllModules bool
		// Compiler builds composition sources. Nil means the CUE compiler.
		Compiler subgraph.Compiler
		// Workers bounds concurrent file reads and compiles. Zero means
		// GOMAXPROCS.
		Workers int
		// Shared is the process-wide service. Nil gives the registry a
		// private one.
		Shared   *Shared
		Observer Observer
		// CacheDir receives cache artifacts; CacheStore records their
		// manifests. Both are needed for BuildCaches.
		CacheDir   string
		CacheStore *cachestore.Store
		// LibrarySearchPaths and OptionalLibraries are passed to link
		// planning.
		LibrarySearchPaths []string
		OptionalLibraries  []string
		// AllowReset enables ResetForTesting.
		AllowReset bool
		Logger     *log.Logger
		Metrics    *metrics.Metrics
	}

	// Registry is a layered module registry for one compile target.
	Registry struct {
		id       uuid.UUID
		opts     Options
		compiler subgraph.Compiler
		logger   *log.Logger
		metrics  *metrics.Metrics
		shared   *Shared
		queue    *serialQueue
		pool     *semaphore.Weighted
		workers  int
		compiles FutureSet
		closed   atomic.Bool
		snap     atomic.Pointer[snapshot]

		// sets caches opened module sets for Description.
		setsMu sync.Mutex
		sets   map[string]*moduleset.Set
		flight singleflight.Group

		// The fields below are owned by the queue goroutine.
		records  [numScopes][numSubScopes]map[string]*record
		files    map[string]*FileWatch
		fileLoc  map[string]Scope
		graph    *depgraph.Graph
		// partial holds only composition sources and the node classes
		// each one contains, loaded or not.
		partial  *depgraph.Graph
		wanted   map[string]bool
		failures map[string]diag.List
		scanned  bool
		warned   map[string]bool
	}

	// record is one module instance in one sub-scope.
	record struct {
		module *module.Module
		state  State
		file   *FileWatch
		// source holds the composition source a generated record was
		// compiled from.
		source []byte
	}

	// snapshot is the read-only view published after each queue step.
	snapshot struct {
		active   map[string]*module.Module
		location map[string]Location
		states   map[Location]map[string]State
		graph    *depgraph.Graph
		failures map[string]diag.List
	}
)

// New creates a registry. Nothing is loaded until the first Load, Rescan or
// LinkPlan.
func New(opts Options) (*Registry, error) {
	if opts.Target.Arch == "" {
		return nil, errors.New("registry: target triple is required")
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	shared := opts.Shared
	if shared == nil {
		shared = NewShared(SharedOptions{AllowReset: opts.AllowReset})
	}
	compiler := opts.Compiler
	if compiler == nil {
		compiler = subgraph.CUECompiler{}
	}

	r := &Registry{
		id:       uuid.New(),
		opts:     opts,
		compiler: compiler,
		logger:   logging.OrDiscard(opts.Logger).With("target", opts.Target.String()),
		metrics:  opts.Metrics,
		shared:   shared,
		queue:    newSerialQueue(),
		pool:     semaphore.NewWeighted(int64(workers)),
		workers:  workers,
		sets:     make(map[string]*moduleset.Set),
	}
	r.resetState()
	r.publish()
	shared.acquire()
	r.metrics.RegistryAttached(1)
	return r, nil
}

func (r *Registry) resetState() {
	for s := range numScopes {
		for sub := range numSubScopes {
			r.records[s][sub] = make(map[string]*record)
		}
	}
	r.files = make(map[string]*FileWatch)
	r.fileLoc = make(map[string]Scope)
	r.graph = depgraph.New()
	r.partial = depgraph.New()
	r.wanted = make(map[string]bool)
	r.failures = make(map[string]diag.List)
	r.warned = make(map[string]bool)
	r.scanned = false
}

// ID identifies the registry in the shared service.
func (r *Registry) ID() uuid.UUID { return r.id }

// Target returns the registry's compile target.
func (r *Registry) Target() compat.Triple { return r.opts.Target }

// Shared returns the service the registry is attached to.
func (r *Registry) Shared() *Shared { return r.shared }

func (r *Registry) owner(s Scope) Owner {
	return Owner{Registry: r.id, Scope: s}
}

// activeRecord returns the narrowest instance of key. Within a scope an
// installed module shadows a generated one.
func (r *Registry) activeRecord(key string) (*record, Location, bool) {
	for _, s := range narrowestFirst() {
		for _, sub := range []SubScope{Installed, Generated} {
			if rec, ok := r.records[s][sub][key]; ok && rec.module != nil {
				return rec, Location{Scope: s, SubScope: sub}, true
			}
		}
	}
	return nil, Location{}, false
}

// activeModules returns the narrowest module of every key.
func (r *Registry) activeModules() map[string]*module.Module {
	out := make(map[string]*module.Module)
	for _, s := range Scopes() {
		for _, sub := range []SubScope{Generated, Installed} {
			for key, rec := range r.records[s][sub] {
				if rec.module != nil {
					out[key] = rec.module
				}
			}
		}
	}
	return out
}

// publish rebuilds the dependency graphs and swaps in a new snapshot.
func (r *Registry) publish() {
	active := r.activeModules()
	g := depgraph.New()
	for key, m := range active {
		g.AddNode(key)
		g.SetDependencies(key, m.Dependencies())
	}
	r.graph = g
	r.buildPartialGraph()

	snap := &snapshot{
		active:   active,
		location: make(map[string]Location, len(active)),
		states:   make(map[Location]map[string]State),
		graph:    g.Clone(),
		failures: make(map[string]diag.List, len(r.failures)),
	}
	for key := range active {
		_, loc, _ := r.activeRecord(key)
		snap.location[key] = loc
	}
	for _, s := range Scopes() {
		for _, sub := range []SubScope{Installed, Generated} {
			loc := Location{Scope: s, SubScope: sub}
			states := make(map[string]State, len(r.records[s][sub]))
			for key, rec := range r.records[s][sub] {
				states[key] = rec.state
			}
			snap.states[loc] = states
		}
	}
	for key, d := range r.failures {
		snap.failures[key] = slices.Clone(d)
	}
	r.snap.Store(snap)
}

// buildPartialGraph rebuilds the graph of composition sources from what
// their files contain, so a source whose compile failed still depends on
// the node classes it names.
func (r *Registry) buildPartialGraph() {
	p := depgraph.New()
	for _, path := range sortedPaths(r.files) {
		if w := r.files[path]; w.IsSource() {
			p.SetDependencies(w.ModuleKey, w.ContainedModuleKeys)
		}
	}
	r.partial = p
}

// Lookup returns the active module for key.
func (r *Registry) Lookup(key string) (*module.Module, bool) {
	m, ok := r.snap.Load().active[key]
	return m, ok
}

// Location returns the sub-scope the active module of key lives in.
func (r *Registry) Location(key string) (Location, bool) {
	loc, ok := r.snap.Load().location[key]
	return loc, ok
}

// Modules returns every active module by key.
func (r *Registry) Modules() map[string]*module.Module {
	active := r.snap.Load().active
	out := make(map[string]*module.Module, len(active))
	for k, m := range active {
		out[k] = m
	}
	return out
}

// State returns the lifecycle state of key in a sub-scope.
func (r *Registry) State(key string, loc Location) State {
	state, ok := r.snap.Load().states[loc][key]
	if !ok {
		return StateUnloaded
	}
	return state
}

// Dependents returns every active key that transitively depends on key.
func (r *Registry) Dependents(key string) []string {
	return r.snap.Load().graph.TransitiveDependents(key)
}

// Resolve implements linkplan.Resolver.
func (r *Registry) Resolve(key string) (linkplan.Resolution, bool) {
	snap := r.snap.Load()
	m, ok := snap.active[key]
	if !ok {
		return linkplan.Resolution{}, false
	}
	loc := snap.location[key]
	return linkplan.Resolution{
		Module:    m,
		BuiltIn:   loc.Scope == ScopeBuiltIn,
		Generated: loc.SubScope == Generated,
	}, true
}

// InvalidationToken returns the token of key while it awaits reloading.
func (r *Registry) InvalidationToken(key string) (*Token, bool) {
	for _, s := range narrowestFirst() {
		if t, ok := r.shared.InvalidationToken(r.owner(s), key); ok {
			return t, true
		}
	}
	return nil, false
}

// Description returns the documentation bundled for key in its module set.
// Module sets are opened on first use and kept open until Close.
func (r *Registry) Description(key string) (string, bool, error) {
	m, ok := r.Lookup(key)
	if !ok || m.ArchivePath() == "" {
		return "", false, nil
	}
	path := m.ArchivePath()
	v, err, _ := r.flight.Do(path, func() (any, error) {
		r.setsMu.Lock()
		set, ok := r.sets[path]
		r.setsMu.Unlock()
		if ok {
			return set, nil
		}
		set, err := moduleset.Open(path)
		if err != nil {
			return nil, err
		}
		r.setsMu.Lock()
		r.sets[path] = set
		r.setsMu.Unlock()
		return set, nil
	})
	if err != nil {
		return "", false, fmt.Errorf("opening module set %s: %w", path, err)
	}
	return v.(*moduleset.Set).Description(key)
}

// searchDirs returns every configured search path.
func (r *Registry) searchDirs() []string {
	var dirs []string
	for _, s := range Scopes() {
		dirs = append(dirs, r.opts.SearchPaths[s]...)
	}
	return dirs
}

// Watch rescans changed files until ctx is canceled.
func (r *Registry) Watch(ctx context.Context) error {
	w, err := watch.New(watch.Config{
		Dirs:   r.searchDirs(),
		Logger: r.logger,
		// An empty batch after dropped events rescans every search path.
		OnChange: func(ctx context.Context, changed []string) error {
			_, err := r.Rescan(ctx, changed...).Wait(ctx)
			return err
		},
	})
	if err != nil {
		return err
	}
	return w.Run(ctx)
}

// Close waits for outstanding compiles, stops the queue and detaches from
// the shared service. There is no mid-compile cancellation.
func (r *Registry) Close(ctx context.Context) error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := r.compiles.Wait(ctx); err != nil {
		return err
	}
	r.queue.close()
	r.shared.release(r.id)
	r.metrics.RegistryAttached(-1)

	r.setsMu.Lock()
	defer r.setsMu.Unlock()
	var errs []error
	for path, set := range r.sets {
		if err := set.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", path, err))
		}
	}
	clear(r.sets)
	return errors.Join(errs...)
}

// ResetForTesting unloads everything and forgets every discovered file, as
// if the registry were new.
func (r *Registry) ResetForTesting(ctx context.Context) error {
	if !r.opts.AllowReset {
		return ErrResetDisabled
	}
	_, err := submitFuture(r.queue, func() (struct{}, error) {
		for _, s := range Scopes() {
			for _, key := range r.shared.Invalidated(r.owner(s)) {
				r.shared.Revalidate(r.owner(s), key)
			}
			for key := range r.shared.AwaitingReification(r.owner(s)) {
				r.shared.Reified(r.owner(s), key, ErrClosed)
			}
		}
		r.resetState()
		r.publish()
		return struct{}{}, nil
	}).Wait(ctx)
	return err
}

// scopeOf returns the scope whose search path contains path.
func (r *Registry) scopeOf(path string) (Scope, string, bool) {
	best, bestRoot := Scope(0), ""
	for _, s := range Scopes() {
		for _, dir := range r.opts.SearchPaths[s] {
			abs, err := filepath.Abs(dir)
			if err != nil {
				continue
			}
			if (path == abs || hasDirPrefix(path, abs)) && len(abs) > len(bestRoot) {
				best, bestRoot = s, abs
			}
		}
	}
	return best, bestRoot, bestRoot != ""
}

func hasDirPrefix(path, dir string) bool {
	return len(path) > len(dir) && path[:len(dir)] == dir && os.IsPathSeparator(path[len(dir)])
}
