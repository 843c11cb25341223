// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/invowk/modlink/internal/cachestore"
	"github.com/invowk/modlink/internal/linkplan"
	"github.com/invowk/modlink/pkg/diag"
	"github.com/invowk/modlink/pkg/ir"
	"github.com/invowk/modlink/pkg/module"
)

// CacheStrategy selects how LinkPlan uses cache artifacts.
type CacheStrategy int

const (
	// UseExistingCaches links every up-to-date artifact already built.
	UseExistingCaches CacheStrategy = iota
	// RegenerateCaches rebuilds every artifact before linking.
	RegenerateCaches
	// NoCaches links every module individually.
	NoCaches
)

// ErrNoCacheStore is returned when building caches on a registry without a
// cache directory and store.
var ErrNoCacheStore = errors.New("registry has no cache store")

func (s CacheStrategy) String() string {
	switch s {
	case UseExistingCaches:
		return "existing"
	case RegenerateCaches:
		return "regenerate"
	case NoCaches:
		return "none"
	default:
		return fmt.Sprintf("CacheStrategy(%d)", int(s))
	}
}

// ParseCacheStrategy parses a strategy name as returned by String.
func ParseCacheStrategy(name string) (CacheStrategy, error) {
	for _, s := range []CacheStrategy{UseExistingCaches, RegenerateCaches, NoCaches} {
		if s.String() == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown cache strategy %q", name)
}

// BuildCaches loads every module and links each cacheable scope into one
// artifact, recording a manifest per artifact. Tiers that other tiers
// depend on are built first. Scopes whose modules collide on a symbol are
// skipped and reported in the returned *diag.Error.
func (r *Registry) BuildCaches(ctx context.Context) *Future[[]cachestore.Manifest] {
	if r.opts.CacheStore == nil || r.opts.CacheDir == "" {
		return completedFuture[[]cachestore.Manifest](nil, ErrNoCacheStore)
	}
	if r.closed.Load() {
		return completedFuture[[]cachestore.Manifest](nil, ErrClosed)
	}
	r.LoadAll(ctx)
	ctx = context.WithoutCancel(ctx)
	return submitFuture(r.queue, func() ([]cachestore.Manifest, error) {
		return r.buildCaches(ctx)
	})
}

func (r *Registry) buildCaches(ctx context.Context) ([]cachestore.Manifest, error) {
	ctx, span := tracer.Start(ctx, "registry.BuildCaches")
	defer span.End()

	if err := os.MkdirAll(r.opts.CacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	target := r.opts.Target.String()
	var (
		out   []cachestore.Manifest
		diags diag.List
	)
	downstream, err := r.graph.LongestDownstreamPath()
	if err != nil {
		r.logger.Warn("dependency cycle among modules, building caches in scope order", "err", err)
	}
	for _, s := range r.cacheOrder(downstream) {
		mods := r.tierModules(s)
		if len(mods) == 0 {
			continue
		}
		keys := module.SortedKeys(mods)
		units := make([]*ir.Unit, len(keys))
		hashes := make(map[string]string, len(keys))
		for i, key := range byDownstreamPath(keys, downstream) {
			units[i] = mods[key].Unit()
			hashes[key] = mods[key].Hash()
		}

		tier := s.String()
		linked, err := ir.Link(target+"-"+tier, units...)
		if err != nil {
			var dup *ir.DuplicateSymbolError
			if errors.As(err, &dup) {
				diags = append(diags, diag.Errorf(diag.CodeCompileFailed,
					"%s cache not built: %s and %s both define %s", tier, dup.First, dup.Second, dup.Symbol).
					WithTitle("Conflicting modules").WithCause(err))
				continue
			}
			return out, fmt.Errorf("linking %s cache: %w", tier, err)
		}

		path := filepath.Join(r.opts.CacheDir, cachestore.ArtifactName(target, tier))
		if err := cachestore.WriteArtifact(path, linked); err != nil {
			return out, err
		}
		m := cachestore.Manifest{
			Target:       target,
			Tier:         tier,
			ArtifactPath: path,
			BuiltInTier:  s == ScopeBuiltIn,
			Keys:         keys,
			Hashes:       hashes,
		}
		if err := r.opts.CacheStore.Put(ctx, m); err != nil {
			return out, err
		}
		r.metrics.CacheBuilt()
		r.logger.Info("cache built", "tier", tier, "modules", len(keys), "path", path)
		out = append(out, m)
	}
	return out, diags.Err()
}

// cacheOrder returns the cacheable scopes, the one holding the longest
// chain of dependents first. Ties keep scope order.
func (r *Registry) cacheOrder(downstream map[string]int) []Scope {
	depth := make(map[Scope]int)
	for key, d := range downstream {
		if _, loc, ok := r.activeRecord(key); ok {
			depth[loc.Scope] = max(depth[loc.Scope], d)
		}
	}
	var scopes []Scope
	for _, s := range Scopes() {
		if s.Cacheable() {
			scopes = append(scopes, s)
		}
	}
	slices.SortStableFunc(scopes, func(a, b Scope) int { return cmp.Compare(depth[b], depth[a]) })
	return scopes
}

// byDownstreamPath orders sorted keys by descending longest downstream
// path, so a module comes before the modules built on it.
func byDownstreamPath(keys []string, downstream map[string]int) []string {
	out := slices.Clone(keys)
	slices.SortStableFunc(out, func(a, b string) int { return cmp.Compare(downstream[b], downstream[a]) })
	return out
}

// tierModules returns the active modules that live in scope s, leaving out
// generics that only exist to be specialized.
func (r *Registry) tierModules(s Scope) map[string]*module.Module {
	out := make(map[string]*module.Module)
	for key, m := range r.activeModules() {
		_, loc, _ := r.activeRecord(key)
		if loc.Scope == s && !m.IsUnspecializedGeneric() {
			out[key] = m
		}
	}
	return out
}

// Caches returns the cache artifacts LinkPlan should use under strategy.
// Existing artifacts are skipped when missing on disk or when the modules of
// their tier changed since they were built.
func (r *Registry) Caches(ctx context.Context, strategy CacheStrategy) ([]linkplan.CacheEntry, error) {
	if strategy == NoCaches || r.opts.CacheStore == nil {
		return nil, nil
	}
	var manifests []cachestore.Manifest
	if strategy == RegenerateCaches {
		built, err := r.BuildCaches(ctx).Wait(ctx)
		if err != nil && !isDiagnostics(err) {
			return nil, err
		}
		manifests = built
	} else {
		listed, err := r.opts.CacheStore.List(ctx, r.opts.Target.String())
		if err != nil {
			return nil, err
		}
		snap := r.snap.Load()
		for _, m := range listed {
			if _, err := os.Stat(m.ArtifactPath); err != nil {
				r.logger.Debug("cache artifact missing", "path", m.ArtifactPath)
				continue
			}
			if cachestore.Stale(m, snap.tierHashes(m.Tier)) {
				r.logger.Warn("cache is stale, linking modules individually", "tier", m.Tier)
				continue
			}
			manifests = append(manifests, m)
		}
	}
	out := make([]linkplan.CacheEntry, len(manifests))
	for i, m := range manifests {
		out[i] = m
	}
	return out, nil
}

// tierHashes returns the content hash of every cacheable module in the
// named scope.
func (s *snapshot) tierHashes(tier string) map[string]string {
	out := make(map[string]string)
	for key, m := range s.active {
		if s.location[key].Scope.String() == tier && !m.IsUnspecializedGeneric() {
			out[key] = m.Hash()
		}
	}
	return out
}

func isDiagnostics(err error) bool {
	var derr *diag.Error
	return errors.As(err, &derr)
}
