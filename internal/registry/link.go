// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"context"
	"slices"

	"github.com/invowk/modlink/internal/linkplan"
	"github.com/invowk/modlink/pkg/compat"
	"github.com/invowk/modlink/pkg/diag"
)

// LinkOptions configure LinkPlan.
type LinkOptions struct {
	// Executable links the runtime entry point.
	Executable bool
	Strategy   CacheStrategy
}

// LinkPlan loads keys and plans the link of them and everything they
// depend on. It fails with a *diag.Error when a needed module failed to load
// or compile, or does not support the registry's target. Keys that simply
// cannot be found become warnings in the plan.
func (r *Registry) LinkPlan(ctx context.Context, keys []string, opts LinkOptions) (*linkplan.Plan, error) {
	ctx, span := tracer.Start(ctx, "registry.LinkPlan")
	defer span.End()

	if _, err := r.Load(ctx, keys...).Wait(ctx); err != nil {
		return nil, err
	}
	if err := r.checkClosure(keys).Err(); err != nil {
		return nil, err
	}
	caches, err := r.Caches(ctx, opts.Strategy)
	if err != nil {
		return nil, err
	}
	return linkplan.Build(ctx, r.snap.Load().closure(keys), caches, r, linkplan.Options{
		LibrarySearchPaths: r.opts.LibrarySearchPaths,
		OptionalLibraries:  r.opts.OptionalLibraries,
		Executable:         opts.Executable,
		Logger:             r.logger,
		Metrics:            r.metrics,
	})
}

// closure returns keys and everything they transitively depend on, sorted.
func (s *snapshot) closure(keys []string) []string {
	all := append(slices.Clone(keys), s.graph.TransitiveDependencies(keys...)...)
	slices.Sort(all)
	return slices.Compact(all)
}

// checkClosure reports the failures and target mismatches among keys and
// their dependencies.
func (r *Registry) checkClosure(keys []string) diag.List {
	snap := r.snap.Load()
	target := r.opts.Target
	var out diag.List
	for _, key := range snap.closure(keys) {
		if failed, ok := snap.failures[key]; ok {
			out = append(out, failed.Errors()...)
			continue
		}
		m, ok := snap.active[key]
		if !ok {
			continue
		}
		supported := compat.Intersect(m.Compatibility(), target.Compatibility())
		if !supported.IsCompatibleWithPlatform(target.Platform()) || !supported.SupportsArchitecture(target.Platform(), target.Arch) {
			out = append(out, diag.Errorf(diag.CodeUnsupportedTarget,
				"%s does not support %s; it supports %s", key, target, m.Compatibility().Describe()).
				WithModule(key).WithPath(m.DependencyPath()))
		}
	}
	return out
}

// Compatibility returns the intersection of the compatibility of keys and
// every loaded module they depend on.
func (r *Registry) Compatibility(keys ...string) compat.Set {
	snap := r.snap.Load()
	sets := make([]compat.Set, 0, len(keys))
	for _, key := range snap.closure(keys) {
		if m, ok := snap.active[key]; ok {
			sets = append(sets, m.Compatibility())
		}
	}
	return compat.IntersectAll(sets...)
}

// Diagnostics returns why key failed to load, if it did.
func (r *Registry) Diagnostics(key string) diag.List {
	return slices.Clone(r.snap.Load().failures[key])
}
