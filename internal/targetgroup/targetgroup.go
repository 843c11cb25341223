// SPDX-License-Identifier: MPL-2.0

package targetgroup

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/invowk/modlink/internal/linkplan"
	"github.com/invowk/modlink/internal/logging"
	"github.com/invowk/modlink/internal/registry"
	"github.com/invowk/modlink/pkg/compat"
	"github.com/invowk/modlink/pkg/diag"
)

// ErrNoArchitectures is returned by New when no architecture is configured.
var ErrNoArchitectures = errors.New("target group needs at least one architecture")

type (
	// Options configure New.
	Options struct {
		// Architectures lists the architectures to build for, one registry
		// each.
		Architectures []string
		// Vendor, OS and OSVersion complete each target triple.
		Vendor    string
		OS        string
		OSVersion string
		// Registry is the template every registry is created from. Its
		// Target is replaced and its Shared service is shared by the group.
		Registry registry.Options
		Logger   *log.Logger
	}

	// Group holds one registry per target, sharing one service.
	Group struct {
		targets    []compat.Triple
		registries map[string]*registry.Registry
		shared     *registry.Shared
		logger     *log.Logger
	}

	// Support is the outcome of checking a composition against the group.
	Support struct {
		// Compatibility is the intersection over the composition and
		// everything it depends on, across every target.
		Compatibility compat.Set
		// Targets are the targets the composition can be built for, in
		// group order.
		Targets []compat.Triple
	}
)

// New creates the registries of the group. A failure closes the registries
// already created.
func New(opts Options) (*Group, error) {
	archs := slices.Compact(slices.Sorted(slices.Values(opts.Architectures)))
	if len(archs) == 0 {
		return nil, ErrNoArchitectures
	}
	vendor := opts.Vendor
	if vendor == "" {
		vendor = "unknown"
	}
	shared := opts.Registry.Shared
	if shared == nil {
		shared = registry.NewShared(registry.SharedOptions{AllowReset: opts.Registry.AllowReset})
	}
	logger := logging.OrDiscard(opts.Logger)

	g := &Group{
		registries: make(map[string]*registry.Registry, len(archs)),
		shared:     shared,
		logger:     logger,
	}
	for _, arch := range archs {
		target, err := compat.ParseTriple(arch + "-" + vendor + "-" + opts.OS + opts.OSVersion)
		if err != nil {
			_ = g.Close(context.Background())
			return nil, err
		}
		ropts := opts.Registry
		ropts.Target = target
		ropts.Shared = shared
		if ropts.Logger == nil {
			ropts.Logger = logger
		}
		r, err := registry.New(ropts)
		if err != nil {
			_ = g.Close(context.Background())
			return nil, fmt.Errorf("creating registry for %s: %w", target, err)
		}
		g.targets = append(g.targets, target)
		g.registries[arch] = r
	}
	return g, nil
}

// Targets returns the group's targets ordered by architecture.
func (g *Group) Targets() []compat.Triple { return slices.Clone(g.targets) }

// Registry returns the registry of arch.
func (g *Group) Registry(arch string) (*registry.Registry, bool) {
	r, ok := g.registries[arch]
	return r, ok
}

// Shared returns the service every registry of the group is attached to.
func (g *Group) Shared() *registry.Shared { return g.shared }

// each runs fn for every target concurrently.
func (g *Group) each(ctx context.Context, fn func(ctx context.Context, t compat.Triple, r *registry.Registry) error) error {
	eg, ctx := errgroup.WithContext(ctx)
	for _, t := range g.targets {
		r := g.registries[t.Arch]
		eg.Go(func() error { return fn(ctx, t, r) })
	}
	return eg.Wait()
}

// Load loads keys into every registry and returns the diagnostics of all of
// them.
func (g *Group) Load(ctx context.Context, keys ...string) (diag.List, error) {
	var (
		mu  sync.Mutex
		all diag.List
	)
	err := g.each(ctx, func(ctx context.Context, _ compat.Triple, r *registry.Registry) error {
		res, err := r.Load(ctx, keys...).Wait(ctx)
		if err != nil {
			return err
		}
		mu.Lock()
		all = append(all, res.Diagnostics...)
		mu.Unlock()
		return nil
	})
	all.Sort()
	return slices.CompactFunc(all, func(a, b diag.Diagnostic) bool {
		return a.Code == b.Code && a.Path == b.Path && a.ModuleKey == b.ModuleKey && a.Message == b.Message
	}), err
}

// Supported loads keys and intersects each target's own support with the
// composition's compatibility. It returns a *diag.Error with a
// CodeNoCompatibleTarget diagnostic when no target is left.
func (g *Group) Supported(ctx context.Context, keys ...string) (Support, error) {
	if _, err := g.Load(ctx, keys...); err != nil {
		return Support{}, err
	}
	sets := make([]compat.Set, 0, len(g.targets))
	for _, t := range g.targets {
		sets = append(sets, g.registries[t.Arch].Compatibility(keys...))
	}
	out := Support{Compatibility: compat.IntersectAll(sets...)}
	for i, t := range g.targets {
		if supports(sets[i], t) {
			out.Targets = append(out.Targets, t)
		}
	}
	if len(out.Targets) > 0 {
		return out, nil
	}

	names := make([]string, len(g.targets))
	for i, t := range g.targets {
		names[i] = t.String()
	}
	d := diag.Errorf(diag.CodeNoCompatibleTarget,
		"the composition supports %s, which excludes every configured target (%s)",
		out.Compatibility.Describe(), strings.Join(names, ", ")).
		WithTitle("No compatible target")
	g.logger.Warn(d.Message)
	return out, &diag.Error{Diagnostics: diag.List{d}}
}

// supports reports whether set leaves anything of target's own support.
func supports(set compat.Set, t compat.Triple) bool {
	platform := t.Platform()
	remaining := compat.Intersect(set, t.Compatibility())
	return remaining.IsCompatibleWithPlatform(platform) && remaining.SupportsArchitecture(platform, t.Arch)
}

// LinkPlans plans the link of keys for every supported target, keyed by
// architecture.
func (g *Group) LinkPlans(ctx context.Context, keys []string, opts registry.LinkOptions) (map[string]*linkplan.Plan, error) {
	support, err := g.Supported(ctx, keys...)
	if err != nil {
		return nil, err
	}
	supported := make(map[string]bool, len(support.Targets))
	for _, t := range support.Targets {
		supported[t.Arch] = true
	}

	var mu sync.Mutex
	plans := make(map[string]*linkplan.Plan, len(supported))
	err = g.each(ctx, func(ctx context.Context, t compat.Triple, r *registry.Registry) error {
		if !supported[t.Arch] {
			return nil
		}
		plan, err := r.LinkPlan(ctx, keys, opts)
		if err != nil {
			return fmt.Errorf("%s: %w", t, err)
		}
		mu.Lock()
		plans[t.Arch] = plan
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return plans, nil
}

// Close closes every registry of the group.
func (g *Group) Close(ctx context.Context) error {
	var errs []error
	for _, arch := range slices.Sorted(maps.Keys(g.registries)) {
		if err := g.registries[arch].Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("closing %s registry: %w", arch, err))
		}
	}
	return errors.Join(errs...)
}
