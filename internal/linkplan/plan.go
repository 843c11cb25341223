// SPDX-License-Identifier: MPL-2.0

package linkplan

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/invowk/modlink/internal/logging"
	"github.com/invowk/modlink/internal/metrics"
	"github.com/invowk/modlink/pkg/diag"
	"github.com/invowk/modlink/pkg/module"
)

var tracer = otel.Tracer("github.com/invowk/modlink/internal/linkplan")

// frameworkSuffix marks dependency keys naming platform frameworks.
const frameworkSuffix = ".framework"

// DefaultOptionalLibraries are system libraries that may legitimately be
// missing from the search paths because the linker finds them itself.
var DefaultOptionalLibraries = []string{"c", "c++", "dl", "m", "objc", "pthread"}

type (
	// CacheEntry is a precompiled cache available to the link.
	CacheEntry interface {
		// Path is the cache artifact to link.
		Path() string
		// Contains reports whether the cache satisfies key.
		Contains(key string) bool
		// BuiltIn reports whether the cache belongs to a built-in scope.
		BuiltIn() bool
	}

	// Resolution is a module found by a Resolver.
	Resolution struct {
		Module *module.Module
		// BuiltIn reports whether the module's scope is built-in.
		BuiltIn bool
		// Generated reports whether the module lives in a generated
		// (synthesized) sub-scope rather than on disk.
		Generated bool
	}

	// Resolver looks a key up across all scopes; the narrowest scope wins.
	Resolver interface {
		Resolve(key string) (Resolution, bool)
	}

	// ResolverFunc adapts a function to Resolver.
	ResolverFunc func(key string) (Resolution, bool)

	// Options configure Build.
	Options struct {
		// LibrarySearchPaths are searched in order for external libraries.
		LibrarySearchPaths []string
		// OptionalLibraries are not reported when unresolved. Nil means
		// DefaultOptionalLibraries.
		OptionalLibraries []string
		// Executable adds the runtime entry-point library.
		Executable bool
		Logger     *log.Logger
		Metrics    *metrics.Metrics
	}

	// split holds one category of inputs partitioned by scope.
	split[T any] struct {
		builtIn []T
		other   []T
	}

	// Plan is the categorized set of linker inputs for one request.
	Plan struct {
		caches      split[string]
		moduleFiles split[string]
		modules     split[*module.Module]
		libraries   []string
		frameworks  []string
		skipped     []string
		unresolved  []string
		diagnostics diag.List
	}
)

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(key string) (Resolution, bool) { return f(key) }

func (s *split[T]) add(builtIn bool, v T) {
	if builtIn {
		s.builtIn = append(s.builtIn, v)
	} else {
		s.other = append(s.other, v)
	}
}

func (s *split[T]) get(builtIn bool) []T {
	if builtIn {
		return slices.Clone(s.builtIn)
	}
	return slices.Clone(s.other)
}

// Build resolves keys plus the runtime libraries into a Plan. Keys are
// processed in sorted order so the plan is deterministic. Unresolved keys
// never fail the build; they become warnings.
func Build(ctx context.Context, keys []string, caches []CacheEntry, resolver Resolver, opts Options) (*Plan, error) {
	_, span := tracer.Start(ctx, "linkplan.Build")
	defer span.End()
	start := time.Now()
	defer func() { opts.Metrics.ObserveLinkPlan(time.Since(start)) }()

	logger := logging.OrDiscard(opts.Logger)
	optional := opts.OptionalLibraries
	if optional == nil {
		optional = DefaultOptionalLibraries
	}

	all := slices.Clone(keys)
	all = append(all, module.RuntimeKey)
	if opts.Executable {
		all = append(all, module.RuntimeMainKey)
	}
	slices.Sort(all)
	all = slices.Compact(all)
	span.SetAttributes(attribute.Int("linkplan.keys", len(all)))

	p := &Plan{}
	usedCaches := make(map[string]bool)
	seenPaths := make(map[string]bool)
	for _, key := range all {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if cache := findCache(caches, key); cache != nil {
			if !usedCaches[cache.Path()] {
				usedCaches[cache.Path()] = true
				p.caches.add(cache.BuiltIn(), cache.Path())
			}
			continue
		}

		if res, ok := resolver.Resolve(key); ok && res.Module != nil {
			m := res.Module
			switch {
			case m.IsUnspecializedGeneric():
				p.skipped = append(p.skipped, key)
			case m.Path() != "" && !module.IsNodeClass(m.Kind()) && !res.Generated:
				if !seenPaths[m.Path()] {
					seenPaths[m.Path()] = true
					p.moduleFiles.add(res.BuiltIn, m.Path())
				}
			default:
				p.modules.add(res.BuiltIn, m)
			}
			continue
		}

		if strings.HasSuffix(key, frameworkSuffix) {
			p.frameworks = append(p.frameworks, strings.TrimSuffix(key, frameworkSuffix))
			continue
		}
		if path, ok := findLibrary(key, opts.LibrarySearchPaths); ok {
			if !seenPaths[path] {
				seenPaths[path] = true
				p.libraries = append(p.libraries, path)
			}
			continue
		}

		p.unresolved = append(p.unresolved, key)
		if slices.Contains(optional, key) {
			continue
		}
		logger.Warn("dependency not found", "key", key)
		p.diagnostics = append(p.diagnostics, diag.Warning(diag.CodeDependencyUnresolved,
			fmt.Sprintf("no module, cache, framework or library found for %q", key)).WithModule(key))
	}
	opts.Metrics.Unresolved(len(p.diagnostics))
	span.SetAttributes(attribute.Int("linkplan.unresolved", len(p.unresolved)))
	return p, nil
}

func findCache(caches []CacheEntry, key string) CacheEntry {
	for _, c := range caches {
		if c.Contains(key) {
			return c
		}
	}
	return nil
}

// libraryCandidates lists the file names tried for an external library key.
func libraryCandidates(key string) []string {
	return []string{
		key,
		"lib" + key + ".a",
		"lib" + key + ".so",
		"lib" + key + ".dylib",
		key + ".a",
		key + ".so",
		key + ".dylib",
		key + ".lib",
		key + module.FileExt,
	}
}

// findLibrary resolves key to an existing file: an absolute or relative path
// is used as-is, otherwise each search path is tried in order.
func findLibrary(key string, searchPaths []string) (string, bool) {
	if filepath.IsAbs(key) || strings.ContainsRune(key, filepath.Separator) {
		if isFile(key) {
			return key, true
		}
		return "", false
	}
	for _, dir := range searchPaths {
		for _, name := range libraryCandidates(key) {
			path := filepath.Join(dir, name)
			if isFile(path) {
				return path, true
			}
		}
	}
	return "", false
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Caches returns the cache artifacts to link.
func (p *Plan) Caches(builtIn bool) []string { return p.caches.get(builtIn) }

// ModuleFiles returns module files to link directly from disk.
func (p *Plan) ModuleFiles(builtIn bool) []string { return p.moduleFiles.get(builtIn) }

// Modules returns modules whose in-memory units must be linked.
func (p *Plan) Modules(builtIn bool) []*module.Module { return p.modules.get(builtIn) }

// ExternalLibraries returns library files found on the search paths.
func (p *Plan) ExternalLibraries() []string { return slices.Clone(p.libraries) }

// Frameworks returns platform framework names.
func (p *Plan) Frameworks() []string { return slices.Clone(p.frameworks) }

// Skipped returns generic node classes left out because their type
// parameters are not specialized.
func (p *Plan) Skipped() []string { return slices.Clone(p.skipped) }

// Unresolved returns every key that matched nothing, including optional
// system libraries.
func (p *Plan) Unresolved() []string { return slices.Clone(p.unresolved) }

// Diagnostics returns warnings produced while planning.
func (p *Plan) Diagnostics() diag.List { return slices.Clone(p.diagnostics) }

// ModuleKeys returns the keys of the in-memory modules, sorted.
func (p *Plan) ModuleKeys() []string {
	var keys []string
	for _, m := range append(p.modules.get(true), p.modules.get(false)...) {
		keys = append(keys, m.Key())
	}
	slices.Sort(keys)
	return keys
}
