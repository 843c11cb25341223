// SPDX-License-Identifier: MPL-2.0

package config

import (
	"io"

	"github.com/charmbracelet/log"

	"github.com/invowk/modlink/internal/logging"
	"github.com/invowk/modlink/internal/registry"
	"github.com/invowk/modlink/internal/targetgroup"
	"github.com/invowk/modlink/pkg/compat"
)

// Logger builds the logger described by the log section, writing to w.
func (c *Config) Logger(w io.Writer) (*log.Logger, error) {
	return logging.New(logging.Options{
		Level:  string(c.Log.Level),
		Format: string(c.Log.Format),
		Writer: w,
	})
}

// Target returns the triple of arch on the configured platform.
func (c *Config) Target(arch Architecture) (compat.Triple, error) {
	return compat.ParseTriple(string(arch) + "-" + c.Platform.Vendor() + "-" + c.Platform.TripleOS() + string(c.OSVersion))
}

// RegistryOptions returns the registry settings of c. Target, cache store,
// metrics and observer are left to the caller.
func (c *Config) RegistryOptions() registry.Options {
	return registry.Options{
		SearchPaths: map[registry.Scope][]string{
			registry.ScopeBuiltIn: toStrings(c.SearchPaths.BuiltIn),
			registry.ScopeSystem:  toStrings(c.SearchPaths.System),
			registry.ScopeUser:    toStrings(c.SearchPaths.User),
		},
		LoadAllModules:     c.LoadAllModules,
		Workers:            c.Workers,
		CacheDir:           string(c.CacheDir),
		LibrarySearchPaths: toStrings(c.LibrarySearchPaths),
		OptionalLibraries:  append([]string(nil), c.OptionalLibraries...),
	}
}

// TargetGroupOptions returns the target group of c, one target per
// configured architecture. tmpl seeds the per-registry options that the
// config cannot describe.
func (c *Config) TargetGroupOptions(tmpl registry.Options) targetgroup.Options {
	ropts := c.RegistryOptions()
	ropts.Shared = tmpl.Shared
	ropts.Observer = tmpl.Observer
	ropts.CacheStore = tmpl.CacheStore
	ropts.Compiler = tmpl.Compiler
	ropts.Metrics = tmpl.Metrics
	ropts.Logger = tmpl.Logger
	ropts.AllowReset = tmpl.AllowReset
	return targetgroup.Options{
		Architectures: toStrings(c.Architectures),
		Vendor:        c.Platform.Vendor(),
		OS:            c.Platform.TripleOS(),
		OSVersion:     string(c.OSVersion),
		Registry:      ropts,
		Logger:        tmpl.Logger,
	}
}

func toStrings[S ~string](values []S) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}
