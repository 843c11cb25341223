// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/invowk/modlink/internal/cachestore"
	"github.com/invowk/modlink/internal/config"
	"github.com/invowk/modlink/internal/metrics"
	"github.com/invowk/modlink/internal/registry"
	"github.com/invowk/modlink/internal/targetgroup"
	"github.com/invowk/modlink/pkg/compat"
)

// manifestDir is the manifest database directory under the cache directory.
const manifestDir = "manifests"

type (
	// App wires CLI services and shared dependencies. It is the composition
	// root for the CLI layer: every Cobra handler receives an App reference.
	App struct {
		Config  config.Provider
		Metrics *prometheus.Registry
		stdout  io.Writer
		stderr  io.Writer
	}

	// Dependencies defines the injection points for building an App. Nil
	// fields are replaced with production defaults by NewApp.
	Dependencies struct {
		Config  config.Provider
		Metrics *prometheus.Registry
		Stdout  io.Writer
		Stderr  io.Writer
	}

	// rootFlagValues holds the persistent flags of the root command.
	rootFlagValues struct {
		configPath string
		verbose    bool
	}

	// session is the per-invocation state of a command that loads modules.
	session struct {
		cfg     *config.Config
		cfgPath string
		logger  *log.Logger
		metrics *metrics.Metrics
		store   *cachestore.Store
		group   *targetgroup.Group
		single  *registry.Registry
	}

	// sessionOptions narrow what openSession builds.
	sessionOptions struct {
		// architectures restricts the group to these configured
		// architectures. Empty keeps all of them.
		architectures []string
		observer      registry.Observer
	}
)

// NewApp creates an App with defaults for omitted dependencies.
func NewApp(deps Dependencies) *App {
	if deps.Stdout == nil {
		deps.Stdout = os.Stdout
	}
	if deps.Stderr == nil {
		deps.Stderr = os.Stderr
	}
	if deps.Config == nil {
		deps.Config = config.NewProvider()
	}
	if deps.Metrics == nil {
		deps.Metrics = prometheus.NewRegistry()
	}
	return &App{
		Config:  deps.Config,
		Metrics: deps.Metrics,
		stdout:  deps.Stdout,
		stderr:  deps.Stderr,
	}
}

// loadConfig loads the configuration named by the root flags.
func (a *App) loadConfig(ctx context.Context, flags *rootFlagValues) (*config.Config, string, error) {
	return a.Config.LoadWithPath(ctx, config.LoadOptions{ConfigFilePath: flags.configPath})
}

// openSession loads the configuration and creates the target group with
// its cache store and metrics. Callers must close the session.
func (a *App) openSession(ctx context.Context, flags *rootFlagValues, opts sessionOptions) (*session, error) {
	cfg, cfgPath, err := a.loadConfig(ctx, flags)
	if err != nil {
		return nil, err
	}
	if len(opts.architectures) > 0 {
		var archs []config.Architecture
		for _, arch := range opts.architectures {
			if !slices.Contains(cfg.Architectures, config.Architecture(arch)) {
				return nil, fmt.Errorf("architecture %q is not configured (configured: %v)", arch, cfg.Architectures)
			}
			archs = append(archs, config.Architecture(arch))
		}
		cfg.Architectures = archs
	}

	logger, err := cfg.Logger(a.stderr)
	if err != nil {
		return nil, err
	}
	if flags.verbose {
		logger.SetLevel(log.DebugLevel)
	}

	s := &session{
		cfg:     cfg,
		cfgPath: cfgPath,
		logger:  logger,
		metrics: metrics.New(a.Metrics),
	}
	if cfg.CacheDir != "" {
		s.store, err = cachestore.Open(cachestore.Options{
			Dir:    filepath.Join(string(cfg.CacheDir), manifestDir),
			Logger: logger,
		})
		if err != nil {
			return nil, err
		}
	}

	s.group, err = targetgroup.New(cfg.TargetGroupOptions(registry.Options{
		CacheStore: s.store,
		Metrics:    s.metrics,
		Logger:     logger,
		Observer:   opts.observer,
	}))
	if err != nil {
		_ = s.Close(ctx)
		return nil, err
	}
	return s, nil
}

// openRegistry creates a single registry for target outside any target
// group. The store of the returned session is nil.
func (a *App) openRegistry(ctx context.Context, flags *rootFlagValues, target compat.Triple, observer registry.Observer) (*session, *registry.Registry, error) {
	cfg, cfgPath, err := a.loadConfig(ctx, flags)
	if err != nil {
		return nil, nil, err
	}
	logger, err := cfg.Logger(a.stderr)
	if err != nil {
		return nil, nil, err
	}
	if flags.verbose {
		logger.SetLevel(log.DebugLevel)
	}
	opts := cfg.RegistryOptions()
	opts.Target = target
	opts.Logger = logger
	opts.Observer = observer
	opts.Metrics = metrics.New(a.Metrics)
	r, err := registry.New(opts)
	if err != nil {
		return nil, nil, err
	}
	return &session{cfg: cfg, cfgPath: cfgPath, logger: logger, metrics: opts.Metrics, single: r}, r, nil
}

// registry returns the registry of the first target.
func (s *session) registry() *registry.Registry {
	if s.single != nil {
		return s.single
	}
	r, _ := s.group.Registry(s.group.Targets()[0].Arch)
	return r
}

// Close closes the group and the cache store.
func (s *session) Close(ctx context.Context) error {
	var errs []error
	if s.group != nil {
		errs = append(errs, s.group.Close(ctx))
	}
	if s.single != nil {
		errs = append(errs, s.single.Close(ctx))
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	return errors.Join(errs...)
}
