// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/invowk/modlink/internal/registry"
	"github.com/invowk/modlink/pkg/module"
)

// shutdownTimeout bounds the metrics server shutdown.
const shutdownTimeout = 5 * time.Second

func newWatchCommand(app *App, flags *rootFlagValues) *cobra.Command {
	var (
		arch        string
		metricsAddr string
	)
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Load every module and report changes as files change",
		Long: `Load every module in the search paths, then watch the search paths and
print the modules added, modified and removed by each change until
interrupted. With --metrics-addr the registry metrics are served over HTTP
at /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), app, flags, arch, metricsAddr)
		},
	}
	watchCmd.Flags().StringVar(&arch, "arch", "", "architecture whose registry is watched (default: the first configured)")
	watchCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on (e.g. :9464)")
	return watchCmd
}

// changePrinter is an Observer that writes each notification.
type changePrinter struct {
	mu sync.Mutex
	w  io.Writer
}

// ModulesChanged implements registry.Observer.
func (p *changePrinter) ModulesChanged(_ context.Context, c registry.Changes) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, key := range module.SortedKeys(c.Added) {
		fmt.Fprintf(p.w, "%s %s\n", SuccessStyle.Render("+"), KeyStyle.Render(key))
	}
	for _, key := range module.SortedKeys(c.Modified) {
		fmt.Fprintf(p.w, "%s %s\n", WarningStyle.Render("~"), KeyStyle.Render(key))
	}
	for _, key := range module.SortedKeys(c.Removed) {
		fmt.Fprintf(p.w, "%s %s\n", ErrorStyle.Render("-"), KeyStyle.Render(key))
	}
	renderDiagnostics(p.w, c.Diagnostics)
}

func runWatch(ctx context.Context, app *App, flags *rootFlagValues, arch, metricsAddr string) (err error) {
	var opts sessionOptions
	if arch != "" {
		opts.architectures = []string{arch}
	}
	opts.observer = &changePrinter{w: app.stdout}
	s, err := app.openSession(ctx, flags, opts)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := s.Close(context.WithoutCancel(ctx)); err == nil {
			err = closeErr
		}
	}()

	if metricsAddr != "" {
		stop, err := serveMetrics(app.Metrics, metricsAddr)
		if err != nil {
			return err
		}
		defer stop()
		s.logger.Info("serving metrics", "addr", metricsAddr)
	}

	r := s.registry()
	if _, err := r.LoadAll(ctx).Wait(ctx); err != nil {
		return err
	}
	fmt.Fprintln(app.stderr, SubtitleStyle.Render(fmt.Sprintf("watching %d modules for %s, press Ctrl+C to stop", len(r.Modules()), r.Target())))
	if err := r.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// serveMetrics serves reg at /metrics on addr until the returned stop
// function is called.
func serveMetrics(reg *prometheus.Registry, addr string) (stop func(), err error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() { _ = srv.Serve(ln) }()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
