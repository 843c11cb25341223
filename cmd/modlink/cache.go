// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/invowk/modlink/internal/issue"
	"github.com/invowk/modlink/internal/registry"
)

func newCacheCommand(app *App, flags *rootFlagValues) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage precompiled cache artifacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	var archs []string
	buildCmd := &cobra.Command{
		Use:   "build",
		Short: "Link every cacheable scope into one artifact per target",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return buildCaches(cmd, app, flags, archs)
		},
	}
	buildCmd.Flags().StringSliceVar(&archs, "arch", nil, "architectures to build for (default: all configured)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the recorded cache manifests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listCaches(cmd.Context(), app, flags)
		},
	}

	cacheCmd.AddCommand(buildCmd, listCmd)
	return cacheCmd
}

func noCacheStore() error {
	return issue.NewErrorContext().
		WithOperation("build caches").
		WithResource("cache_dir").
		WithSuggestion("Set cache_dir in the config file").
		WithSuggestion("Run 'modlink config init' to create a config with defaults").
		Wrap(registry.ErrNoCacheStore).
		BuildError()
}

func buildCaches(cmd *cobra.Command, app *App, flags *rootFlagValues, archs []string) (err error) {
	ctx := cmd.Context()
	s, err := app.openSession(ctx, flags, sessionOptions{architectures: archs})
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := s.Close(ctx); err == nil {
			err = closeErr
		}
	}()
	if s.store == nil {
		return noCacheStore()
	}

	for _, t := range s.group.Targets() {
		r, _ := s.group.Registry(t.Arch)
		manifests, err := r.BuildCaches(ctx).Wait(ctx)
		if err != nil {
			if errors.Is(err, registry.ErrNoCacheStore) {
				return noCacheStore()
			}
			return failWithDiagnostics(cmd, fmt.Sprintf("build caches for %s", t), err, flags.verbose)
		}
		fmt.Fprintln(app.stdout, TitleStyle.Render(t.String()))
		if len(manifests) == 0 {
			fmt.Fprintln(app.stdout, SubtitleStyle.Render("  (nothing to cache)"))
		}
		for _, m := range manifests {
			fmt.Fprintf(app.stdout, "  %-10s %s %s\n", KeyStyle.Render(m.Tier), m.ArtifactPath,
				SubtitleStyle.Render(fmt.Sprintf("(%d modules)", len(m.Keys))))
		}
	}
	return nil
}

func listCaches(ctx context.Context, app *App, flags *rootFlagValues) (err error) {
	s, err := app.openSession(ctx, flags, sessionOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := s.Close(ctx); err == nil {
			err = closeErr
		}
	}()
	if s.store == nil {
		return noCacheStore()
	}

	for _, t := range s.group.Targets() {
		manifests, err := s.store.List(ctx, t.String())
		if err != nil {
			return err
		}
		fmt.Fprintln(app.stdout, TitleStyle.Render(t.String()))
		if len(manifests) == 0 {
			fmt.Fprintln(app.stdout, SubtitleStyle.Render("  (no caches)"))
		}
		for _, m := range manifests {
			fmt.Fprintf(app.stdout, "  %-10s %s %s\n", KeyStyle.Render(m.Tier), m.ArtifactPath,
				SubtitleStyle.Render(m.Created.Format("2006-01-02 15:04:05")))
		}
	}
	return nil
}
