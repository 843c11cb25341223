// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/invowk/modlink/internal/registry"
	"github.com/invowk/modlink/pkg/module"
)

// newModulesCommand creates the `modlink modules` command tree.
func newModulesCommand(app *App, flags *rootFlagValues) *cobra.Command {
	var arch string
	modulesCmd := &cobra.Command{
		Use:   "modules",
		Short: "Inspect the modules in the search paths",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	modulesCmd.PersistentFlags().StringVar(&arch, "arch", "", "architecture whose registry is inspected (default: the first configured)")

	modulesCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every module the search paths provide",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd.Context(), app, flags, arch, func(r *registry.Registry) error {
				return listModules(cmd.Context(), app, r)
			})
		},
	})

	var style string
	describeCmd := &cobra.Command{
		Use:   "describe <key>",
		Short: "Show a module, its dependencies and its documentation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd.Context(), app, flags, arch, func(r *registry.Registry) error {
				return describeModule(cmd.Context(), app, r, args[0], style)
			})
		},
	}
	describeCmd.Flags().StringVar(&style, "style", "auto", "glamour style for the documentation (auto, dark, light, notty)")
	modulesCmd.AddCommand(describeCmd)

	return modulesCmd
}

// withRegistry runs fn against the registry of arch.
func withRegistry(ctx context.Context, app *App, flags *rootFlagValues, arch string, fn func(r *registry.Registry) error) (err error) {
	var opts sessionOptions
	if arch != "" {
		opts.architectures = []string{arch}
	}
	s, err := app.openSession(ctx, flags, opts)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := s.Close(ctx); err == nil {
			err = closeErr
		}
	}()
	return fn(s.registry())
}

func listModules(ctx context.Context, app *App, r *registry.Registry) error {
	res, err := r.LoadAll(ctx).Wait(ctx)
	if err != nil {
		return err
	}
	renderDiagnostics(app.stderr, res.Diagnostics)

	mods := r.Modules()
	if len(mods) == 0 {
		fmt.Fprintln(app.stdout, SubtitleStyle.Render("(no modules found)"))
		return nil
	}
	fmt.Fprintln(app.stdout, TitleStyle.Render(fmt.Sprintf("Modules for %s", r.Target())))
	for _, key := range module.SortedKeys(mods) {
		m := mods[key]
		loc, _ := r.Location(key)
		version := "-"
		if v, ok := m.Version(); ok {
			version = v.String()
		}
		fmt.Fprintf(app.stdout, "  %-40s %-12s %-22s %s\n",
			KeyStyle.Render(key), version, SubtitleStyle.Render(loc.String()), m.Kind())
	}
	return nil
}

func describeModule(ctx context.Context, app *App, r *registry.Registry, key, style string) error {
	res, err := r.Load(ctx, key).Wait(ctx)
	if err != nil {
		return err
	}
	m, ok := r.Lookup(key)
	if !ok {
		renderDiagnostics(app.stderr, res.Diagnostics)
		return &ExitError{Code: exitFailure, Err: fmt.Errorf("module %q not found", key)}
	}
	loc, _ := r.Location(key)

	fmt.Fprintln(app.stdout, TitleStyle.Render(m.Title()))
	printField(app.stdout, "key", key)
	printField(app.stdout, "kind", m.Kind().String())
	if v, ok := m.Version(); ok {
		printField(app.stdout, "version", v.String())
	}
	printField(app.stdout, "location", loc.String())
	if m.Path() != "" {
		printField(app.stdout, "path", m.Path())
	}
	printField(app.stdout, "compatibility", m.Compatibility().Describe())
	if deps := m.Dependencies(); len(deps) > 0 {
		printField(app.stdout, "dependencies", strings.Join(deps, ", "))
	}
	if dependents := r.Dependents(key); len(dependents) > 0 {
		printField(app.stdout, "dependents", strings.Join(dependents, ", "))
	}
	renderDiagnostics(app.stderr, r.Diagnostics(key))

	doc, ok, err := r.Description(key)
	if err != nil {
		return err
	}
	if !ok {
		doc = m.Metadata().Description
	}
	if strings.TrimSpace(doc) == "" {
		return nil
	}
	rendered, err := glamour.Render(doc, style)
	if err != nil {
		return fmt.Errorf("rendering description: %w", err)
	}
	fmt.Fprint(app.stdout, "\n"+rendered)
	return nil
}

func printField(w io.Writer, name, value string) {
	fmt.Fprintf(w, "%s %s\n", KeyStyle.Render(name+":"), value)
}
