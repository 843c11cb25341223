// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"io"
	"maps"
	"os"
	"slices"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/invowk/modlink/internal/linkplan"
	"github.com/invowk/modlink/internal/registry"
	"github.com/invowk/modlink/pkg/module"
)

// linkRequest is the TOML document read by `modlink link`.
type linkRequest struct {
	// Dependencies are the module keys the composition uses directly.
	Dependencies []string `toml:"dependencies"`
	Executable   bool     `toml:"executable"`
	// Cache is a cache strategy name; empty means "existing".
	Cache string `toml:"cache"`
	// Architectures restrict the plan to these configured architectures.
	Architectures []string `toml:"architectures"`
}

func newLinkCommand(app *App, flags *rootFlagValues) *cobra.Command {
	return &cobra.Command{
		Use:   "link <request.toml>",
		Short: "Plan the link of a composition for every supported target",
		Long: `Read a link request and print, per supported architecture, the caches,
module files, external libraries and frameworks the link needs.

A request looks like:

  dependencies = ["vendor.app", "vendor.blur"]
  executable = true
  cache = "existing"        # existing, regenerate or none
  architectures = ["arm64"] # optional`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := readLinkRequest(args[0])
			if err != nil {
				return err
			}
			return runLink(cmd, app, flags, req)
		},
	}
}

func readLinkRequest(path string) (linkRequest, error) {
	var req linkRequest
	f, err := os.Open(path)
	if err != nil {
		return req, err
	}
	defer func() { _ = f.Close() }()

	if err := toml.NewDecoder(f).DisallowUnknownFields().Decode(&req); err != nil {
		return req, fmt.Errorf("parsing link request %s: %w", path, err)
	}
	if len(req.Dependencies) == 0 {
		return req, fmt.Errorf("link request %s lists no dependencies", path)
	}
	if req.Cache == "" {
		req.Cache = registry.UseExistingCaches.String()
	}
	if _, err := registry.ParseCacheStrategy(req.Cache); err != nil {
		return req, fmt.Errorf("link request %s: %w", path, err)
	}
	return req, nil
}

func runLink(cmd *cobra.Command, app *App, flags *rootFlagValues, req linkRequest) (err error) {
	ctx := cmd.Context()
	strategy, err := registry.ParseCacheStrategy(req.Cache)
	if err != nil {
		return err
	}
	s, err := app.openSession(ctx, flags, sessionOptions{architectures: req.Architectures})
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := s.Close(ctx); err == nil {
			err = closeErr
		}
	}()

	plans, err := s.group.LinkPlans(ctx, req.Dependencies, registry.LinkOptions{
		Executable: req.Executable,
		Strategy:   strategy,
	})
	if err != nil {
		return failWithDiagnostics(cmd, "plan link", err, flags.verbose)
	}

	for _, t := range s.group.Targets() {
		plan, ok := plans[t.Arch]
		if !ok {
			fmt.Fprintf(app.stdout, "%s %s\n\n", TitleStyle.Render(t.String()), SubtitleStyle.Render("(not supported)"))
			continue
		}
		fmt.Fprintln(app.stdout, TitleStyle.Render(t.String()))
		printPlan(app.stdout, plan)
		fmt.Fprintln(app.stdout)
		renderDiagnostics(app.stderr, plan.Diagnostics())
	}
	return nil
}

func printPlan(w io.Writer, plan *linkplan.Plan) {
	for _, builtIn := range []bool{true, false} {
		tier := "user"
		if builtIn {
			tier = "built-in"
		}
		printSection(w, tier+" caches", plan.Caches(builtIn))
		printSection(w, tier+" module files", plan.ModuleFiles(builtIn))
		printSection(w, tier+" modules", moduleKeys(plan.Modules(builtIn)))
	}
	printSection(w, "libraries", plan.ExternalLibraries())
	printSection(w, "frameworks", plan.Frameworks())
	printSection(w, "skipped", plan.Skipped())
	printSection(w, "unresolved", plan.Unresolved())
}

func printSection(w io.Writer, name string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintln(w, KeyStyle.Render(name+":"))
	for _, item := range items {
		fmt.Fprintln(w, sectionStyle.Render(item))
	}
}

func moduleKeys(mods []*module.Module) []string {
	byKey := make(map[string]*module.Module, len(mods))
	for _, m := range mods {
		byKey[m.Key()] = m
	}
	return slices.Sorted(maps.Keys(byKey))
}
