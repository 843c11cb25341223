// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/invowk/modlink/internal/registry"
	"github.com/invowk/modlink/pkg/compat"
)

func newCompatCommand(app *App, flags *rootFlagValues) *cobra.Command {
	compatCmd := &cobra.Command{
		Use:   "compat",
		Short: "Check module compatibility with target triples",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	compatCmd.AddCommand(&cobra.Command{
		Use:   "check <triple> <keys...>",
		Short: "Check whether modules can be built for a target triple",
		Long: `Load the given modules and everything they depend on, then check their
combined compatibility against the target triple. When the target is not
supported, the modules that exclude it are listed.`,
		Example: "  modlink compat check arm64-apple-macosx11.0 vendor.app vendor.blur",
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := compat.ParseTriple(args[0])
			if err != nil {
				return err
			}
			return checkCompat(cmd.Context(), app, flags, target, args[1:])
		},
	})
	return compatCmd
}

func checkCompat(ctx context.Context, app *App, flags *rootFlagValues, target compat.Triple, keys []string) (err error) {
	s, r, err := app.openRegistry(ctx, flags, target, nil)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := s.Close(ctx); err == nil {
			err = closeErr
		}
	}()

	res, err := r.Load(ctx, keys...).Wait(ctx)
	if err != nil {
		return err
	}
	renderDiagnostics(app.stderr, res.Diagnostics)

	var missing []string
	for _, key := range keys {
		if _, ok := r.Lookup(key); !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return &ExitError{Code: exitFailure, Err: fmt.Errorf("modules not found: %v", missing)}
	}

	set := r.Compatibility(keys...)
	printField(app.stdout, "target", target.String())
	printField(app.stdout, "compatibility", set.Describe())

	if supportsTarget(set, target) {
		fmt.Fprintln(app.stdout, SuccessStyle.Render("supported"))
		return nil
	}
	fmt.Fprintln(app.stdout, ErrorStyle.Render("not supported"))
	for _, key := range excluding(r, keys, target) {
		m, _ := r.Lookup(key)
		fmt.Fprintf(app.stdout, "  %s %s\n", KeyStyle.Render(key), SubtitleStyle.Render(m.Compatibility().Describe()))
	}
	return &ExitError{Code: exitFailure, Err: fmt.Errorf("%s is not supported by %v", target, keys)}
}

func supportsTarget(set compat.Set, target compat.Triple) bool {
	platform := target.Platform()
	remaining := compat.Intersect(set, target.Compatibility())
	return remaining.IsCompatibleWithPlatform(platform) && remaining.SupportsArchitecture(platform, target.Arch)
}

// excluding walks keys and their dependencies and returns, sorted, the
// loaded modules whose own compatibility excludes target.
func excluding(r *registry.Registry, keys []string, target compat.Triple) []string {
	seen := make(map[string]bool)
	var out []string
	queue := slices.Clone(keys)
	for len(queue) > 0 {
		key := queue[0]
		queue = queue[1:]
		if seen[key] {
			continue
		}
		seen[key] = true
		m, ok := r.Lookup(key)
		if !ok {
			continue
		}
		if !supportsTarget(m.Compatibility(), target) {
			out = append(out, key)
		}
		queue = append(queue, m.Dependencies()...)
	}
	slices.Sort(out)
	return out
}
