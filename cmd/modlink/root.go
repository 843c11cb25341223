// SPDX-License-Identifier: MPL-2.0

// Package cmd contains all CLI commands for modlink.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// NewRootCommand builds the command tree on top of app.
func NewRootCommand(app *App) *cobra.Command {
	flags := &rootFlagValues{}
	rootCmd := &cobra.Command{
		Use:   "modlink",
		Short: "Module registry and link planner for dataflow compositions",
		Long: TitleStyle.Render("modlink") + SubtitleStyle.Render(" - module registry and link planner for dataflow compositions") + `

modlink discovers node class, type and library modules in layered search
paths, checks them against the configured compile targets, and plans the
link of a composition: which modules, caches and libraries go into it.

` + SubtitleStyle.Render("Examples:") + `
  modlink modules list                    List the available modules
  modlink modules describe vendor.blur    Show a module and its documentation
  modlink compat check arm64-apple-macosx11.0 vendor.app
  modlink link request.toml               Plan the link of a composition
  modlink cache build                     Prebuild the cache artifacts`,
		SilenceUsage: true,
	}
	rootCmd.SetOut(app.stdout)
	rootCmd.SetErr(app.stderr)

	rootCmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "config file (default is $HOME/.config/modlink/config.cue)")

	rootCmd.AddCommand(
		newModulesCommand(app, flags),
		newCompatCommand(app, flags),
		newLinkCommand(app, flags),
		newCacheCommand(app, flags),
		newPackCommand(app),
		newWatchCommand(app, flags),
		newExplainCommand(app),
		newConfigCommand(app, flags),
	)
	return rootCmd
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute runs the CLI. It is called by main.main().
func Execute() {
	app := NewApp(Dependencies{})
	// Pass version via fang.WithVersion() since fang overrides rootCmd.Version
	if err := fang.Execute(
		context.Background(),
		NewRootCommand(app),
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}
