// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/invowk/modlink/internal/config"
)

// newConfigCommand creates the `modlink config` command tree.
// Subcommands that read configuration use the App's config provider.
func newConfigCommand(app *App, flags *rootFlagValues) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage modlink configuration",
		Long: `Manage modlink configuration.

Configuration is stored in:
  - Linux: ~/.config/modlink/config.cue
  - macOS: ~/Library/Application Support/modlink/config.cue
  - Windows: %APPDATA%\modlink\config.cue

Every key can be overridden with a MODLINK_ environment variable, for example
MODLINK_LOG_LEVEL=debug or MODLINK_ARCHITECTURES=arm64,x86_64.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return showConfig(cmd.Context(), app, flags)
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.CreateDefaultConfig()
			if err != nil {
				return fmt.Errorf("failed to create config: %w", err)
			}
			fmt.Fprintf(app.stdout, "%s Configuration at %s\n", SuccessStyle.Render("✓"), path)
			return nil
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir, err := config.ConfigDir()
			if err != nil {
				return err
			}
			fmt.Fprintf(app.stdout, "Config directory: %s\n", cfgDir)
			fmt.Fprintf(app.stdout, "Config file: %s\n", filepath.Join(cfgDir, config.ConfigFileName+"."+config.ConfigFileExt))
			if cacheDir, err := config.CacheDir(); err == nil {
				fmt.Fprintf(app.stdout, "Cache directory: %s\n", cacheDir)
			}
			return nil
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "dump",
		Short: "Output the effective configuration as CUE",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := app.loadConfig(cmd.Context(), flags)
			if err != nil {
				return err
			}
			fmt.Fprint(app.stdout, config.GenerateCUE(cfg))
			return nil
		},
	})

	return cfgCmd
}

func showConfig(ctx context.Context, app *App, flags *rootFlagValues) error {
	cfg, cfgPath, err := app.loadConfig(ctx, flags)
	if err != nil {
		return err
	}
	w := app.stdout

	fmt.Fprintln(w, TitleStyle.Render("Current Configuration"))
	fmt.Fprintln(w)
	if cfgPath != "" {
		fmt.Fprintf(w, "%s: %s\n", KeyStyle.Render("Config file"), cfgPath)
	} else {
		fmt.Fprintf(w, "%s: %s\n", KeyStyle.Render("Config file"), SubtitleStyle.Render("(using defaults)"))
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "%s:\n", KeyStyle.Render("search_paths"))
	showList(w, "builtin", cfg.SearchPaths.BuiltIn)
	showList(w, "system", cfg.SearchPaths.System)
	showList(w, "user", cfg.SearchPaths.User)
	showList(w, "library_search_paths", cfg.LibrarySearchPaths)
	showList(w, "optional_libraries", cfg.OptionalLibraries)
	showValue(w, "cache_dir", string(cfg.CacheDir))

	fmt.Fprintln(w)
	showList(w, "architectures", cfg.Architectures)
	showValue(w, "platform", string(cfg.Platform))
	showValue(w, "os_version", string(cfg.OSVersion))
	for _, arch := range cfg.Architectures {
		if t, err := cfg.Target(arch); err == nil {
			showValue(w, "target", t.String())
		}
	}

	fmt.Fprintln(w)
	showValue(w, "load_all_modules", fmt.Sprint(cfg.LoadAllModules))
	showValue(w, "workers", fmt.Sprint(cfg.Workers))
	showValue(w, "log.level", string(cfg.Log.Level))
	showValue(w, "log.format", string(cfg.Log.Format))
	return nil
}

func showValue(w io.Writer, name, value string) {
	if value == "" {
		value = SubtitleStyle.Render("(not set)")
	} else {
		value = SuccessStyle.Render(value)
	}
	fmt.Fprintf(w, "%s: %s\n", KeyStyle.Render(name), value)
}

func showList[S ~string](w io.Writer, name string, values []S) {
	if len(values) == 0 {
		fmt.Fprintf(w, "%s: %s\n", KeyStyle.Render(name), SubtitleStyle.Render("(none configured)"))
		return
	}
	items := make([]string, len(values))
	for i, v := range values {
		items[i] = SuccessStyle.Render(string(v))
	}
	fmt.Fprintf(w, "%s: %s\n", KeyStyle.Render(name), strings.Join(items, ", "))
}
