// SPDX-License-Identifier: MPL-2.0

package config

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/invowk/modlink/internal/registry"
	"github.com/invowk/modlink/internal/targetgroup"
)

func testConfig() *Config {
	return &Config{
		SearchPaths: SearchPathsConfig{
			BuiltIn: []SearchPath{"/usr/share/modlink"},
			User:    []SearchPath{"/home/dev/modules"},
		},
		LibrarySearchPaths: []SearchPath{"/usr/lib"},
		OptionalLibraries:  []string{"libdnn"},
		CacheDir:           "/var/cache/modlink",
		Architectures:      []Architecture{"arm64", "x86_64"},
		Platform:           PlatformMacOS,
		OSVersion:          "11.0",
		Workers:            2,
		Log:                LogConfig{Level: LogLevelWarn, Format: LogFormatLogfmt},
	}
}

func TestConfig_Target(t *testing.T) {
	t.Parallel()

	target, err := testConfig().Target("arm64")
	if err != nil {
		t.Fatal(err)
	}
	if target.String() != "arm64-apple-macosx11.0" {
		t.Errorf("Target() = %s", target)
	}
}

func TestConfig_RegistryOptions(t *testing.T) {
	t.Parallel()

	opts := testConfig().RegistryOptions()
	want := map[registry.Scope][]string{
		registry.ScopeBuiltIn: {"/usr/share/modlink"},
		registry.ScopeSystem:  {},
		registry.ScopeUser:    {"/home/dev/modules"},
	}
	if diff := cmp.Diff(want, opts.SearchPaths); diff != "" {
		t.Errorf("SearchPaths mismatch (-want +got):\n%s", diff)
	}
	if opts.Workers != 2 || opts.CacheDir != "/var/cache/modlink" {
		t.Errorf("Options = %+v", opts)
	}
	if diff := cmp.Diff([]string{"/usr/lib"}, opts.LibrarySearchPaths); diff != "" {
		t.Errorf("LibrarySearchPaths mismatch (-want +got):\n%s", diff)
	}
}

func TestConfig_TargetGroupOptions(t *testing.T) {
	t.Parallel()

	shared := registry.NewShared(registry.SharedOptions{})
	opts := testConfig().TargetGroupOptions(registry.Options{Shared: shared})
	if opts.Vendor != "apple" || opts.OS != "macosx" || opts.OSVersion != "11.0" {
		t.Errorf("triple parts = %s %s %s", opts.Vendor, opts.OS, opts.OSVersion)
	}
	if opts.Registry.Shared != shared {
		t.Error("shared service not carried into registry options")
	}

	g, err := targetgroup.New(opts)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = g.Close(t.Context()) }()
	var got []string
	for _, target := range g.Targets() {
		got = append(got, target.String())
	}
	if diff := cmp.Diff([]string{"arm64-apple-macosx11.0", "x86_64-apple-macosx11.0"}, got); diff != "" {
		t.Errorf("targets mismatch (-want +got):\n%s", diff)
	}
}

func TestConfig_Logger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, err := testConfig().Logger(&buf)
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("hidden")
	logger.Warn("shown", "key", "vendor.blur")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "key=vendor.blur") {
		t.Errorf("log output = %q", out)
	}
}
