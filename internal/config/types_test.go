// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"testing"
)

func TestFieldTypes_IsValid(t *testing.T) {
	t.Parallel()

	type validator interface{ IsValid() (bool, []error) }
	tests := []struct {
		name     string
		value    validator
		sentinel error
	}{
		{"platform macos", PlatformMacOS, nil},
		{"platform linux", PlatformLinux, nil},
		{"platform darwin", Platform("darwin"), ErrInvalidPlatform},
		{"architecture", Architecture("x86_64"), nil},
		{"architecture dash", Architecture("x86-64"), ErrInvalidArchitecture},
		{"architecture upper", Architecture("ARM64"), ErrInvalidArchitecture},
		{"architecture empty", Architecture(""), ErrInvalidArchitecture},
		{"os version empty", OSVersion(""), nil},
		{"os version", OSVersion("10.13"), nil},
		{"os version patch", OSVersion("10.13.4"), nil},
		{"os version suffix", OSVersion("10.13-beta"), ErrInvalidOSVersion},
		{"search path", SearchPath("/opt/modules"), nil},
		{"search path blank", SearchPath(" \t"), ErrInvalidSearchPath},
		{"log level", LogLevelWarn, nil},
		{"log level unknown", LogLevel("trace"), ErrInvalidLogLevel},
		{"log format", LogFormatLogfmt, nil},
		{"log format unknown", LogFormat("xml"), ErrInvalidLogFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			valid, errs := tt.value.IsValid()
			if tt.sentinel == nil {
				if !valid || len(errs) != 0 {
					t.Errorf("IsValid() = %v, %v; want valid", valid, errs)
				}
				return
			}
			if valid || len(errs) != 1 || !errors.Is(errs[0], tt.sentinel) {
				t.Errorf("IsValid() = %v, %v; want %v", valid, errs, tt.sentinel)
			}
		})
	}
}

func TestConfig_IsValid(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.SearchPaths.User = []SearchPath{""}
	cfg.Architectures = append(cfg.Architectures, "bad-arch")
	cfg.Workers = -2
	cfg.CacheDir = "   "

	valid, errs := cfg.IsValid()
	if valid || len(errs) != 1 {
		t.Fatalf("IsValid() = %v, %v", valid, errs)
	}
	var cfgErr *InvalidConfigError
	if !errors.As(errs[0], &cfgErr) || !errors.Is(errs[0], ErrInvalidConfig) {
		t.Fatalf("error = %v, want *InvalidConfigError", errs[0])
	}
	for _, sentinel := range []error{ErrInvalidSearchPath, ErrInvalidArchitecture, ErrInvalidWorkers} {
		if !containsSentinel(cfgErr.FieldErrors, sentinel) {
			t.Errorf("field errors %v lack %v", cfgErr.FieldErrors, sentinel)
		}
	}
	if len(cfgErr.FieldErrors) != 4 {
		t.Errorf("got %d field errors, want 4", len(cfgErr.FieldErrors))
	}
}

func containsSentinel(errs []error, sentinel error) bool {
	for _, err := range errs {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

func TestPlatform_TripleParts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		platform   Platform
		vendor, os string
	}{
		{PlatformMacOS, "apple", "macosx"},
		{PlatformLinux, "unknown", "linux"},
		{PlatformWindows, "pc", "windows"},
	}
	for _, tt := range tests {
		if got := tt.platform.Vendor(); got != tt.vendor {
			t.Errorf("%s.Vendor() = %q, want %q", tt.platform, got, tt.vendor)
		}
		if got := tt.platform.TripleOS(); got != tt.os {
			t.Errorf("%s.TripleOS() = %q, want %q", tt.platform, got, tt.os)
		}
	}
}

func TestHostArchitecture(t *testing.T) {
	t.Parallel()

	for goarch, want := range map[string]Architecture{"amd64": "x86_64", "386": "i386", "arm64": "arm64"} {
		if got := HostArchitecture(goarch); got != want {
			t.Errorf("HostArchitecture(%q) = %q, want %q", goarch, got, want)
		}
	}
}
