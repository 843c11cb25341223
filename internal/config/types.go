// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"regexp"
	"runtime"
	"strings"

	"github.com/invowk/modlink/internal/logging"
	"github.com/invowk/modlink/pkg/compat"
)

const (
	// PlatformMacOS targets macOS.
	PlatformMacOS Platform = compat.PlatformMacOS
	// PlatformLinux targets Linux.
	PlatformLinux Platform = compat.PlatformLinux
	// PlatformWindows targets Windows.
	PlatformWindows Platform = compat.PlatformWindows

	// LogLevelDebug logs everything.
	LogLevelDebug LogLevel = "debug"
	// LogLevelInfo is the default level.
	LogLevelInfo LogLevel = "info"
	// LogLevelWarn logs warnings and errors.
	LogLevelWarn LogLevel = "warn"
	// LogLevelError logs errors only.
	LogLevelError LogLevel = "error"

	// LogFormatText is human readable output.
	LogFormatText LogFormat = logging.FormatText
	// LogFormatJSON emits one JSON object per entry.
	LogFormatJSON LogFormat = logging.FormatJSON
	// LogFormatLogfmt emits logfmt pairs.
	LogFormatLogfmt LogFormat = logging.FormatLogfmt
)

var (
	// ErrInvalidPlatform is returned when a Platform value is not recognized.
	ErrInvalidPlatform = errors.New("invalid platform")
	// ErrInvalidArchitecture is returned when an Architecture value is malformed.
	ErrInvalidArchitecture = errors.New("invalid architecture")
	// ErrInvalidOSVersion is returned when an OSVersion value is malformed.
	ErrInvalidOSVersion = errors.New("invalid OS version")
	// ErrInvalidSearchPath is returned when a SearchPath value is blank.
	ErrInvalidSearchPath = errors.New("invalid search path")
	// ErrInvalidLogLevel is returned when a LogLevel value is not recognized.
	ErrInvalidLogLevel = errors.New("invalid log level")
	// ErrInvalidLogFormat is returned when a LogFormat value is not recognized.
	ErrInvalidLogFormat = errors.New("invalid log format")
	// ErrInvalidWorkers is returned for a negative worker count.
	ErrInvalidWorkers = errors.New("invalid worker count")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")

	architecturePattern = regexp.MustCompile(`^[a-z0-9_]+$`)
	osVersionPattern    = regexp.MustCompile(`^[0-9]+(\.[0-9]+){0,2}$`)
)

type (
	// Platform is the operating system every target is built for.
	Platform string

	// Architecture is the first component of a target triple.
	Architecture string

	// OSVersion is the minimum OS version of every target. Empty means
	// unversioned targets.
	OSVersion string

	// SearchPath is a directory searched for modules or libraries.
	SearchPath string

	// LogLevel is the minimum level logged.
	LogLevel string

	// LogFormat selects the log formatter.
	LogFormat string

	// InvalidValueError reports a field value that failed validation. It
	// unwraps to the sentinel of the field's type.
	InvalidValueError struct {
		Field    string
		Value    string
		Sentinel error
	}

	// InvalidConfigError is returned when a Config has invalid fields.
	// It wraps ErrInvalidConfig for errors.Is() compatibility and collects
	// field-level validation errors from all sub-components.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// SearchPathsConfig lists the module directories of each scope.
	SearchPathsConfig struct {
		BuiltIn []SearchPath `json:"builtin" mapstructure:"builtin"`
		System  []SearchPath `json:"system" mapstructure:"system"`
		User    []SearchPath `json:"user" mapstructure:"user"`
	}

	// LogConfig configures logging.
	LogConfig struct {
		Level  LogLevel  `json:"level" mapstructure:"level"`
		Format LogFormat `json:"format" mapstructure:"format"`
	}

	// Config holds the application configuration.
	Config struct {
		// SearchPaths lists the module directories per scope
		SearchPaths SearchPathsConfig `json:"search_paths" mapstructure:"search_paths"`
		// LibrarySearchPaths lists directories searched for linked libraries
		LibrarySearchPaths []SearchPath `json:"library_search_paths" mapstructure:"library_search_paths"`
		// OptionalLibraries may be absent from every library search path
		OptionalLibraries []string `json:"optional_libraries" mapstructure:"optional_libraries"`
		// CacheDir holds cache artifacts and the manifest database
		CacheDir SearchPath `json:"cache_dir" mapstructure:"cache_dir"`
		// Architectures lists the target group's architectures
		Architectures []Architecture `json:"architectures" mapstructure:"architectures"`
		Platform      Platform       `json:"platform" mapstructure:"platform"`
		OSVersion     OSVersion      `json:"os_version" mapstructure:"os_version"`
		// LoadAllModules loads every module on the first request
		LoadAllModules bool `json:"load_all_modules" mapstructure:"load_all_modules"`
		// Workers bounds concurrent reads and compiles; zero means GOMAXPROCS
		Workers int       `json:"workers" mapstructure:"workers"`
		Log     LogConfig `json:"log" mapstructure:"log"`
	}
)

// Error implements the error interface for InvalidValueError.
func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("%s: %v %q", e.Field, e.Sentinel, e.Value)
}

// Unwrap returns the field's sentinel error for errors.Is() compatibility.
func (e *InvalidValueError) Unwrap() error { return e.Sentinel }

func invalid(field, value string, sentinel error) []error {
	return []error{&InvalidValueError{Field: field, Value: value, Sentinel: sentinel}}
}

// String returns the string representation of the Platform.
func (p Platform) String() string { return string(p) }

// IsValid returns whether the Platform is one of the supported platforms.
func (p Platform) IsValid() (bool, []error) {
	switch p {
	case PlatformMacOS, PlatformLinux, PlatformWindows:
		return true, nil
	default:
		return false, invalid("platform", string(p), ErrInvalidPlatform)
	}
}

// Vendor returns the vendor component of the platform's target triples.
func (p Platform) Vendor() string {
	switch p {
	case PlatformMacOS:
		return "apple"
	case PlatformWindows:
		return "pc"
	default:
		return "unknown"
	}
}

// TripleOS returns the OS component of the platform's target triples.
func (p Platform) TripleOS() string {
	if p == PlatformMacOS {
		return "macosx"
	}
	return string(p)
}

// IsValid returns whether the Architecture is a lowercase identifier.
func (a Architecture) IsValid() (bool, []error) {
	if !architecturePattern.MatchString(string(a)) {
		return false, invalid("architectures", string(a), ErrInvalidArchitecture)
	}
	return true, nil
}

// IsValid returns whether the OSVersion is empty or a dotted version.
func (v OSVersion) IsValid() (bool, []error) {
	if v != "" && !osVersionPattern.MatchString(string(v)) {
		return false, invalid("os_version", string(v), ErrInvalidOSVersion)
	}
	return true, nil
}

// String returns the string representation of the SearchPath.
func (p SearchPath) String() string { return string(p) }

// IsValid returns whether the SearchPath is non-blank.
func (p SearchPath) IsValid() (bool, []error) {
	if strings.TrimSpace(string(p)) == "" {
		return false, invalid("search path", string(p), ErrInvalidSearchPath)
	}
	return true, nil
}

// IsValid returns whether the LogLevel is recognized.
func (l LogLevel) IsValid() (bool, []error) {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true, nil
	default:
		return false, invalid("log.level", string(l), ErrInvalidLogLevel)
	}
}

// IsValid returns whether the LogFormat is recognized.
func (f LogFormat) IsValid() (bool, []error) {
	switch f {
	case LogFormatText, LogFormatJSON, LogFormatLogfmt:
		return true, nil
	default:
		return false, invalid("log.format", string(f), ErrInvalidLogFormat)
	}
}

// IsValid returns whether the Config has valid fields. The cache directory
// may be empty, which disables cache building.
func (c Config) IsValid() (bool, []error) {
	var errs []error
	check := func(valid bool, fieldErrs []error) {
		if !valid {
			errs = append(errs, fieldErrs...)
		}
	}
	for _, paths := range [][]SearchPath{c.SearchPaths.BuiltIn, c.SearchPaths.System, c.SearchPaths.User, c.LibrarySearchPaths} {
		for _, p := range paths {
			check(p.IsValid())
		}
	}
	if c.CacheDir != "" {
		check(c.CacheDir.IsValid())
	}
	for _, a := range c.Architectures {
		check(a.IsValid())
	}
	check(c.Platform.IsValid())
	check(c.OSVersion.IsValid())
	if c.Workers < 0 {
		errs = append(errs, invalid("workers", fmt.Sprint(c.Workers), ErrInvalidWorkers)...)
	}
	check(c.Log.Level.IsValid())
	check(c.Log.Format.IsValid())
	if len(errs) > 0 {
		return false, []error{&InvalidConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidConfigError.
func (e *InvalidConfigError) Error() string {
	msgs := make([]string, len(e.FieldErrors))
	for i, err := range e.FieldErrors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("invalid config: %s", strings.Join(msgs, "; "))
}

// Unwrap returns ErrInvalidConfig for errors.Is() compatibility.
func (e *InvalidConfigError) Unwrap() error { return ErrInvalidConfig }

// HostPlatform returns the platform of goos, defaulting to Linux.
func HostPlatform(goos string) Platform {
	switch p := Platform(compat.NormalizePlatform(goos)); p {
	case PlatformMacOS, PlatformWindows:
		return p
	default:
		return PlatformLinux
	}
}

// HostArchitecture returns the triple architecture of goarch.
func HostArchitecture(goarch string) Architecture {
	switch goarch {
	case "amd64":
		return "x86_64"
	case "386":
		return "i386"
	default:
		return Architecture(goarch)
	}
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return defaultConfigFor(runtime.GOOS, runtime.GOARCH)
}

func defaultConfigFor(goos, goarch string) *Config {
	return &Config{
		SearchPaths:        SearchPathsConfig{BuiltIn: []SearchPath{}, System: []SearchPath{}, User: []SearchPath{}},
		LibrarySearchPaths: []SearchPath{},
		OptionalLibraries:  []string{},
		Architectures:      []Architecture{HostArchitecture(goarch)},
		Platform:           HostPlatform(goos),
		Log: LogConfig{
			Level:  LogLevelInfo,
			Format: LogFormatText,
		},
	}
}
