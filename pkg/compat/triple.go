// SPDX-License-Identifier: MPL-2.0

package compat

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	// ErrInvalidTriple is returned by ParseTriple for malformed target triples.
	ErrInvalidTriple = errors.New("invalid target triple")

	// ErrUnknownPlatform wraps ErrInvalidTriple for a triple whose operating
	// system is not one of KnownPlatforms. A compatibility set leaves
	// unlisted platforms unrestricted, so such a target could not exclude
	// the platforms it does not run on.
	ErrUnknownPlatform = fmt.Errorf("%w: unknown platform", ErrInvalidTriple)
)

// Triple is a compile target in the form <arch>-<vendor>-<os><version>[-<env>],
// e.g. "x86_64-apple-macosx10.10" or "aarch64-unknown-linux-gnu".
type Triple struct {
	Arch        string
	Vendor      string
	OS          string
	Version     string
	Environment string
}

// ParseTriple parses a target triple.
func ParseTriple(s string) (Triple, error) {
	parts := strings.SplitN(strings.TrimSpace(s), "-", 4)
	if len(parts) < 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return Triple{}, fmt.Errorf("%w %q: expected <arch>-<vendor>-<os><version>", ErrInvalidTriple, s)
	}
	t := Triple{Arch: parts[0], Vendor: parts[1]}
	if len(parts) == 4 {
		t.Environment = parts[3]
	}

	osVersion := parts[2]
	split := strings.IndexAny(osVersion, "0123456789")
	if split < 0 {
		t.OS = osVersion
	} else {
		t.OS, t.Version = osVersion[:split], osVersion[split:]
	}
	if t.OS == "" {
		return Triple{}, fmt.Errorf("%w %q: missing operating system", ErrInvalidTriple, s)
	}
	if !slices.Contains(knownPlatforms, t.Platform()) {
		return Triple{}, fmt.Errorf("%w %q in %q, want one of %s",
			ErrUnknownPlatform, t.OS, s, strings.Join(knownPlatforms, ", "))
	}
	if t.Version != "" {
		if _, err := parseVersion(t.Version); err != nil {
			return Triple{}, fmt.Errorf("%w %q: %w", ErrInvalidTriple, s, err)
		}
	}
	return t, nil
}

// MustParseTriple is ParseTriple for constants known to be valid.
func MustParseTriple(s string) Triple {
	t, err := ParseTriple(s)
	if err != nil {
		panic(err)
	}
	return t
}

// String formats the triple.
func (t Triple) String() string {
	s := t.Arch + "-" + t.Vendor + "-" + t.OS + t.Version
	if t.Environment != "" {
		s += "-" + t.Environment
	}
	return s
}

// Platform returns the compatibility platform key for the triple's OS.
func (t Triple) Platform() string {
	return NormalizePlatform(t.OS)
}

// Compatibility returns the set describing exactly this target.
func (t Triple) Compatibility() Set {
	return FromTargetTriple(t.Arch, t.Platform(), t.Version)
}

// NormalizePlatform maps OS spellings used in triples onto platform keys.
func NormalizePlatform(name string) string {
	switch strings.ToLower(name) {
	case "macos", "macosx", "darwin", "osx":
		return PlatformMacOS
	case "linux":
		return PlatformLinux
	case "windows", "win32", "mingw32":
		return PlatformWindows
	default:
		return strings.ToLower(name)
	}
}

// TargetTriple converts a set describing a single concrete target back into
// a triple. It reports false when s allows more than one platform,
// architecture, or OS version.
func (s Set) TargetTriple() (Triple, bool) {
	var (
		platform string
		rule     Rule
	)
	for _, p := range knownPlatforms {
		r, ok := s.rules[p]
		if ok && r.Incompatible {
			continue
		}
		if platform != "" || !ok {
			return Triple{}, false
		}
		platform, rule = p, r
	}
	if platform == "" || len(rule.Architectures) != 1 || rule.Min != rule.Max {
		return Triple{}, false
	}
	t := Triple{Arch: rule.Architectures[0], Version: rule.Min}
	switch platform {
	case PlatformMacOS:
		t.Vendor, t.OS = "apple", "macosx"
	case PlatformWindows:
		t.Vendor, t.OS = "pc", "windows"
	default:
		t.Vendor, t.OS = "unknown", platform
	}
	return t, true
}
