// SPDX-License-Identifier: MPL-2.0

package compat

import (
	"strconv"
	"strings"
)

var platformDisplayNames = map[string]string{
	PlatformMacOS:   "macOS",
	PlatformLinux:   "Linux",
	PlatformWindows: "Windows",
}

// Describe renders s for people, e.g. "macOS 10.13 and later on x86_64".
func (s Set) Describe() string {
	if s.IsUnrestricted() {
		return "any supported system"
	}

	var parts []string
	for _, p := range s.Platforms() {
		r := s.rules[p]
		if r.Incompatible {
			continue
		}
		var b strings.Builder
		b.WriteString(displayPlatform(p))
		switch {
		case r.Min != "" && r.Min == r.Max:
			b.WriteString(" " + displayVersion(p, r.Min))
		case r.Min != "" && r.Max != "":
			b.WriteString(" " + displayVersion(p, r.Min) + " through " + displayVersion(p, r.Max))
		case r.Min != "":
			b.WriteString(" " + displayVersion(p, r.Min) + " and later")
		case r.Max != "":
			b.WriteString(" " + displayVersion(p, r.Max) + " and earlier")
		}
		if len(r.Architectures) > 0 {
			b.WriteString(" on " + strings.Join(r.Architectures, ", "))
		}
		parts = append(parts, b.String())
	}
	if len(parts) == 0 {
		return "no supported system"
	}
	return strings.Join(parts, " or ")
}

// String implements fmt.Stringer.
func (s Set) String() string {
	return s.Describe()
}

func displayPlatform(p string) string {
	if name, ok := platformDisplayNames[p]; ok {
		return name
	}
	return p
}

// displayVersion rewrites the legacy macOS "10.x" encoding (x >= 16 meaning
// macOS x-5) into the single major number users know. Stored values are
// unaffected.
func displayVersion(platform, v string) string {
	if platform != PlatformMacOS {
		return v
	}
	parts := lenientParts(v)
	if len(parts) < 2 || parts[0] != 10 || parts[1] < 16 {
		return v
	}
	out := []string{strconv.Itoa(parts[1] - 5)}
	for _, n := range parts[2:] {
		out = append(out, strconv.Itoa(n))
	}
	return strings.Join(out, ".")
}
