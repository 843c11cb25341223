// SPDX-License-Identifier: MPL-2.0

package compat

import (
	"maps"
	"slices"
)

// Platform keys understood by the rest of the toolchain.
const (
	PlatformMacOS   = "macos"
	PlatformLinux   = "linux"
	PlatformWindows = "windows"
)

// knownPlatforms lists the platforms a concrete target can exclude. Keep sorted.
var knownPlatforms = []string{PlatformLinux, PlatformMacOS, PlatformWindows}

type (
	// Rule restricts a single platform. The zero Rule places no restriction
	// and is never stored in a Set.
	Rule struct {
		// Incompatible excludes the platform entirely. When set, the other
		// fields are ignored.
		Incompatible bool
		// Architectures lists the supported CPU architectures. Empty means all.
		Architectures []string
		// Min is the lowest supported OS version (inclusive), empty if unbounded.
		Min string
		// Max is the highest supported OS version (inclusive), empty if unbounded.
		Max string
	}

	// Set is an immutable description of supported (platform, OS version,
	// architecture) combinations. The zero value is compatible with everything.
	Set struct {
		rules map[string]Rule
	}
)

// KnownPlatforms returns the platform keys a concrete target distinguishes.
func KnownPlatforms() []string {
	return slices.Clone(knownPlatforms)
}

// IsZero reports whether r places no restriction on its platform.
func (r Rule) IsZero() bool {
	return !r.Incompatible && len(r.Architectures) == 0 && r.Min == "" && r.Max == ""
}

// Equal reports whether two normalized rules are identical.
func (r Rule) Equal(o Rule) bool {
	if r.Incompatible || o.Incompatible {
		return r.Incompatible == o.Incompatible
	}
	return r.Min == o.Min && r.Max == o.Max && slices.Equal(r.Architectures, o.Architectures)
}

// normalize sorts and deduplicates architectures and clears the fields of an
// incompatible rule.
func (r Rule) normalize() Rule {
	if r.Incompatible {
		return Rule{Incompatible: true}
	}
	out := Rule{Min: r.Min, Max: r.Max}
	if len(r.Architectures) > 0 {
		archs := slices.Clone(r.Architectures)
		slices.Sort(archs)
		out.Architectures = slices.Compact(archs)
	}
	if out.Min != "" && out.Max != "" && CompareVersions(out.Min, out.Max) > 0 {
		return Rule{Incompatible: true}
	}
	return out
}

// Any returns the set that is compatible with every system.
func Any() Set {
	return Set{}
}

// New builds a set from per-platform rules. Rules that place no restriction
// are dropped; if nothing remains the result is [Any].
func New(rules map[string]Rule) Set {
	out := make(map[string]Rule, len(rules))
	for platform, r := range rules {
		if r.IsZero() {
			continue
		}
		out[platform] = r.normalize()
	}
	if len(out) == 0 {
		return Set{}
	}
	return Set{rules: out}
}

// FromArchitectures returns a set restricted to the given architectures on
// every known platform. An empty list yields [Any].
func FromArchitectures(archs []string) Set {
	if len(archs) == 0 {
		return Set{}
	}
	rules := make(map[string]Rule, len(knownPlatforms))
	for _, p := range knownPlatforms {
		rules[p] = Rule{Architectures: archs}
	}
	return New(rules)
}

// FromTargetTriple returns the set describing exactly one concrete target:
// the given architecture on the given platform at the given OS version.
// Every other known platform is marked incompatible. Platforms outside
// KnownPlatforms cannot be excluded, so platform must be one of them;
// ParseTriple rejects triples on any other platform.
func FromTargetTriple(arch, platform, version string) Set {
	platform = NormalizePlatform(platform)
	rules := make(map[string]Rule, len(knownPlatforms)+1)
	for _, p := range knownPlatforms {
		if p != platform {
			rules[p] = Rule{Incompatible: true}
		}
	}
	r := Rule{Min: version, Max: version}
	if arch != "" {
		r.Architectures = []string{arch}
	}
	rules[platform] = r
	return New(rules)
}

// IsUnrestricted reports whether s is compatible with everything.
func (s Set) IsUnrestricted() bool {
	return len(s.rules) == 0
}

// Platforms returns the sorted platform keys carrying a rule.
func (s Set) Platforms() []string {
	return slices.Sorted(maps.Keys(s.rules))
}

// Rule returns the rule stored for platform, if any.
func (s Set) Rule(platform string) (Rule, bool) {
	r, ok := s.rules[platform]
	if !ok {
		return Rule{}, false
	}
	r.Architectures = slices.Clone(r.Architectures)
	return r, true
}

// Rules returns a copy of all stored rules. It returns nil for [Any].
func (s Set) Rules() map[string]Rule {
	if len(s.rules) == 0 {
		return nil
	}
	out := make(map[string]Rule, len(s.rules))
	for p := range s.rules {
		out[p], _ = s.Rule(p)
	}
	return out
}

// Equal reports whether two sets describe the same restrictions.
func (s Set) Equal(o Set) bool {
	if len(s.rules) != len(o.rules) {
		return false
	}
	for p, r := range s.rules {
		or, ok := o.rules[p]
		if !ok || !r.Equal(or) {
			return false
		}
	}
	return true
}

// IsCompatibleWithPlatform reports whether some version/architecture of the
// platform is supported.
func (s Set) IsCompatibleWithPlatform(platform string) bool {
	r, ok := s.rules[NormalizePlatform(platform)]
	return !ok || !r.Incompatible
}

// SupportsArchitecture reports whether arch is supported on platform.
func (s Set) SupportsArchitecture(platform, arch string) bool {
	r, ok := s.rules[NormalizePlatform(platform)]
	if !ok {
		return true
	}
	if r.Incompatible {
		return false
	}
	return len(r.Architectures) == 0 || slices.Contains(r.Architectures, arch)
}

// MinVersionOnPlatform returns the lowest supported OS version on platform,
// if the set bounds it.
func (s Set) MinVersionOnPlatform(platform string) (string, bool) {
	r, ok := s.rules[NormalizePlatform(platform)]
	if !ok || r.Incompatible || r.Min == "" {
		return "", false
	}
	return r.Min, true
}

// Intersect returns the combinations supported by both a and b.
// It is commutative and associative, and [Any] is its identity.
func Intersect(a, b Set) Set {
	if a.IsUnrestricted() {
		return b
	}
	if b.IsUnrestricted() {
		return a
	}
	out := make(map[string]Rule, len(a.rules)+len(b.rules))
	for p, ra := range a.rules {
		if rb, ok := b.rules[p]; ok {
			out[p] = intersectRules(ra, rb)
		} else {
			out[p] = ra
		}
	}
	for p, rb := range b.rules {
		if _, ok := a.rules[p]; !ok {
			out[p] = rb
		}
	}
	return Set{rules: out}
}

// IntersectAll folds [Intersect] over sets, starting from [Any].
func IntersectAll(sets ...Set) Set {
	out := Any()
	for _, s := range sets {
		out = Intersect(out, s)
	}
	return out
}

// IsSupersetOf reports whether a allows everything b allows.
func IsSupersetOf(a, b Set) bool {
	return Intersect(a, b).Equal(b)
}

func intersectRules(a, b Rule) Rule {
	if a.Incompatible || b.Incompatible {
		return Rule{Incompatible: true}
	}
	var archs []string
	switch {
	case len(a.Architectures) == 0:
		archs = b.Architectures
	case len(b.Architectures) == 0:
		archs = a.Architectures
	default:
		for _, arch := range a.Architectures {
			if slices.Contains(b.Architectures, arch) {
				archs = append(archs, arch)
			}
		}
		if len(archs) == 0 {
			return Rule{Incompatible: true}
		}
	}
	return Rule{
		Architectures: slices.Clone(archs),
		Min:           tighterMin(a.Min, b.Min),
		Max:           tighterMax(a.Max, b.Max),
	}.normalize()
}
