// SPDX-License-Identifier: MPL-2.0

package compat

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidVersion is returned when a version string is not a dot-separated
// list of non-negative integers.
var ErrInvalidVersion = errors.New("invalid version")

// parseVersion splits v into integer components.
func parseVersion(v string) ([]int, error) {
	if v == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidVersion)
	}
	fields := strings.Split(v, ".")
	parts := make([]int, len(fields))
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w %q", ErrInvalidVersion, v)
		}
		parts[i] = n
	}
	return parts, nil
}

// lenientParts is parseVersion without errors; malformed components count as 0.
func lenientParts(v string) []int {
	if v == "" {
		return nil
	}
	fields := strings.Split(v, ".")
	parts := make([]int, len(fields))
	for i, f := range fields {
		if n, err := strconv.Atoi(f); err == nil && n >= 0 {
			parts[i] = n
		}
	}
	return parts
}

// CompareVersions compares two dot-separated versions as integer tuples,
// padding the shorter one with zeros. It returns -1, 0 or 1.
func CompareVersions(a, b string) int {
	pa, pb := lenientParts(a), lenientParts(b)
	n := max(len(pa), len(pb))
	for i := range n {
		var x, y int
		if i < len(pa) {
			x = pa[i]
		}
		if i < len(pb) {
			y = pb[i]
		}
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
	}
	return 0
}

// tighterMin returns the larger of two lower bounds. Equal versions with
// different spellings ("10.13" vs "10.13.0") resolve to the lexically
// smaller string so the choice does not depend on operand order.
func tighterMin(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	switch CompareVersions(a, b) {
	case 1:
		return a
	case -1:
		return b
	}
	return min(a, b)
}

// tighterMax returns the smaller of two upper bounds.
func tighterMax(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	switch CompareVersions(a, b) {
	case -1:
		return a
	case 1:
		return b
	}
	return min(a, b)
}
