// SPDX-License-Identifier: MPL-2.0

package diag

import (
	"fmt"
	"strings"
)

// Error aggregates the diagnostics that make a composition unbuildable.
type Error struct {
	Diagnostics List
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch len(e.Diagnostics) {
	case 0:
		return "no diagnostics"
	case 1:
		return e.Diagnostics[0].String()
	}
	lines := make([]string, len(e.Diagnostics))
	for i, d := range e.Diagnostics {
		lines[i] = "  " + d.String()
	}
	return fmt.Sprintf("%d problems:\n%s", len(e.Diagnostics), strings.Join(lines, "\n"))
}

// Unwrap exposes the diagnostic causes to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	var errs []error
	for _, d := range e.Diagnostics {
		if d.Cause != nil {
			errs = append(errs, d.Cause)
		}
	}
	return errs
}
