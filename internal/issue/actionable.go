// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/invowk/modlink/pkg/diag"
)

type (
	// ActionableError is a failure reported to the user together with what
	// they can do about it. Codes name the diagnostic codes behind the
	// failure; each one has a long-form explanation (see Get).
	//
	//	err := issue.NewErrorContext().
	//		WithOperation("load configuration").
	//		WithResource("~/.config/modlink/config.cue").
	//		WithSuggestion("Check that the file contains valid CUE syntax").
	//		Wrap(cause).
	//		BuildError()
	ActionableError struct {
		// Operation is a verb phrase such as "plan link".
		Operation string
		// Resource is the file or key involved, if any.
		Resource    string
		Suggestions []string
		Codes       []diag.Code
		Cause       error
	}

	// ErrorContext accumulates the fields of an ActionableError.
	ErrorContext struct {
		err ActionableError
	}
)

// Wrap returns err with operation and resource context, or nil for a nil err.
func Wrap(err error, operation, resource string) *ActionableError {
	if err == nil {
		return nil
	}
	return &ActionableError{Operation: operation, Resource: resource, Cause: err}
}

// Error renders "failed to <operation>[: <resource>][: <cause>]".
func (e *ActionableError) Error() string {
	parts := []string{"failed to " + e.Operation}
	if e.Resource != "" {
		parts = append(parts, e.Resource)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, ": ")
}

func (e *ActionableError) Unwrap() error {
	return e.Cause
}

// HasSuggestions reports whether there is anything to suggest.
func (e *ActionableError) HasSuggestions() bool {
	return len(e.Suggestions) > 0 || len(e.Codes) > 0
}

// Format renders the message followed by one bullet per suggestion and a
// pointer to `modlink explain` for each code. verbose appends the numbered
// chain of wrapped errors.
func (e *ActionableError) Format(verbose bool) string {
	var b strings.Builder
	b.WriteString(e.Error())
	if e.HasSuggestions() {
		b.WriteString("\n")
	}
	for _, s := range e.Suggestions {
		b.WriteString("\n  • " + s)
	}
	for _, code := range e.Codes {
		fmt.Fprintf(&b, "\n  • Run 'modlink explain %s' for details", code)
	}

	if verbose && e.Cause != nil {
		b.WriteString("\n\nError chain:")
		for depth, err := 1, e.Cause; err != nil; depth, err = depth+1, errors.Unwrap(err) {
			fmt.Fprintf(&b, "\n  %d. %s", depth, err)
		}
	}
	return b.String()
}

// NewErrorContext starts an empty ErrorContext.
func NewErrorContext() *ErrorContext {
	return &ErrorContext{}
}

func (c *ErrorContext) WithOperation(op string) *ErrorContext {
	c.err.Operation = op
	return c
}

func (c *ErrorContext) WithResource(res string) *ErrorContext {
	c.err.Resource = res
	return c
}

// WithSuggestion appends a suggestion; it may be called repeatedly.
func (c *ErrorContext) WithSuggestion(sug string) *ErrorContext {
	c.err.Suggestions = append(c.err.Suggestions, sug)
	return c
}

func (c *ErrorContext) WithSuggestions(sugs ...string) *ErrorContext {
	c.err.Suggestions = append(c.err.Suggestions, sugs...)
	return c
}

// WithCode records code and appends its catalog suggestions. Repeated codes
// are ignored.
func (c *ErrorContext) WithCode(code diag.Code) *ErrorContext {
	if slices.Contains(c.err.Codes, code) {
		return c
	}
	c.err.Codes = append(c.err.Codes, code)
	if i := Get(code); i != nil {
		c.err.Suggestions = append(c.err.Suggestions, i.suggestions...)
	}
	return c
}

func (c *ErrorContext) Wrap(err error) *ErrorContext {
	c.err.Cause = err
	return c
}

// Build returns the error, or nil when no operation was set.
func (c *ErrorContext) Build() *ActionableError {
	if c.err.Operation == "" {
		return nil
	}
	out := c.err
	out.Suggestions = slices.Clone(c.err.Suggestions)
	out.Codes = slices.Clone(c.err.Codes)
	return &out
}

// BuildError is Build returning a plain error, so that a missing operation
// yields an untyped nil.
func (c *ErrorContext) BuildError() error {
	if ae := c.Build(); ae != nil {
		return ae
	}
	return nil
}

// FromError wraps err for operation. The error codes of the diagnostics err
// carries, if any, are recorded with their suggestions.
func FromError(operation string, err error) error {
	if err == nil {
		return nil
	}
	c := NewErrorContext().WithOperation(operation).Wrap(err)
	var derr *diag.Error
	if errors.As(err, &derr) {
		for _, d := range derr.Diagnostics.Errors() {
			c.WithCode(d.Code)
		}
	}
	return c.BuildError()
}
