// SPDX-License-Identifier: MPL-2.0

package diag

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

const (
	// SeverityWarning indicates a recoverable problem; processing continues.
	SeverityWarning Severity = "warning"
	// SeverityError indicates a problem that excludes a module or makes a
	// composition unbuildable.
	SeverityError Severity = "error"
)

const (
	// CodeModuleParseFailed reports an unreadable or undecodable IR unit.
	CodeModuleParseFailed Code = "module_parse_failed"
	// CodeMetadataInvalid reports malformed module metadata.
	CodeMetadataInvalid Code = "metadata_invalid"
	// CodeNotAModule reports an IR unit without the module metadata symbol.
	CodeNotAModule Code = "not_a_module"
	// CodeDependencyUnresolved reports a dependency key that matched nothing.
	CodeDependencyUnresolved Code = "dependency_unresolved"
	// CodeNoCompatibleTarget reports a build configuration supporting no architecture.
	CodeNoCompatibleTarget Code = "no_compatible_target"
	// CodeUnsupportedTarget reports a requested platform or architecture the
	// composition does not support.
	CodeUnsupportedTarget Code = "unsupported_target"
	// CodeIOFailed reports a missing or unreadable file.
	CodeIOFailed Code = "io_failed"
	// CodeCompileFailed reports a failed composition or specialization compile.
	CodeCompileFailed Code = "compile_failed"
	// CodeSearchPathInvalid reports an unusable module search path.
	CodeSearchPathInvalid Code = "search_path_invalid"
	// CodeDependencyCycle reports modules depending on each other.
	CodeDependencyCycle Code = "dependency_cycle"
)

var (
	// ErrInvalidSeverity is returned when a Severity is not one of the defined levels.
	ErrInvalidSeverity = errors.New("invalid diagnostic severity")
	// ErrInvalidCode is returned when a Code is not one of the defined codes.
	ErrInvalidCode = errors.New("invalid diagnostic code")

	validCodes = []Code{
		CodeModuleParseFailed, CodeMetadataInvalid, CodeNotAModule,
		CodeDependencyUnresolved, CodeNoCompatibleTarget, CodeUnsupportedTarget,
		CodeIOFailed, CodeCompileFailed, CodeSearchPathInvalid, CodeDependencyCycle,
	}
)

type (
	// Severity represents diagnostic severity.
	Severity string

	// Code is a machine-readable diagnostic identifier.
	Code string

	// Diagnostic carries enough context for a caller to render a log line or
	// a fix-it dialog.
	Diagnostic struct {
		// Severity is the diagnostic level (warning or error).
		Severity Severity
		// Code is a machine-readable identifier (e.g., "dependency_unresolved").
		Code Code
		// Title is a short user-facing summary (optional).
		Title string
		// Message is the human-readable description.
		Message string
		// Path is the file path associated with this diagnostic (optional).
		Path string
		// ModuleKey is the module the diagnostic is attributed to (optional).
		ModuleKey string
		// Cause is the underlying error (optional, for programmatic inspection).
		Cause error
	}

	// List is an ordered collection of diagnostics.
	List []Diagnostic
)

// IsValid reports whether s is a defined severity.
func (s Severity) IsValid() (bool, []error) {
	switch s {
	case SeverityWarning, SeverityError:
		return true, nil
	default:
		return false, []error{fmt.Errorf("%w: %q", ErrInvalidSeverity, string(s))}
	}
}

// IsValid reports whether c is a defined code.
func (c Code) IsValid() (bool, []error) {
	if slices.Contains(validCodes, c) {
		return true, nil
	}
	return false, []error{fmt.Errorf("%w: %q", ErrInvalidCode, string(c))}
}

// Warning creates a warning diagnostic.
func Warning(code Code, message string) Diagnostic {
	return Diagnostic{Severity: SeverityWarning, Code: code, Message: message}
}

// Errorf creates an error diagnostic with a formatted message.
func Errorf(code Code, format string, args ...any) Diagnostic {
	return Diagnostic{Severity: SeverityError, Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithPath returns a copy of d attributed to path.
func (d Diagnostic) WithPath(path string) Diagnostic {
	d.Path = path
	return d
}

// WithModule returns a copy of d attributed to the module key.
func (d Diagnostic) WithModule(key string) Diagnostic {
	d.ModuleKey = key
	return d
}

// WithTitle returns a copy of d with a short user-facing title.
func (d Diagnostic) WithTitle(title string) Diagnostic {
	d.Title = title
	return d
}

// WithCause returns a copy of d wrapping err.
func (d Diagnostic) WithCause(err error) Diagnostic {
	d.Cause = err
	return d
}

// String renders the diagnostic on one line.
func (d Diagnostic) String() string {
	var b strings.Builder
	b.WriteString(string(d.Severity))
	b.WriteString(": ")
	if d.Path != "" {
		b.WriteString(d.Path)
		b.WriteString(": ")
	}
	if d.ModuleKey != "" {
		b.WriteString("[")
		b.WriteString(d.ModuleKey)
		b.WriteString("] ")
	}
	if d.Title != "" {
		b.WriteString(d.Title)
		b.WriteString(": ")
	}
	b.WriteString(d.Message)
	if d.Cause != nil {
		b.WriteString(": ")
		b.WriteString(d.Cause.Error())
	}
	return b.String()
}

// Errors returns the diagnostics with error severity.
func (l List) Errors() List {
	return l.filter(SeverityError)
}

// Warnings returns the diagnostics with warning severity.
func (l List) Warnings() List {
	return l.filter(SeverityWarning)
}

// HasErrors reports whether any diagnostic has error severity.
func (l List) HasErrors() bool {
	return slices.ContainsFunc(l, func(d Diagnostic) bool { return d.Severity == SeverityError })
}

// ForModule returns the diagnostics attributed to key.
func (l List) ForModule(key string) List {
	var out List
	for _, d := range l {
		if d.ModuleKey == key {
			out = append(out, d)
		}
	}
	return out
}

// Sort orders diagnostics by path, module key, code and message so output
// does not depend on goroutine scheduling.
func (l List) Sort() {
	slices.SortStableFunc(l, func(a, b Diagnostic) int {
		return strings.Compare(a.sortKey(), b.sortKey())
	})
}

// Err returns the error-severity diagnostics as a single *Error, or nil.
func (l List) Err() error {
	errs := l.Errors()
	if len(errs) == 0 {
		return nil
	}
	return &Error{Diagnostics: errs}
}

func (l List) filter(s Severity) List {
	var out List
	for _, d := range l {
		if d.Severity == s {
			out = append(out, d)
		}
	}
	return out
}

func (d Diagnostic) sortKey() string {
	return d.Path + "\x00" + d.ModuleKey + "\x00" + string(d.Code) + "\x00" + d.Message
}
