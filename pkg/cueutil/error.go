// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"errors"
	"fmt"
	"strings"

	cueerrors "cuelang.org/go/cue/errors"
)

var (
	// ErrFileTooLarge is returned when a document exceeds the size limit.
	ErrFileTooLarge = errors.New("file too large")
	// ErrInvalidCUEPath is returned by CUEPath.Validate for blank paths.
	ErrInvalidCUEPath = errors.New("invalid CUE path")
)

type (
	// CUEPath is a JSON-path style field location such as
	// "nodes.blur" or "genericTypes.T.compatibleTypes[0]".
	CUEPath string

	// ValidationError is one schema violation.
	ValidationError struct {
		FilePath string
		CUEPath  CUEPath
		Message  string
	}

	// ValidationErrors lists every violation found in one document.
	ValidationErrors []*ValidationError
)

// Validate rejects blank paths.
func (p CUEPath) Validate() error {
	if strings.TrimSpace(string(p)) == "" {
		return fmt.Errorf("%w: %q", ErrInvalidCUEPath, string(p))
	}
	return nil
}

func (p CUEPath) String() string { return string(p) }

func (e *ValidationError) Error() string {
	if e.CUEPath != "" {
		return fmt.Sprintf("%s: %s: %s", e.FilePath, e.CUEPath, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.FilePath, e.Message)
}

func (errs ValidationErrors) Error() string {
	if len(errs) == 1 {
		return errs[0].Error()
	}
	lines := make([]string, len(errs))
	for i, e := range errs {
		lines[i] = e.Error()
	}
	return "validation failed:\n  " + strings.Join(lines, "\n  ")
}

// FormatError converts a CUE error into ValidationErrors keyed by JSON path.
// Errors that do not come from CUE are wrapped with the file path.
func FormatError(err error, filePath string) error {
	if err == nil {
		return nil
	}
	list := cueerrors.Errors(err)
	if len(list) == 0 {
		return fmt.Errorf("%s: %w", filePath, err)
	}

	out := make(ValidationErrors, 0, len(list))
	for _, e := range list {
		path := formatPath(cueerrors.Path(e))
		format, args := e.Msg()
		out = append(out, &ValidationError{
			FilePath: filePath,
			CUEPath:  CUEPath(path),
			Message:  fmt.Sprintf(format, args...),
		})
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

// formatPath renders ["nodes", "0", "key"] as "nodes[0].key".
func formatPath(path []string) string {
	var b strings.Builder
	for i, part := range path {
		if i > 0 && isIndex(part) {
			b.WriteString("[" + part + "]")
			continue
		}
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(part)
	}
	return b.String()
}

func isIndex(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// CheckFileSize rejects data larger than maxSize bytes.
func CheckFileSize(data []byte, maxSize int64, filename string) error {
	if int64(len(data)) > maxSize {
		return fmt.Errorf("%s: %w: %d bytes exceeds maximum %d bytes", filename, ErrFileTooLarge, len(data), maxSize)
	}
	return nil
}
