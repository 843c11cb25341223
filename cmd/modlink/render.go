// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/invowk/modlink/internal/issue"
	"github.com/invowk/modlink/pkg/diag"
)

// formatErrorForDisplay formats an error for user display.
// If the error is an ActionableError, it uses the Format method.
// In verbose mode, shows the full error chain.
func formatErrorForDisplay(err error, verboseMode bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verboseMode)
	}
	return err.Error()
}

// renderDiagnostics writes one line per diagnostic, errors first.
func renderDiagnostics(w io.Writer, diags diag.List) {
	sorted := append(diag.List(nil), diags...)
	sorted.Sort()
	for _, d := range sorted {
		label := WarningStyle.Render("warning")
		if d.Severity == diag.SeverityError {
			label = ErrorStyle.Render("error")
		}
		var where []string
		if d.ModuleKey != "" {
			where = append(where, KeyStyle.Render(d.ModuleKey))
		}
		if d.Path != "" {
			where = append(where, SubtitleStyle.Render(d.Path))
		}
		line := fmt.Sprintf("%s [%s] %s", label, d.Code, d.Message)
		if len(where) > 0 {
			line += " (" + strings.Join(where, " ") + ")"
		}
		fmt.Fprintln(w, line)
	}
}

// failWithDiagnostics renders the diagnostics carried by err, if any, and
// the error with the suggestions of their codes. The command's own error
// output is silenced.
func failWithDiagnostics(cmd *cobra.Command, operation string, err error, verbose bool) error {
	w := cmd.ErrOrStderr()
	var derr *diag.Error
	if errors.As(err, &derr) {
		renderDiagnostics(w, derr.Diagnostics)
	}
	err = issue.FromError(operation, err)
	fmt.Fprintf(w, "\n%s %s\n", ErrorStyle.Render("Error:"), formatErrorForDisplay(err, verbose))
	cmd.SilenceErrors = true
	return &ExitError{Code: exitFailure, Err: err}
}
