// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/invowk/modlink/internal/issue"
	"github.com/invowk/modlink/pkg/diag"
)

func newExplainCommand(app *App) *cobra.Command {
	var style string
	explainCmd := &cobra.Command{
		Use:   "explain [code]",
		Short: "Explain a diagnostic code",
		Long: `Explain a diagnostic code printed in brackets next to errors and warnings,
with suggestions for fixing it. Without a code, list every code.`,
		Example: "  modlink explain dependency_unresolved",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				for _, i := range issue.Values() {
					fmt.Fprintf(app.stdout, "  %-24s %s\n", KeyStyle.Render(string(i.Code())), heading(i.MarkdownMsg()))
				}
				return nil
			}
			code := diag.Code(args[0])
			if ok, errs := code.IsValid(); !ok {
				return &ExitError{Code: exitUsage, Err: errs[0]}
			}
			rendered, err := issue.Get(code).Render(style)
			if err != nil {
				return err
			}
			fmt.Fprint(app.stdout, rendered)
			return nil
		},
	}
	explainCmd.Flags().StringVar(&style, "style", "auto", "glamour style (auto, dark, light, notty)")
	return explainCmd
}

// heading returns the first Markdown heading of msg without its marker.
func heading(msg issue.MarkdownMsg) string {
	for line := range strings.Lines(string(msg)) {
		if title, ok := strings.CutPrefix(strings.TrimSpace(line), "# "); ok {
			return title
		}
	}
	return ""
}
