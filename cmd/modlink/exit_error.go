// SPDX-License-Identifier: MPL-2.0

package cmd

import "strconv"

// Exit codes returned by modlink.
const (
	// exitFailure reports a failed operation: a missing module, an
	// unsupported target or diagnostics with errors.
	exitFailure = 1
	// exitUsage reports an argument that names nothing modlink knows.
	exitUsage = 2
)

// ExitError carries the process exit code out of a RunE handler; Execute
// turns it into os.Exit.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return "exit status " + strconv.Itoa(e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }
