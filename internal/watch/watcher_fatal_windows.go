// SPDX-License-Identifier: MPL-2.0

//go:build windows

package watch

import (
	"errors"
	"slices"
	"syscall"
)

// exhaustionErrnos are the Win32 codes after which ReadDirectoryChangesW
// cannot watch a search path: handle exhaustion, a deleted search path
// root and a failed notification buffer allocation.
var exhaustionErrnos = []syscall.Errno{
	syscall.Errno(4), // ERROR_TOO_MANY_OPEN_FILES
	syscall.Errno(6), // ERROR_INVALID_HANDLE
	syscall.Errno(8), // ERROR_NOT_ENOUGH_MEMORY
}

func resourceExhausted(err error) bool {
	return slices.ContainsFunc(exhaustionErrnos, func(errno syscall.Errno) bool {
		return errors.Is(err, errno)
	})
}
