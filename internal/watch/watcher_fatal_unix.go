// SPDX-License-Identifier: MPL-2.0

//go:build !windows

package watch

import (
	"errors"
	"slices"
	"syscall"
)

// exhaustionErrnos leave the watcher without inotify watches (ENOSPC) or
// file descriptors (EMFILE, ENFILE). Adding more search paths cannot succeed
// until the limit is raised.
var exhaustionErrnos = []syscall.Errno{syscall.ENOSPC, syscall.EMFILE, syscall.ENFILE}

func resourceExhausted(err error) bool {
	return slices.ContainsFunc(exhaustionErrnos, func(errno syscall.Errno) bool {
		return errors.Is(err, errno)
	})
}
