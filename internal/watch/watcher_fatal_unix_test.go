// SPDX-License-Identifier: MPL-2.0

//go:build !windows

package watch

import (
	"fmt"
	"syscall"
	"testing"

	"github.com/fsnotify/fsnotify"
)

func TestResourceExhausted(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		err  error
		want bool
	}{
		{syscall.ENOSPC, true},
		{syscall.EMFILE, true},
		{fmt.Errorf("adding search path modules/: %w", syscall.ENFILE), true},
		{syscall.EACCES, false},
		{fsnotify.ErrEventOverflow, false},
		{fmt.Errorf("unreadable module set"), false},
	} {
		if got := resourceExhausted(tt.err); got != tt.want {
			t.Errorf("resourceExhausted(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
