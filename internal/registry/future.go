// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"context"
	"sync"
)

type (
	// Future is the completion token of an asynchronous registry operation.
	// It cannot be canceled; Wait's context only bounds how long the caller
	// waits.
	Future[T any] struct {
		done  chan struct{}
		value T
		err   error
	}

	// waiter is the type-erased view of a Future held by a FutureSet.
	waiter interface {
		Done() <-chan struct{}
	}

	// FutureSet tracks outstanding futures so a shutdown can join them.
	FutureSet struct {
		mu      sync.Mutex
		pending map[waiter]struct{}
	}
)

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// completedFuture returns a future that is already resolved.
func completedFuture[T any](v T, err error) *Future[T] {
	f := newFuture[T]()
	f.resolve(v, err)
	return f
}

// resolve completes the future. It must be called exactly once.
func (f *Future[T]) resolve(v T, err error) {
	f.value, f.err = v, err
	close(f.done)
}

// Done is closed once the result is available.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Wait blocks until the future resolves or ctx is done.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Add tracks w until it completes.
func (s *FutureSet) Add(w waiter) {
	s.mu.Lock()
	if s.pending == nil {
		s.pending = make(map[waiter]struct{})
	}
	s.pending[w] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-w.Done()
		s.mu.Lock()
		delete(s.pending, w)
		s.mu.Unlock()
	}()
}

// Len returns the number of outstanding futures.
func (s *FutureSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Wait blocks until every future outstanding at the time of the call, and
// every future added while waiting, has completed.
func (s *FutureSet) Wait(ctx context.Context) error {
	for {
		s.mu.Lock()
		outstanding := make([]waiter, 0, len(s.pending))
		for w := range s.pending {
			outstanding = append(outstanding, w)
		}
		s.mu.Unlock()
		if len(outstanding) == 0 {
			return nil
		}
		for _, w := range outstanding {
			select {
			case <-w.Done():
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		// Completed futures may not have been removed yet; drop them so the
		// next snapshot only holds futures still running.
		s.mu.Lock()
		for _, w := range outstanding {
			delete(s.pending, w)
		}
		s.mu.Unlock()
	}
}
