// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"errors"
	"sync"
)

// ErrClosed is returned for operations submitted to a closed registry.
var ErrClosed = errors.New("registry is closed")

// serialQueue runs submitted tasks one at a time in submission order on a
// dedicated goroutine. Submitting never blocks.
type serialQueue struct {
	mu     sync.Mutex
	tasks  []func()
	wake   chan struct{}
	closed bool
	done   chan struct{}
}

func newSerialQueue() *serialQueue {
	q := &serialQueue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *serialQueue) submit(task func()) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.tasks = append(q.tasks, task)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// close stops accepting tasks, runs the ones already queued and waits for
// the worker goroutine to exit.
func (q *serialQueue) close() {
	q.mu.Lock()
	already := q.closed
	q.closed = true
	q.mu.Unlock()
	if !already {
		select {
		case q.wake <- struct{}{}:
		default:
		}
	}
	<-q.done
}

func (q *serialQueue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		if len(q.tasks) == 0 {
			closed := q.closed
			q.mu.Unlock()
			if closed {
				return
			}
			<-q.wake
			continue
		}
		task := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		q.mu.Unlock()
		task()
	}
}

// submitFuture runs fn on q and resolves the returned future with its result.
func submitFuture[T any](q *serialQueue, fn func() (T, error)) *Future[T] {
	f := newFuture[T]()
	err := q.submit(func() {
		v, err := fn()
		f.resolve(v, err)
	})
	if err != nil {
		var zero T
		f.resolve(zero, err)
	}
	return f
}
