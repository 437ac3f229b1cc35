// File: internal/concurrency/future.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import (
	"context"
	"sync"
)

// Future is a single-assignment result cell. The first Complete wins;
// any number of goroutines may wait on it.
type Future struct {
	once sync.Once
	done chan struct{}
	err  error
}

// NewFuture returns an unresolved Future.
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Complete resolves the future with err (nil = success). It reports whether
// this call performed the assignment.
func (f *Future) Complete(err error) bool {
	assigned := false
	f.once.Do(func() {
		f.err = err
		close(f.done)
		assigned = true
	})
	return assigned
}

// Done is closed once the future is resolved.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the future resolves or ctx ends.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	default:
	}
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the result if resolved, nil otherwise.
func (f *Future) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}
