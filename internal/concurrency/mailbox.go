// File: internal/concurrency/mailbox.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Mailbox is the multi-producer, single-consumer inbox of a selector loop.
// Producers append under a short mutex and wake the consumer's selector on
// the empty-to-non-empty transition; the consumer drains without blocking.

package concurrency

import (
	"sync"

	"github.com/eapache/queue"
)

// Mailbox is an unbounded FIFO with a wakeup hook and a terminal closed state.
type Mailbox[T any] struct {
	mu     sync.Mutex
	q      *queue.Queue
	closed bool
	wake   func()
}

// NewMailbox creates a mailbox; wake is invoked (outside the lock) whenever
// an item lands in an empty mailbox. wake may be nil.
func NewMailbox[T any](wake func()) *Mailbox[T] {
	return &Mailbox[T]{q: queue.New(), wake: wake}
}

// Put appends v. It returns false if the mailbox is closed.
func (m *Mailbox[T]) Put(v T) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	wasEmpty := m.q.Length() == 0
	m.q.Add(v)
	m.mu.Unlock()
	if wasEmpty && m.wake != nil {
		m.wake()
	}
	return true
}

// Drain moves every queued item into dst and returns it.
func (m *Mailbox[T]) Drain(dst []T) []T {
	m.mu.Lock()
	defer m.mu.Unlock()
	for m.q.Length() > 0 {
		dst = append(dst, m.q.Remove().(T))
	}
	return dst
}

// Close marks the mailbox closed and returns the items that were still queued.
// Later Puts fail, so no item can be accepted and then silently lost.
func (m *Mailbox[T]) Close() []T {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	var rest []T
	for m.q.Length() > 0 {
		rest = append(rest, m.q.Remove().(T))
	}
	return rest
}

// Len returns the number of queued items.
func (m *Mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.q.Length()
}

// Closed reports whether Close was called.
func (m *Mailbox[T]) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
