// File: internal/concurrency/executor.go
// Package concurrency implements the request processor pool and the small
// synchronization primitives shared by the selector loops.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Executor runs tasks on a fixed set of worker goroutines over a bounded
// queue. Capacity (running + queued) is held by a weighted semaphore, so a
// full pool either blocks the submitter (backpressure) or rejects the task.
// With zero workers tasks run inline on the submitting goroutine.

package concurrency

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/momentics/hioload-conntable/api"
)

// TaskFunc is a unit of work to execute.
type TaskFunc func()

// Policy selects the behaviour of Submit on a saturated pool.
type Policy int

const (
	// PolicyBlock blocks the submitter until capacity frees up.
	PolicyBlock Policy = iota
	// PolicyReject fails the submission with a saturation error.
	PolicyReject
)

// Executor manages a pool of worker goroutines.
type Executor struct {
	tasks    chan TaskFunc
	sem      *semaphore.Weighted
	capacity int
	workers  int
	policy   Policy
	onPanic  func(any)

	ctx    context.Context // cancelled by Close to release blocked submitters
	cancel context.CancelFunc

	mu        sync.RWMutex // guards closed against sends on tasks
	closed    bool
	closeOnce sync.Once
	group     errgroup.Group

	// statistics
	submitted atomic.Int64
	completed atomic.Int64
	rejected  atomic.Int64
}

// NewExecutor starts numWorkers workers with room for queueSize waiting tasks.
// numWorkers <= 0 selects inline execution. onPanic, if set, receives values
// recovered from panicking tasks.
func NewExecutor(numWorkers, queueSize int, policy Policy, onPanic func(any)) *Executor {
	if queueSize < 0 {
		queueSize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Executor{
		workers: numWorkers,
		policy:  policy,
		onPanic: onPanic,
		ctx:     ctx,
		cancel:  cancel,
	}
	if numWorkers <= 0 {
		e.workers = 0
		return e
	}
	e.capacity = numWorkers + queueSize
	e.sem = semaphore.NewWeighted(int64(e.capacity))
	e.tasks = make(chan TaskFunc, e.capacity)
	for i := 0; i < numWorkers; i++ {
		e.group.Go(func() error {
			e.run()
			return nil
		})
	}
	return e
}

// Submit schedules task. Under PolicyBlock it waits for capacity; under
// PolicyReject a full pool yields an api.ErrCodeSaturation error.
func (e *Executor) Submit(task TaskFunc) error {
	if e.workers == 0 {
		e.mu.RLock()
		closed := e.closed
		e.mu.RUnlock()
		if closed {
			return ErrExecutorClosed
		}
		e.submitted.Add(1)
		e.safeExecute(task)
		return nil
	}

	if e.policy == PolicyReject {
		if !e.sem.TryAcquire(1) {
			e.rejected.Add(1)
			return api.SaturationError(e.capacity)
		}
	} else if err := e.sem.Acquire(e.ctx, 1); err != nil {
		return ErrExecutorClosed
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		e.sem.Release(1)
		return ErrExecutorClosed
	}
	e.submitted.Add(1)
	e.tasks <- task // never blocks: the semaphore bounds occupancy to cap(tasks)
	return nil
}

// Close stops accepting tasks, releases blocked submitters and waits up to
// timeout for the workers to drain the queue. It reports whether the workers
// finished in time.
func (e *Executor) Close(timeout time.Duration) bool {
	e.closeOnce.Do(func() {
		e.cancel()
		e.mu.Lock()
		e.closed = true
		if e.tasks != nil {
			close(e.tasks)
		}
		e.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		_ = e.group.Wait()
		close(done)
	}()
	if timeout <= 0 {
		<-done
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// NumWorkers returns the worker count (0 = inline).
func (e *Executor) NumWorkers() int { return e.workers }

// Capacity returns the number of tasks that may be running or queued at once.
func (e *Executor) Capacity() int { return e.capacity }

// Pending returns the number of queued, not yet started tasks.
func (e *Executor) Pending() int { return len(e.tasks) }

// Stats returns basic executor metrics.
func (e *Executor) Stats() map[string]int64 {
	return map[string]int64{
		"submitted_tasks": e.submitted.Load(),
		"completed_tasks": e.completed.Load(),
		"rejected_tasks":  e.rejected.Load(),
		"pending_tasks":   int64(e.Pending()),
		"num_workers":     int64(e.workers),
	}
}

func (e *Executor) run() {
	for task := range e.tasks {
		e.safeExecute(task)
		e.sem.Release(1)
	}
}

// safeExecute runs the task, recovering from panics to keep the worker alive.
func (e *Executor) safeExecute(task TaskFunc) {
	defer func() {
		if r := recover(); r != nil && e.onPanic != nil {
			e.onPanic(r)
		}
		e.completed.Add(1)
	}()
	task()
}
