// Package task wraps a background goroutine with a handle that supports a
// non-blocking done check, a one-shot cancel instruction, and an awaitable
// completion, which is everything the termination protocol needs.
package task

import (
	"context"
	"fmt"
	"sync"
)

// Fn is the body of a background task. It must return promptly once its
// context is cancelled, but the supervisor tolerates bodies that do not.
type Fn func(ctx context.Context) error

// Task is a handle over one running background goroutine.
type Task struct {
	done   chan struct{}
	cancel context.CancelFunc
	once   sync.Once

	mu  sync.Mutex
	err error
}

// Spawn starts fn in its own goroutine, derived from ctx so the task is
// also bound to the supervisor's own lifetime. A panic in fn is recorded
// as the task error rather than crashing the process.
func Spawn(ctx context.Context, fn Fn) *Task {
	tctx, cancel := context.WithCancel(ctx)
	t := &Task{done: make(chan struct{}), cancel: cancel}
	go func() {
		defer close(t.done)
		defer func() {
			if r := recover(); r != nil {
				t.setErr(fmt.Errorf("task panicked: %v", r))
			}
		}()
		t.setErr(fn(tctx))
	}()
	return t
}

func (t *Task) setErr(err error) {
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
}

// IsDone reports completion without blocking.
func (t *Task) IsDone() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Done returns a channel closed when the task completes.
func (t *Task) Done() <-chan struct{} { return t.done }

// Cancel issues the cancellation instruction. Idempotent; the protocol
// additionally guards it with the stopper's cancellation marker.
func (t *Task) Cancel() { t.once.Do(t.cancel) }

// Wait blocks until the task completes or ctx is cancelled.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the task's result error. Meaningful only after completion.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}
