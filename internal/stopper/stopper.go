// Package stopper provides the one-shot stop signal attached to every
// running daemon. The daemon body waits on it to exit cooperatively; the
// termination protocol reads it to recompute the current stopping phase.
package stopper

import (
	"context"
	"sync"
	"time"
)

// Reason explains why a daemon was asked to stop.
type Reason string

const (
	// ReasonDeleted means the owning object was marked for deletion.
	ReasonDeleted Reason = "object deleted"
	// ReasonOperatorExiting means the whole supervisor is shutting down.
	ReasonOperatorExiting Reason = "operator exiting"
	// ReasonDone means the daemon finished on its own and must not respawn.
	ReasonDone Reason = "daemon finished"
)

// Stopper is a one-shot, reason-carrying stop signal. The first Signal call
// wins; later calls are ignored. A separate once-settable marker records
// that forceful cancellation has been issued, so the termination protocol
// never cancels the same task twice.
type Stopper struct {
	mu          sync.Mutex
	done        chan struct{}
	reason      Reason
	setAt       time.Time
	set         bool
	cancelledAt time.Time
	cancelled   bool
}

// New returns an unset stopper.
func New() *Stopper {
	return &Stopper{done: make(chan struct{})}
}

// Signal transitions the stopper from unset to set with the given reason
// and time. Idempotent: only the first call takes effect.
func (s *Stopper) Signal(reason Reason, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.set {
		return
	}
	s.set = true
	s.reason = reason
	s.setAt = now
	close(s.done)
}

// IsSet reports whether the stopper has been signalled.
func (s *Stopper) IsSet() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set
}

// Reason returns the stop reason; ok is false while unset.
func (s *Stopper) Reason() (Reason, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason, s.set
}

// SetAt returns the time the stopper was signalled; ok is false while unset.
func (s *Stopper) SetAt() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setAt, s.set
}

// Done returns a channel closed once the stopper is signalled. Daemon
// bodies select on it to discover they should exit.
func (s *Stopper) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the stopper is signalled or ctx is cancelled. Returns
// immediately when already set.
func (s *Stopper) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// MarkCancelled records that forceful cancellation was issued, once.
// Returns false if it was already marked.
func (s *Stopper) MarkCancelled(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		return false
	}
	s.cancelled = true
	s.cancelledAt = now
	return true
}

// Cancelled returns the time forceful cancellation was issued; ok is false
// if it never was.
func (s *Stopper) Cancelled() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelledAt, s.cancelled
}
