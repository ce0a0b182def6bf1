// Package daemon spawns and supervises per-object background tasks, and
// drives the termination escalation protocol that keeps a misbehaving task
// from blocking object deletion forever.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/operkit/operkit/internal/memory"
	"github.com/operkit/operkit/internal/object"
	"github.com/operkit/operkit/internal/stopper"
)

// Fn is the body of a daemon handler. It runs for the lifetime of the
// owning object and should return once r.Stop is signalled. Bodies that
// ignore both the stop signal and context cancellation are eventually
// abandoned by the termination protocol.
type Fn func(ctx context.Context, r *Request) error

// Request carries the per-object environment into a daemon body. Structural
// fields are supervisor-owned and read-only from the body's perspective;
// the memo is the designated escape hatch for arbitrary user state.
type Request struct {
	Stop *stopper.Stopper
	Memo memory.Memo
	Mem  *memory.Memory
	Log  *slog.Logger
}

// Body returns the last-seen payload of the owning object, so a daemon can
// read current spec/state without re-fetching.
func (r *Request) Body() object.Body { return object.Body(r.Mem.LiveBody()) }

// Spec is the handler metadata for one daemon kind.
//
// CancellationBackoff is the grace period after the stop signal before the
// task is forcefully cancelled; nil means wait for a voluntary exit.
// CancellationTimeout bounds how long a cancelled task is awaited before it
// is abandoned; nil means wait forever.
type Spec struct {
	ID                  string
	CancellationBackoff *time.Duration
	CancellationTimeout *time.Duration
	Fn                  Fn
}

// Validate rejects configuration inconsistencies at spawn time, so they
// never reach the termination protocol.
func (s Spec) Validate() error {
	if s.ID == "" {
		return errors.New("daemon spec: empty id")
	}
	if s.Fn == nil {
		return fmt.Errorf("daemon %q: nil body", s.ID)
	}
	if s.CancellationBackoff != nil && *s.CancellationBackoff <= 0 {
		return fmt.Errorf("daemon %q: cancellation backoff must be positive, got %v", s.ID, *s.CancellationBackoff)
	}
	if s.CancellationTimeout != nil && *s.CancellationTimeout <= 0 {
		return fmt.Errorf("daemon %q: cancellation timeout must be positive, got %v", s.ID, *s.CancellationTimeout)
	}
	return nil
}
