package daemon

import (
	"context"
	"time"

	"github.com/operkit/operkit/internal/journal"
	"github.com/operkit/operkit/internal/memory"
	"github.com/operkit/operkit/internal/metrics"
	"github.com/operkit/operkit/internal/object"
	"github.com/operkit/operkit/internal/stopper"
)

// Decision is the outcome of one termination pass over an object's daemons.
// Blocked means the finalizer must stay; RequeueAfter, when set, is the
// minimum deadline after which another pass will make progress. The
// scheduler may requeue sooner; the protocol recomputes its phase from
// elapsed time alone, so extra passes are harmless.
type Decision struct {
	Blocked      bool
	RequeueAfter *time.Duration
}

// DriveTermination runs the escalation protocol over every daemon handle
// of the record. It is called once per reconciliation pass, only when the
// object is marked for deletion. Once every handle has stopped or been
// abandoned, it emits the finalizer-removal patch and reports clear.
//
// It never fails: every abnormal condition resolves into the Decision,
// at most one warning log line, and a patch instruction.
func (s *Supervisor) DriveTermination(ctx context.Context, mem *memory.Memory, body object.Body) Decision {
	var blocked bool
	var minRequeue *time.Duration
	for _, id := range mem.DaemonIDs() {
		d, ok := mem.Daemon(id)
		if !ok {
			continue
		}
		stopped, requeue := s.escalateOne(ctx, mem, body, d)
		if !stopped {
			blocked = true
			if requeue != nil && (minRequeue == nil || *requeue < *minRequeue) {
				minRequeue = requeue
			}
		}
	}
	if blocked {
		return Decision{Blocked: true, RequeueAfter: minRequeue}
	}
	if body.HasFinalizer(s.finalizer) {
		s.applyPatch(ctx, body, object.FinalizerRemovalPatch(body, s.finalizer))
	}
	return Decision{}
}

// escalateOne drives a single daemon one step further towards "stopped" or
// "abandoned". It re-enters correctly across passes: the phase is
// recomputed from the stopper's signal time and cancellation marker alone.
// Waits resolve on task completion, phase deadline, or ctx cancellation,
// whichever comes first.
func (s *Supervisor) escalateOne(ctx context.Context, mem *memory.Memory, body object.Body, d *memory.Daemon) (stopped bool, requeue *time.Duration) {
	now := s.clock.Now()
	if !d.Stop.IsSet() {
		// The authoritative start of the stopping sequence.
		d.Stop.Signal(stopper.ReasonDeleted, now)
		s.journalEvent(journal.EventSignalled, body.UID(), d.ID, string(stopper.ReasonDeleted))
	}
	if d.Task.IsDone() {
		s.retire(mem, body, d, journal.EventStopped, "")
		return true, nil
	}

	reason, _ := d.Stop.Reason()
	backoff := d.CancellationBackoff
	timeout := d.CancellationTimeout

	if cancelledAt, cancelled := d.Stop.Cancelled(); cancelled {
		// Cancellation was issued on a prior pass (or earlier in this one).
		if timeout != nil && now.Sub(cancelledAt) >= *timeout {
			s.abandon(mem, body, d)
			return true, nil
		}
		var remaining *time.Duration
		if timeout != nil {
			r := *timeout - now.Sub(cancelledAt)
			remaining = &r
		}
		if s.waitOrDone(ctx, remaining, d.Task.Done()) {
			s.retire(mem, body, d, journal.EventStopped, "")
			return true, nil
		}
		return false, s.remainingOf(cancelledAt, timeout)
	}

	setAt, _ := d.Stop.SetAt()
	elapsed := now.Sub(setAt)

	switch {
	case backoff == nil && timeout == nil:
		// Pure grace: wait for a voluntary exit, no deadline.
		if s.waitOrDone(ctx, nil, d.Task.Done()) {
			s.retire(mem, body, d, journal.EventStopped, "")
			return true, nil
		}
		return false, nil

	case backoff != nil && elapsed < *backoff:
		// Grace phase, backoff not elapsed yet: no cancellation.
		s.applyPatch(ctx, body, s.stoppingPatch(d, reason))
		wait := *backoff - elapsed
		if s.waitOrDone(ctx, &wait, d.Task.Done()) {
			s.retire(mem, body, d, journal.EventStopped, "")
			return true, nil
		}
		return false, s.remainingOf(setAt, backoff)

	default:
		// Backoff elapsed (or absent with a timeout present): cancel now.
		s.cancel(body, d, now)
		s.applyPatch(ctx, body, s.stoppingPatch(d, reason))
		if s.waitOrDone(ctx, timeout, d.Task.Done()) {
			s.retire(mem, body, d, journal.EventStopped, "")
			return true, nil
		}
		return false, s.remainingOf(now, timeout)
	}
}

// cancel issues the forceful cancellation instruction exactly once.
func (s *Supervisor) cancel(body object.Body, d *memory.Daemon, now time.Time) {
	if !d.Stop.MarkCancelled(now) {
		return
	}
	d.Task.Cancel()
	metrics.IncCancellation(d.ID)
	s.journalEvent(journal.EventCancelled, body.UID(), d.ID, "")
	d.Logger.Debug("daemon is being cancelled")
}

// retire finalizes a daemon that actually stopped: its identifier may
// never respawn for this object, and its handle is dropped.
func (s *Supervisor) retire(mem *memory.Memory, body object.Body, d *memory.Daemon, t journal.EventType, reason string) {
	mem.StopForever(d.ID)
	metrics.IncStop(d.ID)
	s.journalEvent(t, body.UID(), d.ID, reason)
	d.Logger.Debug("daemon has stopped")
}

// abandon gives up on a daemon whose cancellation timeout elapsed. The
// task is left running detached and never awaited or cancelled again.
func (s *Supervisor) abandon(mem *memory.Memory, body object.Body, d *memory.Daemon) {
	mem.StopForever(d.ID)
	metrics.IncAbandon(d.ID)
	s.journalEvent(journal.EventAbandoned, body.UID(), d.ID, "did not exit in time")
	d.Logger.Warn("daemon did not exit in time, leaving it orphaned", "daemon", d.ID)
}

// waitOrDone suspends until the task completes, the optional deadline
// elapses, or ctx is cancelled. Returns true only on task completion.
func (s *Supervisor) waitOrDone(ctx context.Context, d *time.Duration, done <-chan struct{}) bool {
	if d == nil {
		select {
		case <-done:
			return true
		case <-ctx.Done():
			return false
		}
	}
	timer := s.clock.NewTimer(*d)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.Chan():
		return false
	case <-ctx.Done():
		return false
	}
}

// remainingOf returns the time left until since+window, clamped at zero.
func (s *Supervisor) remainingOf(since time.Time, window *time.Duration) *time.Duration {
	if window == nil {
		return nil
	}
	r := *window - s.clock.Since(since)
	if r < 0 {
		r = 0
	}
	return &r
}

func (s *Supervisor) stoppingPatch(d *memory.Daemon, reason stopper.Reason) object.Patch {
	return object.StatusPatch(s.statusPrefix, d.ID, map[string]any{"stopping": string(reason)})
}
