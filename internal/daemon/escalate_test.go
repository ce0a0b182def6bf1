package daemon

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/operkit/operkit/internal/memory"
	"github.com/operkit/operkit/internal/object"
)

func dur(d time.Duration) *time.Duration { return &d }

type recordedPatch struct {
	uid   string
	patch object.Patch
}

// patchRecorder captures every patch instruction the supervisor emits.
type patchRecorder struct {
	mu      sync.Mutex
	patches []recordedPatch
}

func (p *patchRecorder) ApplyPatch(_ context.Context, uid string, patch object.Patch) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.patches = append(p.patches, recordedPatch{uid: uid, patch: patch})
	return nil
}

func (p *patchRecorder) take() []recordedPatch {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.patches
	p.patches = nil
	return out
}

func isFinalizerPatch(p recordedPatch) bool {
	md, ok := p.patch["metadata"].(map[string]any)
	if !ok {
		return false
	}
	_, ok = md["finalizers"]
	return ok
}

func isStatusPatch(p recordedPatch) bool {
	_, ok := p.patch["status"]
	return ok
}

func deletedBody(uid string) object.Body {
	return object.Body{"metadata": map[string]any{
		"uid":               uid,
		"deletionTimestamp": "2026-01-01T00:00:00Z",
		"finalizers":        []any{DefaultFinalizer},
	}}
}

type harness struct {
	clock   *clockwork.FakeClock
	patches *patchRecorder
	sup     *Supervisor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clk := clockwork.NewFakeClock()
	rec := &patchRecorder{}
	sup := New(Config{
		Clock:    clk,
		Patcher:  rec,
		Memories: memory.NewMemories(clk),
	})
	return &harness{clock: clk, patches: rec, sup: sup}
}

// spawnBlocked spawns a daemon whose body blocks until release is closed,
// ignoring both the stop signal and context cancellation (a disobedient
// daemon, from the protocol's point of view).
func (h *harness) spawnBlocked(t *testing.T, mem *memory.Memory, body object.Body, spec Spec) chan struct{} {
	t.Helper()
	release := make(chan struct{})
	started := make(chan struct{})
	spec.Fn = func(ctx context.Context, r *Request) error {
		close(started)
		<-release
		return nil
	}
	if err := h.sup.EnsureDaemons(mem, body, []Spec{spec}); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	<-started
	return release
}

// drive runs DriveTermination in the background and returns a channel
// yielding its decision, so the test can advance the fake clock while the
// protocol is suspended.
func (h *harness) drive(ctx context.Context, mem *memory.Memory, body object.Body) <-chan Decision {
	out := make(chan Decision, 1)
	go func() { out <- h.sup.DriveTermination(ctx, mem, body) }()
	return out
}

func TestDaemonExitsGracefullyAndInstantly(t *testing.T) {
	h := newHarness(t)
	body := deletedBody("u-1")
	mem := h.sup.Memories().Recall(body, false)

	started := make(chan struct{})
	spec := Spec{ID: "fn", Fn: func(ctx context.Context, r *Request) error {
		close(started)
		return r.Stop.Wait(ctx)
	}}
	if err := h.sup.EnsureDaemons(mem, body, []Spec{spec}); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	<-started

	// One pass: the daemon observes the signal and exits during the
	// no-deadline wait; the finalizer is released with no artificial delay.
	dec := h.sup.DriveTermination(context.Background(), mem, body)
	if dec.Blocked {
		t.Fatalf("expected clear decision, got %+v", dec)
	}
	patches := h.patches.take()
	if len(patches) != 1 || !isFinalizerPatch(patches[0]) {
		t.Fatalf("expected exactly one finalizer-removal patch, got %+v", patches)
	}
	if mem.DaemonCount() != 0 {
		t.Fatalf("daemon handle must be removed")
	}
	if !mem.IsStoppedForever("fn") {
		t.Fatalf("fn must be permanently stopped")
	}
}

func TestDaemonExitsViaCancellationWithBackoff(t *testing.T) {
	h := newHarness(t)
	body := deletedBody("u-1")
	mem := h.sup.Memories().Recall(body, false)
	release := h.spawnBlocked(t, mem, body, Spec{
		ID:                  "fn",
		CancellationBackoff: dur(5 * time.Second),
		CancellationTimeout: dur(10 * time.Second),
	})
	d, _ := mem.Daemon("fn")

	// 1st pass: grace phase, wait up to the backoff, status patch only.
	dec1 := h.drive(context.Background(), mem, body)
	h.clock.BlockUntil(1)
	h.clock.Advance(5 * time.Second)
	if got := <-dec1; !got.Blocked {
		t.Fatalf("pass 1 must stay blocked")
	}
	if _, cancelled := d.Stop.Cancelled(); cancelled {
		t.Fatalf("no cancellation during the grace phase")
	}
	p1 := h.patches.take()
	if len(p1) != 1 || !isStatusPatch(p1[0]) {
		t.Fatalf("pass 1 patches: %+v", p1)
	}

	// 2nd pass: backoff elapsed, cancellation issued, wait up to timeout.
	dec2 := h.drive(context.Background(), mem, body)
	h.clock.BlockUntil(1)
	h.clock.Advance(10 * time.Second)
	if got := <-dec2; !got.Blocked {
		t.Fatalf("pass 2 must stay blocked")
	}
	if _, cancelled := d.Stop.Cancelled(); !cancelled {
		t.Fatalf("cancellation must be issued after the backoff")
	}
	p2 := h.patches.take()
	if len(p2) != 1 || !isStatusPatch(p2[0]) {
		t.Fatalf("pass 2 patches: %+v", p2)
	}

	// 3rd pass: the task has actually exited; the finalizer is released
	// with no further waiting.
	close(release)
	<-d.Task.Done()
	dec3 := h.sup.DriveTermination(context.Background(), mem, body)
	if dec3.Blocked {
		t.Fatalf("pass 3 must be clear, got %+v", dec3)
	}
	p3 := h.patches.take()
	if len(p3) != 1 || !isFinalizerPatch(p3[0]) {
		t.Fatalf("pass 3 patches: %+v", p3)
	}
}

func TestDaemonCancelledImmediatelyWithoutBackoff(t *testing.T) {
	h := newHarness(t)
	body := deletedBody("u-1")
	mem := h.sup.Memories().Recall(body, false)
	release := h.spawnBlocked(t, mem, body, Spec{
		ID:                  "fn",
		CancellationTimeout: dur(10 * time.Second),
	})
	defer close(release)
	d, _ := mem.Daemon("fn")

	// No backoff: the grace phase is skipped entirely, cancellation is
	// issued on the very first pass.
	dec := h.drive(context.Background(), mem, body)
	h.clock.BlockUntil(1)
	if _, cancelled := d.Stop.Cancelled(); !cancelled {
		t.Fatalf("cancellation must be issued immediately")
	}
	h.clock.Advance(10 * time.Second)
	if got := <-dec; !got.Blocked {
		t.Fatalf("pass must stay blocked while the task ignores cancellation")
	}
	p := h.patches.take()
	if len(p) != 1 || !isStatusPatch(p[0]) {
		t.Fatalf("patches: %+v", p)
	}
}

func TestDaemonIsAbandonedAfterCancellationTimeout(t *testing.T) {
	h := newHarness(t)
	body := deletedBody("u-1")
	mem := h.sup.Memories().Recall(body, false)
	release := h.spawnBlocked(t, mem, body, Spec{
		ID:                  "fn",
		CancellationTimeout: dur(10 * time.Second),
	})
	defer close(release)

	// 1st pass: cancel immediately, wait out the full timeout.
	dec1 := h.drive(context.Background(), mem, body)
	h.clock.BlockUntil(1)
	h.clock.Advance(10 * time.Second)
	if got := <-dec1; !got.Blocked {
		t.Fatalf("pass 1 must stay blocked")
	}
	h.patches.take()

	// 2nd pass: overdue. No wait, the daemon is left orphaned, and the
	// finalizer is released despite the task still running.
	h.clock.Advance(40 * time.Second)
	dec2 := h.sup.DriveTermination(context.Background(), mem, body)
	if dec2.Blocked {
		t.Fatalf("pass 2 must be clear, got %+v", dec2)
	}
	p := h.patches.take()
	if len(p) != 1 || !isFinalizerPatch(p[0]) {
		t.Fatalf("pass 2 patches: %+v", p)
	}
	if mem.DaemonCount() != 0 {
		t.Fatalf("abandoned handle must be removed")
	}
	if !mem.IsStoppedForever("fn") {
		t.Fatalf("abandoned daemon must never respawn")
	}
}

func TestEscalationIsIdempotentAfterResolution(t *testing.T) {
	h := newHarness(t)
	body := deletedBody("u-1")
	mem := h.sup.Memories().Recall(body, false)

	started := make(chan struct{})
	spec := Spec{ID: "fn", Fn: func(ctx context.Context, r *Request) error {
		close(started)
		return r.Stop.Wait(ctx)
	}}
	if err := h.sup.EnsureDaemons(mem, body, []Spec{spec}); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	<-started

	dec1 := h.sup.DriveTermination(context.Background(), mem, body)
	dec2 := h.sup.DriveTermination(context.Background(), mem, body)
	if dec1.Blocked || dec2.Blocked {
		t.Fatalf("decisions: %+v / %+v", dec1, dec2)
	}
	// A retried pass with the same observed state repeats the same patch
	// instruction; it must not resurrect the handle or block.
	if mem.DaemonCount() != 0 {
		t.Fatalf("no handles may remain")
	}
}

func TestDriveTerminationInterruptedByPassContext(t *testing.T) {
	h := newHarness(t)
	body := deletedBody("u-1")
	mem := h.sup.Memories().Recall(body, false)
	release := h.spawnBlocked(t, mem, body, Spec{ID: "fn"})
	defer close(release)

	// No backoff, no timeout: the no-deadline wait is still bounded by
	// the pass's own context, so a stuck daemon never blocks the caller.
	ctx, cancel := context.WithCancel(context.Background())
	dec := h.drive(ctx, mem, body)
	cancel()
	if got := <-dec; !got.Blocked {
		t.Fatalf("expected blocked after pass cancellation")
	}
	if mem.DaemonCount() != 1 {
		t.Fatalf("handle must survive an interrupted pass")
	}
}
