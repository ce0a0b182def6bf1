// Package simulate runs a synthetic control plane against a supervisor:
// it fabricates objects, spawns a heartbeat daemon per object, then
// deletes the objects and drives the termination protocol, over and over.
// It exists for demos and soak runs where no real API server is around.
package simulate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/operkit/operkit/internal/config"
	"github.com/operkit/operkit/internal/daemon"
	"github.com/operkit/operkit/internal/journal"
	"github.com/operkit/operkit/internal/object"
)

// Runner owns the synthetic objects and the supervisor churning them.
type Runner struct {
	sup    *daemon.Supervisor
	cfg    config.SimulateConfig
	log    *slog.Logger
	fin    string
	cycles atomic.Int64

	mu     sync.Mutex
	bodies map[string]object.Body
}

// New builds a Runner plus the supervisor it drives. The runner doubles as
// the supervisor's patcher, so status and finalizer patches land back on
// the synthetic bodies.
func New(fc config.FileConfig, log *slog.Logger, sink journal.Sink) *Runner {
	r := &Runner{
		cfg:    fc.Simulate,
		log:    log,
		fin:    fc.Finalizer,
		bodies: make(map[string]object.Body),
	}
	r.sup = daemon.New(daemon.Config{
		Patcher:      object.PatcherFunc(r.applyPatch),
		Logger:       log,
		Journal:      sink,
		Finalizer:    fc.Finalizer,
		StatusPrefix: fc.StatusPrefix,
	})
	return r
}

// Supervisor exposes the driven supervisor, e.g. for the ops HTTP surface.
func (r *Runner) Supervisor() *daemon.Supervisor { return r.sup }

// Cycles reports how many full create-delete-terminate cycles completed.
func (r *Runner) Cycles() int64 { return r.cycles.Load() }

// Run churns until ctx is cancelled, then sweeps all daemons down.
func (r *Runner) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Objects; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			r.churn(ctx, slot)
		}(i)
	}
	wg.Wait()

	sweep, cancel := context.WithTimeout(context.Background(), r.cfg.Timeout+time.Second)
	defer cancel()
	r.sup.StopAll(sweep)
	return ctx.Err()
}

// churn runs one slot's object lifecycle in a loop: create, let the daemon
// live for the churn interval, mark deleted, escalate until clear, forget.
func (r *Runner) churn(ctx context.Context, slot int) {
	for ctx.Err() == nil {
		body := r.create(slot)
		uid := body.UID()

		mem := r.sup.Memories().Recall(body, false)
		err := r.sup.EnsureDaemons(mem, body, []daemon.Spec{r.heartbeatSpec()})
		if err != nil {
			r.log.Error("spawn failed", "object", uid, "error", err)
			return
		}

		if !sleepCtx(ctx, r.cfg.ChurnInterval) {
			break
		}

		r.markDeleted(uid)
		for ctx.Err() == nil {
			dec := r.sup.DriveTermination(ctx, mem, r.lookup(uid))
			if !dec.Blocked {
				break
			}
			delay := 50 * time.Millisecond
			if dec.RequeueAfter != nil {
				delay = *dec.RequeueAfter
			}
			if !sleepCtx(ctx, delay) {
				break
			}
		}
		if ctx.Err() != nil {
			break
		}

		r.sup.Forget(r.lookup(uid))
		r.remove(uid)
		r.cycles.Add(1)
	}
}

func (r *Runner) heartbeatSpec() daemon.Spec {
	disobedient := r.cfg.Disobedient
	return daemon.Spec{
		ID:                  "heartbeat",
		CancellationBackoff: optional(r.cfg.Backoff),
		CancellationTimeout: optional(r.cfg.Timeout),
		Fn: func(ctx context.Context, req *daemon.Request) error {
			beats := 0
			req.Memo.Set("beats", beats)
			tick := time.NewTicker(200 * time.Millisecond)
			defer tick.Stop()
			for {
				var stop <-chan struct{}
				if !disobedient {
					stop = req.Stop.Done()
				}
				select {
				case <-stop:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				case <-tick.C:
					beats++
					req.Memo.Set("beats", beats)
				}
			}
		},
	}
}

func (r *Runner) create(slot int) object.Body {
	uid := uuid.NewString()
	body := object.Body{
		"metadata": map[string]any{
			"uid":        uid,
			"name":       fmt.Sprintf("synthetic-%d", slot),
			"finalizers": []any{r.fin},
		},
	}
	r.mu.Lock()
	r.bodies[uid] = body
	r.mu.Unlock()
	return body
}

func (r *Runner) markDeleted(uid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if body, ok := r.bodies[uid]; ok {
		md := body["metadata"].(map[string]any)
		md["deletionTimestamp"] = time.Now().UTC().Format(time.RFC3339)
	}
}

func (r *Runner) lookup(uid string) object.Body {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bodies[uid]
}

func (r *Runner) remove(uid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bodies, uid)
}

// applyPatch merges a patch into the stored body, the way a real API
// server would for a strategic-ish merge: maps merge, everything else
// replaces.
func (r *Runner) applyPatch(_ context.Context, uid string, p object.Patch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	body, ok := r.bodies[uid]
	if !ok {
		return fmt.Errorf("no such object: %s", uid)
	}
	merge(map[string]any(body), map[string]any(p))
	return nil
}

func merge(dst, src map[string]any) {
	for k, v := range src {
		if sv, ok := v.(map[string]any); ok {
			if dv, ok := dst[k].(map[string]any); ok {
				merge(dv, sv)
				continue
			}
		}
		dst[k] = v
	}
}

// optional maps a zero config duration to "unset".
func optional(d time.Duration) *time.Duration {
	if d <= 0 {
		return nil
	}
	return &d
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
