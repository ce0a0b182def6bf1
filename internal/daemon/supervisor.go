package daemon

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/operkit/operkit/internal/journal"
	"github.com/operkit/operkit/internal/memory"
	"github.com/operkit/operkit/internal/metrics"
	"github.com/operkit/operkit/internal/object"
	"github.com/operkit/operkit/internal/stopper"
	"github.com/operkit/operkit/internal/task"
)

const (
	// DefaultFinalizer is the deletion-blocking marker managed upstream;
	// the supervisor only decides when its removal is safe.
	DefaultFinalizer = "operkit.dev/daemons"
	// DefaultStatusPrefix is the status subtree for daemon markers.
	DefaultStatusPrefix = "operkit"
)

// Config assembles a Supervisor's collaborators. Zero values get sane
// defaults: real clock, discard logger, no journal, no-op patcher.
type Config struct {
	Memories     *memory.Memories
	Patcher      object.Patcher
	Clock        clockwork.Clock
	Logger       *slog.Logger
	Journal      journal.Sink
	Finalizer    string
	StatusPrefix string

	// BaseContext bounds the lifetime of all spawned tasks; it must
	// outlive individual reconciliation passes.
	BaseContext context.Context
}

// Supervisor owns the memory container and drives daemon spawning and
// termination, one reconciliation pass at a time. It is the only writer of
// structural record state; daemon bodies just read it.
type Supervisor struct {
	memories     *memory.Memories
	patcher      object.Patcher
	clock        clockwork.Clock
	log          *slog.Logger
	journal      journal.Sink
	finalizer    string
	statusPrefix string
	baseCtx      context.Context
	runID        string
}

// New creates a Supervisor from cfg.
func New(cfg Config) *Supervisor {
	clk := cfg.Clock
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	mems := cfg.Memories
	if mems == nil {
		mems = memory.NewMemories(clk)
	}
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	patcher := cfg.Patcher
	if patcher == nil {
		patcher = object.PatcherFunc(func(context.Context, string, object.Patch) error { return nil })
	}
	fin := cfg.Finalizer
	if fin == "" {
		fin = DefaultFinalizer
	}
	prefix := cfg.StatusPrefix
	if prefix == "" {
		prefix = DefaultStatusPrefix
	}
	base := cfg.BaseContext
	if base == nil {
		base = context.Background()
	}
	return &Supervisor{
		memories:     mems,
		patcher:      patcher,
		clock:        clk,
		log:          log,
		journal:      cfg.Journal,
		finalizer:    fin,
		statusPrefix: prefix,
		baseCtx:      base,
		runID:        uuid.NewString(),
	}
}

// Memories exposes the record container for the scheduler and ops surface.
func (s *Supervisor) Memories() *memory.Memories { return s.memories }

// RunID identifies this supervisor run in journal events.
func (s *Supervisor) RunID() string { return s.runID }

// EnsureDaemons updates the record's last-seen payload and spawns a task
// for every daemon spec that has no live handle yet. Specs whose IDs were
// permanently stopped for this object are never respawned. Tasks that
// finished on their own since the last pass are retired as permanently
// stopped.
func (s *Supervisor) EnsureDaemons(mem *memory.Memory, body object.Body, specs []Spec) error {
	now := s.clock.Now()
	mem.SetLiveBody(body)
	mem.Touch(now)
	metrics.SetTrackedObjects(s.memories.Len())

	var errs []error
	for _, spec := range specs {
		if mem.IsStoppedForever(spec.ID) {
			continue
		}
		if d, ok := mem.Daemon(spec.ID); ok {
			if d.Task.IsDone() {
				// Exited voluntarily while the object is still alive:
				// never respawn it.
				d.Stop.Signal(stopper.ReasonDone, now)
				s.retire(mem, body, d, journal.EventStopped, string(stopper.ReasonDone))
			}
			continue
		}
		if err := spec.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		s.spawn(mem, body, spec)
	}
	return errors.Join(errs...)
}

func (s *Supervisor) spawn(mem *memory.Memory, body object.Body, spec Spec) {
	logger := s.log.With("object", body.UID(), "daemon", spec.ID)
	stop := stopper.New()
	req := &Request{Stop: stop, Memo: mem.Memo, Mem: mem, Log: logger}
	fn := spec.Fn
	t := task.Spawn(s.baseCtx, func(ctx context.Context) error {
		err := fn(ctx, req)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("daemon exited with error", "error", err)
		}
		return err
	})
	mem.PutDaemon(&memory.Daemon{
		ID:                  spec.ID,
		Task:                t,
		Logger:              logger,
		Stop:                stop,
		CancellationBackoff: spec.CancellationBackoff,
		CancellationTimeout: spec.CancellationTimeout,
	})
	metrics.IncSpawn(spec.ID)
	s.journalEvent(journal.EventSpawned, body.UID(), spec.ID, "")
	logger.Debug("daemon started")
}

// Forget drops the object's record. The scheduler calls it once the object
// is confirmed deleted externally and no daemons remain (or the remaining
// ones were abandoned).
func (s *Supervisor) Forget(body object.Body) {
	s.memories.Forget(body)
	metrics.SetTrackedObjects(s.memories.Len())
}

// StopAll is the shutdown sweep: it signals every live daemon on every
// record and drives each through the termination protocol until resolved
// or ctx is cancelled. Finalizer state is left untouched; objects are not
// being deleted, the operator is just exiting.
func (s *Supervisor) StopAll(ctx context.Context) {
	now := s.clock.Now()
	records := s.memories.IterAll()
	for _, mem := range records {
		for _, d := range mem.DaemonSnapshot() {
			d.Stop.Signal(stopper.ReasonOperatorExiting, now)
			s.journalEvent(journal.EventSignalled, object.Body(mem.LiveBody()).UID(), d.ID, string(stopper.ReasonOperatorExiting))
		}
	}
	for _, mem := range records {
		body := object.Body(mem.LiveBody())
		for _, id := range mem.DaemonIDs() {
			d, ok := mem.Daemon(id)
			if !ok {
				continue
			}
			for {
				stopped, _ := s.escalateOne(ctx, mem, body, d)
				if stopped || ctx.Err() != nil {
					break
				}
			}
		}
	}
}

func (s *Supervisor) journalEvent(t journal.EventType, uid, daemonID, reason string) {
	if s.journal == nil {
		return
	}
	e := journal.Event{
		Type:       t,
		OccurredAt: s.clock.Now(),
		RunID:      s.runID,
		ObjectUID:  uid,
		DaemonID:   daemonID,
		Reason:     reason,
	}
	if err := s.journal.Send(s.baseCtx, e); err != nil {
		s.log.Warn("journal sink rejected event", "event", string(t), "error", err)
	}
}

func (s *Supervisor) applyPatch(ctx context.Context, body object.Body, p object.Patch) {
	if err := s.patcher.ApplyPatch(ctx, body.UID(), p); err != nil {
		// The external scheduler retries on its next pass; the protocol
		// itself is re-entrant, so losing a patch here is safe.
		s.log.Warn("patch delivery failed", "object", body.UID(), "error", err)
	}
}
