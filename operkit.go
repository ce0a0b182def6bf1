package operkit

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/operkit/operkit/internal/config"
	"github.com/operkit/operkit/internal/daemon"
	"github.com/operkit/operkit/internal/journal"
	"github.com/operkit/operkit/internal/journal/factory"
	"github.com/operkit/operkit/internal/memory"
	"github.com/operkit/operkit/internal/metrics"
	"github.com/operkit/operkit/internal/object"
	iapi "github.com/operkit/operkit/internal/server"
	"github.com/operkit/operkit/internal/stopper"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Body = object.Body

type Patch = object.Patch

type Patcher = object.Patcher

type PatcherFunc = object.PatcherFunc

type Memo = memory.Memo

type Memory = memory.Memory

type DaemonSpec = daemon.Spec

type DaemonFn = daemon.Fn

type DaemonRequest = daemon.Request

type Decision = daemon.Decision

type StopReason = stopper.Reason

const (
	ReasonDeleted         = stopper.ReasonDeleted
	ReasonOperatorExiting = stopper.ReasonOperatorExiting
	ReasonDone            = stopper.ReasonDone
)

type Config = cfg.FileConfig

type JournalEvent = journal.Event

type JournalSink = journal.Sink

// Supervisor is a thin facade over internal/daemon.Supervisor.
// It provides a stable public API for embedding.

type Supervisor struct{ inner *daemon.Supervisor }

// Options mirrors the knobs of the internal supervisor. Zero values get
// sane defaults.
type Options struct {
	Patcher      Patcher
	Journal      JournalSink
	Finalizer    string
	StatusPrefix string
	BaseContext  context.Context
}

func New() *Supervisor { return NewWithOptions(Options{}) }

func NewWithOptions(o Options) *Supervisor {
	return &Supervisor{inner: daemon.New(daemon.Config{
		Patcher:      o.Patcher,
		Journal:      o.Journal,
		Finalizer:    o.Finalizer,
		StatusPrefix: o.StatusPrefix,
		BaseContext:  o.BaseContext,
	})}
}

func (s *Supervisor) RunID() string { return s.inner.RunID() }

// Recall returns the object's record, creating it on first sight.
func (s *Supervisor) Recall(body Body, noticedByListing bool) *Memory {
	return s.inner.Memories().Recall(body, noticedByListing)
}

// EnsureDaemons spawns missing daemons for an object and retires the ones
// that exited on their own.
func (s *Supervisor) EnsureDaemons(mem *Memory, body Body, specs []DaemonSpec) error {
	return s.inner.EnsureDaemons(mem, body, specs)
}

// DriveTermination runs one escalation pass over a deleted object's daemons.
func (s *Supervisor) DriveTermination(ctx context.Context, mem *Memory, body Body) Decision {
	return s.inner.DriveTermination(ctx, mem, body)
}

// Forget drops the object's record once it is gone from the cluster.
func (s *Supervisor) Forget(body Body) { s.inner.Forget(body) }

// StopAll sweeps every daemon down for operator shutdown.
func (s *Supervisor) StopAll(ctx context.Context) { s.inner.StopAll(ctx) }

func LoadConfig(path string) (Config, error) { return cfg.Load(path) }

func DefaultConfig() Config { return cfg.Default() }

// NewJournalSink opens a journal sink for the given DSN (sqlite, postgres
// or clickhouse).
func NewJournalSink(dsn string) (JournalSink, error) { return factory.NewSinkFromDSN(dsn) }

// NewHTTPServer starts an HTTP server exposing the ops surface for the
// given supervisor.
func NewHTTPServer(addr, basePath string, s *Supervisor) (*http.Server, error) {
	return iapi.NewServer(addr, basePath, s.inner)
}

// NewHTTPHandler returns the ops surface as a mountable handler.
func NewHTTPHandler(basePath string, s *Supervisor) http.Handler {
	return iapi.NewRouter(s.inner, basePath).Handler()
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// Duration is a convenience for building optional backoff/timeout fields.
func Duration(d time.Duration) *time.Duration { return &d }
