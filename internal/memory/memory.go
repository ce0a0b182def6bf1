// Package memory is the in-memory, per-object state store of the
// supervisor. Records hold everything the runtime needs to remember about
// one tracked object between reconciliation passes: user data, bookkeeping
// flags, the last-seen payload, and the active daemon handles. Nothing in
// here is persistent; a process restart forgets everything.
package memory

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/operkit/operkit/internal/stopper"
	"github.com/operkit/operkit/internal/task"
)

// Daemon couples a running background task with its stop signal and the
// handler metadata needed to terminate it. The bundle is immutable; it is
// owned by the memory record that holds it, and the task body is the only
// other holder (for reading the stopper).
type Daemon struct {
	ID     string
	Task   *task.Task
	Logger *slog.Logger
	Stop   *stopper.Stopper

	// Termination policy copied from the handler at spawn time.
	CancellationBackoff *time.Duration
	CancellationTimeout *time.Duration
}

// Memory is the state bag for a single tracked object.
type Memory struct {
	// Memo holds arbitrary user data, passed to all handlers of the object.
	Memo Memo

	// Bookkeeping consulted by the upstream handling logic.
	NoticedByListing bool
	FullyHandledOnce bool

	// The fields below are read by running daemons and the ops surface
	// while the supervisor mutates them, hence the lock.
	mu             sync.RWMutex
	liveBody       map[string]any
	idleResetTime  time.Time
	foreverStopped map[string]struct{}
	daemons        map[string]*Daemon
}

func newMemory(noticedByListing bool, now time.Time) *Memory {
	return &Memory{
		Memo:             Memo{},
		NoticedByListing: noticedByListing,
		idleResetTime:    now,
		foreverStopped:   map[string]struct{}{},
		daemons:          map[string]*Daemon{},
	}
}

// SetLiveBody replaces the last-seen payload of the object.
func (m *Memory) SetLiveBody(body map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.liveBody = body
}

// LiveBody returns the most recent full payload, available to running
// daemons that need current state without re-fetching.
func (m *Memory) LiveBody() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.liveBody
}

// Touch resets the idle timer.
func (m *Memory) Touch(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.idleResetTime = now
}

// IdleResetTime returns the time activity was last seen for the object.
func (m *Memory) IdleResetTime() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idleResetTime
}

// StopForever marks a handler ID as permanently stopped and drops its
// handle. Safe to call for IDs without a live handle.
func (m *Memory) StopForever(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.foreverStopped[id] = struct{}{}
	delete(m.daemons, id)
}

// IsStoppedForever reports whether a handler ID may never respawn.
func (m *Memory) IsStoppedForever(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.foreverStopped[id]
	return ok
}

// ForeverStoppedIDs returns the permanently stopped handler IDs, sorted.
func (m *Memory) ForeverStoppedIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.foreverStopped))
	for id := range m.foreverStopped {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// PutDaemon stores a live daemon handle under its ID.
func (m *Memory) PutDaemon(d *Daemon) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.daemons[d.ID] = d
}

// Daemon returns the live handle for id, if any.
func (m *Memory) Daemon(id string) (*Daemon, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.daemons[id]
	return d, ok
}

// DaemonCount reports the number of live handles.
func (m *Memory) DaemonCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.daemons)
}

// DaemonIDs returns the IDs of all live handles, sorted.
func (m *Memory) DaemonIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.daemons))
	for id := range m.daemons {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DaemonSnapshot returns a copy of the ID-to-handle mapping.
func (m *Memory) DaemonSnapshot() map[string]*Daemon {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*Daemon, len(m.daemons))
	for id, d := range m.daemons {
		out[id] = d
	}
	return out
}
