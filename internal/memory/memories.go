package memory

import (
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/operkit/operkit/internal/object"
)

// Memories is the container of all memory records of one supervisor,
// keyed by object identity.
//
// One individual object is always handled sequentially, never in parallel
// with itself; different objects are fully independent. The only state
// shared across objects is the key space itself, so the mutex is scoped to
// exactly the check-then-insert and delete steps: without it, two
// concurrent passes for the same identity could race and create duplicate
// records with independent daemon sets.
type Memories struct {
	mu    sync.Mutex
	items map[string]*Memory
	clock clockwork.Clock
}

// NewMemories returns an empty container. A nil clock defaults to the
// real one.
func NewMemories(clock clockwork.Clock) *Memories {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Memories{items: map[string]*Memory{}, clock: clock}
}

// Recall finds the object's memory record, or creates and remembers a new
// one. Never fails and never blocks beyond the insert itself.
func (ms *Memories) Recall(body object.Body, noticedByListing bool) *Memory {
	key := body.UID()
	ms.mu.Lock()
	defer ms.mu.Unlock()
	m, ok := ms.items[key]
	if !ok {
		m = newMemory(noticedByListing, ms.clock.Now())
		ms.items[key] = m
	}
	return m
}

// Forget removes the object's record if present; no-op otherwise.
func (ms *Memories) Forget(body object.Body) {
	key := body.UID()
	ms.mu.Lock()
	defer ms.mu.Unlock()
	delete(ms.items, key)
}

// IterAll returns a snapshot of all current records, for cross-object
// sweeps such as shutdown.
func (ms *Memories) IterAll() []*Memory {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	out := make([]*Memory, 0, len(ms.items))
	for _, m := range ms.items {
		out = append(out, m)
	}
	return out
}

// Snapshot returns a copy of the key-to-record mapping, for best-effort
// introspection surfaces. The records themselves are shared, not copied.
func (ms *Memories) Snapshot() map[string]*Memory {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	out := make(map[string]*Memory, len(ms.items))
	for k, m := range ms.items {
		out[k] = m
	}
	return out
}

// Len reports the number of tracked objects.
func (ms *Memories) Len() int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return len(ms.items)
}
