// Package journal exports daemon lifecycle transitions to external systems
// for audit and analytics. It only appends events; it never feeds decisions
// back into the supervisor.
package journal

import (
	"context"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventSpawned   EventType = "spawned"
	EventSignalled EventType = "signalled"
	EventCancelled EventType = "cancelled"
	EventStopped   EventType = "stopped"
	EventAbandoned EventType = "abandoned"
)

// Event is one daemon lifecycle transition.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	RunID      string    `json:"run_id"`     // identifies one supervisor run
	ObjectUID  string    `json:"object_uid"` // identity of the owning object
	DaemonID   string    `json:"daemon_id"`
	Reason     string    `json:"reason,omitempty"`
}

// Sink is a destination for journal events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Multi fans one event out to several sinks, returning the first error.
type Multi []Sink

func (m Multi) Send(ctx context.Context, e Event) error {
	var first error
	for _, s := range m {
		if err := s.Send(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}
