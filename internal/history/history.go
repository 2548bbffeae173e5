package history

import (
	"context"
	"time"

	"github.com/certpatrol/patrolmgr/internal/search"
)

// EventType defines the kind of exported event.
type EventType string

const (
	EventTransition EventType = "transition"
	EventDiscovery  EventType = "discovery"
)

// Event represents a search lifecycle transition or a discovered domain,
// exported to external analytics systems. Domain is set for discovery
// events, Status for transitions.
type Event struct {
	Type       EventType     `json:"type"`
	OccurredAt time.Time     `json:"occurred_at"`
	SearchID   int64         `json:"search_id"`
	Status     search.Status `json:"status,omitempty"`
	Domain     string        `json:"domain,omitempty"`
	PID        int           `json:"pid,omitempty"`
	Detail     string        `json:"detail,omitempty"`
}

// Sink is a destination for history events. Implementations must be safe for
// concurrent use; sends are best-effort and never block the engine's
// correctness.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}
