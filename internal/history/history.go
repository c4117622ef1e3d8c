package history

import (
	"context"
	"time"

	"github.com/Phillip-Steyn/cnc-iiot/internal/store"
)

// EventType names the job transition being exported.
type EventType string

const (
	EventCreated   EventType = "created"
	EventStarted   EventType = "started"
	EventPaused    EventType = "paused"
	EventStopped   EventType = "stopped"
	EventFinalized EventType = "finalized"
	EventReset     EventType = "reset"
)

// Event is a job transition exported to external analytics systems. Job is
// the state after the transition was applied.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Job        store.Job `json:"job"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Reader is implemented by sinks that can replay what they stored.
type Reader interface {
	Recent(ctx context.Context, jobID int64, limit int) ([]Event, error)
}
