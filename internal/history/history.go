package history

import (
	"context"
	"log/slog"
	"time"
)

// EventType is the kind of supervisor lifecycle event.
type EventType string

const (
	EventStart   EventType = "start"
	EventReady   EventType = "ready"
	EventFailed  EventType = "failed"
	EventExited  EventType = "exited"
	EventStopped EventType = "stopped"
)

// Record is the backend run an event refers to.
type Record struct {
	RunID         string `json:"run_id" db:"run_id"`
	Name          string `json:"name" db:"name"`
	PID           int    `json:"pid" db:"pid"`
	DependentPath string `json:"dependent_path" db:"dependent_path"`
	Port          int    `json:"port" db:"port"`
	State         string `json:"state" db:"state"`
	Error         string `json:"error,omitempty" db:"error"`
}

// Event represents a lifecycle event to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// SendTimeout bounds a single Publish.
const SendTimeout = 5 * time.Second

// Publish delivers e to every sink. Failures are logged and do not stop
// delivery to the remaining sinks.
func Publish(ctx context.Context, log *slog.Logger, sinks []Sink, e Event) {
	if len(sinks) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, SendTimeout)
	defer cancel()
	for _, s := range sinks {
		if err := s.Send(ctx, e); err != nil && log != nil {
			log.Warn("history sink failed", "event", e.Type, "run_id", e.Record.RunID, "error", err)
		}
	}
}
