package eventbus

import (
	"context"
	"encoding/json"
	"time"
)

// Status represents the lifecycle state of an event row.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
	StatusDead    Status = "dead"
)

// Event is a durable row representing work to be performed. One row is
// written per logical event; workers claim rows exclusively and record the
// outcome back on the same row.
type Event struct {
	ID          int64           `json:"id"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Status      Status          `json:"status"`
	RunAt       time.Time       `json:"run_at"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	LastError   *string         `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	LockedAt    *time.Time      `json:"locked_at,omitempty"`
	LockedBy    *string         `json:"locked_by,omitempty"`
}

// EventContext carries per-dispatch metadata into handlers. It embeds the
// worker's context so handlers observe cooperative cancellation, and exposes
// the shared dispatch session when any matched handler is transactional.
type EventContext struct {
	context.Context

	// EventID is the claimed row's primary key.
	EventID int64
	// EventType is the routing key the event was published with.
	EventType string
	// Attempt is 1-based: the first delivery of an event sees Attempt == 1.
	Attempt int

	session Session
}

// Session returns the dispatch-scoped database session, or nil when no
// matched handler was registered as transactional. All handlers of a single
// event share the same session; the dispatcher alone commits or rolls it
// back.
func (c *EventContext) Session() Session {
	return c.session
}
