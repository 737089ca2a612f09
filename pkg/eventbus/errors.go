package eventbus

import "errors"

// Common errors
var (
	// ErrStoreNil is returned when a nil store is provided
	ErrStoreNil = errors.New("store cannot be nil")

	// ErrRouterNil is returned when a nil router is provided
	ErrRouterNil = errors.New("router cannot be nil")

	// ErrEventTypeEmpty is returned when publishing with an empty event type
	ErrEventTypeEmpty = errors.New("event type cannot be empty")

	// ErrPayloadMarshal is returned when payload marshaling fails
	ErrPayloadMarshal = errors.New("failed to marshal payload to JSON")

	// ErrNoEventToClaim is returned by ClaimOne when no eligible row exists
	ErrNoEventToClaim = errors.New("no pending event to claim")

	// ErrEventNotFound is returned when an event id does not exist
	ErrEventNotFound = errors.New("event not found")

	// ErrStateConflict is returned when a status transition finds the row
	// in an unexpected state (e.g. marking done a row that is not running)
	ErrStateConflict = errors.New("event state transition conflict")

	// ErrNilHandler is returned when registering a nil handler function
	ErrNilHandler = errors.New("handler cannot be nil")

	// ErrHandlerPathEmpty is returned when registering a handler on an empty path
	ErrHandlerPathEmpty = errors.New("handler path cannot be empty")

	// ErrRouterFrozen is returned when registering after the bus has started
	ErrRouterFrozen = errors.New("router is frozen, register handlers before Start")

	// ErrAlreadyStarted is returned when Start is called twice
	ErrAlreadyStarted = errors.New("bus already started")

	// ErrNotStarted is returned when stopping a bus that never started
	ErrNotStarted = errors.New("bus not started")

	// ErrShutdownTimeout is returned when graceful shutdown expired with
	// events still in flight; abandoned rows recover via the stale sweep
	ErrShutdownTimeout = errors.New("shutdown timed out with events in flight")

	// ErrSessionClosed is returned when a sealed session is used after the
	// dispatcher committed or rolled it back
	ErrSessionClosed = errors.New("session is closed")

	// ErrNoDatabase is returned by the in-memory store's session on query
	// attempts, since there is no database behind it
	ErrNoDatabase = errors.New("memory store has no database session")
)

// maxErrorLen caps the stored last_error text so a pathological handler
// error cannot bloat the events table.
const maxErrorLen = 2048

func truncateError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) > maxErrorLen {
		msg = msg[:maxErrorLen]
	}
	return msg
}
