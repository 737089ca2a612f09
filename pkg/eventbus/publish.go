package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the minimal querier Publish needs. *pgxpool.Pool, *pgx.Conn,
// pgx.Tx, and the handler Session all satisfy it, so events can be published
// from plain connections, producer transactions, and transactional handlers
// alike.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PublishOption is a functional option for Publish
type PublishOption func(*publishOptions)

type publishOptions struct {
	schema      string
	channel     string
	runAt       time.Time
	delay       time.Duration
	maxAttempts int
}

// WithSchema overrides the schema holding the events table.
func WithSchema(schema string) PublishOption {
	return func(o *publishOptions) {
		if schema != "" {
			o.schema = schema
		}
	}
}

// WithPublishChannel overrides the notification channel.
func WithPublishChannel(channel string) PublishOption {
	return func(o *publishOptions) {
		if channel != "" {
			o.channel = channel
		}
	}
}

// WithRunAt schedules the event for a specific time instead of now.
func WithRunAt(t time.Time) PublishOption {
	return func(o *publishOptions) {
		o.runAt = t
	}
}

// WithDelay schedules the event relative to now. Ignored when WithRunAt is
// also given.
func WithDelay(d time.Duration) PublishOption {
	return func(o *publishOptions) {
		if d > 0 {
			o.delay = d
		}
	}
}

// WithMaxAttempts overrides how many deliveries the event gets before it is
// dead-lettered.
func WithMaxAttempts(n int) PublishOption {
	return func(o *publishOptions) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// Publish inserts a pending event row and notifies the channel through the
// same querier, so when db is a transaction the notification is delivered iff
// the insert commits. Publish never commits; that stays with the caller.
//
// The payload must be JSON-serializable; json.RawMessage and []byte are
// stored as-is.
func Publish(ctx context.Context, db DBTX, eventType string, payload any, opts ...PublishOption) (int64, error) {
	if eventType == "" {
		return 0, ErrEventTypeEmpty
	}

	options := &publishOptions{
		schema:      DefaultSchema,
		channel:     DefaultChannel,
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(options)
	}

	body, err := marshalPayload(payload)
	if err != nil {
		return 0, errors.Join(ErrPayloadMarshal, err)
	}

	runAt := options.runAt
	if runAt.IsZero() {
		runAt = time.Now().UTC().Add(options.delay)
	}

	table := quoteIdentifier(options.schema) + ".events"
	query := `
INSERT INTO ` + table + ` (type, payload, status, run_at, attempts, max_attempts, created_at, updated_at)
VALUES ($1, $2, 'pending', $3, 0, $4, now(), now())
RETURNING id`

	var id int64
	if err := db.QueryRow(ctx, query, eventType, body, runAt.UTC(), options.maxAttempts).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert event %q: %w", eventType, err)
	}

	// Payload-less wake signal; the poller keeps the bus live if it is lost.
	if _, err := db.Exec(ctx, "SELECT pg_notify($1, '')", options.channel); err != nil {
		return 0, fmt.Errorf("notify channel %q: %w", options.channel, err)
	}

	return id, nil
}

func marshalPayload(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case nil:
		return []byte("{}"), nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return p, nil
	default:
		return json.Marshal(payload)
	}
}
