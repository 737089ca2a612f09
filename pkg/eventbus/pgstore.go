package eventbus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const eventColumns = "id, type, payload, status, run_at, attempts, max_attempts, last_error, created_at, updated_at, locked_at, locked_by"

// PGStore persists events in PostgreSQL via a pgx connection pool. Every
// operation commits on its own so the bookkeeping survives worker crashes.
type PGStore struct {
	pool    *pgxpool.Pool
	schema  string
	channel string
}

// PGStoreOption configures a PGStore.
type PGStoreOption func(*PGStore)

// WithStoreSchema overrides the schema holding the events table.
func WithStoreSchema(schema string) PGStoreOption {
	return func(s *PGStore) {
		if schema != "" {
			s.schema = schema
		}
	}
}

// WithStoreChannel overrides the notification channel used when a failed
// event is rescheduled.
func WithStoreChannel(channel string) PGStoreOption {
	return func(s *PGStore) {
		if channel != "" {
			s.channel = channel
		}
	}
}

// NewPGStore creates a PostgreSQL-backed event store.
func NewPGStore(pool *pgxpool.Pool, opts ...PGStoreOption) (*PGStore, error) {
	if pool == nil {
		return nil, ErrStoreNil
	}

	s := &PGStore{
		pool:    pool,
		schema:  DefaultSchema,
		channel: DefaultChannel,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Pool returns the underlying connection pool. The bus listener does not use
// it; its connection comes from the string passed to WithListener.
func (s *PGStore) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *PGStore) table() string {
	return quoteIdentifier(s.schema) + ".events"
}

// EnsureSchema creates the target schema if missing. Table creation is the
// operator's responsibility (see migrations/).
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+quoteIdentifier(s.schema)); err != nil {
		return fmt.Errorf("ensure schema %s: %w", s.schema, err)
	}
	return nil
}

// InsertPending writes a new pending row outside any caller transaction and
// notifies the channel. Producers that need transactional publish use
// Publish with their own session instead.
func (s *PGStore) InsertPending(ctx context.Context, eventType string, payload []byte, runAt time.Time, maxAttempts int) (int64, error) {
	return Publish(ctx, s.pool, eventType, payload,
		WithSchema(s.schema),
		WithPublishChannel(s.channel),
		WithRunAt(runAt),
		WithMaxAttempts(maxAttempts),
	)
}

// ClaimOne transitions the oldest eligible pending row to running under this
// worker's lock. FOR UPDATE SKIP LOCKED keeps concurrent claimers from ever
// blocking on or receiving the same row.
func (s *PGStore) ClaimOne(ctx context.Context, workerID string, now time.Time) (*Event, error) {
	query := `
UPDATE ` + s.table() + ` AS e
SET status = 'running',
    attempts = e.attempts + 1,
    locked_at = $2,
    locked_by = $1,
    updated_at = $2
WHERE e.id = (
    SELECT id FROM ` + s.table() + `
    WHERE status = 'pending' AND run_at <= $2
    ORDER BY run_at, id
    FOR UPDATE SKIP LOCKED
    LIMIT 1
)
RETURNING ` + eventColumns

	row := s.pool.QueryRow(ctx, query, workerID, now.UTC())

	ev, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoEventToClaim
		}
		return nil, fmt.Errorf("claim event: %w", err)
	}

	return ev, nil
}

// MarkDone finishes a running row. Done is terminal.
func (s *PGStore) MarkDone(ctx context.Context, id int64) error {
	query := `
UPDATE ` + s.table() + `
SET status = 'done', locked_at = NULL, locked_by = NULL, updated_at = now()
WHERE id = $1 AND status = 'running'`

	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("mark event %d done: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStateConflict
	}

	return nil
}

// MarkFailed records a handler failure. While attempts remain the row goes
// back to pending with run_at pushed to retryAt and a notification is sent
// right away; the retry is claimed by the first poll tick or wake after
// retryAt. Once attempts reach max_attempts the row is dead-lettered.
func (s *PGStore) MarkFailed(ctx context.Context, id int64, errMsg string, retryAt time.Time) error {
	query := `
UPDATE ` + s.table() + `
SET status = CASE WHEN attempts >= max_attempts THEN 'dead' ELSE 'pending' END,
    run_at = CASE WHEN attempts >= max_attempts THEN run_at ELSE $3 END,
    last_error = $2,
    locked_at = NULL,
    locked_by = NULL,
    updated_at = now()
WHERE id = $1 AND status = 'running'
RETURNING status`

	var status Status
	if err := s.pool.QueryRow(ctx, query, id, errMsg, retryAt.UTC()).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrStateConflict
		}
		return fmt.Errorf("mark event %d failed: %w", id, err)
	}

	if status == StatusPending {
		// Best effort: the poller guarantees the retry runs even if this
		// notification is lost.
		_, _ = s.pool.Exec(ctx, "SELECT pg_notify($1, '')", s.channel)
	}

	return nil
}

// RecoverStale forces rows whose lock outlived olderThan back to pending,
// without incrementing attempts beyond what the crashed claim already
// counted. A row that crashed on its final attempt is dead-lettered instead:
// requeueing it would push attempts past max_attempts on the next claim.
// Returns how many rows went back to pending.
func (s *PGStore) RecoverStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
UPDATE ` + s.table() + `
SET status = CASE WHEN attempts >= max_attempts THEN 'dead' ELSE 'pending' END,
    locked_at = NULL, locked_by = NULL,
    last_error = 'stale lock recovered', updated_at = now()
WHERE status = 'running' AND locked_at < now() - make_interval(secs => $1)
RETURNING status`

	rows, err := s.pool.Query(ctx, query, olderThan.Seconds())
	if err != nil {
		return 0, fmt.Errorf("recover stale events: %w", err)
	}
	defer rows.Close()

	var requeued int64
	for rows.Next() {
		var status Status
		if err := rows.Scan(&status); err != nil {
			return requeued, fmt.Errorf("recover stale events: %w", err)
		}
		if status == StatusPending {
			requeued++
		}
	}
	if err := rows.Err(); err != nil {
		return requeued, fmt.Errorf("recover stale events: %w", err)
	}

	return requeued, nil
}

// Begin opens the transaction handed to transactional handlers, sealed so
// only the dispatcher can terminate it.
func (s *PGStore) Begin(ctx context.Context) (Session, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin dispatch session: %w", err)
	}
	return newTxSession(tx), nil
}

// GetEvent fetches a single row by id. Used by operators and tests to
// inspect dispatch outcomes.
func (s *PGStore) GetEvent(ctx context.Context, id int64) (*Event, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+eventColumns+" FROM "+s.table()+" WHERE id = $1", id)

	ev, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("get event %d: %w", id, err)
	}

	return ev, nil
}

func scanEvent(row pgx.Row) (*Event, error) {
	var ev Event
	if err := row.Scan(
		&ev.ID,
		&ev.Type,
		&ev.Payload,
		&ev.Status,
		&ev.RunAt,
		&ev.Attempts,
		&ev.MaxAttempts,
		&ev.LastError,
		&ev.CreatedAt,
		&ev.UpdatedAt,
		&ev.LockedAt,
		&ev.LockedBy,
	); err != nil {
		return nil, err
	}
	return &ev, nil
}

func quoteIdentifier(identifier string) string {
	identifier = strings.ReplaceAll(identifier, "\x00", "")
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
