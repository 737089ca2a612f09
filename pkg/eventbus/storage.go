package eventbus

import (
	"context"
	"time"
)

// Store encapsulates all persistence the dispatcher needs. Every mutation
// commits before returning so worker crashes never lose bookkeeping; the
// claim in particular must be durable the moment ClaimOne returns.
type Store interface {
	// InsertPending writes a new pending row and returns its id. The row
	// becomes visible to workers immediately (the store commits).
	InsertPending(ctx context.Context, eventType string, payload []byte, runAt time.Time, maxAttempts int) (int64, error)

	// ClaimOne atomically transitions the single oldest-eligible pending
	// row (run_at <= now, ordered by run_at then id) to running, stamping
	// locked_at/locked_by and incrementing attempts. Concurrent claimers
	// must never block on or observe the same row. Returns
	// ErrNoEventToClaim when the queue is empty.
	ClaimOne(ctx context.Context, workerID string, now time.Time) (*Event, error)

	// MarkDone transitions a running row to done and clears the lock.
	MarkDone(ctx context.Context, id int64) error

	// MarkFailed records a failure on a running row: back to pending with
	// run_at = retryAt while attempts remain, dead otherwise. The lock is
	// cleared either way and last_error stores the (truncated) message.
	MarkFailed(ctx context.Context, id int64, errMsg string, retryAt time.Time) error

	// RecoverStale forces rows stuck in running longer than olderThan back
	// to pending (or to dead when the crash consumed the final attempt),
	// returning how many went back to pending.
	RecoverStale(ctx context.Context, olderThan time.Duration) (int64, error)

	// Begin opens the dispatch-scoped session handed to transactional
	// handlers. The dispatcher commits or rolls it back exactly once.
	Begin(ctx context.Context) (Session, error)
}

// SchemaEnsurer is implemented by stores that can create their target schema
// on startup. Table creation stays with the operator; only the schema is
// ensured.
type SchemaEnsurer interface {
	EnsureSchema(ctx context.Context) error
}
