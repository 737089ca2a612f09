package eventbus

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Session is the capability-restricted database handle passed to
// transactional handlers. It exposes query execution only; commit, rollback,
// and connection access are deliberately absent so the dispatcher stays the
// sole authority over transaction boundaries. The unexported lifecycle
// methods keep the interface sealed to this package.
//
// Unsafe returns the raw pgx.Tx for escape-hatch use. Calling Commit or
// Rollback on it voids the transactional contract.
type Session interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row

	// Unsafe exposes the underlying transaction. Using it to terminate the
	// transaction makes the dispatch outcome undefined.
	Unsafe() pgx.Tx

	commit(ctx context.Context) error
	rollback(ctx context.Context) error
}

// txSession seals a pgx.Tx for handler use.
type txSession struct {
	mu     sync.Mutex
	tx     pgx.Tx
	closed bool
}

func newTxSession(tx pgx.Tx) *txSession {
	return &txSession{tx: tx}
}

func (s *txSession) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return pgconn.CommandTag{}, ErrSessionClosed
	}
	return s.tx.Exec(ctx, sql, args...)
}

func (s *txSession) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	return s.tx.Query(ctx, sql, args...)
}

func (s *txSession) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errRow{err: ErrSessionClosed}
	}
	return s.tx.QueryRow(ctx, sql, args...)
}

func (s *txSession) Unsafe() pgx.Tx {
	return s.tx
}

func (s *txSession) commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.closed = true
	return s.tx.Commit(ctx)
}

func (s *txSession) rollback(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.tx.Rollback(ctx)
}
