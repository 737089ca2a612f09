package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// MemoryStorage implements Store in memory for tests and local development.
// There is no real database behind it: sessions opened for transactional
// handlers accept no queries but do record whether the dispatcher committed
// or rolled them back, which is what tests usually need to observe.
type MemoryStorage struct {
	mu       sync.Mutex
	events   map[int64]*Event
	nextID   int64
	sessions []*MemorySession
	onInsert func()
}

// NewMemoryStorage creates an empty in-memory store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		events: make(map[int64]*Event),
	}
}

// OnInsert registers a callback invoked after every insert, standing in for
// the notify channel. Wire it to Bus.Wake to emulate push delivery.
func (ms *MemoryStorage) OnInsert(fn func()) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.onInsert = fn
}

// InsertPending implements Store.
func (ms *MemoryStorage) InsertPending(ctx context.Context, eventType string, payload []byte, runAt time.Time, maxAttempts int) (int64, error) {
	if eventType == "" {
		return 0, ErrEventTypeEmpty
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	now := time.Now().UTC()
	if runAt.IsZero() {
		runAt = now
	}

	ms.mu.Lock()
	ms.nextID++
	id := ms.nextID
	ms.events[id] = &Event{
		ID:          id,
		Type:        eventType,
		Payload:     payload,
		Status:      StatusPending,
		RunAt:       runAt.UTC(),
		MaxAttempts: maxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	notify := ms.onInsert
	ms.mu.Unlock()

	if notify != nil {
		notify()
	}

	return id, nil
}

// ClaimOne implements Store: the oldest eligible pending row, ordered by
// (run_at, id), transitions to running under the caller's lock.
func (ms *MemoryStorage) ClaimOne(ctx context.Context, workerID string, now time.Time) (*Event, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var best *Event
	for _, ev := range ms.events {
		if ev.Status != StatusPending || ev.RunAt.After(now) {
			continue
		}
		if best == nil ||
			ev.RunAt.Before(best.RunAt) ||
			(ev.RunAt.Equal(best.RunAt) && ev.ID < best.ID) {
			best = ev
		}
	}

	if best == nil {
		return nil, ErrNoEventToClaim
	}

	lockedAt := now.UTC()
	best.Status = StatusRunning
	best.Attempts++
	best.LockedAt = &lockedAt
	best.LockedBy = &workerID
	best.UpdatedAt = lockedAt

	claimed := *best
	return &claimed, nil
}

// MarkDone implements Store.
func (ms *MemoryStorage) MarkDone(ctx context.Context, id int64) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ev, ok := ms.events[id]
	if !ok {
		return ErrEventNotFound
	}
	if ev.Status != StatusRunning {
		return ErrStateConflict
	}

	ev.Status = StatusDone
	ev.LockedAt = nil
	ev.LockedBy = nil
	ev.UpdatedAt = time.Now().UTC()

	return nil
}

// MarkFailed implements Store.
func (ms *MemoryStorage) MarkFailed(ctx context.Context, id int64, errMsg string, retryAt time.Time) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ev, ok := ms.events[id]
	if !ok {
		return ErrEventNotFound
	}
	if ev.Status != StatusRunning {
		return ErrStateConflict
	}

	if ev.Attempts >= ev.MaxAttempts {
		ev.Status = StatusDead
	} else {
		ev.Status = StatusPending
		ev.RunAt = retryAt.UTC()
	}
	ev.LastError = &errMsg
	ev.LockedAt = nil
	ev.LockedBy = nil
	ev.UpdatedAt = time.Now().UTC()

	return nil
}

// RecoverStale implements Store.
func (ms *MemoryStorage) RecoverStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	cutoff := time.Now().UTC().Add(-olderThan)
	staleMsg := "stale lock recovered"

	var n int64
	for _, ev := range ms.events {
		if ev.Status != StatusRunning || ev.LockedAt == nil || !ev.LockedAt.Before(cutoff) {
			continue
		}
		if ev.Attempts >= ev.MaxAttempts {
			// The crash consumed the final attempt; requeueing would let the
			// next claim exceed max_attempts.
			ev.Status = StatusDead
		} else {
			ev.Status = StatusPending
			n++
		}
		ev.LockedAt = nil
		ev.LockedBy = nil
		ev.LastError = &staleMsg
		ev.UpdatedAt = time.Now().UTC()
	}

	return n, nil
}

// Begin implements Store.
func (ms *MemoryStorage) Begin(ctx context.Context) (Session, error) {
	sess := &MemorySession{}

	ms.mu.Lock()
	ms.sessions = append(ms.sessions, sess)
	ms.mu.Unlock()

	return sess, nil
}

// Get returns a copy of the stored event, for inspection in tests.
func (ms *MemoryStorage) Get(id int64) (*Event, bool) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ev, ok := ms.events[id]
	if !ok {
		return nil, false
	}
	copied := *ev
	return &copied, true
}

// Sessions returns every session Begin has handed out, oldest first.
func (ms *MemoryStorage) Sessions() []*MemorySession {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	return append([]*MemorySession(nil), ms.sessions...)
}

// MemorySession is the Session the in-memory store hands to transactional
// handlers. Queries fail with ErrNoDatabase; the commit/rollback record is
// what tests assert on.
type MemorySession struct {
	mu         sync.Mutex
	committed  bool
	rolledBack bool
}

func (s *MemorySession) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, ErrNoDatabase
}

func (s *MemorySession) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, ErrNoDatabase
}

func (s *MemorySession) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return errRow{err: ErrNoDatabase}
}

func (s *MemorySession) Unsafe() pgx.Tx {
	return nil
}

// Committed reports whether the dispatcher committed this session.
func (s *MemorySession) Committed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.committed
}

// RolledBack reports whether the dispatcher rolled this session back.
func (s *MemorySession) RolledBack() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rolledBack
}

func (s *MemorySession) commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.committed || s.rolledBack {
		return ErrSessionClosed
	}
	s.committed = true
	return nil
}

func (s *MemorySession) rollback(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.committed || s.rolledBack {
		return nil
	}
	s.rolledBack = true
	return nil
}

type errRow struct {
	err error
}

func (r errRow) Scan(dest ...any) error {
	return r.err
}
