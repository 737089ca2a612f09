package eventbus_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/pgebus/pkg/eventbus"
)

// fakeDB records the statements Publish issues, standing in for a pool,
// connection, or transaction.
type fakeDB struct {
	nextID   int64
	queryErr error
	execErr  error

	querySQL  string
	queryArgs []any
	execSQL   string
	execArgs  []any
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execSQL = sql
	f.execArgs = args
	return pgconn.CommandTag{}, f.execErr
}

func (f *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	f.querySQL = sql
	f.queryArgs = args
	if f.queryErr != nil {
		return fakeRow{err: f.queryErr}
	}
	return fakeRow{id: f.nextID}
}

type fakeRow struct {
	id  int64
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) == 1 {
		if p, ok := dest[0].(*int64); ok {
			*p = r.id
		}
	}
	return nil
}

func TestPublish(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("inserts pending row and notifies", func(t *testing.T) {
		t.Parallel()

		db := &fakeDB{nextID: 42}
		id, err := eventbus.Publish(ctx, db, "user.registered", map[string]any{"user_id": 7})
		require.NoError(t, err)
		assert.EqualValues(t, 42, id)

		assert.Contains(t, db.querySQL, `INSERT INTO "pgebus".events`)
		require.Len(t, db.queryArgs, 4)
		assert.Equal(t, "user.registered", db.queryArgs[0])
		assert.JSONEq(t, `{"user_id":7}`, string(db.queryArgs[1].([]byte)))
		assert.Equal(t, eventbus.DefaultMaxAttempts, db.queryArgs[3])

		assert.Contains(t, db.execSQL, "pg_notify")
		require.Len(t, db.execArgs, 1)
		assert.Equal(t, eventbus.DefaultChannel, db.execArgs[0])
	})

	t.Run("empty type error", func(t *testing.T) {
		t.Parallel()

		_, err := eventbus.Publish(ctx, &fakeDB{}, "", nil)
		assert.ErrorIs(t, err, eventbus.ErrEventTypeEmpty)
	})

	t.Run("unserializable payload error", func(t *testing.T) {
		t.Parallel()

		_, err := eventbus.Publish(ctx, &fakeDB{}, "x", func() {})
		assert.ErrorIs(t, err, eventbus.ErrPayloadMarshal)
	})

	t.Run("raw payload passes through untouched", func(t *testing.T) {
		t.Parallel()

		db := &fakeDB{nextID: 1}
		raw := json.RawMessage(`{"already":"encoded"}`)
		_, err := eventbus.Publish(ctx, db, "x", raw)
		require.NoError(t, err)
		assert.Equal(t, []byte(raw), db.queryArgs[1].([]byte))
	})

	t.Run("nil payload stores empty document", func(t *testing.T) {
		t.Parallel()

		db := &fakeDB{nextID: 1}
		_, err := eventbus.Publish(ctx, db, "x", nil)
		require.NoError(t, err)
		assert.JSONEq(t, `{}`, string(db.queryArgs[1].([]byte)))
	})

	t.Run("schema and channel options", func(t *testing.T) {
		t.Parallel()

		db := &fakeDB{nextID: 1}
		_, err := eventbus.Publish(ctx, db, "x", nil,
			eventbus.WithSchema("billing"),
			eventbus.WithPublishChannel("billing_events"))
		require.NoError(t, err)

		assert.Contains(t, db.querySQL, `INSERT INTO "billing".events`)
		assert.Equal(t, "billing_events", db.execArgs[0])
	})

	t.Run("run_at option schedules the event", func(t *testing.T) {
		t.Parallel()

		db := &fakeDB{nextID: 1}
		runAt := time.Now().UTC().Add(time.Hour)
		_, err := eventbus.Publish(ctx, db, "x", nil, eventbus.WithRunAt(runAt))
		require.NoError(t, err)
		assert.Equal(t, runAt, db.queryArgs[2])
	})

	t.Run("delay option schedules relative to now", func(t *testing.T) {
		t.Parallel()

		db := &fakeDB{nextID: 1}
		before := time.Now().UTC()
		_, err := eventbus.Publish(ctx, db, "x", nil, eventbus.WithDelay(time.Hour))
		require.NoError(t, err)

		got := db.queryArgs[2].(time.Time)
		assert.WithinDuration(t, before.Add(time.Hour), got, time.Second)
	})

	t.Run("max attempts option", func(t *testing.T) {
		t.Parallel()

		db := &fakeDB{nextID: 1}
		_, err := eventbus.Publish(ctx, db, "x", nil, eventbus.WithMaxAttempts(9))
		require.NoError(t, err)
		assert.Equal(t, 9, db.queryArgs[3])
	})

	t.Run("insert failure propagates", func(t *testing.T) {
		t.Parallel()

		db := &fakeDB{queryErr: errors.New("insert failed")}
		_, err := eventbus.Publish(ctx, db, "x", nil)
		require.Error(t, err)
		assert.True(t, strings.Contains(err.Error(), "insert failed"))
	})

	t.Run("notify failure propagates", func(t *testing.T) {
		t.Parallel()

		db := &fakeDB{nextID: 1, execErr: errors.New("notify failed")}
		_, err := eventbus.Publish(ctx, db, "x", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "notify")
	})
}
