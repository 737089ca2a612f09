package eventbus_test

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/pgebus/pkg/eventbus"
)

func TestBus_New(t *testing.T) {
	t.Parallel()

	t.Run("successful creation", func(t *testing.T) {
		t.Parallel()

		bus, err := eventbus.New(eventbus.NewMemoryStorage(), eventbus.NewRouter())
		require.NoError(t, err)
		require.NotNil(t, bus)
		assert.Equal(t, 5, bus.WorkerCount())
	})

	t.Run("nil store error", func(t *testing.T) {
		t.Parallel()

		bus, err := eventbus.New(nil, eventbus.NewRouter())
		assert.ErrorIs(t, err, eventbus.ErrStoreNil)
		assert.Nil(t, bus)
	})

	t.Run("nil router error", func(t *testing.T) {
		t.Parallel()

		bus, err := eventbus.New(eventbus.NewMemoryStorage(), nil)
		assert.ErrorIs(t, err, eventbus.ErrRouterNil)
		assert.Nil(t, bus)
	})

	t.Run("config option applies", func(t *testing.T) {
		t.Parallel()

		cfg := eventbus.Config{
			Workers:      3,
			PollInterval: 10 * time.Millisecond,
			StaleAfter:   time.Minute,
			BackoffBase:  time.Millisecond,
			BackoffCap:   time.Second,
		}
		bus, err := eventbus.New(eventbus.NewMemoryStorage(), eventbus.NewRouter(),
			eventbus.WithConfig(cfg))
		require.NoError(t, err)
		assert.Equal(t, 3, bus.WorkerCount())
	})
}

func TestBus_Lifecycle(t *testing.T) {
	t.Parallel()

	t.Run("start twice fails", func(t *testing.T) {
		t.Parallel()

		bus, err := eventbus.New(eventbus.NewMemoryStorage(), eventbus.NewRouter(),
			eventbus.WithLogger(discardLogger()))
		require.NoError(t, err)

		require.NoError(t, bus.Start(context.Background()))
		defer bus.Close()

		assert.ErrorIs(t, bus.Start(context.Background()), eventbus.ErrAlreadyStarted)
	})

	t.Run("stop before start fails", func(t *testing.T) {
		t.Parallel()

		bus, err := eventbus.New(eventbus.NewMemoryStorage(), eventbus.NewRouter())
		require.NoError(t, err)

		assert.ErrorIs(t, bus.Close(), eventbus.ErrNotStarted)
		assert.ErrorIs(t, bus.Shutdown(context.Background()), eventbus.ErrNotStarted)
	})

	t.Run("start freezes the router", func(t *testing.T) {
		t.Parallel()

		router := eventbus.NewRouter()
		bus, err := eventbus.New(eventbus.NewMemoryStorage(), router,
			eventbus.WithLogger(discardLogger()))
		require.NoError(t, err)

		require.NoError(t, bus.Start(context.Background()))
		defer bus.Close()

		assert.ErrorIs(t, router.On("late", noopHandler), eventbus.ErrRouterFrozen)
	})

	t.Run("wake before start is a no-op", func(t *testing.T) {
		t.Parallel()

		bus, err := eventbus.New(eventbus.NewMemoryStorage(), eventbus.NewRouter())
		require.NoError(t, err)
		bus.Wake()
	})
}

func TestBus_Shutdown(t *testing.T) {
	t.Parallel()

	t.Run("graceful shutdown waits for in-flight events", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()

		ms := eventbus.NewMemoryStorage()
		router := eventbus.NewRouter()

		started := make(chan struct{})
		require.NoError(t, router.On("slow", func(ec *eventbus.EventContext, payload json.RawMessage) error {
			close(started)
			time.Sleep(100 * time.Millisecond)
			return nil
		}))

		bus := startBus(t, ms, router)

		id, err := ms.InsertPending(ctx, "slow", nil, time.Time{}, 0)
		require.NoError(t, err)
		<-started

		shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		require.NoError(t, bus.Shutdown(shutdownCtx))

		ev, ok := ms.Get(id)
		require.True(t, ok)
		assert.Equal(t, eventbus.StatusDone, ev.Status)
		assert.EqualValues(t, 1, bus.Processed())
	})

	t.Run("shutdown times out with work in flight", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()

		ms := eventbus.NewMemoryStorage()
		router := eventbus.NewRouter()

		started := make(chan struct{})
		release := make(chan struct{})
		require.NoError(t, router.On("stuck", func(ec *eventbus.EventContext, payload json.RawMessage) error {
			close(started)
			<-release
			return nil
		}))

		bus := startBus(t, ms, router)

		_, err := ms.InsertPending(ctx, "stuck", nil, time.Time{}, 0)
		require.NoError(t, err)
		<-started

		shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, bus.Shutdown(shutdownCtx), eventbus.ErrShutdownTimeout)

		close(release)
	})

	t.Run("close returns promptly and cancels handler context", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()

		ms := eventbus.NewMemoryStorage()
		router := eventbus.NewRouter()

		started := make(chan struct{})
		var cancelled atomic.Bool
		require.NoError(t, router.On("cancellable", func(ec *eventbus.EventContext, payload json.RawMessage) error {
			close(started)
			<-ec.Done()
			cancelled.Store(true)
			return ec.Err()
		}))

		bus := startBus(t, ms, router)

		_, err := ms.InsertPending(ctx, "cancellable", nil, time.Time{}, 0)
		require.NoError(t, err)
		<-started

		require.NoError(t, bus.Close())
		assert.True(t, cancelled.Load(), "handler should observe cooperative cancellation")
	})
}

func TestBus_StaleSweepRequeues(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	ms := eventbus.NewMemoryStorage()

	// Simulate a crashed worker: claim with an hour-old timestamp so the
	// lock is stale the moment the sweeper looks.
	id, err := ms.InsertPending(ctx, "orphan", nil, time.Now().UTC().Add(-time.Hour), 0)
	require.NoError(t, err)
	_, err = ms.ClaimOne(ctx, "dead-worker", time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)

	router := eventbus.NewRouter()
	var reran atomic.Bool
	require.NoError(t, router.On("orphan", func(ec *eventbus.EventContext, payload json.RawMessage) error {
		reran.Store(true)
		return nil
	}))

	startBus(t, ms, router, eventbus.WithStaleAfter(2*time.Second))

	eventually(t, func() bool { return reran.Load() }, "stale event should be reclaimed and re-dispatched")

	ev, ok := ms.Get(id)
	require.True(t, ok)
	assert.Equal(t, eventbus.StatusDone, ev.Status)
	assert.Equal(t, 2, ev.Attempts, "crashed claim plus the retry")
}
