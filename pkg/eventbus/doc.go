// Package eventbus provides a durable, at-least-once event bus whose single
// source of truth is PostgreSQL. Producers insert event rows inside their own
// transactions; a pool of workers claims each row exactly once, runs the
// registered handlers, and records success or failure with bounded retries
// and exponential backoff.
//
// The package is organised around four main components:
//
//   - Publish   — inserts a pending event row and signals the notify channel
//     in the producer's transaction
//   - Router    — composable registry mapping event-type strings to ordered
//     handlers
//   - Store     — persistence contract; PGStore (pgx/v5) for production,
//     MemoryStorage for tests and local development
//   - Bus       — the supervisor: listener, fallback poller, stale sweeper,
//     and N claim workers
//
// # Delivery model
//
// Delivery is at-least-once: handlers must be idempotent. A claimed row is
// durable before the handler runs, so a crash mid-dispatch leaves the row in
// running until the stale sweep returns it to pending and another worker
// retries it. Exclusive claiming relies on FOR UPDATE SKIP LOCKED, so
// concurrent workers never block on or observe the same row.
//
// Notifications via LISTEN/NOTIFY are an optimization only. The poller
// re-checks the queue on a fixed interval, so the bus stays correct if every
// notification is lost and is what picks up events scheduled in the future.
//
// # Transactional handlers
//
// A handler registered with Transactional() receives a sealed Session
// spanning the whole event: every handler of that event shares it, and the
// dispatcher alone commits (all handlers succeeded) or rolls back (any
// failed). The session exposes queries only; Session.Unsafe is the explicit
// escape hatch to the raw transaction.
//
// # Usage
//
//	router := eventbus.NewRouter()
//	router.On("user.registered", func(ctx *eventbus.EventContext, payload json.RawMessage) error {
//	    // send the welcome email
//	    return nil
//	})
//
//	store, _ := eventbus.NewPGStore(pool)
//	bus, _ := eventbus.New(store, router,
//	    eventbus.WithWorkers(5),
//	    eventbus.WithListener(pool.Config().ConnString()),
//	)
//	if err := bus.Start(ctx); err != nil {
//	    return err
//	}
//	defer bus.Close()
//
//	// inside a producer transaction:
//	tx, _ := pool.Begin(ctx)
//	eventbus.Publish(ctx, tx, "user.registered", map[string]any{"user_id": 42})
//	tx.Commit(ctx)
//
// # Error Handling
//
// Package-level sentinel errors (e.g. ErrEventTypeEmpty, ErrRouterFrozen)
// signal contract violations and can be checked with errors.Is. Handler
// failures never propagate out of the bus: they are recorded on the row,
// retried with backoff, and dead-lettered after max_attempts.
package eventbus
