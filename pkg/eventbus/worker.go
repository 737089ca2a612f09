package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// worker is one cooperative claim loop. It parks on the shared wake until the
// listener, the poller, or the stale sweeper signals work, then drains the
// queue one exclusive claim at a time.
type worker struct {
	id          string
	store       Store
	router      *Router
	wake        chan struct{}
	quit        <-chan struct{}
	backoffBase time.Duration
	backoffCap  time.Duration
	logger      *slog.Logger
	processed   *atomic.Int64
}

func (w *worker) run(ctx context.Context) {
	w.logger.Debug("worker started", slog.String("worker_id", w.id))

	for {
		w.drain(ctx)

		select {
		case <-ctx.Done():
			return
		case <-w.quit:
			return
		case <-w.wake:
		}
	}
}

// drain claims and dispatches until the queue is empty. Bursts are absorbed
// here: after any successful dispatch the next claim is attempted
// immediately, so a storm of notifications costs at most one extra claim
// cycle per worker.
func (w *worker) drain(ctx context.Context) {
	for {
		select {
		case <-w.quit:
			return
		default:
		}
		if ctx.Err() != nil {
			return
		}

		ev, err := w.store.ClaimOne(ctx, w.id, time.Now().UTC())
		if err != nil {
			if !errors.Is(err, ErrNoEventToClaim) && ctx.Err() == nil {
				// Transient storage trouble: log, park, and let the next
				// poll tick retry. Nothing here may take the bus down.
				w.logger.Error("failed to claim event",
					slog.String("worker_id", w.id),
					slog.String("error", err.Error()))
			}
			return
		}

		w.dispatch(ctx, ev)
		w.processed.Add(1)
	}
}

// dispatch runs all matched handlers for one claimed event and records the
// outcome. When any matched handler is transactional, a single session spans
// the whole event and the dispatcher alone commits or rolls it back.
func (w *worker) dispatch(ctx context.Context, ev *Event) {
	start := time.Now()

	handlers := w.router.Match(ev.Type)
	if len(handlers) == 0 {
		// Stray event types complete as no-ops rather than piling up as
		// dead rows.
		if err := w.store.MarkDone(ctx, ev.ID); err != nil {
			w.logger.Error("failed to complete unmatched event",
				slog.Int64("event_id", ev.ID),
				slog.String("event_type", ev.Type),
				slog.String("error", err.Error()))
		}
		return
	}

	sess, err := w.beginIfTransactional(ctx, handlers)
	if err != nil {
		w.recordFailure(ctx, ev, err, time.Since(start))
		return
	}

	execErr := w.invoke(ctx, ev, handlers, sess)

	if sess != nil {
		if execErr == nil {
			execErr = sess.commit(ctx)
		} else {
			// Release the session on every failure path, shutdown included.
			if rbErr := sess.rollback(context.WithoutCancel(ctx)); rbErr != nil {
				w.logger.Error("failed to roll back dispatch session",
					slog.Int64("event_id", ev.ID),
					slog.String("error", rbErr.Error()))
			}
		}
	}

	if execErr != nil {
		w.recordFailure(ctx, ev, execErr, time.Since(start))
		return
	}

	if err := w.store.MarkDone(ctx, ev.ID); err != nil {
		w.logger.Error("failed to mark event done, stale sweep will reclaim it",
			slog.Int64("event_id", ev.ID),
			slog.String("error", err.Error()))
		return
	}

	w.logger.Info("event done",
		slog.String("worker_id", w.id),
		slog.Int64("event_id", ev.ID),
		slog.String("event_type", ev.Type),
		slog.Int("attempt", ev.Attempts),
		slog.Duration("duration", time.Since(start)))
}

func (w *worker) beginIfTransactional(ctx context.Context, handlers []Descriptor) (Session, error) {
	for _, d := range handlers {
		if d.Transactional {
			sess, err := w.store.Begin(ctx)
			if err != nil {
				return nil, fmt.Errorf("begin dispatch session: %w", err)
			}
			return sess, nil
		}
	}
	return nil, nil
}

// invoke executes handlers sequentially in registration order, aborting on
// the first error. A panic is captured as a handler failure so one bad
// handler cannot take the worker down.
func (w *worker) invoke(ctx context.Context, ev *Event, handlers []Descriptor, sess Session) (retErr error) {
	defer func() {
		if r := recover(); r != nil {
			retErr = fmt.Errorf("panic in handler: %v", r)
			w.logger.Error("handler panicked",
				slog.String("worker_id", w.id),
				slog.Int64("event_id", ev.ID),
				slog.String("event_type", ev.Type),
				slog.Any("panic", r))
		}
	}()

	ec := &EventContext{
		Context:   ctx,
		EventID:   ev.ID,
		EventType: ev.Type,
		Attempt:   ev.Attempts,
		session:   sess,
	}

	for _, d := range handlers {
		if err := d.Fn(ec, ev.Payload); err != nil {
			return fmt.Errorf("handler %s: %w", d.Path, err)
		}
	}

	return nil
}

func (w *worker) recordFailure(ctx context.Context, ev *Event, execErr error, duration time.Duration) {
	delay := nextBackoff(ev.Attempts, w.backoffBase, w.backoffCap)
	retryAt := time.Now().UTC().Add(delay)

	w.logger.Error("event failed",
		slog.String("worker_id", w.id),
		slog.Int64("event_id", ev.ID),
		slog.String("event_type", ev.Type),
		slog.Int("attempt", ev.Attempts),
		slog.Int("max_attempts", ev.MaxAttempts),
		slog.Duration("duration", duration),
		slog.String("error", execErr.Error()))

	if err := w.store.MarkFailed(context.WithoutCancel(ctx), ev.ID, truncateError(execErr), retryAt); err != nil {
		w.logger.Error("failed to record event failure, stale sweep will reclaim it",
			slog.Int64("event_id", ev.ID),
			slog.String("error", err.Error()))
	}
}
