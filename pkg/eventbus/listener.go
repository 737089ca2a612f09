package eventbus

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
)

const (
	reconnectBase = time.Second
	reconnectMax  = 30 * time.Second
)

// listener owns one long-lived connection subscribed to the notification
// channel. Each received notification collapses into a single in-process
// wake; dropped notifications are harmless because the poller emits the same
// wake on a timer. The listener never touches the events table.
type listener struct {
	connString string
	channel    string
	wake       func()
	logger     *slog.Logger
}

// run reconnects with bounded backoff until ctx is cancelled.
func (l *listener) run(ctx context.Context) {
	delay := reconnectBase

	for {
		if ctx.Err() != nil {
			return
		}

		connected, err := l.listen(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			delay = reconnectBase
		}
		if err != nil {
			l.logger.Warn("listener disconnected, reconnecting",
				slog.String("channel", l.channel),
				slog.Duration("retry_in", delay),
				slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		delay *= 2
		if delay > reconnectMax {
			delay = reconnectMax
		}
	}
}

// listen holds one subscription until the connection fails or ctx ends.
// Reports whether the subscription was established so run can reset its
// reconnect backoff.
func (l *listener) listen(ctx context.Context) (bool, error) {
	conn, err := pgx.Connect(ctx, l.connString)
	if err != nil {
		return false, err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = conn.Close(closeCtx)
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+quoteIdentifier(l.channel)); err != nil {
		return false, err
	}

	l.logger.Debug("listener subscribed", slog.String("channel", l.channel))

	// A notification may have fired between the poller's last tick and the
	// subscription; claim once to cover the gap.
	l.wake()

	for {
		if _, err := conn.WaitForNotification(ctx); err != nil {
			return true, err
		}
		l.wake()
	}
}
