package eventbus

import (
	"log/slog"
	"time"
)

// Option is a functional option for configuring the bus
type Option func(*Bus)

// WithWorkers sets the worker pool size.
func WithWorkers(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.workers = n
		}
	}
}

// WithPollInterval sets the fallback poll cadence. Polling alone keeps the
// bus correct; notifications only make it faster.
func WithPollInterval(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.pollInterval = d
		}
	}
}

// WithStaleAfter sets how long a running row may hold its lock before the
// sweep forces it back to pending.
func WithStaleAfter(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.staleAfter = d
		}
	}
}

// WithoutStaleRecovery disables the periodic stale-lock sweep. Crashed
// claims then require operator intervention.
func WithoutStaleRecovery() Option {
	return func(b *Bus) {
		b.staleRecovery = false
	}
}

// WithBackoff sets the retry backoff base and cap.
func WithBackoff(base, cap time.Duration) Option {
	return func(b *Bus) {
		if base > 0 {
			b.backoffBase = base
		}
		if cap > 0 {
			b.backoffCap = cap
		}
	}
}

// WithShutdownTimeout bounds the graceful drain performed by Run.
func WithShutdownTimeout(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.shutdownTimeout = d
		}
	}
}

// WithChannel sets the notification channel the listener subscribes to.
func WithChannel(channel string) Option {
	return func(b *Bus) {
		if channel != "" {
			b.channel = channel
		}
	}
}

// WithListener enables the push-notification listener on a dedicated
// connection opened from connString. Without it the bus relies on the poller
// alone, which is slower but just as correct.
func WithListener(connString string) Option {
	return func(b *Bus) {
		b.listenConnString = connString
	}
}

// WithLogger sets the logger for the bus and its workers.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithConfig applies an env-loaded Config in one call. Individual options
// given after it still win. Schema and MaxAttempts are not applied: the bus
// has no setting for either.
func WithConfig(cfg Config) Option {
	return func(b *Bus) {
		WithWorkers(cfg.Workers)(b)
		WithPollInterval(cfg.PollInterval)(b)
		WithStaleAfter(cfg.StaleAfter)(b)
		WithBackoff(cfg.BackoffBase, cfg.BackoffCap)(b)
		WithShutdownTimeout(cfg.ShutdownTimeout)(b)
		WithChannel(cfg.Channel)(b)
	}
}
