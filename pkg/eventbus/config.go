package eventbus

import "time"

// Defaults shared by the publisher, the store, and the bus.
const (
	// DefaultSchema is the PostgreSQL schema holding the events table.
	DefaultSchema = "pgebus"
	// DefaultChannel is the LISTEN/NOTIFY channel used to wake workers.
	DefaultChannel = "events"
	// DefaultMaxAttempts is applied to events published without an override.
	DefaultMaxAttempts = 5
)

// Config holds the configuration for the event bus.
type Config struct {
	Schema          string        `env:"EVENTBUS_SCHEMA" envDefault:"pgebus"`
	Channel         string        `env:"EVENTBUS_CHANNEL" envDefault:"events"`
	Workers         int           `env:"EVENTBUS_WORKERS" envDefault:"5"`
	PollInterval    time.Duration `env:"EVENTBUS_POLL_INTERVAL" envDefault:"1s"`
	StaleAfter      time.Duration `env:"EVENTBUS_STALE_AFTER" envDefault:"5m"`
	BackoffBase     time.Duration `env:"EVENTBUS_BACKOFF_BASE" envDefault:"2s"`
	BackoffCap      time.Duration `env:"EVENTBUS_BACKOFF_CAP" envDefault:"5m"`
	MaxAttempts     int           `env:"EVENTBUS_MAX_ATTEMPTS" envDefault:"5"`
	ShutdownTimeout time.Duration `env:"EVENTBUS_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}
