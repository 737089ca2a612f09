package pg

import (
	"fmt"
	"net/url"
	"time"
)

type Config struct {
	Host            string `env:"PG_HOST" envDefault:"localhost"`       // Host is the database server hostname.
	Port            int    `env:"PG_PORT" envDefault:"5432"`            // Port is the database server port.
	User            string `env:"PG_USER,required"`                     // User is the database role to connect as.
	Password        string `env:"PG_PASSWORD"`                          // Password authenticates the role; empty for trust/peer auth.
	Database        string `env:"PG_DATABASE,required"`                 // Database is the database name to connect to.
	ApplicationName string `env:"PG_APPLICATION_NAME" envDefault:"pgebus"` // ApplicationName shows up in pg_stat_activity.
	SSLMode         string `env:"PG_SSLMODE" envDefault:"prefer"`       // SSLMode is passed through to the driver.

	MaxOpenConns      int32         `env:"PG_MAX_OPEN_CONNS" envDefault:"10"`      // MaxOpenConns is the maximum number of open connections.
	MaxIdleConns      int32         `env:"PG_MAX_IDLE_CONNS" envDefault:"5"`       // MaxIdleConns is the minimum number of idle connections kept.
	HealthCheckPeriod time.Duration `env:"PG_HEALTHCHECK_PERIOD" envDefault:"1m"`  // HealthCheckPeriod is the period between pool health checks.
	MaxConnIdleTime   time.Duration `env:"PG_MAX_CONN_IDLE_TIME" envDefault:"10m"` // MaxConnIdleTime is how long a connection may sit idle before being closed.
	MaxConnLifetime   time.Duration `env:"PG_MAX_CONN_LIFETIME" envDefault:"30m"`  // MaxConnLifetime is how long a connection may be reused.

	RetryAttempts int           `env:"PG_RETRY_ATTEMPTS" envDefault:"3"`  // RetryAttempts is the number of connection attempts before giving up.
	RetryInterval time.Duration `env:"PG_RETRY_INTERVAL" envDefault:"5s"` // RetryInterval is the base wait between attempts; it grows linearly.

	MigrationsPath  string `env:"PG_MIGRATIONS_PATH" envDefault:"migrations"`         // MigrationsPath is the path to the goose migrations directory.
	MigrationsTable string `env:"PG_MIGRATIONS_TABLE" envDefault:"schema_migrations"` // MigrationsTable stores the applied migration versions.
}

// DSN composes the connection URL from the discrete fields.
func (c Config) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   "/" + c.Database,
	}

	if c.Password != "" {
		u.User = url.UserPassword(c.User, c.Password)
	} else {
		u.User = url.User(c.User)
	}

	q := u.Query()
	if c.ApplicationName != "" {
		q.Set("application_name", c.ApplicationName)
	}
	if c.SSLMode != "" {
		q.Set("sslmode", c.SSLMode)
	}
	u.RawQuery = q.Encode()

	return u.String()
}
