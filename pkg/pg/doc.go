// Package pg bootstraps the PostgreSQL layer underneath the event bus using
// the pgx/v5 driver: connection pooling with startup retries, goose/v3 schema
// migrations, a health check closure, and error classifiers.
//
// Configuration comes from discrete environment variables (host, port, user,
// password, database, application name) rather than a single URL, so each
// field can be injected separately; Config.DSN composes the URL the driver
// needs. The same DSN feeds the bus listener's dedicated connection.
//
// # Usage
//
//	var cfg pg.Config
//	config.MustLoad(&cfg)
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//
//	if err := pg.Migrate(ctx, pool, cfg, slog.Default()); err != nil {
//	    return err
//	}
//
//	// readiness probe: connectivity plus the events table itself
//	ready := pg.Healthcheck(pool, "pgebus")
//	if err := ready(ctx); err != nil {
//	    return err
//	}
//
// # Error Handling
//
// The classifiers split storage failures the way the dispatcher treats them:
// [IsUndefinedTableError] and [IsInsufficientPrivilegeError] are fatal at
// startup, while [IsSerializationFailureError] and [IsDeadlockError] are
// transient and safe to retry on the next claim cycle.
package pg
