package pg

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Healthcheck returns a readiness probe for the event bus, shaped as
// func(context.Context) error so it plugs into standard health registries.
// Beyond pinging the pool it probes the events table in the given schema, so
// an operator who forgot to run the migrations sees ErrEventsTableMissing
// instead of a bus that starts and then fails every claim.
func Healthcheck(pool *pgxpool.Pool, schema string) func(context.Context) error {
	table := quoteIdentifier(schema) + ".events"

	return func(ctx context.Context) error {
		if err := pool.Ping(ctx); err != nil {
			return errors.Join(ErrHealthcheckFailed, err)
		}

		if _, err := pool.Exec(ctx, "SELECT 1 FROM "+table+" LIMIT 1"); err != nil {
			if IsUndefinedTableError(err) {
				return errors.Join(ErrEventsTableMissing, err)
			}
			return errors.Join(ErrHealthcheckFailed, err)
		}

		return nil
	}
}

func quoteIdentifier(identifier string) string {
	identifier = strings.ReplaceAll(identifier, "\x00", "")
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
