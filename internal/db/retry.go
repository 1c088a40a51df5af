package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/cybertec-postgresql/mailsync/internal/retry"
)

// NewWithRetry creates the mirror connection pool and retries until the server answers a ping.
// A malformed connection string is returned at once.
func NewWithRetry(ctx context.Context, connStr string, callbacks ...ConnConfigCallback) (PgxPoolIface, error) {
	if _, err := pgxpool.ParseConfig(connStr); err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	var pool PgxPoolIface
	err := retry.WithOperation(ctx, retry.PostgreSQLDefaults(), func(ctx context.Context) error {
		var err error
		if pool, err = New(ctx, connStr, callbacks...); err != nil {
			return err
		}
		if err = pool.Ping(ctx); err != nil {
			pool.Close()
			return err
		}
		return nil
	}, "Postgres connect")

	if err != nil {
		logrus.WithError(err).Error("Failed to establish PostgreSQL connection after all retries")
		return nil, err
	}
	return pool, nil
}
