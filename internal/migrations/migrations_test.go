package migrations

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestGetMigrator tests that the migrator is created once
func TestGetMigrator(t *testing.T) {
	m, err := getMigrator()
	require.NoError(t, err, "Should create migrator instance")
	require.NotNil(t, m)

	m2, err := getMigrator()
	require.NoError(t, err)
	assert.Same(t, m, m2, "Should return same migrator instance")
}

func connectTestDatabase(ctx context.Context, t *testing.T) *pgx.Conn {
	pgContainer, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgContainer.Terminate(context.Background()) })

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	conn, err := pgx.Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(context.Background()) })
	return conn
}

// TestMigrationWithRealDatabase tests migration against a real database
func TestMigrationWithRealDatabase(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping real database migration test in short mode")
	}
	ctx := context.Background()
	conn := connectTestDatabase(ctx, t)

	needs, err := NeedsUpgrade(ctx, conn)
	require.NoError(t, err)
	assert.True(t, needs, "Fresh database should need migrations")

	require.NoError(t, Apply(ctx, conn))

	needs, err = NeedsUpgrade(ctx, conn)
	require.NoError(t, err)
	assert.False(t, needs, "Migrated database should be up to date")

	for _, table := range []string{"account", "entity", TableName} {
		var exists bool
		err = conn.QueryRow(ctx, "SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_name = $1)", table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "table %s should exist after migration", table)
	}

	var funcExists bool
	err = conn.QueryRow(ctx, "SELECT EXISTS (SELECT FROM pg_proc WHERE proname = 'publish_mail_event')").Scan(&funcExists)
	require.NoError(t, err)
	assert.True(t, funcExists)

	// applying twice is a no-op
	require.NoError(t, Apply(ctx, conn))
}
