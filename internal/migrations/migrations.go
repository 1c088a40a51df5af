// Package migrations contains the schema of the mailbox mirror.
package migrations

import (
	"context"
	"fmt"
	"sync"

	migrator "github.com/cybertec-postgresql/pgx-migrator"
	"github.com/jackc/pgx/v5"
)

// TableName is where applied migrations are tracked
const TableName = "mailsync_migrations"

// migrations holds function returning all upgrade migrations needed
var migrations func() migrator.Option = func() migrator.Option {
	return migrator.Migrations(
		&migrator.Migration{
			Name: "001_create_mirror_tables",
			Func: func(ctx context.Context, tx pgx.Tx) error {
				_, err := tx.Exec(ctx, `
					-- One row per synced account, latest_event_id is NULL until bootstrapped
					CREATE TABLE account (
						login text PRIMARY KEY,
						latest_event_id text,
						updated_at timestamp with time zone NOT NULL DEFAULT now()
					);

					-- Mirrored entities of every kind
					CREATE TABLE entity (
						login text NOT NULL REFERENCES account(login) ON DELETE CASCADE,
						kind text NOT NULL,
						id text NOT NULL,
						data jsonb NOT NULL DEFAULT '{}',
						updated_at timestamp with time zone NOT NULL DEFAULT now(),
						PRIMARY KEY(login, kind, id)
					);

					CREATE INDEX idx_entity_login_kind ON entity(login, kind);
				`)
				return err
			},
		},
		&migrator.Migration{
			Name: "002_publish_mail_event",
			Func: func(ctx context.Context, tx pgx.Tx) error {
				_, err := tx.Exec(ctx, `
					-- Publishes a live raw change event for an account
					CREATE OR REPLACE FUNCTION publish_mail_event(p_login text, p_event jsonb, p_channel text DEFAULT 'mail_events')
					RETURNS void AS $$
					BEGIN
						PERFORM pg_notify(p_channel, json_build_object('account', p_login, 'event', p_event)::text);
					END;
					$$ LANGUAGE plpgsql;
				`)
				return err
			},
		},
		// adding new migration here

		// &migrator.Migration{
		// 	Name: "Short description of a migration",
		// 	Func: func(ctx context.Context, tx pgx.Tx) error {
		// 		...
		// 	},
		// },
	)
}

var (
	migratorInstance *migrator.Migrator
	migratorErr      error
	once             sync.Once
)

// getMigrator returns a singleton migrator instance
func getMigrator() (*migrator.Migrator, error) {
	once.Do(func() {
		migratorInstance, migratorErr = migrator.New(
			migrations(),
			migrator.TableName(TableName),
		)
	})
	return migratorInstance, migratorErr
}

// Apply applies all pending migrations to the database
func Apply(ctx context.Context, conn *pgx.Conn) error {
	m, err := getMigrator()
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	if err := m.Migrate(ctx, conn); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// NeedsUpgrade checks if the database needs migration
func NeedsUpgrade(ctx context.Context, conn *pgx.Conn) (bool, error) {
	m, err := getMigrator()
	if err != nil {
		return false, fmt.Errorf("failed to create migrator: %w", err)
	}
	needUpgrade, err := m.NeedUpgrade(ctx, conn)
	if err != nil {
		return false, fmt.Errorf("failed to check migration status: %w", err)
	}
	return needUpgrade, nil
}
