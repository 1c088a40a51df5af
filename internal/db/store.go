package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/cybertec-postgresql/mailsync/internal/events"
	"github.com/cybertec-postgresql/mailsync/internal/patch"
)

// AccountMetadata is the persisted sync state of an account
type AccountMetadata struct {
	Login         string
	LatestEventID events.Cursor
	UpdatedAt     time.Time
}

// IsBootstrapped reports whether the account has completed its initial full sync
func (m AccountMetadata) IsBootstrapped() bool {
	return m.LatestEventID != ""
}

const (
	upsertEntitySQL = `INSERT INTO entity (login, kind, id, data) VALUES ($1, $2, $3, $4)
		ON CONFLICT (login, kind, id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`
	// partial data is merged key by key onto the stored document
	mergeEntitySQL = `INSERT INTO entity (login, kind, id, data) VALUES ($1, $2, $3, $4)
		ON CONFLICT (login, kind, id) DO UPDATE SET data = entity.data || EXCLUDED.data, updated_at = now()`
)

// Store persists entity patches into the mirror tables
type Store struct {
	pool PgxIface
}

// NewStore creates a new store
func NewStore(pool PgxIface) *Store {
	return &Store{pool: pool}
}

// EnsureAccount registers the account if needed and returns its metadata
func (s *Store) EnsureAccount(ctx context.Context, login string) (AccountMetadata, error) {
	query := `INSERT INTO account (login) VALUES ($1)
		ON CONFLICT (login) DO UPDATE SET login = EXCLUDED.login
		RETURNING login, COALESCE(latest_event_id, ''), updated_at`

	var meta AccountMetadata
	var cursor string
	if err := s.pool.QueryRow(ctx, query, login).Scan(&meta.Login, &cursor, &meta.UpdatedAt); err != nil {
		return AccountMetadata{}, fmt.Errorf("failed to load account %s: %w", login, err)
	}
	meta.LatestEventID = events.Cursor(cursor)
	return meta, nil
}

// ApplyPatch applies p and stores cursor as the latest event id in one transaction.
// Removals run before upserts, so applying the same patch again is a no-op.
func (s *Store) ApplyPatch(ctx context.Context, login string, p patch.Patch, cursor events.Cursor) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin patch transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if patch.IsNonEmpty(p) {
		batch := &pgx.Batch{}
		for _, kind := range patch.Kinds {
			changes := p[kind]
			if len(changes.Remove) > 0 {
				ids := make([]string, len(changes.Remove))
				for i, id := range changes.Remove {
					ids[i] = string(id)
				}
				batch.Queue(`DELETE FROM entity WHERE login = $1 AND kind = $2 AND id = ANY($3)`, login, string(kind), ids)
			}
			for _, entity := range changes.Upsert {
				query := upsertEntitySQL
				if entity.Merge {
					query = mergeEntitySQL
				}
				batch.Queue(query, login, string(kind), string(entity.ID), entityData(entity))
			}
		}
		if err = tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to execute patch batch: %w", err)
		}
	}

	if _, err = tx.Exec(ctx, `UPDATE account SET latest_event_id = $2, updated_at = now() WHERE login = $1`, login, string(cursor)); err != nil {
		return fmt.Errorf("failed to update latest event id: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit patch: %w", err)
	}

	counts := patch.Counts(p)
	fields := logrus.Fields{"account": login, "cursor": cursor}
	for kind, count := range counts {
		fields[string(kind)] = fmt.Sprintf("%d/%d", count.Upsert, count.Remove)
	}
	logrus.WithFields(fields).Debug("Patch persisted")
	return nil
}

// ResetAccount drops the mirrored entities and the cursor of an account
func (s *Store) ResetAccount(ctx context.Context, login string) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin reset transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `DELETE FROM entity WHERE login = $1`, login); err != nil {
		return fmt.Errorf("failed to delete entities: %w", err)
	}
	if _, err = tx.Exec(ctx, `UPDATE account SET latest_event_id = NULL, updated_at = now() WHERE login = $1`, login); err != nil {
		return fmt.Errorf("failed to reset latest event id: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit reset: %w", err)
	}

	logrus.WithField("account", login).Info("Account mirror reset")
	return nil
}

// CountEntities returns the number of mirrored entities of one kind
func (s *Store) CountEntities(ctx context.Context, login string, kind patch.Kind) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM entity WHERE login = $1 AND kind = $2`, login, string(kind)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", kind, err)
	}
	return count, nil
}

func entityData(entity patch.Entity) []byte {
	if len(entity.Data) == 0 {
		return []byte("{}")
	}
	return entity.Data
}
