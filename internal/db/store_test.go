package db

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cybertec-postgresql/mailsync/internal/events"
	"github.com/cybertec-postgresql/mailsync/internal/patch"
)

func TestAccountMetadataIsBootstrapped(t *testing.T) {
	assert.False(t, AccountMetadata{Login: "alice"}.IsBootstrapped())
	assert.True(t, AccountMetadata{Login: "alice", LatestEventID: "e1"}.IsBootstrapped())
}

// TestEnsureAccount tests registration and metadata loading with pgxmock
func TestEnsureAccount(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now()
	mock.ExpectQuery(`INSERT INTO account \(login\) VALUES \(\$1\)`).
		WithArgs("alice").
		WillReturnRows(pgxmock.NewRows([]string{"login", "coalesce", "updated_at"}).AddRow("alice", "e5", now))

	meta, err := NewStore(mock).EnsureAccount(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", meta.Login)
	assert.Equal(t, events.Cursor("e5"), meta.LatestEventID)
	assert.True(t, meta.IsBootstrapped())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureAccountError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`INSERT INTO account`).WithArgs("alice").WillReturnError(errors.New("connection lost"))

	_, err = NewStore(mock).EnsureAccount(context.Background(), "alice")
	assert.ErrorContains(t, err, "connection lost")
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestApplyPatch tests that removals and upserts are batched in kind order inside one transaction
func TestApplyPatch(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	p := patch.Empty()
	p.AddRemove(patch.Mails, "m2")
	p.AddUpsert(patch.Mails, patch.Entity{ID: "m1", Data: json.RawMessage(`{"Subject":"hi"}`)})
	p.AddUpsert(patch.Folders, patch.Entity{ID: "f1"})

	mock.ExpectBegin()
	b := mock.ExpectBatch()
	b.ExpectExec(`DELETE FROM entity`).WithArgs("alice", "mails", []string{"m2"}).WillReturnResult(pgxmock.NewResult("DELETE", 1))
	b.ExpectExec(`INSERT INTO entity`).WithArgs("alice", "mails", "m1", []byte(`{"Subject":"hi"}`)).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	b.ExpectExec(`INSERT INTO entity`).WithArgs("alice", "folders", "f1", []byte(`{}`)).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE account SET latest_event_id = \$2`).WithArgs("alice", "e9").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err = NewStore(mock).ApplyPatch(context.Background(), "alice", p, "e9")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestApplyEmptyPatch tests that an empty patch only advances the cursor
func TestApplyEmptyPatch(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE account SET latest_event_id = \$2`).WithArgs("alice", "e10").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err = NewStore(mock).ApplyPatch(context.Background(), "alice", patch.Empty(), "e10")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestApplyPatchMergesFlagUpdates tests that partial entities are merged onto the stored document
func TestApplyPatchMergesFlagUpdates(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	p := patch.Empty()
	p.AddUpsert(patch.Mails, patch.Entity{ID: "m1", Data: json.RawMessage(`{"Unread":0}`), Merge: true})

	mock.ExpectBegin()
	b := mock.ExpectBatch()
	b.ExpectExec(`SET data = entity\.data \|\| EXCLUDED\.data`).WithArgs("alice", "mails", "m1", []byte(`{"Unread":0}`)).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE account SET latest_event_id = \$2`).WithArgs("alice", "e11").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err = NewStore(mock).ApplyPatch(context.Background(), "alice", p, "e11")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyPatchRollsBackOnError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE account SET latest_event_id`).WithArgs("alice", "e10").WillReturnError(errors.New("deadlock"))
	mock.ExpectRollback()

	err = NewStore(mock).ApplyPatch(context.Background(), "alice", patch.Empty(), "e10")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to update latest event id")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyPatchBeginError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

	err = NewStore(mock).ApplyPatch(context.Background(), "alice", patch.Empty(), "e10")
	assert.ErrorContains(t, err, "failed to begin patch transaction")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResetAccount(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM entity WHERE login = \$1`).WithArgs("alice").WillReturnResult(pgxmock.NewResult("DELETE", 12))
	mock.ExpectExec(`UPDATE account SET latest_event_id = NULL`).WithArgs("alice").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err = NewStore(mock).ResetAccount(context.Background(), "alice")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountEntities(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT count\(\*\) FROM entity`).
		WithArgs("alice", "contacts").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(7)))

	count, err := NewStore(mock).CountEntities(context.Background(), "alice", patch.Contacts)
	require.NoError(t, err)
	assert.Equal(t, int64(7), count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	meta, err := store.EnsureAccount(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, meta.IsBootstrapped())

	p := patch.Empty()
	p.AddUpsert(patch.Mails, patch.Entity{ID: "m1", Data: json.RawMessage(`{}`)})
	require.NoError(t, store.ApplyPatch(ctx, "alice", p, "e1"))

	meta, err = store.EnsureAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, events.Cursor("e1"), meta.LatestEventID)
	_, ok := store.Mirror("alice").Get(patch.Mails, "m1")
	assert.True(t, ok)

	require.NoError(t, store.ResetAccount(ctx, "alice"))
	meta, err = store.EnsureAccount(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, meta.IsBootstrapped())
}
