package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/denticheck-screening-server/internal/domain"
)

var sessionColumns = []string{"id", "operation", "status", "created_at", "updated_at", "completed_at"}

func setupMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := NewPostgresStore(db)
	require.NoError(t, err)
	return store, mock
}

func TestPostgresStore_Create(t *testing.T) {
	store, mock := setupMockStore(t)
	now := time.Now().UTC()

	mock.ExpectExec("INSERT INTO screening_sessions").
		WithArgs("s1", "run", "uploaded", now, now, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Create(context.Background(), &domain.Session{
		ID: "s1", Operation: "run", Status: domain.StatusUploaded, CreatedAt: now, UpdatedAt: now,
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Get(t *testing.T) {
	store, mock := setupMockStore(t)
	created := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	completed := created.Add(3 * time.Second)

	mock.ExpectQuery("SELECT id, operation, status, created_at, updated_at, completed_at FROM screening_sessions").
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows(sessionColumns).AddRow("s1", "analyze", "done", created, completed, completed))
	mock.ExpectQuery("SELECT id, operation, status").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(sessionColumns))

	sess, err := store.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDone, sess.Status)
	assert.Equal(t, "analyze", sess.Operation)
	require.NotNil(t, sess.CompletedAt)
	assert.True(t, completed.Equal(*sess.CompletedAt))

	_, err = store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateStatus(t *testing.T) {
	store, mock := setupMockStore(t)
	at := time.Now().UTC()

	mock.ExpectExec("UPDATE screening_sessions").
		WithArgs("analyzing", at, sqlmock.AnyArg(), "s1", "uploaded").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE screening_sessions").
		WithArgs("done", at, sqlmock.AnyArg(), "s1", "uploaded").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE screening_sessions").
		WillReturnError(errors.New("connection reset"))

	require.NoError(t, store.UpdateStatus(context.Background(), "s1", domain.StatusUploaded, domain.StatusAnalyzing, at))

	err := store.UpdateStatus(context.Background(), "s1", domain.StatusUploaded, domain.StatusDone, at)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	err = store.UpdateStatus(context.Background(), "s1", domain.StatusAnalyzing, domain.StatusDone, at)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidTransition)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLedger_RejectsBackwardTransition(t *testing.T) {
	store, mock := setupMockStore(t)
	created := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT id, operation, status").
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows(sessionColumns).AddRow("s1", "run", "done", created, created, created))

	ledger := NewLedger(store, nil, quietLogger())
	err := ledger.Advance(context.Background(), "s1", domain.StatusAnalyzing)

	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.NoError(t, mock.ExpectationsWereMet(), "no update is issued for a rejected transition")
}

func TestPostgresStore_ListRecent(t *testing.T) {
	store, mock := setupMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery("ORDER BY created_at DESC").
		WithArgs(50).
		WillReturnRows(sqlmock.NewRows(sessionColumns).
			AddRow("b", "run", "analyzing", now, now, nil).
			AddRow("a", "quick", "done", now, now, now))

	sessions, err := store.ListRecent(context.Background(), 0)

	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Nil(t, sessions[0].CompletedAt)
	assert.NotNil(t, sessions[1].CompletedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewPostgresStore_RequiresDB(t *testing.T) {
	_, err := NewPostgresStore(nil)
	assert.Error(t, err)
}
