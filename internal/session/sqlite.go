package session

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/denticheck-screening-server/internal/domain"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore creates a new SQLite session store.
// It creates the database file and schema if they don't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// createSchema creates the database tables and indexes.
func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS screening_sessions (
		id TEXT PRIMARY KEY,
		operation TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		completed_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_status ON screening_sessions(status);
	CREATE INDEX IF NOT EXISTS idx_sessions_created_at ON screening_sessions(created_at);
	`

	_, err := db.Exec(schema)
	return err
}

func scanSession(s scanner) (*domain.Session, error) {
	sess := &domain.Session{}
	var status string
	var completed sql.NullTime

	if err := s.Scan(&sess.ID, &sess.Operation, &status, &sess.CreatedAt, &sess.UpdatedAt, &completed); err != nil {
		return nil, err
	}
	sess.Status = domain.SessionStatus(status)
	if completed.Valid {
		t := completed.Time
		sess.CompletedAt = &t
	}
	return sess, nil
}

// Create inserts a new session.
func (s *SQLiteStore) Create(ctx context.Context, sess *domain.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO screening_sessions (id, operation, status, created_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		sess.ID,
		sess.Operation,
		string(sess.Status),
		sess.CreatedAt.UTC(),
		sess.UpdatedAt.UTC(),
		nullTime(sess.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// Get returns the session or ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, operation, status, created_at, updated_at, completed_at
		FROM screening_sessions
		WHERE id = ?
	`, id)

	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	return sess, nil
}

// UpdateStatus performs a compare-and-set on the stored status.
func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, from, to domain.SessionStatus, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE screening_sessions
		SET status = ?, updated_at = ?, completed_at = ?
		WHERE id = ? AND status = ?
	`, string(to), at.UTC(), nullTime(completedAt(to, at.UTC())), id, string(from))
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s is no longer %s", ErrInvalidTransition, id, from)
	}
	return nil
}

// ListRecent returns the most recently created sessions.
func (s *SQLiteStore) ListRecent(ctx context.Context, limit int) ([]*domain.Session, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, operation, status, created_at, updated_at, completed_at
		FROM screening_sessions
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
