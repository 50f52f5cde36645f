package session

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/denticheck-screening-server/internal/domain"
)

// PostgresStore implements the Store interface using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL session store.
// It expects the screening_sessions table to exist (created via migrations).
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromURL creates a new PostgreSQL session store from a connection URL.
func NewPostgresStoreFromURL(databaseURL string) (*PostgresStore, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("postgres url is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	store, err := NewPostgresStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// Create inserts a new session.
func (s *PostgresStore) Create(ctx context.Context, sess *domain.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO screening_sessions (id, operation, status, created_at, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		sess.ID,
		sess.Operation,
		string(sess.Status),
		sess.CreatedAt,
		sess.UpdatedAt,
		nullTime(sess.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// Get returns the session or ErrNotFound.
func (s *PostgresStore) Get(ctx context.Context, id string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, operation, status, created_at, updated_at, completed_at
		FROM screening_sessions
		WHERE id = $1
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
func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, from, to domain.SessionStatus, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE screening_sessions
		SET status = $1, updated_at = $2, completed_at = $3
		WHERE id = $4 AND status = $5
	`, string(to), at, nullTime(completedAt(to, at)), id, string(from))
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
func (s *PostgresStore) ListRecent(ctx context.Context, limit int) ([]*domain.Session, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, operation, status, created_at, updated_at, completed_at
		FROM screening_sessions
		ORDER BY created_at DESC
		LIMIT $1
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
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
