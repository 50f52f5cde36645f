// Package session keeps the lifecycle of screening sessions. Status only moves forward:
// uploaded, then analyzing or quality_failed, then done or error.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/denticheck-screening-server/internal/domain"
)

var (
	// ErrNotFound is returned for unknown session ids.
	ErrNotFound = errors.New("session not found")
	// ErrInvalidTransition is returned when a status change would move backwards or leave a
	// terminal state.
	ErrInvalidTransition = errors.New("invalid session status transition")
)

const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Store defines the persistence operations of the session ledger.
type Store interface {
	// Create inserts a new session.
	Create(ctx context.Context, s *domain.Session) error

	// Get returns the session or ErrNotFound.
	Get(ctx context.Context, id string) (*domain.Session, error)

	// UpdateStatus moves a session from one status to another. It fails with
	// ErrInvalidTransition when the stored status is no longer from.
	UpdateStatus(ctx context.Context, id string, from, to domain.SessionStatus, at time.Time) error

	// ListRecent returns the most recently created sessions.
	ListRecent(ctx context.Context, limit int) ([]*domain.Session, error)

	// Close releases resources.
	Close() error
}

// NewStore opens the store selected by session.store.
func NewStore(cfg domain.SessionConfig) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Store)) {
	case "", StoreSQLite:
		return NewSQLiteStore(cfg.SQLitePath)
	case StorePostgres:
		return NewPostgresStoreFromURL(cfg.PostgresURL)
	default:
		return nil, fmt.Errorf("unsupported session store: %s", cfg.Store)
	}
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func completedAt(status domain.SessionStatus, at time.Time) *time.Time {
	if !status.IsTerminal() {
		return nil
	}
	return &at
}
