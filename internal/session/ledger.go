package session

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/denticheck-screening-server/internal/domain"
)

// Notifier receives every accepted status change.
type Notifier interface {
	Publish(event domain.StatusEvent)
}

// Ledger implements domain.SessionTracker on top of a Store and announces each change.
type Ledger struct {
	store    Store
	notifier Notifier
	logger   *logrus.Logger
	now      func() time.Time
}

// NewLedger creates a ledger. notifier may be nil.
func NewLedger(store Store, notifier Notifier, logger *logrus.Logger) *Ledger {
	return &Ledger{
		store:    store,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// Begin opens a session in the uploaded state.
func (l *Ledger) Begin(ctx context.Context, sessionID, operation string) error {
	now := l.now().UTC()
	sess := &domain.Session{
		ID:        sessionID,
		Status:    domain.StatusUploaded,
		Operation: operation,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := l.store.Create(ctx, sess); err != nil {
		return fmt.Errorf("failed to open session %s: %w", sessionID, err)
	}

	l.logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"operation":  operation,
	}).Debug("Session opened")
	l.notify(sessionID, domain.StatusUploaded, now)
	return nil
}

// Advance moves the session forward. Backward moves and moves out of a terminal state fail
// with ErrInvalidTransition.
func (l *Ledger) Advance(ctx context.Context, sessionID string, status domain.SessionStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidStatus, status)
	}

	current, err := l.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if !current.Status.CanTransitionTo(status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, status)
	}

	now := l.now().UTC()
	if err := l.store.UpdateStatus(ctx, sessionID, current.Status, status, now); err != nil {
		return err
	}

	l.logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"from":       current.Status,
		"to":         status,
	}).Debug("Session advanced")
	l.notify(sessionID, status, now)
	return nil
}

// Get returns the session or ErrNotFound.
func (l *Ledger) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	return l.store.Get(ctx, sessionID)
}

// Recent lists the latest sessions.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]*domain.Session, error) {
	return l.store.ListRecent(ctx, limit)
}

func (l *Ledger) notify(sessionID string, status domain.SessionStatus, at time.Time) {
	if l.notifier == nil {
		return
	}
	l.notifier.Publish(domain.StatusEvent{SessionID: sessionID, Status: status, At: at})
}
