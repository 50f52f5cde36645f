// Package events fans session status changes out to per-session subscribers.
package events

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/denticheck-screening-server/internal/domain"
)

const defaultBuffer = 8

// Subscription receives the status events of one session. C is closed after the terminal
// event is delivered, when the subscriber calls Close, or when the hub shuts down.
type Subscription struct {
	C <-chan domain.StatusEvent

	ch        chan domain.StatusEvent
	hub       *Hub
	sessionID string
	once      sync.Once
}

// Close unsubscribes. Safe to call more than once.
func (s *Subscription) Close() {
	s.hub.remove(s)
}

// Hub is a registry of subscriber channels keyed by session id. All state is guarded by mu;
// a session's entry is deleted as soon as it reaches a terminal status.
type Hub struct {
	mu          sync.Mutex
	subscribers map[string]map[*Subscription]struct{}
	buffer      int
	closed      bool
	logger      *logrus.Logger
}

// NewHub creates a hub whose subscriber channels hold buffer events.
func NewHub(buffer int, logger *logrus.Logger) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{
		subscribers: make(map[string]map[*Subscription]struct{}),
		buffer:      buffer,
		logger:      logger,
	}
}

// Subscribe registers interest in a session. On a closed hub the returned channel is
// already closed.
func (h *Hub) Subscribe(sessionID string) *Subscription {
	ch := make(chan domain.StatusEvent, h.buffer)
	sub := &Subscription{C: ch, ch: ch, hub: h, sessionID: sessionID}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		sub.once.Do(func() { close(ch) })
		return sub
	}
	subs, ok := h.subscribers[sessionID]
	if !ok {
		subs = make(map[*Subscription]struct{})
		h.subscribers[sessionID] = subs
	}
	subs[sub] = struct{}{}
	return sub
}

// Publish delivers event without blocking. A subscriber whose buffer is full misses the
// event. Terminal events tear down every subscription of the session.
func (h *Hub) Publish(event domain.StatusEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subscribers[event.SessionID]
	for sub := range subs {
		select {
		case sub.ch <- event:
		default:
			h.logger.WithFields(logrus.Fields{
				"session_id": event.SessionID,
				"status":     event.Status,
			}).Warn("Dropping status event for slow subscriber")
		}
	}

	if event.Status.IsTerminal() {
		for sub := range subs {
			sub.once.Do(func() { close(sub.ch) })
		}
		delete(h.subscribers, event.SessionID)
	}
}

// SubscriberCount returns the number of live subscriptions for a session.
func (h *Hub) SubscriberCount(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers[sessionID])
}

// Sessions returns the number of sessions with live subscriptions.
func (h *Hub) Sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Close ends every subscription and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for id, subs := range h.subscribers {
		for sub := range subs {
			sub.once.Do(func() { close(sub.ch) })
		}
		delete(h.subscribers, id)
	}
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.subscribers[sub.sessionID]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.subscribers, sub.sessionID)
		}
	}
	sub.once.Do(func() { close(sub.ch) })
}
