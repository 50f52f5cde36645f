package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/denticheck-screening-server/internal/domain"
	"github.com/denticheck-screening-server/internal/middleware"
	"github.com/denticheck-screening-server/internal/session"
)

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
	wsPingEvery = (wsPongWait * 9) / 10
)

var statusUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

func isSessionNotFound(err error) bool {
	return errors.Is(err, session.ErrNotFound)
}

// handleSessionEvents streams {sessionId,status,at} frames until the session reaches a
// terminal status, then closes the socket normally.
func (s *Server) handleSessionEvents(c *gin.Context) {
	if s.opts.Sessions == nil || s.opts.Events == nil {
		c.JSON(http.StatusNotFound, domain.NewAPIError(domain.ErrCodeSessionNotExists,
			"session tracking is disabled", "", middleware.RequestID(c)))
		return
	}
	sessionID := c.Param("id")

	// Subscribe before reading the current status so no transition falls in between.
	sub := s.opts.Events.Subscribe(sessionID)
	defer sub.Close()

	current, err := s.opts.Sessions.Get(c.Request.Context(), sessionID)
	if err != nil {
		s.respondError(c, err)
		return
	}

	conn, err := statusUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.WithError(err).WithField("session_id", sessionID).Warn("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	log := s.logger.WithFields(logrus.Fields{
		"session_id":     sessionID,
		"correlation_id": middleware.RequestID(c),
	})

	// The reader only services control frames; it ends when the client goes away.
	clientGone := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(event domain.StatusEvent) bool {
		if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
			return false
		}
		return conn.WriteJSON(event) == nil
	}

	last := current.Status
	if !write(domain.StatusEvent{SessionID: sessionID, Status: current.Status, At: current.UpdatedAt}) {
		return
	}

	ticker := time.NewTicker(wsPingEvery)
	defer ticker.Stop()

stream:
	for !last.IsTerminal() {
		select {
		case event, ok := <-sub.C:
			if !ok {
				break stream
			}
			// The snapshot may already include the first buffered event.
			if event.Status == last || !last.CanTransitionTo(event.Status) {
				continue
			}
			if !write(event) {
				return
			}
			last = event.Status
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-clientGone:
			log.Debug("Status stream client disconnected")
			return
		}
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session finished"),
		time.Now().Add(wsWriteWait))
	log.WithField("status", last).Debug("Status stream closed")
}
