package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/suPer8Hu/support-chat/internal/chat"
	"github.com/suPer8Hu/support-chat/internal/common"
	"github.com/suPer8Hu/support-chat/internal/logging"
)

const (
	liveWriteWait  = 10 * time.Second
	livePingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the widget is embedded on third-party sites
	CheckOrigin: func(r *http.Request) bool { return true },
}

type liveEvent struct {
	Type    string        `json:"type"`
	Message *chat.Message `json:"message,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// SessionLive streams every message appended to a session after the socket opens.
// Clients load history through GET /api/session/:id first.
func (h *Handler) SessionLive(c *gin.Context) {
	if h.live == nil {
		common.Fail(c, http.StatusServiceUnavailable, 50304, "live feed disabled")
		return
	}
	sessionID := c.Param("id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	log := logging.FromContext(ctx).With("session_id", sessionID)

	msgs, unsubscribe, err := h.live.Subscribe(ctx, sessionID)
	if err != nil {
		log.Error("live subscribe failed", "err", err)
		_ = conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
		_ = conn.WriteJSON(liveEvent{Type: "error", Error: "subscribe failed"})
		return
	}
	defer unsubscribe()

	// The client never sends data; reading detects the close.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(livePingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-msgs:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := conn.WriteJSON(liveEvent{Type: "message", Message: &m}); err != nil {
				log.Warn("live write failed", "err", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(liveWriteWait)); err != nil {
				return
			}
		}
	}
}
