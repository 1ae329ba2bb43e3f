package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/support-chat/internal/chat"
)

type sessionResp struct {
	SessionID      string         `json:"sessionId"`
	CreatedAt      *time.Time     `json:"createdAt"`
	LastActivityAt *time.Time     `json:"lastActivityAt"`
	Messages       []chat.Message `json:"messages"`
}

func (h *Handler) CreateSession(c *gin.Context) {
	sess, err := h.chat.CreateSession(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessionId": sess.SessionID})
}

// GetSession returns the transcript. Unknown ids answer 200 with no messages and null times.
func (h *Handler) GetSession(c *gin.Context) {
	tr, err := h.chat.Transcript(c.Request.Context(), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}

	resp := sessionResp{SessionID: tr.SessionID, Messages: tr.Messages}
	if resp.Messages == nil {
		resp.Messages = []chat.Message{}
	}
	if tr.Session != nil {
		resp.CreatedAt = &tr.Session.CreatedAt
		resp.LastActivityAt = &tr.Session.LastActivityAt
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) ListSessions(c *gin.Context) {
	sessions, err := h.chat.ListSessions(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	if sessions == nil {
		sessions = []chat.Session{}
	}
	c.JSON(http.StatusOK, sessions)
}
