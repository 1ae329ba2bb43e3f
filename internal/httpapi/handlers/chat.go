package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/support-chat/internal/chat"
	"github.com/suPer8Hu/support-chat/internal/common"
	"github.com/suPer8Hu/support-chat/internal/httpapi/middleware"
	"github.com/suPer8Hu/support-chat/internal/logging"
)

type chatReq struct {
	Message    string `json:"message"`
	SessionID  string `json:"sessionId"`
	SenderType string `json:"senderType"`
}

// Chat records a visitor or admin message. Visitors get the bot reply back; admin
// messages are stored without a model call.
func (h *Handler) Chat(c *gin.Context) {
	var req chatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	role, err := chat.ParseSender(req.SenderType)
	if err != nil {
		failErr(c, err)
		return
	}
	if role == chat.RoleAdmin && !middleware.IsAdmin(c, h.admin) {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	res, err := h.chat.Chat(c.Request.Context(), chat.Inbound{
		SessionID: req.SessionID,
		Text:      req.Message,
		Role:      role,
	})
	if err != nil {
		if errors.Is(err, chat.ErrUpstream) && res != nil && res.Session != nil {
			failErr(c, err, gin.H{
				"sessionId": res.Session.SessionID,
				"fallback":  h.fallbackReply,
			})
			return
		}
		failErr(c, err)
		return
	}

	if role == chat.RoleAdmin {
		c.JSON(http.StatusOK, gin.H{
			"message":      "stored",
			"sessionId":    res.Session.SessionID,
			"adminMessage": res.Inbound,
		})
		return
	}
	c.JSON(http.StatusOK, res.Reply)
}

type asyncReq struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

// ChatAsync records the visitor message now and lets the worker produce the reply.
func (h *Handler) ChatAsync(c *gin.Context) {
	if h.jobs == nil {
		failErr(c, chat.ErrAsyncDisabled)
		return
	}

	var req asyncReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	idempoKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if len(idempoKey) > 128 {
		common.Fail(c, http.StatusBadRequest, 10003, "idempotency key too long")
		return
	}

	ctx := c.Request.Context()
	res, err := h.chat.SubmitAsync(ctx, chat.Inbound{
		SessionID: req.SessionID,
		Text:      req.Message,
		Role:      chat.RoleUser,
	}, idempoKey)
	if err != nil {
		failErr(c, err)
		return
	}

	// Enqueue only when a new job was created
	if res.Created {
		if err := h.jobs.PublishJob(ctx, res.Job.ID); err != nil {
			logging.FromContext(ctx).Error("publish job failed",
				"job_id", res.Job.ID, "session_id", res.Job.SessionID, "err", err)
			common.Fail(c, http.StatusServiceUnavailable, 50303, "enqueue failed",
				gin.H{"jobId": res.Job.ID, "sessionId": res.Job.SessionID})
			return
		}
	}

	c.JSON(http.StatusAccepted, gin.H{
		"jobId":       res.Job.ID,
		"sessionId":   res.Job.SessionID,
		"userMessage": res.Inbound,
	})
}

func (h *Handler) GetChatJob(c *gin.Context) {
	jobID := strings.TrimSpace(c.Param("job_id"))
	if jobID == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "job_id required")
		return
	}

	j, err := h.chat.GetJob(c.Request.Context(), jobID)
	if err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": j})
}
