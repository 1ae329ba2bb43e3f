package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/support-chat/internal/common"
)

type loginReq struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) AdminLogin(c *gin.Context) {
	if !h.admin.Enabled() {
		common.Fail(c, http.StatusNotFound, 40403, "admin login is not configured")
		return
	}

	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	token, exp, err := h.admin.Login(req.Username, req.Password)
	if err != nil {
		common.Fail(c, http.StatusUnauthorized, 40102, "invalid username or password")
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "expiresAt": exp.UTC()})
}

type adminReplyReq struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

// AdminReply injects a human reply into an existing session.
func (h *Handler) AdminReply(c *gin.Context) {
	var req adminReplyReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	msg, err := h.chat.AdminReply(c.Request.Context(), req.SessionID, req.Message)
	if err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "adminMessage": msg})
}
