package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/support-chat/internal/auth"
	"github.com/suPer8Hu/support-chat/internal/chat"
	"github.com/suPer8Hu/support-chat/internal/common"
	"github.com/suPer8Hu/support-chat/internal/logging"
)

// JobPublisher hands a queued reply job to the worker.
type JobPublisher interface {
	PublishJob(ctx context.Context, jobID string) error
}

type Deps struct {
	Chat  *chat.Service
	Admin *auth.Admin

	// Optional. A nil Jobs disables /api/chat/async, a nil Live disables the live feed.
	Jobs JobPublisher
	Live chat.Broker

	// FallbackReply is shown to the visitor when the completion API fails. It is never stored.
	FallbackReply string
}

type Handler struct {
	chat          *chat.Service
	admin         *auth.Admin
	jobs          JobPublisher
	live          chat.Broker
	fallbackReply string
}

func NewHandler(d Deps) *Handler {
	return &Handler{
		chat:          d.Chat,
		admin:         d.Admin,
		jobs:          d.Jobs,
		live:          d.Live,
		fallbackReply: d.FallbackReply,
	}
}

// failErr maps a chat error kind to a status and the error envelope.
func failErr(c *gin.Context, err error, extra ...gin.H) {
	switch {
	case errors.Is(err, chat.ErrValidation):
		common.Fail(c, http.StatusBadRequest, 40001, err.Error(), extra...)
	case errors.Is(err, chat.ErrSessionNotFound):
		common.Fail(c, http.StatusNotFound, 40401, "session not found", extra...)
	case errors.Is(err, chat.ErrJobNotFound):
		common.Fail(c, http.StatusNotFound, 40402, "job not found", extra...)
	case errors.Is(err, chat.ErrNotFound):
		common.Fail(c, http.StatusNotFound, 40400, err.Error(), extra...)
	case errors.Is(err, chat.ErrAsyncDisabled):
		common.Fail(c, http.StatusServiceUnavailable, 50302, err.Error(), extra...)
	case errors.Is(err, chat.ErrStorage):
		logging.FromContext(c.Request.Context()).Error("storage failure", "path", c.FullPath(), "err", err)
		common.Fail(c, http.StatusServiceUnavailable, 50301, "storage unavailable", extra...)
	case errors.Is(err, chat.ErrUpstream):
		common.Fail(c, http.StatusBadGateway, 50201, "completion service unavailable", extra...)
	default:
		logging.FromContext(c.Request.Context()).Error("unexpected error", "path", c.FullPath(), "err", err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error", extra...)
	}
}
