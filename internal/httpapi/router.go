package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/support-chat/internal/common"
	"github.com/suPer8Hu/support-chat/internal/httpapi/handlers"
	"github.com/suPer8Hu/support-chat/internal/httpapi/middleware"
)

func NewRouter(d handlers.Deps) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())

	h := handlers.NewHandler(d)

	api := r.Group("/api")
	api.GET("/health", h.Health)

	// visitor widget
	api.POST("/session", h.CreateSession)
	api.GET("/session/:id", h.GetSession)
	api.GET("/session/:id/live", h.SessionLive)
	api.POST("/chat", h.Chat) // senderType=admin is gated inside the handler
	api.POST("/chat/async", h.ChatAsync)
	api.GET("/chat/jobs/:job_id", h.GetChatJob)

	// admin console
	api.POST("/admin/login", h.AdminLogin)
	adminGroup := api.Group("/")
	adminGroup.Use(middleware.AdminRequired(d.Admin))
	adminGroup.GET("/sessions", h.ListSessions)
	adminGroup.POST("/admin/reply", h.AdminReply)
	return r
}
