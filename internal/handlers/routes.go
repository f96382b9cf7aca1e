package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/InvictusSEO/vibephp/internal/metrics"
)

// RegisterRoutes mounts the API on router. Middleware is installed by the caller.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)
	router.GET("/metrics", metrics.PrometheusHandler())

	api := router.Group("/api/v1")
	api.Use(h.requireToken())

	sessions := api.Group("/sessions")
	sessions.POST("", h.CreateSession)
	sessions.GET("", h.ListSessions)
	sessions.GET("/:id", h.GetSession)
	sessions.DELETE("/:id", h.DeleteSession)
	sessions.POST("/:id/prompt", h.SubmitPrompt)
	sessions.POST("/:id/confirm", h.Confirm)
	sessions.POST("/:id/cancel", h.Cancel)
	sessions.GET("/:id/messages", h.GetMessages)
	sessions.GET("/:id/files", h.GetFiles)
	sessions.GET("/:id/export", h.ExportZip)
	sessions.GET("/:id/history", h.GetHistory)
	sessions.GET("/:id/versions", h.ListVersions)
	sessions.GET("/:id/versions/diff", h.DiffVersions)
	sessions.POST("/:id/versions/:vid/restore", h.RestoreVersion)
	sessions.GET("/:id/ws", h.Stream)
}
