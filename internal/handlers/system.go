package handlers

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
)

var startedAt = time.Now()

// Health handles GET /health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "healthy",
		"version":    h.Version,
		"uptime":     time.Since(startedAt).Round(time.Second).String(),
		"workspaces": len(h.Manager.List()),
		"goroutines": runtime.NumGoroutine(),
		"auth":       h.Tokens != nil,
	})
}
