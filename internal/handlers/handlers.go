// VibePHP API Handlers
// REST endpoints that drive workspaces through the build-fix loop

package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/InvictusSEO/vibephp/internal/agents"
	"github.com/InvictusSEO/vibephp/internal/auth"
	"github.com/InvictusSEO/vibephp/internal/logging"
	"github.com/InvictusSEO/vibephp/internal/middleware"
	"github.com/InvictusSEO/vibephp/internal/versions"
)

// Handler contains all the dependencies for API handlers
type Handler struct {
	Manager *agents.Manager
	WSHub   *agents.WSHub
	// Tokens gates the API when set.
	Tokens *auth.TokenService
	// Version is reported by /health.
	Version string

	log *zap.Logger
}

// NewHandler creates a new handler instance
func NewHandler(manager *agents.Manager, hub *agents.WSHub, tokens *auth.TokenService) *Handler {
	return &Handler{
		Manager: manager,
		WSHub:   hub,
		Tokens:  tokens,
		log:     logging.Named("api"),
	}
}

// StandardResponse represents a standard API response
type StandardResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message,omitempty"`
}

func ok(c *gin.Context, status int, data interface{}) {
	c.JSON(status, StandardResponse{Success: true, Data: data})
}

func fail(c *gin.Context, status int, code, msg string) {
	c.JSON(status, StandardResponse{Success: false, Error: msg, Code: code})
}

// failErr maps domain errors to HTTP responses.
func (h *Handler) failErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, agents.ErrWorkspaceNotFound):
		fail(c, http.StatusNotFound, "WORKSPACE_NOT_FOUND", "Workspace not found")
	case errors.Is(err, versions.ErrVersionNotFound):
		fail(c, http.StatusNotFound, "VERSION_NOT_FOUND", "Version not found")
	case errors.Is(err, agents.ErrBusy):
		fail(c, http.StatusConflict, "AGENT_BUSY", err.Error())
	case errors.Is(err, agents.ErrInvalidTransition):
		fail(c, http.StatusConflict, "INVALID_STATE", err.Error())
	case errors.Is(err, agents.ErrEmptyPrompt):
		fail(c, http.StatusBadRequest, "EMPTY_PROMPT", err.Error())
	case errors.Is(err, agents.ErrFileNotFound), errors.Is(err, agents.ErrAttemptsExhausted):
		fail(c, http.StatusUnprocessableEntity, "FIX_UNAVAILABLE", err.Error())
	default:
		h.log.Error("request failed",
			zap.String("request_id", middleware.GetRequestID(c)),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
	}
}

// workspace resolves :id. Authenticated callers only see their own workspaces.
func (h *Handler) workspace(c *gin.Context) (*agents.Workspace, bool) {
	ws, err := h.Manager.Get(c.Param("id"))
	if err != nil {
		h.failErr(c, err)
		return nil, false
	}
	if key, authed := middleware.ClientKey(c); authed && ws.ClientKey != key {
		h.failErr(c, agents.ErrWorkspaceNotFound)
		return nil, false
	}
	return ws, true
}
