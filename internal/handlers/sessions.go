package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/InvictusSEO/vibephp/internal/agents"
	"github.com/InvictusSEO/vibephp/internal/agents/core"
	"github.com/InvictusSEO/vibephp/internal/agents/patch"
	"github.com/InvictusSEO/vibephp/internal/middleware"
	"github.com/InvictusSEO/vibephp/internal/preview"
	"github.com/InvictusSEO/vibephp/internal/workspace"
)

// SessionResponse is the snapshot of one workspace.
type SessionResponse struct {
	ID         string           `json:"id"`
	SessionID  string           `json:"session_id"`
	CreatedAt  time.Time        `json:"created_at"`
	Status     agents.Status    `json:"status"`
	ActiveFile string           `json:"active_file,omitempty"`
	FileCount  int              `json:"file_count"`
	Versions   int              `json:"versions"`
	PendingFix *patch.Fix       `json:"pending_fix,omitempty"`
	Preview    *preview.State   `json:"preview,omitempty"`
	Messages   []agents.Message `json:"messages,omitempty"`
}

// CreateSessionRequest is the body of POST /sessions.
type CreateSessionRequest struct {
	// ClientKey keeps the executor session stable across workspaces of the same
	// browser. Ignored for authenticated callers.
	ClientKey string `json:"client_key"`
}

// PromptRequest is the body of POST /sessions/:id/prompt.
type PromptRequest struct {
	Prompt string `json:"prompt" binding:"required"`
}

func snapshot(ws *agents.Workspace, withMessages bool) SessionResponse {
	resp := SessionResponse{
		ID:        ws.WorkspaceID(),
		SessionID: ws.SessionID(),
		CreatedAt: ws.CreatedAt,
		Status:    ws.Status(),
		FileCount: len(ws.Files()),
		Versions:  len(ws.Versions()),
	}
	if f, ok := ws.ActiveFile(); ok {
		resp.ActiveFile = f.Path
	}
	if fix, ok := ws.PendingFix(); ok {
		resp.PendingFix = &fix
	}
	if ws.Preview != nil {
		st := ws.Preview.State()
		resp.Preview = &st
	}
	if withMessages {
		resp.Messages = ws.Messages()
	}
	return resp
}

// CreateSession handles POST /sessions
func (h *Handler) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request format")
			return
		}
	}
	clientKey := req.ClientKey
	if key, authed := middleware.ClientKey(c); authed {
		clientKey = key
	}

	ws, err := h.Manager.Create(c.Request.Context(), clientKey)
	if err != nil {
		h.failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, snapshot(ws, true))
}

// ListSessions handles GET /sessions
func (h *Handler) ListSessions(c *gin.Context) {
	key, authed := middleware.ClientKey(c)
	out := make([]SessionResponse, 0)
	for _, ws := range h.Manager.List() {
		if authed && ws.ClientKey != key {
			continue
		}
		out = append(out, snapshot(ws, false))
	}
	ok(c, http.StatusOK, out)
}

// GetSession handles GET /sessions/:id
func (h *Handler) GetSession(c *gin.Context) {
	ws, found := h.workspace(c)
	if !found {
		return
	}
	ok(c, http.StatusOK, snapshot(ws, true))
}

// DeleteSession handles DELETE /sessions/:id
func (h *Handler) DeleteSession(c *gin.Context) {
	ws, found := h.workspace(c)
	if !found {
		return
	}
	if err := h.Manager.Delete(ws.WorkspaceID()); err != nil {
		h.failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, StandardResponse{Success: true, Message: "Workspace deleted"})
}

// SubmitPrompt handles POST /sessions/:id/prompt. Planning continues in the
// background; progress is streamed over the WebSocket.
func (h *Handler) SubmitPrompt(c *gin.Context) {
	ws, found := h.workspace(c)
	if !found {
		return
	}
	var req PromptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", "prompt is required")
		return
	}

	err := ws.Start("submit", func(ctx context.Context) error { return ws.Submit(ctx, req.Prompt) })
	if err != nil {
		h.failErr(c, err)
		return
	}
	ok(c, http.StatusAccepted, ws.Status())
}

// Confirm handles POST /sessions/:id/confirm and advances whichever step waits
// for the user.
func (h *Handler) Confirm(c *gin.Context) {
	ws, found := h.workspace(c)
	if !found {
		return
	}
	if err := ws.Start("confirm", ws.Confirm); err != nil {
		h.failErr(c, err)
		return
	}
	ok(c, http.StatusAccepted, ws.Status())
}

// Cancel handles POST /sessions/:id/cancel
func (h *Handler) Cancel(c *gin.Context) {
	ws, found := h.workspace(c)
	if !found {
		return
	}
	if !ws.Cancel() {
		c.JSON(http.StatusOK, StandardResponse{Success: true, Data: ws.Status(), Message: "Nothing to cancel"})
		return
	}
	ok(c, http.StatusOK, ws.Status())
}

// GetMessages handles GET /sessions/:id/messages
func (h *Handler) GetMessages(c *gin.Context) {
	ws, found := h.workspace(c)
	if !found {
		return
	}
	ok(c, http.StatusOK, ws.Messages())
}

// GetFiles handles GET /sessions/:id/files
func (h *Handler) GetFiles(c *gin.Context) {
	ws, found := h.workspace(c)
	if !found {
		return
	}
	ok(c, http.StatusOK, ws.Files())
}

// GetHistory handles GET /sessions/:id/history
func (h *Handler) GetHistory(c *gin.Context) {
	ws, found := h.workspace(c)
	if !found {
		return
	}
	history := ws.History()
	if history == nil {
		history = []core.StateTransition{}
	}
	ok(c, http.StatusOK, history)
}

// ExportZip handles GET /sessions/:id/export. Reserved files are left out.
func (h *Handler) ExportZip(c *gin.Context) {
	ws, found := h.workspace(c)
	if !found {
		return
	}
	files := ws.Export()
	for _, f := range files {
		if err := workspace.CheckPath(f.Path); err != nil {
			fail(c, http.StatusUnprocessableEntity, "UNSAFE_PATH", err.Error())
			return
		}
	}

	c.Header("Content-Type", "application/zip")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="vibephp-%s.zip"`, ws.SessionID()))
	c.Status(http.StatusOK)
	if err := workspace.WriteZip(c.Writer, files); err != nil {
		h.log.Error("zip export failed",
			zap.String("workspace_id", ws.WorkspaceID()),
			zap.Error(err))
	}
}

// Stream handles GET /sessions/:id/ws
func (h *Handler) Stream(c *gin.Context) {
	if _, found := h.workspace(c); !found {
		return
	}
	h.WSHub.HandleWebSocket(c)
}

func (h *Handler) requireToken() gin.HandlerFunc {
	return middleware.RequireToken(h.Tokens)
}
