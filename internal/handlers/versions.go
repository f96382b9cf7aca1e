// VibePHP Version History Handler
// Snapshot listing, diff viewing and restore

package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/InvictusSEO/vibephp/internal/agents/diagnosis"
	"github.com/InvictusSEO/vibephp/internal/workspace"
)

// VersionSummary is a lightweight version representation for lists
type VersionSummary struct {
	ID          string             `json:"id"`
	Timestamp   time.Time          `json:"timestamp"`
	Description string             `json:"description"`
	FileCount   int                `json:"file_count"`
	Error       *diagnosis.Details `json:"error,omitempty"`
}

// RestoreResponse is returned after a restore.
type RestoreResponse struct {
	VersionID  string           `json:"version_id"`
	ActiveFile string           `json:"active_file,omitempty"`
	Files      []workspace.File `json:"files"`
}

// ListVersions handles GET /sessions/:id/versions. Newest first; full
// snapshots are only returned with ?full=true.
func (h *Handler) ListVersions(c *gin.Context) {
	ws, found := h.workspace(c)
	if !found {
		return
	}
	entries := ws.Versions()
	if c.Query("full") == "true" {
		for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
			entries[i], entries[j] = entries[j], entries[i]
		}
		ok(c, http.StatusOK, entries)
		return
	}

	out := make([]VersionSummary, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		out = append(out, VersionSummary{
			ID:          e.ID,
			Timestamp:   e.Timestamp,
			Description: e.Description,
			FileCount:   len(e.Files),
			Error:       e.Error,
		})
	}
	ok(c, http.StatusOK, out)
}

// DiffVersions handles GET /sessions/:id/versions/diff?from=&to=
func (h *Handler) DiffVersions(c *gin.Context) {
	ws, found := h.workspace(c)
	if !found {
		return
	}
	from, to := c.Query("from"), c.Query("to")
	if from == "" || to == "" {
		fail(c, http.StatusBadRequest, "INVALID_REQUEST", "from and to are required")
		return
	}
	diff, err := ws.Diff(from, to)
	if err != nil {
		h.failErr(c, err)
		return
	}
	ok(c, http.StatusOK, diff)
}

// RestoreVersion handles POST /sessions/:id/versions/:vid/restore
func (h *Handler) RestoreVersion(c *gin.Context) {
	ws, found := h.workspace(c)
	if !found {
		return
	}
	vid := c.Param("vid")
	active, err := ws.Restore(vid)
	if err != nil {
		h.failErr(c, err)
		return
	}
	ok(c, http.StatusOK, RestoreResponse{
		VersionID:  vid,
		ActiveFile: active.Path,
		Files:      ws.Files(),
	})
}
