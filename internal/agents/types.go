// Package agents runs the VibePHP build-fix loop: plan, build, verify, classify,
// fix and re-verify, one cycle at a time per workspace.
package agents

import (
	"context"
	"errors"
	"time"

	"github.com/InvictusSEO/vibephp/internal/agents/core"
	"github.com/InvictusSEO/vibephp/internal/agents/diagnosis"
	"github.com/InvictusSEO/vibephp/internal/agents/patch"
	"github.com/InvictusSEO/vibephp/internal/ai"
	"github.com/InvictusSEO/vibephp/internal/execution"
	"github.com/InvictusSEO/vibephp/internal/workspace"
)

// Errors returned by Orchestrator operations.
var (
	ErrBusy              = errors.New("a cycle is already in progress")
	ErrInvalidTransition = core.ErrInvalidTransition
	ErrNoPendingFix      = errors.New("no fix is pending")
	ErrEmptyPrompt       = errors.New("prompt is empty")
	ErrCancelled         = errors.New("cycle was cancelled")
	ErrFileNotFound      = errors.New("implicated file is not in the workspace")
	ErrAttemptsExhausted = errors.New("maximum fix attempts reached")
	ErrWorkspaceNotFound = errors.New("workspace not found")
)

// MessageRole identifies the author of a chat message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// Message is one entry of the append-only chat log.
type Message struct {
	ID        string      `json:"id"`
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
	IsLoading bool        `json:"isLoading,omitempty"`
}

// Status is the externally observable agent state. It is replaced wholesale on
// every transition; plan streaming only updates StreamContent.
type Status struct {
	State         core.AgentState    `json:"state"`
	Message       string             `json:"message"`
	StreamContent string             `json:"streamContent"`
	Error         string             `json:"error,omitempty"`
	ErrorDetails  *diagnosis.Details `json:"errorDetails,omitempty"`
	FixAttempt    int                `json:"fixAttempt"`
	// Preview signals that the last verification passed and the app can be shown live.
	Preview bool `json:"preview,omitempty"`
}

func (s Status) clone() Status {
	if s.ErrorDetails != nil {
		d := *s.ErrorDetails
		s.ErrorDetails = &d
	}
	return s
}

// Generator produces plans and file sets.
type Generator interface {
	Plan(ctx context.Context, prompt string, history []ai.Turn, onChunk func(string)) (string, error)
	Build(ctx context.Context, plan string, files []workspace.File) (ai.BuildResponse, error)
}

// Fixer proposes line patches for a classified failure.
type Fixer interface {
	Fix(ctx context.Context, details diagnosis.Details, file workspace.File) (patch.Fix, error)
}

// Verifier dry-runs a file set on the executor.
type Verifier interface {
	DryRun(ctx context.Context, files []workspace.File, sessionID string) (execution.Result, error)
}

// Previewer publishes verified files for live preview.
type Previewer interface {
	Schedule(files []workspace.File)
}
