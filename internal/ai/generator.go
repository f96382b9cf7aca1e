package ai

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/InvictusSEO/vibephp/internal/logging"
	"github.com/InvictusSEO/vibephp/internal/workspace"
)

const (
	planTemperature  = 0.6
	buildTemperature = 0.1
)

// Turn is one prior chat message offered to the model as context.
type Turn struct {
	Role    string
	Content string
	Loading bool
}

// BuildResponse is the decoded result of a build request.
type BuildResponse struct {
	Explanation string           `json:"explanation"`
	Files       []workspace.File `json:"files"`
	// Recovered is set when the files were pulled out by field-level recovery.
	Recovered bool `json:"recovered,omitempty"`
}

// Generator produces plans and file sets.
type Generator struct {
	client        *Client
	reserved      workspace.Reserved
	historyWindow int
}

// NewGenerator creates a Generator. Reserved paths are dropped from every build response.
func NewGenerator(client *Client, reserved []string, historyWindow int) *Generator {
	return &Generator{
		client:        client,
		reserved:      workspace.Reserved(reserved),
		historyWindow: historyWindow,
	}
}

// Plan streams an implementation plan for prompt. onChunk receives the cumulative
// text after every delta; its final call carries the complete plan.
func (g *Generator) Plan(ctx context.Context, prompt string, history []Turn, onChunk func(string)) (string, error) {
	messages := []chatMessage{{Role: "system", Content: planSystemPrompt}}
	messages = append(messages, recentTurns(history, g.historyWindow)...)
	messages = append(messages, chatMessage{Role: "user", Content: prompt})

	text, err := g.client.stream(ctx, "plan", &chatRequest{
		Messages:    messages,
		Temperature: planTemperature,
	}, onChunk)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", &ParseError{Reason: "the model returned an empty plan"}
	}
	return text, nil
}

// Build generates the file set for plan given the current files.
func (g *Generator) Build(ctx context.Context, plan string, files []workspace.File) (BuildResponse, error) {
	raw, err := g.client.complete(ctx, "build", &chatRequest{
		Messages: []chatMessage{
			{Role: "system", Content: buildPrompt(g.reserved)},
			{Role: "user", Content: buildUserPrompt(plan, files)},
		},
		Temperature:    buildTemperature,
		ResponseFormat: &responseFormat{Type: "json_object"},
	})
	if err != nil {
		return BuildResponse{}, err
	}
	return g.parseBuild(raw)
}

func (g *Generator) parseBuild(raw string) (BuildResponse, error) {
	parsed := decodeJSON[buildPayload](raw)
	payload := parsed.Value
	recovered := false
	if !parsed.OK {
		var ok bool
		payload, ok = recoverBuild(raw)
		if !ok {
			return BuildResponse{}, parsed.Err()
		}
		recovered = true
		logging.Named("ai").Warn("recovered build response fields after JSON decode failure",
			zap.String("reason", parsed.Reason),
			zap.Int("files", len(payload.Files)))
	}

	out := BuildResponse{Explanation: payload.Explanation, Recovered: recovered}
	for _, f := range payload.Files {
		if workspace.NormalizePath(f.Path) == "" || g.reserved.Contains(f.Path) {
			continue
		}
		out.Files = append(out.Files, workspace.NewFile(workspace.NormalizePath(f.Path), f.Content))
	}
	if len(out.Files) == 0 {
		return BuildResponse{}, &ParseError{Reason: "response contained no files", Preview: truncate(raw, previewLength)}
	}
	return out, nil
}

// recentTurns keeps the last n user and assistant turns that are not loading placeholders.
func recentTurns(history []Turn, n int) []chatMessage {
	var valid []chatMessage
	for _, t := range history {
		if t.Loading || (t.Role != "user" && t.Role != "assistant") {
			continue
		}
		valid = append(valid, chatMessage{Role: t.Role, Content: t.Content})
	}
	if n > 0 && len(valid) > n {
		valid = valid[len(valid)-n:]
	}
	return valid
}
