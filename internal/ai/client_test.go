package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/InvictusSEO/vibephp/internal/agents/diagnosis"
	"github.com/InvictusSEO/vibephp/internal/config"
	"github.com/InvictusSEO/vibephp/internal/workspace"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.AIConfig{
		APIKey:    `"Bearer test-key"`,
		BaseURL:   srv.URL + "/v1/",
		Model:     "test-model",
		Timeout:   5 * time.Second,
		MaxTokens: 1024,
	})
}

func writeCompletion(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":      "cmpl-1",
		"choices": []map[string]any{{"index": 0, "message": map[string]string{"role": "assistant", "content": content}}},
		"usage":   map[string]int{"prompt_tokens": 10, "completion_tokens": 20, "total_tokens": 30},
	})
}

func TestPlanStreamsCumulativeText(t *testing.T) {
	var got chatRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{"## Plan", "\n1. index.php", "\n2. style.css"} {
			chunk, _ := json.Marshal(map[string]any{"choices": []map[string]any{{"delta": map[string]string{"content": part}}}})
			fmt.Fprintf(w, "data: %s\n\n", chunk)
		}
		fmt.Fprint(w, ": keep-alive\n\ndata: [DONE]\n\n")
	})
	gen := NewGenerator(client, []string{"db_config.php"}, 4)

	var chunks []string
	plan, err := gen.Plan(context.Background(), "todo app", []Turn{{Role: "user", Content: "hi"}}, func(s string) {
		chunks = append(chunks, s)
	})

	require.NoError(t, err)
	assert.Equal(t, "## Plan\n1. index.php\n2. style.css", plan)
	assert.Equal(t, []string{"## Plan", "## Plan\n1. index.php", plan}, chunks)

	assert.True(t, got.Stream)
	assert.Equal(t, "test-model", got.Model)
	assert.InDelta(t, 0.6, got.Temperature, 0.001)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "todo app", got.Messages[2].Content)
}

func TestPlanStreamWithoutTrailingNewline(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `data: {"choices":[{"delta":{"content":"done"}}]}`)
	})

	plan, err := NewGenerator(client, nil, 4).Plan(context.Background(), "x", nil, nil)

	require.NoError(t, err)
	assert.Equal(t, "done", plan)
}

func TestBuildRequestsJSONObject(t *testing.T) {
	var got chatRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeCompletion(w, "```json\n{\"explanation\":\"ok\",\"files\":[{\"path\":\"index.php\",\"content\":\"<?php echo 2;\"},]}\n```")
	})
	gen := NewGenerator(client, []string{"db_config.php", "vibe.php"}, 4)

	resp, err := gen.Build(context.Background(), "the plan", []workspace.File{workspace.NewFile("index.php", "<?php echo 1;")})

	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Explanation)
	assert.Equal(t, "<?php echo 2;", resp.Files[0].Content)

	assert.False(t, got.Stream)
	require.NotNil(t, got.ResponseFormat)
	assert.Equal(t, "json_object", got.ResponseFormat.Type)
	assert.InDelta(t, 0.1, got.Temperature, 0.001)
	assert.Equal(t, 1024, got.MaxTokens)
	assert.Contains(t, got.Messages[0].Content, "'db_config.php' and 'vibe.php'")
	assert.Contains(t, got.Messages[1].Content, "File: index.php\n<?php echo 1;\n---")
}

func TestFixSendsNumberedFile(t *testing.T) {
	var got chatRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeCompletion(w, `{"analysis":"a","rootCause":"r","fix":{"file":"index.php","patches":[{"lineNumber":2,"oldCode":"echo $x","newCode":"echo $x;","explanation":"semicolon"}]},"confidence":90}`)
	})

	fix, err := NewFixer(client).Fix(context.Background(),
		diagnosis.Details{Type: diagnosis.KindSyntax, File: "index.php", Line: 2, Message: "unexpected end of file"},
		workspace.NewFile("index.php", "<?php\necho $x"))

	require.NoError(t, err)
	assert.Equal(t, 90, fix.Confidence)
	assert.Equal(t, "echo $x;", fix.Patches[0].NewCode)
	assert.Contains(t, got.Messages[1].Content, "2| echo $x")
	assert.Contains(t, got.Messages[1].Content, "Line: 2")
}

func TestTransportErrorsMapStatus(t *testing.T) {
	tests := []struct {
		status int
		kind   ErrorKind
		msg    string
	}{
		{http.StatusUnauthorized, KindAuth, "Invalid API Key"},
		{http.StatusForbidden, KindAuth, "Invalid API Key"},
		{http.StatusNotFound, KindModelUnavailable, "Model Not Found"},
		{http.StatusTooManyRequests, KindRateLimited, "Rate limit exceeded. Wait a moment and try again."},
		{http.StatusBadGateway, KindServer, "API temporarily unavailable. Try again in a moment."},
		{http.StatusTeapot, KindOther, "status 418"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"error":"nope"}`, tt.status)
			})

			_, err := NewGenerator(client, nil, 4).Build(context.Background(), "p", nil)

			var terr *TransportError
			require.ErrorAs(t, err, &terr)
			assert.Equal(t, tt.kind, terr.Kind)
			assert.Equal(t, tt.status, terr.Status)
			assert.Contains(t, terr.Message(), tt.msg)
		})
	}
}

func TestMissingAPIKeyFailsBeforeRequest(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	defer srv.Close()
	client := NewClient(config.AIConfig{BaseURL: srv.URL, Model: "m"})

	_, err := NewGenerator(client, nil, 4).Plan(context.Background(), "x", nil, nil)

	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, KindAuth, terr.Kind)
	assert.ErrorIs(t, err, ErrMissingAPIKey)
	assert.Contains(t, terr.Message(), "NEBIUS_API_KEY")
	assert.False(t, called)
}

func TestNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()
	client := NewClient(config.AIConfig{APIKey: "k", BaseURL: url, Model: "m", Timeout: time.Second})

	_, err := NewFixer(client).Fix(context.Background(), diagnosis.Details{}, workspace.NewFile("a.php", ""))

	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, KindNetwork, terr.Kind)
}

func TestEmptyPlanIsParseError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	_, err := NewGenerator(client, nil, 4).Plan(context.Background(), "x", nil, nil)

	var perr *ParseError
	assert.ErrorAs(t, err, &perr)
}
