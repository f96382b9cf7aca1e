// Package execution is the client of the remote PHP executor used to dry-run and
// deploy generated applications.
package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/InvictusSEO/vibephp/internal/agents/diagnosis"
	"github.com/InvictusSEO/vibephp/internal/config"
	"github.com/InvictusSEO/vibephp/internal/logging"
	"github.com/InvictusSEO/vibephp/internal/metrics"
	"github.com/InvictusSEO/vibephp/internal/workspace"
)

// SessionHeader carries the session id alongside the request body.
const SessionHeader = "X-Session-ID"

// maxResponseBytes bounds how much of an executor response is read.
const maxResponseBytes = 4 << 20

// Result is the executor's answer. On failure Error holds the PHP message and the
// optional structured fields are set by executors that classify errors themselves.
type Result struct {
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
	URL        string `json:"url,omitempty"`
	ErrorType  string `json:"errorType,omitempty"`
	File       string `json:"file,omitempty"`
	Line       int    `json:"line,omitempty"`
	Code       string `json:"code,omitempty"`
	StackTrace string `json:"stackTrace,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
	// Status is the HTTP status of the response.
	Status int `json:"-"`
}

// Payload converts a failed result into classifier input.
func (r Result) Payload() diagnosis.Payload {
	return diagnosis.Payload{
		Error:      r.Error,
		ErrorType:  r.ErrorType,
		File:       r.File,
		Line:       r.Line,
		Code:       r.Code,
		StackTrace: r.StackTrace,
		Suggestion: r.Suggestion,
	}
}

type fileEntry struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type runRequest struct {
	Files     []fileEntry `json:"files"`
	SessionID string      `json:"sessionId"`
	DryRun    bool        `json:"dryRun"`
}

// Client posts file sets to the executor endpoint.
type Client struct {
	url        string
	httpClient *http.Client
	reserved   workspace.Reserved
}

// NewClient creates an executor client. Reserved paths are never sent.
func NewClient(cfg config.ExecutorConfig, reserved []string) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.DefaultExecutorTimeout
	}
	return &Client{
		url:        cfg.URL,
		httpClient: &http.Client{Timeout: timeout},
		reserved:   workspace.Reserved(reserved),
	}
}

// DryRun deploys files for verification only.
func (c *Client) DryRun(ctx context.Context, files []workspace.File, sessionID string) (Result, error) {
	return c.run(ctx, files, sessionID, true)
}

// Deploy publishes files for live preview.
func (c *Client) Deploy(ctx context.Context, files []workspace.File, sessionID string) (Result, error) {
	return c.run(ctx, files, sessionID, false)
}

// run returns an error only when the executor could not be reached. Every HTTP
// response, including non-2xx ones, becomes a Result.
func (c *Client) run(ctx context.Context, files []workspace.File, sessionID string, dryRun bool) (Result, error) {
	mode := "deploy"
	if dryRun {
		mode = "dry_run"
	}
	start := time.Now()
	log := logging.Named("executor").With(
		zap.String("mode", mode),
		zap.String("session_id", sessionID))

	req := runRequest{SessionID: sessionID, DryRun: dryRun, Files: []fileEntry{}}
	for _, f := range c.reserved.Filter(files) {
		req.Files = append(req.Files, fileEntry{Path: f.Path, Content: f.Content})
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("failed to marshal executor request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("failed to create executor request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(SessionHeader, sessionID)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		metrics.Get().RecordVerification(mode, "unreachable", time.Since(start))
		log.Warn("executor request failed", zap.Error(err))
		return Result{}, fmt.Errorf("executor request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		metrics.Get().RecordVerification(mode, "unreachable", time.Since(start))
		return Result{}, fmt.Errorf("failed to read executor response: %w", err)
	}

	result := decodeResult(resp.StatusCode, resp.Status, body)

	outcome := "success"
	if !result.Success {
		outcome = "failure"
	}
	metrics.Get().RecordVerification(mode, outcome, time.Since(start))
	log.Debug("executor responded",
		zap.Int("status", resp.StatusCode),
		zap.Bool("success", result.Success),
		zap.Int("files", len(req.Files)),
		zap.Duration("duration", time.Since(start)))

	return result, nil
}

func decodeResult(status int, statusText string, body []byte) Result {
	ok := status >= 200 && status < 300

	var result Result
	if err := json.Unmarshal(body, &result); err != nil {
		text := strings.TrimSpace(string(body))
		if ok {
			result = Result{Error: "Executor returned an unreadable response: " + truncate(text, 200)}
		} else {
			result = Result{Error: fmt.Sprintf("Executor returned HTTP %s", statusText)}
			if text != "" {
				result.Error += ": " + truncate(text, 500)
			}
		}
	}
	if !ok {
		result.Success = false
	}
	if !result.Success && strings.TrimSpace(result.Error) == "" {
		result.Error = fmt.Sprintf("Executor reported a failure without an error message (HTTP %d)", status)
	}
	result.Status = status
	return result
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
