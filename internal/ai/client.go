// Package ai talks to the OpenAI-compatible chat completions API used to plan,
// build and fix generated PHP applications.
package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/InvictusSEO/vibephp/internal/config"
	"github.com/InvictusSEO/vibephp/internal/logging"
	"github.com/InvictusSEO/vibephp/internal/metrics"
)

// Client implements the chat completions API client
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	maxTokens  int
	httpClient *http.Client
	limiter    *rate.Limiter
}

// chat API request/response structures
type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float32         `json:"temperature"`
	Stream         bool            `json:"stream"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage chatUsage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *chatUsage `json:"usage,omitempty"`
}

// NewClient creates a chat completions client from cfg.
func NewClient(cfg config.AIConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.DefaultAITimeout
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	key := normalizeAPIKey(cfg.APIKey)
	logging.Named("ai").Debug("model client configured",
		zap.String("base_url", cfg.BaseURL),
		zap.String("model", cfg.Model),
		zap.String("api_key", maskAPIKey(key)))
	return &Client{
		apiKey:     key,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		maxTokens:  cfg.MaxTokens,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, burst),
	}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// complete sends a non-streamed request and returns the first choice's content.
func (c *Client) complete(ctx context.Context, op string, req *chatRequest) (string, error) {
	start := time.Now()
	req.Stream = false

	resp, err := c.do(ctx, op, req)
	if err != nil {
		c.record(op, err, start, chatUsage{})
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		err = &TransportError{Kind: KindNetwork, Err: fmt.Errorf("failed to read response: %w", err)}
		c.record(op, err, start, chatUsage{})
		return "", err
	}

	var out chatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		perr := &ParseError{Reason: "invalid API envelope: " + err.Error(), Preview: truncate(string(body), 200)}
		c.record(op, perr, start, chatUsage{})
		return "", perr
	}
	if out.Error != nil {
		terr := &TransportError{Kind: KindOther, Status: resp.StatusCode, Detail: out.Error.Message}
		c.record(op, terr, start, chatUsage{})
		return "", terr
	}
	if len(out.Choices) == 0 {
		perr := &ParseError{Reason: "response contained no choices", Preview: truncate(string(body), 200)}
		c.record(op, perr, start, out.Usage)
		return "", perr
	}

	c.record(op, nil, start, out.Usage)
	return out.Choices[0].Message.Content, nil
}

// stream sends a streamed request. onText receives the cumulative text after every delta.
func (c *Client) stream(ctx context.Context, op string, req *chatRequest, onText func(string)) (string, error) {
	start := time.Now()
	req.Stream = true

	resp, err := c.do(ctx, op, req)
	if err != nil {
		c.record(op, err, start, chatUsage{})
		return "", err
	}
	defer resp.Body.Close()

	var (
		text  strings.Builder
		usage chatUsage
	)
	reader := bufio.NewReader(resp.Body)
	for {
		line, readErr := reader.ReadString('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			if ctx.Err() != nil {
				readErr = ctx.Err()
			}
			err := &TransportError{Kind: KindNetwork, Err: fmt.Errorf("failed to read streaming response: %w", readErr)}
			c.record(op, err, start, usage)
			return text.String(), err
		}

		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "data:") {
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				break
			}
			var chunk chatChunk
			if err := json.Unmarshal([]byte(data), &chunk); err == nil {
				if chunk.Usage != nil {
					usage = *chunk.Usage
				}
				if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
					text.WriteString(chunk.Choices[0].Delta.Content)
					if onText != nil {
						onText(text.String())
					}
				}
			}
		}

		if errors.Is(readErr, io.EOF) {
			break
		}
	}

	c.record(op, nil, start, usage)
	return text.String(), nil
}

// do waits for the limiter and posts req. Non-2xx responses become TransportErrors.
func (c *Client) do(ctx context.Context, op string, req *chatRequest) (*http.Response, error) {
	if c.apiKey == "" {
		return nil, &TransportError{Kind: KindAuth, Err: ErrMissingAPIKey}
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &TransportError{Kind: KindNetwork, Err: fmt.Errorf("rate limiter: %w", err)}
	}

	req.Model = c.model
	if req.MaxTokens == 0 {
		req.MaxTokens = c.maxTokens
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	m := metrics.Get()
	m.AIRequestsInFlight.WithLabelValues(op).Inc()
	defer m.AIRequestsInFlight.WithLabelValues(op).Dec()

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Kind: KindNetwork, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, statusError(resp.StatusCode, string(body))
	}
	return resp, nil
}

func (c *Client) record(op string, err error, start time.Time, usage chatUsage) {
	outcome := "success"
	if err != nil {
		outcome = "error"
		var terr *TransportError
		if errors.As(err, &terr) {
			outcome = string(terr.Kind)
		}
		var perr *ParseError
		if errors.As(err, &perr) {
			outcome = "parse_error"
		}
		logging.Named("ai").Warn("model request failed",
			zap.String("operation", op),
			zap.String("model", c.model),
			zap.String("outcome", outcome),
			zap.Error(err))
	}
	metrics.Get().RecordAIRequest(op, outcome, time.Since(start), usage.PromptTokens, usage.CompletionTokens)
}
