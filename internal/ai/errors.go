package ai

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a failed model API call.
type ErrorKind string

const (
	KindAuth             ErrorKind = "auth"
	KindRateLimited      ErrorKind = "rate_limited"
	KindModelUnavailable ErrorKind = "model_unavailable"
	KindServer           ErrorKind = "server"
	KindNetwork          ErrorKind = "network"
	KindOther            ErrorKind = "other"
)

// ErrMissingAPIKey is wrapped by the auth error returned before any request is sent.
var ErrMissingAPIKey = errors.New("API key is not configured")

// TransportError is a model API failure translated into an actionable message.
type TransportError struct {
	Kind   ErrorKind
	Status int
	Detail string
	Err    error
}

func (e *TransportError) Error() string {
	msg := e.Message()
	if e.Detail != "" {
		return fmt.Sprintf("%s (%s)", msg, e.Detail)
	}
	return msg
}

func (e *TransportError) Unwrap() error { return e.Err }

// Message is the user-facing text for the error kind.
func (e *TransportError) Message() string {
	switch e.Kind {
	case KindAuth:
		if errors.Is(e.Err, ErrMissingAPIKey) {
			return "No API key configured. Set NEBIUS_API_KEY and try again."
		}
		return "Invalid API Key. Check the configured key and try again."
	case KindRateLimited:
		return "Rate limit exceeded. Wait a moment and try again."
	case KindModelUnavailable:
		return "Model Not Found. Check the configured model name."
	case KindServer:
		return "API temporarily unavailable. Try again in a moment."
	case KindNetwork:
		return "Could not reach the model API. Check your network connection."
	default:
		if e.Status != 0 {
			return fmt.Sprintf("Model API request failed with status %d.", e.Status)
		}
		return "Model API request failed."
	}
}

// statusError maps an HTTP status to a TransportError.
func statusError(status int, body string) *TransportError {
	kind := KindOther
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = KindAuth
	case status == http.StatusTooManyRequests:
		kind = KindRateLimited
	case status == http.StatusNotFound:
		kind = KindModelUnavailable
	case status >= 500:
		kind = KindServer
	}
	return &TransportError{Kind: kind, Status: status, Detail: truncate(body, 200)}
}

// ParseError reports a model response that could not be decoded, with a preview of the raw text.
type ParseError struct {
	Reason  string
	Preview string
}

func (e *ParseError) Error() string {
	if e.Preview == "" {
		return fmt.Sprintf("failed to parse model response: %s", e.Reason)
	}
	return fmt.Sprintf("failed to parse model response: %s. Response preview: %s", e.Reason, e.Preview)
}

// truncate shortens s to n runes, marking the cut.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
