package execution

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/InvictusSEO/vibephp/internal/config"
	"github.com/InvictusSEO/vibephp/internal/workspace"
)

var reserved = []string{"db_config.php", "vibe.php"}

func newTestExecutor(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.ExecutorConfig{URL: srv.URL, Timeout: 5 * time.Second}, reserved)
}

func TestDryRunPostsFilesWithoutReserved(t *testing.T) {
	var got runRequest
	var header string
	exec := newTestExecutor(t, func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Get(SessionHeader)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "url": "https://preview/x"})
	})

	res, err := exec.DryRun(context.Background(), []workspace.File{
		workspace.NewFile("index.php", "<?php"),
		workspace.NewFile("db_config.php", "secret"),
		workspace.NewFile("vibe.php", "framework"),
	}, "sess_abc")

	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "https://preview/x", res.URL)
	assert.Equal(t, http.StatusOK, res.Status)

	assert.True(t, got.DryRun)
	assert.Equal(t, "sess_abc", got.SessionID)
	assert.Equal(t, "sess_abc", header)
	require.Len(t, got.Files, 1)
	assert.Equal(t, "index.php", got.Files[0].Path)
}

func TestDeployIsNotDryRun(t *testing.T) {
	var got runRequest
	exec := newTestExecutor(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"success":true}`))
	})

	_, err := exec.Deploy(context.Background(), nil, "sess_1")

	require.NoError(t, err)
	assert.False(t, got.DryRun)
	assert.NotNil(t, got.Files)
}

func TestStructuredFailureIsDecoded(t *testing.T) {
	exec := newTestExecutor(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"success":false,"error":"Undefined variable $x","errorType":"runtime","file":"index.php","line":4}`))
	})

	res, err := exec.DryRun(context.Background(), nil, "s")

	require.NoError(t, err)
	assert.False(t, res.Success)
	p := res.Payload()
	assert.Equal(t, "runtime", p.ErrorType)
	assert.Equal(t, "index.php", p.File)
	assert.Equal(t, 4, p.Line)
	assert.Equal(t, "Undefined variable $x", p.Error)
}

func TestNonJSONErrorBecomesFailure(t *testing.T) {
	exec := newTestExecutor(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	})

	res, err := exec.DryRun(context.Background(), nil, "s")

	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, http.StatusBadGateway, res.Status)
	assert.Contains(t, res.Error, "502")
	assert.Contains(t, res.Error, "upstream down")
}

func TestSuccessFlagIgnoredOnErrorStatus(t *testing.T) {
	exec := newTestExecutor(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"success":true}`))
	})

	res, err := exec.DryRun(context.Background(), nil, "s")

	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
}

func TestUnreachableExecutor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()
	exec := NewClient(config.ExecutorConfig{URL: url, Timeout: time.Second}, reserved)

	_, err := exec.DryRun(context.Background(), nil, "s")

	assert.Error(t, err)
}
