package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rudransh-shrivastava/nearby/internal/node"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupServer(t *testing.T) *Server {
	t.Helper()
	n := node.New(node.Options{Name: "desk", DownloadDir: t.TempDir()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = n.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return New(n, nil)
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := setupServer(t)

	rec := do(t, s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "desk", resp.Name)
	assert.False(t, resp.Listening)
	assert.Zero(t, resp.Peers)
}

func TestRequestLifecycle(t *testing.T) {
	// Given
	s := setupServer(t)

	// When
	rec := do(t, s, http.MethodPost, "/requests", `{"file_id":"report.pdf"}`)

	// Then
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var created fileRequestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)

	rec = do(t, s, http.MethodGet, "/operations/"+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var op operationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &op))
	assert.Equal(t, "download", op.Type)
	assert.Equal(t, "announced", op.State)
	assert.Equal(t, "report.pdf", op.FileID)
	assert.True(t, op.Running)

	rec = do(t, s, http.MethodGet, "/operations", "")
	var ops []operationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ops))
	assert.Len(t, ops, 1)

	rec = do(t, s, http.MethodDelete, "/operations/"+created.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, s, http.MethodDelete, "/operations/"+created.ID, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, s, http.MethodGet, "/operations/"+created.ID, "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &op))
	assert.Equal(t, "cancelled", op.State)
	assert.NotEmpty(t, op.Error)
}

func TestRequestValidation(t *testing.T) {
	s := setupServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"missing file id", `{}`},
		{"empty file id", `{"file_id":""}`},
		{"too long", `{"file_id":"` + strings.Repeat("x", 1025) + `"}`},
		{"malformed", `{"file_id":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/requests", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestUnknownOperation(t *testing.T) {
	s := setupServer(t)

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/operations/nope", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodDelete, "/operations/nope", "").Code)
}

func TestListenerToggle(t *testing.T) {
	s := setupServer(t)

	rec := do(t, s, http.MethodPost, "/listener/start", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"listening":true}`, rec.Body.String())

	var health healthResponse
	require.NoError(t, json.Unmarshal(do(t, s, http.MethodGet, "/health", "").Body.Bytes(), &health))
	assert.True(t, health.Listening)

	rec = do(t, s, http.MethodPost, "/listener/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"listening":false}`, rec.Body.String())
}
