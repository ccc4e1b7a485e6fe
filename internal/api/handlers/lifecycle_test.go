package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/lora-orchestrator/internal/backend"
	"github.com/kraklabs/lora-orchestrator/internal/blobsource"
	"github.com/kraklabs/lora-orchestrator/internal/orchestrator"
	"github.com/kraklabs/lora-orchestrator/internal/session"
)

func newTestLifecycle(t *testing.T, root string) *Lifecycle {
	t.Helper()
	src := blobsource.NewLocal(root, t.TempDir(), blobsource.LayoutSharedBucket)
	src.Retry.MaxAttempts = 1

	orch, err := orchestrator.New(orchestrator.Config{}, src, backend.NewFake(), testLogger())
	require.NoError(t, err)

	return &Lifecycle{
		Orchestrator: orch,
		Sessions:     session.NewRegistry(session.NewMemoryStore()),
		Logger:       testLogger(),
	}
}

func writeTestAdapter(t *testing.T, root, userID string) {
	t.Helper()
	dir := filepath.Join(root, userID)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "adapter_model.bin"), []byte("weights"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "adapter_config.json"), []byte(`{"r":8,"lora_alpha":16}`), 0o644))
}

func TestLifecycle_Onload_NoBundle_ReturnsBase(t *testing.T) {
	root := t.TempDir()
	h := newTestLifecycle(t, root)

	req := requestWithUser(http.MethodPost, "/models/onload", nil, "ghost")
	rr := httptest.NewRecorder()
	h.Onload(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp OnloadResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "base", resp.Source)
	assert.Empty(t, resp.AdapterDir)

	info, ok := h.Sessions.Get("ghost")
	require.True(t, ok)
	assert.True(t, info.Loaded)
}

func TestLifecycle_Onload_WithBundle_ReturnsAdapter(t *testing.T) {
	root := t.TempDir()
	writeTestAdapter(t, root, "user-1")
	h := newTestLifecycle(t, root)

	req := requestWithUser(http.MethodPost, "/models/onload", nil, "user-1")
	rr := httptest.NewRecorder()
	h.Onload(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp OnloadResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "adapter", resp.Source)
	assert.NotEmpty(t, resp.AdapterDir)
}

func TestLifecycle_Offload_MarksUnloaded(t *testing.T) {
	root := t.TempDir()
	h := newTestLifecycle(t, root)

	onloadReq := requestWithUser(http.MethodPost, "/models/onload", nil, "user-1")
	h.Onload(httptest.NewRecorder(), onloadReq)

	offloadReq := requestWithUser(http.MethodPost, "/models/offload", nil, "user-1")
	rr := httptest.NewRecorder()
	h.Offload(rr, offloadReq)

	require.Equal(t, http.StatusOK, rr.Code)

	info, ok := h.Sessions.Get("user-1")
	require.True(t, ok)
	assert.False(t, info.Loaded)
}

func TestLifecycle_Refresh_Succeeds(t *testing.T) {
	root := t.TempDir()
	writeTestAdapter(t, root, "user-1")
	h := newTestLifecycle(t, root)

	first := requestWithUser(http.MethodPost, "/models/onload", nil, "user-1")
	h.Onload(httptest.NewRecorder(), first)

	second := requestWithUser(http.MethodPost, "/models/refresh", nil, "user-1")
	rr := httptest.NewRecorder()
	h.Refresh(rr, second)

	assert.Equal(t, http.StatusOK, rr.Code)
}
