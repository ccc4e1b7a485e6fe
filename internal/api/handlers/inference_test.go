package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/lora-orchestrator/internal/api/middleware"
	"github.com/kraklabs/lora-orchestrator/internal/backend"
	"github.com/kraklabs/lora-orchestrator/internal/blobsource"
	"github.com/kraklabs/lora-orchestrator/internal/generation"
	"github.com/kraklabs/lora-orchestrator/internal/logger"
	"github.com/kraklabs/lora-orchestrator/internal/orchestrator"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestInference(t *testing.T) *Inference {
	t.Helper()
	src := blobsource.NewLocal(t.TempDir(), t.TempDir(), blobsource.LayoutSharedBucket)
	src.Retry.MaxAttempts = 1
	eng := backend.NewFake()
	orch, err := orchestrator.New(orchestrator.Config{}, src, eng, nil)
	require.NoError(t, err)

	front := generation.New(eng, backend.DecodeParams{MaxEncoderLen: 10000}, nil)
	return &Inference{Orchestrator: orch, Front: front, Logger: testLogger()}
}

func requestWithUser(method, path string, body any, userID string) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(middleware.UserIDHeader, userID)
	return req.WithContext(logger.WithUserID(req.Context(), userID))
}

func TestInference_Summarize_ShortThread(t *testing.T) {
	h := newTestInference(t)

	req := requestWithUser(http.MethodPost, "/summarize", InferenceRequest{
		Threads: []Thread{{ID: "t1", Text: "short email body"}},
	}, "user-1")
	rr := httptest.NewRecorder()

	h.Summarize(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp InferenceResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "t1", resp.Results[0].ID)
	assert.NotEmpty(t, resp.Results[0].Output)
}

func TestInference_EmptyThreads_FailsValidation(t *testing.T) {
	h := newTestInference(t)

	req := requestWithUser(http.MethodPost, "/summarize", InferenceRequest{Threads: nil}, "user-1")
	rr := httptest.NewRecorder()

	h.Summarize(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestInference_MalformedBody_Returns400(t *testing.T) {
	h := newTestInference(t)

	req := httptest.NewRequest(http.MethodPost, "/summarize", bytes.NewBufferString("not json"))
	req.Header.Set(middleware.UserIDHeader, "user-1")
	rr := httptest.NewRecorder()

	h.Summarize(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestInference_Categorize_AllThreadsGetOutput(t *testing.T) {
	h := newTestInference(t)

	req := requestWithUser(http.MethodPost, "/categorize", InferenceRequest{
		Threads: []Thread{{ID: "a", Text: "one"}, {ID: "b", Text: "two"}},
	}, "user-2")
	rr := httptest.NewRecorder()

	h.Categorize(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp InferenceResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 2)
}

func TestInference_Suggest_MissingThreadIDFailsValidation(t *testing.T) {
	h := newTestInference(t)

	req := requestWithUser(http.MethodPost, "/suggest", InferenceRequest{
		Threads: []Thread{{Text: "no id here"}},
	}, "user-1")
	rr := httptest.NewRecorder()

	h.Suggest(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
