package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	apierrors "github.com/kraklabs/lora-orchestrator/internal/api/errors"
	"github.com/kraklabs/lora-orchestrator/internal/api/middleware"
	"github.com/kraklabs/lora-orchestrator/internal/blobsource"
	"github.com/kraklabs/lora-orchestrator/internal/handle"
	"github.com/kraklabs/lora-orchestrator/internal/logger"
	"github.com/kraklabs/lora-orchestrator/internal/orchestrator"
	"github.com/kraklabs/lora-orchestrator/internal/session"
)

// OnloadResponse is the body /models/onload and /models/refresh return.
type OnloadResponse struct {
	Source     string `json:"source"`               // "base" or "adapter"
	AdapterDir string `json:"adapter_dir,omitempty"` // empty for base
}

// OffloadResponse is the body /models/offload returns.
type OffloadResponse struct {
	Status string `json:"status"`
}

// Lifecycle serves /models/onload, /models/offload, /models/refresh.
type Lifecycle struct {
	Orchestrator *orchestrator.Orchestrator
	Sessions     *session.Registry
	Logger       *slog.Logger
}

// Onload handles POST /models/onload.
func (h *Lifecycle) Onload(w http.ResponseWriter, r *http.Request) {
	h.getOrRefresh(w, r, h.Orchestrator.Get)
}

// Refresh handles POST /models/refresh.
func (h *Lifecycle) Refresh(w http.ResponseWriter, r *http.Request) {
	h.getOrRefresh(w, r, h.Orchestrator.Refresh)
}

func (h *Lifecycle) getOrRefresh(w http.ResponseWriter, r *http.Request, op func(context.Context, string) (*handle.Handle, error)) {
	userID := middleware.UserID(r)
	hdl, err := op(r.Context(), userID)
	if err != nil {
		h.writeGetErr(w, r, err)
		return
	}

	h.Sessions.Touch(userID, hdl.Version, true)
	writeJSON(w, http.StatusOK, OnloadResponse{
		Source:     hdl.Source(),
		AdapterDir: hdl.BundlePath,
	})
}

// Offload handles POST /models/offload. Idempotent.
func (h *Lifecycle) Offload(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r)
	h.Orchestrator.Offload(userID)
	h.Sessions.MarkUnloaded(userID)
	writeJSON(w, http.StatusOK, OffloadResponse{Status: "ok"})
}

func (h *Lifecycle) writeGetErr(w http.ResponseWriter, r *http.Request, err error) {
	requestID := logger.RequestID(r.Context())
	log := logger.FromContext(r.Context(), h.Logger)

	if errors.Is(err, blobsource.ErrIoError) {
		log.Error("blob source io error during lifecycle op", "error", err)
		apierrors.Write(w, apierrors.Io(err.Error()).WithRequestID(requestID))
		return
	}
	log.Error("lifecycle op failed", "error", err)
	apierrors.Write(w, apierrors.Internal(err.Error()).WithRequestID(requestID))
}
