package handlers

import (
	"log/slog"
	"net/http"

	apierrors "github.com/kraklabs/lora-orchestrator/internal/api/errors"
	"github.com/kraklabs/lora-orchestrator/internal/config"
	"github.com/kraklabs/lora-orchestrator/internal/logger"
	"github.com/kraklabs/lora-orchestrator/internal/orchestrator"
	"github.com/kraklabs/lora-orchestrator/internal/session"
)

// Admin serves operator-facing debug views of cache contents, tracked
// sessions, and the running configuration.
type Admin struct {
	Orchestrator *orchestrator.Orchestrator
	Sessions     *session.Registry
	Config       config.Service
	Logger       *slog.Logger
}

// CacheResponse lists the user ids currently holding a cached handle.
type CacheResponse struct {
	LoadedUsers []string `json:"loaded_users"`
	Count       int      `json:"count"`
}

// Cache handles GET /admin/cache.
func (a *Admin) Cache(w http.ResponseWriter, r *http.Request) {
	users := a.Orchestrator.Snapshot()
	writeJSON(w, http.StatusOK, CacheResponse{LoadedUsers: users, Count: len(users)})
}

// ListSessions handles GET /admin/sessions.
func (a *Admin) ListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Sessions.All())
}

// ExportConfig handles GET /admin/config, returning the sanitized running
// configuration as JSON (YAML is available by appending ?format=yaml).
func (a *Admin) ExportConfig(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")

	resp, err := a.Config.Export(format)
	if err != nil {
		requestID := logger.RequestID(r.Context())
		apierrors.Write(w, apierrors.Internal("failed to export configuration").WithRequestID(requestID))
		return
	}

	if format == "yaml" {
		raw, err := resp.MarshalYAML()
		if err != nil {
			requestID := logger.RequestID(r.Context())
			apierrors.Write(w, apierrors.Internal("failed to render yaml").WithRequestID(requestID))
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(raw)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// OpenAPISpec handles GET /admin/docs/openapi.json. The generated document
// isn't produced by this build yet.
func OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "openapi spec not yet generated", http.StatusNotImplemented)
}
