// Package api assembles the orchestrator's HTTP transport: the inference,
// lifecycle, health, and admin routes behind the shared middleware stack.
package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/kraklabs/lora-orchestrator/internal/api/handlers"
	"github.com/kraklabs/lora-orchestrator/internal/api/middleware"
	"github.com/kraklabs/lora-orchestrator/internal/config"
	"github.com/kraklabs/lora-orchestrator/internal/generation"
	"github.com/kraklabs/lora-orchestrator/internal/logger"
	orchmetrics "github.com/kraklabs/lora-orchestrator/internal/metrics"
	"github.com/kraklabs/lora-orchestrator/internal/orchestrator"
	"github.com/kraklabs/lora-orchestrator/internal/session"
)

// Deps are the collaborators the router wires into its handlers.
type Deps struct {
	Orchestrator *orchestrator.Orchestrator
	Front        *generation.Front
	Sessions     *session.Registry
	Config       config.Service
	Metrics      *orchmetrics.Metrics
	Registry     *prometheus.Registry
	Logger       *slog.Logger

	RateLimitPerMinute int
	RateLimitBurst     int
}

// NewRouter builds the full mux.Router for the orchestrator's HTTP surface.
//
// The middleware stack is applied in order:
//  1. Request-id + logging (always)
//  2. Metrics (always, no-ops if Deps.Metrics is nil)
//  3. Route-specific: x_user_id validation, then per-user rate limiting
//
// @title LoRA Serving Orchestrator API
// @version 1.0.0
// @description Per-user LoRA adapter composition and inference API
// @license.name MIT
// @BasePath /
func NewRouter(d Deps) *mux.Router {
	router := mux.NewRouter()

	router.Use(logger.Middleware(d.Logger))
	router.Use(middleware.Metrics(d.Metrics))

	router.HandleFunc("/health", handlers.Health).Methods(http.MethodGet)
	router.Handle("/metrics", promMetricsHandler(d.Registry)).Methods(http.MethodGet)

	inference := &handlers.Inference{
		Orchestrator: d.Orchestrator,
		Front:        d.Front,
		Logger:       d.Logger,
	}
	lifecycle := &handlers.Lifecycle{
		Orchestrator: d.Orchestrator,
		Sessions:     d.Sessions,
		Logger:       d.Logger,
	}
	admin := &handlers.Admin{
		Orchestrator: d.Orchestrator,
		Sessions:     d.Sessions,
		Config:       d.Config,
		Logger:       d.Logger,
	}

	// Inference and lifecycle routes require x_user_id and are rate limited.
	served := router.NewRoute().Subrouter()
	served.Use(middleware.RequireUserID)
	served.Use(middleware.RateLimit(d.RateLimitPerMinute, d.RateLimitBurst))

	served.HandleFunc("/summarize", inference.Summarize).Methods(http.MethodPost)
	served.HandleFunc("/categorize", inference.Categorize).Methods(http.MethodPost)
	served.HandleFunc("/suggest", inference.Suggest).Methods(http.MethodPost)

	served.HandleFunc("/models/onload", lifecycle.Onload).Methods(http.MethodPost)
	served.HandleFunc("/models/offload", lifecycle.Offload).Methods(http.MethodPost)
	served.HandleFunc("/models/refresh", lifecycle.Refresh).Methods(http.MethodPost)

	setupAdminRoutes(router, admin)

	return router
}

// setupAdminRoutes configures the /admin/* debug views. These are not
// gated by x_user_id: they describe operator-facing cache/session/config
// state, not per-user inference.
func setupAdminRoutes(router *mux.Router, admin *handlers.Admin) {
	adm := router.PathPrefix("/admin").Subrouter()

	adm.HandleFunc("/cache", admin.Cache).Methods(http.MethodGet)
	adm.HandleFunc("/sessions", admin.ListSessions).Methods(http.MethodGet)
	adm.HandleFunc("/config", admin.ExportConfig).Methods(http.MethodGet)

	adm.HandleFunc("/docs/openapi.json", handlers.OpenAPISpec).Methods(http.MethodGet)
	adm.PathPrefix("/docs").Handler(httpSwagger.WrapHandler)
}

func promMetricsHandler(registry *prometheus.Registry) http.Handler {
	if registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
