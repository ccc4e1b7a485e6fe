// Package handlers implements the HTTP handlers for the transport surface:
// the three inference routes, the lifecycle routes, health, and the admin
// debug views.
package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	apierrors "github.com/kraklabs/lora-orchestrator/internal/api/errors"
	"github.com/kraklabs/lora-orchestrator/internal/api/middleware"
	"github.com/kraklabs/lora-orchestrator/internal/generation"
	"github.com/kraklabs/lora-orchestrator/internal/logger"
	"github.com/kraklabs/lora-orchestrator/internal/orchestrator"
)

var validate = validator.New()

// Thread is one item of an inference request's thread batch.
type Thread struct {
	ID   string `json:"id" validate:"required"`
	Text string `json:"text" validate:"required"`
}

// InferenceRequest is the body every inference route accepts.
type InferenceRequest struct {
	Threads []Thread `json:"threads" validate:"required,min=1,dive"`
}

// ThreadResult is one parsed per-thread result.
type ThreadResult struct {
	ID     string `json:"id"`
	Output string `json:"output"`
}

// InferenceResponse is the body every inference route returns.
type InferenceResponse struct {
	Results []ThreadResult `json:"results"`
}

// shortLongThreshold is the word-count cutoff between summarize's "short"
// and "long" token caps.
const shortLongThreshold = 40

const (
	summarizeShortTokens = 56
	summarizeLongTokens  = 128
	categorizeTokens     = 64
	suggestTokens        = 96
)

// Inference serves /summarize, /categorize, /suggest.
type Inference struct {
	Orchestrator *orchestrator.Orchestrator
	Front        *generation.Front
	Logger       *slog.Logger
}

// Summarize handles POST /summarize.
func (h *Inference) Summarize(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, "summarize", "Summarize the following email thread:\n\n%s", func(t Thread) int {
		if len(strings.Fields(t.Text)) <= shortLongThreshold {
			return summarizeShortTokens
		}
		return summarizeLongTokens
	})
}

// Categorize handles POST /categorize.
func (h *Inference) Categorize(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, "categorize", "Assign a single category label to this email thread:\n\n%s", func(Thread) int {
		return categorizeTokens
	})
}

// Suggest handles POST /suggest.
func (h *Inference) Suggest(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, "suggest", "Suggest a short reply for this email thread:\n\n%s", func(Thread) int {
		return suggestTokens
	})
}

func (h *Inference) run(w http.ResponseWriter, r *http.Request, task, promptFmt string, maxTokens func(Thread) int) {
	ctx := r.Context()
	userID := middleware.UserID(r)
	requestID := logger.RequestID(ctx)
	log := logger.FromContext(ctx, h.Logger)

	var req InferenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.Write(w, apierrors.Validation("malformed request body").WithRequestID(requestID))
		return
	}
	if err := validate.Struct(req); err != nil {
		apierrors.Write(w, apierrors.Validation(formatValidationError(err)).WithRequestID(requestID))
		return
	}

	handle, err := h.Orchestrator.Get(ctx, userID)
	if err != nil {
		h.writeOrchestratorError(w, requestID, log, task, err)
		return
	}

	results := make([]ThreadResult, 0, len(req.Threads))
	for _, t := range req.Threads {
		prompt := fmt.Sprintf(promptFmt, t.Text)
		out, err := h.Front.Generate(ctx, handle, prompt, maxTokens(t))
		if err != nil {
			log.Error("generation failed", "task", task, "thread_id", t.ID, "error", err)
			apierrors.Write(w, apierrors.Backend(err.Error()).WithRequestID(requestID))
			return
		}
		results = append(results, ThreadResult{ID: t.ID, Output: out})
	}

	writeJSON(w, http.StatusOK, InferenceResponse{Results: results})
}

func formatValidationError(err error) string {
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok || len(fieldErrs) == 0 {
		return "invalid request"
	}
	e := fieldErrs[0]
	return fmt.Sprintf("field %q failed %q validation", e.Namespace(), e.Tag())
}

func (h *Inference) writeOrchestratorError(w http.ResponseWriter, requestID string, log *slog.Logger, task string, err error) {
	log.Error("orchestrator get failed", "task", task, "error", err)
	apierrors.Write(w, apierrors.Internal("failed to obtain a serving handle").WithRequestID(requestID))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
