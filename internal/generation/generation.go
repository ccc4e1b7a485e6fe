// Package generation implements the per-handle generate operation: the
// only place a handle's underlying model is actually asked to produce
// text. Everything here runs under the handle's own lock, since a model
// instance is not safe for concurrent multi-stream use.
package generation

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kraklabs/lora-orchestrator/internal/backend"
	"github.com/kraklabs/lora-orchestrator/internal/handle"
)

// ErrBackend wraps any failure surfaced by the inference backend during
// generation.
var ErrBackend = fmt.Errorf("generation: backend error")

// Front is the generation front: fixed decode parameters plus the engine
// that actually runs encode-generate-decode.
type Front struct {
	Engine       backend.Engine
	DecodeParams backend.DecodeParams
	TokensTotal  *prometheus.CounterVec // labeled by user_id
}

// New builds a Front with the given engine, decode parameters, and token
// counter. tokensTotal may be nil in tests that don't care about metrics.
func New(engine backend.Engine, params backend.DecodeParams, tokensTotal *prometheus.CounterVec) *Front {
	return &Front{Engine: engine, DecodeParams: params, TokensTotal: tokensTotal}
}

// Generate runs one generation call against h, holding h's lock for the
// entire encode-generate-decode sequence.
func (f *Front) Generate(ctx context.Context, h *handle.Handle, text string, maxNewTokens int) (string, error) {
	h.Lock()
	defer h.Unlock()

	h.Touch()
	defer h.Touch()

	if f.DecodeParams.MaxEncoderLen > 0 && len(text) > f.DecodeParams.MaxEncoderLen {
		text = text[:f.DecodeParams.MaxEncoderLen]
	}

	out, tokens, err := f.Engine.Generate(ctx, h.ModelRef, h.TokenizerRef, text, maxNewTokens, f.DecodeParams)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBackend, err)
	}

	if f.TokensTotal != nil {
		f.TokensTotal.WithLabelValues(h.UserID).Add(float64(tokens))
	}

	return out, nil
}
