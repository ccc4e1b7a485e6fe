// Package backend defines the boundary to the inference backend: the
// model-execution engine capable of applying an adapter over a base model
// and generating token sequences. The backend itself (tokenizer internals,
// token-level numerics, device placement) is an external collaborator and
// explicitly out of scope; this package only declares the
// narrow interface the orchestrator and generation front need, plus the
// decode parameters carried in configuration.
package backend

import (
	"context"
	"errors"

	"github.com/kraklabs/lora-orchestrator/internal/descriptor"
	"github.com/kraklabs/lora-orchestrator/internal/handle"
)

// ErrComposition wraps any failure to apply an adapter over a fresh base
// model instance.
var ErrComposition = errors.New("backend: composition failed")

// ErrGenerate wraps any failure during token generation.
var ErrGenerate = errors.New("backend: generate failed")

// DecodeParams are the fixed, deterministic decoding parameters the
// generation front passes on every call.
type DecodeParams struct {
	NumBeams        int
	NoRepeatNgram   int
	LengthPenalty   float64
	EarlyStopping   bool
	MaxEncoderLen   int
	PadTokenID      int
	EOSTokenID      int
}

// Engine is the boundary the orchestrator and generation front depend on.
// A real implementation wraps a model-execution runtime; Fake (below)
// wraps nothing and is used for tests and local development.
type Engine interface {
	// BaseModel returns the shared, read-only base model reference and the
	// shared tokenizer reference, constructing them on first call.
	BaseModel(ctx context.Context) (handle.ModelRef, handle.TokenizerRef, error)

	// Compose constructs a fresh base model instance (so adapter
	// application never mutates the shared base)
	// and applies the adapter described by desc, reading weights from
	// bundlePath. The returned ModelRef is owned exclusively by the caller.
	Compose(ctx context.Context, bundlePath string, desc *descriptor.Descriptor) (handle.ModelRef, error)

	// Release frees any resources (device memory, handles) associated with
	// a composed ModelRef. Never called for the shared base model's
	// ModelRef. Must be safe to call on a nil or already-released ref.
	Release(modelRef handle.ModelRef)

	// Generate runs encode-generate-decode on modelRef/tokenizerRef and
	// returns the produced text and the number of tokens generated.
	Generate(ctx context.Context, modelRef handle.ModelRef, tokenizerRef handle.TokenizerRef, text string, maxNewTokens int, params DecodeParams) (string, int, error)
}
