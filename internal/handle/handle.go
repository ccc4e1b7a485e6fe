// Package handle defines the per-user runtime record the orchestrator hands
// out to callers: a reference to a composed (or fallback) model, the bundle
// directory it was built from, and the mutex that serializes generation
// calls against it.
package handle

import (
	"sync"
	"time"
)

// State is the lifecycle stage of a Handle.
type State int

const (
	// StateComposed means the handle wraps a fresh base model with a user
	// adapter applied on top.
	StateComposed State = iota
	// StateFallback means the handle shares the shared base model's
	// ModelRef directly; no adapter was applied.
	StateFallback
	// StateReleased is terminal: the handle's resources have been freed and
	// it must never be returned from any operation again.
	StateReleased
)

func (s State) String() string {
	switch s {
	case StateComposed:
		return "composed"
	case StateFallback:
		return "fallback"
	case StateReleased:
		return "released"
	default:
		return "unknown"
	}
}

// BaseSentinel is the reserved user id denoting the shared base handle. It
// is never accepted as a user id on the public surface.
const BaseSentinel = "__base__"

// ModelRef is an opaque reference to a composed or base model instance, as
// handed back by the inference backend. It carries no behavior here; the
// backend package owns the concrete type.
type ModelRef interface{}

// TokenizerRef is an opaque, read-shared reference to the tokenizer used by
// both the base model and every composed model.
type TokenizerRef interface{}

// Handle is the orchestrator's runtime record for one user's ready-to-serve
// model. Every exported field is set once at construction and never mutated
// again. The last-used time and the lifecycle state change over the handle's
// life; they are guarded by an internal mutex separate from the generation
// lock, so the cache's idle sweep can read LastUsed while a generate call
// holds Lock.
type Handle struct {
	UserID       string
	ModelRef     ModelRef
	TokenizerRef TokenizerRef

	// BundlePath is the directory a Composed handle was built from, owned by
	// the orchestrator's scratch root. Empty for Fallback handles.
	BundlePath string

	// Version is the blob-source version tag this handle was built against.
	Version string

	genMu sync.Mutex // serializes generate calls (Lock/Unlock)

	mu       sync.Mutex // guards lastUsed and state
	lastUsed time.Time
	state    State
}

// New constructs a Handle in the given state. Callers should use NewComposed
// or NewFallback instead of calling this directly.
func New(userID string, state State, modelRef ModelRef, tokenizerRef TokenizerRef, bundlePath, version string) *Handle {
	return &Handle{
		UserID:       userID,
		ModelRef:     modelRef,
		TokenizerRef: tokenizerRef,
		BundlePath:   bundlePath,
		Version:      version,
		lastUsed:     time.Now(),
		state:        state,
	}
}

// NewComposed builds a Handle for a freshly composed (base + adapter) model.
func NewComposed(userID string, modelRef ModelRef, tokenizerRef TokenizerRef, bundlePath, version string) *Handle {
	return New(userID, StateComposed, modelRef, tokenizerRef, bundlePath, version)
}

// NewFallback builds a Handle that shares the shared base model directly.
func NewFallback(userID string, baseModelRef ModelRef, tokenizerRef TokenizerRef, version string) *Handle {
	return New(userID, StateFallback, baseModelRef, tokenizerRef, "", version)
}

// Lock serializes generate calls against this handle's model instance. The
// caller must call Unlock when done.
func (h *Handle) Lock() { h.genMu.Lock() }

// Unlock releases the handle's generation lock.
func (h *Handle) Unlock() { h.genMu.Unlock() }

// Touch records that the handle was just used. Callers invoke this both
// before and after a generate call so that a long-running generate counts
// as "in use" for the idle sweep.
func (h *Handle) Touch() {
	h.mu.Lock()
	h.lastUsed = time.Now()
	h.mu.Unlock()
}

// LastUsed returns the most recent Touch time.
func (h *Handle) LastUsed() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastUsed
}

// State returns the handle's current lifecycle stage.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Release marks the handle Released. It does not free any resources itself;
// the cache's release routine (which knows about the scratch root and the
// backend's model-teardown hook) does that before calling Release.
func (h *Handle) Release() {
	h.mu.Lock()
	h.state = StateReleased
	h.lastUsed = time.Now()
	h.mu.Unlock()
}

// IsComposed reports whether this handle has its own adapter-applied model
// and an owned bundle directory.
func (h *Handle) IsComposed() bool {
	return h.State() == StateComposed
}

// Source returns "adapter" for a composed handle and "base" otherwise,
// matching the transport surface's /models/onload response field.
func (h *Handle) Source() string {
	if h.IsComposed() {
		return "adapter"
	}
	return "base"
}
