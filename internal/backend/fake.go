package backend

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/kraklabs/lora-orchestrator/internal/descriptor"
	"github.com/kraklabs/lora-orchestrator/internal/handle"
)

// fakeModel is the concrete type behind handle.ModelRef when Fake is in use.
// It records enough to make composition and generation observable in
// tests without any real tensor math.
type fakeModel struct {
	id         int64
	adapter    string // descriptor marker, empty for the base model
	bundlePath string
	released   bool
}

// Fake is a lightweight in-memory Engine used by tests and by local
// development when no real inference backend is configured. Apart from
// Compose rejecting a bundle path that does not exist, it never fails unless
// instructed to via FailCompose/FailGenerate, which lets orchestrator tests
// exercise the Fallback path deterministically.
type Fake struct {
	mu         sync.Mutex
	nextID     int64
	baseBuilt  bool
	base       *fakeModel
	tokenizer  string
	composed   int64 // count of successful Compose calls, for tests

	// FailCompose, when non-nil, is returned by Compose for the named user
	// bundle path prefix; "*" matches any bundle path.
	FailCompose map[string]error
	// FailGenerate, when true, makes every Generate call fail.
	FailGenerate atomic.Bool
}

// NewFake constructs a ready-to-use Fake engine.
func NewFake() *Fake {
	return &Fake{
		tokenizer:   "shared-tokenizer",
		FailCompose: map[string]error{},
	}
}

func (f *Fake) BaseModel(ctx context.Context) (handle.ModelRef, handle.TokenizerRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.baseBuilt {
		f.nextID++
		f.base = &fakeModel{id: f.nextID}
		f.baseBuilt = true
	}
	return f.base, f.tokenizer, nil
}

func (f *Fake) Compose(ctx context.Context, bundlePath string, desc *descriptor.Descriptor) (handle.ModelRef, error) {
	f.mu.Lock()
	if err, ok := f.FailCompose["*"]; ok {
		f.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrComposition, err)
	}
	for prefix, err := range f.FailCompose {
		if prefix != "*" && strings.HasPrefix(bundlePath, prefix) {
			f.mu.Unlock()
			return nil, fmt.Errorf("%w: %v", ErrComposition, err)
		}
	}
	f.nextID++
	id := f.nextID
	f.composed++
	f.mu.Unlock()

	// A real engine would read the adapter weights here; the fake only
	// checks that the bundle directory exists and tags the model with the
	// descriptor's adapter-kind marker.
	marker := "adapter"
	if desc != nil {
		marker = desc.PeftType
	}
	if _, err := os.Stat(filepath.Clean(bundlePath)); err != nil {
		return nil, fmt.Errorf("%w: bundle path unreadable: %v", ErrComposition, err)
	}

	return &fakeModel{id: id, adapter: marker, bundlePath: bundlePath}, nil
}

func (f *Fake) Release(modelRef handle.ModelRef) {
	m, ok := modelRef.(*fakeModel)
	if !ok || m == nil {
		return
	}
	f.mu.Lock()
	m.released = true
	f.mu.Unlock()
}

func (f *Fake) Generate(ctx context.Context, modelRef handle.ModelRef, tokenizerRef handle.TokenizerRef, text string, maxNewTokens int, params DecodeParams) (string, int, error) {
	if f.FailGenerate.Load() {
		return "", 0, fmt.Errorf("%w: simulated failure", ErrGenerate)
	}
	m, _ := modelRef.(*fakeModel)
	kind := "base"
	if m != nil && m.adapter != "" {
		kind = m.adapter
	}

	if params.MaxEncoderLen > 0 && len(text) > params.MaxEncoderLen {
		text = text[:params.MaxEncoderLen]
	}

	words := strings.Fields(text)
	tokens := len(words)
	if tokens > maxNewTokens {
		tokens = maxNewTokens
	}
	if tokens == 0 {
		tokens = 1
	}

	out := fmt.Sprintf("[%s] summary of %d token(s): %s", kind, tokens, strings.Join(truncateWords(words, tokens), " "))
	return out, tokens, nil
}

// ComposedCount reports how many times Compose succeeded, for assertions in
// orchestrator tests.
func (f *Fake) ComposedCount() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.composed
}

func truncateWords(words []string, n int) []string {
	if n >= len(words) {
		return words
	}
	return words[:n]
}
