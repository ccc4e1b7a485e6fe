// Package orchestrator implements the model orchestrator: the component
// that owns the base model, the bounded cache, the blob source, and the
// two indexes that track each user's current version and bundle path. It
// is the only place that decides when to reuse a cached handle, when to
// recompose, and when to fall back to the shared base model.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kraklabs/lora-orchestrator/internal/backend"
	"github.com/kraklabs/lora-orchestrator/internal/blobsource"
	"github.com/kraklabs/lora-orchestrator/internal/cache"
	"github.com/kraklabs/lora-orchestrator/internal/descriptor"
	"github.com/kraklabs/lora-orchestrator/internal/handle"
	"github.com/kraklabs/lora-orchestrator/internal/metrics"
)

// Config carries the orchestrator's tunables.
type Config struct {
	MaxHandles  int
	IdleSeconds int
	ScratchRoot string
}

// Orchestrator is the single owner of the cache, the two user indexes, the
// shared base model, and the blob source. All its public methods are safe
// for concurrent use.
type Orchestrator struct {
	cfg     Config
	source  blobsource.Source
	engine  backend.Engine
	cache   *cache.Cache
	logger  *slog.Logger
	metrics *metrics.Metrics

	group singleflight.Group

	mu      sync.Mutex
	version map[string]string // user -> last-known version tag
	bundle  map[string]string // user -> last-known bundle path

	baseMu sync.Mutex
	base   *handle.Handle
}

// New constructs an Orchestrator. The shared base model is not built until
// the first call that needs it (Get or Refresh).
func New(cfg Config, source blobsource.Source, engine backend.Engine, logger *slog.Logger) (*Orchestrator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxHandles <= 0 {
		cfg.MaxHandles = 8
	}
	if cfg.IdleSeconds <= 0 {
		cfg.IdleSeconds = 1200
	}

	o := &Orchestrator{
		cfg:     cfg,
		source:  source,
		engine:  engine,
		logger:  logger,
		version: make(map[string]string),
		bundle:  make(map[string]string),
	}

	c, err := cache.New(cfg.MaxHandles, cfg.ScratchRoot, o.releaseHandle, logger)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: build cache: %w", err)
	}
	o.cache = c
	return o, nil
}

// WithMetrics attaches an optional metrics bundle; composition and fallback
// outcomes, the handles-loaded gauge, and eviction counters are then
// reported to it.
func (o *Orchestrator) WithMetrics(m *metrics.Metrics) *Orchestrator {
	o.metrics = m
	o.cache.SetMetrics(m)
	return o
}

// releaseHandle is the cache's ReleaseFunc: it tears down the backend model
// reference for a composed handle. The shared base model is never passed
// through here (it lives outside the cache).
func (o *Orchestrator) releaseHandle(h *handle.Handle) {
	if h.IsComposed() {
		o.engine.Release(h.ModelRef)
	}
}

// ensureBase lazily constructs the shared base handle.
func (o *Orchestrator) ensureBase(ctx context.Context) (*handle.Handle, error) {
	o.baseMu.Lock()
	defer o.baseMu.Unlock()
	if o.base != nil {
		return o.base, nil
	}
	modelRef, tokenizerRef, err := o.engine.BaseModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: build base model: %w", err)
	}
	o.base = handle.New(handle.BaseSentinel, handle.StateFallback, modelRef, tokenizerRef, "", "")
	return o.base, nil
}

// Get returns the cached handle if its version is still current, recomposes
// on a version change or cache miss, and falls back to the shared base
// model if composition fails at any step. A storage outage on the version
// check itself also degrades to a Fallback rather than failing the request.
func (o *Orchestrator) Get(ctx context.Context, userID string) (*handle.Handle, error) {
	return o.get(ctx, userID, false)
}

func (o *Orchestrator) get(ctx context.Context, userID string, fromRefresh bool) (*handle.Handle, error) {
	base, err := o.ensureBase(ctx)
	if err != nil {
		return nil, err
	}

	objects, err := o.source.List(ctx, userID)
	remoteErr := err
	var remoteVersion string
	if err == nil {
		remoteVersion = blobsource.VersionTag(objects)
	}

	if h, ok := o.cache.Get(userID); ok {
		knownVersion, _ := o.knownVersion(userID)
		if remoteErr == nil && remoteVersion == knownVersion {
			h.Touch()
			return h, nil
		}
		// Version changed (or remote is unreachable, in which case we keep
		// serving the cached handle rather than fail a working session).
		if remoteErr != nil {
			o.logger.Warn("orchestrator: blob source unavailable, serving cached handle",
				"user_id", userID, "error", remoteErr)
			h.Touch()
			return h, nil
		}
	} else if remoteErr != nil {
		if errors.Is(remoteErr, blobsource.ErrNoBundle) {
			return o.installFallback(userID, base, "")
		}
		// Transient storage failure on a cold get: degrade to the shared
		// base rather than surface a 5xx, per the get error policy.
		o.logger.Warn("orchestrator: blob source unavailable on cold get, falling back",
			"user_id", userID, "error", remoteErr)
		return o.installFallback(userID, base, "")
	}

	result, err, _ := o.group.Do(userID, func() (any, error) {
		// A composition for this version may have completed between the
		// cache lookup above and joining the group; reuse its handle.
		if h, ok := o.cache.Get(userID); ok {
			if v, _ := o.knownVersion(userID); v == remoteVersion {
				return h, nil
			}
		}
		return o.compose(ctx, userID, base, remoteVersion, fromRefresh)
	})
	if err != nil {
		return nil, err
	}
	return result.(*handle.Handle), nil
}

func (o *Orchestrator) knownVersion(userID string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	v, ok := o.version[userID]
	return v, ok
}

// setCacheAndIndexes installs h in the cache and records its version/bundle
// path under the same guard, so a concurrent reader never observes the
// cached handle with a stale index entry.
func (o *Orchestrator) setCacheAndIndexes(userID string, h *handle.Handle, version, bundlePath string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cache.Put(userID, h)
	o.version[userID] = version
	o.bundle[userID] = bundlePath
}

// compose runs the full composition algorithm and installs the resulting
// handle, falling back to the shared base on any failure along the way.
// The one exception is a storage IoError during materialize reached via
// Refresh, which is raised to the caller instead of masked by a fallback.
func (o *Orchestrator) compose(ctx context.Context, userID string, base *handle.Handle, version string, fromRefresh bool) (*handle.Handle, error) {
	destDir := blobsource.ScratchDir(o.cfg.ScratchRoot, userID, version)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		o.logger.Error("orchestrator: failed to create scratch dir, falling back",
			"user_id", userID, "error", err)
		return o.installFallback(userID, base, version)
	}

	if err := o.source.Materialize(ctx, userID, destDir); err != nil {
		_ = os.RemoveAll(destDir)
		if fromRefresh && errors.Is(err, blobsource.ErrIoError) {
			o.logger.Error("orchestrator: materialize io error during refresh, raising to caller",
				"user_id", userID, "error", err)
			return nil, err
		}
		o.logger.Error("orchestrator: materialize failed, falling back",
			"user_id", userID, "error", err)
		return o.installFallback(userID, base, version)
	}

	desc, err := descriptor.Normalize(destDir)
	if err != nil {
		o.logger.Error("orchestrator: descriptor normalization failed, falling back",
			"user_id", userID, "error", err)
		_ = os.RemoveAll(destDir)
		return o.installFallback(userID, base, version)
	}

	modelRef, err := o.engine.Compose(ctx, destDir, desc)
	if err != nil {
		o.logger.Error("orchestrator: composition failed, falling back",
			"user_id", userID, "error", err)
		_ = os.RemoveAll(destDir)
		return o.installFallback(userID, base, version)
	}

	h := handle.NewComposed(userID, modelRef, base.TokenizerRef, destDir, version)
	o.setCacheAndIndexes(userID, h, version, destDir)
	if o.metrics != nil {
		o.metrics.CompositionsTotal.WithLabelValues("composed").Inc()
	}
	return h, nil
}

func (o *Orchestrator) installFallback(userID string, base *handle.Handle, version string) (*handle.Handle, error) {
	h := handle.NewFallback(userID, base.ModelRef, base.TokenizerRef, version)
	o.setCacheAndIndexes(userID, h, version, "")
	if o.metrics != nil {
		o.metrics.CompositionsTotal.WithLabelValues("fallback").Inc()
		o.metrics.FallbacksTotal.WithLabelValues("composition_unavailable").Inc()
	}
	return h, nil
}

// Offload removes and releases the user's handle. Idempotent.
func (o *Orchestrator) Offload(userID string) {
	o.cache.Evict(userID)
	o.mu.Lock()
	delete(o.version, userID)
	delete(o.bundle, userID)
	o.mu.Unlock()
}

// Refresh is offload immediately followed by get; concurrent refreshes for
// the same user coalesce through the same singleflight group key as Get
// on concurrent calls.
func (o *Orchestrator) Refresh(ctx context.Context, userID string) (*handle.Handle, error) {
	o.Offload(userID)
	return o.get(ctx, userID, true)
}

// Sweep delegates to the cache's idle sweep using the configured idle
// threshold.
func (o *Orchestrator) Sweep() int {
	cutoff := time.Now().Add(-time.Duration(o.cfg.IdleSeconds) * time.Second)
	return o.cache.SweepIdle(cutoff)
}

// ReleaseAll releases every cached handle, for graceful shutdown.
func (o *Orchestrator) ReleaseAll() {
	o.cache.ReleaseAll()
}

// Snapshot returns the user ids currently cached, for admin introspection.
func (o *Orchestrator) Snapshot() []string {
	return o.cache.Keys()
}
