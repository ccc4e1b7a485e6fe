// Package cache implements the bounded, capacity-evicting store of
// per-user handles that sits at the heart of the orchestrator. It wraps
// hashicorp/golang-lru/v2 with an eviction callback, but here the cache owns
// resource teardown: eviction, whether by capacity pressure or idle sweep,
// always runs a release routine that frees the backend model and the
// bundle directory before the handle is dropped.
package cache

import (
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kraklabs/lora-orchestrator/internal/handle"
	"github.com/kraklabs/lora-orchestrator/internal/metrics"
)

// ReleaseFunc tears down a composed handle's resources: the backend model
// instance and, if non-empty, the bundle directory it was materialized
// into. It must be safe to call with a handle already in StateReleased.
type ReleaseFunc func(h *handle.Handle)

// Cache is the bounded store of composed/fallback handles keyed by user id.
// The shared base handle is never stored here (kept as a dedicated field on
// the orchestrator, per the decision recorded in DESIGN.md) so eviction
// logic never needs to special-case it.
type Cache struct {
	mu          sync.Mutex
	lru         *lru.Cache[string, *handle.Handle]
	release     ReleaseFunc
	scratchRoot string
	logger      *slog.Logger
	metrics     *metrics.Metrics

	// nextEvictReason, when non-empty, labels the next onEvicted call
	// triggered by an explicit Remove (Evict/SweepIdle/ReleaseAll) rather
	// than an LRU capacity push. Cleared as soon as it's consumed.
	nextEvictReason string
}

// New builds a Cache with the given capacity. release is invoked for every
// handle the cache drops, whether via capacity eviction, explicit Evict, or
// the sweeper's idle pass. scratchRoot is the directory composed bundles are
// materialized under; if a handle's BundlePath falls under it, the cache
// removes that directory as part of release.
func New(capacity int, scratchRoot string, release ReleaseFunc, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{
		release:     release,
		scratchRoot: scratchRoot,
		logger:      logger,
	}

	l, err := lru.NewWithEvict[string, *handle.Handle](capacity, c.onEvicted)
	if err != nil {
		return nil, err
	}
	c.lru = l
	return c, nil
}

// SetMetrics attaches an optional metrics bundle so the cache can report the
// handles-loaded gauge and eviction counters.
func (c *Cache) SetMetrics(m *metrics.Metrics) {
	c.mu.Lock()
	c.metrics = m
	c.mu.Unlock()
}

// onEvicted is called by the underlying LRU whenever an entry is dropped,
// whether by capacity pressure or by an explicit Remove from Evict,
// SweepIdle, or ReleaseAll. It runs under the LRU's own internal lock, so it
// must not re-enter the cache's public methods (which would deadlock); it
// only calls the injected release routine and logs.
func (c *Cache) onEvicted(userID string, h *handle.Handle) {
	reason := c.nextEvictReason
	if reason == "" {
		reason = "capacity"
	}
	c.nextEvictReason = ""
	c.releaseHandle(userID, h, reason)
}

func (c *Cache) releaseHandle(userID string, h *handle.Handle, reason string) {
	if h == nil {
		return
	}
	if c.release != nil {
		c.release(h)
	}
	if h.BundlePath != "" && c.scratchRoot != "" && strings.HasPrefix(h.BundlePath, c.scratchRoot) {
		if err := os.RemoveAll(h.BundlePath); err != nil {
			c.logger.Warn("cache: failed to remove bundle directory",
				"user_id", userID, "bundle_path", h.BundlePath, "error", err)
		}
	}
	h.Release()
	if c.metrics != nil {
		c.metrics.EvictionsTotal.WithLabelValues(reason).Inc()
	}
	c.logger.Info("cache: handle released", "user_id", userID, "reason", reason)
}

// reportLoaded updates the handles-loaded gauge to the current cache size.
// Callers hold c.mu.
func (c *Cache) reportLoaded() {
	if c.metrics != nil {
		c.metrics.HandlesLoaded.Set(float64(c.lru.Len()))
	}
}

// Get returns the cached handle for userID, if present, bumping its
// recency.
func (c *Cache) Get(userID string) (*handle.Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Get(userID)
}

// Put inserts or replaces the handle for userID. If a different handle
// already occupied that slot, it is released first (this happens on
// version-change recompositions).
func (c *Cache) Put(userID string, h *handle.Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.lru.Peek(userID); ok && old != h {
		c.releaseHandle(userID, old, "replaced")
	}
	c.lru.Add(userID, h) // may trigger onEvicted with reason "capacity"
	c.reportLoaded()
}

// Evict removes and releases the handle for userID, if present. Used by the
// explicit Offload operation.
func (c *Cache) Evict(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.lru.Peek(userID); ok {
		c.nextEvictReason = "offload"
		c.lru.Remove(userID) // triggers onEvicted
		c.reportLoaded()
	}
}

// SweepIdle releases every handle whose LastUsed is older than cutoff. It
// never touches the shared base handle since that is never stored here.
func (c *Cache) SweepIdle(cutoff time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var toEvict []string
	for _, userID := range c.lru.Keys() {
		h, ok := c.lru.Peek(userID)
		if !ok {
			continue
		}
		if h.LastUsed().Before(cutoff) {
			toEvict = append(toEvict, userID)
		}
	}

	for _, userID := range toEvict {
		c.nextEvictReason = "idle"
		c.lru.Remove(userID) // triggers onEvicted
	}
	if len(toEvict) > 0 {
		c.logger.Info("cache: idle sweep evicted handles", "count", len(toEvict))
		c.reportLoaded()
	}
	return len(toEvict)
}

// Len reports the number of handles currently cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Keys returns the user ids currently cached, for admin introspection.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Keys()
}

// ReleaseAll evicts and releases every cached handle. Used during graceful
// shutdown.
func (c *Cache) ReleaseAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, userID := range c.lru.Keys() {
		c.nextEvictReason = "shutdown"
		c.lru.Remove(userID)
	}
	c.reportLoaded()
}
