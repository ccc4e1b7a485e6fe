// Package session tracks lightweight per-user session facts (first/last
// seen timestamps, the adapter version last served, and whether a handle is
// currently loaded), separately from the orchestrator's cache so admin
// views and analytics don't need to reach into cache internals.
package session

import (
	"sync"
	"time"

	"github.com/kraklabs/lora-orchestrator/internal/metrics"
)

// Info is the session record for one user.
type Info struct {
	UserID         string    `json:"user_id"`
	FirstSeen      time.Time `json:"first_seen"`
	LastSeen       time.Time `json:"last_seen"`
	AdapterVersion string    `json:"adapter_version,omitempty"`
	Loaded         bool      `json:"loaded"`
}

// Store is the persistence boundary a Registry writes through. The
// in-memory implementation below is the default; Redis is an optional
// backend (internal/session/redis.go), never used for coordination.
type Store interface {
	Load(userID string) (Info, bool)
	Save(info Info)
	Delete(userID string)
	All() []Info
}

// Registry is the public API the transport layer touches (the lifecycle
// and admin handlers). It is safe for concurrent use.
type Registry struct {
	store   Store
	mu      sync.Mutex
	metrics *metrics.Metrics
}

// NewRegistry builds a Registry over store. Pass NewMemoryStore() for the
// default in-memory backend.
func NewRegistry(store Store) *Registry {
	return &Registry{store: store}
}

// SetMetrics attaches an optional metrics bundle so the registry can report
// the active-users gauge.
func (r *Registry) SetMetrics(m *metrics.Metrics) {
	r.mu.Lock()
	r.metrics = m
	r.mu.Unlock()
}

// reportActiveUsers updates the active-users gauge to the number of tracked
// sessions. Callers hold r.mu.
func (r *Registry) reportActiveUsers() {
	if r.metrics != nil {
		r.metrics.ActiveUsers.Set(float64(len(r.store.All())))
	}
}

// Touch records that userID was just seen, with the given version and
// loaded state. FirstSeen is set once and never overwritten.
func (r *Registry) Touch(userID, version string, loaded bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	info, ok := r.store.Load(userID)
	if !ok {
		info = Info{UserID: userID, FirstSeen: now}
	}
	info.LastSeen = now
	info.AdapterVersion = version
	info.Loaded = loaded
	r.store.Save(info)
	r.reportActiveUsers()
}

// MarkUnloaded flips Loaded to false without touching LastSeen, used when a
// handle is offloaded. Cache evictions (capacity or idle) do not call it, so
// Loaded stays true for a user whose handle was evicted that way.
func (r *Registry) MarkUnloaded(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.store.Load(userID)
	if !ok {
		return
	}
	info.Loaded = false
	r.store.Save(info)
}

// Get returns the session info for userID, if any.
func (r *Registry) Get(userID string) (Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.Load(userID)
}

// Remove deletes the session record for userID entirely.
func (r *Registry) Remove(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.store.Delete(userID)
	r.reportActiveUsers()
}

// All returns every tracked session, for the /admin/sessions view.
func (r *Registry) All() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.All()
}
