package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Source identifies where a loaded Config came from, reported by the
// /admin/config export.
type Source string

const (
	SourceFile     Source = "file"
	SourceEnv      Source = "env"
	SourceDefaults Source = "defaults"
)

// Response is the payload the /admin/config route returns.
type Response struct {
	Version  string         `json:"version"`
	Source   Source         `json:"source"`
	LoadedAt time.Time      `json:"loaded_at"`
	Config   map[string]any `json:"config"`
}

// Service exports a sanitized snapshot of the running configuration.
type Service interface {
	Export(format string) (*Response, error)
	Version() string
}

type service struct {
	cfg      *Config
	loadedAt time.Time
	source   Source

	mu        sync.Mutex
	cachedAt  time.Time
	cached    *Response
	cacheTTL  time.Duration
}

// NewService builds a config export service over cfg. loadedAt/source are
// recorded at the call site that produced cfg via Load.
func NewService(cfg *Config, loadedAt time.Time, source Source) Service {
	return &service{cfg: cfg, loadedAt: loadedAt, source: source, cacheTTL: time.Second}
}

// Export returns a sanitized, JSON-shaped snapshot. format is currently
// informational only (the sanitized map serializes identically either way);
// callers that want YAML call yaml.Marshal on the returned Response.
func (s *service) Export(format string) (*Response, error) {
	s.mu.Lock()
	if s.cached != nil && time.Since(s.cachedAt) < s.cacheTTL {
		resp := *s.cached
		s.mu.Unlock()
		return &resp, nil
	}
	s.mu.Unlock()

	sanitized := sanitize(s.cfg)

	asMap, err := toMap(sanitized)
	if err != nil {
		return nil, fmt.Errorf("config: export: %w", err)
	}

	resp := &Response{
		Version:  s.Version(),
		Source:   s.source,
		LoadedAt: s.loadedAt,
		Config:   asMap,
	}

	s.mu.Lock()
	s.cached = resp
	s.cachedAt = time.Now()
	s.mu.Unlock()

	return resp, nil
}

// Version returns a stable hash of the (unsanitized) configuration, so
// callers can detect whether it changed across reloads.
func (s *service) Version() string {
	raw, err := json.Marshal(s.cfg)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])[:16]
}

const redacted = "***REDACTED***"

// sanitize returns a deep copy of cfg with credential-bearing fields
// redacted.
func sanitize(cfg *Config) *Config {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return cfg
	}
	var copied Config
	if err := json.Unmarshal(raw, &copied); err != nil {
		return cfg
	}

	if copied.Store.SecretKey != "" {
		copied.Store.SecretKey = redacted
	}
	if copied.Store.AccessKey != "" {
		copied.Store.AccessKey = redacted
	}

	return &copied
}

func toMap(cfg *Config) (map[string]any, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// MarshalYAML renders r as YAML, for the /admin/config route's
// ?format=yaml branch.
func (r *Response) MarshalYAML() ([]byte, error) {
	return yaml.Marshal(r)
}
