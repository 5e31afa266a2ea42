// Package config holds explicit per-client configuration for the cache,
// rate-limit, and ETL components. Settings are injected once at startup;
// there is no global configuration lookup.
package config

import (
	"sort"
	"sync"
	"time"
)

// ClientConfig holds the recognized options for one upstream API client.
type ClientConfig struct {
	// BaseURL is the upstream API base URL.
	BaseURL string

	// APIKey authenticates against the upstream API.
	APIKey string

	// Version is the upstream API version identifier recorded on cache rows.
	Version string

	// RateLimitMaxAttempts is the number of requests allowed per window.
	RateLimitMaxAttempts int

	// RateLimitDecaySeconds is the fixed-window length in seconds.
	RateLimitDecaySeconds int

	// CompressionEnabled selects the compressed response table for this
	// client and gzips stored payloads.
	CompressionEnabled bool

	// CacheTTL is how long stored responses stay valid. Nil means cached
	// responses never expire.
	CacheTTL *time.Duration
}

// DefaultClientConfig returns a conservative baseline configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Version:               "v1",
		RateLimitMaxAttempts:  60,
		RateLimitDecaySeconds: 60,
		CompressionEnabled:    false,
		CacheTTL:              nil,
	}
}

// Settings is a lookup table of client configurations keyed by client id.
// Unregistered clients resolve to the defaults. Safe for concurrent reads
// after registration.
type Settings struct {
	mu       sync.RWMutex
	defaults ClientConfig
	clients  map[string]ClientConfig
}

// NewSettings creates a settings table with the given defaults.
func NewSettings(defaults ClientConfig) *Settings {
	return &Settings{
		defaults: defaults,
		clients:  make(map[string]ClientConfig),
	}
}

// Register installs the configuration for one client, replacing any
// previous entry.
func (s *Settings) Register(client string, cfg ClientConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[client] = cfg
}

// Client resolves the configuration for a client, falling back to the
// defaults when the client was never registered.
func (s *Settings) Client(client string) ClientConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cfg, ok := s.clients[client]; ok {
		return cfg
	}
	return s.defaults
}

// Clients returns the registered client ids in sorted order. Used by
// cleanup jobs that iterate all configured clients.
func (s *Settings) Clients() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// TTL is a convenience for building a *time.Duration from seconds.
func TTL(seconds int) *time.Duration {
	d := time.Duration(seconds) * time.Second
	return &d
}
