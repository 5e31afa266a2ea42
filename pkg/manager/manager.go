// Package manager combines the cache repository and rate-limit service
// behind one facade and wires deterministic key generation into the
// request path. The manager holds no caching or rate-limit state of its
// own; it only delegates.
package manager

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/seolytics/apicache/pkg/cache"
	"github.com/seolytics/apicache/pkg/config"
	"github.com/seolytics/apicache/pkg/ratelimit"
)

// Manager is the single entry point API clients drive: check the limit,
// compute the key, try the cache, store the fresh response, count the
// attempt.
type Manager struct {
	repo     *cache.Repository
	limiter  *ratelimit.Service
	settings *config.Settings
	logger   zerolog.Logger
	retry    RetryConfig
}

// New creates a manager over the given repository and rate limiter.
func New(repo *cache.Repository, limiter *ratelimit.Service, settings *config.Settings, logger zerolog.Logger) *Manager {
	return &Manager{
		repo:     repo,
		limiter:  limiter,
		settings: settings,
		logger:   logger,
		retry:    DefaultRetryConfig(),
	}
}

// SetRetryConfig replaces the retry policy applied to upstream calls.
func (m *Manager) SetRetryConfig(cfg RetryConfig) {
	m.retry = cfg
}

// StoreResponse persists a response under the given key. A nil ttl falls
// back to the client's configured CacheTTL (which may itself be nil,
// meaning the entry never expires).
func (m *Manager) StoreResponse(ctx context.Context, client, key string, meta cache.Metadata, ttl *time.Duration) error {
	if ttl == nil {
		ttl = m.settings.Client(client).CacheTTL
	}
	return m.repo.Store(ctx, client, key, meta, ttl)
}

// GetCachedResponse returns the non-expired entry for a key, or
// cache.ErrNotFound on a clean miss.
func (m *Manager) GetCachedResponse(ctx context.Context, client, key string) (*cache.Entry, error) {
	return m.repo.Get(ctx, client, key)
}

// ClearTable removes every cached row for a client.
func (m *Manager) ClearTable(ctx context.Context, client string) error {
	return m.repo.ClearTable(ctx, client)
}

// AllowRequest reports whether the client has attempts left. Pure
// predicate; does not count anything.
func (m *Manager) AllowRequest(ctx context.Context, client string) (bool, error) {
	return m.limiter.AllowRequest(ctx, client)
}

// IncrementAttempts counts attempts against the client's window.
func (m *Manager) IncrementAttempts(ctx context.Context, client string, amount int64) error {
	return m.limiter.IncrementAttempts(ctx, client, amount)
}

// RemainingAttempts returns how many attempts are left in the window.
func (m *Manager) RemainingAttempts(ctx context.Context, client string) (int64, error) {
	return m.limiter.RemainingAttempts(ctx, client)
}

// AvailableIn returns how long until the client may send again.
func (m *Manager) AvailableIn(ctx context.Context, client string) (time.Duration, error) {
	return m.limiter.AvailableIn(ctx, client)
}

// ClearRateLimit resets the client's counter and window.
func (m *Manager) ClearRateLimit(ctx context.Context, client string) error {
	return m.limiter.Clear(ctx, client)
}
