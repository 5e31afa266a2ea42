package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/seolytics/apicache/pkg/config"
)

// Prometheus metrics for rate-limit decisions.
var (
	rateLimitAllowedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "apicache_ratelimit_allowed_total",
		Help: "Total number of requests allowed by the rate limiter",
	}, []string{"client"})

	rateLimitDeniedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "apicache_ratelimit_denied_total",
		Help: "Total number of requests denied by the rate limiter",
	}, []string{"client"})
)

// ExceededError signals that a client's window is exhausted. It carries
// the retry-after duration so callers can back off; well-behaved callers
// treat it as expected control flow, not a bug.
type ExceededError struct {
	Client      string
	AvailableIn time.Duration
}

// Error implements the error interface.
func (e *ExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for client %q, available in %s", e.Client, e.AvailableIn)
}

// Service enforces per-client fixed-window limits. AllowRequest never
// mutates state; counting happens only through IncrementAttempts, so a
// denied caller costs nothing against the window.
type Service struct {
	store    CounterStore
	settings *config.Settings
	logger   zerolog.Logger
}

// NewService creates a rate-limit service over the given counter store.
func NewService(store CounterStore, settings *config.Settings, logger zerolog.Logger) *Service {
	return &Service{
		store:    store,
		settings: settings,
		logger:   logger,
	}
}

// AllowRequest reports whether the client has attempts left in the active
// window. Pure predicate: it reads the counter and nothing else.
func (s *Service) AllowRequest(ctx context.Context, client string) (bool, error) {
	cfg := s.settings.Client(client)

	count, err := s.store.Count(ctx, client)
	if err != nil {
		return false, fmt.Errorf("read counter for %s: %w", client, err)
	}

	allowed := count < int64(cfg.RateLimitMaxAttempts)
	if allowed {
		rateLimitAllowedTotal.WithLabelValues(client).Inc()
	} else {
		rateLimitDeniedTotal.WithLabelValues(client).Inc()
		s.logger.Warn().
			Str("client", client).
			Int64("count", count).
			Int("max_attempts", cfg.RateLimitMaxAttempts).
			Msg("Rate limit denial")
	}

	return allowed, nil
}

// IncrementAttempts counts attempts against the client's window. The
// store's increment is atomic, so concurrent callers never lose updates.
func (s *Service) IncrementAttempts(ctx context.Context, client string, amount int64) error {
	cfg := s.settings.Client(client)
	window := time.Duration(cfg.RateLimitDecaySeconds) * time.Second

	count, err := s.store.Increment(ctx, client, amount, window)
	if err != nil {
		return fmt.Errorf("increment counter for %s: %w", client, err)
	}

	s.logger.Debug().
		Str("client", client).
		Int64("count", count).
		Msg("Rate limit attempts incremented")

	return nil
}

// RemainingAttempts returns how many attempts are left in the window.
// Never negative, even after over-incrementing past the maximum.
func (s *Service) RemainingAttempts(ctx context.Context, client string) (int64, error) {
	cfg := s.settings.Client(client)

	count, err := s.store.Count(ctx, client)
	if err != nil {
		return 0, fmt.Errorf("read counter for %s: %w", client, err)
	}

	remaining := int64(cfg.RateLimitMaxAttempts) - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// AvailableIn returns how long until the client may send again: zero when
// the client is currently allowed, otherwise the time until the window
// resets.
func (s *Service) AvailableIn(ctx context.Context, client string) (time.Duration, error) {
	cfg := s.settings.Client(client)

	count, err := s.store.Count(ctx, client)
	if err != nil {
		return 0, fmt.Errorf("read counter for %s: %w", client, err)
	}
	if count < int64(cfg.RateLimitMaxAttempts) {
		return 0, nil
	}
	return s.store.TTL(ctx, client)
}

// Clear resets the client's counter and window.
func (s *Service) Clear(ctx context.Context, client string) error {
	if err := s.store.Clear(ctx, client); err != nil {
		return fmt.Errorf("clear counter for %s: %w", client, err)
	}
	return nil
}
