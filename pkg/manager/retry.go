package manager

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for upstream retry behavior.
var (
	fetchRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "apicache_fetch_retries_total",
		Help: "Total number of upstream retry attempts by error class",
	}, []string{"error_class"})

	fetchRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "apicache_fetch_retry_backoff_seconds",
		Help:    "Backoff duration before upstream retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	fetchRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "apicache_fetch_retry_exhausted_total",
		Help: "Total number of upstream calls that exhausted retry attempts",
	}, []string{"error_class"})
)

// ErrRetryExhausted is returned when all retry attempts are exhausted
// without a usable response.
var ErrRetryExhausted = errors.New("retry attempts exhausted")

// ErrorClass classifies an upstream call outcome for retry decisions.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx responses; retrying wastes budget.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx responses.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassNetwork represents transport failures without a response.
	ErrorClassNetwork ErrorClass = "network"
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts including the initial call.
	MaxAttempts int

	// InitialBackoff is the first backoff duration.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential backoff.
	MaxBackoff time.Duration

	// BackoffMultiplier grows the backoff between attempts.
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// classify maps an exec outcome to an error class. Returns "" for
// outcomes that need no retry (success and 3xx).
func classify(result *Result, err error) ErrorClass {
	if err != nil {
		return ErrorClassNetwork
	}
	switch {
	case result.StatusCode >= 500:
		return ErrorClassServer
	case result.StatusCode >= 400:
		return ErrorClassClient
	default:
		return ""
	}
}

// shouldRetry reports whether an error class is transient.
func shouldRetry(class ErrorClass) bool {
	return class == ErrorClassServer || class == ErrorClassNetwork
}

// execWithRetry runs exec with exponential backoff on transient failures.
// Client-error responses (4xx) come back on the first attempt so the
// caller can store and surface them; only 5xx and transport failures are
// retried. A 5xx response that survives all attempts is still returned as
// a result so it can be cached.
func (m *Manager) execWithRetry(ctx context.Context, cfg RetryConfig, client string, exec ExecFunc) (*Result, error) {
	var (
		lastResult *Result
		lastErr    error
		lastClass  ErrorClass
	)
	backoff := cfg.InitialBackoff

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		result, err := exec(ctx)
		class := classify(result, err)

		if !shouldRetry(class) {
			if attempt > 1 {
				m.logger.Info().
					Str("client", client).
					Int("attempt", attempt).
					Msg("Upstream call succeeded after retry")
			}
			return result, err
		}

		lastResult, lastErr, lastClass = result, err, class

		if attempt >= cfg.MaxAttempts {
			break
		}

		fetchRetriesTotal.WithLabelValues(string(class)).Inc()

		// ±20% jitter to avoid thundering herd
		jitter := time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))
		fetchRetryBackoffSeconds.WithLabelValues(string(class)).Observe(jitter.Seconds())

		m.logger.Warn().
			Str("client", client).
			Str("error_class", string(class)).
			Int("attempt", attempt).
			Dur("backoff", jitter).
			Msg("Retrying upstream call after backoff")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(jitter):
		}

		backoff = time.Duration(float64(backoff) * cfg.BackoffMultiplier)
		if backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}

	fetchRetryExhaustedTotal.WithLabelValues(string(lastClass)).Inc()

	if lastResult != nil {
		// The upstream answered, just badly. Hand the response back so
		// the caller can store and surface it.
		return lastResult, nil
	}
	return nil, fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, cfg.MaxAttempts, lastErr)
}
