package manager

import (
	"context"
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/seolytics/apicache/pkg/cache"
	"github.com/seolytics/apicache/pkg/ratelimit"
)

// Prometheus metrics for the request path.
var (
	fetchRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "apicache_fetch_requests_total",
		Help: "Total upstream requests executed by client and HTTP status",
	}, []string{"client", "status"})

	fetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "apicache_fetch_duration_seconds",
		Help:    "Upstream request duration in seconds by client",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"client"})
)

// Result is what an ExecFunc hands back from one upstream HTTP call.
type Result struct {
	StatusCode     int
	Headers        map[string]any
	Body           []byte
	ResponseTime   float64 // seconds
	Method         string
	FullURL        string
	RequestHeaders map[string]any
	RequestBody    []byte
}

// ExecFunc performs the actual upstream HTTP call on a cache miss. The
// transport, auth, and timeouts belong to the API client, not the manager.
type ExecFunc func(ctx context.Context) (*Result, error)

// Response is the outcome of Fetch, from cache or fresh.
type Response struct {
	Key        string
	StatusCode int
	Headers    map[string]any
	Body       []byte
	Cached     bool
}

// Fetch drives the full request path: check the rate limit, compute the
// cache key, return a cached response if present, otherwise execute the
// upstream call, store the result, and count the attempt.
//
// A rate-limit denial comes back as *ratelimit.ExceededError carrying the
// retry-after duration. Storage and downstream failures propagate; the
// cache layer never masks them as misses.
func (m *Manager) Fetch(ctx context.Context, client, endpoint string, params map[string]any, exec ExecFunc) (*Response, error) {
	allowed, err := m.limiter.AllowRequest(ctx, client)
	if err != nil {
		return nil, err
	}
	if !allowed {
		availableIn, err := m.limiter.AvailableIn(ctx, client)
		if err != nil {
			return nil, err
		}
		return nil, &ratelimit.ExceededError{Client: client, AvailableIn: availableIn}
	}

	key, err := GenerateCacheKey(client, endpoint, params)
	if err != nil {
		return nil, err
	}

	entry, err := m.repo.Get(ctx, client, key)
	if err == nil {
		m.logger.Info().
			Str("client", client).
			Str("endpoint", endpoint).
			Str("cache_key", key).
			Msg("Cache hit, upstream call skipped")
		return &Response{
			Key:        key,
			StatusCode: entry.ResponseStatusCode,
			Headers:    entry.ResponseHeaders,
			Body:       entry.ResponseBody,
			Cached:     true,
		}, nil
	}
	if !errors.Is(err, cache.ErrNotFound) {
		return nil, err
	}

	result, err := m.execWithRetry(ctx, m.retry, client, exec)
	if err != nil {
		return nil, err
	}

	fetchRequestsTotal.WithLabelValues(client, strconv.Itoa(result.StatusCode)).Inc()
	fetchDuration.WithLabelValues(client).Observe(result.ResponseTime)

	cfg := m.settings.Client(client)
	meta := cache.Metadata{
		Version:            cfg.Version,
		Endpoint:           endpoint,
		BaseURL:            cfg.BaseURL,
		FullURL:            result.FullURL,
		Method:             result.Method,
		RequestHeaders:     result.RequestHeaders,
		RequestBody:        result.RequestBody,
		ResponseStatusCode: result.StatusCode,
		ResponseHeaders:    result.Headers,
		ResponseBody:       result.Body,
		ResponseTime:       result.ResponseTime,
	}

	if err := m.StoreResponse(ctx, client, key, meta, nil); err != nil {
		return nil, err
	}

	if err := m.limiter.IncrementAttempts(ctx, client, 1); err != nil {
		return nil, err
	}

	return &Response{
		Key:        key,
		StatusCode: result.StatusCode,
		Headers:    result.Headers,
		Body:       result.Body,
		Cached:     false,
	}, nil
}
