package batch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/seolytics/apicache/pkg/manager"
	"github.com/seolytics/apicache/pkg/ratelimit"
)

// Config holds fetcher configuration.
type Config struct {
	// MaxConcurrency is the maximum number of parallel requests.
	MaxConcurrency int

	// Timeout per request.
	Timeout time.Duration

	// WaitOnRateLimit makes workers sleep through rate-limit denials
	// instead of recording them as failures.
	WaitOnRateLimit bool

	// MaxRateLimitWait caps a single rate-limit sleep. A denial asking
	// for a longer wait fails the payload.
	MaxRateLimitWait time.Duration
}

// DefaultConfig returns safe defaults for bulk jobs.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency:   5,
		Timeout:          60 * time.Second,
		WaitOnRateLimit:  true,
		MaxRateLimitWait: 2 * time.Minute,
	}
}

// Poster issues one POST request. *client.Client satisfies it.
type Poster interface {
	Post(ctx context.Context, endpoint string, payload map[string]any) (*manager.Response, error)
}

// Result is the outcome for one payload, in input order.
type Result struct {
	Index    int
	Response *manager.Response
	Err      error
}

// Fetcher distributes payloads across a worker pool.
type Fetcher struct {
	poster Poster
	config Config
	logger zerolog.Logger
}

// NewFetcher creates a batch fetcher.
func NewFetcher(poster Poster, config Config, logger zerolog.Logger) *Fetcher {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 5
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.MaxRateLimitWait <= 0 {
		config.MaxRateLimitWait = 2 * time.Minute
	}

	return &Fetcher{
		poster: poster,
		config: config,
		logger: logger.With().Str("component", "batch").Logger(),
	}
}

// FetchAll posts every payload to the endpoint and returns one result
// per payload, ordered by input index. Individual failures are recorded
// in their result; only context cancellation aborts the run early.
func (f *Fetcher) FetchAll(ctx context.Context, endpoint string, payloads []map[string]any) ([]Result, error) {
	start := time.Now()
	results := make([]Result, len(payloads))

	f.logger.Info().
		Str("endpoint", endpoint).
		Int("payloads", len(payloads)).
		Int("workers", f.config.MaxConcurrency).
		Msg("Starting batch fetch")

	queue := make(chan int, len(payloads))
	for i := range payloads {
		queue <- i
	}
	close(queue)

	var wg sync.WaitGroup
	for w := 0; w < f.config.MaxConcurrency; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			f.worker(ctx, workerID, endpoint, payloads, queue, results)
		}(w)
	}
	wg.Wait()

	failed := 0
	cached := 0
	for i := range results {
		if results[i].Err != nil {
			failed++
		} else if results[i].Response.Cached {
			cached++
		}
	}

	f.logger.Info().
		Str("endpoint", endpoint).
		Int("payloads", len(payloads)).
		Int("failed", failed).
		Int("cached", cached).
		Dur("duration", time.Since(start)).
		Msg("Batch fetch complete")

	return results, ctx.Err()
}

func (f *Fetcher) worker(ctx context.Context, workerID int, endpoint string, payloads []map[string]any, queue <-chan int, results []Result) {
	for idx := range queue {
		select {
		case <-ctx.Done():
			results[idx] = Result{Index: idx, Err: ctx.Err()}
			continue
		default:
		}

		results[idx] = f.fetchOne(ctx, endpoint, payloads[idx], idx)
		if results[idx].Err != nil {
			f.logger.Warn().
				Err(results[idx].Err).
				Int("worker_id", workerID).
				Int("payload", idx).
				Msg("Payload fetch failed")
		}
	}
}

// fetchOne posts a single payload, sleeping through rate-limit denials
// when configured.
func (f *Fetcher) fetchOne(ctx context.Context, endpoint string, payload map[string]any, idx int) Result {
	for {
		reqCtx, cancel := context.WithTimeout(ctx, f.config.Timeout)
		resp, err := f.poster.Post(reqCtx, endpoint, payload)
		cancel()

		var exceeded *ratelimit.ExceededError
		if err != nil && errors.As(err, &exceeded) && f.config.WaitOnRateLimit {
			if exceeded.AvailableIn > f.config.MaxRateLimitWait {
				return Result{Index: idx, Err: err}
			}

			wait := exceeded.AvailableIn
			if wait <= 0 {
				wait = time.Second
			}

			f.logger.Debug().
				Int("payload", idx).
				Dur("wait", wait).
				Msg("Rate limited, waiting for window")

			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return Result{Index: idx, Err: ctx.Err()}
			}
		}

		return Result{Index: idx, Response: resp, Err: err}
	}
}
