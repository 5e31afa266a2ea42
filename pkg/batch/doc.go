// Package batch provides parallel fan-out of many API requests through
// a shared, cache-backed client.
//
// Bulk jobs (refreshing thousands of keywords, re-crawling a SERP set)
// issue one request per payload. This package implements a worker pool
// that distributes the payloads across a bounded number of workers,
// waits out rate-limit denials instead of failing, and collects per-
// payload results.
//
// Example usage:
//
//	fetcher := batch.NewFetcher(apiClient, batch.DefaultConfig())
//	results, err := fetcher.FetchAll(ctx, "serp/google/organic/live", payloads)
//
// The fetcher:
//   - Spawns a worker pool (default 5 workers)
//   - Distributes payloads across workers
//   - Sleeps through rate-limit denials when WaitOnRateLimit is set
//   - Returns one result per payload, failed or not
package batch
