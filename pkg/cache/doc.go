// Package cache persists upstream API responses in per-client relational
// tables and retrieves them by deterministic cache key.
//
// The repository implements the storage side of the request path with the
// following features:
//
// - Per-client response tables, derived deterministically from the client id
// - Physically separate tables for compressed and uncompressed storage
// - TTL-based expiry with explicit cleanup of expired rows
// - Transparent gzip compression of header and body payloads
// - Processing markers consumed by the batch ETL processors
// - Prometheus metrics for observability
//
// # Basic Usage
//
//	db, err := sqldb.Open(ctx, sqldb.DriverSQLite, "cache.db")
//	if err != nil {
//		return err
//	}
//
//	settings := config.NewSettings(config.DefaultClientConfig())
//	repo := cache.NewRepository(db, settings, cache.DefaultTablePrefix)
//
//	// Store a response
//	err = repo.Store(ctx, "demo", key, cache.Metadata{
//		Endpoint:           "/users",
//		ResponseStatusCode: 200,
//		ResponseBody:       body,
//	}, config.TTL(3600))
//
//	// Read it back
//	entry, err := repo.Get(ctx, "demo", key)
//	if errors.Is(err, cache.ErrNotFound) {
//		// Cache miss - perform the upstream call
//	}
//
// # Table Identity
//
// A client's table name encodes both the client id and the compression mode:
//
//	api_cache_demo_responses
//	api_cache_demo_responses_compressed
//
// The two tables never mix payload encodings, so rows carry no compression
// flag. Identifiers are sanitized and truncated to the 64-character budget
// common to MySQL, PostgreSQL, and SQLite deployments.
//
// # Metrics
//
// The repository exports Prometheus metrics:
//
//   - apicache_store_total{client} - Stored responses
//   - apicache_hits_total{client} - Cache hits
//   - apicache_misses_total{client} - Cache misses
//   - apicache_errors_total{operation} - Storage operation errors
//   - apicache_expired_deleted_total{client} - Rows removed by cleanup
package cache
