// Package metrics provides the centralized Prometheus metrics registry
// for the API cache core. All metrics are defined in their respective
// packages (cache, ratelimit, manager, etl) to maintain modularity and
// avoid circular dependencies.
//
// This package provides documentation and reference for all available
// metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the module.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Cache Metrics (pkg/cache):
//   - apicache_store_total{client} (Counter): Responses stored in the cache
//   - apicache_hits_total{client} (Counter): Cache hits
//   - apicache_misses_total{client} (Counter): Cache misses
//   - apicache_errors_total{operation} (Counter): Storage operation errors (store, get, cleanup)
//   - apicache_expired_deleted_total{client} (Counter): Expired rows removed by cleanup
//
// Rate Limit Metrics (pkg/ratelimit):
//   - apicache_ratelimit_allowed_total{client} (Counter): Requests allowed through the limiter
//   - apicache_ratelimit_denied_total{client} (Counter): Requests denied by the limiter
//
// Request Metrics (pkg/manager):
//   - apicache_fetch_requests_total{client, status} (Counter): Upstream requests by HTTP status
//   - apicache_fetch_duration_seconds{client} (Histogram): Upstream request duration
//
// Retry Metrics (pkg/manager):
//   - apicache_fetch_retries_total{error_class} (Counter): Retry attempts by error class
//   - apicache_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - apicache_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// ETL Metrics (pkg/etl):
//   - apicache_etl_responses_total{processor, status} (Counter): Responses consumed by processors
//   - apicache_etl_items_total{processor, outcome} (Counter): Extracted items by upsert outcome
//   - apicache_etl_batch_duration_seconds{processor} (Histogram): Batch run duration
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(apicache_hits_total[5m])) /
//   (sum(rate(apicache_hits_total[5m])) + sum(rate(apicache_misses_total[5m])))
//
//   # Rate Limit Denial Rate
//   rate(apicache_ratelimit_denied_total[5m])
//
//   # P95 Upstream Latency
//   histogram_quantile(0.95, rate(apicache_fetch_duration_seconds_bucket[5m]))
//
//   # ETL Error Share
//   sum(rate(apicache_etl_responses_total{status="error"}[5m])) /
//   sum(rate(apicache_etl_responses_total[5m]))
