package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StoreTotal tracks stored responses by client
	StoreTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apicache_store_total",
			Help: "Total number of API responses stored in the cache",
		},
		[]string{"client"},
	)

	// CacheHits tracks cache hits by client
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apicache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"client"},
	)

	// CacheMisses tracks cache misses by client
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apicache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"client"},
	)

	// CacheErrors tracks storage operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apicache_errors_total",
			Help: "Total number of cache storage operation errors",
		},
		[]string{"operation"}, // "store", "get", "cleanup"
	)

	// ExpiredDeleted tracks rows removed by expiry cleanup
	ExpiredDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apicache_expired_deleted_total",
			Help: "Total number of expired cache rows deleted",
		},
		[]string{"client"},
	)
)
