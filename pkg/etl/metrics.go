package etl

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ResponsesProcessed tracks handled responses by processor and outcome
	ResponsesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apicache_etl_responses_total",
			Help: "Total number of cached responses consumed by ETL processors",
		},
		[]string{"processor", "status"}, // "ok", "error"
	)

	// ItemsWritten tracks item upsert outcomes by processor
	ItemsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apicache_etl_items_total",
			Help: "Total number of extracted items by upsert outcome",
		},
		[]string{"processor", "outcome"}, // "inserted", "updated", "skipped"
	)

	// BatchDuration tracks ProcessResponses run time by processor
	BatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "apicache_etl_batch_duration_seconds",
			Help:    "Duration of ETL batch runs",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"processor"},
	)
)
