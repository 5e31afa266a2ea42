package etl

import "time"

// Counts aggregates item-level upsert outcomes.
type Counts struct {
	Inserted int64
	Updated  int64
	Skipped  int64
}

// Total returns the number of items seen. Inserted, Updated and Skipped
// always sum to Total; every candidate item lands in exactly one bucket.
func (c Counts) Total() int64 {
	return c.Inserted + c.Updated + c.Skipped
}

// Add accumulates another set of counts.
func (c *Counts) Add(o Counts) {
	c.Inserted += o.Inserted
	c.Updated += o.Updated
	c.Skipped += o.Skipped
}

// Stats summarizes one ProcessResponses run.
type Stats struct {
	// RunID identifies the batch in logs.
	RunID string

	// Processed counts responses handled successfully.
	Processed int

	// Errored counts responses that failed parsing or extraction. These
	// rows carry an ERROR status and do not abort the batch.
	Errored int

	// Skipped counts rows whose endpoint or origin excluded them from
	// this processor. They stay unprocessed for other processors.
	Skipped int

	// Items aggregates upsert outcomes across all processed responses.
	Items Counts

	Duration time.Duration
}
