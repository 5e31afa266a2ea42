// Package etl turns cached API responses into rows in relational item
// tables. A Processor pages unprocessed responses out of a client's
// cache table, hands each matching row to a RowHandler inside its own
// transaction, and records the outcome in the row's processing markers.
// One corrupt response fails only itself; the batch always continues.
package etl

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/seolytics/apicache/internal/sqldb"
	"github.com/seolytics/apicache/pkg/cache"
)

// pageSize bounds how many candidate rows one select fetches.
const pageSize = 100

// RowHandler extracts domain items from one decoded cached response.
// Implementations own their destination tables and the payload format
// of the endpoints they claim.
type RowHandler interface {
	// Name identifies the processor in logs, metrics and status records.
	Name() string

	// EndpointPrefixes is the allow-list matched against the endpoint
	// column. Rows outside it are left untouched for other processors.
	EndpointPrefixes() []string

	// Tables lists the destination item tables, for truncation and counts.
	Tables() []string

	// EnsureTables creates the destination tables and their natural-key
	// indexes if they do not exist yet.
	EnsureTables(ctx context.Context, db *sqldb.DB) error

	// HandleRow parses the decoded response body and upserts the
	// extracted items through up inside tx.
	HandleRow(ctx context.Context, tx sqldb.Tx, up *Upserter, entry *cache.Entry) (Counts, error)
}

// Config tunes a Processor.
type Config struct {
	// Client selects which cache table the processor reads.
	Client string

	// SkipSandbox excludes rows whose base_url points at a sandbox host.
	SkipSandbox bool

	// SandboxMarkers are substrings identifying sandbox origins in
	// base_url. Defaults to ["sandbox"].
	SandboxMarkers []string

	// UpdateIfNewer selects the newer-wins upsert policy instead of
	// insert-or-ignore.
	UpdateIfNewer bool

	// BatchSize bounds rows per insert statement. Zero selects the default.
	BatchSize int
}

// Processor drives one RowHandler over a client's cached responses.
//
// Two processor instances running concurrently over the same endpoints
// can pick up the same unprocessed row; scheduling must prevent overlap
// externally, typically with a single-flight cron lock.
type Processor struct {
	repo    *cache.Repository
	handler RowHandler
	cfg     Config
	up      *Upserter
	logger  zerolog.Logger
}

// New creates a processor for the given handler.
func New(repo *cache.Repository, handler RowHandler, cfg Config, logger zerolog.Logger) *Processor {
	if len(cfg.SandboxMarkers) == 0 {
		cfg.SandboxMarkers = []string{"sandbox"}
	}
	return &Processor{
		repo:    repo,
		handler: handler,
		cfg:     cfg,
		up:      NewUpserter(repo.DB(), cfg.UpdateIfNewer, cfg.BatchSize),
		logger:  logger.With().Str("component", "etl").Str("processor", handler.Name()).Logger(),
	}
}

// rowStatus is the JSON document written into processed_status.
type rowStatus struct {
	Status    string `json:"status"`
	Processor string `json:"processor"`
	Items     int64  `json:"items"`
	Inserted  int64  `json:"inserted,omitempty"`
	Updated   int64  `json:"updated,omitempty"`
	Skipped   int64  `json:"skipped,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ProcessResponses handles up to limit unprocessed responses belonging
// to this processor. Rows outside the endpoint allow-list, or from
// sandbox origins when SkipSandbox is set, are skipped without being
// marked. Row failures are recorded as ERROR status and counted; they
// never abort the batch.
func (p *Processor) ProcessResponses(ctx context.Context, limit int) (*Stats, error) {
	start := time.Now()
	stats := &Stats{RunID: uuid.NewString()}
	logger := p.logger.With().Str("run_id", stats.RunID).Logger()

	if err := p.handler.EnsureTables(ctx, p.repo.DB()); err != nil {
		return stats, fmt.Errorf("ensure item tables: %w", err)
	}

	afterID := int64(0)
	for stats.Processed+stats.Errored < limit {
		entries, err := p.repo.SelectUnprocessed(ctx, p.cfg.Client, afterID, pageSize)
		if err != nil {
			return stats, fmt.Errorf("select unprocessed responses: %w", err)
		}
		if len(entries) == 0 {
			break
		}

		for _, entry := range entries {
			afterID = entry.ID

			if !p.claims(entry) {
				stats.Skipped++
				continue
			}

			counts, err := p.processRow(ctx, logger, entry)
			if err != nil {
				stats.Errored++
				ResponsesProcessed.WithLabelValues(p.handler.Name(), "error").Inc()
				logger.Error().Err(err).
					Int64("response_id", entry.ID).
					Str("endpoint", entry.Endpoint).
					Msg("Response processing failed")
			} else {
				stats.Processed++
				stats.Items.Add(counts)
				ResponsesProcessed.WithLabelValues(p.handler.Name(), "ok").Inc()
				ItemsWritten.WithLabelValues(p.handler.Name(), "inserted").Add(float64(counts.Inserted))
				ItemsWritten.WithLabelValues(p.handler.Name(), "updated").Add(float64(counts.Updated))
				ItemsWritten.WithLabelValues(p.handler.Name(), "skipped").Add(float64(counts.Skipped))
			}

			if stats.Processed+stats.Errored >= limit {
				break
			}
		}
	}

	stats.Duration = time.Since(start)
	BatchDuration.WithLabelValues(p.handler.Name()).Observe(stats.Duration.Seconds())

	logger.Info().
		Int("processed", stats.Processed).
		Int("errored", stats.Errored).
		Int("skipped", stats.Skipped).
		Int64("items_inserted", stats.Items.Inserted).
		Int64("items_updated", stats.Items.Updated).
		Int64("items_skipped", stats.Items.Skipped).
		Dur("duration", stats.Duration).
		Msg("Batch run finished")

	return stats, nil
}

// claims reports whether this processor owns the row.
func (p *Processor) claims(entry *cache.Entry) bool {
	if p.cfg.SkipSandbox {
		base := strings.ToLower(entry.BaseURL)
		for _, marker := range p.cfg.SandboxMarkers {
			if strings.Contains(base, marker) {
				return false
			}
		}
	}

	for _, prefix := range p.handler.EndpointPrefixes() {
		if strings.HasPrefix(entry.Endpoint, prefix) {
			return true
		}
	}
	return false
}

// processRow decodes and handles one response in its own transaction.
// Failures roll the transaction back and stamp an ERROR status on the
// row outside the transaction, so the marker survives the rollback.
func (p *Processor) processRow(ctx context.Context, logger zerolog.Logger, entry *cache.Entry) (Counts, error) {
	if err := p.repo.DecodeEntry(p.cfg.Client, entry); err != nil {
		p.markError(ctx, logger, entry.ID, err)
		return Counts{}, fmt.Errorf("decode response %d: %w", entry.ID, err)
	}

	tx, err := p.repo.DB().BeginTx(ctx, nil)
	if err != nil {
		return Counts{}, fmt.Errorf("begin transaction: %w", err)
	}

	counts, err := p.handler.HandleRow(ctx, tx, p.up, entry)
	if err != nil {
		_ = tx.Rollback()
		p.markError(ctx, logger, entry.ID, err)
		return Counts{}, fmt.Errorf("handle response %d: %w", entry.ID, err)
	}

	status, err := json.Marshal(rowStatus{
		Status:    "OK",
		Processor: p.handler.Name(),
		Items:     counts.Total(),
		Inserted:  counts.Inserted,
		Updated:   counts.Updated,
		Skipped:   counts.Skipped,
	})
	if err != nil {
		_ = tx.Rollback()
		return Counts{}, fmt.Errorf("encode status for response %d: %w", entry.ID, err)
	}

	if err := p.repo.MarkProcessed(ctx, tx, p.cfg.Client, entry.ID, string(status)); err != nil {
		_ = tx.Rollback()
		return Counts{}, err
	}

	if err := tx.Commit(); err != nil {
		return Counts{}, fmt.Errorf("commit response %d: %w", entry.ID, err)
	}

	return counts, nil
}

// markError stamps an ERROR status on a row. Best effort; a row that
// cannot be marked stays unprocessed and is retried next run.
func (p *Processor) markError(ctx context.Context, logger zerolog.Logger, id int64, cause error) {
	status, err := json.Marshal(rowStatus{
		Status:    "ERROR",
		Processor: p.handler.Name(),
		Error:     cause.Error(),
	})
	if err != nil {
		logger.Error().Err(err).Int64("response_id", id).Msg("Failed to encode error status")
		return
	}

	if err := p.repo.MarkProcessed(ctx, p.repo.DB(), p.cfg.Client, id, string(status)); err != nil {
		logger.Error().Err(err).Int64("response_id", id).Msg("Failed to record error status")
	}
}

// ResetProcessed clears processing markers for every row this
// processor's endpoint allow-list matches, forcing reprocessing.
func (p *Processor) ResetProcessed(ctx context.Context) (int64, error) {
	return p.repo.ResetProcessed(ctx, p.cfg.Client, p.handler.EndpointPrefixes())
}

// ClearProcessedTables truncates the destination item tables. With
// withCount set it returns the per-table row counts from before the
// truncation.
func (p *Processor) ClearProcessedTables(ctx context.Context, withCount bool) (map[string]int64, error) {
	if err := p.handler.EnsureTables(ctx, p.repo.DB()); err != nil {
		return nil, fmt.Errorf("ensure item tables: %w", err)
	}

	counts := make(map[string]int64, len(p.handler.Tables()))
	db := p.repo.DB()

	for _, table := range p.handler.Tables() {
		if withCount {
			var n int64
			row := db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table))
			if err := row.Scan(&n); err != nil {
				return nil, fmt.Errorf("count rows in %s: %w", table, err)
			}
			counts[table] = n
		}

		if _, err := db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, table)); err != nil {
			return nil, fmt.Errorf("clear table %s: %w", table, err)
		}
	}

	p.logger.Info().Strs("tables", p.handler.Tables()).Msg("Item tables cleared")
	return counts, nil
}
