package cache

// ETL support surface. Processors read unprocessed rows and update the
// processing markers through these methods; they never touch the stored
// request or response payloads.

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/seolytics/apicache/internal/sqldb"
)

// resetChunkSize bounds how many row ids a single reset UPDATE names.
const resetChunkSize = 100

// SelectUnprocessed returns up to limit unprocessed, successful rows with
// id greater than afterID, in id order. Entries come back with raw
// payloads; callers decode each row with DecodeEntry so one corrupt blob
// fails only its own row. Endpoint filtering happens in application code,
// so rows belonging to other processors are simply skipped by the caller.
func (r *Repository) SelectUnprocessed(ctx context.Context, client string, afterID int64, limit int) ([]*Entry, error) {
	table, err := r.ensureTable(ctx, client)
	if err != nil {
		return nil, err
	}

	query := r.db.Rebind(fmt.Sprintf(
		`SELECT %s FROM %s
		 WHERE id > ? AND processed_at IS NULL AND response_status_code = 200
		 ORDER BY id ASC LIMIT ?`,
		entryColumns, table))

	rows, err := r.db.QueryContext(ctx, query, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("select unprocessed from %s: %w", table, err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan unprocessed row: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unprocessed rows: %w", err)
	}

	return entries, nil
}

// MarkProcessed stamps one row as consumed. status is the JSON document
// recorded in processed_status ({"status":"OK",...} or
// {"status":"ERROR",...}). Runs against the given execer so processors can
// mark rows inside their per-row transaction.
func (r *Repository) MarkProcessed(ctx context.Context, q sqldb.Execer, client string, id int64, status string) error {
	table := r.Table(client)
	now := time.Now().UTC()

	query := r.db.Rebind(fmt.Sprintf(
		`UPDATE %s SET processed_at = ?, processed_status = ?, updated_at = ? WHERE id = ?`, table))

	if _, err := q.ExecContext(ctx, query, now, status, now, id); err != nil {
		return fmt.Errorf("mark row %d processed in %s: %w", id, table, err)
	}
	return nil
}

// ResetProcessed clears the processing markers for rows whose endpoint
// matches one of the given prefixes, forcing reprocessing. An empty prefix
// list matches every processed row. Returns the number of rows reset.
func (r *Repository) ResetProcessed(ctx context.Context, client string, prefixes []string) (int64, error) {
	table, err := r.ensureTable(ctx, client)
	if err != nil {
		return 0, err
	}

	// Prefix matching runs in application code: collect matching ids first,
	// then clear markers in bounded chunks.
	var ids []int64
	afterID := int64(0)
	for {
		query := r.db.Rebind(fmt.Sprintf(
			`SELECT id, endpoint FROM %s WHERE id > ? AND processed_at IS NOT NULL ORDER BY id ASC LIMIT ?`, table))

		rows, err := r.db.QueryContext(ctx, query, afterID, resetChunkSize)
		if err != nil {
			return 0, fmt.Errorf("select processed rows from %s: %w", table, err)
		}

		fetched := 0
		for rows.Next() {
			var id int64
			var endpoint string
			if err := rows.Scan(&id, &endpoint); err != nil {
				rows.Close()
				return 0, fmt.Errorf("scan processed row: %w", err)
			}
			fetched++
			afterID = id
			if matchesPrefix(endpoint, prefixes) {
				ids = append(ids, id)
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return 0, fmt.Errorf("iterate processed rows: %w", err)
		}
		rows.Close()

		if fetched < resetChunkSize {
			break
		}
	}

	var reset int64
	for start := 0; start < len(ids); start += resetChunkSize {
		end := start + resetChunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(chunk)), ", ")
		query := r.db.Rebind(fmt.Sprintf(
			`UPDATE %s SET processed_at = NULL, processed_status = NULL, updated_at = ? WHERE id IN (%s)`,
			table, placeholders))

		args := make([]any, 0, len(chunk)+1)
		args = append(args, time.Now().UTC())
		for _, id := range chunk {
			args = append(args, id)
		}

		res, err := r.db.ExecContext(ctx, query, args...)
		if err != nil {
			return reset, fmt.Errorf("reset processed rows in %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		reset += n
	}

	if reset > 0 {
		r.logger.Info().
			Str("client", client).
			Int64("reset", reset).
			Msg("Processing markers cleared")
	}

	return reset, nil
}

// matchesPrefix reports whether endpoint starts with any of the prefixes.
// An empty prefix list matches everything.
func matchesPrefix(endpoint string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if strings.HasPrefix(endpoint, p) {
			return true
		}
	}
	return false
}
