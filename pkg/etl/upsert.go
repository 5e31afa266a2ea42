package etl

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/seolytics/apicache/internal/sqldb"
)

// defaultChunkSize bounds how many rows one insert statement carries.
const defaultChunkSize = 100

// Item is one candidate row for a destination table. Columns and Values
// must align positionally and include the natural-key columns and
// created_at. NaturalKey returns the column/value pairs that identify
// the row for conflict detection.
type Item interface {
	Table() string
	Columns() []string
	Values() []any
	NaturalKey() map[string]any
	CreatedAt() time.Time
}

// Upserter writes item batches using one of two conflict policies.
//
// With updateIfNewer disabled it runs chunked insert-or-ignore
// statements and derives inserted vs skipped from the affected row
// count. With updateIfNewer enabled it performs an explicit
// read-compare-write per item: insert when no row matches the natural
// key, update when the candidate's created_at is greater than or equal
// to the stored one, skip otherwise. The comparison is deliberately not
// a single SQL upsert so the newer-wins rule behaves identically on
// every backend.
type Upserter struct {
	db            *sqldb.DB
	updateIfNewer bool
	chunkSize     int
}

// NewUpserter creates an upserter bound to a database dialect.
// chunkSize <= 0 selects the default.
func NewUpserter(db *sqldb.DB, updateIfNewer bool, chunkSize int) *Upserter {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	return &Upserter{db: db, updateIfNewer: updateIfNewer, chunkSize: chunkSize}
}

// Upsert writes the items through tx. All items in one call must target
// the same table with the same column set; callers with multiple
// destination tables make one call per table.
func (u *Upserter) Upsert(ctx context.Context, tx sqldb.Tx, items []Item) (Counts, error) {
	if len(items) == 0 {
		return Counts{}, nil
	}

	if u.updateIfNewer {
		return u.upsertNewerWins(ctx, tx, items)
	}
	return u.insertIgnore(ctx, tx, items)
}

func (u *Upserter) insertIgnore(ctx context.Context, tx sqldb.Tx, items []Item) (Counts, error) {
	var counts Counts
	columns := items[0].Columns()

	for start := 0; start < len(items); start += u.chunkSize {
		end := start + u.chunkSize
		if end > len(items) {
			end = len(items)
		}
		chunk := items[start:end]

		query := u.db.InsertIgnore(items[0].Table(), columns, len(chunk))
		args := make([]any, 0, len(chunk)*len(columns))
		for _, it := range chunk {
			args = append(args, it.Values()...)
		}

		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return counts, fmt.Errorf("insert into %s: %w", items[0].Table(), err)
		}

		inserted, err := res.RowsAffected()
		if err != nil {
			return counts, fmt.Errorf("count inserted rows: %w", err)
		}
		counts.Inserted += inserted
		counts.Skipped += int64(len(chunk)) - inserted
	}

	return counts, nil
}

func (u *Upserter) upsertNewerWins(ctx context.Context, tx sqldb.Tx, items []Item) (Counts, error) {
	var counts Counts

	for _, it := range items {
		keyCols, keyArgs := orderedKey(it.NaturalKey())
		where := make([]string, len(keyCols))
		for i, col := range keyCols {
			where[i] = col + " = ?"
		}
		whereClause := strings.Join(where, " AND ")

		query := u.db.Rebind(fmt.Sprintf(
			`SELECT created_at FROM %s WHERE %s`, it.Table(), whereClause))

		var existing time.Time
		err := tx.QueryRowContext(ctx, query, keyArgs...).Scan(&existing)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			// Insert-or-ignore keeps a concurrent writer from failing us;
			// zero affected rows means someone else won the insert.
			res, err := tx.ExecContext(ctx,
				u.db.InsertIgnore(it.Table(), it.Columns(), 1), it.Values()...)
			if err != nil {
				return counts, fmt.Errorf("insert into %s: %w", it.Table(), err)
			}
			n, _ := res.RowsAffected()
			if n > 0 {
				counts.Inserted++
			} else {
				counts.Skipped++
			}

		case err != nil:
			return counts, fmt.Errorf("look up existing row in %s: %w", it.Table(), err)

		case !it.CreatedAt().Before(existing):
			if err := u.updateItem(ctx, tx, it, whereClause, keyArgs); err != nil {
				return counts, err
			}
			counts.Updated++

		default:
			counts.Skipped++
		}
	}

	return counts, nil
}

func (u *Upserter) updateItem(ctx context.Context, tx sqldb.Tx, it Item, whereClause string, keyArgs []any) error {
	columns := it.Columns()
	sets := make([]string, len(columns))
	for i, col := range columns {
		sets[i] = col + " = ?"
	}

	query := u.db.Rebind(fmt.Sprintf(
		`UPDATE %s SET %s WHERE %s`, it.Table(), strings.Join(sets, ", "), whereClause))

	args := make([]any, 0, len(columns)+len(keyArgs))
	args = append(args, it.Values()...)
	args = append(args, keyArgs...)

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update row in %s: %w", it.Table(), err)
	}
	return nil
}

// orderedKey flattens a natural key map into sorted column and value
// slices so generated SQL is deterministic.
func orderedKey(key map[string]any) ([]string, []any) {
	cols := make([]string, 0, len(key))
	for col := range key {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	args := make([]any, len(cols))
	for i, col := range cols {
		args[i] = key[col]
	}
	return cols, args
}
