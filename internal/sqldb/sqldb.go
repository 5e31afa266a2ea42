// Package sqldb owns driver selection and SQL dialect differences for the
// relational storage backends. Repository and ETL code writes queries with
// `?` placeholders and lets the dialect rebind them, so the same code runs
// against SQLite and PostgreSQL.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Driver identifies a supported storage engine.
type Driver string

const (
	// DriverSQLite uses the pure-Go modernc.org/sqlite driver.
	DriverSQLite Driver = "sqlite"

	// DriverPostgres uses jackc/pgx through its database/sql adapter.
	DriverPostgres Driver = "pgx"
)

// Execer is the subset of *sql.DB and *sql.Tx needed to run statements,
// so repository methods work inside and outside transactions.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Tx adds single-row reads to Execer. Both *sql.DB and *sql.Tx satisfy
// it, so upsert code that reads before writing runs in either context.
type Tx interface {
	Execer
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB wraps *sql.DB with the dialect of the driver it was opened with.
type DB struct {
	*sql.DB
	driver Driver
}

// Open opens a database connection for the given driver and DSN and
// verifies it with a ping.
func Open(ctx context.Context, driver Driver, dsn string) (*DB, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}

	db, err := sql.Open(string(driver), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s database: %w", driver, err)
	}

	return &DB{DB: db, driver: driver}, nil
}

// Driver returns the driver this database was opened with.
func (d *DB) Driver() Driver {
	return d.driver
}

// Rebind converts `?` placeholders to the driver's native style.
// SQLite queries pass through unchanged; PostgreSQL gets $1..$n.
func (d *DB) Rebind(query string) string {
	if d.driver != DriverPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// InsertIgnore builds a multi-row insert statement that silently skips rows
// violating a unique constraint. Placeholders are already in the driver's
// native style; callers must not Rebind the result.
func (d *DB) InsertIgnore(table string, columns []string, rows int) string {
	var b strings.Builder

	if d.driver == DriverSQLite {
		b.WriteString("INSERT OR IGNORE INTO ")
	} else {
		b.WriteString("INSERT INTO ")
	}
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(strings.Join(columns, ", "))
	b.WriteString(") VALUES ")

	n := 0
	for r := 0; r < rows; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for c := range columns {
			if c > 0 {
				b.WriteString(", ")
			}
			n++
			if d.driver == DriverPostgres {
				b.WriteString("$")
				b.WriteString(strconv.Itoa(n))
			} else {
				b.WriteString("?")
			}
		}
		b.WriteString(")")
	}

	if d.driver == DriverPostgres {
		b.WriteString(" ON CONFLICT DO NOTHING")
	}

	return b.String()
}

// TypeAutoID returns the column definition for an auto-incrementing
// integer primary key.
func (d *DB) TypeAutoID() string {
	if d.driver == DriverPostgres {
		return "BIGSERIAL PRIMARY KEY"
	}
	return "INTEGER PRIMARY KEY AUTOINCREMENT"
}

// TypeBlob returns the column type for opaque byte payloads.
func (d *DB) TypeBlob() string {
	if d.driver == DriverPostgres {
		return "BYTEA"
	}
	return "BLOB"
}

// TypeTimestamp returns the column type for timestamps.
func (d *DB) TypeTimestamp() string {
	if d.driver == DriverPostgres {
		return "TIMESTAMPTZ"
	}
	return "DATETIME"
}
