package sqldb

import (
	"context"
	"testing"
)

func TestOpen_SQLiteMemory(t *testing.T) {
	db, err := Open(context.Background(), DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	if db.Driver() != DriverSQLite {
		t.Errorf("Driver() = %q, want %q", db.Driver(), DriverSQLite)
	}
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), Driver("mysql"), "dsn")
	if err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	tests := []struct {
		name   string
		driver Driver
		query  string
		want   string
	}{
		{
			name:   "sqlite passthrough",
			driver: DriverSQLite,
			query:  "SELECT a FROM t WHERE b = ? AND c = ?",
			want:   "SELECT a FROM t WHERE b = ? AND c = ?",
		},
		{
			name:   "postgres numbering",
			driver: DriverPostgres,
			query:  "SELECT a FROM t WHERE b = ? AND c = ?",
			want:   "SELECT a FROM t WHERE b = $1 AND c = $2",
		},
		{
			name:   "postgres no placeholders",
			driver: DriverPostgres,
			query:  "DELETE FROM t",
			want:   "DELETE FROM t",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := &DB{driver: tt.driver}
			if got := db.Rebind(tt.query); got != tt.want {
				t.Errorf("Rebind() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestInsertIgnore(t *testing.T) {
	cols := []string{"a", "b"}

	sqlite := &DB{driver: DriverSQLite}
	got := sqlite.InsertIgnore("items", cols, 2)
	want := "INSERT OR IGNORE INTO items (a, b) VALUES (?, ?), (?, ?)"
	if got != want {
		t.Errorf("sqlite InsertIgnore = %q, want %q", got, want)
	}

	pg := &DB{driver: DriverPostgres}
	got = pg.InsertIgnore("items", cols, 2)
	want = "INSERT INTO items (a, b) VALUES ($1, $2), ($3, $4) ON CONFLICT DO NOTHING"
	if got != want {
		t.Errorf("postgres InsertIgnore = %q, want %q", got, want)
	}
}
