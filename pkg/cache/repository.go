package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/seolytics/apicache/internal/sqldb"
	"github.com/seolytics/apicache/pkg/compression"
	"github.com/seolytics/apicache/pkg/config"
)

// entryColumns is the scan order shared by Get and SelectUnprocessed.
const entryColumns = `id, key, client, version, endpoint, base_url, full_url, method,
	request_headers, request_body, response_status_code, response_headers, response_body,
	response_size, response_time, expires_at, processed_at, processed_status, created_at, updated_at`

// Repository persists API responses in per-client tables. It exclusively
// owns those tables; processors only read rows and update processing
// markers through the methods exposed here.
type Repository struct {
	db       *sqldb.DB
	settings *config.Settings
	prefix   string
	logger   zerolog.Logger

	// tables records which response tables already had their DDL applied.
	tables sync.Map
}

// NewRepository creates a repository over the given database. prefix is
// prepended to every derived table name; use DefaultTablePrefix unless the
// deployment needs a namespace.
func NewRepository(db *sqldb.DB, settings *config.Settings, prefix string, logger zerolog.Logger) *Repository {
	return &Repository{
		db:       db,
		settings: settings,
		prefix:   prefix,
		logger:   logger,
	}
}

// DB exposes the underlying database handle for collaborators that manage
// their own tables (the ETL processors).
func (r *Repository) DB() *sqldb.DB {
	return r.db
}

// Table returns the derived response table name for a client under its
// configured compression mode.
func (r *Repository) Table(client string) string {
	return TableName(r.prefix, client, r.settings.Client(client).CompressionEnabled)
}

// compressor builds the stateless compression service for a client's
// configured mode.
func (r *Repository) compressor(client string) *compression.Service {
	enabled := r.settings.Client(client).CompressionEnabled
	return compression.NewService(enabled, r.logger.With().Str("client", client).Logger())
}

// ensureTable applies the response table DDL once per process.
func (r *Repository) ensureTable(ctx context.Context, client string) (string, error) {
	table := r.Table(client)
	if _, done := r.tables.Load(table); done {
		return table, nil
	}

	schema := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id %s,
	key TEXT NOT NULL,
	client TEXT NOT NULL,
	version TEXT,
	endpoint TEXT NOT NULL,
	base_url TEXT,
	full_url TEXT,
	method TEXT,
	request_headers %s,
	request_body %s,
	response_status_code INTEGER,
	response_headers %s,
	response_body %s,
	response_size INTEGER,
	response_time REAL,
	expires_at %s,
	processed_at %s,
	processed_status TEXT,
	created_at %s NOT NULL,
	updated_at %s NOT NULL
)`,
		table,
		r.db.TypeAutoID(),
		r.db.TypeBlob(), r.db.TypeBlob(),
		r.db.TypeBlob(), r.db.TypeBlob(),
		r.db.TypeTimestamp(), r.db.TypeTimestamp(),
		r.db.TypeTimestamp(), r.db.TypeTimestamp(),
	)

	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return "", fmt.Errorf("create table %s: %w", table, err)
	}

	keyIdx := fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s_key_uq ON %s (key)`, table, table)
	if _, err := r.db.ExecContext(ctx, keyIdx); err != nil {
		return "", fmt.Errorf("create key index on %s: %w", table, err)
	}

	procIdx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_proc_ix ON %s (processed_at)`, table, table)
	if _, err := r.db.ExecContext(ctx, procIdx); err != nil {
		return "", fmt.Errorf("create processed index on %s: %w", table, err)
	}

	r.tables.Store(table, struct{}{})
	return table, nil
}

// Store inserts one response row. Endpoint and ResponseBody are required.
// This is a plain insert: storing the same key twice violates the table's
// unique constraint, so callers must pre-generate unique keys.
func (r *Repository) Store(ctx context.Context, client, key string, meta Metadata, ttl *time.Duration) error {
	if meta.Endpoint == "" {
		return &ValidationError{Field: "endpoint"}
	}
	if meta.ResponseBody == nil {
		return &ValidationError{Field: "response_body"}
	}

	table, err := r.ensureTable(ctx, client)
	if err != nil {
		CacheErrors.WithLabelValues("store").Inc()
		return err
	}

	svc := r.compressor(client)

	reqHeaders, err := prepareHeaders(svc, meta.RequestHeaders, "request_headers")
	if err != nil {
		return err
	}
	respHeaders, err := prepareHeaders(svc, meta.ResponseHeaders, "response_headers")
	if err != nil {
		return err
	}
	reqBody, err := svc.Compress(meta.RequestBody, "request_body")
	if err != nil {
		return err
	}
	respBody, err := svc.Compress(meta.ResponseBody, "response_body")
	if err != nil {
		return err
	}

	size := len(meta.ResponseBody)
	if meta.ResponseSize != nil {
		size = *meta.ResponseSize
	}

	now := time.Now().UTC()
	var expiresAt any
	if ttl != nil {
		expiresAt = now.Add(*ttl)
	}

	query := r.db.Rebind(fmt.Sprintf(`INSERT INTO %s (
		key, client, version, endpoint, base_url, full_url, method,
		request_headers, request_body, response_status_code, response_headers, response_body,
		response_size, response_time, expires_at, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, table))

	_, err = r.db.ExecContext(ctx, query,
		key,
		client,
		nullIfEmpty(meta.Version),
		meta.Endpoint,
		nullIfEmpty(meta.BaseURL),
		nullIfEmpty(meta.FullURL),
		nullIfEmpty(meta.Method),
		reqHeaders,
		reqBody,
		meta.ResponseStatusCode,
		respHeaders,
		respBody,
		size,
		meta.ResponseTime,
		expiresAt,
		now,
		now,
	)
	if err != nil {
		CacheErrors.WithLabelValues("store").Inc()
		return fmt.Errorf("insert into %s: %w", table, err)
	}

	StoreTotal.WithLabelValues(client).Inc()
	r.logger.Debug().
		Str("client", client).
		Str("cache_key", key).
		Str("table", table).
		Int("response_size", size).
		Msg("Response stored")

	return nil
}

// Get returns the non-expired entry for a key, with payloads decoded.
// Returns ErrNotFound for a clean miss. Decoding failures propagate:
// a corrupt stored blob is a hard error, never a silent miss.
func (r *Repository) Get(ctx context.Context, client, key string) (*Entry, error) {
	table, err := r.ensureTable(ctx, client)
	if err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, err
	}

	query := r.db.Rebind(fmt.Sprintf(
		`SELECT %s FROM %s WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)`,
		entryColumns, table))

	row := r.db.QueryRowContext(ctx, query, key, time.Now().UTC())
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			CacheMisses.WithLabelValues(client).Inc()
			return nil, ErrNotFound
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("select from %s: %w", table, err)
	}

	if err := r.DecodeEntry(client, entry); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, err
	}

	CacheHits.WithLabelValues(client).Inc()
	return entry, nil
}

// DecodeEntry decompresses an entry's payloads and decodes its header
// blobs into maps, in place. Safe to call once per entry; Get does this
// automatically, SelectUnprocessed leaves it to the caller so one corrupt
// row cannot fail a whole batch read.
func (r *Repository) DecodeEntry(client string, e *Entry) error {
	if e.decoded {
		return nil
	}

	svc := r.compressor(client)

	var err error
	if e.RequestHeaders, err = retrieveHeaders(svc, e.rawRequestHeaders); err != nil {
		return err
	}
	if e.ResponseHeaders, err = retrieveHeaders(svc, e.rawResponseHeaders); err != nil {
		return err
	}
	if e.RequestBody, err = svc.Decompress(e.rawRequestBody); err != nil {
		return err
	}
	if e.ResponseBody, err = svc.Decompress(e.rawResponseBody); err != nil {
		return err
	}

	e.decoded = true
	return nil
}

// DeleteExpired removes rows whose expiry has passed for one client.
// Returns the number of rows deleted.
func (r *Repository) DeleteExpired(ctx context.Context, client string) (int64, error) {
	table, err := r.ensureTable(ctx, client)
	if err != nil {
		CacheErrors.WithLabelValues("cleanup").Inc()
		return 0, err
	}

	query := r.db.Rebind(fmt.Sprintf(
		`DELETE FROM %s WHERE expires_at IS NOT NULL AND expires_at <= ?`, table))

	res, err := r.db.ExecContext(ctx, query, time.Now().UTC())
	if err != nil {
		CacheErrors.WithLabelValues("cleanup").Inc()
		return 0, fmt.Errorf("delete expired from %s: %w", table, err)
	}

	deleted, _ := res.RowsAffected()
	if deleted > 0 {
		ExpiredDeleted.WithLabelValues(client).Add(float64(deleted))
		r.logger.Info().
			Str("client", client).
			Int64("deleted", deleted).
			Msg("Expired cache rows deleted")
	}

	return deleted, nil
}

// Cleanup deletes expired rows for the given clients, or for every
// configured client when none are named.
func (r *Repository) Cleanup(ctx context.Context, clients ...string) (int64, error) {
	if len(clients) == 0 {
		clients = r.settings.Clients()
	}

	var total int64
	for _, client := range clients {
		deleted, err := r.DeleteExpired(ctx, client)
		if err != nil {
			return total, err
		}
		total += deleted
	}
	return total, nil
}

// CountTotal returns the number of rows in a client's response table.
func (r *Repository) CountTotal(ctx context.Context, client string) (int64, error) {
	table, err := r.ensureTable(ctx, client)
	if err != nil {
		return 0, err
	}

	var count int64
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table)
	if err := r.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return count, nil
}

// CountExpired returns the number of rows past their expiry that Cleanup
// would remove.
func (r *Repository) CountExpired(ctx context.Context, client string) (int64, error) {
	table, err := r.ensureTable(ctx, client)
	if err != nil {
		return 0, err
	}

	var count int64
	query := r.db.Rebind(fmt.Sprintf(
		`SELECT COUNT(*) FROM %s WHERE expires_at IS NOT NULL AND expires_at <= ?`, table))
	if err := r.db.QueryRowContext(ctx, query, time.Now().UTC()).Scan(&count); err != nil {
		return 0, fmt.Errorf("count expired %s: %w", table, err)
	}
	return count, nil
}

// ClearTable removes every row from a client's response table.
func (r *Repository) ClearTable(ctx context.Context, client string) error {
	table, err := r.ensureTable(ctx, client)
	if err != nil {
		return err
	}

	if _, err := r.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, table)); err != nil {
		return fmt.Errorf("clear %s: %w", table, err)
	}
	return nil
}

// prepareHeaders JSON-encodes a header map and applies the client's
// compression mode. A nil map stays nil (stored as NULL).
func prepareHeaders(svc *compression.Service, headers map[string]any, context string) ([]byte, error) {
	if headers == nil {
		return nil, nil
	}

	encoded, err := json.Marshal(headers)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", context, err)
	}
	return svc.Compress(encoded, context)
}

// retrieveHeaders reverses prepareHeaders. A JSON value that parses but is
// not an object is a hard error: headers are always key-value maps.
func retrieveHeaders(svc *compression.Service, data []byte) (map[string]any, error) {
	if data == nil {
		return nil, nil
	}

	raw, err := svc.Decompress(data)
	if err != nil {
		return nil, err
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, &MalformedDataError{Reason: fmt.Sprintf("headers are not valid JSON: %v", err)}
	}
	if decoded == nil {
		return nil, nil
	}

	headers, ok := decoded.(map[string]any)
	if !ok {
		return nil, &MalformedDataError{Reason: fmt.Sprintf("headers decoded to %T, expected an object", decoded)}
	}
	return headers, nil
}

// scanEntry scans one row in entryColumns order.
func scanEntry(row interface{ Scan(...any) error }) (*Entry, error) {
	var (
		e               Entry
		version         sql.NullString
		baseURL         sql.NullString
		fullURL         sql.NullString
		method          sql.NullString
		statusCode      sql.NullInt64
		responseSize    sql.NullInt64
		responseTime    sql.NullFloat64
		expiresAt       sql.NullTime
		processedAt     sql.NullTime
		processedStatus sql.NullString
	)

	err := row.Scan(
		&e.ID, &e.Key, &e.Client, &version, &e.Endpoint, &baseURL, &fullURL, &method,
		&e.rawRequestHeaders, &e.rawRequestBody, &statusCode, &e.rawResponseHeaders, &e.rawResponseBody,
		&responseSize, &responseTime, &expiresAt, &processedAt, &processedStatus,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Version = version.String
	e.BaseURL = baseURL.String
	e.FullURL = fullURL.String
	e.Method = method.String
	e.ResponseStatusCode = int(statusCode.Int64)
	e.ResponseSize = int(responseSize.Int64)
	e.ResponseTime = responseTime.Float64
	if expiresAt.Valid {
		t := expiresAt.Time
		e.ExpiresAt = &t
	}
	if processedAt.Valid {
		t := processedAt.Time
		e.ProcessedAt = &t
	}
	if processedStatus.Valid {
		s := processedStatus.String
		e.ProcessedStatus = &s
	}

	return &e, nil
}

// nullIfEmpty stores empty strings as NULL.
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
