package integration

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/seolytics/apicache/internal/sqldb"
	"github.com/seolytics/apicache/internal/testutil"
	"github.com/seolytics/apicache/pkg/cache"
	"github.com/seolytics/apicache/pkg/client"
	"github.com/seolytics/apicache/pkg/config"
	"github.com/seolytics/apicache/pkg/etl"
	"github.com/seolytics/apicache/pkg/etl/serp"
	"github.com/seolytics/apicache/pkg/manager"
	"github.com/seolytics/apicache/pkg/ratelimit"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) *redis.Client {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

// setupPostgres creates a PostgreSQL container and opens it through the
// dialect layer.
func setupPostgres(t *testing.T) *sqldb.DB {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "apicache",
			"POSTGRES_PASSWORD": "apicache",
			"POSTGRES_DB":       "apicache",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://apicache:apicache@%s:%s/apicache?sslmode=disable", host, port.Port())
	db, err := sqldb.Open(ctx, sqldb.DriverPostgres, dsn)
	if err != nil {
		t.Fatalf("Failed to open PostgreSQL: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newSettings(baseURL string) *config.Settings {
	settings := config.NewSettings(config.DefaultClientConfig())
	settings.Register("dataforseo", config.ClientConfig{
		BaseURL:               baseURL,
		APIKey:                "dGVzdDp0ZXN0",
		Version:               "v3",
		CompressionEnabled:    true,
		RateLimitMaxAttempts:  50,
		RateLimitDecaySeconds: 2,
	})
	return settings
}

// TestSharedRateLimitState verifies that two service instances sharing
// one Redis see the same counter, the way separate worker processes do.
func TestSharedRateLimitState(t *testing.T) {
	rdb := setupRedis(t)
	ctx := context.Background()

	settings := config.NewSettings(config.ClientConfig{
		RateLimitMaxAttempts:  3,
		RateLimitDecaySeconds: 60,
	})

	first := ratelimit.NewService(ratelimit.NewRedisStore(rdb), settings, zerolog.Nop())
	second := ratelimit.NewService(ratelimit.NewRedisStore(rdb), settings, zerolog.Nop())

	for i := 0; i < 3; i++ {
		if err := first.IncrementAttempts(ctx, "shared", 1); err != nil {
			t.Fatalf("increment %d failed: %v", i, err)
		}
	}

	allowed, err := second.AllowRequest(ctx, "shared")
	if err != nil {
		t.Fatalf("AllowRequest failed: %v", err)
	}
	if allowed {
		t.Error("second instance allowed a request after first exhausted the budget")
	}

	remaining, err := second.RemainingAttempts(ctx, "shared")
	if err != nil {
		t.Fatalf("RemainingAttempts failed: %v", err)
	}
	if remaining != 0 {
		t.Errorf("RemainingAttempts = %d, want 0", remaining)
	}
}

// TestFullPipeline drives the complete flow: HTTP fetch through cache
// and Redis-backed rate limiter, then ETL into item tables.
func TestFullPipeline(t *testing.T) {
	rdb := setupRedis(t)
	ctx := context.Background()

	mock := testutil.NewMockVendor()
	defer mock.Close()
	mock.SetResponse("/v3/serp/google/organic/live", testutil.NewTaskResponse(`{
		"id": "task-1",
		"status_code": 20000,
		"data": {"device": "desktop"},
		"result": [{
			"keyword": "coffee",
			"se_domain": "google.com",
			"location_code": 2840,
			"language_code": "en",
			"items": [
				{"type": "organic", "rank_group": 1, "rank_absolute": 1,
				 "domain": "wikipedia.org", "title": "Coffee - Wikipedia",
				 "url": "https://en.wikipedia.org/wiki/Coffee"}
			]
		}]
	}`))

	db, err := sqldb.Open(ctx, sqldb.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	defer db.Close()

	settings := newSettings(mock.URL())
	repo := cache.NewRepository(db, settings, cache.DefaultTablePrefix, zerolog.Nop())
	limiter := ratelimit.NewService(ratelimit.NewRedisStore(rdb), settings, zerolog.Nop())
	mgr := manager.New(repo, limiter, settings, zerolog.Nop())

	c, err := client.New("dataforseo", mgr, settings, zerolog.Nop())
	if err != nil {
		t.Fatalf("create client: %v", err)
	}

	payload := map[string]any{"keyword": "coffee", "location_code": 2840, "language_code": "en"}

	resp, err := c.Post(ctx, "serp/google/organic/live", payload)
	if err != nil {
		t.Fatalf("first Post failed: %v", err)
	}
	if resp.Cached {
		t.Error("first Post should miss")
	}

	resp, err = c.Post(ctx, "serp/google/organic/live", payload)
	if err != nil {
		t.Fatalf("second Post failed: %v", err)
	}
	if !resp.Cached {
		t.Error("second Post should hit the cache")
	}
	if mock.GetRequestCount() != 1 {
		t.Errorf("upstream saw %d requests, want 1", mock.GetRequestCount())
	}

	proc := etl.New(repo, serp.NewGoogleOrganicProcessor(),
		etl.Config{Client: "dataforseo"}, zerolog.Nop())
	stats, err := proc.ProcessResponses(ctx, 100)
	if err != nil {
		t.Fatalf("ProcessResponses failed: %v", err)
	}
	if stats.Processed != 1 || stats.Items.Inserted != 1 {
		t.Errorf("stats = %+v, want 1 response, 1 item", stats)
	}

	var title string
	row := db.QueryRowContext(ctx, db.Rebind(fmt.Sprintf(
		`SELECT title FROM %s WHERE keyword = ?`, serp.OrganicTable)), "coffee")
	if err := row.Scan(&title); err != nil {
		t.Fatalf("read item: %v", err)
	}
	if title != "Coffee - Wikipedia" {
		t.Errorf("title = %q, want extracted value", title)
	}
}

// TestRateLimitWindowExpiry verifies the Redis counter window resets.
func TestRateLimitWindowExpiry(t *testing.T) {
	rdb := setupRedis(t)
	ctx := context.Background()

	settings := config.NewSettings(config.ClientConfig{
		RateLimitMaxAttempts:  1,
		RateLimitDecaySeconds: 1,
	})
	limiter := ratelimit.NewService(ratelimit.NewRedisStore(rdb), settings, zerolog.Nop())

	if err := limiter.IncrementAttempts(ctx, "expiry", 1); err != nil {
		t.Fatalf("increment failed: %v", err)
	}
	allowed, err := limiter.AllowRequest(ctx, "expiry")
	if err != nil {
		t.Fatalf("AllowRequest failed: %v", err)
	}
	if allowed {
		t.Fatal("request allowed with exhausted budget")
	}

	time.Sleep(1500 * time.Millisecond)

	allowed, err = limiter.AllowRequest(ctx, "expiry")
	if err != nil {
		t.Fatalf("AllowRequest after window failed: %v", err)
	}
	if !allowed {
		t.Error("request still denied after window expiry")
	}
}

// TestPostgresRepository runs the storage and ETL stack against a real
// PostgreSQL, covering the $n placeholder and ON CONFLICT paths.
func TestPostgresRepository(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()

	settings := newSettings("https://api.dataforseo.com")
	repo := cache.NewRepository(db, settings, cache.DefaultTablePrefix, zerolog.Nop())

	serpBody := `{
		"status_code": 20000,
		"tasks": [{
			"id": "task-1",
			"status_code": 20000,
			"data": {"device": "desktop"},
			"result": [{
				"keyword": "coffee",
				"se_domain": "google.com",
				"location_code": 2840,
				"language_code": "en",
				"items": [
					{"type": "organic", "rank_group": 1, "rank_absolute": 1,
					 "domain": "wikipedia.org", "title": "Coffee - Wikipedia",
					 "url": "https://en.wikipedia.org/wiki/Coffee"},
					{"type": "organic", "rank_group": 2, "rank_absolute": 2,
					 "domain": "coffee.example", "title": "Buy Coffee",
					 "url": "https://coffee.example"}
				]
			}]
		}]
	}`

	meta := cache.Metadata{
		Endpoint:           "serp/google/organic/live",
		BaseURL:            "https://api.dataforseo.com",
		Method:             "POST",
		ResponseStatusCode: 200,
		ResponseHeaders:    map[string]any{"Content-Type": "application/json"},
		ResponseBody:       []byte(serpBody),
	}

	if err := repo.Store(ctx, "dataforseo", "pg-key", meta, nil); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	entry, err := repo.Get(ctx, "dataforseo", "pg-key")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(entry.ResponseBody) != serpBody {
		t.Error("round-tripped body differs")
	}

	if _, err := repo.Get(ctx, "dataforseo", "missing"); !errors.Is(err, cache.ErrNotFound) {
		t.Errorf("miss error = %v, want ErrNotFound", err)
	}

	proc := etl.New(repo, serp.NewGoogleOrganicProcessor(),
		etl.Config{Client: "dataforseo"}, zerolog.Nop())
	stats, err := proc.ProcessResponses(ctx, 100)
	if err != nil {
		t.Fatalf("ProcessResponses failed: %v", err)
	}
	if stats.Processed != 1 || stats.Items.Inserted != 2 {
		t.Errorf("stats = %+v, want 1 response, 2 items", stats)
	}

	// Reprocessing the same payload exercises ON CONFLICT DO NOTHING.
	if _, err := proc.ResetProcessed(ctx); err != nil {
		t.Fatalf("ResetProcessed failed: %v", err)
	}
	stats, err = proc.ProcessResponses(ctx, 100)
	if err != nil {
		t.Fatalf("rerun failed: %v", err)
	}
	if stats.Items.Inserted != 0 || stats.Items.Skipped != 2 {
		t.Errorf("rerun items = %+v, want 2 skipped duplicates", stats.Items)
	}
}
