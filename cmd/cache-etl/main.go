// Command cache-etl runs the batch processors that turn cached API
// responses into relational item tables.
//
// One-shot by default, suitable for cron. With RUN_INTERVAL set it
// keeps running on that interval and serves /health and /metrics on
// METRICS_ADDR.
//
// Environment:
//
//	DATABASE_DRIVER        sqlite or pgx (default: sqlite)
//	DATABASE_DSN           database DSN (default: apicache.db)
//	SERP_CLIENT            cache client for SERP responses (default: dataforseo)
//	LABS_CLIENT            cache client for keyword responses (default: dataforseo_labs)
//	PROCESS_LIMIT          max responses per processor per run (default: 1000)
//	SKIP_SANDBOX           exclude sandbox-origin rows (default: true)
//	UPDATE_IF_NEWER        newer-wins upsert policy (default: false)
//	SKIP_MONTHLY_SEARCHES  store monthly search history as null (default: false)
//	RESET_PROCESSED        clear processing markers before the run (default: false)
//	RUN_INTERVAL           e.g. 5m; empty means run once and exit
//	METRICS_ADDR           listen address in interval mode (default: :9090)
//	LOG_LEVEL              debug, info, warn, error (default: info)
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/seolytics/apicache/internal/sqldb"
	"github.com/seolytics/apicache/pkg/cache"
	"github.com/seolytics/apicache/pkg/config"
	"github.com/seolytics/apicache/pkg/etl"
	"github.com/seolytics/apicache/pkg/etl/labs"
	"github.com/seolytics/apicache/pkg/etl/serp"
	"github.com/seolytics/apicache/pkg/logging"
)

func main() {
	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(getEnv("LOG_LEVEL", "info")),
		Output: os.Stderr,
	}).With().Str("component", "cache-etl").Logger()

	if err := run(logger); err != nil {
		logger.Fatal().Err(err).Msg("cache-etl failed")
	}
}

func run(logger zerolog.Logger) error {
	driver := sqldb.Driver(getEnv("DATABASE_DRIVER", "sqlite"))
	dsn := getEnv("DATABASE_DSN", "apicache.db")
	limit := getEnvInt("PROCESS_LIMIT", 1000)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqldb.Open(ctx, driver, dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	logger.Info().Str("driver", string(driver)).Msg("Connected to database")

	settings := config.NewSettings(config.DefaultClientConfig())
	repo := cache.NewRepository(db, settings, cache.DefaultTablePrefix, logger)

	cfg := etl.Config{
		SkipSandbox:   getEnvBool("SKIP_SANDBOX", true),
		UpdateIfNewer: getEnvBool("UPDATE_IF_NEWER", false),
	}

	serpCfg := cfg
	serpCfg.Client = getEnv("SERP_CLIENT", "dataforseo")
	labsCfg := cfg
	labsCfg.Client = getEnv("LABS_CLIENT", "dataforseo_labs")

	processors := []*etl.Processor{
		etl.New(repo, serp.NewGoogleOrganicProcessor(), serpCfg, logger),
		etl.New(repo, labs.NewKeywordResearchProcessor(getEnvBool("SKIP_MONTHLY_SEARCHES", false)), labsCfg, logger),
	}

	if getEnvBool("RESET_PROCESSED", false) {
		for _, p := range processors {
			reset, err := p.ResetProcessed(ctx)
			if err != nil {
				return fmt.Errorf("reset processing markers: %w", err)
			}
			logger.Info().Int64("reset", reset).Msg("Processing markers cleared")
		}
	}

	interval := getEnvDuration("RUN_INTERVAL", 0)
	if interval <= 0 {
		return runOnce(ctx, logger, processors, limit)
	}

	srv := &http.Server{Addr: getEnv("METRICS_ADDR", ":9090")}
	http.HandleFunc("/health", healthHandler)
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("Serving health and metrics")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()
	defer srv.Shutdown(context.Background())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := runOnce(ctx, logger, processors, limit); err != nil {
			logger.Error().Err(err).Msg("Batch run failed")
		}

		select {
		case <-ctx.Done():
			logger.Info().Msg("Shutting down")
			return nil
		case <-ticker.C:
		}
	}
}

func runOnce(ctx context.Context, logger zerolog.Logger, processors []*etl.Processor, limit int) error {
	for _, p := range processors {
		stats, err := p.ProcessResponses(ctx, limit)
		if err != nil {
			return fmt.Errorf("process responses: %w", err)
		}

		logger.Info().
			Str("run_id", stats.RunID).
			Int("processed", stats.Processed).
			Int("errored", stats.Errored).
			Int64("items", stats.Items.Total()).
			Msg("Processor run complete")
	}
	return nil
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
