// Command mcf-jobs exports job postings from the MyCareersFuture jobs API to CSV.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/Sternrassler/mcf-jobs-export/pkg/cache"
	"github.com/Sternrassler/mcf-jobs-export/pkg/client"
	"github.com/Sternrassler/mcf-jobs-export/pkg/config"
	"github.com/Sternrassler/mcf-jobs-export/pkg/logging"
	"github.com/Sternrassler/mcf-jobs-export/pkg/metrics"
	"github.com/Sternrassler/mcf-jobs-export/pkg/pagination"
	"github.com/Sternrassler/mcf-jobs-export/pkg/ratelimit"
	"github.com/Sternrassler/mcf-jobs-export/pkg/tabular"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const usageText = `Usage: mcf-jobs -n <number_of_jobs_to_scrape> [-o <output.csv>] [-config <file.yaml>]
Options:
  -n             Specify the total count of job postings
  -o             Output CSV path (default mcf_jobs.csv)
  -config        YAML configuration file
  -h, --help     Show this help message and exit
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one export and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("mcf-jobs", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	countArg := fs.String("n", "", "total count of job postings")
	outputArg := fs.String("o", "", "output CSV path")
	configArg := fs.String("config", "", "YAML configuration file")

	// Help and malformed invocations are not failures
	if err := fs.Parse(args); err != nil || *countArg == "" || fs.NArg() > 0 {
		fmt.Fprint(stdout, usageText)
		return 0
	}

	targetCount, err := strconv.Atoi(*countArg)
	if err != nil || targetCount < 0 {
		fmt.Fprintln(stdout, "Invalid total_count argument. Please provide a valid number.")
		return 1
	}

	cfg, err := config.Load(*configArg)
	if err != nil {
		fmt.Fprintf(stderr, "Configuration error: %v\n", err)
		return 1
	}
	if *outputArg != "" {
		cfg.Output.Path = *outputArg
	}

	logCfg := cfg.LoggingConfig()
	logCfg.Output = stderr
	logCfg.RunID = uuid.NewString()
	logging.Setup(logCfg)
	logger := logging.NewLogger("cli")

	path, err := export(ctx, cfg, targetCount, stderr, logger)
	switch {
	case err != nil:
		logger.Error().Err(err).Int("target_count", targetCount).Msg("Export failed")
		fmt.Fprintf(stderr, "Export failed: %v\n", err)
		return 1
	case path == "":
		fmt.Fprintln(stdout, "No data to write or data is not in expected format.")
	default:
		fmt.Fprintf(stdout, "Data written to %s\n", path)
	}
	return 0
}

// export wires the components for one run. It returns the written path, or ""
// when there was nothing to write.
func export(ctx context.Context, cfg *config.Config, targetCount int, progressOut io.Writer, logger zerolog.Logger) (string, error) {
	if err := os.MkdirAll(cfg.Output.DataDir, 0o755); err != nil {
		return "", fmt.Errorf("create data directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Output.Path), 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	writer, err := tabular.NewWriter(cfg.TabularConfig())
	if err != nil {
		return "", err
	}

	if cfg.Metrics.Addr != "" {
		srv, err := metrics.Serve(cfg.Metrics.Addr)
		if err != nil {
			return "", err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	pageCache, closeCache := openCache(ctx, cfg, logger)
	defer closeCache()

	jobs, err := client.New(client.Config{
		BaseURL:          cfg.API.BaseURL,
		UserAgent:        cfg.API.UserAgent,
		Timeout:          cfg.HTTPTimeout(),
		Retry:            cfg.RetryPolicy(),
		BreakerThreshold: cfg.Breaker.Threshold,
		BreakerCooldown:  cfg.BreakerCooldown(),
		Limiter:          ratelimit.NewLimiter(cfg.ThrottleInterval(), logging.NewLogger("rate-limiter")),
		Cache:            pageCache,
		CacheTTL:         cfg.CacheTTL(),
	})
	if err != nil {
		return "", err
	}
	defer jobs.Close()

	if deadline := cfg.FetchDeadline(); deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	paginator := pagination.New(jobs, cfg.PaginationConfig(),
		pagination.WithProgress(func(p pagination.Progress) {
			fmt.Fprintf(progressOut, "Scraping job postings: %d/%d pages, %d records\n", p.Page, p.TotalPages, p.Records)
		}))

	logger.Info().
		Int("target_count", targetCount).
		Str("base_url", jobs.BaseURL()).
		Str("output", cfg.Output.Path).
		Msg("Starting export")

	records, err := paginator.Fetch(ctx, targetCount)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", fmt.Errorf("interrupted: %w", err)
		}
		return "", err
	}

	result, err := writer.Write(records, cfg.Output.Path)
	if err != nil {
		return "", fmt.Errorf("write %s: %w", cfg.Output.Path, err)
	}
	if !result.Written {
		return "", nil
	}

	state := jobs.Limiter().State()
	logger.Info().
		Int("records", len(records)).
		Int("rows", result.Rows).
		Int("columns", len(result.Columns)).
		Int("requests", state.Requests).
		Dur("throttle_wait", state.TotalWait).
		Msg("Export complete")

	return result.Path, nil
}

// openCache connects the page cache when a Redis URL is configured. An
// unreachable Redis disables the cache for the run.
func openCache(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*cache.Manager, func()) {
	noop := func() {}
	if cfg.Cache.RedisURL == "" {
		return nil, noop
	}

	opts, err := redis.ParseURL(cfg.Cache.RedisURL)
	if err != nil {
		logger.Warn().Err(err).Msg("Invalid REDIS_URL, page cache disabled")
		return nil, noop
	}

	redisClient := redis.NewClient(opts)
	manager := cache.NewManager(redisClient)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := manager.Ping(pingCtx); err != nil {
		logger.Warn().Err(err).Str("addr", opts.Addr).Msg("Redis unreachable, page cache disabled")
		redisClient.Close()
		return nil, noop
	}

	logger.Info().Str("addr", opts.Addr).Dur("ttl", cfg.CacheTTL()).Msg("Page cache enabled")
	return manager, func() { redisClient.Close() }
}
