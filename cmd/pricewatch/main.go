package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aluiziolira/go-grocery-prices/aggregator"
	"github.com/aluiziolira/go-grocery-prices/api"
	"github.com/aluiziolira/go-grocery-prices/config"
	"github.com/aluiziolira/go-grocery-prices/models"
	"github.com/aluiziolira/go-grocery-prices/pipeline"
	"github.com/aluiziolira/go-grocery-prices/refresh"
	"github.com/aluiziolira/go-grocery-prices/retailer"
	"github.com/aluiziolira/go-grocery-prices/search"
	"github.com/aluiziolira/go-grocery-prices/store"
	"github.com/aluiziolira/go-grocery-prices/store/memory"
	"github.com/aluiziolira/go-grocery-prices/store/pgstore"
	"github.com/aluiziolira/go-grocery-prices/store/sqlstore"
	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/redis/go-redis/v9"
)

const (
	shutdownTimeout = 15 * time.Second
	refreshLockKey  = "prices:refresh:lock"
	journalBatch    = 100
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}
	cfg := config.DefaultConfig()
	if err := config.ApplyEnv(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "invalid environment: %v\n", err)
		os.Exit(1)
	}

	flag.StringVar(&cfg.HTTPAddr, "addr", cfg.HTTPAddr, "HTTP listen address")
	flag.StringVar(&cfg.AdapterMode, "adapters", cfg.AdapterMode, "Retailer adapters: mock or crawler")
	flag.StringVar(&cfg.StoreDriver, "store", cfg.StoreDriver, "Price store: memory, sqlite, or postgres")
	flag.StringVar(&cfg.SQLitePath, "sqlite", cfg.SQLitePath, "SQLite database path")
	flag.StringVar(&cfg.DatabaseURL, "database-url", cfg.DatabaseURL, "PostgreSQL connection URL")
	flag.StringVar(&cfg.RedisAddr, "redis", cfg.RedisAddr, "Redis address for the refresh lock (empty disables)")
	flag.StringVar(&cfg.JournalFile, "journal", cfg.JournalFile, "Append recorded prices to this file (empty disables)")
	flag.StringVar(&cfg.JournalFormat, "journal-format", cfg.JournalFormat, "Journal format: csv, json, or dual")
	flag.DurationVar(&cfg.RefreshInterval, "refresh-interval", cfg.RefreshInterval, "Interval between refresh sweeps")
	flag.IntVar(&cfg.RefreshParallelism, "refresh-parallel", cfg.RefreshParallelism, "Concurrent adapter calls during a refresh sweep")
	flag.BoolVar(&cfg.RefreshRunOnStart, "refresh-on-start", cfg.RefreshRunOnStart, "Run a refresh sweep at startup")
	flag.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Enable verbose logging")
	refreshOnce := flag.Bool("refresh-once", false, "Run one refresh sweep, print a summary, and exit")
	flag.Parse()

	cfg.AdapterMode = strings.ToLower(cfg.AdapterMode)
	cfg.StoreDriver = strings.ToLower(cfg.StoreDriver)
	cfg.JournalFormat = strings.ToLower(cfg.JournalFormat)

	logger, level := newLogger(cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	ctx := context.Background()

	catalog, err := openCatalog(ctx, cfg)
	if err != nil {
		slog.Error("opening price store", slog.String("driver", cfg.StoreDriver), slog.Any("error", err))
		os.Exit(1)
	}

	registry, err := buildRegistry(cfg)
	if err != nil {
		slog.Error("building retailer registry", slog.Any("error", err))
		os.Exit(1)
	}

	var journal *pipeline.Journal
	if cfg.JournalFile != "" {
		writer, err := createWriter(cfg.JournalFormat, cfg.JournalFile)
		if err != nil {
			slog.Error("creating journal writer", slog.Any("error", err))
			os.Exit(1)
		}
		journal = pipeline.NewJournal(writer, journalBatch)
		journal.Start(1)
		if cfg.Verbose {
			journal.StartMetricsReporting(time.Minute)
		}
	}

	metrics := aggregator.NewMetrics()
	dispatcher := aggregator.NewDispatcher(registry, cfg.AdapterTimeout, metrics)
	recorder := pipeline.NewRecorder(catalog, journal, nil)
	service := search.NewService(cfg, catalog, dispatcher, recorder, metrics)
	scheduler := refresh.NewScheduler(cfg, catalog, dispatcher, recorder, metrics)

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			slog.Error("connecting to redis", slog.String("addr", cfg.RedisAddr), slog.Any("error", err))
			os.Exit(1)
		}
		scheduler.WithLocker(refresh.NewRedisLocker(redisClient, refreshLockKey, cfg.RefreshLockTTL))
	}

	closeAll := func() {
		if journal != nil {
			if err := journal.Close(); err != nil {
				slog.Error("journal shutdown failed", slog.Any("error", err))
			}
		}
		if err := catalog.Close(); err != nil {
			slog.Error("close price store", slog.Any("error", err))
		}
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				slog.Error("close redis", slog.Any("error", err))
			}
		}
	}

	if *refreshOnce {
		os.Exit(runRefreshOnce(ctx, scheduler, closeAll))
	}

	server := api.NewServer(service, cfg.JWTSecret, metrics.Registry)
	go func() {
		if err := server.Listen(cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", slog.Any("error", err))
		}
	}()

	if err := scheduler.Start(ctx); err != nil {
		slog.Error("starting refresh scheduler", slog.Any("error", err))
		os.Exit(1)
	}

	slog.Info("service started",
		slog.String("addr", cfg.HTTPAddr),
		slog.String("adapters", cfg.AdapterMode),
		slog.String("store", cfg.StoreDriver),
		slog.Int("retailers", registry.Len()),
		slog.Duration("refresh_interval", cfg.RefreshInterval),
	)

	wait := gfshutdown.GracefulShutdown(ctx, shutdownTimeout, map[string]gfshutdown.Operation{
		"http": func(ctx context.Context) error {
			return server.Shutdown(ctx)
		},
		"refresh": func(ctx context.Context) error {
			return scheduler.Stop(ctx)
		},
	})
	exitCode := <-wait
	closeAll()
	slog.Info("service stopped", slog.Int("exit_code", exitCode))
	os.Exit(exitCode)
}

func openCatalog(ctx context.Context, cfg *config.Config) (store.Catalog, error) {
	switch cfg.StoreDriver {
	case "memory":
		return memory.New(), nil
	case "sqlite":
		return sqlstore.Open(cfg.SQLitePath)
	case "postgres":
		return pgstore.Open(ctx, cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.StoreDriver)
	}
}

func buildRegistry(cfg *config.Config) (*retailer.Registry, error) {
	if cfg.AdapterMode == "crawler" {
		descs, err := retailer.UKCrawlerRetailers(retailer.CrawlerConfig{
			Timeout:   cfg.AdapterTimeout,
			UserAgent: cfg.UserAgent,
			Rate:      cfg.CrawlerRate,
			Burst:     cfg.CrawlerBurst,

			MaxRetries:      cfg.CrawlerMaxRetries,
			RetryBackoff:    cfg.CrawlerRetryBackoff,
			RetryBackoffMax: cfg.CrawlerRetryBackoffMax,
		})
		if err != nil {
			return nil, err
		}
		return retailer.NewRegistry(descs...)
	}
	return retailer.NewRegistry(retailer.UKRetailers(cfg.MockLatency)...)
}

func createWriter(format, filename string) (pipeline.OutputWriter, error) {
	switch format {
	case "json":
		return pipeline.NewJSONWriter(filename)
	case "csv":
		return pipeline.NewCSVWriter(filename)
	case "dual":
		jsonFilename := strings.TrimSuffix(filename, ".csv") + ".jsonl"
		return pipeline.NewDualWriter(filename, jsonFilename)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

func runRefreshOnce(ctx context.Context, scheduler *refresh.Scheduler, closeAll func()) int {
	defer closeAll()
	report, err := scheduler.RunOnce(ctx)
	if err != nil {
		slog.Error("refresh failed", slog.Any("error", err))
		return 1
	}
	printSummary(report)
	return 0
}

func printSummary(report *models.RefreshReport) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	if report.Skipped {
		fmt.Println("Refresh skipped: another sweep holds the lock")
		fmt.Println(separator)
		return
	}
	fmt.Println("Refresh complete")

	fmt.Printf("  Products:      %d\n", report.ProductCount)
	fmt.Printf("  Pairs:         %d\n", report.PairCount)
	successRate := 0.0
	if report.PairCount > 0 {
		successRate = float64(report.Recorded) / float64(report.PairCount) * 100
	}
	fmt.Printf("  Recorded:      %d (%.2f%%)\n", report.Recorded, successRate)
	fmt.Printf("  Empty:         %d\n", report.Empty)
	fmt.Printf("  Failed:        %d\n", report.Failed)
	if len(report.ErrorsByType) > 0 {
		fmt.Printf("  Error types:   %v\n", report.ErrorsByType)
	}
	fmt.Printf("  Duration:      %v\n", report.EndTime.Sub(report.StartTime))
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
