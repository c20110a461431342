package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/wardenhq/contract-warden/internal/ai"
	"github.com/wardenhq/contract-warden/internal/analyzer"
	"github.com/wardenhq/contract-warden/internal/cache"
	"github.com/wardenhq/contract-warden/internal/config"
	"github.com/wardenhq/contract-warden/internal/etl"
	"github.com/wardenhq/contract-warden/internal/logger"
	"github.com/wardenhq/contract-warden/internal/pii"
	"github.com/wardenhq/contract-warden/internal/store"
)

func main() {
	var (
		configPath = flag.String("config", "", "Configuration file path")
		inputFile  = flag.String("input", "", "Input dataset file (CSV, Parquet, or JSONL)")
		batchSize  = flag.Int("batch-size", 0, "Batch size for processing (default from config)")
		workers    = flag.Int("workers", 0, "Number of worker goroutines (default from config)")
		skipCache  = flag.Bool("skip-cache", false, "Skip warming the Redis analysis cache")
		dryRun     = flag.Bool("dry-run", false, "Tokenize only - don't call the provider or write to the database")
		showStats  = flag.Bool("stats", false, "Show database statistics and exit")
	)
	flag.Parse()

	if *inputFile == "" && !*showStats {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s --input contracts.csv --batch-size 500\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --input contracts.parquet --workers 8\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --input contracts.jsonl --dry-run\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --stats\n", os.Args[0])
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting Contract Warden batch pipeline",
		zap.String("config", *configPath))

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal, cancelling operations...")
		cancel()
	}()

	// Contract store
	contractStore, err := store.New(cfg.Database, log)
	if err != nil {
		log.Fatal("Failed to connect to contract store", zap.Error(err))
	}
	defer contractStore.Close()

	if *showStats {
		if err := showDatabaseStats(ctx, cfg, contractStore, log); err != nil {
			log.Fatal("Failed to show stats", zap.Error(err))
		}
		return
	}

	if _, err := os.Stat(*inputFile); os.IsNotExist(err) {
		log.Fatal("Input file does not exist", zap.String("file", *inputFile))
	}

	// Analysis cache; only needed when warming it
	var analysisCache *cache.AnalysisCache
	if cfg.Cache.Enabled && !*skipCache && !*dryRun {
		analysisCache, err = cache.New(cfg.Cache, log)
		if err != nil {
			log.Warn("Analysis cache unavailable, skipping cache warm", zap.Error(err))
			analysisCache = nil
		} else {
			defer analysisCache.Close()
		}
	}

	// PII detectors and tokenizer
	primary, fallback, err := analyzer.NewDetectors(cfg.PII, log)
	if err != nil {
		log.Fatal("Failed to initialize PII detectors", zap.Error(err))
	}
	if closer, ok := primary.(io.Closer); ok {
		defer closer.Close()
	}
	tokenizer := pii.NewTokenizer(primary, fallback, log)

	etlConfig := &etl.Config{
		BatchSize:      cfg.ETL.BatchSize,
		WorkerCount:    cfg.ETL.WorkerCount,
		DryRun:         *dryRun,
		SkipCache:      *skipCache,
		ProgressReport: 1000,
	}
	if *batchSize > 0 {
		etlConfig.BatchSize = *batchSize
	}
	if *workers > 0 {
		etlConfig.WorkerCount = *workers
	}

	var batchCache etl.BatchCache
	if analysisCache != nil {
		batchCache = analysisCache
	}
	pipeline := etl.NewPipeline(tokenizer, ai.New(cfg.AI, log), contractStore, batchCache, etlConfig, cfg.AI.Model, log)

	result, err := pipeline.ProcessFile(ctx, *inputFile)
	if err != nil {
		log.Fatal("Pipeline processing failed", zap.Error(err))
	}

	log.Info("Dataset processing completed",
		zap.String("file", *inputFile),
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("processed_ok", result.ProcessedOK),
		zap.Int64("processed_failed", result.ProcessedFailed),
		zap.Int64("pii_tokens", result.PIITokens),
		zap.Duration("total_duration", result.Duration),
		zap.Duration("analysis_time", result.AnalysisTime),
		zap.Duration("database_time", result.DatabaseTime),
		zap.Duration("cache_time", result.CacheTime),
		zap.Float64("records_per_second", float64(result.TotalRecords)/result.Duration.Seconds()))

	if len(result.Errors) > 0 {
		log.Warn("Processing completed with errors", zap.Strings("errors", result.Errors))
	}
}

// showDatabaseStats displays current store and cache statistics
func showDatabaseStats(ctx context.Context, cfg *config.Config, contractStore *store.Store, log *logger.Logger) error {
	count, err := contractStore.Count(ctx)
	if err != nil {
		return fmt.Errorf("failed to count stored contracts: %w", err)
	}

	fmt.Printf("\n=== Contract Warden Store Statistics ===\n")
	fmt.Printf("Stored Contracts:   %d\n", count)

	if cfg.Cache.Enabled {
		analysisCache, err := cache.New(cfg.Cache, log)
		if err != nil {
			log.Warn("Analysis cache unavailable", zap.Error(err))
			return nil
		}
		defer analysisCache.Close()

		stats, err := analysisCache.GetStats(ctx)
		if err != nil {
			return fmt.Errorf("failed to get cache stats: %w", err)
		}
		fmt.Printf("\n=== Cache Statistics ===\n")
		fmt.Printf("Cached Analyses:    %d\n", stats.TotalKeys)
		fmt.Printf("Memory Usage:       %.2f MB\n", float64(stats.MemoryUsage)/1024/1024)
	}

	return nil
}
