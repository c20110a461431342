package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/wardenhq/contract-warden/internal/ai"
	"github.com/wardenhq/contract-warden/internal/analyzer"
	"github.com/wardenhq/contract-warden/internal/cache"
	"github.com/wardenhq/contract-warden/internal/config"
	"github.com/wardenhq/contract-warden/internal/events"
	"github.com/wardenhq/contract-warden/internal/extract"
	"github.com/wardenhq/contract-warden/internal/logger"
	"github.com/wardenhq/contract-warden/internal/pii"
	"github.com/wardenhq/contract-warden/internal/server"
	"github.com/wardenhq/contract-warden/internal/store"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	// Parse command line flags
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
		healthCheck = flag.Bool("health-check", false, "Perform health check and exit")
	)
	flag.Parse()

	// Show version and exit
	if *showVersion {
		fmt.Printf("Contract Warden %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	// Perform health check and exit
	if *healthCheck {
		performHealthCheck()
		return
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	loggerConfig := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}

	if cfg.Logging.File.Enabled {
		loggerConfig.File = &logger.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		}
	}

	log, err := logger.New(loggerConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting Contract Warden",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_date", date),
		zap.Int("port", cfg.Server.Port),
		zap.String("detector", cfg.PII.Detector),
	)

	server.Version = version

	// Contract store
	contractStore, err := store.New(cfg.Database, log)
	if err != nil {
		log.Fatal("Failed to connect to contract store", zap.Error(err))
	}
	defer contractStore.Close()

	// Analysis cache is optional; run without it if Redis is unreachable
	var analysisCache *cache.AnalysisCache
	if cfg.Cache.Enabled {
		analysisCache, err = cache.New(cfg.Cache, log)
		if err != nil {
			log.Warn("Analysis cache unavailable, continuing without it", zap.Error(err))
			analysisCache = nil
		} else {
			defer analysisCache.Close()
		}
	}

	// Event stream hub
	var hub *events.Hub
	if cfg.Events.Enabled {
		hub = events.NewHub(cfg.Events, log)
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

	// Analysis service
	aiClient := ai.New(cfg.AI, log)
	var svcCache analyzer.AnalysisCache
	if analysisCache != nil {
		svcCache = analysisCache
	}
	var svcHub analyzer.Publisher
	if hub != nil {
		svcHub = hub
	}
	service := analyzer.New(tokenizer, aiClient, contractStore, svcCache, svcHub, cfg.AI.Model, log)

	extractor := extract.New(cfg.Extract, log)

	srv := server.New(cfg, service, extractor, hub, log)

	// Hot-reload pattern rules on config file changes
	if err := config.Watch(cfg, func(newCfg *config.Config) {
		if err := fallback.Configure(newCfg.PII.Patterns.Enabled); err != nil {
			log.Error("Failed to apply updated pattern rules", zap.Error(err))
			return
		}
		log.Info("Configuration reloaded",
			zap.Strings("pattern_rules", newCfg.PII.Patterns.Enabled))
	}); err != nil {
		log.Warn("Configuration watching disabled", zap.Error(err))
	}

	// Start server in goroutine
	serverErrors := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		serverErrors <- srv.Start()
	}()

	// Setup graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	// Wait for shutdown signal or server error
	select {
	case err := <-serverErrors:
		log.Error("Server error", zap.Error(err))
	case sig := <-shutdown:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))

		// Give outstanding requests 30 seconds to complete
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Stop(ctx); err != nil {
			log.Error("Failed to shutdown server gracefully", zap.Error(err))
			os.Exit(1)
		}

		log.Info("Server shutdown complete")
	}
}

// performHealthCheck performs a health check against the running server
func performHealthCheck() {
	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get("http://localhost:8080/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: HTTP %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("Health check passed")
	os.Exit(0)
}
