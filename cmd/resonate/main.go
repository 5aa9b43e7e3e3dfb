package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/resonate-home/resonate/internal/config"
	"github.com/resonate-home/resonate/internal/discovery"
	"github.com/resonate-home/resonate/internal/server"
	"github.com/resonate-home/resonate/internal/services"
	"github.com/resonate-home/resonate/internal/soundtouch"
	"github.com/resonate-home/resonate/internal/stations"
	"github.com/resonate-home/resonate/internal/store"
	"github.com/resonate-home/resonate/internal/syncer"
	"github.com/resonate-home/resonate/internal/version"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "backup":
			runBackup(os.Args[2:])
			return
		case "restore":
			runRestore(os.Args[2:])
			return
		case "version":
			fmt.Println(version.Info())
			return
		case "serve":
			runServe(os.Args[2:])
			return
		}
	}
	runServe(os.Args[1:])
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to configuration file")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Resonate server starting")

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	// Open the registry database and apply migrations.
	db, err := store.New(cfg.GetString("database.path"))
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := db.Migrate(ctx, "registry", services.Migrations); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	deviceRepo := services.NewSQLiteDeviceRepository(db.DB())
	runRepo := services.NewSQLiteSyncRunRepository(db.DB())

	// Engine components share one HTTP client for speaker traffic.
	httpClient := &http.Client{Timeout: 10 * time.Second}

	speakers := soundtouch.NewClient(httpClient, logger)
	resolver := soundtouch.NewResolver(speakers, logger)

	orchestrator := discovery.NewOrchestrator(
		discovery.NewSSDPTransport(logger),
		httpClient,
		speakers,
		logger,
		discovery.Config{
			Manufacturer: cfg.GetString("discovery.manufacturer"),
			ManualIPs:    cfg.ManualIPs(),
		},
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	syncEngine := syncer.New(deviceRepo, speakers, resolver, logger,
		syncer.WithConcurrency(cfg.GetInt("sync.concurrency")),
		syncer.WithMetrics(syncer.NewMetrics(registry)),
	)

	directory := stations.NewClient(httpClient, logger, cfg.GetString("stations.base_url"),
		stations.WithMaxRetries(cfg.GetInt("stations.max_retries")),
		stations.WithTimeout(cfg.GetDuration("stations.timeout")),
	)

	discoveryTimeout := cfg.GetDuration("discovery.timeout")
	runner := syncer.NewRunner(orchestrator, syncEngine, runRepo, logger,
		cfg.GetDuration("sync.interval"), discoveryTimeout)
	go runner.Run(ctx)

	// Create and start HTTP server
	addr := cfg.GetString("server.addr")
	srv := server.New(addr, server.Deps{
		Devices:          deviceRepo,
		Runs:             runRepo,
		Discoverer:       orchestrator,
		SyncRunner:       runner,
		Resolver:         resolver,
		Stations:         directory,
		Gatherer:         registry,
		DiscoveryTimeout: discoveryTimeout,
	}, logger)

	// Start server in background
	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	logger.Info("Resonate server ready", zap.String("addr", addr))

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}

	logger.Info("Resonate server stopped")
}
