// Kestrel - Live risk scoring over the transaction graph.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/alertlog"
	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/community"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/graphstore"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/notify"
	"github.com/opensource-finance/kestrel/internal/risk"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	// Environment overrides for thresholds, windows, and weights
	cfg.ApplyEnv()

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"store", cfg.GraphStore.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"high_value_threshold", cfg.Risk.HighValueThreshold,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize GraphStore
	store, err := graphstore.New(cfg.GraphStore)
	if err != nil {
		slog.Error("failed to initialize graph store", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("graph store initialized", "driver", cfg.GraphStore.Driver)

	// Initialize AlertLog (shares the store database)
	log, err := alertlog.New(cfg.GraphStore)
	if err != nil {
		slog.Error("failed to initialize alert log", "error", err)
		os.Exit(1)
	}
	defer log.Close()
	slog.Info("alert log initialized")

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize rule engine and scorer
	engine := rules.NewEngine(cfg.Risk, store)
	scorer := risk.NewScorer(cfg.Risk, engine, log)
	slog.Info("risk scorer initialized",
		"burst_window", cfg.Risk.BurstWindow,
		"burst_min_count", cfg.Risk.BurstMinCount,
	)

	// Initialize community detector and label the existing graph
	detector := community.NewDetector(cfg.Community, store)
	if err := detector.InitializeOnStartup(ctx); err != nil {
		slog.Warn("initial community detection failed", "error", err)
	}

	// Initialize broadcast filter
	filter, err := rules.NewFilter(cfg.BroadcastFilter)
	if err != nil {
		slog.Error("invalid broadcast filter expression",
			"expression", cfg.BroadcastFilter,
			"error", err,
		)
		os.Exit(1)
	}
	if cfg.BroadcastFilter != "" {
		slog.Info("alert broadcast filter active", "expression", cfg.BroadcastFilter)
	}

	// Initialize metrics, notifier, and websocket hub
	recorder := metrics.NewRecorder()
	notifier := notify.NewNotifier(store, scorer, detector, recorder, filter, cacheImpl, busImpl)

	hub := notify.NewHub(notifier, busImpl)
	if err := hub.Start(ctx); err != nil {
		slog.Error("failed to start websocket hub", "error", err)
		os.Exit(1)
	}
	defer hub.Stop()

	// Initialize Server
	srv := api.NewServer(cfg.Server, store, log, scorer, recorder, notifier, hub, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🪶 KESTREL                  ║")
	fmt.Println("  ║      Transaction Graph Analytics          ║")
	fmt.Println("  ║      Risk in real time.                   ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /transactions  - Ingest a transaction")
	fmt.Println("    GET  /transactions  - List transactions (filterable)")
	fmt.Println("    GET  /graph         - Enriched graph snapshot")
	fmt.Println("    GET  /alerts        - Recent alerts")
	fmt.Println("    GET  /metrics       - Running rollup")
	fmt.Println("    GET  /ws            - Live update stream")
	fmt.Println("    GET  /health        - Health check")
	fmt.Println()
}
