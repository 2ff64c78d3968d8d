// Talon - Loan decisioning for microfinance institutions.
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
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/talon/internal/api"
	"github.com/opensource-finance/talon/internal/assessment"
	"github.com/opensource-finance/talon/internal/bureau"
	"github.com/opensource-finance/talon/internal/bus"
	"github.com/opensource-finance/talon/internal/cache"
	"github.com/opensource-finance/talon/internal/domain"
	"github.com/opensource-finance/talon/internal/exposure"
	"github.com/opensource-finance/talon/internal/repository"
	"github.com/opensource-finance/talon/internal/rules"
	"github.com/opensource-finance/talon/internal/worker"
	"github.com/opensource-finance/talon/internal/workflow"
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
	if os.Getenv("TALON_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting talon",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("TALON_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}
	if url := os.Getenv("TALON_BUREAU_URL"); url != "" {
		cfg.Bureau.BaseURL = url
		cfg.Bureau.APIKey = os.Getenv("TALON_BUREAU_API_KEY")
	}
	if raw := os.Getenv("TALON_BUREAU_DAILY_LIMIT"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			slog.Warn("ignoring invalid TALON_BUREAU_DAILY_LIMIT", "value", raw)
		} else {
			cfg.Bureau.DailyLookupLimit = limit
		}
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
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

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

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

	// Initialize Credit Bureau client
	checker := bureau.New(cfg.Bureau, cacheImpl)
	if cfg.Bureau.BaseURL == "" {
		slog.Info("credit bureau stub enabled - set TALON_BUREAU_URL for live checks")
	} else {
		slog.Info("credit bureau client initialized", "base_url", cfg.Bureau.BaseURL)
	}

	// Initialize Rule Engine
	engine, err := rules.NewEngine()
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	// Initialize Ruleset Engine and load rulesets from database
	// (no hardcoded defaults - configure via API)
	rulesetEngine := rules.NewRulesetEngine(engine)
	if err := loadRulesetsFromDatabase(ctx, repo, rulesetEngine); err != nil {
		slog.Error("failed to load rulesets", "error", err)
		os.Exit(1)
	}
	slog.Info("ruleset engine initialized", "rulesets_count", rulesetEngine.RulesetCount())

	// Initialize Exposure Service
	exposureSvc := exposure.NewService(repo, cacheImpl)
	slog.Info("exposure service initialized")

	// Initialize Assessment Service
	svc := assessment.NewService(
		repo,
		rulesetEngine,
		checker,
		exposureSvc,
		workflow.NewMachine(logger),
		busImpl,
		logger,
	)
	slog.Info("assessment service initialized")

	// Initialize async Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("TALON_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, repo, svc)

		// Get tenant IDs to process (from environment or default)
		tenantIDs := []string{}
		if envTenants := os.Getenv("TALON_TENANTS"); envTenants != "" {
			tenantIDs = strings.Split(envTenants, ",")
		}

		workerCfg := worker.Config{
			TenantIDs:     tenantIDs,
			SweepInterval: time.Hour,
		}

		if err := asyncWorker.Start(workerCfg); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "tenant_count", len(tenantIDs))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, svc, rulesetEngine, engine, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("talon is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("talon shutdown complete")
}

// GlobalTenantID is used for rulesets that apply to all tenants.
const GlobalTenantID = "*"

// loadRulesetsFromDatabase loads rulesets from the database into the engine.
// All rulesets must be configured via POST /rulesets API - no hardcoded defaults.
func loadRulesetsFromDatabase(ctx context.Context, repo domain.Repository, engine *rules.RulesetEngine) error {
	rulesets, err := repo.ListRulesets(ctx, GlobalTenantID)
	if err != nil {
		slog.Warn("failed to list rulesets from database", "error", err)
		return nil // Start with empty rulesets - they can be added via API
	}

	if len(rulesets) > 0 {
		slog.Info("loading rulesets from database", "count", len(rulesets))
		engine.LoadRulesets(rulesets)
		return nil
	}

	slog.Info("no rulesets in database - configure via POST /rulesets API")
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═════════════════════════════════════════╗")
	fmt.Println("  ║               🦅 TALON                  ║")
	fmt.Println("  ║       Loan Decisioning Engine           ║")
	fmt.Println("  ║    Every application, decided fast.     ║")
	fmt.Println("  ╚═════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /loans                    - Submit a loan application")
	fmt.Println("    GET  /loans/{id}               - Get loan by ID")
	fmt.Println("    POST /loans/{id}/assess        - Run automated assessment")
	fmt.Println("    POST /loans/{id}/decisions     - Record a manual decision")
	fmt.Println("    GET  /loans/{id}/decisions     - Decision history")
	fmt.Println("    GET  /loans/{id}/workflow      - Workflow stages")
	fmt.Println("    POST /decisions/{id}/override  - Override a decision")
	fmt.Println("    GET  /rulesets                 - List all rulesets")
	fmt.Println("    POST /rulesets                 - Create a new ruleset")
	fmt.Println("    POST /rulesets/{id}/rules      - Add a rule to a ruleset")
	fmt.Println("    POST /rulesets/{id}/evaluate   - Dry-run a ruleset")
	fmt.Println("    POST /rulesets/reload          - Hot-reload rulesets")
	fmt.Println("    GET  /health                   - Health check")
	fmt.Println()
}
