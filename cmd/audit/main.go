package main

import (
	"context"
	"fmt"
	"log"

	"perpbot/config"
	"perpbot/internal/adapters/exchange"
	"perpbot/internal/adapters/logger"
	"perpbot/internal/adapters/sqlite"
	"perpbot/internal/audit"
	"perpbot/internal/contracts"
)

// Runs one PnL audit pass over all closed trades and exits. Safe to run
// while the bot is live; only drifted records are rewritten.
func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.LogLevel)

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing database repository")
		}
	}()

	// 4. Initialize Exchange Client for the configured contract type
	exchangeClient, err := exchange.New(exchange.Config{
		ContractType: cfg.ContractType,
		APIKey:       cfg.APIKey,
		SecretKey:    cfg.SecretKey,
		UseTestnet:   cfg.IsTestnet,
		MarginAsset:  cfg.MarginAsset,
		Logger:       appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize exchange client")
		log.Fatalf("FATAL: Failed to initialize exchange client: %v", err)
	}

	// 5. Initialize Contract Registry
	registry, err := contracts.NewRegistry(exchangeClient, appLogger)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize contract registry")
		log.Fatalf("FATAL: Failed to initialize contract registry: %v", err)
	}
	registry.Preload(context.Background(), cfg.Symbols)

	// 6. Run the audit
	auditor, err := audit.NewAuditor(exchangeClient, registry, repo, appLogger, cfg.FeeRate)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize auditor")
		log.Fatalf("FATAL: Failed to initialize auditor: %v", err)
	}
	report, err := auditor.Audit(context.Background())
	if err != nil {
		appLogger.Error(context.Background(), err, "Audit pass failed")
		log.Fatalf("Audit pass failed: %v", err)
	}

	fmt.Printf("Audit complete: %d checked, %d corrected, %d skipped\n",
		report.Checked, report.Corrected, report.Skipped)
}
