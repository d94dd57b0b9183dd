package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up

	"perpbot/config"
	"perpbot/internal/adapters/exchange"
	"perpbot/internal/adapters/logger"
	"perpbot/internal/adapters/marketdata"
	"perpbot/internal/adapters/sqlite"
	"perpbot/internal/app"
	"perpbot/internal/contracts"
	"perpbot/internal/reconcile"
	"perpbot/internal/risk"
	"perpbot/internal/strategy"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err) // Also log to stderr
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing database repository")
		}
	}()
	appLogger.Info(context.Background(), "Database repository initialized")

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
	appLogger.Info(context.Background(), "Exchange client initialized", map[string]interface{}{
		"contractType": cfg.ContractType, "testnet": cfg.IsTestnet,
	})

	// 5. Initialize Contract Registry and warm it for the traded symbols
	registry, err := contracts.NewRegistry(exchangeClient, appLogger)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize contract registry")
		log.Fatalf("FATAL: Failed to initialize contract registry: %v", err)
	}
	registry.Preload(context.Background(), cfg.Symbols)

	// 6. Initialize Market Data Feed
	feed, err := marketdata.NewFeed(exchangeClient, appLogger, marketdata.Config{
		EMAPeriod:      cfg.EMAPeriod,
		RSIPeriod:      cfg.RSIPeriod,
		MACDFastPeriod: cfg.MACDFastPeriod,
		MACDSlowPeriod: cfg.MACDSlowPeriod,
		ATRPeriod:      cfg.ATRPeriod,
		KlineLimit:     cfg.KlineLimit,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize market data feed")
		log.Fatalf("FATAL: Failed to initialize market data feed: %v", err)
	}

	// 7. Initialize Risk Engine and Drawdown Guard
	engine, err := risk.NewEngine(cfg.Risk)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize risk engine")
		log.Fatalf("FATAL: Failed to initialize risk engine: %v", err)
	}
	guard, err := risk.NewGuard(cfg.DrawdownWarningPct, cfg.DrawdownNoNewPct, cfg.DrawdownForceClosePct)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize drawdown guard")
		log.Fatalf("FATAL: Failed to initialize drawdown guard: %v", err)
	}

	// 8. Initialize Position Reconciler
	reconciler, err := reconcile.NewReconciler(exchangeClient, repo, repo, repo, appLogger)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize reconciler")
		log.Fatalf("FATAL: Failed to initialize reconciler: %v", err)
	}

	// 9. Initialize Strategy
	strat, err := strategy.New(strategy.Config{
		RSIOverbought: cfg.RSIOverbought,
		RSIOversold:   cfg.RSIOversold,
	}, appLogger)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize trading strategy")
		log.Fatalf("FATAL: Failed to initialize trading strategy: %v", err)
	}
	appLogger.Info(context.Background(), "Trading strategy initialized")

	// 10. Initialize Application Service
	tradingService, err := app.NewTradingService(
		app.Config{
			Symbols:       cfg.Symbols,
			Timeframe:     cfg.Timeframe,
			CycleInterval: cfg.CycleInterval,
			Leverage:      cfg.Leverage,
			FeeRate:       cfg.FeeRate,
		},
		appLogger,
		exchangeClient,
		repo,
		registry,
		engine,
		guard,
		reconciler,
		strat,
		feed,
	)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize trading service")
		log.Fatalf("FATAL: Failed to initialize trading service: %v", err)
	}
	appLogger.Info(context.Background(), "Trading service initialized")

	// 11. Start the Service
	// Use context.Background() as the base context for the application run
	if err := tradingService.Start(context.Background()); err != nil {
		appLogger.Error(context.Background(), err, "Trading service exited with error")
		log.Fatalf("FATAL: Trading service exited with error: %v", err)
	}

	appLogger.Info(context.Background(), "Application finished gracefully.")
}
