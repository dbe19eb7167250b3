package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up

	"houseBroker/config"
	"houseBroker/internal/adapters/binancevenue"
	"houseBroker/internal/adapters/logger"
	"houseBroker/internal/adapters/paper"
	"houseBroker/internal/adapters/sqlite"
	"houseBroker/internal/adapters/wshub"
	"houseBroker/internal/app"
	"houseBroker/internal/execution"
	"houseBroker/internal/feed"
	"houseBroker/internal/ledger"
	"houseBroker/internal/monitor"
	"houseBroker/internal/ports"
	"houseBroker/internal/quotes"
	"houseBroker/internal/risk"
	"houseBroker/internal/sweep"
)

func main() {
	ctx := context.Background()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger, err := logger.NewZapLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	defer appLogger.Sync()
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err) // Also log to stderr
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(ctx, err, "Error closing database repository")
		}
	}()
	appLogger.Info(ctx, "Database repository initialized")

	// 4. Initialize Venue
	table := cfg.InstrumentTable()
	venue, err := newVenue(ctx, cfg, table, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize venue", map[string]interface{}{"venue": cfg.Venue})
		log.Fatalf("FATAL: Failed to initialize venue: %v", err)
	}
	appLogger.Info(ctx, "Venue initialized", map[string]interface{}{"venue": cfg.Venue, "symbols": table.Symbols()})

	// 5. Initialize core components
	cache := quotes.NewCache()
	engine := risk.NewEngine(table, cache, cfg.CommissionPerLot)
	hub := wshub.New(wshub.Config{Logger: appLogger, Origins: cfg.AllowOrigins})
	defer hub.Close()
	book := ledger.New(repo, appLogger)

	executor, err := execution.NewService(execution.Config{
		Ledger:    book,
		Engine:    engine,
		Quotes:    cache,
		Venue:     venue,
		Publisher: hub,
		Logger:    appLogger,
		Basis:     cfg.MarginLevelBasis,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize execution service")
		log.Fatalf("FATAL: Failed to initialize execution service: %v", err)
	}

	sweeper, err := sweep.New(sweep.Config{
		Store:      repo,
		Engine:     engine,
		Closer:     executor,
		Publisher:  hub,
		Logger:     appLogger,
		Thresholds: cfg.Thresholds,
		Basis:      cfg.MarginLevelBasis,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize margin sweep")
		log.Fatalf("FATAL: Failed to initialize margin sweep: %v", err)
	}

	prices := feed.New(feed.Config{
		Source:    venue,
		Cache:     cache,
		Positions: book.Positions(),
		Engine:    engine,
		Publisher: hub,
		Logger:    appLogger,
		Symbols:   table.Symbols(),
	})

	// 6. Initialize Application Service
	brokerService, err := app.NewBrokerService(app.Config{
		Ledger:          book,
		Quotes:          cache,
		Feed:            prices,
		Monitor:         monitor.New(book.Pending(), repo, cache, executor, appLogger),
		Sweeper:         sweeper,
		Logger:          appLogger,
		Stream:          hub,
		ListenAddr:      cfg.ListenAddr,
		PriceInterval:   cfg.PriceInterval,
		MonitorInterval: cfg.MonitorInterval,
		RefreshInterval: cfg.CacheRefresh,
		SweepInterval:   cfg.SweepInterval,
		HandleSignals:   true,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize broker service")
		log.Fatalf("FATAL: Failed to initialize broker service: %v", err)
	}
	appLogger.Info(ctx, "Broker service initialized")

	// 7. Start the Service
	if err := brokerService.Start(ctx); err != nil {
		appLogger.Error(ctx, err, "Broker service exited with error")
		log.Fatalf("FATAL: Broker service exited with error: %v", err)
	}

	appLogger.Info(ctx, "Application finished gracefully.")
}

func newVenue(ctx context.Context, cfg *config.Config, table *risk.Table, l ports.Logger) (ports.ExecutionVenue, error) {
	if cfg.Venue == config.VenueBinance {
		v, err := binancevenue.New(binancevenue.Config{
			APIKey:               cfg.APIKey,
			SecretKey:            cfg.SecretKey,
			UseTestnet:           cfg.IsTestnet,
			Instruments:          table,
			Logger:               l,
			ReconnectDelay:       cfg.ReconnectDelay,
			MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		})
		if err != nil {
			return nil, err
		}
		if err := v.Connect(ctx); err != nil {
			return nil, err
		}
		return v, nil
	}
	return paper.New(paper.Config{Instruments: table, Logger: l})
}
