package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"houseBroker/config"
	"houseBroker/internal/adapters/logger"
	"houseBroker/internal/adapters/sqlite"
	"houseBroker/internal/domain"
	"houseBroker/internal/utils"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	accountID := flag.String("account", "", "Account id to export")
	status := flag.String("status", "", "Only export trades in this status (PENDING, EXECUTED, CLOSED, CANCELLED)")
	out := flag.String("out", "", "Output file, default data/<account>_trades_<date>.csv")
	flag.Parse()
	if *accountID == "" {
		log.Fatalf("FATAL: -account is required")
	}

	// 2. Initialize Logger
	appLogger, err := logger.NewZapLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	defer appLogger.Sync()
	ctx := context.Background()

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer repo.Close()

	var statuses []domain.TradeStatus
	if *status != "" {
		statuses = append(statuses, domain.TradeStatus(*status))
	}
	trades, err := repo.FindByAccount(ctx, *accountID, statuses...)
	if err != nil {
		appLogger.Error(ctx, err, "Error loading trades", map[string]interface{}{"accountID": *accountID})
		log.Fatalf("Error loading trades: %v", err)
	}
	appLogger.Info(ctx, "Loaded trades", map[string]interface{}{"accountID": *accountID, "count": len(trades)})

	filename := *out
	if filename == "" {
		filename = fmt.Sprintf("data/%s_trades_%s.csv", *accountID, time.Now().UTC().Format("20060102"))
	}
	if err := utils.WriteTradesToCSV(trades, filename); err != nil {
		appLogger.Error(ctx, err, "Error writing CSV")
		log.Fatalf("Error writing CSV: %v", err)
	}
	appLogger.Info(ctx, "Saved to", map[string]interface{}{"filename": filename})
}
