package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"houseBroker/config"
	"houseBroker/internal/adapters/logger"
	"houseBroker/internal/adapters/sqlite"
	"houseBroker/internal/domain"
	"houseBroker/internal/ports"
)

var errAccountExists = errors.New("account already exists")

// seedRequest describes the account to create or top up.
type seedRequest struct {
	ID        string
	Amount    decimal.Decimal
	Leverage  int
	Simulated bool
	TopUp     bool
}

// seed creates the account, or adds Amount to its balance when TopUp is set.
func seed(ctx context.Context, store ports.Store, req seedRequest, now time.Time) (*domain.Account, error) {
	if req.ID == "" {
		return nil, fmt.Errorf("account id is required: %w", ports.ErrInvalidRequest)
	}
	if req.Amount.IsNegative() {
		return nil, fmt.Errorf("amount cannot be negative: %w", ports.ErrInvalidRequest)
	}
	if req.Leverage < domain.MinLeverage || req.Leverage > domain.MaxLeverage {
		return nil, fmt.Errorf("leverage must be between %d and %d: %w", domain.MinLeverage, domain.MaxLeverage, ports.ErrInvalidRequest)
	}

	var result *domain.Account
	err := store.InTx(ctx, func(tx ports.Store) error {
		acc, err := tx.GetAccount(ctx, req.ID)
		if err != nil {
			return err
		}
		if acc == nil {
			result = &domain.Account{
				ID:        req.ID,
				Balance:   req.Amount,
				Leverage:  req.Leverage,
				Simulated: req.Simulated,
				CreatedAt: now,
				UpdatedAt: now,
			}
			return tx.CreateAccount(ctx, result)
		}
		if !req.TopUp {
			return fmt.Errorf("%s: %w", req.ID, errAccountExists)
		}
		acc.Balance = acc.Balance.Add(req.Amount)
		acc.UpdatedAt = now
		result = acc
		return tx.UpdateAccount(ctx, acc)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	id := flag.String("id", "", "Account id")
	amount := flag.String("amount", cfg.DefaultBalance.String(), "Starting balance, or the amount to add with -topup")
	leverage := flag.Int("leverage", cfg.DefaultLeverage, "Account leverage (1-1000)")
	live := flag.Bool("live", false, "Route the account's orders to the live venue")
	topUp := flag.Bool("topup", false, "Add -amount to an existing account")
	flag.Parse()

	// 2. Initialize Logger
	appLogger, err := logger.NewZapLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	defer appLogger.Sync()
	ctx := context.Background()

	value, err := decimal.NewFromString(*amount)
	if err != nil {
		log.Fatalf("FATAL: Invalid amount %q: %v", *amount, err)
	}

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer repo.Close()

	acc, err := seed(ctx, repo, seedRequest{
		ID:        *id,
		Amount:    value,
		Leverage:  *leverage,
		Simulated: !*live,
		TopUp:     *topUp,
	}, time.Now().UTC())
	if err != nil {
		appLogger.Error(ctx, err, "Failed to seed account", map[string]interface{}{"accountID": *id})
		log.Fatalf("Failed to seed account: %v", err)
	}
	appLogger.Info(ctx, "Account ready", map[string]interface{}{
		"accountID": acc.ID,
		"balance":   acc.Balance.StringFixed(2),
		"leverage":  acc.Leverage,
		"simulated": acc.Simulated,
	})
}
