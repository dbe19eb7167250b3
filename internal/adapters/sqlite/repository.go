package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3" // SQLite driver

	"houseBroker/internal/domain"
	"houseBroker/internal/ports"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Repository implements ports.Store using SQLite.
type Repository struct {
	db     *sql.DB
	q      querier
	inTx   bool
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/house_broker.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// WAL mode for concurrent readers while a loop writes
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w: %w", dbPath, ports.ErrDBConnection, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// A single connection serializes writers; transactions never interleave.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", map[string]interface{}{"path": dbPath})

	repo := &Repository{db: db, q: db, logger: cfg.Logger}

	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Database schema initialized/verified")

	return repo, nil
}

// initializeSchema creates tables if they don't exist.
// Money and prices are stored as TEXT to keep decimal precision.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		balance TEXT NOT NULL,
		leverage INTEGER NOT NULL,
		simulated INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS trades (
		ticket TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		symbol TEXT NOT NULL,
		kind TEXT NOT NULL,
		side TEXT NOT NULL,
		book_side TEXT NOT NULL,
		volume TEXT NOT NULL,
		target_price TEXT NOT NULL DEFAULT '0',
		entry_price TEXT NOT NULL DEFAULT '0',
		exit_price TEXT DEFAULT NULL,
		stop_loss TEXT DEFAULT NULL,
		take_profit TEXT DEFAULT NULL,
		margin TEXT NOT NULL DEFAULT '0',
		open_commission TEXT NOT NULL DEFAULT '0',
		commission TEXT NOT NULL DEFAULT '0',
		gross_profit TEXT NOT NULL DEFAULT '0',
		net_profit TEXT NOT NULL DEFAULT '0',
		status TEXT NOT NULL,
		close_reason TEXT DEFAULT NULL,
		venue_ticket TEXT DEFAULT NULL,
		venue_entry_price TEXT DEFAULT NULL,
		venue_exit_price TEXT DEFAULT NULL,
		simulated INTEGER NOT NULL DEFAULT 1,
		open_time TIMESTAMP NOT NULL,
		close_time TIMESTAMP DEFAULT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trades_status ON trades (status);
	CREATE INDEX IF NOT EXISTS idx_trades_account_status ON trades (account_id, status);
	`
	_, err := r.q.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	// Columns added after the first release; the error is "duplicate column" on newer files.
	_, _ = r.q.ExecContext(ctx, `ALTER TABLE trades ADD COLUMN venue_entry_price TEXT DEFAULT NULL`)
	_, _ = r.q.ExecContext(ctx, `ALTER TABLE trades ADD COLUMN venue_exit_price TEXT DEFAULT NULL`)
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil && !r.inTx {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// InTx runs fn inside a database transaction. Nested calls join the outer transaction.
func (r *Repository) InTx(ctx context.Context, fn func(tx ports.Store) error) error {
	if r.inTx {
		return fn(r)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w: %w", ports.ErrDBConnection, err)
	}
	txRepo := &Repository{db: r.db, q: tx, inTx: true, logger: r.logger}

	if err := fn(txRepo); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			r.logger.Error(ctx, rbErr, "Transaction rollback failed")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w: %w", ports.ErrUpdateFailed, err)
	}
	return nil
}

// mapWriteErr translates driver constraint errors into port errors.
func mapWriteErr(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintPrimaryKey, sqlite3.ErrConstraintUnique:
			return ports.ErrDuplicateEntry
		}
	}
	return ports.ErrUpdateFailed
}

// --- AccountRepository Implementation ---

// CreateAccount saves a new account.
func (r *Repository) CreateAccount(ctx context.Context, acc *domain.Account) error {
	const query = `
	INSERT INTO accounts (id, balance, leverage, simulated, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	now := time.Now().UTC()
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = now
	}
	acc.UpdatedAt = now

	_, err := r.q.ExecContext(ctx, query, acc.ID, acc.Balance, acc.Leverage, acc.Simulated, acc.CreatedAt, acc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert account %s: %w: %w", acc.ID, mapWriteErr(err), err)
	}
	r.logger.Debug(ctx, "Account created", map[string]interface{}{"accountID": acc.ID, "balance": acc.Balance.String()})
	return nil
}

// GetAccount retrieves an account by id. Returns nil, nil if not found.
func (r *Repository) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	const query = `
	SELECT id, balance, leverage, simulated, created_at, updated_at
	FROM accounts
	WHERE id = ?`

	acc := &domain.Account{}
	err := r.q.QueryRowContext(ctx, query, id).Scan(
		&acc.ID, &acc.Balance, &acc.Leverage, &acc.Simulated, &acc.CreatedAt, &acc.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.logger.Debug(ctx, "Account not found", map[string]interface{}{"accountID": id})
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query account %s: %w: %w", id, ports.ErrQueryFailed, err)
	}
	return acc, nil
}

// UpdateAccount overwrites balance, leverage and the simulated flag.
func (r *Repository) UpdateAccount(ctx context.Context, acc *domain.Account) error {
	const query = `
	UPDATE accounts
	SET balance = ?, leverage = ?, simulated = ?, updated_at = ?
	WHERE id = ?`

	acc.UpdatedAt = time.Now().UTC()
	result, err := r.q.ExecContext(ctx, query, acc.Balance, acc.Leverage, acc.Simulated, acc.UpdatedAt, acc.ID)
	if err != nil {
		return fmt.Errorf("failed to update account %s: %w: %w", acc.ID, ports.ErrUpdateFailed, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for update account %s: %w", acc.ID, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("account %s not found for update: %w", acc.ID, ports.ErrNotFound)
	}
	r.logger.Debug(ctx, "Account updated", map[string]interface{}{"accountID": acc.ID, "balance": acc.Balance.String()})
	return nil
}

// --- TradeRepository Implementation ---

const tradeColumns = `ticket, account_id, symbol, kind, side, book_side, volume, target_price, entry_price,
	exit_price, stop_loss, take_profit, margin, open_commission, commission, gross_profit, net_profit,
	status, close_reason, venue_ticket, venue_entry_price, venue_exit_price, simulated, open_time, close_time`

// CreateTrade saves a new trade.
func (r *Repository) CreateTrade(ctx context.Context, t *domain.Trade) error {
	query := `INSERT INTO trades (` + tradeColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.q.ExecContext(ctx, query,
		t.Ticket, t.AccountID, t.Symbol, t.Kind, t.Side, t.BookSide, t.Volume, t.TargetPrice, t.EntryPrice,
		t.ExitPrice, t.StopLoss, t.TakeProfit, t.Margin, t.OpenCommission, t.Commission, t.GrossProfit, t.NetProfit,
		t.Status, nullString(string(t.CloseReason)), nullString(t.VenueTicket), t.VenueEntry, t.VenueExit,
		t.Simulated, t.OpenTime, nullTime(t.CloseTime))
	if err != nil {
		return fmt.Errorf("failed to insert trade %s: %w: %w", t.Ticket, mapWriteErr(err), err)
	}
	r.logger.Debug(ctx, "Trade created", map[string]interface{}{"ticket": t.Ticket, "symbol": t.Symbol, "status": t.Status})
	return nil
}

// UpdateTrade overwrites the mutable fields of a trade.
func (r *Repository) UpdateTrade(ctx context.Context, t *domain.Trade) error {
	const query = `
	UPDATE trades
	SET entry_price = ?, exit_price = ?, stop_loss = ?, take_profit = ?, margin = ?, open_commission = ?,
	    commission = ?, gross_profit = ?, net_profit = ?, status = ?, close_reason = ?, venue_ticket = ?,
	    venue_entry_price = ?, venue_exit_price = ?, open_time = ?, close_time = ?
	WHERE ticket = ?`

	result, err := r.q.ExecContext(ctx, query,
		t.EntryPrice, t.ExitPrice, t.StopLoss, t.TakeProfit, t.Margin, t.OpenCommission,
		t.Commission, t.GrossProfit, t.NetProfit, t.Status, nullString(string(t.CloseReason)), nullString(t.VenueTicket),
		t.VenueEntry, t.VenueExit, t.OpenTime, nullTime(t.CloseTime),
		t.Ticket)
	if err != nil {
		return fmt.Errorf("failed to update trade %s: %w: %w", t.Ticket, ports.ErrUpdateFailed, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for update trade %s: %w", t.Ticket, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("trade %s not found for update: %w", t.Ticket, ports.ErrNotFound)
	}
	r.logger.Debug(ctx, "Trade updated", map[string]interface{}{"ticket": t.Ticket, "status": t.Status})
	return nil
}

// FindByTicket retrieves a trade by ticket. Returns nil, nil if not found.
func (r *Repository) FindByTicket(ctx context.Context, ticket string) (*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE ticket = ?`

	t, err := scanTrade(r.q.QueryRowContext(ctx, query, ticket))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.logger.Debug(ctx, "Trade not found by ticket", map[string]interface{}{"ticket": ticket})
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query trade %s: %w: %w", ticket, ports.ErrQueryFailed, err)
	}
	return t, nil
}

// FindByStatus retrieves every trade in status, ordered by ticket.
func (r *Repository) FindByStatus(ctx context.Context, status domain.TradeStatus) ([]*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE status = ? ORDER BY ticket`
	return r.queryTrades(ctx, "FindByStatus", query, status)
}

// FindByAccount retrieves an account's trades in the given statuses, ordered by open time.
func (r *Repository) FindByAccount(ctx context.Context, accountID string, statuses ...domain.TradeStatus) ([]*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE account_id = ?`
	args := []interface{}{accountID}
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, st := range statuses {
			placeholders[i] = "?"
			args = append(args, st)
		}
		query += ` AND status IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY open_time, ticket`
	return r.queryTrades(ctx, "FindByAccount", query, args...)
}

func (r *Repository) queryTrades(ctx context.Context, op, query string, args ...interface{}) ([]*domain.Trade, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w: %w", op, ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade during %s: %w", op, err)
		}
		trades = append(trades, t)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade rows in %s: %w", op, err)
	}
	return trades, nil
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanTrade scans a row into a domain.Trade struct.
func scanTrade(s scanner) (*domain.Trade, error) {
	t := &domain.Trade{}
	var kind, side, bookSide, status string
	var closeReason, venueTicket sql.NullString
	var closeTime sql.NullTime
	err := s.Scan(
		&t.Ticket, &t.AccountID, &t.Symbol, &kind, &side, &bookSide, &t.Volume, &t.TargetPrice, &t.EntryPrice,
		&t.ExitPrice, &t.StopLoss, &t.TakeProfit, &t.Margin, &t.OpenCommission, &t.Commission, &t.GrossProfit, &t.NetProfit,
		&status, &closeReason, &venueTicket, &t.VenueEntry, &t.VenueExit, &t.Simulated, &t.OpenTime, &closeTime)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	t.Kind = domain.OrderKind(kind)
	t.Side = domain.OrderSide(side)
	t.BookSide = domain.OrderSide(bookSide)
	t.Status = domain.TradeStatus(status)
	if closeReason.Valid {
		t.CloseReason = domain.CloseReason(closeReason.String)
	}
	if venueTicket.Valid {
		t.VenueTicket = venueTicket.String
	}
	if closeTime.Valid {
		t.CloseTime = closeTime.Time
	}
	return t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
