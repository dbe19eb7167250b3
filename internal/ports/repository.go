package ports

import (
	"context"

	"houseBroker/internal/domain"
)

// AccountRepository stores trading accounts.
type AccountRepository interface {
	// CreateAccount saves a new account. Returns ErrDuplicateEntry if the id exists.
	CreateAccount(ctx context.Context, acc *domain.Account) error
	// GetAccount retrieves an account by id.
	// Returns nil, nil if not found.
	GetAccount(ctx context.Context, id string) (*domain.Account, error)
	// UpdateAccount overwrites balance and leverage. Returns ErrNotFound if the id is unknown.
	UpdateAccount(ctx context.Context, acc *domain.Account) error
}

// TradeRepository stores trade records, one row per ticket.
type TradeRepository interface {
	// CreateTrade saves a new trade. Returns ErrDuplicateEntry if the ticket exists.
	CreateTrade(ctx context.Context, trade *domain.Trade) error
	// UpdateTrade overwrites the mutable fields of an existing trade.
	UpdateTrade(ctx context.Context, trade *domain.Trade) error
	// FindByTicket retrieves a trade by ticket.
	// Returns nil, nil if not found.
	FindByTicket(ctx context.Context, ticket string) (*domain.Trade, error)
	// FindByStatus retrieves every trade in the given status, ordered by ticket.
	FindByStatus(ctx context.Context, status domain.TradeStatus) ([]*domain.Trade, error)
	// FindByAccount retrieves the trades of an account in the given statuses, ordered by open time.
	// No statuses means all trades.
	FindByAccount(ctx context.Context, accountID string, statuses ...domain.TradeStatus) ([]*domain.Trade, error)
}

// Store groups the repositories and runs atomic units of work across them.
type Store interface {
	AccountRepository
	TradeRepository

	// InTx runs fn in a single transaction. Every write made through tx is committed
	// together when fn returns nil and discarded otherwise.
	InTx(ctx context.Context, fn func(tx Store) error) error
}
