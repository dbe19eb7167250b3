package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	MinLeverage = 1
	MaxLeverage = 1000
)

// Account is a trading account. Margin and commissions are debited from Balance directly.
type Account struct {
	ID        string          // Unique identifier
	Balance   decimal.Decimal // Cash balance, may go negative after losses
	Leverage  int             // 1..1000
	Simulated bool            // true: house-booked, false: routed to the live venue
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AccountInfo is the on-demand risk view of an account.
type AccountInfo struct {
	AccountID         string          `json:"accountId"`
	Balance           decimal.Decimal `json:"balance"`
	Equity            decimal.Decimal `json:"equity"`
	Leverage          int             `json:"leverage"`
	MarginUsed        decimal.Decimal `json:"marginUsed"`
	FreeMargin        decimal.Decimal `json:"freeMargin"`
	MarginLevel       decimal.Decimal `json:"marginLevel"`
	OpenPositionCount int             `json:"openPositionCount"`
}
