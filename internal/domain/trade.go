package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is a single order/position record, from placement to a terminal state.
type Trade struct {
	Ticket         string              // Unique, immutable identifier
	AccountID      string              // Owning account
	Symbol         string              // Instrument symbol (e.g., "EURUSD")
	Kind           OrderKind           // MARKET, LIMIT or STOP
	Side           OrderSide           // Side the client holds
	BookSide       OrderSide           // Side the house books and routes to a venue
	Volume         decimal.Decimal     // Size in lots
	TargetPrice    decimal.Decimal     // Trigger price for LIMIT/STOP orders, zero for MARKET
	EntryPrice     decimal.Decimal     // Fill price, zero until executed
	ExitPrice      decimal.NullDecimal // Closing price, null until closed
	StopLoss       decimal.NullDecimal // Optional user-side stop-loss trigger
	TakeProfit     decimal.NullDecimal // Optional user-side take-profit trigger
	Margin         decimal.Decimal     // Margin reserved at open, released verbatim at close
	OpenCommission decimal.Decimal     // Commission charged (or reserved) at placement
	Commission     decimal.Decimal     // Closing commission
	GrossProfit    decimal.Decimal     // P&L before closing commission
	NetProfit      decimal.Decimal     // GrossProfit - Commission
	Status         TradeStatus         // Lifecycle state
	CloseReason    CloseReason         // Why the trade closed, empty until closed
	VenueTicket    string              // Venue order id for live trades
	VenueEntry     decimal.NullDecimal // Venue fill price of the book-side open, live trades only
	VenueExit      decimal.NullDecimal // Venue fill price of the book-side close, live trades only
	Simulated      bool                // Booked by the house only, never routed
	OpenTime       time.Time           // Placement time
	CloseTime      time.Time           // Zero until closed or cancelled
}

// HasStops reports whether a stop-loss or take-profit is attached.
func (t *Trade) HasStops() bool {
	return t.StopLoss.Valid || t.TakeProfit.Valid
}

// Reserved is the amount held against the account while the trade is pending or open.
func (t *Trade) Reserved() decimal.Decimal {
	return t.Margin.Add(t.OpenCommission)
}

// Clone returns a copy that can be handed to other goroutines.
func (t *Trade) Clone() *Trade {
	c := *t
	return &c
}
