package domain

import "github.com/shopspring/decimal"

// Event types published to subscribers.
const (
	EventPriceUpdate    = "price_update"
	EventPositionUpdate = "position_update"
	EventTradeClosed    = "trade_closed"
	EventMarginCall     = "margin_call"
)

// Event is a message for the broadcast sink.
type Event interface {
	EventType() string
	// EventSymbol returns the instrument the event is about, or "" for account-level events.
	EventSymbol() string
}

type PriceUpdate struct {
	Symbol        string          `json:"symbol"`
	Bid           decimal.Decimal `json:"bid"`
	Ask           decimal.Decimal `json:"ask"`
	High          decimal.Decimal `json:"high"`
	Low           decimal.Decimal `json:"low"`
	Change        decimal.Decimal `json:"change"`
	ChangePercent decimal.Decimal `json:"changePercent"`
	Spread        decimal.Decimal `json:"spread"`
}

func (PriceUpdate) EventType() string     { return EventPriceUpdate }
func (e PriceUpdate) EventSymbol() string { return e.Symbol }

type PositionUpdate struct {
	Ticket        string          `json:"ticket"`
	AccountID     string          `json:"accountId"`
	Symbol        string          `json:"symbol"`
	Side          OrderSide       `json:"side"`
	Volume        decimal.Decimal `json:"volume"`
	EntryPrice    decimal.Decimal `json:"entryPrice"`
	CurrentPrice  decimal.Decimal `json:"currentPrice"`
	UnrealizedPnL decimal.Decimal `json:"unrealizedPnL"`
	Pips          decimal.Decimal `json:"pips"`
}

func (PositionUpdate) EventType() string     { return EventPositionUpdate }
func (e PositionUpdate) EventSymbol() string { return e.Symbol }

type TradeClosed struct {
	Ticket    string          `json:"ticket"`
	AccountID string          `json:"accountId"`
	Symbol    string          `json:"symbol"`
	Reason    CloseReason     `json:"reason"`
	NetProfit decimal.Decimal `json:"netProfit"`
}

func (TradeClosed) EventType() string { return EventTradeClosed }
func (TradeClosed) EventSymbol() string { return "" }

type MarginCall struct {
	AccountID   string          `json:"accountId"`
	MarginLevel decimal.Decimal `json:"marginLevel"`
	Balance     decimal.Decimal `json:"balance"`
	MarginUsed  decimal.Decimal `json:"marginUsed"`
}

func (MarginCall) EventType() string   { return EventMarginCall }
func (MarginCall) EventSymbol() string { return "" }
