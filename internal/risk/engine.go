package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"houseBroker/internal/domain"
)

const moneyPlaces = 2

var hundred = decimal.NewFromInt(100)

// QuoteReader returns the latest cached tick for a symbol.
type QuoteReader interface {
	// Latest returns the cached tick, or an error wrapping ports.ErrQuoteUnavailable.
	Latest(symbol string) (domain.Tick, error)
}

// Engine computes margin, commission and P&L. It holds no mutable state.
type Engine struct {
	table            *Table
	quotes           QuoteReader
	commissionPerLot decimal.Decimal
}

// NewEngine creates a margin engine over the instrument table and quote cache.
func NewEngine(table *Table, quotes QuoteReader, commissionPerLot decimal.Decimal) *Engine {
	return &Engine{table: table, quotes: quotes, commissionPerLot: commissionPerLot}
}

// Table returns the instrument table the engine prices against.
func (e *Engine) Table() *Table {
	return e.table
}

// MarginFor returns mid × contract size × volume / leverage, rounded to cents.
func (e *Engine) MarginFor(symbol string, mid, volume decimal.Decimal, leverage int) decimal.Decimal {
	if leverage < domain.MinLeverage {
		leverage = domain.MinLeverage
	}
	inst := e.table.Lookup(symbol)
	return mid.Mul(inst.ContractSize).Mul(volume).
		Div(decimal.NewFromInt(int64(leverage))).
		Round(moneyPlaces)
}

// RequiredMargin prices the margin for volume lots of symbol at the current mid.
func (e *Engine) RequiredMargin(acc *domain.Account, symbol string, volume decimal.Decimal) (decimal.Decimal, error) {
	tick, err := e.quotes.Latest(symbol)
	if err != nil {
		return decimal.Zero, fmt.Errorf("required margin for %s: %w", symbol, err)
	}
	return e.MarginFor(symbol, tick.Mid(), volume, acc.Leverage), nil
}

// Commission returns the per-side commission for volume lots.
func (e *Engine) Commission(volume decimal.Decimal) decimal.Decimal {
	return volume.Mul(e.commissionPerLot).Round(moneyPlaces)
}

// priceDiff is the move in the trade's favour: price-entry for BUY, entry-price for SELL.
func priceDiff(t *domain.Trade, price decimal.Decimal) decimal.Decimal {
	if t.Side == domain.Sell {
		return t.EntryPrice.Sub(price)
	}
	return price.Sub(t.EntryPrice)
}

// PnL returns the profit of t if it were closed at price.
func (e *Engine) PnL(t *domain.Trade, price decimal.Decimal) decimal.Decimal {
	inst := e.table.Lookup(t.Symbol)
	return priceDiff(t, price).
		Mul(t.Volume).
		Mul(inst.ContractSize).
		Mul(inst.PointValue).
		Round(moneyPlaces)
}

// Pips returns the favourable move of t at price, in pips.
func (e *Engine) Pips(t *domain.Trade, price decimal.Decimal) decimal.Decimal {
	inst := e.table.Lookup(t.Symbol)
	return priceDiff(t, price).Mul(inst.PipFactor).Round(1)
}

// Position renders an open trade valued at price.
func (e *Engine) Position(t *domain.Trade, price decimal.Decimal) domain.PositionUpdate {
	return domain.PositionUpdate{
		Ticket:        t.Ticket,
		AccountID:     t.AccountID,
		Symbol:        t.Symbol,
		Side:          t.Side,
		Volume:        t.Volume,
		EntryPrice:    t.EntryPrice,
		CurrentPrice:  price,
		UnrealizedPnL: e.PnL(t, price),
		Pips:          e.Pips(t, price),
	}
}

// EntryPrice is the price a new order on side fills at: ask for BUY, bid for SELL.
func (e *Engine) EntryPrice(symbol string, side domain.OrderSide) (decimal.Decimal, error) {
	tick, err := e.quotes.Latest(symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return EntrySidePrice(tick, side), nil
}

// ExitPrice is the price an open trade closes at: bid for BUY, ask for SELL.
func (e *Engine) ExitPrice(symbol string, side domain.OrderSide) (decimal.Decimal, error) {
	tick, err := e.quotes.Latest(symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return ExitSidePrice(tick, side), nil
}

// EntrySidePrice picks ask for BUY and bid for SELL.
func EntrySidePrice(tick domain.Tick, side domain.OrderSide) decimal.Decimal {
	if side == domain.Sell {
		return tick.Bid
	}
	return tick.Ask
}

// ExitSidePrice picks bid for BUY and ask for SELL.
func ExitSidePrice(tick domain.Tick, side domain.OrderSide) decimal.Decimal {
	if side == domain.Sell {
		return tick.Ask
	}
	return tick.Bid
}

// UnrealizedPnL sums PnL over trades that have a cached quote. Trades without a quote are skipped.
func (e *Engine) UnrealizedPnL(trades []*domain.Trade) decimal.Decimal {
	total := decimal.Zero
	for _, t := range trades {
		price, err := e.ExitPrice(t.Symbol, t.Side)
		if err != nil {
			continue
		}
		total = total.Add(e.PnL(t, price))
	}
	return total
}

// Level returns base / marginUsed × 100. ok is false when no margin is in use.
func Level(base, marginUsed decimal.Decimal) (level decimal.Decimal, ok bool) {
	if !marginUsed.IsPositive() {
		return decimal.Zero, false
	}
	return base.Mul(hundred).Div(marginUsed), true
}
