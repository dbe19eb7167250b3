package execution

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"houseBroker/internal/domain"
	"houseBroker/internal/ports"
	"houseBroker/internal/risk"
)

// OrderRequest is a client's request to open a position or place a pending order.
type OrderRequest struct {
	AccountID   string
	Symbol      string
	Kind        domain.OrderKind
	Side        domain.OrderSide
	Volume      decimal.Decimal     // lots
	TargetPrice decimal.Decimal     // required for LIMIT and STOP
	StopLoss    decimal.NullDecimal // optional
	TakeProfit  decimal.NullDecimal // optional
}

// normalize upper-cases the symbol and defaults the kind to MARKET.
func (r *OrderRequest) normalize() {
	r.Symbol = strings.ToUpper(strings.TrimSpace(r.Symbol))
	if r.Kind == "" {
		r.Kind = domain.KindMarket
	}
}

// Validate checks the shape of the request against the instrument table.
func (r OrderRequest) Validate(table *risk.Table) error {
	if r.AccountID == "" {
		return fmt.Errorf("account id is required: %w", ports.ErrInvalidRequest)
	}
	if !r.Side.Valid() {
		return fmt.Errorf("invalid side %q: %w", r.Side, ports.ErrInvalidRequest)
	}
	if !r.Kind.Valid() {
		return fmt.Errorf("invalid order kind %q: %w", r.Kind, ports.ErrInvalidRequest)
	}
	if !r.Volume.IsPositive() {
		return fmt.Errorf("volume must be positive, got %s: %w", r.Volume, ports.ErrInvalidRequest)
	}
	if r.Kind.IsPending() && !r.TargetPrice.IsPositive() {
		return fmt.Errorf("%s orders require a positive price: %w", r.Kind, ports.ErrInvalidRequest)
	}
	if r.StopLoss.Valid && !r.StopLoss.Decimal.IsPositive() {
		return fmt.Errorf("stop loss must be positive: %w", ports.ErrInvalidRequest)
	}
	if r.TakeProfit.Valid && !r.TakeProfit.Decimal.IsPositive() {
		return fmt.Errorf("take profit must be positive: %w", ports.ErrInvalidRequest)
	}
	if !table.Supported(r.Symbol) {
		return fmt.Errorf("symbol %q: %w", r.Symbol, ports.ErrUnsupportedInstrument)
	}
	return nil
}

// NewTicket returns 8 upper-case hex characters taken from a random UUID.
func NewTicket() string {
	return strings.ToUpper(uuid.NewString()[:8])
}

// targetOnCorrectSide checks a pending order's price against the market it will trigger on.
// LIMIT waits for a better price, STOP for a breakout.
func targetOnCorrectSide(kind domain.OrderKind, side domain.OrderSide, target decimal.Decimal, tick domain.Tick) bool {
	switch {
	case kind == domain.KindLimit && side == domain.Buy:
		return target.LessThan(tick.Ask)
	case kind == domain.KindLimit && side == domain.Sell:
		return target.GreaterThan(tick.Bid)
	case kind == domain.KindStop && side == domain.Buy:
		return target.GreaterThan(tick.Ask)
	case kind == domain.KindStop && side == domain.Sell:
		return target.LessThan(tick.Bid)
	}
	return false
}
