package ports

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"houseBroker/internal/domain"
)

// Fill is the venue's answer to an executed order.
type Fill struct {
	VenueTicket string          // Venue order id
	Price       decimal.Decimal // Average fill price
	Volume      decimal.Decimal // Filled volume in lots
	Time        time.Time
}

// TickSource supplies the latest bid/ask for an instrument.
type TickSource interface {
	// GetTick returns the latest tick for symbol, or an error wrapping ErrQuoteUnavailable.
	GetTick(ctx context.Context, symbol string) (domain.Tick, error)
}

// ExecutionVenue is the upstream quote and execution venue.
// Stop-loss and take-profit levels are never sent to it.
type ExecutionVenue interface {
	TickSource

	// PlaceMarketOrder fills volume lots of symbol on side (the house book side).
	PlaceMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, volume decimal.Decimal) (*Fill, error)

	// ClosePosition flattens the venue position opened as venueTicket. side is the side the position was opened on.
	ClosePosition(ctx context.Context, venueTicket, symbol string, volume decimal.Decimal, side domain.OrderSide) (*Fill, error)
}
