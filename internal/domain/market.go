package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tick is a single bid/ask observation from the venue.
type Tick struct {
	Symbol string
	Bid    decimal.Decimal
	Ask    decimal.Decimal
	Time   time.Time
}

// Mid returns the average of bid and ask.
func (t Tick) Mid() decimal.Decimal {
	return t.Bid.Add(t.Ask).Div(decimal.NewFromInt(2))
}

// Instrument describes the contract conventions of a tradable symbol.
type Instrument struct {
	Symbol       string          `yaml:"symbol"`
	VenueSymbol  string          `yaml:"venue_symbol"`  // Symbol used by the live venue, defaults to Symbol
	ContractSize decimal.Decimal `yaml:"contract_size"` // Units per lot
	PointValue   decimal.Decimal `yaml:"point_value"`   // P&L scaling factor
	PipFactor    decimal.Decimal `yaml:"pip_factor"`    // Price difference to pips multiplier
	SeedPrice    decimal.Decimal `yaml:"seed_price"`    // Starting mid for the paper venue
}
