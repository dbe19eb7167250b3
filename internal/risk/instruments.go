package risk

import (
	"strings"

	"github.com/shopspring/decimal"

	"houseBroker/internal/domain"
)

var (
	DefaultContractSize = decimal.NewFromInt(100000)

	contractSizes = map[string]decimal.Decimal{
		"EURUSD": decimal.NewFromInt(100000),
		"USDJPY": decimal.NewFromInt(100000),
		"XAUUSD": decimal.NewFromInt(100),
	}
	seedPrices = map[string]decimal.Decimal{
		"EURUSD": decimal.RequireFromString("1.1000"),
		"USDJPY": decimal.RequireFromString("150.00"),
		"XAUUSD": decimal.RequireFromString("2000.00"),
	}
)

func isJPY(symbol string) bool {
	return strings.Contains(symbol, "JPY")
}

func isMetal(symbol string) bool {
	return strings.HasPrefix(symbol, "XAU") || strings.HasPrefix(symbol, "XAG")
}

// DefaultInstrument returns the built-in conventions for symbol.
func DefaultInstrument(symbol string) domain.Instrument {
	symbol = strings.ToUpper(symbol)
	inst := domain.Instrument{
		Symbol:       symbol,
		VenueSymbol:  symbol,
		ContractSize: DefaultContractSize,
		PointValue:   decimal.NewFromInt(1),
		PipFactor:    decimal.NewFromInt(10000),
	}
	if size, ok := contractSizes[symbol]; ok {
		inst.ContractSize = size
	}
	if seed, ok := seedPrices[symbol]; ok {
		inst.SeedPrice = seed
	}
	switch {
	case isJPY(symbol):
		inst.PointValue = decimal.RequireFromString("0.01")
		inst.PipFactor = decimal.NewFromInt(100)
	case isMetal(symbol):
		inst.PointValue = decimal.RequireFromString("0.1")
		inst.PipFactor = decimal.NewFromInt(10)
	}
	return inst
}

// Table is the set of supported instruments, in configuration order.
type Table struct {
	order       []string
	instruments map[string]domain.Instrument
}

// NewTable builds a table from configured instruments. Zero fields are filled from DefaultInstrument.
func NewTable(instruments []domain.Instrument) *Table {
	t := &Table{instruments: make(map[string]domain.Instrument, len(instruments))}
	for _, inst := range instruments {
		symbol := strings.ToUpper(inst.Symbol)
		if symbol == "" {
			continue
		}
		def := DefaultInstrument(symbol)
		inst.Symbol = symbol
		if inst.VenueSymbol == "" {
			inst.VenueSymbol = def.VenueSymbol
		}
		if inst.ContractSize.IsZero() {
			inst.ContractSize = def.ContractSize
		}
		if inst.PointValue.IsZero() {
			inst.PointValue = def.PointValue
		}
		if inst.PipFactor.IsZero() {
			inst.PipFactor = def.PipFactor
		}
		if inst.SeedPrice.IsZero() {
			inst.SeedPrice = def.SeedPrice
		}
		if _, dup := t.instruments[symbol]; !dup {
			t.order = append(t.order, symbol)
		}
		t.instruments[symbol] = inst
	}
	return t
}

// NewTableFromSymbols builds a table using the built-in conventions for each symbol.
func NewTableFromSymbols(symbols ...string) *Table {
	list := make([]domain.Instrument, 0, len(symbols))
	for _, s := range symbols {
		list = append(list, domain.Instrument{Symbol: s})
	}
	return NewTable(list)
}

// Supported reports whether symbol is configured for trading.
func (t *Table) Supported(symbol string) bool {
	_, ok := t.instruments[symbol]
	return ok
}

// Lookup returns the configured instrument, or the built-in defaults for unlisted symbols.
func (t *Table) Lookup(symbol string) domain.Instrument {
	if inst, ok := t.instruments[symbol]; ok {
		return inst
	}
	return DefaultInstrument(symbol)
}

// Symbols returns the configured symbols in configuration order.
func (t *Table) Symbols() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// Instruments returns the configured instruments in configuration order.
func (t *Table) Instruments() []domain.Instrument {
	out := make([]domain.Instrument, 0, len(t.order))
	for _, s := range t.order {
		out = append(out, t.instruments[s])
	}
	return out
}
