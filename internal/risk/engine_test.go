package risk

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"houseBroker/internal/domain"
	"houseBroker/internal/ports"
)

type staticQuotes map[string]domain.Tick

func (q staticQuotes) Latest(symbol string) (domain.Tick, error) {
	tick, ok := q[symbol]
	if !ok {
		return domain.Tick{}, fmt.Errorf("%s: %w", symbol, ports.ErrQuoteUnavailable)
	}
	return tick, nil
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestEngine() *Engine {
	quotes := staticQuotes{
		"EURUSD": {Symbol: "EURUSD", Bid: d("1.1048"), Ask: d("1.1050")},
		"USDJPY": {Symbol: "USDJPY", Bid: d("150.10"), Ask: d("150.12")},
		"XAUUSD": {Symbol: "XAUUSD", Bid: d("2000.0"), Ask: d("2000.4")},
	}
	return NewEngine(NewTableFromSymbols("EURUSD", "USDJPY", "XAUUSD"), quotes, d("6"))
}

func TestEngine_RequiredMargin(t *testing.T) {
	e := newTestEngine()

	tests := []struct {
		name     string
		symbol   string
		volume   string
		leverage int
		want     string
	}{
		{"EURUSD 1 lot 1:100", "EURUSD", "1", 100, "1104.90"},
		{"EURUSD 0.1 lot 1:500", "EURUSD", "0.1", 500, "22.10"},
		{"USDJPY 1 lot 1:100", "USDJPY", "1", 100, "150110"},
		{"XAUUSD 1 lot 1:100", "XAUUSD", "1", 100, "2000.2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc := &domain.Account{Leverage: tt.leverage}
			got, err := e.RequiredMargin(acc, tt.symbol, d(tt.volume))
			require.NoError(t, err)
			assert.True(t, d(tt.want).Equal(got), "want %s got %s", tt.want, got)
		})
	}
}

func TestEngine_RequiredMargin_NoQuote(t *testing.T) {
	e := newTestEngine()
	_, err := e.RequiredMargin(&domain.Account{Leverage: 100}, "GBPUSD", d("1"))
	assert.ErrorIs(t, err, ports.ErrQuoteUnavailable)
}

func TestEngine_PnL(t *testing.T) {
	e := newTestEngine()

	tests := []struct {
		name  string
		trade domain.Trade
		price string
		want  string
		pips  string
	}{
		{
			name:  "BUY EURUSD gains when price rises",
			trade: domain.Trade{Symbol: "EURUSD", Side: domain.Buy, Volume: d("1"), EntryPrice: d("1.1050")},
			price: "1.1060", want: "100", pips: "10",
		},
		{
			name:  "SELL EURUSD loses when price rises",
			trade: domain.Trade{Symbol: "EURUSD", Side: domain.Sell, Volume: d("1"), EntryPrice: d("1.1050")},
			price: "1.1060", want: "-100", pips: "-10",
		},
		{
			name:  "BUY USDJPY scaled by JPY point value",
			trade: domain.Trade{Symbol: "USDJPY", Side: domain.Buy, Volume: d("1"), EntryPrice: d("150.00")},
			price: "150.50", want: "500", pips: "50",
		},
		{
			name:  "SELL XAUUSD scaled by metal point value",
			trade: domain.Trade{Symbol: "XAUUSD", Side: domain.Sell, Volume: d("2"), EntryPrice: d("2010")},
			price: "2000", want: "200", pips: "100",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.PnL(&tt.trade, d(tt.price))
			assert.True(t, d(tt.want).Equal(got), "pnl want %s got %s", tt.want, got)
			pips := e.Pips(&tt.trade, d(tt.price))
			assert.True(t, d(tt.pips).Equal(pips), "pips want %s got %s", tt.pips, pips)
		})
	}
}

func TestEngine_SidePrices(t *testing.T) {
	e := newTestEngine()

	entryBuy, err := e.EntryPrice("EURUSD", domain.Buy)
	require.NoError(t, err)
	assert.True(t, d("1.1050").Equal(entryBuy))

	entrySell, err := e.EntryPrice("EURUSD", domain.Sell)
	require.NoError(t, err)
	assert.True(t, d("1.1048").Equal(entrySell))

	exitBuy, err := e.ExitPrice("EURUSD", domain.Buy)
	require.NoError(t, err)
	assert.True(t, d("1.1048").Equal(exitBuy))

	exitSell, err := e.ExitPrice("EURUSD", domain.Sell)
	require.NoError(t, err)
	assert.True(t, d("1.1050").Equal(exitSell))

	_, err = e.ExitPrice("GBPUSD", domain.Buy)
	assert.ErrorIs(t, err, ports.ErrQuoteUnavailable)
}

func TestEngine_Commission(t *testing.T) {
	e := newTestEngine()
	assert.True(t, d("6").Equal(e.Commission(d("1"))))
	assert.True(t, d("0.6").Equal(e.Commission(d("0.1"))))
}

func TestEngine_UnrealizedPnLSkipsMissingQuotes(t *testing.T) {
	e := newTestEngine()
	trades := []*domain.Trade{
		{Symbol: "EURUSD", Side: domain.Buy, Volume: d("1"), EntryPrice: d("1.1038")},
		{Symbol: "GBPUSD", Side: domain.Buy, Volume: d("1"), EntryPrice: d("1.2000")},
	}
	assert.True(t, d("100").Equal(e.UnrealizedPnL(trades)))
}

func TestLevel(t *testing.T) {
	level, ok := Level(d("500"), d("1000"))
	require.True(t, ok)
	assert.True(t, d("50").Equal(level))

	_, ok = Level(d("500"), decimal.Zero)
	assert.False(t, ok)
}

func TestThresholds_Classify(t *testing.T) {
	th := DefaultThresholds()
	require.NoError(t, th.Validate())

	assert.Equal(t, ZoneStopOut, th.Classify(d("50")))
	assert.Equal(t, ZoneMarginCall, th.Classify(d("51")))
	assert.Equal(t, ZoneMarginCall, th.Classify(d("100")))
	assert.Equal(t, ZoneHealthy, th.Classify(d("100.01")))

	bad := Thresholds{MarginCall: d("50"), StopOut: d("50")}
	assert.Error(t, bad.Validate())
}

func TestTable_Defaults(t *testing.T) {
	table := NewTable([]domain.Instrument{
		{Symbol: "eurusd"},
		{Symbol: "XAUUSD", VenueSymbol: "PAXGUSDT"},
	})

	assert.Equal(t, []string{"EURUSD", "XAUUSD"}, table.Symbols())
	assert.True(t, table.Supported("EURUSD"))
	assert.False(t, table.Supported("GBPUSD"))

	gold := table.Lookup("XAUUSD")
	assert.Equal(t, "PAXGUSDT", gold.VenueSymbol)
	assert.True(t, d("100").Equal(gold.ContractSize))
	assert.True(t, d("0.1").Equal(gold.PointValue))

	unlisted := table.Lookup("GBPJPY")
	assert.True(t, DefaultContractSize.Equal(unlisted.ContractSize))
	assert.True(t, d("0.01").Equal(unlisted.PointValue))
}

func TestParseBasis(t *testing.T) {
	for in, want := range map[string]Basis{"": BasisBalance, "balance": BasisBalance, " Equity ": BasisEquity} {
		got, err := ParseBasis(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseBasis("net")
	assert.Error(t, err)
}

func TestEngine_LevelBase(t *testing.T) {
	e := newTestEngine()
	open := []*domain.Trade{
		{Symbol: "EURUSD", Side: domain.Buy, Volume: d("1"), EntryPrice: d("1.1038")},
	}
	assert.True(t, d("1000").Equal(e.LevelBase(BasisBalance, d("1000"), open)))
	assert.True(t, d("1100").Equal(e.LevelBase(BasisEquity, d("1000"), open)))
}
