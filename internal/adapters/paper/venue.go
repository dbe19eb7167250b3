package paper

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"houseBroker/internal/domain"
	"houseBroker/internal/ports"
	"houseBroker/internal/risk"
)

// Config holds paper venue settings.
type Config struct {
	Instruments *risk.Table
	Logger      ports.Logger
	SpreadPips  decimal.Decimal // quoted spread, default 2 pips
	Volatility  decimal.Decimal // max relative move of the mid per tick, default 0.0001
	Seed        int64           // random seed, 0 uses the clock
}

// Venue is a simulated quote and execution venue. Each GetTick moves the mid
// price by a bounded random step; orders fill at the venue's own bid or ask.
type Venue struct {
	instruments *risk.Table
	logger      ports.Logger
	spreadPips  decimal.Decimal
	volatility  decimal.Decimal
	now         func() time.Time
	nextID      atomic.Int64

	mu   sync.Mutex
	rng  *rand.Rand
	mids map[string]decimal.Decimal
}

// New creates a paper venue seeded from the instrument table.
func New(cfg Config) (*Venue, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for paper venue")
	}
	if cfg.Instruments == nil {
		return nil, fmt.Errorf("instrument table is required for paper venue: %w", ports.ErrConfigurationError)
	}
	spread := cfg.SpreadPips
	if !spread.IsPositive() {
		spread = decimal.NewFromInt(2)
	}
	vol := cfg.Volatility
	if vol.IsNegative() {
		return nil, fmt.Errorf("volatility must not be negative: %w", ports.ErrConfigurationError)
	}
	if vol.IsZero() {
		vol = decimal.RequireFromString("0.0001")
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	v := &Venue{
		instruments: cfg.Instruments,
		logger:      cfg.Logger,
		spreadPips:  spread,
		volatility:  vol,
		now:         time.Now,
		rng:         rand.New(rand.NewSource(seed)),
		mids:        make(map[string]decimal.Decimal),
	}
	for _, inst := range cfg.Instruments.Instruments() {
		if inst.SeedPrice.IsPositive() {
			v.mids[inst.Symbol] = inst.SeedPrice
		}
	}
	cfg.Logger.Info(context.Background(), "Paper venue configured", map[string]interface{}{"symbols": len(v.mids), "spreadPips": spread.String(), "volatility": vol.String()})
	return v, nil
}

// precision is the number of decimals quoted for an instrument, one more than its pip.
func precision(inst domain.Instrument) int32 {
	return int32(len(inst.PipFactor.String()))
}

// quote builds a tick around mid.
func (v *Venue) quote(inst domain.Instrument, mid decimal.Decimal) domain.Tick {
	places := precision(inst)
	half := v.spreadPips.Div(inst.PipFactor).Div(decimal.NewFromInt(2))
	return domain.Tick{
		Symbol: inst.Symbol,
		Bid:    mid.Sub(half).Round(places),
		Ask:    mid.Add(half).Round(places),
		Time:   v.now().UTC(),
	}
}

// GetTick advances the random walk one step and returns the new quote.
func (v *Venue) GetTick(ctx context.Context, symbol string) (domain.Tick, error) {
	if err := ctx.Err(); err != nil {
		return domain.Tick{}, fmt.Errorf("GetTick failed: %w: %w", ports.ErrContextCanceled, err)
	}
	inst := v.instruments.Lookup(symbol)

	v.mu.Lock()
	mid, ok := v.mids[inst.Symbol]
	if !ok {
		v.mu.Unlock()
		return domain.Tick{}, fmt.Errorf("GetTick failed: no seed price for %s: %w", symbol, ports.ErrQuoteUnavailable)
	}
	// step in [-volatility, +volatility) of the current mid
	step := decimal.NewFromFloat(v.rng.Float64()*2 - 1).Mul(v.volatility)
	mid = mid.Add(mid.Mul(step)).Round(precision(inst) + 1)
	v.mids[inst.Symbol] = mid
	v.mu.Unlock()

	return v.quote(inst, mid), nil
}

// current returns the quote at the current mid without moving it.
func (v *Venue) current(symbol string) (domain.Tick, error) {
	inst := v.instruments.Lookup(symbol)
	v.mu.Lock()
	mid, ok := v.mids[inst.Symbol]
	v.mu.Unlock()
	if !ok {
		return domain.Tick{}, fmt.Errorf("no seed price for %s: %w", symbol, ports.ErrQuoteUnavailable)
	}
	return v.quote(inst, mid), nil
}

func (v *Venue) fill(price, volume decimal.Decimal) *ports.Fill {
	return &ports.Fill{
		VenueTicket: "P" + strconv.FormatInt(v.nextID.Add(1), 10),
		Price:       price,
		Volume:      volume,
		Time:        v.now().UTC(),
	}
}

// PlaceMarketOrder fills BUY at ask and SELL at bid.
func (v *Venue) PlaceMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, volume decimal.Decimal) (*ports.Fill, error) {
	op := "PlaceMarketOrder"
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s failed: %w: %w", op, ports.ErrContextCanceled, err)
	}
	if !volume.IsPositive() {
		return nil, fmt.Errorf("%s failed: volume must be positive: %w", op, ports.ErrInvalidRequest)
	}
	tick, err := v.current(symbol)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	f := v.fill(risk.EntrySidePrice(tick, side), volume)
	v.logger.Debug(ctx, op+": Filled", map[string]interface{}{"symbol": symbol, "side": side, "volume": volume.String(), "price": f.Price.String(), "venueTicket": f.VenueTicket})
	return f, nil
}

// ClosePosition fills the reverse of side: a BUY closes at bid, a SELL at ask.
func (v *Venue) ClosePosition(ctx context.Context, venueTicket, symbol string, volume decimal.Decimal, side domain.OrderSide) (*ports.Fill, error) {
	op := "ClosePosition"
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s failed: %w: %w", op, ports.ErrContextCanceled, err)
	}
	tick, err := v.current(symbol)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	f := v.fill(risk.ExitSidePrice(tick, side), volume)
	f.VenueTicket = venueTicket
	v.logger.Debug(ctx, op+": Filled", map[string]interface{}{"symbol": symbol, "side": side, "volume": volume.String(), "price": f.Price.String(), "venueTicket": venueTicket})
	return f, nil
}
