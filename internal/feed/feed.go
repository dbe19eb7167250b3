package feed

import (
	"context"
	"time"

	"houseBroker/internal/domain"
	"houseBroker/internal/ledger"
	"houseBroker/internal/ports"
	"houseBroker/internal/quotes"
	"houseBroker/internal/risk"
)

// Config holds the collaborators of the price feed.
type Config struct {
	Source    ports.TickSource
	Cache     *quotes.Cache
	Positions *ledger.PositionCache
	Engine    *risk.Engine
	Publisher ports.Publisher
	Logger    ports.Logger
	Symbols   []string
}

// Feed pulls ticks into the quote cache and broadcasts prices and open-position P&L.
type Feed struct {
	source    ports.TickSource
	cache     *quotes.Cache
	positions *ledger.PositionCache
	engine    *risk.Engine
	publisher ports.Publisher
	logger    ports.Logger
	symbols   []string
	now       func() time.Time
}

// Result counts what one poll did.
type Result struct {
	Ticks     int
	Missing   int
	Positions int
	DayRolled bool
}

// New creates a feed and registers its symbols with the cache.
func New(cfg Config) *Feed {
	for _, s := range cfg.Symbols {
		cfg.Cache.Track(s)
	}
	return &Feed{
		source:    cfg.Source,
		cache:     cfg.Cache,
		positions: cfg.Positions,
		engine:    cfg.Engine,
		publisher: cfg.Publisher,
		logger:    cfg.Logger,
		symbols:   cfg.Symbols,
		now:       time.Now,
	}
}

// Poll fetches one tick per symbol. A symbol whose tick cannot be fetched keeps its
// previous quote and is retried on the next poll.
func (f *Feed) Poll(ctx context.Context) Result {
	op := "PricePoll"
	var res Result

	if f.cache.RollDay(f.now()) {
		res.DayRolled = true
		f.logger.Info(ctx, op+": Daily statistics reset", map[string]interface{}{"symbols": len(f.symbols)})
	}

	for _, symbol := range f.symbols {
		if ctx.Err() != nil {
			return res
		}
		tick, err := f.source.GetTick(ctx, symbol)
		if err != nil {
			res.Missing++
			f.logger.Warn(ctx, op+": Tick unavailable", map[string]interface{}{"symbol": symbol, "error": err.Error()})
			continue
		}
		if tick.Symbol == "" {
			tick.Symbol = symbol
		}
		if tick.Time.IsZero() {
			tick.Time = f.now()
		}
		snap := f.cache.Update(tick)
		res.Ticks++
		f.publisher.Publish(ctx, snap.PriceUpdate())
		res.Positions += f.broadcastPositions(ctx, tick)
	}
	return res
}

// broadcastPositions publishes the unrealized P&L of every cached open trade on tick's symbol.
func (f *Feed) broadcastPositions(ctx context.Context, tick domain.Tick) int {
	open := f.positions.BySymbol(tick.Symbol)
	for _, t := range open {
		f.publisher.Publish(ctx, f.engine.Position(t, risk.ExitSidePrice(tick, t.Side)))
	}
	return len(open)
}
