package quotes

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"houseBroker/internal/domain"
	"houseBroker/internal/ports"
)

var hundred = decimal.NewFromInt(100)

// entry is the cached state of one instrument.
type entry struct {
	tick      domain.Tick
	hasTick   bool
	open      decimal.Decimal
	high      decimal.Decimal
	low       decimal.NullDecimal // invalid means no low yet (unbounded)
	tickCount int64
}

// Snapshot is a consistent copy of one instrument's quote and daily statistics.
type Snapshot struct {
	Tick      domain.Tick
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	TickCount int64
}

// Change is bid minus the daily open.
func (s Snapshot) Change() decimal.Decimal {
	return s.Tick.Bid.Sub(s.Open)
}

// ChangePercent is Change relative to the daily open, zero when the open is unknown.
func (s Snapshot) ChangePercent() decimal.Decimal {
	if s.Open.IsZero() {
		return decimal.Zero
	}
	return s.Change().Div(s.Open).Mul(hundred).Round(4)
}

// Spread is ask minus bid.
func (s Snapshot) Spread() decimal.Decimal {
	return s.Tick.Ask.Sub(s.Tick.Bid)
}

// PriceUpdate renders the snapshot as a broadcast event.
func (s Snapshot) PriceUpdate() domain.PriceUpdate {
	return domain.PriceUpdate{
		Symbol:        s.Tick.Symbol,
		Bid:           s.Tick.Bid,
		Ask:           s.Tick.Ask,
		High:          s.High,
		Low:           s.Low,
		Change:        s.Change(),
		ChangePercent: s.ChangePercent(),
		Spread:        s.Spread(),
	}
}

// Stats summarises the cache for diagnostics.
type Stats struct {
	Symbols   []string  `json:"symbols"`
	Resets    int       `json:"resets"`
	LastReset time.Time `json:"lastReset"`
	Ticks     int64     `json:"ticks"`
}

// Cache holds the latest tick and daily open/high/low per instrument. Safe for concurrent use.
type Cache struct {
	mu        sync.RWMutex
	entries   map[string]*entry
	day       string
	lastReset time.Time
	resets    int
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]*entry)}
}

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// RollDay resets daily statistics when now falls on a new UTC calendar day.
// Instruments with a cached price are reseeded from it; others are zeroed with an unbounded low.
// It reports whether a reset happened.
func (c *Cache) RollDay(now time.Time) bool {
	key := dayKey(now)

	c.mu.Lock()
	defer c.mu.Unlock()

	if key == c.day {
		return false
	}
	c.day = key
	c.lastReset = now
	c.resets++
	for _, e := range c.entries {
		e.tickCount = 0
		if e.hasTick {
			e.open = e.tick.Bid
			e.high = e.tick.Ask
			e.low = decimal.NewNullDecimal(e.tick.Bid)
			continue
		}
		e.open = decimal.Zero
		e.high = decimal.Zero
		e.low = decimal.NullDecimal{}
	}
	return true
}

// Track registers symbol so that day rolls zero it even before its first tick.
func (c *Cache) Track(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[symbol]; !ok {
		c.entries[symbol] = &entry{}
	}
}

// Update stores tick as the latest quote for its symbol and folds it into the daily statistics.
func (c *Cache) Update(tick domain.Tick) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[tick.Symbol]
	if !ok {
		e = &entry{}
		c.entries[tick.Symbol] = e
	}
	e.tick = tick
	e.hasTick = true
	e.tickCount++

	if e.open.IsZero() {
		e.open = tick.Bid
	}
	if tick.Ask.GreaterThan(e.high) {
		e.high = tick.Ask
	}
	if !e.low.Valid || tick.Bid.LessThan(e.low.Decimal) {
		e.low = decimal.NewNullDecimal(tick.Bid)
	}
	return e.snapshot()
}

func (e *entry) snapshot() Snapshot {
	return Snapshot{
		Tick:      e.tick,
		Open:      e.open,
		High:      e.high,
		Low:       e.low.Decimal,
		TickCount: e.tickCount,
	}
}

// Latest returns the cached tick for symbol, or ErrQuoteUnavailable.
func (c *Cache) Latest(symbol string) (domain.Tick, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[symbol]
	if !ok || !e.hasTick {
		return domain.Tick{}, fmt.Errorf("%s: %w", symbol, ports.ErrQuoteUnavailable)
	}
	return e.tick, nil
}

// Snapshot returns the quote and daily statistics for symbol, or ErrQuoteUnavailable.
func (c *Cache) Snapshot(symbol string) (Snapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[symbol]
	if !ok || !e.hasTick {
		return Snapshot{}, fmt.Errorf("%s: %w", symbol, ports.ErrQuoteUnavailable)
	}
	return e.snapshot(), nil
}

// Stats returns diagnostics about the cache.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	st := Stats{Resets: c.resets, LastReset: c.lastReset}
	for symbol, e := range c.entries {
		st.Symbols = append(st.Symbols, symbol)
		st.Ticks += e.tickCount
	}
	sort.Strings(st.Symbols)
	return st
}
