package ledger

import (
	"sort"
	"sync"
	"time"

	"houseBroker/internal/domain"
)

// PositionCache groups open trades by instrument for the broadcast loop.
// It is rebuilt from storage periodically and patched on open/close in between.
type PositionCache struct {
	mu          sync.RWMutex
	bySymbol    map[string]map[string]*domain.Trade
	lastRefresh time.Time
	refreshes   int
}

// PositionStats summarises the cache for diagnostics.
type PositionStats struct {
	Positions   int            `json:"positions"`
	BySymbol    map[string]int `json:"bySymbol"`
	LastRefresh time.Time      `json:"lastRefresh"`
	Refreshes   int            `json:"refreshes"`
}

// NewPositionCache creates an empty cache.
func NewPositionCache() *PositionCache {
	return &PositionCache{bySymbol: make(map[string]map[string]*domain.Trade)}
}

// Replace swaps the whole cache for the given open trades.
func (c *PositionCache) Replace(trades []*domain.Trade, at time.Time) {
	next := make(map[string]map[string]*domain.Trade)
	for _, t := range trades {
		if t.Status != domain.StatusExecuted {
			continue
		}
		group, ok := next[t.Symbol]
		if !ok {
			group = make(map[string]*domain.Trade)
			next[t.Symbol] = group
		}
		group[t.Ticket] = t.Clone()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.bySymbol = next
	c.lastRefresh = at
	c.refreshes++
}

// Put adds or replaces one open trade.
func (c *PositionCache) Put(t *domain.Trade) {
	c.mu.Lock()
	defer c.mu.Unlock()
	group, ok := c.bySymbol[t.Symbol]
	if !ok {
		group = make(map[string]*domain.Trade)
		c.bySymbol[t.Symbol] = group
	}
	group[t.Ticket] = t.Clone()
}

// Remove drops a trade from the cache.
func (c *PositionCache) Remove(symbol, ticket string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	group, ok := c.bySymbol[symbol]
	if !ok {
		return
	}
	delete(group, ticket)
	if len(group) == 0 {
		delete(c.bySymbol, symbol)
	}
}

// BySymbol returns copies of the cached open trades for symbol, ordered by ticket.
func (c *PositionCache) BySymbol(symbol string) []*domain.Trade {
	c.mu.RLock()
	group := c.bySymbol[symbol]
	out := make([]*domain.Trade, 0, len(group))
	for _, t := range group {
		out = append(out, t.Clone())
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Ticket < out[j].Ticket })
	return out
}

// Stats returns diagnostics about the cache.
func (c *PositionCache) Stats() PositionStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st := PositionStats{
		BySymbol:    make(map[string]int, len(c.bySymbol)),
		LastRefresh: c.lastRefresh,
		Refreshes:   c.refreshes,
	}
	for symbol, group := range c.bySymbol {
		st.BySymbol[symbol] = len(group)
		st.Positions += len(group)
	}
	return st
}
