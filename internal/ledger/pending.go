package ledger

import (
	"sort"
	"sync"

	"houseBroker/internal/domain"
)

// PendingIndex holds pending LIMIT/STOP orders by ticket.
// Take is the only way out of the index, so a ticket is triggered or cancelled at most once.
type PendingIndex struct {
	mu     sync.Mutex
	orders map[string]*domain.Trade
}

// NewPendingIndex creates an empty index.
func NewPendingIndex() *PendingIndex {
	return &PendingIndex{orders: make(map[string]*domain.Trade)}
}

// Add stores a copy of t under its ticket.
func (p *PendingIndex) Add(t *domain.Trade) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orders[t.Ticket] = t.Clone()
}

// Load replaces the index contents with trades.
func (p *PendingIndex) Load(trades []*domain.Trade) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orders = make(map[string]*domain.Trade, len(trades))
	for _, t := range trades {
		p.orders[t.Ticket] = t.Clone()
	}
}

// Take removes and returns the order for ticket. ok is false if it was not pending.
func (p *PendingIndex) Take(ticket string) (t *domain.Trade, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok = p.orders[ticket]
	if ok {
		delete(p.orders, ticket)
	}
	return t, ok
}

// Contains reports whether ticket is pending.
func (p *PendingIndex) Contains(ticket string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.orders[ticket]
	return ok
}

// Snapshot returns copies of all pending orders ordered by ticket.
func (p *PendingIndex) Snapshot() []*domain.Trade {
	p.mu.Lock()
	out := make([]*domain.Trade, 0, len(p.orders))
	for _, t := range p.orders {
		out = append(out, t.Clone())
	}
	p.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Ticket < out[j].Ticket })
	return out
}

// Len returns the number of pending orders.
func (p *PendingIndex) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.orders)
}
