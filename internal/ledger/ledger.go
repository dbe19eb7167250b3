package ledger

import (
	"context"
	"fmt"
	"time"

	"houseBroker/internal/domain"
	"houseBroker/internal/ports"
)

// Ledger is the persisted trade store plus its two in-memory indexes.
type Ledger struct {
	store     ports.Store
	logger    ports.Logger
	pending   *PendingIndex
	positions *PositionCache
	now       func() time.Time
}

// New creates a ledger over store with empty indexes.
func New(store ports.Store, logger ports.Logger) *Ledger {
	return &Ledger{
		store:     store,
		logger:    logger,
		pending:   NewPendingIndex(),
		positions: NewPositionCache(),
		now:       time.Now,
	}
}

// Store returns the persistence backend.
func (l *Ledger) Store() ports.Store { return l.store }

// Pending returns the pending order index.
func (l *Ledger) Pending() *PendingIndex { return l.pending }

// Positions returns the open position cache.
func (l *Ledger) Positions() *PositionCache { return l.positions }

// LoadPending rebuilds the pending index from every PENDING trade in storage.
func (l *Ledger) LoadPending(ctx context.Context) (int, error) {
	op := "LoadPending"
	trades, err := l.store.FindByStatus(ctx, domain.StatusPending)
	if err != nil {
		return 0, fmt.Errorf("%s failed: %w", op, err)
	}
	pending := make([]*domain.Trade, 0, len(trades))
	for _, t := range trades {
		if !t.Kind.IsPending() {
			// A market order left PENDING by a crash never reached the venue or the balance.
			l.logger.Warn(ctx, op+": Skipping stale pending market order", map[string]interface{}{"ticket": t.Ticket})
			continue
		}
		pending = append(pending, t)
	}
	l.pending.Load(pending)
	l.logger.Info(ctx, op+": Pending orders loaded", map[string]interface{}{"count": len(pending)})
	return len(pending), nil
}

// RefreshPositions rebuilds the position cache from every EXECUTED trade in storage.
func (l *Ledger) RefreshPositions(ctx context.Context) error {
	op := "RefreshPositions"
	trades, err := l.store.FindByStatus(ctx, domain.StatusExecuted)
	if err != nil {
		return fmt.Errorf("%s failed: %w", op, err)
	}
	l.positions.Replace(trades, l.now())
	l.logger.Debug(ctx, op+": Position cache refreshed", map[string]interface{}{"positions": len(trades)})
	return nil
}

// OpenTrades returns every EXECUTED trade from storage.
func (l *Ledger) OpenTrades(ctx context.Context) ([]*domain.Trade, error) {
	return l.store.FindByStatus(ctx, domain.StatusExecuted)
}
