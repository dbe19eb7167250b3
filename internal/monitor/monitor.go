package monitor

import (
	"context"
	"errors"
	"fmt"

	"houseBroker/internal/domain"
	"houseBroker/internal/ledger"
	"houseBroker/internal/ports"
	"houseBroker/internal/risk"
)

// Executor performs the state changes the monitor decides on.
type Executor interface {
	ExecutePending(ctx context.Context, trade *domain.Trade) (*domain.Trade, error)
	CloseTrade(ctx context.Context, ticket string, reason domain.CloseReason) (*domain.Trade, error)
}

// Monitor triggers pending orders and stop-loss/take-profit closes against cached quotes.
type Monitor struct {
	pending *ledger.PendingIndex
	trades  ports.TradeRepository
	quotes  risk.QuoteReader
	exec    Executor
	logger  ports.Logger
}

// Result counts what one pass did.
type Result struct {
	Triggered   int
	StopLosses  int
	TakeProfits int
	Failed      int
}

// New creates a monitor.
func New(pending *ledger.PendingIndex, trades ports.TradeRepository, quotes risk.QuoteReader, exec Executor, logger ports.Logger) *Monitor {
	return &Monitor{pending: pending, trades: trades, quotes: quotes, exec: exec, logger: logger}
}

// Run performs one pass: pending orders first, then stops on open trades.
func (m *Monitor) Run(ctx context.Context) (Result, error) {
	res := m.CheckPending(ctx)
	stops, err := m.CheckStops(ctx)
	res.StopLosses = stops.StopLosses
	res.TakeProfits = stops.TakeProfits
	res.Failed += stops.Failed
	return res, err
}

// CheckPending executes every pending order whose trigger condition holds on the current quote.
// The ticket is taken out of the index before execution, so a concurrent cancel and a trigger
// can never both act on it.
func (m *Monitor) CheckPending(ctx context.Context) Result {
	op := "CheckPending"
	var res Result
	for _, order := range m.pending.Snapshot() {
		tick, err := m.quotes.Latest(order.Symbol)
		if err != nil {
			continue
		}
		if !ShouldTrigger(order, tick) {
			continue
		}
		taken, ok := m.pending.Take(order.Ticket)
		if !ok {
			// cancelled since the snapshot
			continue
		}
		fields := map[string]interface{}{
			"ticket": taken.Ticket, "symbol": taken.Symbol, "kind": taken.Kind, "side": taken.Side,
			"targetPrice": taken.TargetPrice.String(), "bid": tick.Bid.String(), "ask": tick.Ask.String(),
		}
		m.logger.Info(ctx, op+": Pending order triggered", fields)
		if _, err := m.exec.ExecutePending(ctx, taken); err != nil {
			res.Failed++
			m.logger.Error(ctx, err, op+": Failed to execute triggered order", fields)
			continue
		}
		res.Triggered++
	}
	return res
}

// CheckStops closes every open trade whose stop-loss or take-profit is hit. At most one close per trade.
func (m *Monitor) CheckStops(ctx context.Context) (Result, error) {
	op := "CheckStops"
	var res Result
	open, err := m.trades.FindByStatus(ctx, domain.StatusExecuted)
	if err != nil {
		return res, fmt.Errorf("%s failed: %w", op, err)
	}
	for _, t := range open {
		if !t.HasStops() {
			continue
		}
		tick, err := m.quotes.Latest(t.Symbol)
		if err != nil {
			continue
		}
		reason, hit := StopHit(t, tick)
		if !hit {
			continue
		}
		fields := map[string]interface{}{
			"ticket": t.Ticket, "symbol": t.Symbol, "side": t.Side, "reason": reason,
			"price": risk.ExitSidePrice(tick, t.Side).String(),
		}
		if _, err := m.exec.CloseTrade(ctx, t.Ticket, reason); err != nil {
			if errors.Is(err, ports.ErrTradeNotOpen) {
				// closed elsewhere in the meantime
				continue
			}
			res.Failed++
			m.logger.Error(ctx, err, op+": Failed to close trade", fields)
			continue
		}
		if reason == domain.CloseReasonStopLoss {
			res.StopLosses++
		} else {
			res.TakeProfits++
		}
		m.logger.Info(ctx, op+": Trade closed by monitor", fields)
	}
	return res, nil
}

// ShouldTrigger reports whether a pending order's condition holds. The market price is
// ask for BUY and bid for SELL. LIMIT fills at the target or better; STOP on a breakout through it.
func ShouldTrigger(order *domain.Trade, tick domain.Tick) bool {
	price := risk.EntrySidePrice(tick, order.Side)
	target := order.TargetPrice
	switch {
	case order.Kind == domain.KindLimit && order.Side == domain.Buy:
		return price.LessThanOrEqual(target)
	case order.Kind == domain.KindLimit && order.Side == domain.Sell:
		return price.GreaterThanOrEqual(target)
	case order.Kind == domain.KindStop && order.Side == domain.Buy:
		return price.GreaterThanOrEqual(target)
	case order.Kind == domain.KindStop && order.Side == domain.Sell:
		return price.LessThanOrEqual(target)
	}
	return false
}

// StopHit checks an open trade against its stops at the exit-side price (bid for BUY, ask for SELL).
// Stop-loss wins when both levels are crossed.
func StopHit(t *domain.Trade, tick domain.Tick) (domain.CloseReason, bool) {
	price := risk.ExitSidePrice(tick, t.Side)
	if t.StopLoss.Valid {
		sl := t.StopLoss.Decimal
		if (t.Side == domain.Buy && price.LessThanOrEqual(sl)) || (t.Side == domain.Sell && price.GreaterThanOrEqual(sl)) {
			return domain.CloseReasonStopLoss, true
		}
	}
	if t.TakeProfit.Valid {
		tp := t.TakeProfit.Decimal
		if (t.Side == domain.Buy && price.GreaterThanOrEqual(tp)) || (t.Side == domain.Sell && price.LessThanOrEqual(tp)) {
			return domain.CloseReasonTakeProfit, true
		}
	}
	return "", false
}
