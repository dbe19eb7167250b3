package sweep

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"houseBroker/internal/domain"
	"houseBroker/internal/ports"
	"houseBroker/internal/risk"
)

// Closer force-closes open trades.
type Closer interface {
	CloseTrade(ctx context.Context, ticket string, reason domain.CloseReason) (*domain.Trade, error)
}

// Config holds the collaborators and limits of the sweep.
type Config struct {
	Store      ports.Store
	Engine     *risk.Engine
	Closer     Closer
	Publisher  ports.Publisher
	Logger     ports.Logger
	Thresholds risk.Thresholds
	Basis      risk.Basis
}

// Sweeper checks every account with open positions against the margin-call and stop-out levels.
type Sweeper struct {
	store      ports.Store
	engine     *risk.Engine
	closer     Closer
	publisher  ports.Publisher
	logger     ports.Logger
	thresholds risk.Thresholds
	basis      risk.Basis
}

// Result counts what one sweep did.
type Result struct {
	Accounts    int // accounts with margin in use
	MarginCalls int
	StopOuts    int
	Closed      int
	Failed      int
}

// New creates a sweeper. Zero thresholds fall back to the defaults.
func New(cfg Config) (*Sweeper, error) {
	th := cfg.Thresholds
	if th.MarginCall.IsZero() && th.StopOut.IsZero() {
		th = risk.DefaultThresholds()
	}
	if err := th.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sweep thresholds: %w: %w", ports.ErrConfigurationError, err)
	}
	basis := cfg.Basis
	if basis == "" {
		basis = risk.BasisBalance
	}
	return &Sweeper{
		store:      cfg.Store,
		engine:     cfg.Engine,
		closer:     cfg.Closer,
		publisher:  cfg.Publisher,
		logger:     cfg.Logger,
		thresholds: th,
		basis:      basis,
	}, nil
}

type exposure struct {
	accountID string
	used      decimal.Decimal
	open      []*domain.Trade
}

// Run performs one sweep over all open trades.
func (s *Sweeper) Run(ctx context.Context) (Result, error) {
	op := "MarginSweep"
	var res Result

	open, err := s.store.FindByStatus(ctx, domain.StatusExecuted)
	if err != nil {
		return res, fmt.Errorf("%s failed: %w", op, err)
	}

	byAccount := make(map[string]*exposure)
	for _, t := range open {
		e, ok := byAccount[t.AccountID]
		if !ok {
			e = &exposure{accountID: t.AccountID}
			byAccount[t.AccountID] = e
		}
		e.used = e.used.Add(t.Margin)
		e.open = append(e.open, t)
	}
	accounts := make([]string, 0, len(byAccount))
	for id := range byAccount {
		accounts = append(accounts, id)
	}
	sort.Strings(accounts)

	for _, id := range accounts {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("%s failed: %w: %w", op, ports.ErrContextCanceled, err)
		}
		e := byAccount[id]
		if !e.used.IsPositive() {
			continue
		}
		res.Accounts++
		s.checkAccount(ctx, e, &res)
	}

	if res.MarginCalls > 0 || res.StopOuts > 0 {
		s.logger.Info(ctx, op+": Sweep finished", map[string]interface{}{
			"accounts": res.Accounts, "marginCalls": res.MarginCalls, "stopOuts": res.StopOuts,
			"closed": res.Closed, "failed": res.Failed,
		})
	}
	return res, nil
}

func (s *Sweeper) checkAccount(ctx context.Context, e *exposure, res *Result) {
	op := "MarginSweep"
	acc, err := s.store.GetAccount(ctx, e.accountID)
	if err != nil || acc == nil {
		s.logger.Warn(ctx, op+": Account not readable, skipped", map[string]interface{}{"accountID": e.accountID})
		return
	}

	level, ok := risk.Level(s.engine.LevelBase(s.basis, acc.Balance, e.open), e.used)
	if !ok {
		return
	}
	fields := map[string]interface{}{
		"accountID": acc.ID, "balance": acc.Balance.String(), "marginUsed": e.used.String(),
		"marginLevel": level.StringFixed(2), "basis": s.basis,
	}

	switch s.thresholds.Classify(level) {
	case risk.ZoneStopOut:
		res.StopOuts++
		s.logger.Warn(ctx, op+": Stop-out, closing all positions", merge(fields, map[string]interface{}{"positions": len(e.open)}))
		// FindByStatus returns trades in ticket order.
		for _, t := range e.open {
			if _, err := s.closer.CloseTrade(ctx, t.Ticket, domain.CloseReasonMarginStopOut); err != nil {
				res.Failed++
				s.logger.Error(ctx, err, op+": Stop-out close failed", merge(fields, map[string]interface{}{"ticket": t.Ticket}))
				continue
			}
			res.Closed++
		}
	case risk.ZoneMarginCall:
		res.MarginCalls++
		s.logger.Warn(ctx, op+": Margin call", fields)
		s.publisher.Publish(ctx, domain.MarginCall{
			AccountID:   acc.ID,
			MarginLevel: level.Round(2),
			Balance:     acc.Balance,
			MarginUsed:  e.used,
		})
	}
}

func merge(base map[string]interface{}, extra map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
