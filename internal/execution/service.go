package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"houseBroker/internal/analytics"
	"houseBroker/internal/domain"
	"houseBroker/internal/ledger"
	"houseBroker/internal/ports"
	"houseBroker/internal/risk"
)

const maxTicketAttempts = 5

// Config holds the collaborators of the execution service.
type Config struct {
	Ledger    *ledger.Ledger
	Engine    *risk.Engine
	Quotes    risk.QuoteReader
	Venue     ports.ExecutionVenue // routes non-simulated accounts; nil disables live routing
	Publisher ports.Publisher
	Logger    ports.Logger
	Basis     risk.Basis // margin level basis for AccountInfo
}

// Service is the order execution state machine. It owns every balance and trade status change.
type Service struct {
	ledger    *ledger.Ledger
	store     ports.Store
	engine    *risk.Engine
	quotes    risk.QuoteReader
	venue     ports.ExecutionVenue
	publisher ports.Publisher
	logger    ports.Logger
	basis     risk.Basis
	locks     *accountLocks
	newTicket func() string
	now       func() time.Time
}

// NewService creates an execution service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Ledger == nil || cfg.Engine == nil || cfg.Quotes == nil {
		return nil, fmt.Errorf("ledger, engine and quotes are required: %w", ports.ErrConfigurationError)
	}
	if cfg.Publisher == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("publisher and logger are required: %w", ports.ErrConfigurationError)
	}
	basis := cfg.Basis
	if basis == "" {
		basis = risk.BasisBalance
	}
	return &Service{
		ledger:    cfg.Ledger,
		store:     cfg.Ledger.Store(),
		engine:    cfg.Engine,
		quotes:    cfg.Quotes,
		venue:     cfg.Venue,
		publisher: cfg.Publisher,
		logger:    cfg.Logger,
		basis:     basis,
		locks:     newAccountLocks(),
		newTicket: NewTicket,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// PlaceOrder validates and books a new order. MARKET orders fill immediately;
// LIMIT and STOP orders reserve their margin and wait in the pending index.
// The returned trade is EXECUTED or PENDING on success. On failure after the
// record was created it is persisted CANCELLED and the error is returned.
func (s *Service) PlaceOrder(ctx context.Context, req OrderRequest) (*domain.Trade, error) {
	op := "PlaceOrder"
	req.normalize()
	if err := req.Validate(s.engine.Table()); err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}

	unlock := s.locks.lock(req.AccountID)
	defer unlock()

	acc, err := s.store.GetAccount(ctx, req.AccountID)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	if acc == nil {
		return nil, fmt.Errorf("%s failed: account %s: %w", op, req.AccountID, ports.ErrNotFound)
	}

	trade, err := s.createTrade(ctx, acc, req)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	fields := map[string]interface{}{
		"ticket": trade.Ticket, "accountID": acc.ID, "symbol": trade.Symbol,
		"kind": trade.Kind, "side": trade.Side, "volume": trade.Volume.String(),
	}

	margin, err := s.engine.RequiredMargin(acc, trade.Symbol, trade.Volume)
	if err != nil {
		return nil, s.reject(ctx, op, trade, err)
	}
	commission := s.engine.Commission(trade.Volume)
	trade.Margin = margin
	trade.OpenCommission = commission

	required := margin.Add(commission)
	if acc.Balance.LessThan(required) {
		return nil, s.reject(ctx, op, trade, fmt.Errorf("required %s, available %s: %w",
			required.StringFixed(2), acc.Balance.StringFixed(2), ports.ErrInsufficientBalance))
	}

	if trade.Kind.IsPending() {
		tick, err := s.quotes.Latest(trade.Symbol)
		if err != nil {
			return nil, s.reject(ctx, op, trade, err)
		}
		if !targetOnCorrectSide(trade.Kind, trade.Side, trade.TargetPrice, tick) {
			return nil, s.reject(ctx, op, trade, fmt.Errorf("%s %s at %s with bid %s ask %s: %w",
				trade.Side, trade.Kind, trade.TargetPrice, tick.Bid, tick.Ask, ports.ErrInvalidLimitPrice))
		}
		if err := s.debitAndSave(ctx, acc.ID, trade, required); err != nil {
			return nil, s.reject(ctx, op, trade, err)
		}
		s.ledger.Pending().Add(trade)
		s.logger.Info(ctx, op+": Pending order placed", merge(fields, map[string]interface{}{
			"targetPrice": trade.TargetPrice.String(), "reserved": required.String(),
		}))
		return trade.Clone(), nil
	}

	if err := s.fill(ctx, trade); err != nil {
		return nil, s.reject(ctx, op, trade, err)
	}
	if err := trade.Transition(domain.StatusExecuted); err != nil {
		return nil, s.reject(ctx, op, trade, err)
	}
	if err := s.debitAndSave(ctx, acc.ID, trade, required); err != nil {
		if !trade.Simulated {
			s.logger.Error(ctx, err, op+": Venue position opened but not booked", fields)
		}
		trade.Status = domain.StatusPending
		return nil, s.reject(ctx, op, trade, err)
	}
	s.ledger.Positions().Put(trade)
	s.logger.Info(ctx, op+": Market order executed", merge(fields, map[string]interface{}{
		"entryPrice": trade.EntryPrice.String(), "margin": margin.String(),
	}))
	return trade.Clone(), nil
}

// ExecutePending fills a pending order the monitor has already taken out of the pending index.
// The reservation made at placement becomes the position margin. On failure the order is
// cancelled, the reservation refunded, and it is not re-queued.
func (s *Service) ExecutePending(ctx context.Context, pending *domain.Trade) (*domain.Trade, error) {
	op := "ExecutePending"
	unlock := s.locks.lock(pending.AccountID)
	defer unlock()

	trade, err := s.store.FindByTicket(ctx, pending.Ticket)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	if trade == nil || trade.Status != domain.StatusPending {
		return nil, fmt.Errorf("%s failed: ticket %s: %w", op, pending.Ticket, ports.ErrOrderNotFound)
	}
	fields := map[string]interface{}{"ticket": trade.Ticket, "symbol": trade.Symbol, "kind": trade.Kind, "side": trade.Side}

	if err := s.fill(ctx, trade); err != nil {
		s.logger.Warn(ctx, op+": Fill failed, cancelling order", merge(fields, map[string]interface{}{"error": err.Error()}))
		if cErr := s.refundAndCancel(ctx, trade); cErr != nil {
			s.logger.Error(ctx, cErr, op+": Refund after failed fill did not persist", fields)
		}
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	trade.OpenTime = s.now()
	if err := trade.Transition(domain.StatusExecuted); err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	if err := s.store.InTx(ctx, func(tx ports.Store) error {
		return tx.UpdateTrade(ctx, trade)
	}); err != nil {
		if !trade.Simulated {
			s.logger.Error(ctx, err, op+": Venue position opened but not booked", merge(fields, map[string]interface{}{"venueTicket": trade.VenueTicket}))
		}
		trade.Status = domain.StatusPending
		if cErr := s.refundAndCancel(ctx, trade); cErr != nil {
			s.logger.Error(ctx, cErr, op+": Refund after failed booking did not persist", fields)
		}
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}

	s.ledger.Positions().Put(trade)
	s.logger.Info(ctx, op+": Pending order executed", merge(fields, map[string]interface{}{
		"targetPrice": trade.TargetPrice.String(), "entryPrice": trade.EntryPrice.String(),
	}))
	return trade.Clone(), nil
}

// CancelPendingOrder withdraws a pending order and refunds its reservation exactly.
func (s *Service) CancelPendingOrder(ctx context.Context, ticket string) (*domain.Trade, error) {
	op := "CancelPendingOrder"
	taken, ok := s.ledger.Pending().Take(ticket)
	if !ok {
		return nil, fmt.Errorf("%s failed: ticket %s: %w", op, ticket, ports.ErrOrderNotFound)
	}

	unlock := s.locks.lock(taken.AccountID)
	defer unlock()

	trade, err := s.store.FindByTicket(ctx, ticket)
	if err == nil && (trade == nil || trade.Status != domain.StatusPending) {
		err = fmt.Errorf("ticket %s is no longer pending: %w", ticket, ports.ErrOrderNotFound)
	}
	if err == nil {
		err = s.refundAndCancel(ctx, trade)
	}
	if err != nil {
		if !errors.Is(err, ports.ErrOrderNotFound) {
			s.ledger.Pending().Add(taken)
		}
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}

	s.logger.Info(ctx, op+": Pending order cancelled", map[string]interface{}{
		"ticket": ticket, "accountID": trade.AccountID, "refunded": trade.Reserved().String(),
	})
	return trade.Clone(), nil
}

// CloseTrade closes an open position at the current exit price and credits margin plus net profit.
func (s *Service) CloseTrade(ctx context.Context, ticket string, reason domain.CloseReason) (*domain.Trade, error) {
	op := "CloseTrade"
	found, err := s.store.FindByTicket(ctx, ticket)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	if found == nil {
		return nil, fmt.Errorf("%s failed: ticket %s: %w: %w", op, ticket, ports.ErrTradeNotOpen, ports.ErrNotFound)
	}

	unlock := s.locks.lock(found.AccountID)
	defer unlock()

	// Re-read under the lock: a concurrent close may have won.
	trade, err := s.store.FindByTicket(ctx, ticket)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	if trade == nil || trade.Status != domain.StatusExecuted {
		return nil, fmt.Errorf("%s failed: ticket %s is no longer open: %w", op, ticket, ports.ErrTradeNotOpen)
	}
	fields := map[string]interface{}{"ticket": ticket, "accountID": trade.AccountID, "symbol": trade.Symbol, "reason": reason}

	exit, err := s.engine.ExitPrice(trade.Symbol, trade.Side)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	if !trade.Simulated {
		fill, err := s.closeOnVenue(ctx, trade)
		if err != nil {
			s.logger.Warn(ctx, op+": Venue close failed, position stays open", merge(fields, map[string]interface{}{"error": err.Error()}))
			return nil, fmt.Errorf("%s failed: %w", op, err)
		}
		trade.VenueExit = decimal.NewNullDecimal(fill.Price)
	}

	gross := s.engine.PnL(trade, exit)
	commission := s.engine.Commission(trade.Volume)
	net := gross.Sub(commission)

	if err := trade.Transition(domain.StatusClosed); err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	trade.ExitPrice = decimal.NewNullDecimal(exit)
	trade.GrossProfit = gross
	trade.Commission = commission
	trade.NetProfit = net
	trade.CloseReason = reason
	trade.CloseTime = s.now()

	credit := trade.Margin.Add(net)
	if err := s.store.InTx(ctx, func(tx ports.Store) error {
		if err := adjustBalance(ctx, tx, trade.AccountID, credit); err != nil {
			return err
		}
		return tx.UpdateTrade(ctx, trade)
	}); err != nil {
		s.logger.Error(ctx, err, op+": Failed to persist close", fields)
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}

	s.ledger.Positions().Remove(trade.Symbol, trade.Ticket)
	s.publisher.Publish(ctx, domain.TradeClosed{
		Ticket:    trade.Ticket,
		AccountID: trade.AccountID,
		Symbol:    trade.Symbol,
		Reason:    reason,
		NetProfit: net,
	})
	s.logger.Info(ctx, op+": Trade closed", merge(fields, map[string]interface{}{
		"exitPrice": exit.String(), "grossProfit": gross.String(), "netProfit": net.String(),
	}))
	return trade.Clone(), nil
}

// AccountInfo computes the risk view of an account from its open trades.
func (s *Service) AccountInfo(ctx context.Context, accountID string) (*domain.AccountInfo, error) {
	op := "AccountInfo"
	acc, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	if acc == nil {
		return nil, fmt.Errorf("%s failed: account %s: %w", op, accountID, ports.ErrNotFound)
	}
	open, err := s.store.FindByAccount(ctx, accountID, domain.StatusExecuted)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}

	used := decimal.Zero
	for _, t := range open {
		used = used.Add(t.Margin)
	}
	level, ok := risk.Level(s.engine.LevelBase(s.basis, acc.Balance, open), used)
	if !ok {
		level = decimal.Zero
	}

	return &domain.AccountInfo{
		AccountID:         acc.ID,
		Balance:           acc.Balance,
		Equity:            acc.Balance.Add(s.engine.UnrealizedPnL(open)),
		Leverage:          acc.Leverage,
		MarginUsed:        used,
		FreeMargin:        acc.Balance,
		MarginLevel:       level.Round(2),
		OpenPositionCount: len(open),
	}, nil
}

// TradingSummary returns statistics over every trade of an account.
func (s *Service) TradingSummary(ctx context.Context, accountID string) (*analytics.Summary, error) {
	op := "TradingSummary"
	acc, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	if acc == nil {
		return nil, fmt.Errorf("%s failed: account %s: %w", op, accountID, ports.ErrNotFound)
	}
	trades, err := s.store.FindByAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	return analytics.Summarize(trades), nil
}

// OpenPositions returns the open trades of an account valued at the current exit-side price.
// A trade whose instrument has no cached quote is valued at its entry price.
func (s *Service) OpenPositions(ctx context.Context, accountID string) ([]domain.PositionUpdate, error) {
	op := "OpenPositions"
	if err := s.requireAccount(ctx, accountID); err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	open, err := s.store.FindByAccount(ctx, accountID, domain.StatusExecuted)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	out := make([]domain.PositionUpdate, 0, len(open))
	for _, t := range open {
		out = append(out, s.valued(t))
	}
	return out, nil
}

// Position returns one open trade valued at the current exit-side price.
func (s *Service) Position(ctx context.Context, ticket string) (*domain.PositionUpdate, error) {
	op := "Position"
	t, err := s.store.FindByTicket(ctx, ticket)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	if t == nil {
		return nil, fmt.Errorf("%s failed: ticket %s: %w: %w", op, ticket, ports.ErrTradeNotOpen, ports.ErrNotFound)
	}
	if t.Status != domain.StatusExecuted {
		return nil, fmt.Errorf("%s failed: ticket %s is %s: %w", op, ticket, t.Status, ports.ErrTradeNotOpen)
	}
	view := s.valued(t)
	return &view, nil
}

// History returns the closed and cancelled trades of an account, oldest first.
func (s *Service) History(ctx context.Context, accountID string) ([]*domain.Trade, error) {
	op := "History"
	if err := s.requireAccount(ctx, accountID); err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	trades, err := s.store.FindByAccount(ctx, accountID, domain.StatusClosed, domain.StatusCancelled)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	return trades, nil
}

func (s *Service) valued(t *domain.Trade) domain.PositionUpdate {
	price, err := s.engine.ExitPrice(t.Symbol, t.Side)
	if err != nil {
		price = t.EntryPrice
	}
	return s.engine.Position(t, price)
}

func (s *Service) requireAccount(ctx context.Context, accountID string) error {
	acc, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if acc == nil {
		return fmt.Errorf("account %s: %w", accountID, ports.ErrNotFound)
	}
	return nil
}

// createTrade persists a new PENDING record, retrying on the rare ticket collision.
func (s *Service) createTrade(ctx context.Context, acc *domain.Account, req OrderRequest) (*domain.Trade, error) {
	trade := &domain.Trade{
		AccountID:  acc.ID,
		Symbol:     req.Symbol,
		Kind:       req.Kind,
		Side:       req.Side,
		BookSide:   req.Side.Opposite(),
		Volume:     req.Volume,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		Status:     domain.StatusPending,
		Simulated:  acc.Simulated,
		OpenTime:   s.now(),
	}
	if req.Kind.IsPending() {
		trade.TargetPrice = req.TargetPrice
	}

	var err error
	for attempt := 0; attempt < maxTicketAttempts; attempt++ {
		trade.Ticket = s.newTicket()
		err = s.store.CreateTrade(ctx, trade)
		if !errors.Is(err, ports.ErrDuplicateEntry) {
			break
		}
	}
	if err != nil {
		return nil, err
	}
	return trade, nil
}

// reject persists trade as CANCELLED and returns cause wrapped with op.
func (s *Service) reject(ctx context.Context, op string, trade *domain.Trade, cause error) error {
	fields := map[string]interface{}{"ticket": trade.Ticket, "accountID": trade.AccountID, "symbol": trade.Symbol}
	if err := trade.Transition(domain.StatusCancelled); err != nil {
		s.logger.Error(ctx, err, op+": Cannot cancel rejected order", fields)
	} else {
		trade.CloseTime = s.now()
		if err := s.store.UpdateTrade(ctx, trade); err != nil {
			s.logger.Error(ctx, err, op+": Failed to persist cancelled order", fields)
		}
	}
	s.logger.Warn(ctx, op+": Order rejected", merge(fields, map[string]interface{}{"error": cause.Error()}))
	return fmt.Errorf("%s failed: %w", op, cause)
}

// fill sets the entry price from the cached quote. Live trades are also routed to the
// venue on the book side; the venue's own fill price is kept apart in VenueEntry.
func (s *Service) fill(ctx context.Context, trade *domain.Trade) error {
	price, err := s.engine.EntryPrice(trade.Symbol, trade.Side)
	if err != nil {
		return err
	}
	if !trade.Simulated {
		if s.venue == nil {
			return fmt.Errorf("no venue configured for live account %s: %w: %w", trade.AccountID, ports.ErrVenueExecutionFailed, ports.ErrVenueUnavailable)
		}
		fill, err := s.venue.PlaceMarketOrder(ctx, trade.Symbol, trade.BookSide, trade.Volume)
		if err != nil {
			return fmt.Errorf("venue order for %s: %w: %w", trade.Ticket, ports.ErrVenueExecutionFailed, err)
		}
		trade.VenueTicket = fill.VenueTicket
		trade.VenueEntry = decimal.NewNullDecimal(fill.Price)
	}
	trade.EntryPrice = price
	return nil
}

func (s *Service) closeOnVenue(ctx context.Context, trade *domain.Trade) (*ports.Fill, error) {
	if s.venue == nil {
		return nil, fmt.Errorf("no venue configured: %w: %w", ports.ErrVenueExecutionFailed, ports.ErrVenueUnavailable)
	}
	fill, err := s.venue.ClosePosition(ctx, trade.VenueTicket, trade.Symbol, trade.Volume, trade.BookSide)
	if err != nil {
		return nil, fmt.Errorf("venue close for %s: %w: %w", trade.Ticket, ports.ErrVenueExecutionFailed, err)
	}
	return fill, nil
}

// debitAndSave takes amount from the account and persists the trade in one transaction.
func (s *Service) debitAndSave(ctx context.Context, accountID string, trade *domain.Trade, amount decimal.Decimal) error {
	return s.store.InTx(ctx, func(tx ports.Store) error {
		if err := adjustBalance(ctx, tx, accountID, amount.Neg()); err != nil {
			return err
		}
		return tx.UpdateTrade(ctx, trade)
	})
}

// refundAndCancel returns the reservation of a pending trade and marks it CANCELLED in one transaction.
func (s *Service) refundAndCancel(ctx context.Context, trade *domain.Trade) error {
	if err := trade.Transition(domain.StatusCancelled); err != nil {
		return err
	}
	trade.CloseTime = s.now()
	return s.store.InTx(ctx, func(tx ports.Store) error {
		if err := adjustBalance(ctx, tx, trade.AccountID, trade.Reserved()); err != nil {
			return err
		}
		return tx.UpdateTrade(ctx, trade)
	})
}

func adjustBalance(ctx context.Context, tx ports.Store, accountID string, delta decimal.Decimal) error {
	acc, err := tx.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if acc == nil {
		return fmt.Errorf("account %s: %w", accountID, ports.ErrNotFound)
	}
	acc.Balance = acc.Balance.Add(delta)
	return tx.UpdateAccount(ctx, acc)
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
