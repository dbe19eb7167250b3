package sweep

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"houseBroker/internal/adapters/memory"
	"houseBroker/internal/domain"
	"houseBroker/internal/ports"
	"houseBroker/internal/risk"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, event domain.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

type mockCloser struct {
	order []string
	fail  map[string]bool
}

func (m *mockCloser) CloseTrade(ctx context.Context, ticket string, reason domain.CloseReason) (*domain.Trade, error) {
	m.order = append(m.order, ticket)
	if reason != domain.CloseReasonMarginStopOut {
		return nil, fmt.Errorf("unexpected reason %s", reason)
	}
	if m.fail[ticket] {
		return nil, errors.New("venue down")
	}
	return &domain.Trade{Ticket: ticket}, nil
}

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

type fixture struct {
	store  *memory.Store
	engine *risk.Engine
	closer *mockCloser
	pub    *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	quotes := staticQuotes{"EURUSD": {Symbol: "EURUSD", Bid: d("1.1048"), Ask: d("1.1050")}}
	return &fixture{
		store:  memory.NewStore(),
		engine: risk.NewEngine(risk.NewTableFromSymbols("EURUSD"), quotes, d("6")),
		closer: &mockCloser{fail: map[string]bool{}},
		pub:    &recordingPublisher{},
	}
}

func (f *fixture) account(t *testing.T, id, balance string, margins ...string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.CreateAccount(ctx, &domain.Account{ID: id, Balance: d(balance), Leverage: 100, Simulated: true}))
	for i, m := range margins {
		require.NoError(t, f.store.CreateTrade(ctx, &domain.Trade{
			Ticket:     fmt.Sprintf("%s-%d", id, len(margins)-i),
			AccountID:  id,
			Symbol:     "EURUSD",
			Side:       domain.Buy,
			Volume:     d("1"),
			EntryPrice: d("1.1038"),
			Margin:     d(m),
			Status:     domain.StatusExecuted,
		}))
	}
}

func (f *fixture) sweeper(t *testing.T, basis risk.Basis) *Sweeper {
	t.Helper()
	s, err := New(Config{
		Store:     f.store,
		Engine:    f.engine,
		Closer:    f.closer,
		Publisher: f.pub,
		Logger:    &mockLogger{},
		Basis:     basis,
	})
	require.NoError(t, err)
	return s
}

func TestNew_RejectsBadThresholds(t *testing.T) {
	_, err := New(Config{Thresholds: risk.Thresholds{MarginCall: d("50"), StopOut: d("80")}})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
}

func TestSweeper_Run(t *testing.T) {
	f := newFixture(t)
	f.account(t, "a-stopout", "500", "600", "400") // level 50, inclusive stop-out
	f.account(t, "b-call", "900", "1000")          // level 90
	f.account(t, "c-healthy", "5000", "1000")      // level 500
	f.account(t, "d-nomargin", "10", "0")          // nothing used
	f.closer.fail["a-stopout-1"] = true

	res, err := f.sweeper(t, risk.BasisBalance).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, res.Accounts)
	assert.Equal(t, 1, res.StopOuts)
	assert.Equal(t, 1, res.MarginCalls)
	assert.Equal(t, 1, res.Closed)
	assert.Equal(t, 1, res.Failed)
	// ticket order, continuing past the failure
	assert.Equal(t, []string{"a-stopout-1", "a-stopout-2"}, f.closer.order)

	require.Len(t, f.pub.events, 1)
	call, ok := f.pub.events[0].(domain.MarginCall)
	require.True(t, ok)
	assert.Equal(t, "b-call", call.AccountID)
	assert.Equal(t, "90.00", call.MarginLevel.StringFixed(2))
	assert.Equal(t, "1000.00", call.MarginUsed.StringFixed(2))
	assert.Equal(t, "900.00", call.Balance.StringFixed(2))
}

func TestSweeper_BoundaryAboveStopOutIsMarginCall(t *testing.T) {
	f := newFixture(t)
	f.account(t, "edge", "500.01", "1000")

	res, err := f.sweeper(t, risk.BasisBalance).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.StopOuts)
	assert.Equal(t, 1, res.MarginCalls)
	assert.Empty(t, f.closer.order)
}

func TestSweeper_EquityBasis(t *testing.T) {
	// Balance alone puts the account at exactly 100%; +100 unrealized lifts it to 110%.
	f := newFixture(t)
	f.account(t, "eq", "1000", "1000")

	res, err := f.sweeper(t, risk.BasisBalance).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.MarginCalls)

	res, err = f.sweeper(t, risk.BasisEquity).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.MarginCalls)
	assert.Equal(t, 0, res.StopOuts)
}

func TestSweeper_CancelledContext(t *testing.T) {
	f := newFixture(t)
	f.account(t, "a", "100", "1000")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.sweeper(t, risk.BasisBalance).Run(ctx)
	assert.ErrorIs(t, err, ports.ErrContextCanceled)
	assert.Empty(t, f.closer.order)
}
