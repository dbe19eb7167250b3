package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"houseBroker/internal/adapters/memory"
	"houseBroker/internal/domain"
	"houseBroker/internal/feed"
	"houseBroker/internal/ledger"
	"houseBroker/internal/monitor"
	"houseBroker/internal/ports"
	"houseBroker/internal/quotes"
	"houseBroker/internal/sweep"
)

// Mock implementations
type mockLogger struct {
	mu        sync.Mutex
	infoMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}

func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infoMsgs = append(m.infoMsgs, msg)
}

func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {}

func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorMsgs = append(m.errorMsgs, msg)
}

func (m *mockLogger) errors() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.errorMsgs...)
}

type mockFeed struct {
	polls atomic.Int64
	res   feed.Result
}

func (m *mockFeed) Poll(ctx context.Context) feed.Result {
	m.polls.Add(1)
	return m.res
}

type mockMonitor struct {
	runs atomic.Int64
	err  error
}

func (m *mockMonitor) Run(ctx context.Context) (monitor.Result, error) {
	m.runs.Add(1)
	return monitor.Result{}, m.err
}

type panickingSweeper struct {
	runs atomic.Int64
}

func (p *panickingSweeper) Run(ctx context.Context) (sweep.Result, error) {
	p.runs.Add(1)
	panic("sweep exploded")
}

type failingStore struct {
	*memory.Store
}

func (f failingStore) FindByStatus(ctx context.Context, status domain.TradeStatus) ([]*domain.Trade, error) {
	return nil, ports.ErrDBConnection
}

func seededLedger(t *testing.T, logger ports.Logger) *ledger.Ledger {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	one := decimal.NewFromInt(1)
	require.NoError(t, store.CreateTrade(ctx, &domain.Trade{
		Ticket: "PEND0001", AccountID: "acc-1", Symbol: "EURUSD", Kind: domain.KindLimit,
		Side: domain.Buy, BookSide: domain.Buy, Volume: one, TargetPrice: decimal.RequireFromString("1.1000"),
		Status: domain.StatusPending,
	}))
	require.NoError(t, store.CreateTrade(ctx, &domain.Trade{
		Ticket: "OPEN0001", AccountID: "acc-1", Symbol: "EURUSD", Kind: domain.KindMarket,
		Side: domain.Buy, BookSide: domain.Buy, Volume: one, EntryPrice: decimal.RequireFromString("1.1050"),
		Status: domain.StatusExecuted,
	}))
	return ledger.New(store, logger)
}

func newTestService(t *testing.T, l *ledger.Ledger, logger *mockLogger, f PricePoller, m OrderMonitor, s MarginSweeper) *BrokerService {
	t.Helper()
	svc, err := NewBrokerService(Config{
		Ledger:          l,
		Quotes:          quotes.NewCache(),
		Feed:            f,
		Monitor:         m,
		Sweeper:         s,
		Logger:          logger,
		PriceInterval:   5 * time.Millisecond,
		MonitorInterval: 5 * time.Millisecond,
		RefreshInterval: 10 * time.Millisecond,
		SweepInterval:   5 * time.Millisecond,
	})
	require.NoError(t, err)
	return svc
}

func TestNewBrokerService_Validation(t *testing.T) {
	logger := &mockLogger{}
	l := seededLedger(t, logger)

	_, err := NewBrokerService(Config{Logger: logger})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)

	_, err = NewBrokerService(Config{
		Ledger: l, Quotes: quotes.NewCache(), Feed: &mockFeed{}, Monitor: &mockMonitor{}, Sweeper: &panickingSweeper{},
		Logger: logger, PriceInterval: time.Second, MonitorInterval: time.Second, RefreshInterval: time.Second,
	})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
}

func TestBrokerService_LoopsSurviveErrorsAndPanics(t *testing.T) {
	logger := &mockLogger{}
	l := seededLedger(t, logger)
	f := &mockFeed{res: feed.Result{Ticks: 3}}
	m := &mockMonitor{err: errors.New("monitor failed")}
	sw := &panickingSweeper{}
	svc := newTestService(t, l, logger, f, m, sw)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()

	require.Eventually(t, func() bool {
		return f.polls.Load() >= 3 && m.runs.Load() >= 3 && sw.runs.Load() >= 3
	}, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("service did not stop")
	}

	st := svc.Stats()
	assert.Equal(t, 1, st.PendingOrders)
	assert.Equal(t, 1, st.Positions.Positions)

	assert.Zero(t, st.Loops[loopPrices].Failures)
	assert.GreaterOrEqual(t, st.Loops[loopMonitor].Failures, int64(3))
	assert.Equal(t, "monitor failed", st.Loops[loopMonitor].LastError)
	assert.GreaterOrEqual(t, st.Loops[loopSweep].Panics, int64(3))
	assert.Contains(t, st.Loops[loopSweep].LastError, "sweep exploded")
	assert.Contains(t, logger.errors(), "Loop iteration panicked")
}

func TestBrokerService_NoTicksCountsAsFailure(t *testing.T) {
	logger := &mockLogger{}
	f := &mockFeed{res: feed.Result{Missing: 3}}
	svc := newTestService(t, seededLedger(t, logger), logger, f, &mockMonitor{}, &quietSweeper{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Start(ctx)

	require.Eventually(t, func() bool {
		return svc.Stats().Loops[loopPrices].Failures >= 1
	}, 2*time.Second, 5*time.Millisecond)
}

type quietSweeper struct{}

func (quietSweeper) Run(ctx context.Context) (sweep.Result, error) { return sweep.Result{}, nil }

func TestBrokerService_StartFailsWhenStateCannotLoad(t *testing.T) {
	logger := &mockLogger{}
	l := ledger.New(failingStore{memory.NewStore()}, logger)
	svc := newTestService(t, l, logger, &mockFeed{}, &mockMonitor{}, &quietSweeper{})

	err := svc.Start(context.Background())
	assert.ErrorIs(t, err, ports.ErrDBConnection)
}

type countingStream struct{ clients int }

func (c *countingStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusTeapot)
}

func (c *countingStream) ClientCount() int { return c.clients }

func TestBrokerService_Handler(t *testing.T) {
	logger := &mockLogger{}
	l := seededLedger(t, logger)
	_, err := l.LoadPending(context.Background())
	require.NoError(t, err)

	svc, err := NewBrokerService(Config{
		Ledger: l, Quotes: quotes.NewCache(), Feed: &mockFeed{}, Monitor: &mockMonitor{}, Sweeper: &quietSweeper{},
		Logger: logger, Stream: &countingStream{clients: 2},
		PriceInterval: time.Second, MonitorInterval: time.Second, RefreshInterval: time.Second, SweepInterval: time.Second,
	})
	require.NoError(t, err)
	srv := httptest.NewServer(svc.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var st Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.Equal(t, 1, st.PendingOrders)
	assert.Equal(t, 2, st.Clients)
	assert.Len(t, st.Loops, 4)

	ws, err := http.Get(srv.URL + "/ws")
	require.NoError(t, err)
	ws.Body.Close()
	assert.Equal(t, http.StatusTeapot, ws.StatusCode)

	post, err := http.Post(srv.URL+"/stats", "application/json", nil)
	require.NoError(t, err)
	post.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, post.StatusCode)
}
