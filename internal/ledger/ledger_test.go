package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"houseBroker/internal/adapters/memory"
	"houseBroker/internal/domain"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func trade(ticket, symbol string, kind domain.OrderKind, status domain.TradeStatus) *domain.Trade {
	return &domain.Trade{
		Ticket:    ticket,
		AccountID: "acc-1",
		Symbol:    symbol,
		Kind:      kind,
		Side:      domain.Buy,
		BookSide:  domain.Sell,
		Volume:    decimal.NewFromInt(1),
		Status:    status,
		OpenTime:  time.Now(),
	}
}

func TestPendingIndex_TakeIsExclusive(t *testing.T) {
	idx := NewPendingIndex()
	idx.Add(trade("AAAA0001", "EURUSD", domain.KindLimit, domain.StatusPending))

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := idx.Take("AAAA0001"); ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
	assert.False(t, idx.Contains("AAAA0001"))
	assert.Equal(t, 0, idx.Len())
}

func TestPendingIndex_SnapshotIsCopy(t *testing.T) {
	idx := NewPendingIndex()
	idx.Add(trade("BBBB0002", "EURUSD", domain.KindLimit, domain.StatusPending))
	idx.Add(trade("AAAA0001", "USDJPY", domain.KindStop, domain.StatusPending))

	snap := idx.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "AAAA0001", snap[0].Ticket)

	snap[0].Symbol = "CHANGED"
	again := idx.Snapshot()
	assert.Equal(t, "USDJPY", again[0].Symbol)
}

func TestPositionCache_PutRemoveReplace(t *testing.T) {
	c := NewPositionCache()
	c.Put(trade("T2", "EURUSD", domain.KindMarket, domain.StatusExecuted))
	c.Put(trade("T1", "EURUSD", domain.KindMarket, domain.StatusExecuted))
	c.Put(trade("T3", "XAUUSD", domain.KindMarket, domain.StatusExecuted))

	eur := c.BySymbol("EURUSD")
	require.Len(t, eur, 2)
	assert.Equal(t, "T1", eur[0].Ticket)

	c.Remove("XAUUSD", "T3")
	assert.Empty(t, c.BySymbol("XAUUSD"))
	c.Remove("GBPUSD", "nope")

	now := time.Now()
	c.Replace([]*domain.Trade{
		trade("T9", "USDJPY", domain.KindMarket, domain.StatusExecuted),
		trade("T8", "USDJPY", domain.KindLimit, domain.StatusClosed),
	}, now)

	st := c.Stats()
	assert.Equal(t, 1, st.Positions)
	assert.Equal(t, map[string]int{"USDJPY": 1}, st.BySymbol)
	assert.Equal(t, 1, st.Refreshes)
	assert.Equal(t, now, st.LastRefresh)
	assert.Empty(t, c.BySymbol("EURUSD"))
}

func TestLedger_LoadPendingAndRefresh(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	for _, tr := range []*domain.Trade{
		trade("P1", "EURUSD", domain.KindLimit, domain.StatusPending),
		trade("P2", "EURUSD", domain.KindStop, domain.StatusPending),
		trade("P3", "EURUSD", domain.KindMarket, domain.StatusPending),
		trade("E1", "EURUSD", domain.KindMarket, domain.StatusExecuted),
		trade("E2", "XAUUSD", domain.KindLimit, domain.StatusExecuted),
		trade("C1", "EURUSD", domain.KindMarket, domain.StatusClosed),
	} {
		require.NoError(t, store.CreateTrade(ctx, tr))
	}

	l := New(store, &mockLogger{})

	n, err := l.LoadPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, l.Pending().Contains("P1"))
	assert.True(t, l.Pending().Contains("P2"))
	assert.False(t, l.Pending().Contains("P3"))

	require.NoError(t, l.RefreshPositions(ctx))
	st := l.Positions().Stats()
	assert.Equal(t, 2, st.Positions)
	assert.Equal(t, 1, st.BySymbol["XAUUSD"])

	open, err := l.OpenTrades(ctx)
	require.NoError(t, err)
	assert.Len(t, open, 2)
}
