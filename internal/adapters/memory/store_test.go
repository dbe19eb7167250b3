package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"houseBroker/internal/domain"
	"houseBroker/internal/ports"
)

func TestStore_AccountsAndTrades(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	acc := &domain.Account{ID: "acc-1", Balance: decimal.NewFromInt(10000), Leverage: 100, Simulated: true}
	require.NoError(t, s.CreateAccount(ctx, acc))
	assert.ErrorIs(t, s.CreateAccount(ctx, acc), ports.ErrDuplicateEntry)

	acc.Balance = decimal.Zero // caller mutation must not leak into the store
	got, err := s.GetAccount(ctx, "acc-1")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(10000).Equal(got.Balance))

	missing, err := s.GetAccount(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
	assert.ErrorIs(t, s.UpdateAccount(ctx, &domain.Account{ID: "nope"}), ports.ErrNotFound)

	now := time.Now()
	for i, ticket := range []string{"B", "A", "C"} {
		require.NoError(t, s.CreateTrade(ctx, &domain.Trade{
			Ticket: ticket, AccountID: "acc-1", Status: domain.StatusExecuted,
			OpenTime: now.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, s.CreateTrade(ctx, &domain.Trade{Ticket: "D", AccountID: "acc-2", Status: domain.StatusPending, OpenTime: now}))

	executed, err := s.FindByStatus(ctx, domain.StatusExecuted)
	require.NoError(t, err)
	require.Len(t, executed, 3)
	assert.Equal(t, "A", executed[0].Ticket)

	byAccount, err := s.FindByAccount(ctx, "acc-1")
	require.NoError(t, err)
	require.Len(t, byAccount, 3)
	assert.Equal(t, "B", byAccount[0].Ticket, "ordered by open time")

	pending, err := s.FindByAccount(ctx, "acc-2", domain.StatusPending)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	assert.ErrorIs(t, s.UpdateTrade(ctx, &domain.Trade{Ticket: "Z"}), ports.ErrNotFound)
}

func TestStore_InTxCommitAndRollback(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.CreateAccount(ctx, &domain.Account{ID: "acc-1", Balance: decimal.NewFromInt(100)}))

	boom := errors.New("boom")
	err := s.InTx(ctx, func(tx ports.Store) error {
		acc, err := tx.GetAccount(ctx, "acc-1")
		require.NoError(t, err)
		acc.Balance = decimal.NewFromInt(50)
		require.NoError(t, tx.UpdateAccount(ctx, acc))
		require.NoError(t, tx.CreateTrade(ctx, &domain.Trade{Ticket: "T1", AccountID: "acc-1"}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	acc, _ := s.GetAccount(ctx, "acc-1")
	assert.True(t, decimal.NewFromInt(100).Equal(acc.Balance), "rolled back")
	tr, _ := s.FindByTicket(ctx, "T1")
	assert.Nil(t, tr)

	err = s.InTx(ctx, func(tx ports.Store) error {
		acc, _ := tx.GetAccount(ctx, "acc-1")
		acc.Balance = decimal.NewFromInt(40)
		if err := tx.UpdateAccount(ctx, acc); err != nil {
			return err
		}
		// nested call joins the outer transaction
		return tx.InTx(ctx, func(inner ports.Store) error {
			return inner.CreateTrade(ctx, &domain.Trade{Ticket: "T2", AccountID: "acc-1"})
		})
	})
	require.NoError(t, err)

	acc, _ = s.GetAccount(ctx, "acc-1")
	assert.True(t, decimal.NewFromInt(40).Equal(acc.Balance))
	tr, _ = s.FindByTicket(ctx, "T2")
	require.NotNil(t, tr)
}
