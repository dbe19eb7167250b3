package main

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"houseBroker/internal/adapters/memory"
	"houseBroker/internal/ports"
)

func TestSeed_CreateAndTopUp(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	acc, err := seed(ctx, store, seedRequest{ID: "acc-1", Amount: decimal.NewFromInt(10000), Leverage: 100, Simulated: true}, now)
	require.NoError(t, err)
	assert.Equal(t, "10000", acc.Balance.String())
	assert.True(t, acc.Simulated)

	_, err = seed(ctx, store, seedRequest{ID: "acc-1", Amount: decimal.NewFromInt(5), Leverage: 100}, now)
	assert.ErrorIs(t, err, errAccountExists)

	acc, err = seed(ctx, store, seedRequest{ID: "acc-1", Amount: decimal.RequireFromString("250.50"), Leverage: 100, TopUp: true}, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "10250.50", acc.Balance.StringFixed(2))

	stored, err := store.GetAccount(ctx, "acc-1")
	require.NoError(t, err)
	assert.True(t, acc.Balance.Equal(stored.Balance))
	assert.Equal(t, now, stored.CreatedAt)
	assert.True(t, stored.Simulated, "top-up keeps the routing flag")
}

func TestSeed_Validation(t *testing.T) {
	tests := []struct {
		name string
		req  seedRequest
	}{
		{"missing id", seedRequest{Amount: decimal.NewFromInt(1), Leverage: 10}},
		{"negative amount", seedRequest{ID: "a", Amount: decimal.NewFromInt(-1), Leverage: 10}},
		{"zero leverage", seedRequest{ID: "a", Amount: decimal.NewFromInt(1)}},
		{"leverage too high", seedRequest{ID: "a", Amount: decimal.NewFromInt(1), Leverage: 1001}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := seed(context.Background(), memory.NewStore(), tt.req, time.Now())
			assert.ErrorIs(t, err, ports.ErrInvalidRequest)
		})
	}
}
