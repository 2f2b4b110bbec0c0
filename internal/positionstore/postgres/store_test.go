package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-token-lab/internal/positions"
	"solana-token-lab/internal/positionstore"
)

func newTestPosition() *positions.Position {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &positions.Position{
		ID:               uuid.New(),
		EdgeID:           uuid.New(),
		StrategyID:       uuid.New(),
		TokenMint:        "TokenMint111111111111111111111111111111111",
		Symbol:           ptr("DOGE2"),
		EntryAmountBase:  1.5,
		EntryTokenAmount: 1_000_000,
		EntryPrice:       0.0000015,
		EntryTime:        now,
		CurrentPrice:     0.0000015,
		CurrentValueBase: 1.5,
		HighWaterMark:    1.5,
		ExitConfig:       positions.ForCurveBonding(),
		Status:           positions.StatusOpen,
		Momentum: positions.Momentum{
			PriceHistory: []positions.PricePoint{{Price: 0.0000015, Timestamp: now}},
		},
		RemainingAmountBase:  1.5,
		RemainingTokenAmount: 1_000_000,
	}
}

func TestStore_SaveAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStore(pool)
	ctx := context.Background()
	p := newTestPosition()

	require.NoError(t, store.Save(ctx, p))

	got, err := store.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.TokenMint, got.TokenMint)
	assert.Equal(t, p.Status, got.Status)
	assert.Equal(t, *p.ExitConfig.TrailingStopPercent, *got.ExitConfig.TrailingStopPercent)
	assert.Equal(t, p.ExitConfig.PartialTakeProfit.FirstTargetPercent, got.ExitConfig.PartialTakeProfit.FirstTargetPercent)
}

func TestStore_GetNotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStore(pool)
	_, err := store.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, positionstore.ErrNotFound)
}

func TestStore_UpdateStatusCAS(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStore(pool)
	ctx := context.Background()
	p := newTestPosition()
	require.NoError(t, store.Save(ctx, p))

	ok, err := store.UpdateStatus(ctx, p.ID, positions.StatusOpen, positions.StatusPendingExit)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.UpdateStatus(ctx, p.ID, positions.StatusOpen, positions.StatusPendingExit)
	require.NoError(t, err)
	assert.False(t, ok, "second CAS from a stale status must fail")

	got, err := store.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, positions.StatusPendingExit, got.Status)
}

func TestStore_ListOpenExcludesTerminal(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStore(pool)
	ctx := context.Background()

	open := newTestPosition()
	require.NoError(t, store.Save(ctx, open))

	closed := newTestPosition()
	closed.Status = positions.StatusClosed
	require.NoError(t, store.Save(ctx, closed))

	list, err := store.ListOpen(ctx)
	require.NoError(t, err)

	ids := make(map[uuid.UUID]bool)
	for _, p := range list {
		ids[p.ID] = true
	}
	assert.True(t, ids[open.ID])
	assert.False(t, ids[closed.ID])
}

func TestStore_ByEdge(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStore(pool)
	ctx := context.Background()
	p := newTestPosition()
	require.NoError(t, store.Save(ctx, p))

	got, err := store.ByEdge(ctx, p.EdgeID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
}

func TestStore_Reactivate(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewStore(pool)
	ctx := context.Background()
	p := newTestPosition()
	p.Status = positions.StatusOrphaned
	require.NoError(t, store.Save(ctx, p))

	require.NoError(t, store.Reactivate(ctx, p.ID))

	got, err := store.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, positions.StatusOpen, got.Status)
}
