package memory

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
	now := time.Now()
	return &positions.Position{
		ID:                   uuid.New(),
		EdgeID:               uuid.New(),
		TokenMint:            "Mint1111111111111111111111111111111111111",
		EntryPrice:           1.0,
		EntryTime:            now,
		CurrentPrice:         1.0,
		ExitConfig:           positions.DefaultExitConfig(),
		Status:               positions.StatusOpen,
		RemainingAmountBase:  1.0,
		RemainingTokenAmount: 100,
	}
}

func TestStore_SaveGetRoundTrip(t *testing.T) {
	s := New()
	p := newTestPosition()
	require.NoError(t, s.Save(context.Background(), p))

	got, err := s.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.TokenMint, got.TokenMint)

	// Mutating the returned copy must not affect the stored value.
	got.TokenMint = "mutated"
	again, err := s.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.TokenMint, again.TokenMint)
}

func TestStore_GetNotFound(t *testing.T) {
	s := New()
	_, err := s.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, positionstore.ErrNotFound)
}

func TestStore_UpdateStatusCAS(t *testing.T) {
	s := New()
	p := newTestPosition()
	require.NoError(t, s.Save(context.Background(), p))

	ok, err := s.UpdateStatus(context.Background(), p.ID, positions.StatusOpen, positions.StatusPendingExit)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.UpdateStatus(context.Background(), p.ID, positions.StatusOpen, positions.StatusClosed)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_ListOpenAndPendingExits(t *testing.T) {
	s := New()
	open := newTestPosition()
	pending := newTestPosition()
	pending.Status = positions.StatusPendingExit
	closed := newTestPosition()
	closed.Status = positions.StatusClosed

	ctx := context.Background()
	require.NoError(t, s.Save(ctx, open))
	require.NoError(t, s.Save(ctx, pending))
	require.NoError(t, s.Save(ctx, closed))

	openList, err := s.ListOpen(ctx)
	require.NoError(t, err)
	assert.Len(t, openList, 2)

	pendingList, err := s.ListPendingExits(ctx)
	require.NoError(t, err)
	require.Len(t, pendingList, 1)
	assert.Equal(t, pending.ID, pendingList[0].ID)
}

func TestStore_ByMint(t *testing.T) {
	s := New()
	p1 := newTestPosition()
	p2 := newTestPosition()
	p2.TokenMint = p1.TokenMint

	ctx := context.Background()
	require.NoError(t, s.Save(ctx, p1))
	require.NoError(t, s.Save(ctx, p2))

	byMint, err := s.ByMint(ctx, p1.TokenMint)
	require.NoError(t, err)
	assert.Len(t, byMint, 2)
}

func TestStore_Reactivate(t *testing.T) {
	s := New()
	p := newTestPosition()
	p.Status = positions.StatusOrphaned
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, p))

	require.NoError(t, s.Reactivate(ctx, p.ID))

	got, err := s.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, positions.StatusOpen, got.Status)
}
