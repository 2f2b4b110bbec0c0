package capital_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-token-lab/internal/capital"
	"solana-token-lab/internal/capital/memory"
)

func TestReserve_OverBudgetRejected(t *testing.T) {
	m := capital.NewManager(10_000_000_000)
	strategy := uuid.New()
	m.RegisterStrategy(strategy, capital.Cap{AllocationPercent: decimal.NewFromInt(10), MaxSlots: 5})

	ctx := context.Background()
	require.NoError(t, m.Reserve(ctx, strategy, uuid.New(), 900_000_000))
	err := m.Reserve(ctx, strategy, uuid.New(), 200_000_000)
	require.Error(t, err)
	assert.True(t, errors.Is(err, capital.ErrOverBudget))
}

func TestReserve_MaxSlotsRejected(t *testing.T) {
	m := capital.NewManager(10_000_000_000)
	strategy := uuid.New()
	m.RegisterStrategy(strategy, capital.Cap{AllocationPercent: decimal.NewFromInt(100), MaxSlots: 1})

	ctx := context.Background()
	require.NoError(t, m.Reserve(ctx, strategy, uuid.New(), 1_000_000))
	err := m.Reserve(ctx, strategy, uuid.New(), 1_000_000)
	require.Error(t, err)
	assert.True(t, errors.Is(err, capital.ErrOverBudget))
}

func TestRelease_FreesLamportsAndSlot(t *testing.T) {
	m := capital.NewManager(10_000_000_000)
	strategy := uuid.New()
	position := uuid.New()
	m.RegisterStrategy(strategy, capital.Cap{AllocationPercent: decimal.NewFromInt(50), MaxSlots: 3})

	ctx := context.Background()
	require.NoError(t, m.Reserve(ctx, strategy, position, 1_000_000))
	assert.Equal(t, uint64(1_000_000), m.ReservedLamports(strategy))
	assert.Equal(t, 1, m.ReservedSlots(strategy))

	require.NoError(t, m.Release(ctx, position))
	assert.Equal(t, uint64(0), m.ReservedLamports(strategy))
	assert.Equal(t, 0, m.ReservedSlots(strategy))
}

func TestReleasePartial_ReturnsProportionalLamports(t *testing.T) {
	m := capital.NewManager(10_000_000_000)
	strategy := uuid.New()
	position := uuid.New()
	m.RegisterStrategy(strategy, capital.Cap{AllocationPercent: decimal.NewFromInt(100), MaxSlots: 5})

	ctx := context.Background()
	require.NoError(t, m.Reserve(ctx, strategy, position, 1_000_000))

	released, err := m.ReleasePartial(ctx, position, 50)
	require.NoError(t, err)
	assert.Equal(t, uint64(500_000), released)
	assert.Equal(t, uint64(500_000), m.ReservedLamports(strategy))
	assert.Equal(t, 1, m.ReservedSlots(strategy), "slot stays held until the position fully exits")

	released, err = m.ReleasePartial(ctx, position, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(500_000), released)
	assert.Equal(t, uint64(0), m.ReservedLamports(strategy))
	assert.Equal(t, 0, m.ReservedSlots(strategy))
}

func TestRebalanceEqual_SplitsAmongActiveStrategies(t *testing.T) {
	m := capital.NewManager(10_000_000_000)
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	m.RegisterStrategy(a, capital.Cap{AllocationPercent: decimal.NewFromInt(80), MaxSlots: 5})
	m.RegisterStrategy(b, capital.Cap{AllocationPercent: decimal.NewFromInt(20), MaxSlots: 5})
	m.RegisterStrategy(c, capital.Cap{AllocationPercent: decimal.NewFromInt(0), MaxSlots: 5})

	ctx := context.Background()
	require.NoError(t, m.Reserve(ctx, a, uuid.New(), 1))
	require.NoError(t, m.Reserve(ctx, b, uuid.New(), 1))
	// c has no reservation, so it should be excluded from the rebalance.

	m.RebalanceEqual()
	require.NoError(t, m.Reserve(ctx, a, uuid.New(), 1))
}

func TestLoadFromStore_RestoresReservations(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	strategy := uuid.New()
	position := uuid.New()
	require.NoError(t, store.SaveReservation(ctx, capital.Reservation{
		StrategyID:       strategy,
		PositionID:       position,
		ReservedLamports: 42,
	}))

	m := capital.NewManager(10_000_000_000, capital.WithStore(store))
	m.RegisterStrategy(strategy, capital.Cap{AllocationPercent: decimal.NewFromInt(100), MaxSlots: 5})

	n, err := m.LoadFromStore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, uint64(42), m.ReservedLamports(strategy))
	assert.Equal(t, 1, m.ReservedSlots(strategy))
}

func TestRelease_UnknownPosition(t *testing.T) {
	m := capital.NewManager(10_000_000_000)
	err := m.Release(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, errors.Is(err, capital.ErrUnknownPosition))
}
