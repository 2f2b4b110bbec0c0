package positions

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestPosition(t *testing.T, m *Manager, cfg ExitConfig) *Position {
	t.Helper()
	p, err := m.OpenPosition(context.Background(), uuid.New(), uuid.New(), "MintAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA", nil, 1.0, 1_000_000, 1.0, cfg, nil)
	require.NoError(t, err)
	return p
}

func TestManager_OpenPositionIndexesByEdgeAndMint(t *testing.T) {
	m := NewManager()
	p := openTestPosition(t, m, DefaultExitConfig())

	got, ok := m.GetPosition(p.ID)
	require.True(t, ok)
	assert.Equal(t, p.TokenMint, got.TokenMint)

	byEdge, ok := m.GetPositionByEdge(p.EdgeID)
	require.True(t, ok)
	assert.Equal(t, p.ID, byEdge.ID)

	byMint, ok := m.GetOpenPositionForMint(p.TokenMint)
	require.True(t, ok)
	assert.Equal(t, p.ID, byMint.ID)
}

func TestManager_UpdatePrice_StopLossFires(t *testing.T) {
	m := NewManager()
	cfg := DefaultExitConfig() // SL 10%, TP 25%
	p := openTestPosition(t, m, cfg)

	signals := m.UpdatePrice(context.Background(), p.TokenMint, 0.85) // -15%
	require.Len(t, signals, 1)
	assert.Equal(t, ExitReasonStopLoss, signals[0].Reason)
	assert.Equal(t, UrgencyCritical, signals[0].Urgency)

	updated, ok := m.GetPosition(p.ID)
	require.True(t, ok)
	assert.Equal(t, StatusPendingExit, updated.Status)
}

func TestManager_UpdatePrice_TakeProfitFires(t *testing.T) {
	m := NewManager()
	p := openTestPosition(t, m, DefaultExitConfig())

	signals := m.UpdatePrice(context.Background(), p.TokenMint, 1.30) // +30% > 25% TP
	require.Len(t, signals, 1)
	assert.Equal(t, ExitReasonTakeProfit, signals[0].Reason)
}

func TestManager_UpdatePrice_PartialTakeProfitBeforeFull(t *testing.T) {
	m := NewManager()
	p := openTestPosition(t, m, ForCurveBonding()) // ladder 10%->50%, 25%->100%, TP 25%

	signals := m.UpdatePrice(context.Background(), p.TokenMint, 1.12) // +12%, past first rung only
	require.Len(t, signals, 1)
	assert.Equal(t, ExitReasonPartialTakeProfit, signals[0].Reason)
	assert.Equal(t, 50.0, signals[0].ExitPercent)

	// Position stays Open (partial exit doesn't transition status by itself).
	got, ok := m.GetPosition(p.ID)
	require.True(t, ok)
	assert.Equal(t, StatusOpen, got.Status)
}

func TestManager_UpdatePrice_NoMonitoringWhenAtomic(t *testing.T) {
	m := NewManager()
	p := openTestPosition(t, m, AtomicExitConfig())

	signals := m.UpdatePrice(context.Background(), p.TokenMint, 10.0)
	assert.Empty(t, signals)
}

func TestManager_ClosePosition_UpdatesStatsAndClearsSignals(t *testing.T) {
	m := NewManager()
	p := openTestPosition(t, m, DefaultExitConfig())
	m.UpdatePrice(context.Background(), p.TokenMint, 0.85) // triggers stop loss -> pending exit + signal

	closed, err := m.ClosePosition(context.Background(), p.ID, 0.85, -0.15, ExitReasonStopLoss, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, closed.Status)

	stats := m.Stats()
	assert.Equal(t, 1, stats.TotalPositionsClosed)
	assert.Equal(t, 1, stats.StopLossesTriggered)
	assert.Equal(t, 0, stats.ActivePositions)

	assert.Empty(t, m.GetPendingExitSignals())
}

func TestManager_RecordPartialExit_DeductsRemaining(t *testing.T) {
	m := NewManager()
	p := openTestPosition(t, m, DefaultExitConfig())

	updated, err := m.RecordPartialExit(context.Background(), p.ID, 50.0, 1.1, 0.05, nil, "PartialTakeProfit1")
	require.NoError(t, err)
	assert.Equal(t, StatusPartiallyExited, updated.Status)
	assert.InDelta(t, 0.5, updated.RemainingAmountBase, 1e-9)
	assert.InDelta(t, 500_000, updated.RemainingTokenAmount, 1e-6)
	require.Len(t, updated.PartialExits, 1)
}

func TestManager_QueueAndDrainPriorityExits(t *testing.T) {
	m := NewManager()
	p := openTestPosition(t, m, DefaultExitConfig())

	m.QueuePriorityExit(p.ID)
	m.QueuePriorityExit(p.ID) // dedup
	assert.True(t, m.HasPriorityExits())

	drained := m.DrainPriorityExits()
	assert.Equal(t, []uuid.UUID{p.ID}, drained)
	assert.False(t, m.HasPriorityExits())
}

func TestManager_EmergencyCloseAll(t *testing.T) {
	m := NewManager()
	openTestPosition(t, m, DefaultExitConfig())
	openTestPosition(t, m, DefaultExitConfig())

	signals := m.EmergencyCloseAll()
	assert.Len(t, signals, 2)
	for _, s := range signals {
		assert.Equal(t, ExitReasonEmergency, s.Reason)
		assert.Equal(t, UrgencyCritical, s.Urgency)
	}
}

func TestManager_ReconcileWalletTokens(t *testing.T) {
	m := NewManager()
	p := openTestPosition(t, m, DefaultExitConfig())

	result := m.ReconcileWalletTokens([]WalletTokenHolding{
		{Mint: SOLMint, Balance: 5.0},                  // base currency, ignored
		{Mint: "DustMint11111111111111111111111111111", Balance: 0.00001}, // below dust threshold
		{Mint: "NewMint111111111111111111111111111111", Balance: 123},     // untracked, discovered
		// p.TokenMint absent -> orphaned
	})

	assert.Equal(t, 1, result.TrackedPositions)
	require.Len(t, result.DiscoveredTokens, 1)
	assert.Equal(t, "NewMint111111111111111111111111111111", result.DiscoveredTokens[0].Mint)
	require.Len(t, result.OrphanedPositions, 1)
	assert.Equal(t, p.ID, result.OrphanedPositions[0])
}

func TestManager_MarkAndReactivateOrphanedPosition(t *testing.T) {
	m := NewManager()
	p := openTestPosition(t, m, DefaultExitConfig())

	require.NoError(t, m.MarkPositionOrphaned(context.Background(), p.ID))
	orphaned, ok := m.GetPosition(p.ID)
	require.True(t, ok)
	assert.Equal(t, StatusOrphaned, orphaned.Status)

	reactivated, err := m.ReactivateOrphanedPosition(context.Background(), orphaned, 900_000, 1.05, ForDiscoveredToken())
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, reactivated.Status)
	assert.Equal(t, 900_000.0, reactivated.EntryTokenAmount)
}

func TestManager_ReactivateOrphanedPosition_CapsInflatedEntry(t *testing.T) {
	m := NewManager()
	p := openTestPosition(t, m, DefaultExitConfig())
	p.EntryAmountBase = 5.0 // inflated

	reactivated, err := m.ReactivateOrphanedPosition(context.Background(), p, 100, 1.0, DefaultExitConfig())
	require.NoError(t, err)
	assert.Equal(t, defaultDiscoveredEntrySOL, reactivated.EntryAmountBase)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusOpen, StatusPendingExit))
	assert.True(t, CanTransition(StatusPendingExit, StatusClosed))
	assert.True(t, CanTransition(StatusPartiallyExited, StatusPendingExit))
	assert.False(t, CanTransition(StatusClosed, StatusOpen))
	assert.False(t, CanTransition(StatusOpen, StatusClosed))
}

func TestMomentum_UpdateTracksVelocityAndDecay(t *testing.T) {
	var m Momentum
	base := time.Now()
	tp := 25.0

	m.Update(1.0, 1.0, &tp, base)
	m.Update(1.05, 1.0, &tp, base.Add(time.Minute))
	m.Update(1.10, 1.0, &tp, base.Add(2*time.Minute))

	assert.Greater(t, m.Velocity, 0.0)
	assert.Len(t, m.PriceHistory, 3)
}

func TestMomentum_RingBufferBounded(t *testing.T) {
	var m Momentum
	base := time.Now()
	for i := 0; i < MaxMomentumHistory+10; i++ {
		m.Update(1.0+float64(i)*0.001, 1.0, nil, base.Add(time.Duration(i)*time.Minute))
	}
	assert.Len(t, m.PriceHistory, MaxMomentumHistory)
}
