package positions

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"solana-token-lab/internal/errs"
	"solana-token-lab/internal/observability"
	"solana-token-lab/internal/positionstore"
)

// Manager tracks every open position, ingests price ticks, and derives exit
// signals from each position's exit policy and momentum state. All maps are
// guarded by a single mutex; operations that must be atomic with respect to
// each other (transitioning status, recording an exit) take it for their
// entire critical section rather than composing smaller locks.
type Manager struct {
	mu sync.RWMutex

	positions       map[uuid.UUID]*Position
	positionsByEdge map[uuid.UUID]uuid.UUID
	positionsByMint map[string][]uuid.UUID
	exitSignals     []ExitSignal
	priorityExits   []uuid.UUID
	stats           Stats

	store   positionstore.Store // nil when running without persistence
	verbose bool
	dust    DustThresholds
}

// DustThresholds is the unified config for the two SOL-denominated dust
// checks the original implementation kept separate: TokenValueSOL gates
// the Executor's post-exit "not worth a second transaction" skip
// (spec.md's Open Questions dust-value ambiguity), PositionValueSOL gates
// whether a wallet-reconciliation discovery is worth tracking as a
// position at all.
type DustThresholds struct {
	TokenValueSOL    float64
	PositionValueSOL float64
}

// DefaultDustThresholds returns the thresholds the original implementation
// hardcoded (MIN_DUST_VALUE_SOL and its wallet-reconciliation counterpart).
func DefaultDustThresholds() DustThresholds {
	return DustThresholds{TokenValueSOL: 0.0001, PositionValueSOL: 0.0001}
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithDustThresholds overrides the default dust thresholds.
func WithDustThresholds(d DustThresholds) Option {
	return func(m *Manager) { m.dust = d }
}

// WithStore attaches a durable Store. Writes are best-effort: persistence
// failures are logged, never propagated, so a database hiccup cannot stall
// the in-memory lifecycle engine.
func WithStore(store positionstore.Store) Option {
	return func(m *Manager) { m.store = store }
}

// WithVerboseLogging enables the manager's own log lines (it is quiet by
// default, matching the teacher's opt-in component loggers).
func WithVerboseLogging() Option {
	return func(m *Manager) { m.verbose = true }
}

// NewManager constructs an empty Manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		positions:       make(map[uuid.UUID]*Position),
		positionsByEdge: make(map[uuid.UUID]uuid.UUID),
		positionsByMint: make(map[string][]uuid.UUID),
		dust:            DefaultDustThresholds(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) log(format string, args ...interface{}) {
	if m.verbose {
		log.Printf("[positions] "+format, args...)
	}
}

// LoadFromStore restores every non-terminal position from the attached
// store, re-indexing it by edge and mint. Returns the count restored.
func (m *Manager) LoadFromStore(ctx context.Context) (int, error) {
	if m.store == nil {
		return 0, nil
	}

	open, err := m.store.ListOpen(ctx)
	if err != nil {
		return 0, fmt.Errorf("load open positions: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range open {
		m.positions[p.ID] = p
		m.positionsByEdge[p.EdgeID] = p.ID
		m.positionsByMint[p.TokenMint] = append(m.positionsByMint[p.TokenMint], p.ID)
		m.stats.TotalPositionsOpened++
		m.stats.ActivePositions++
	}

	if len(open) > 0 {
		m.log("restored %d open positions from the store", len(open))
	}
	return len(open), nil
}

// OpenPosition opens and indexes a new position and returns its in-memory
// state.
func (m *Manager) OpenPosition(
	ctx context.Context,
	edgeID, strategyID uuid.UUID,
	tokenMint string,
	symbol *string,
	entryAmountBase, entryTokenAmount, entryPrice float64,
	exitConfig ExitConfig,
	entryTxSignature *string,
) (*Position, error) {
	now := time.Now()
	p := &Position{
		ID:                   uuid.New(),
		EdgeID:               edgeID,
		StrategyID:           strategyID,
		TokenMint:            tokenMint,
		Symbol:               symbol,
		EntryAmountBase:      entryAmountBase,
		EntryTokenAmount:     entryTokenAmount,
		EntryPrice:           entryPrice,
		EntryTime:            now,
		EntryTxSignature:     entryTxSignature,
		CurrentPrice:         entryPrice,
		CurrentValueBase:     entryAmountBase,
		HighWaterMark:        entryPrice,
		ExitConfig:           exitConfig,
		Status:               StatusOpen,
		Momentum:             Momentum{PriceHistory: []PricePoint{{Price: entryPrice, Timestamp: now}}},
		RemainingAmountBase:  entryAmountBase,
		RemainingTokenAmount: entryTokenAmount,
	}

	m.mu.Lock()
	m.positions[p.ID] = p
	m.positionsByEdge[edgeID] = p.ID
	m.positionsByMint[tokenMint] = append(m.positionsByMint[tokenMint], p.ID)
	m.stats.TotalPositionsOpened++
	m.stats.ActivePositions++
	m.mu.Unlock()

	observability.RecordPositionOpened()
	m.persist(ctx, p)

	m.log("position opened: %s | %s @ %v | entry %.6f %s | SL %.0f%% / TP %.0f%%",
		p.ID, tokenMint, entryPrice, entryAmountBase, exitConfig.BaseCurrency.Symbol(),
		percentOrZero(exitConfig.StopLossPercent), percentOrZero(exitConfig.TakeProfitPercent))

	return p, nil
}

func percentOrZero(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func (m *Manager) persist(ctx context.Context, p *Position) {
	if m.store == nil {
		return
	}
	cp := *p
	if err := m.store.Save(ctx, &cp); err != nil {
		m.log("failed to persist position %s: %v", p.ID, err)
	}
}

// UpdatePrice feeds a new price observation for every open position on a
// mint and returns any exit signals it triggers.
func (m *Manager) UpdatePrice(ctx context.Context, tokenMint string, currentPrice float64) []ExitSignal {
	m.mu.RLock()
	ids := append([]uuid.UUID(nil), m.positionsByMint[tokenMint]...)
	m.mu.RUnlock()

	var signals []ExitSignal
	for _, id := range ids {
		if signal := m.checkExitConditions(ctx, id, currentPrice); signal != nil {
			signals = append(signals, *signal)
		}
	}

	if len(signals) > 0 {
		m.mu.Lock()
		m.exitSignals = append(m.exitSignals, signals...)
		m.mu.Unlock()
	}
	return signals
}

// checkExitConditions implements the ordered exit-condition evaluation:
// stop loss, partial take-profit ladder, full take-profit, trailing stop,
// profit-protection (velocity reversal / drop-from-peak), momentum decay,
// predicted-time-exceeded, then the time limit. The first condition that
// fires wins; later ones are never evaluated.
func (m *Manager) checkExitConditions(ctx context.Context, positionID uuid.UUID, currentPrice float64) *ExitSignal {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.positions[positionID]
	if !ok || p.Status != StatusOpen {
		return nil
	}
	if !p.ExitConfig.RequiresMonitoring() {
		return nil
	}

	p.CurrentPrice = currentPrice

	if p.EntryPrice > 0 {
		p.UnrealizedPnLPercent = (currentPrice - p.EntryPrice) / p.EntryPrice * 100.0
	} else {
		p.UnrealizedPnLPercent = 0
	}

	effectiveBase := p.RemainingAmountBase
	if effectiveBase <= 0 {
		effectiveBase = p.EntryAmountBase
	}
	p.UnrealizedPnL = effectiveBase * (p.UnrealizedPnLPercent / 100.0)
	p.CurrentValueBase = effectiveBase + p.UnrealizedPnL

	if currentPrice > p.HighWaterMark {
		p.HighWaterMark = currentPrice
	}

	p.Momentum.Update(currentPrice, p.EntryPrice, p.ExitConfig.TakeProfitPercent, time.Now())

	now := time.Now()
	holdTimeMins := int64(now.Sub(p.EntryTime).Minutes())
	cfg := p.ExitConfig

	if cfg.StopLossPercent != nil && p.UnrealizedPnLPercent <= -*cfg.StopLossPercent {
		p.Status = StatusPendingExit
		return &ExitSignal{PositionID: positionID, Reason: ExitReasonStopLoss, ExitPercent: 100, CurrentPrice: currentPrice, TriggeredAt: now, Urgency: UrgencyCritical}
	}

	if cfg.PartialTakeProfit != nil {
		didFirst := hasPartialExitReason(p.PartialExits, "PartialTakeProfit1")
		didSecond := hasPartialExitReason(p.PartialExits, "PartialTakeProfit2")
		ladder := cfg.PartialTakeProfit

		if !didFirst && p.UnrealizedPnLPercent >= ladder.FirstTargetPercent {
			return &ExitSignal{PositionID: positionID, Reason: ExitReasonPartialTakeProfit, ExitPercent: ladder.FirstExitPercent, CurrentPrice: currentPrice, TriggeredAt: now, Urgency: UrgencyMedium}
		}
		if didFirst && !didSecond && p.UnrealizedPnLPercent >= ladder.SecondTargetPercent {
			return &ExitSignal{PositionID: positionID, Reason: ExitReasonPartialTakeProfit, ExitPercent: ladder.SecondExitPercent, CurrentPrice: currentPrice, TriggeredAt: now, Urgency: UrgencyMedium}
		}
	}

	if cfg.TakeProfitPercent != nil && p.UnrealizedPnLPercent >= *cfg.TakeProfitPercent {
		p.Status = StatusPendingExit
		return &ExitSignal{PositionID: positionID, Reason: ExitReasonTakeProfit, ExitPercent: 100, CurrentPrice: currentPrice, TriggeredAt: now, Urgency: UrgencyHigh}
	}

	if cfg.TrailingStopPercent != nil {
		drawdown := (p.HighWaterMark - currentPrice) / p.HighWaterMark * 100.0
		if drawdown >= *cfg.TrailingStopPercent && p.UnrealizedPnLPercent > 0 {
			p.Status = StatusPendingExit
			return &ExitSignal{PositionID: positionID, Reason: ExitReasonTrailingStop, ExitPercent: 100, CurrentPrice: currentPrice, TriggeredAt: now, Urgency: UrgencyHigh}
		}
	}

	if p.UnrealizedPnLPercent > 5.0 {
		if p.Momentum.Velocity < 0 && p.Momentum.DecayCount >= 2 {
			p.Status = StatusPendingExit
			return &ExitSignal{PositionID: positionID, Reason: ExitReasonMomentumDecay, ExitPercent: 100, CurrentPrice: currentPrice, TriggeredAt: now, Urgency: UrgencyHigh}
		}

		peakPnLPercent := (p.HighWaterMark - p.EntryPrice) / p.EntryPrice * 100.0
		if peakPnLPercent-p.UnrealizedPnLPercent > 3.0 {
			p.Status = StatusPendingExit
			return &ExitSignal{PositionID: positionID, Reason: ExitReasonTrailingStop, ExitPercent: 100, CurrentPrice: currentPrice, TriggeredAt: now, Urgency: UrgencyHigh}
		}
	}

	if p.UnrealizedPnLPercent < 10.0 {
		if p.Momentum.ShouldExitMomentumDecay(holdTimeMins) {
			p.Status = StatusPendingExit
			return &ExitSignal{PositionID: positionID, Reason: ExitReasonMomentumDecay, ExitPercent: 100, CurrentPrice: currentPrice, TriggeredAt: now, Urgency: UrgencyMedium}
		}
		if p.Momentum.ShouldExitPredictedTimeExceeded(holdTimeMins) {
			p.Status = StatusPendingExit
			return &ExitSignal{PositionID: positionID, Reason: ExitReasonMomentumDecay, ExitPercent: 100, CurrentPrice: currentPrice, TriggeredAt: now, Urgency: UrgencyLow}
		}
	}

	if cfg.TimeLimitMinutes != nil {
		minutesElapsed := int64(now.Sub(p.EntryTime).Minutes())
		if minutesElapsed >= int64(*cfg.TimeLimitMinutes) {
			p.Status = StatusPendingExit
			return &ExitSignal{PositionID: positionID, Reason: ExitReasonTimeLimit, ExitPercent: 100, CurrentPrice: currentPrice, TriggeredAt: now, Urgency: UrgencyMedium}
		}
	}

	return nil
}

func hasPartialExitReason(exits []PartialExit, reason string) bool {
	for _, e := range exits {
		if e.Reason == reason {
			return true
		}
	}
	return false
}

// GetPosition returns a copy of a position by id.
func (m *Manager) GetPosition(positionID uuid.UUID) (*Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.positions[positionID]
	if !ok {
		return nil, false
	}
	cp := *p
	return &cp, true
}

// GetPositionByEdge returns a copy of the position opened for an edge.
func (m *Manager) GetPositionByEdge(edgeID uuid.UUID) (*Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.positionsByEdge[edgeID]
	if !ok {
		return nil, false
	}
	p, ok := m.positions[id]
	if !ok {
		return nil, false
	}
	cp := *p
	return &cp, true
}

// GetOpenPositions returns copies of every position currently Open.
func (m *Manager) GetOpenPositions() []*Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Position
	for _, p := range m.positions {
		if p.Status == StatusOpen {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out
}

// HasOpenPositionForMint reports whether any Open position tracks this mint.
func (m *Manager) HasOpenPositionForMint(mint string) bool {
	_, ok := m.GetOpenPositionForMint(mint)
	return ok
}

// GetOpenPositionForMint returns the first Open position tracking this mint.
func (m *Manager) GetOpenPositionForMint(mint string) (*Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range m.positionsByMint[mint] {
		if p, ok := m.positions[id]; ok && p.Status == StatusOpen {
			cp := *p
			return &cp, true
		}
	}
	return nil, false
}

// GetPendingExitSignals drains nothing; it returns a snapshot of queued
// exit signals for a consumer to poll.
func (m *Manager) GetPendingExitSignals() []ExitSignal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ExitSignal(nil), m.exitSignals...)
}

// ClearExitSignal removes all queued signals for a position.
func (m *Manager) ClearExitSignal(positionID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	filtered := m.exitSignals[:0]
	for _, s := range m.exitSignals {
		if s.PositionID != positionID {
			filtered = append(filtered, s)
		}
	}
	m.exitSignals = filtered
}

// UpdatePositionExitConfig replaces the exit policy on an Open position.
func (m *Manager) UpdatePositionExitConfig(positionID uuid.UUID, newConfig ExitConfig) (*Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.positions[positionID]
	if !ok {
		return nil, errs.New(errs.KindNotFound, fmt.Sprintf("position %s not found", positionID))
	}
	if p.Status != StatusOpen {
		return nil, errs.New(errs.KindValidation, fmt.Sprintf("cannot update exit config for position %s in status %s", positionID, p.Status))
	}
	p.ExitConfig = newConfig
	cp := *p
	return &cp, nil
}

// ClosePosition marks a position Closed, records terminal counters, and
// clears any queued exit signal for it.
func (m *Manager) ClosePosition(ctx context.Context, positionID uuid.UUID, exitPrice, realizedPnL float64, exitReason ExitReason, txSignature *string) (*Position, error) {
	m.mu.Lock()
	p, ok := m.positions[positionID]
	if !ok {
		m.mu.Unlock()
		return nil, errs.New(errs.KindNotFound, fmt.Sprintf("position %s not found", positionID))
	}

	p.Status = StatusClosed
	p.CurrentPrice = exitPrice
	p.UnrealizedPnL = 0

	m.stats.TotalPositionsClosed++
	if m.stats.ActivePositions > 0 {
		m.stats.ActivePositions--
	}
	m.stats.TotalRealizedPnL += realizedPnL

	switch exitReason {
	case ExitReasonStopLoss:
		m.stats.StopLossesTriggered++
	case ExitReasonTakeProfit:
		m.stats.TakeProfitsTriggered++
	case ExitReasonTimeLimit:
		m.stats.TimeExitsTriggered++
	}

	cp := *p
	m.mu.Unlock()

	observability.RecordPositionClosed(string(exitReason), realizedPnL)

	if m.store != nil {
		if err := m.store.Close(ctx, positionID, exitPrice, realizedPnL, string(exitReason), txSignature); err != nil {
			m.log("failed to persist position close %s: %v", positionID, err)
		}
	}

	m.ClearExitSignal(positionID)

	m.log("position closed: %s | exit %v | pnl %.4f %s | reason %s", positionID, exitPrice, realizedPnL, cp.ExitConfig.BaseCurrency.Symbol(), exitReason)

	return &cp, nil
}

// TransitionStatus performs the Executor's compare-and-swap on a position's
// status: the sole correctness primitive guaranteeing at most one in-flight
// exit per position (spec.md §5). Returns (false, nil) if the position's
// current status is not from and not already to, mirroring
// positionstore.Store.UpdateStatus's CAS contract.
func (m *Manager) TransitionStatus(ctx context.Context, positionID uuid.UUID, from, to Status) (bool, error) {
	m.mu.Lock()
	p, ok := m.positions[positionID]
	if !ok {
		m.mu.Unlock()
		return false, errs.New(errs.KindNotFound, fmt.Sprintf("position %s not found", positionID))
	}
	if p.Status == to {
		m.mu.Unlock()
		return true, nil
	}
	if p.Status != from || !CanTransition(from, to) {
		m.mu.Unlock()
		return false, nil
	}
	p.Status = to
	m.mu.Unlock()

	if m.store != nil {
		if _, err := m.store.UpdateStatus(ctx, positionID, from, to); err != nil {
			m.log("failed to persist status transition %s: %s -> %s: %v", positionID, from, to, err)
		}
	}
	m.log("position %s transitioned %s -> %s", positionID, from, to)
	return true, nil
}

// ResetPositionStatus reverts a PendingExit position back to Open so the
// executor can retry, and clears its queued exit signal.
func (m *Manager) ResetPositionStatus(positionID uuid.UUID) error {
	m.mu.Lock()
	p, ok := m.positions[positionID]
	if !ok {
		m.mu.Unlock()
		return errs.New(errs.KindNotFound, fmt.Sprintf("position %s not found", positionID))
	}
	if p.Status == StatusPendingExit {
		p.Status = StatusOpen
		m.log("position %s reset from pending_exit to open for retry", positionID)
	}
	m.mu.Unlock()

	m.ClearExitSignal(positionID)
	return nil
}

// QueuePriorityExit enqueues a position for expedited handling, deduping
// against positions already queued.
func (m *Manager) QueuePriorityExit(positionID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.priorityExits {
		if id == positionID {
			return
		}
	}
	m.priorityExits = append(m.priorityExits, positionID)
	m.log("position %s added to priority exit queue (queue size %d)", positionID, len(m.priorityExits))
}

// DrainPriorityExits removes and returns every queued priority exit.
func (m *Manager) DrainPriorityExits() []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	drained := m.priorityExits
	m.priorityExits = nil
	return drained
}

// HasPriorityExits reports whether any priority exit is queued.
func (m *Manager) HasPriorityExits() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.priorityExits) > 0
}

// Stats returns the manager's counters. Position counts and unrealized P&L
// are recomputed from live position state; realized P&L and the per-reason
// exit counters are the totals accumulated by ClosePosition.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	current := m.stats
	current.TotalPositionsOpened = len(m.positions)

	var active, closed int
	var unrealized float64
	for _, p := range m.positions {
		switch p.Status {
		case StatusOpen, StatusPendingExit:
			active++
		case StatusClosed:
			closed++
		}
		if p.Status == StatusOpen {
			unrealized += p.UnrealizedPnL
		}
	}
	current.ActivePositions = active
	current.TotalPositionsClosed = closed
	current.TotalUnrealizedPnL = unrealized
	return current
}

// GetTotalExposureByBase sums current value across Open positions
// denominated in the given base currency.
func (m *Manager) GetTotalExposureByBase(base BaseCurrency) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total float64
	for _, p := range m.positions {
		if p.Status == StatusOpen && p.ExitConfig.BaseCurrency == base {
			total += p.CurrentValueBase
		}
	}
	return total
}

// RecordPartialExit deducts a percentage of the remaining position size,
// appends a PartialExit record, and transitions Open positions to
// PartiallyExited.
func (m *Manager) RecordPartialExit(ctx context.Context, positionID uuid.UUID, exitPercent, exitPrice, profitBase float64, txSignature *string, reason string) (*Position, error) {
	m.mu.Lock()
	p, ok := m.positions[positionID]
	if !ok {
		m.mu.Unlock()
		return nil, errs.New(errs.KindNotFound, fmt.Sprintf("position %s not found", positionID))
	}

	exitedBase := p.RemainingAmountBase * (exitPercent / 100.0)
	exitedTokens := p.RemainingTokenAmount * (exitPercent / 100.0)

	p.RemainingAmountBase -= exitedBase
	p.RemainingTokenAmount -= exitedTokens
	if p.RemainingAmountBase < 0 {
		p.RemainingAmountBase = 0
	}
	if p.RemainingTokenAmount < 0 {
		p.RemainingTokenAmount = 0
	}

	p.PartialExits = append(p.PartialExits, PartialExit{
		ExitTime:     time.Now(),
		ExitPercent:  exitPercent,
		ExitPrice:    exitPrice,
		RealizedBase: profitBase,
		TxSignature:  txSignature,
		Reason:       reason,
	})

	if p.Status == StatusOpen {
		p.Status = StatusPartiallyExited
	}

	cp := *p
	m.mu.Unlock()

	m.persist(ctx, &cp)

	m.log("partial exit recorded: %s | %.1f%% @ %v | remaining %.6f / %.0f | reason %s",
		positionID, exitPercent, exitPrice, cp.RemainingAmountBase, cp.RemainingTokenAmount, reason)

	return &cp, nil
}

// EmergencyCloseAll queues a Critical Emergency exit signal for every Open
// position, for use during graceful shutdown.
func (m *Manager) EmergencyCloseAll() []ExitSignal {
	m.mu.Lock()
	defer m.mu.Unlock()

	var signals []ExitSignal
	now := time.Now()
	for _, p := range m.positions {
		if p.Status == StatusOpen {
			signals = append(signals, ExitSignal{
				PositionID:   p.ID,
				Reason:       ExitReasonEmergency,
				ExitPercent:  100,
				CurrentPrice: p.CurrentPrice,
				TriggeredAt:  now,
				Urgency:      UrgencyCritical,
			})
		}
	}

	if len(signals) > 0 {
		m.exitSignals = append(m.exitSignals, signals...)
		m.log("emergency close triggered for %d positions", len(signals))
	}
	return signals
}

// WalletTokenHolding is one balance observed in an on-chain wallet scan,
// used by ReconcileWalletTokens to detect drift between tracked positions
// and what the wallet actually holds.
type WalletTokenHolding struct {
	Mint     string
	Symbol   *string
	Balance  float64
	Decimals uint8
}

// ReconciliationResult summarizes drift found between tracked positions and
// actual wallet balances.
type ReconciliationResult struct {
	TrackedPositions  int
	DiscoveredTokens  []WalletTokenHolding
	OrphanedPositions []uuid.UUID
}

// ReconcileWalletTokens compares every Open position's mint against a fresh
// wallet balance scan: tokens held but untracked are surfaced as
// DiscoveredTokens, and Open positions whose wallet balance vanished are
// surfaced as OrphanedPositions (their status is not changed here; callers
// should follow up with MarkPositionOrphaned once they've decided the
// absence wasn't a transient RPC gap).
func (m *Manager) ReconcileWalletTokens(walletTokens []WalletTokenHolding) ReconciliationResult {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tracked := make(map[string]bool)
	for _, p := range m.positions {
		if p.Status == StatusOpen {
			tracked[p.TokenMint] = true
		}
	}

	var discovered []WalletTokenHolding
	for _, h := range walletTokens {
		if _, isBase := BaseCurrencyFromMint(h.Mint); isBase {
			continue
		}
		if h.Balance < m.dust.PositionValueSOL {
			continue
		}
		if !tracked[h.Mint] {
			discovered = append(discovered, h)
		}
	}

	var orphaned []uuid.UUID
	for _, p := range m.positions {
		if p.Status != StatusOpen {
			continue
		}
		hasBalance := false
		for _, h := range walletTokens {
			if h.Mint == p.TokenMint && h.Balance >= m.dust.PositionValueSOL {
				hasBalance = true
				break
			}
		}
		if !hasBalance {
			orphaned = append(orphaned, p.ID)
		}
	}

	result := ReconciliationResult{
		TrackedPositions:  len(tracked),
		DiscoveredTokens:  discovered,
		OrphanedPositions: orphaned,
	}
	if len(discovered) > 0 || len(orphaned) > 0 {
		m.log("wallet reconciliation: %d tracked, %d discovered, %d orphaned", result.TrackedPositions, len(discovered), len(orphaned))
	}
	return result
}

// CreateDiscoveredPosition opens a position for a wallet token holding that
// has no corresponding tracked position, using the default exit policy.
func (m *Manager) CreateDiscoveredPosition(ctx context.Context, holding WalletTokenHolding, estimatedEntryPrice, estimatedEntrySOL float64) (*Position, error) {
	return m.CreateDiscoveredPositionWithConfig(ctx, holding, estimatedEntryPrice, estimatedEntrySOL, DefaultExitConfig())
}

// CreateDiscoveredPositionWithConfig is CreateDiscoveredPosition with an
// explicit exit policy, used when a strategy has already classified the
// token (e.g. ForDiscoveredWithMetrics).
func (m *Manager) CreateDiscoveredPositionWithConfig(ctx context.Context, holding WalletTokenHolding, estimatedEntryPrice, estimatedEntrySOL float64, exitConfig ExitConfig) (*Position, error) {
	p, err := m.OpenPosition(ctx, uuid.New(), uuid.Nil, holding.Mint, holding.Symbol, estimatedEntrySOL, holding.Balance, estimatedEntryPrice, exitConfig, nil)
	if err != nil {
		return nil, err
	}
	m.log("created discovered position for %s (%s) - %.0f tokens @ estimated %v", symbolOrUnknown(holding.Symbol), shortMint(holding.Mint), holding.Balance, estimatedEntryPrice)
	return p, nil
}

func symbolOrUnknown(s *string) string {
	if s == nil {
		return "unknown"
	}
	return *s
}

func shortMint(mint string) string {
	if len(mint) <= 8 {
		return mint
	}
	return mint[:8]
}

// MarkPositionOrphaned transitions a position to Orphaned when a wallet
// reconciliation pass finds no corresponding balance.
func (m *Manager) MarkPositionOrphaned(ctx context.Context, positionID uuid.UUID) error {
	m.mu.Lock()
	p, ok := m.positions[positionID]
	if !ok {
		m.mu.Unlock()
		return errs.New(errs.KindNotFound, fmt.Sprintf("position %s not found", positionID))
	}
	p.Status = StatusOrphaned
	m.mu.Unlock()

	if m.store != nil {
		if _, err := m.store.UpdateStatus(ctx, positionID, StatusOpen, StatusOrphaned); err != nil {
			m.log("failed to persist orphaned status for %s: %v", positionID, err)
		}
	}

	m.log("marked position %s as orphaned (wallet balance missing)", positionID)
	return nil
}

// discoveredEntryCaps bound the entry amount a reactivated discovered
// position is allowed to claim, protecting Stats()/exposure accounting
// against a stale or inflated estimate from before the position orphaned.
const (
	maxDiscoveredEntrySOL     = 0.1
	defaultDiscoveredEntrySOL = 0.02
)

// ReactivateOrphanedPosition restores an Orphaned position to Open with a
// freshly observed balance, price, and exit policy.
func (m *Manager) ReactivateOrphanedPosition(ctx context.Context, position *Position, newBalance, newPrice float64, newExitConfig ExitConfig) (*Position, error) {
	reactivated := *position
	reactivated.Status = StatusOpen
	reactivated.EntryTokenAmount = newBalance
	reactivated.EntryPrice = newPrice
	reactivated.CurrentPrice = newPrice
	reactivated.HighWaterMark = newPrice
	reactivated.UnrealizedPnL = 0
	reactivated.UnrealizedPnLPercent = 0
	reactivated.ExitConfig = newExitConfig

	if reactivated.EntryAmountBase > maxDiscoveredEntrySOL {
		m.log("capping inflated entry %.4f SOL to %.4f SOL for reactivated position", reactivated.EntryAmountBase, defaultDiscoveredEntrySOL)
		reactivated.EntryAmountBase = defaultDiscoveredEntrySOL
	}

	m.mu.Lock()
	m.positions[reactivated.ID] = &reactivated
	m.positionsByEdge[reactivated.EdgeID] = reactivated.ID
	m.positionsByMint[reactivated.TokenMint] = append(m.positionsByMint[reactivated.TokenMint], reactivated.ID)
	m.stats.ActivePositions++
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.Reactivate(ctx, reactivated.ID); err != nil {
			m.log("failed to persist reactivated position %s: %v", reactivated.ID, err)
		}
		m.persist(ctx, &reactivated)
	}

	m.log("reactivated orphaned position %s for %s | balance %v | price %v | exit SL %.0f%%/TP %.0f%%",
		reactivated.ID, symbolOrUnknown(reactivated.Symbol), newBalance, newPrice,
		percentOrZero(reactivated.ExitConfig.StopLossPercent), percentOrZero(reactivated.ExitConfig.TakeProfitPercent))

	cp := reactivated
	return &cp, nil
}

// GetOrphanedPositionByMint looks up an Orphaned position for a mint via the
// attached store. Returns (nil, false) when running without persistence or
// when no orphaned position exists.
func (m *Manager) GetOrphanedPositionByMint(ctx context.Context, mint string) (*Position, bool) {
	if m.store == nil {
		return nil, false
	}
	candidates, err := m.store.ByMint(ctx, mint)
	if err != nil {
		m.log("failed to query orphaned position for %s: %v", mint, err)
		return nil, false
	}
	for _, p := range candidates {
		if p.Status == StatusOrphaned {
			return p, true
		}
	}
	return nil, false
}
