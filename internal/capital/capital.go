// Package capital implements the Capital Manager: per-strategy lamport and
// slot budgets with caps, reservation/release, and equal-split rebalancing.
// Reservation ledger math uses shopspring/decimal to avoid float drift on
// an accounting surface, unlike the Position Manager's display math.
package capital

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"solana-token-lab/internal/observability"
)

// ErrOverBudget is returned when a reservation would exceed a strategy's
// cap (lamport allocation or slot count).
var ErrOverBudget = errors.New("capital: reservation exceeds strategy budget")

// ErrUnknownStrategy is returned for operations against a strategy that
// was never registered with a cap.
var ErrUnknownStrategy = errors.New("capital: unknown strategy")

// ErrUnknownPosition is returned when releasing a position with no
// tracked reservation.
var ErrUnknownPosition = errors.New("capital: unknown position reservation")

// Cap is a strategy's budget ceiling.
type Cap struct {
	AllocationPercent decimal.Decimal
	MaxSlots          int
}

// positionReservation is the per-position ledger entry backing
// ReleasePartial's proportional math.
type positionReservation struct {
	StrategyID       uuid.UUID
	ReservedLamports decimal.Decimal
}

// strategyState is a strategy's live reservation totals.
type strategyState struct {
	cap              Cap
	reservedLamports decimal.Decimal
	reservedSlots    int
}

// Manager tracks capital reservations in memory, backed by a Store for
// crash-safe restore on boot.
type Manager struct {
	mu                  sync.RWMutex
	totalBudgetLamports decimal.Decimal
	strategies          map[uuid.UUID]*strategyState
	positions           map[uuid.UUID]positionReservation

	store   Store
	logger  *log.Logger
	verbose bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithStore attaches a persistence layer for crash-safe reservations.
func WithStore(store Store) Option {
	return func(m *Manager) { m.store = store }
}

// WithVerboseLogging enables per-operation logging.
func WithVerboseLogging() Option {
	return func(m *Manager) { m.verbose = true }
}

// NewManager builds a Capital Manager over a fixed total lamport budget.
func NewManager(totalBudgetLamports uint64, opts ...Option) *Manager {
	m := &Manager{
		totalBudgetLamports: decimal.NewFromInt(int64(totalBudgetLamports)),
		strategies:          make(map[uuid.UUID]*strategyState),
		positions:           make(map[uuid.UUID]positionReservation),
		logger:              log.New(os.Stdout, "[capital] ", log.LstdFlags|log.Lshortfile),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) log(format string, args ...interface{}) {
	if m.verbose {
		m.logger.Printf(format, args...)
	}
}

// RegisterStrategy installs or updates a strategy's cap. Reservations
// already held against the strategy are left untouched.
func (m *Manager) RegisterStrategy(strategyID uuid.UUID, cap Cap) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.strategies[strategyID]
	if !ok {
		state = &strategyState{}
		m.strategies[strategyID] = state
	}
	state.cap = cap
}

// LoadFromStore restores persisted reservations, for crash-safe boot.
func (m *Manager) LoadFromStore(ctx context.Context) (int, error) {
	if m.store == nil {
		return 0, nil
	}
	records, err := m.store.ListReservations(ctx)
	if err != nil {
		return 0, fmt.Errorf("load capital reservations: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range records {
		state, ok := m.strategies[rec.StrategyID]
		if !ok {
			state = &strategyState{}
			m.strategies[rec.StrategyID] = state
		}
		state.reservedLamports = state.reservedLamports.Add(decimal.NewFromInt(int64(rec.ReservedLamports)))
		state.reservedSlots++
		m.positions[rec.PositionID] = positionReservation{
			StrategyID:       rec.StrategyID,
			ReservedLamports: decimal.NewFromInt(int64(rec.ReservedLamports)),
		}
	}
	return len(records), nil
}

// Reserve reserves lamports and one slot against a strategy and a specific
// position, failing with ErrOverBudget if either cap would be exceeded.
func (m *Manager) Reserve(ctx context.Context, strategyID, positionID uuid.UUID, lamports uint64) error {
	m.mu.Lock()

	state, ok := m.strategies[strategyID]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownStrategy
	}

	amount := decimal.NewFromInt(int64(lamports))
	allowedLamports := m.totalBudgetLamports.Mul(state.cap.AllocationPercent).Div(decimal.NewFromInt(100))

	if state.reservedLamports.Add(amount).GreaterThan(allowedLamports) {
		m.mu.Unlock()
		observability.RecordCapitalDenied(strategyID.String())
		return fmt.Errorf("%w: strategy %s lamports", ErrOverBudget, strategyID)
	}
	if state.cap.MaxSlots > 0 && state.reservedSlots+1 > state.cap.MaxSlots {
		m.mu.Unlock()
		observability.RecordCapitalDenied(strategyID.String())
		return fmt.Errorf("%w: strategy %s slots", ErrOverBudget, strategyID)
	}

	state.reservedLamports = state.reservedLamports.Add(amount)
	state.reservedSlots++
	m.positions[positionID] = positionReservation{StrategyID: strategyID, ReservedLamports: amount}
	reserved, _ := state.reservedLamports.Float64()
	available, _ := allowedLamports.Sub(state.reservedLamports).Float64()
	m.mu.Unlock()

	observability.UpdateCapital(strategyID.String(), reserved, available)
	m.log("reserved %d lamports for strategy %s position %s", lamports, strategyID, positionID)
	m.persist(ctx, strategyID, positionID, lamports)
	return nil
}

// Release fully releases a position's reservation.
func (m *Manager) Release(ctx context.Context, positionID uuid.UUID) error {
	m.mu.Lock()
	rec, ok := m.positions[positionID]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownPosition
	}
	state := m.strategies[rec.StrategyID]
	var reserved, available float64
	if state != nil {
		state.reservedLamports = state.reservedLamports.Sub(rec.ReservedLamports)
		if state.reservedLamports.IsNegative() {
			state.reservedLamports = decimal.Zero
		}
		state.reservedSlots--
		if state.reservedSlots < 0 {
			state.reservedSlots = 0
		}
		allowedLamports := m.totalBudgetLamports.Mul(state.cap.AllocationPercent).Div(decimal.NewFromInt(100))
		reserved, _ = state.reservedLamports.Float64()
		available, _ = allowedLamports.Sub(state.reservedLamports).Float64()
	}
	delete(m.positions, positionID)
	m.mu.Unlock()

	if state != nil {
		observability.UpdateCapital(rec.StrategyID.String(), reserved, available)
	}
	m.log("released reservation for position %s", positionID)
	if m.store != nil {
		if err := m.store.DeleteReservation(ctx, positionID); err != nil {
			m.logger.Printf("failed to delete persisted reservation for %s: %v", positionID, err)
		}
	}
	return nil
}

// ReleasePartial releases exitPercent of a position's remaining reservation
// and returns the lamports released, used when the Executor records a
// partial exit and needs to free proportional capital.
func (m *Manager) ReleasePartial(ctx context.Context, positionID uuid.UUID, exitPercent float64) (uint64, error) {
	m.mu.Lock()
	rec, ok := m.positions[positionID]
	if !ok {
		m.mu.Unlock()
		return 0, ErrUnknownPosition
	}

	fraction := decimal.NewFromFloat(exitPercent).Div(decimal.NewFromInt(100))
	released := rec.ReservedLamports.Mul(fraction)
	remaining := rec.ReservedLamports.Sub(released)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}

	state := m.strategies[rec.StrategyID]
	if state != nil {
		state.reservedLamports = state.reservedLamports.Sub(released)
		if state.reservedLamports.IsNegative() {
			state.reservedLamports = decimal.Zero
		}
	}

	if remaining.IsZero() {
		delete(m.positions, positionID)
		if state != nil {
			state.reservedSlots--
			if state.reservedSlots < 0 {
				state.reservedSlots = 0
			}
		}
	} else {
		m.positions[positionID] = positionReservation{StrategyID: rec.StrategyID, ReservedLamports: remaining}
	}
	m.mu.Unlock()

	releasedLamports := released.Round(0).BigInt().Uint64()
	m.log("released %d lamports (%.2f%%) for position %s", releasedLamports, exitPercent, positionID)

	if m.store != nil {
		if remaining.IsZero() {
			if err := m.store.DeleteReservation(ctx, positionID); err != nil {
				m.logger.Printf("failed to delete persisted reservation for %s: %v", positionID, err)
			}
		} else {
			m.persist(ctx, rec.StrategyID, positionID, remaining.Round(0).BigInt().Uint64())
		}
	}

	return releasedLamports, nil
}

// RebalanceEqual divides the allocation percent equally among strategies
// that currently hold at least one reservation.
func (m *Manager) RebalanceEqual() {
	m.mu.Lock()
	defer m.mu.Unlock()

	active := make([]uuid.UUID, 0, len(m.strategies))
	for id, state := range m.strategies {
		if state.reservedSlots > 0 {
			active = append(active, id)
		}
	}
	if len(active) == 0 {
		return
	}

	share := decimal.NewFromInt(100).Div(decimal.NewFromInt(int64(len(active))))
	for _, id := range active {
		m.strategies[id].cap.AllocationPercent = share
	}
	m.log("rebalanced %d active strategies to %s%% each", len(active), share.StringFixed(2))
}

// ReservedLamports returns a strategy's current reserved total.
func (m *Manager) ReservedLamports(strategyID uuid.UUID) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.strategies[strategyID]
	if !ok {
		return 0
	}
	return state.reservedLamports.Round(0).BigInt().Uint64()
}

// ReservedSlots returns a strategy's current reserved slot count.
func (m *Manager) ReservedSlots(strategyID uuid.UUID) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.strategies[strategyID]
	if !ok {
		return 0
	}
	return state.reservedSlots
}

func (m *Manager) persist(ctx context.Context, strategyID, positionID uuid.UUID, lamports uint64) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveReservation(ctx, Reservation{
		StrategyID:       strategyID,
		PositionID:       positionID,
		ReservedLamports: lamports,
	}); err != nil {
		m.logger.Printf("failed to persist reservation for position %s: %v", positionID, err)
	}
}
