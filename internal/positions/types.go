// Package positions implements the Position Manager: it tracks open
// positions, ingests price ticks, and computes exit signals from a
// per-position exit policy plus momentum state.
package positions

import (
	"time"

	"github.com/google/uuid"
)

// Base currency mints (mainnet).
const (
	SOLMint  = "So11111111111111111111111111111111111111112"
	USDCMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	USDTMint = "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB"
)

// BaseCurrency identifies the currency a position's base amounts are
// denominated in.
type BaseCurrency string

const (
	BaseSOL  BaseCurrency = "sol"
	BaseUSDC BaseCurrency = "usdc"
	BaseUSDT BaseCurrency = "usdt"
)

// Mint returns the mint address for the base currency.
func (b BaseCurrency) Mint() string {
	switch b {
	case BaseUSDC:
		return USDCMint
	case BaseUSDT:
		return USDTMint
	default:
		return SOLMint
	}
}

// Symbol returns the human-readable ticker.
func (b BaseCurrency) Symbol() string {
	switch b {
	case BaseUSDC:
		return "USDC"
	case BaseUSDT:
		return "USDT"
	default:
		return "SOL"
	}
}

// BaseCurrencyFromMint reverse-looks-up a base currency from its mint.
func BaseCurrencyFromMint(mint string) (BaseCurrency, bool) {
	switch mint {
	case SOLMint:
		return BaseSOL, true
	case USDCMint:
		return BaseUSDC, true
	case USDTMint:
		return BaseUSDT, true
	default:
		return "", false
	}
}

// ExitMode selects how the Position Manager treats a position.
type ExitMode string

const (
	// ExitModeDefault is continuously monitored against the exit policy.
	ExitModeDefault ExitMode = "default"
	// ExitModeAtomic trusts the entry transaction to guarantee
	// profit-or-revert; no monitoring.
	ExitModeAtomic ExitMode = "atomic"
	// ExitModeCustom is monitored, but free-text instructions may override
	// automated decisions downstream.
	ExitModeCustom ExitMode = "custom"
	// ExitModeHold is never monitored or auto-exited.
	ExitModeHold ExitMode = "hold"
)

// PartialTakeProfit describes a two-tier partial-exit ladder.
type PartialTakeProfit struct {
	FirstTargetPercent  float64
	FirstExitPercent    float64
	SecondTargetPercent float64
	SecondExitPercent   float64
}

// ExitConfig is the value-typed exit policy attached to a position.
type ExitConfig struct {
	BaseCurrency           BaseCurrency
	ExitMode               ExitMode
	StopLossPercent        *float64
	TakeProfitPercent      *float64
	TrailingStopPercent    *float64
	TimeLimitMinutes       *int
	PartialTakeProfit      *PartialTakeProfit
	CustomExitInstructions *string
}

// RequiresMonitoring reports whether the Position Manager should evaluate
// exit conditions for a position carrying this config.
func (c ExitConfig) RequiresMonitoring() bool {
	return c.ExitMode == ExitModeDefault || c.ExitMode == ExitModeCustom
}

// IsAtomic reports whether the config is the Atomic no-monitoring mode.
func (c ExitConfig) IsAtomic() bool {
	return c.ExitMode == ExitModeAtomic
}

func floatPtr(f float64) *float64 { return &f }
func intPtr(i int) *int           { return &i }
func strPtr(s string) *string     { return &s }

// DefaultExitConfig is the `default` preset: SL 10%, TP 25%, 60 min limit.
func DefaultExitConfig() ExitConfig {
	return ExitConfig{
		BaseCurrency:      BaseSOL,
		ExitMode:          ExitModeDefault,
		StopLossPercent:   floatPtr(10.0),
		TakeProfitPercent: floatPtr(25.0),
		TimeLimitMinutes:  intPtr(60),
	}
}

// AtomicExitConfig is the `atomic` preset: no monitoring.
func AtomicExitConfig() ExitConfig {
	return ExitConfig{BaseCurrency: BaseSOL, ExitMode: ExitModeAtomic}
}

// HoldExitConfig is the `hold` preset: ignored by the manager.
func HoldExitConfig() ExitConfig {
	return ExitConfig{BaseCurrency: BaseSOL, ExitMode: ExitModeHold}
}

// ForCurveBonding is the `for_curve_bonding` preset.
func ForCurveBonding() ExitConfig {
	return ExitConfig{
		BaseCurrency:        BaseSOL,
		ExitMode:            ExitModeDefault,
		StopLossPercent:     floatPtr(10.0),
		TakeProfitPercent:   floatPtr(25.0),
		TrailingStopPercent: floatPtr(5.0),
		TimeLimitMinutes:    intPtr(30),
		PartialTakeProfit: &PartialTakeProfit{
			FirstTargetPercent:  10.0,
			FirstExitPercent:    50.0,
			SecondTargetPercent: 25.0,
			SecondExitPercent:   100.0,
		},
	}
}

// ForCurveBondingConservative is the `for_curve_bonding_conservative` preset.
func ForCurveBondingConservative() ExitConfig {
	return ExitConfig{
		BaseCurrency:        BaseSOL,
		ExitMode:            ExitModeDefault,
		StopLossPercent:     floatPtr(10.0),
		TakeProfitPercent:   floatPtr(30.0),
		TrailingStopPercent: floatPtr(10.0),
		TimeLimitMinutes:    intPtr(30),
	}
}

// ForDiscoveredToken is the `for_discovered_token` preset.
func ForDiscoveredToken() ExitConfig {
	return ExitConfig{
		BaseCurrency:        BaseSOL,
		ExitMode:            ExitModeDefault,
		StopLossPercent:     floatPtr(30.0),
		TakeProfitPercent:   floatPtr(50.0),
		TrailingStopPercent: floatPtr(15.0),
		TimeLimitMinutes:    intPtr(120),
		PartialTakeProfit: &PartialTakeProfit{
			FirstTargetPercent:  30.0,
			FirstExitPercent:    50.0,
			SecondTargetPercent: 50.0,
			SecondExitPercent:   100.0,
		},
		CustomExitInstructions: strPtr("Auto-created for discovered wallet token"),
	}
}

// ForDiscoveredWithMetrics is the `for_discovered_with_metrics` preset:
// three liquidity tiers scale trailing stop and time limit.
func ForDiscoveredWithMetrics(volume24hSOL float64, holderCount int) ExitConfig {
	var sl, tp, trailing float64
	var timeLimit int

	switch {
	case volume24hSOL > 100.0 && holderCount > 100:
		sl, tp, trailing, timeLimit = 20.0, 40.0, 10.0, 360
	case volume24hSOL > 10.0:
		sl, tp, trailing, timeLimit = 25.0, 50.0, 15.0, 180
	default:
		sl, tp, trailing, timeLimit = 30.0, 75.0, 20.0, 90
	}

	cfg := ExitConfig{
		BaseCurrency:        BaseSOL,
		ExitMode:            ExitModeDefault,
		StopLossPercent:     floatPtr(sl),
		TakeProfitPercent:   floatPtr(tp),
		TrailingStopPercent: floatPtr(trailing),
		TimeLimitMinutes:    intPtr(timeLimit),
	}
	if tp > 40.0 {
		cfg.PartialTakeProfit = &PartialTakeProfit{
			FirstTargetPercent:  tp * 0.6,
			FirstExitPercent:    50.0,
			SecondTargetPercent: tp,
			SecondExitPercent:   100.0,
		}
	}
	return cfg
}

// Status is a position's lifecycle state (spec §3 invariant 3).
type Status string

const (
	StatusOpen            Status = "open"
	StatusPendingExit     Status = "pending_exit"
	StatusPartiallyExited Status = "partially_exited"
	StatusClosed          Status = "closed"
	StatusFailed          Status = "failed"
	StatusOrphaned        Status = "orphaned"
)

// Terminal reports whether the status is absorbing.
func (s Status) Terminal() bool {
	return s == StatusClosed || s == StatusFailed || s == StatusOrphaned
}

// validTransitions encodes the allowed status DAG.
var validTransitions = map[Status]map[Status]bool{
	StatusOpen: {
		StatusPendingExit: true,
	},
	StatusPendingExit: {
		StatusOpen:            true,
		StatusPartiallyExited: true,
		StatusClosed:          true,
		StatusFailed:          true,
	},
	StatusPartiallyExited: {
		StatusPendingExit: true,
		StatusClosed:      true,
	},
}

// CanTransition reports whether from->to is allowed by the status DAG.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	next, ok := validTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// PricePoint is one observed price sample, used by the momentum ring.
type PricePoint struct {
	Price     float64
	Timestamp time.Time
}

// MaxMomentumHistory bounds the momentum ring buffer (spec §3).
const MaxMomentumHistory = 30

// Momentum tracks bounded price history and derived velocity/score state.
type Momentum struct {
	PriceHistory       []PricePoint
	Velocity           float64 // %/min
	MomentumScore      float64 // -100..100
	PredictedTTTPMins  *float64
	DecayCount         int
}

// PartialExit is an append-only record of a partial position exit.
type PartialExit struct {
	ExitTime     time.Time
	ExitPercent  float64
	ExitPrice    float64
	RealizedBase float64
	TxSignature  *string
	Reason       string
}

// Position is the full in-memory representation of a tracked position.
type Position struct {
	ID         uuid.UUID
	EdgeID     uuid.UUID
	StrategyID uuid.UUID
	TokenMint  string
	Symbol     *string

	EntryAmountBase  float64
	EntryTokenAmount float64
	EntryPrice       float64
	EntryTime        time.Time
	EntryTxSignature *string

	CurrentPrice         float64
	CurrentValueBase     float64
	UnrealizedPnL        float64
	UnrealizedPnLPercent float64
	HighWaterMark        float64

	ExitConfig   ExitConfig
	PartialExits []PartialExit
	Status       Status
	Momentum     Momentum

	RemainingAmountBase  float64
	RemainingTokenAmount float64
}

// Reasons a position-manager-driven exit signal fires.
type ExitReason string

const (
	ExitReasonStopLoss          ExitReason = "StopLoss"
	ExitReasonTakeProfit        ExitReason = "TakeProfit"
	ExitReasonTrailingStop      ExitReason = "TrailingStop"
	ExitReasonTimeLimit         ExitReason = "TimeLimit"
	ExitReasonManual            ExitReason = "Manual"
	ExitReasonPartialTakeProfit ExitReason = "PartialTakeProfit"
	ExitReasonEmergency         ExitReason = "Emergency"
	ExitReasonMomentumDecay     ExitReason = "MomentumDecay"
	ExitReasonSalvage           ExitReason = "Salvage"
	ExitReasonDustBalance       ExitReason = "DustBalance"
	ExitReasonAlreadySold       ExitReason = "AlreadySold-Inferred"
	ExitReasonGraduationSnipe   ExitReason = "GraduationSnipe"
)

// Urgency ranks how quickly an exit signal must be processed.
type Urgency int

const (
	UrgencyLow Urgency = iota
	UrgencyMedium
	UrgencyHigh
	UrgencyCritical
)

func (u Urgency) String() string {
	switch u {
	case UrgencyCritical:
		return "critical"
	case UrgencyHigh:
		return "high"
	case UrgencyMedium:
		return "medium"
	default:
		return "low"
	}
}

// ExitSignal is a value-typed instruction the Manager hands the Executor.
type ExitSignal struct {
	PositionID   uuid.UUID
	Reason       ExitReason
	ExitPercent  float64
	CurrentPrice float64
	TriggeredAt  time.Time
	Urgency      Urgency
}

// Stats summarizes manager-wide counters; Manager.Stats says which are
// recomputed on each call.
type Stats struct {
	TotalPositionsOpened int
	TotalPositionsClosed int
	ActivePositions      int
	TotalRealizedPnL     float64
	TotalUnrealizedPnL   float64
	StopLossesTriggered  int
	TakeProfitsTriggered int
	TimeExitsTriggered   int
}
