// Package sniper implements the Graduation Sniper (spec.md §4.J): it
// watches the bus for bonding-curve graduation events, dispatches
// pre-graduation entry signals to the strategy matcher, and races to sell
// (or, when configured, buy) the instant a curve graduates.
package sniper

import (
	"time"
)

// State is a position's status from the Sniper's own perspective, distinct
// from positions.Status: it tracks the Sniper's sell race, not the
// position's lifecycle as a whole.
type State string

const (
	StateWaiting State = "waiting"
	StateSelling State = "selling"
	StateSold    State = "sold"
	StateFailed  State = "failed"
)

// Defaults per spec.md §4.J.
const (
	DefaultMinEntryVelocity = 0.0
	DefaultSellDelay        = 50 * time.Millisecond
	DefaultMaxConcurrentSells = 5
	DefaultMaxSellRetries     = 3
	DefaultPostGradMaxRetries = 5
	DefaultGasReserveSOL      = 0.02
	DefaultMaxConcurrentPositions = 20
)

// Config tunes the Sniper's thresholds, concurrency caps, and retry
// ladders.
type Config struct {
	MinEntryVelocity       float64
	SellDelay              time.Duration
	MaxConcurrentSells     int64
	MaxSellRetries         int
	PostGradMaxRetries     int
	GasReserveSOL          float64
	MaxConcurrentPositions int
	EntrySOL               float64
	AggregatorURL          string
	SlippageBps            int
	PostGradEntryEnabled   bool
}

func (c Config) withDefaults() Config {
	if c.SellDelay <= 0 {
		c.SellDelay = DefaultSellDelay
	}
	if c.MaxConcurrentSells <= 0 {
		c.MaxConcurrentSells = DefaultMaxConcurrentSells
	}
	if c.MaxSellRetries <= 0 {
		c.MaxSellRetries = DefaultMaxSellRetries
	}
	if c.PostGradMaxRetries <= 0 {
		c.PostGradMaxRetries = DefaultPostGradMaxRetries
	}
	if c.GasReserveSOL <= 0 {
		c.GasReserveSOL = DefaultGasReserveSOL
	}
	if c.MaxConcurrentPositions <= 0 {
		c.MaxConcurrentPositions = DefaultMaxConcurrentPositions
	}
	return c
}

// EntrySignal is the synthesized edge the Sniper dispatches to the
// strategy matcher on a graduation_imminent event, per spec.md §4.J's
// confidence table.
type EntrySignal struct {
	TokenMint       string
	Symbol          string
	StrategyID      string
	Progress        float64
	Velocity        float64
	Confidence      float64
	EstProfitBps    int
}

// confidenceTable is spec.md §4.J's progress/velocity -> confidence/profit
// dispatch table, evaluated top to bottom, first match wins.
func classifyEntry(progress, velocity float64) (confidence float64, estProfitBps int) {
	switch {
	case progress >= 98:
		return 0.95, 600
	case progress >= 95 && velocity > 0.5:
		return 0.85, 600
	case progress >= 90 && velocity > 0:
		return 0.75, 400
	default:
		return 0.60, 200
	}
}

// exitPercentForMomentum maps a momentum strength to the exit percent the
// Sniper sells on graduation, per spec.md §4.J "Momentum-sized exits" and
// §9's open question on the interaction with graduation-driven full exits:
// momentum sizing only applies when the graduated event actually carries a
// momentum reading; its absence means a plain full exit, not "weak".
func exitPercentForMomentum(strength *string) float64 {
	if strength == nil {
		return 100
	}
	switch *strength {
	case "strong":
		return 50
	case "normal":
		return 75
	default: // "weak", "reversing"
		return 100
	}
}
