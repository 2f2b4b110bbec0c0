// Package graduation derives bonding-curve graduation progress for every
// open position and turns it into the graduation_imminent/graduated bus
// events the Sniper (spec.md §4.J) reacts to. Nothing else in this
// codebase produces those two topics; without this component the Sniper
// subscribes to a bus that never speaks.
package graduation

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"solana-token-lab/internal/bus"
	"solana-token-lab/internal/positions"
	"solana-token-lab/internal/routing"
	"solana-token-lab/internal/solana"
)

// ImminentThreshold is the graduation-progress percent at which a mint's
// first crossing is announced as graduation_imminent.
const ImminentThreshold = 80.0

// PollInterval is the ticker cadence of the regular re-check; a program-log
// notification triggers an extra re-check between ticks.
const PollInterval = 3 * time.Second

type mintState struct {
	lastProgress       float64
	lastCheckedAt      time.Time
	announcedImminent  bool
	announcedGraduated bool
}

// Tracker samples curve state for every open position's mint, derives a
// price and a graduation-progress velocity, feeds the price to the
// Position Manager, and publishes graduation_imminent/graduated once per
// mint transition.
type Tracker struct {
	manager  *positions.Manager
	builder  routing.Builder
	eventBus *bus.Bus
	exits    ExitSubmitter
	ws       solana.WSClient
	mentions []string
	logger   *log.Logger

	mu     sync.Mutex
	states map[string]*mintState
}

// ExitSubmitter is the narrow capability the Tracker needs from the
// Position Executor, mirroring the Sniper's own ExitSubmitter seam.
type ExitSubmitter interface {
	SubmitSignal(sig positions.ExitSignal)
}

// Option configures a Tracker at construction time.
type Option func(*Tracker)

// WithWSClient wires a program-log subscription that triggers an
// immediate re-check instead of waiting for the next ticker tick. programIDs
// lists the bonding-curve program IDs to subscribe to; the Tracker works
// without one configured, it just relies on the ticker alone.
func WithWSClient(ws solana.WSClient, programIDs []string) Option {
	return func(t *Tracker) {
		t.ws = ws
		t.mentions = programIDs
	}
}

// New builds a Tracker. manager, builder, eventBus, and exits must all be
// non-nil.
func New(manager *positions.Manager, builder routing.Builder, eventBus *bus.Bus, exits ExitSubmitter, opts ...Option) *Tracker {
	t := &Tracker{
		manager:  manager,
		builder:  builder,
		eventBus: eventBus,
		exits:    exits,
		logger:   log.New(os.Stdout, "[graduation] ", log.LstdFlags|log.Lshortfile),
		states:   make(map[string]*mintState),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Run polls curve state on a ticker, refreshing immediately whenever the
// wired WS client delivers a program-log notification, until ctx is
// canceled.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	var notifyCh <-chan solana.LogNotification
	if t.ws != nil && len(t.mentions) > 0 {
		ch, err := t.ws.SubscribeLogs(ctx, solana.LogsFilter{Mentions: t.mentions})
		if err != nil {
			t.logger.Printf("failed to subscribe to program logs, falling back to ticker-only: %v", err)
		} else {
			notifyCh = ch
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.pollAll(ctx)
		case _, ok := <-notifyCh:
			if !ok {
				notifyCh = nil
				continue
			}
			t.pollAll(ctx)
		}
	}
}

// pollAll re-derives price and graduation progress for every open
// position's mint.
func (t *Tracker) pollAll(ctx context.Context) {
	for _, p := range t.manager.GetOpenPositions() {
		t.pollOne(ctx, p)
	}
}

func (t *Tracker) pollOne(ctx context.Context, p *positions.Position) {
	state, err := t.builder.GetCurveState(ctx, p.TokenMint)
	if err != nil {
		return
	}

	symbol := p.TokenMint
	if p.Symbol != nil && *p.Symbol != "" {
		symbol = *p.Symbol
	}

	if state.IsComplete {
		t.announceGraduated(p.TokenMint, symbol)
		return
	}

	if state.VirtualTokenReserves > 0 {
		price := float64(state.VirtualSOLReserves) / float64(state.VirtualTokenReserves)
		for _, sig := range t.manager.UpdatePrice(ctx, p.TokenMint, price) {
			t.exits.SubmitSignal(sig)
		}
	}

	progress := state.GraduationProgress()
	velocity := t.recordProgress(p.TokenMint, progress)
	if progress >= ImminentThreshold {
		t.announceImminent(p.TokenMint, symbol, p.StrategyID.String(), progress, velocity)
	}
}

// recordProgress updates a mint's progress history and returns the
// velocity in percent-per-minute since the previous observation.
func (t *Tracker) recordProgress(mint string, progress float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	st, ok := t.states[mint]
	if !ok {
		t.states[mint] = &mintState{lastProgress: progress, lastCheckedAt: now}
		return 0
	}

	elapsed := now.Sub(st.lastCheckedAt).Minutes()
	var velocity float64
	if elapsed > 0 {
		velocity = (progress - st.lastProgress) / elapsed
	}
	st.lastProgress = progress
	st.lastCheckedAt = now
	return velocity
}

func (t *Tracker) announceImminent(mint, symbol, strategyID string, progress, velocity float64) {
	t.mu.Lock()
	st := t.states[mint]
	if st == nil || st.announcedImminent {
		t.mu.Unlock()
		return
	}
	st.announcedImminent = true
	t.mu.Unlock()

	t.logger.Printf("graduation imminent for %s (%.1f%%, velocity=%.2f%%/min)", symbol, progress, velocity)
	t.eventBus.Publish(bus.TopicGraduationImminent, map[string]interface{}{
		"mint":              mint,
		"symbol":            symbol,
		"strategy_id":       strategyID,
		"progress":          progress,
		"progress_velocity": velocity,
	}, "graduation-tracker")
}

func (t *Tracker) announceGraduated(mint, symbol string) {
	t.mu.Lock()
	st, ok := t.states[mint]
	if !ok {
		st = &mintState{}
		t.states[mint] = st
	}
	if st.announcedGraduated {
		t.mu.Unlock()
		return
	}
	st.announcedGraduated = true
	t.mu.Unlock()

	t.logger.Printf("graduation detected for %s", symbol)
	t.eventBus.Publish(bus.TopicGraduated, map[string]interface{}{
		"mint":   mint,
		"symbol": symbol,
	}, "graduation-tracker")
}
