package sniper

import (
	"context"
	"time"

	"solana-token-lab/internal/bus"
)

// handleGraduated is spec.md §4.J's two-branch handler: sell an existing
// position out from under the graduation, or (when enabled) chase a
// post-graduation quick-flip buy.
func (s *Sniper) handleGraduated(ctx context.Context, evt bus.Event) {
	mint := payloadString(evt.Payload, "mint")
	if mint == "" {
		return
	}
	symbol := payloadString(evt.Payload, "symbol")

	if s.tryClaimSell(mint) {
		s.logger.Printf("graduation detected for tracked position %s, racing to sell (delay=%s)", symbol, s.cfg.SellDelay)
		go s.raceInitialSell(ctx, mint)
		return
	}

	s.mu.Lock()
	_, tracked := s.states[mint]
	s.mu.Unlock()
	if tracked {
		s.logger.Printf("position %s already selling or settled, ignoring duplicate graduation event", symbol)
		return
	}

	if _, ok := s.manager.GetOpenPositionForMint(mint); ok {
		if s.tryClaimSell(mint) {
			s.logger.Printf("graduation detected for untracked open position %s, racing to sell", symbol)
			go s.raceInitialSell(ctx, mint)
		}
		return
	}

	if !s.cfg.PostGradEntryEnabled {
		return
	}
	go s.attemptPostGradBuy(ctx, mint, symbol)
}

// tryClaimSell CASes a mint's sniper state from Waiting (or absent, for a
// position the Sniper never explicitly registered) to Selling, the only
// correctness primitive guarding at-most-one-sell-in-flight per mint -
// spec.md §4.J's "verified by an in-flight set".
func (s *Sniper) tryClaimSell(mint string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, tracked := s.states[mint]
	if tracked && state != StateWaiting {
		return false
	}
	s.states[mint] = StateSelling
	if !tracked {
		s.sellAttempts[mint] = 0
	}
	s.markDurableInFlight(mint)
	return true
}

// markDurableInFlight write-throughs a claimed sell to the durable set, if
// one is wired, so a restart can see the mint was mid-sell rather than
// treating it as never claimed. Best-effort: the in-process map above is
// what actually guards the claim.
func (s *Sniper) markDurableInFlight(mint string) {
	if s.durable == nil {
		return
	}
	go func() {
		if _, err := s.durable.Add(context.Background(), mint); err != nil {
			s.logger.Printf("durable set add failed for %s: %v", mint, err)
		}
	}()
}

func (s *Sniper) raceInitialSell(ctx context.Context, mint string) {
	if err := s.sellSem.Acquire(ctx, 1); err != nil {
		return
	}
	defer s.sellSem.Release(1)

	if s.cfg.SellDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.SellDelay):
		}
	}
	s.executeSell(ctx, mint)
}
