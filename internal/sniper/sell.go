package sniper

import (
	"context"
	"time"

	"solana-token-lab/internal/bus"
	"solana-token-lab/internal/executor"
	"solana-token-lab/internal/observability"
	"solana-token-lab/internal/positions"
)

// executeSell submits an exit command for the position tracked under mint
// through the Executor's own sell pipeline (curve -> Raydium -> aggregator,
// sign, submit, finalize). The outcome arrives later on the bus as
// position.exit_completed or position.exit_failed.
func (s *Sniper) executeSell(ctx context.Context, mint string) {
	pos, ok := s.manager.GetOpenPositionForMint(mint)
	if !ok {
		s.logger.Printf("position for %s vanished before sell could be submitted", mint)
		s.markFailed(mint)
		return
	}

	exitPercent := exitPercentForMomentum(nil)

	cmd := executor.ExitCommand{
		PositionID:   pos.ID,
		Reason:       positions.ExitReasonGraduationSnipe,
		ExitPercent:  exitPercent,
		CurrentPrice: pos.CurrentPrice,
		Urgency:      positions.UrgencyCritical,
		QueuedAt:     time.Now(),
	}
	s.logger.Printf("submitting graduation sell for %s | %.0f%% of position %s", mint, exitPercent, pos.ID)
	s.exits.Submit(cmd)
}

func (s *Sniper) markFailed(mint string) {
	s.mu.Lock()
	s.states[mint] = StateFailed
	delete(s.sellAttempts, mint)
	s.mu.Unlock()
	s.clearDurableInFlight(mint)
}

func (s *Sniper) markSold(mint string) {
	s.mu.Lock()
	s.states[mint] = StateSold
	delete(s.sellAttempts, mint)
	s.mu.Unlock()
	s.clearDurableInFlight(mint)
}

// clearDurableInFlight releases a mint's durable-set claim, if one is
// wired. Best-effort: a stale entry just expires via the set's TTL.
func (s *Sniper) clearDurableInFlight(mint string) {
	if s.durable == nil {
		return
	}
	go func() {
		if err := s.durable.Remove(context.Background(), mint); err != nil {
			s.logger.Printf("durable set remove failed for %s: %v", mint, err)
		}
	}()
}

// handleExitDone reacts to the Executor's completion event for any mint
// the Sniper is currently racing to sell.
func (s *Sniper) handleExitDone(evt bus.Event) {
	mint := payloadString(evt.Payload, "token_mint")
	if mint == "" || !s.isSelling(mint) {
		return
	}

	s.markSold(mint)
	observability.RecordSniperSellOutcome(true)
	s.eventBus.Publish(bus.TopicSnipeSold, map[string]interface{}{
		"mint":         mint,
		"exit_percent": payloadFloat(evt.Payload, "exit_percent"),
		"realized_pnl": payloadFloat(evt.Payload, "realized_pnl"),
		"reason":       payloadString(evt.Payload, "reason"),
		"signature":    payloadString(evt.Payload, "signature"),
	}, "sniper")
}

// handleExitFailed reschedules a retry with exponential backoff, per
// spec.md §4.J, unless the mint's sniper-level retry budget is exhausted.
func (s *Sniper) handleExitFailed(ctx context.Context, evt bus.Event) {
	mint := payloadString(evt.Payload, "token_mint")
	if mint == "" || !s.isSelling(mint) {
		return
	}
	errMsg := payloadString(evt.Payload, "error")

	s.mu.Lock()
	attempt := s.sellAttempts[mint] + 1
	s.sellAttempts[mint] = attempt
	maxRetries := s.cfg.MaxSellRetries
	if attempt >= maxRetries {
		s.mu.Unlock()
		s.markFailed(mint)
		observability.RecordSniperSellOutcome(false)
		s.eventBus.Publish(bus.TopicSnipeFailed, map[string]interface{}{
			"mint":  mint,
			"error": errMsg,
		}, "sniper")
		return
	}
	s.states[mint] = StateWaiting
	s.mu.Unlock()

	backoff := backoffForAttempt(attempt)
	observability.RecordExitRetry("graduation_snipe")
	s.logger.Printf("will retry sell for %s in %s (attempt %d/%d): %s", mint, backoff, attempt, maxRetries, errMsg)
	s.eventBus.Publish(bus.TopicSellRetryScheduled, map[string]interface{}{
		"mint":        mint,
		"attempt":     attempt,
		"max_retries": maxRetries,
		"backoff_ms":  backoff.Milliseconds(),
		"error":       errMsg,
	}, "sniper")
}

// handleSellRetryScheduled performs the actual backoff sleep and, if the
// mint is still Waiting, re-claims it and resubmits.
func (s *Sniper) handleSellRetryScheduled(ctx context.Context, evt bus.Event) {
	mint := payloadString(evt.Payload, "mint")
	if mint == "" {
		return
	}
	backoff := time.Duration(payloadFloat(evt.Payload, "backoff_ms")) * time.Millisecond

	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if !s.tryClaimSell(mint) {
			return
		}
		if err := s.sellSem.Acquire(ctx, 1); err != nil {
			return
		}
		defer s.sellSem.Release(1)
		s.executeSell(ctx, mint)
	}()
}

func (s *Sniper) isSelling(mint string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[mint] == StateSelling
}

// backoffForAttempt is spec.md §4.J's retry backoff: 1000ms * 2^min(attempt, 4).
func backoffForAttempt(attempt int) time.Duration {
	shift := attempt
	if shift > 4 {
		shift = 4
	}
	return time.Duration(1000*(1<<uint(shift))) * time.Millisecond
}
