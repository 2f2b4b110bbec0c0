package sniper

import (
	"context"

	"solana-token-lab/internal/bus"
	"solana-token-lab/internal/observability"
)

// handleGraduationImminent runs spec.md §4.J's pre-graduation filter and
// confidence table, then dispatches to the strategy matcher collaborator.
func (s *Sniper) handleGraduationImminent(ctx context.Context, evt bus.Event) {
	mint := payloadString(evt.Payload, "mint")
	if mint == "" {
		return
	}
	symbol := payloadString(evt.Payload, "symbol")
	progress := payloadFloat(evt.Payload, "progress")
	velocity := payloadFloat(evt.Payload, "progress_velocity")
	strategyID := payloadString(evt.Payload, "strategy_id")

	if velocity < s.cfg.MinEntryVelocity {
		s.logger.Printf("skipping %s (%.1f%%) - velocity %.2f%%/min below threshold %.2f%%/min",
			symbol, progress, velocity, s.cfg.MinEntryVelocity)
		return
	}

	if s.manager.HasOpenPositionForMint(mint) {
		s.logger.Printf("already have a position for %s, skipping graduation-imminent signal", symbol)
		return
	}

	confidence, profitBps := classifyEntry(progress, velocity)
	sig := EntrySignal{
		TokenMint:    mint,
		Symbol:       symbol,
		StrategyID:   strategyID,
		Progress:     progress,
		Velocity:     velocity,
		Confidence:   confidence,
		EstProfitBps: profitBps,
	}

	if s.matcher == nil {
		s.logger.Printf("no strategy matcher configured, dropping graduation-imminent signal for %s", symbol)
		return
	}

	s.logger.Printf("graduation imminent for %s (%.1f%%, velocity=%.2f%%/min) - dispatching signal (confidence=%.2f, est_profit_bps=%d)",
		symbol, progress, velocity, confidence, profitBps)
	observability.RecordSniperSignalDispatched()
	if approved := s.matcher.MatchSignal(ctx, sig); approved {
		s.logger.Printf("signal for %s matched a strategy - edge created for autonomous execution", symbol)
	} else {
		s.logger.Printf("signal for %s rejected by every strategy", symbol)
	}
}
