package executor

import (
	"context"
	"time"

	"solana-token-lab/internal/bus"
	"solana-token-lab/internal/errs"
	"solana-token-lab/internal/journal"
	"solana-token-lab/internal/observability"
	"solana-token-lab/internal/positions"
	"solana-token-lab/internal/settlement"
)

// finalizeExit reconciles settlement against the build's estimate, closes
// or partially closes the position, releases capital, publishes the
// completion event, and writes the durable journal.
func (e *Executor) finalizeExit(ctx context.Context, position *positions.Position, cmd ExitCommand, wallet, signature string, estimatedSOLDelta float64) error {
	var sigPtr *string
	if signature != "" {
		sigPtr = &signature
	}

	settled, err := e.resolver.Resolve(ctx, sigPtr, wallet, estimatedSOLDelta)
	source := settlement.SourceEstimated
	realized := estimatedSOLDelta
	var gasLamports uint64
	if err == nil {
		source = settled.Source
		realized = settlement.Correct(estimatedSOLDelta, settled)
		gasLamports = settled.GasLamports
		if settlement.Disagrees(estimatedSOLDelta, realized) {
			e.logger.Printf("settlement disagreement for position %s: estimated %.6f vs resolved %.6f (%s)",
				position.ID, estimatedSOLDelta, realized, source)
		}
	}

	exitPercent := cmd.ExitPercent
	if exitPercent <= 0 {
		exitPercent = 100
	}

	if exitPercent >= 100 {
		if _, err := e.manager.ClosePosition(ctx, position.ID, position.CurrentPrice, realized, cmd.Reason, sigPtr); err != nil {
			return err
		}
		if e.capitalMgr != nil {
			if err := e.capitalMgr.Release(ctx, position.ID); err != nil {
				e.logger.Printf("failed to release capital for position %s: %v", position.ID, err)
			}
		}
	} else {
		if _, err := e.manager.RecordPartialExit(ctx, position.ID, exitPercent, position.CurrentPrice, realized, sigPtr, string(cmd.Reason)); err != nil {
			return err
		}
		if e.capitalMgr != nil {
			if _, err := e.capitalMgr.ReleasePartial(ctx, position.ID, exitPercent); err != nil {
				e.logger.Printf("failed to release partial capital for position %s: %v", position.ID, err)
			}
		}
	}

	e.emitExitCompleted(position, exitPercent, realized, sigPtr, cmd.Reason)
	e.writeJournal(ctx, position, cmd.Reason, exitPercent, realized, string(source), gasLamports, signature)
	e.recordRateLimited(false)

	latency := time.Since(cmd.QueuedAt).Seconds()
	if latency < 0 {
		latency = 0
	}
	observability.RecordExitLanded(string(cmd.Reason), latency)
	return nil
}

// failExit is the common failure path: emit exit_failed, return the
// position from PendingExit to Open (a partially exited position also comes
// back as Open), and queue a priority retry so the next dispatch cycle picks
// it up ahead of ordinary signals.
func (e *Executor) failExit(ctx context.Context, position *positions.Position, cmd ExitCommand, cause error) error {
	e.logger.Printf("exit failed for position %s: %v", position.ID, cause)
	if errs.Is(cause, errs.KindRateLimited) {
		e.recordRateLimited(true)
	}

	e.bus.Publish(bus.TopicPositionExitFailed, map[string]interface{}{
		"position_id": position.ID.String(),
		"token_mint":  position.TokenMint,
		"reason":      string(cmd.Reason),
		"error":       cause.Error(),
	}, "executor")

	if err := e.manager.ResetPositionStatus(position.ID); err != nil {
		e.logger.Printf("failed to reset position %s after exit failure: %v", position.ID, err)
	}
	e.manager.QueuePriorityExit(position.ID)
	return cause
}

func (e *Executor) emitExitCompleted(position *positions.Position, exitPercent, realizedPnL float64, signature *string, reason positions.ExitReason) {
	payload := map[string]interface{}{
		"position_id":  position.ID.String(),
		"token_mint":   position.TokenMint,
		"exit_percent": exitPercent,
		"realized_pnl": realizedPnL,
		"reason":       string(reason),
	}
	if signature != nil {
		payload["signature"] = *signature
	}
	e.bus.Publish(bus.TopicPositionExitDone, payload, "executor")
}

func (e *Executor) writeJournal(ctx context.Context, position *positions.Position, reason positions.ExitReason, exitPercent, realizedPnL float64, pnlSource string, gasLamports uint64, signature string) {
	rec := journal.TradeRecord{
		PositionID:  position.ID,
		StrategyID:  position.StrategyID,
		TokenMint:   position.TokenMint,
		ExitReason:  string(reason),
		ExitPercent: exitPercent,
		ExitPrice:   position.CurrentPrice,
		RealizedPnL: realizedPnL,
		PnLSource:   pnlSource,
		GasLamports: gasLamports,
		TxSignature: signature,
		ClosedAt:    time.Now(),
	}
	if err := e.journal.Record(ctx, rec); err != nil {
		e.logger.Printf("journal write failed for position %s: %v", position.ID, err)
	}
}
