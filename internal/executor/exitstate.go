package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"solana-token-lab/internal/positions"
	"solana-token-lab/internal/routing"
	"solana-token-lab/internal/settlement"
	"solana-token-lab/internal/signing"
	"solana-token-lab/internal/solwallet"
)

// executeExit runs the full exit state machine for one command, per
// spec.md §4.H.
func (e *Executor) executeExit(ctx context.Context, cmd ExitCommand) error {
	position, ok := e.manager.GetPosition(cmd.PositionID)
	if !ok {
		e.logger.Printf("position %s no longer exists, dropping exit command", cmd.PositionID)
		return nil
	}

	switch position.Status {
	case positions.StatusOpen, positions.StatusPartiallyExited:
		transitioned, err := e.manager.TransitionStatus(ctx, position.ID, position.Status, positions.StatusPendingExit)
		if err != nil {
			return err
		}
		if !transitioned {
			e.logger.Printf("position %s status CAS failed, another exit already in flight", position.ID)
			return nil
		}
	case positions.StatusPendingExit:
		// Reentry: a previous attempt left this pending, proceed.
	case positions.StatusClosed, positions.StatusFailed, positions.StatusOrphaned:
		return nil
	}

	signer, ok := e.signerFor(position.StrategyID)
	if !ok {
		e.logger.Printf("no signer configured for position %s (strategy %s), cannot exit", position.ID, position.StrategyID)
		if err := e.manager.ResetPositionStatus(position.ID); err != nil {
			e.logger.Printf("failed to reset position %s after missing signer: %v", position.ID, err)
		}
		return errNoSignerForStrategy
	}
	wallet := signer.WalletAddress()

	deadToken := cmd.Reason == positions.ExitReasonSalvage ||
		(position.ExitConfig.CustomExitInstructions != nil && strings.Contains(*position.ExitConfig.CustomExitInstructions, "DEAD TOKEN"))
	slippage := adaptiveSlippageBps(position.UnrealizedPnLPercent, cmd.Urgency, deadToken)

	e.logger.Printf("processing %s exit for %s | %.1f%% @ %.10f | slippage %d bps",
		cmd.Reason, position.TokenMint, cmd.ExitPercent, cmd.currentPriceOr(position), slippage)

	curveState, curveErr := e.builder.GetCurveState(ctx, position.TokenMint)
	if curveErr == nil && !curveState.IsComplete {
		return e.executeCurveExit(ctx, position, cmd, wallet, signer, slippage)
	}
	return e.executeDEXExit(ctx, position, cmd, wallet, signer, slippage, 0)
}

// currentPriceOr returns the command's current price, falling back to the
// position's last observed price for a priority-queue reentry that did not
// originate from a fresh price tick.
func (c ExitCommand) currentPriceOr(p *positions.Position) float64 {
	if c.CurrentPrice > 0 {
		return c.CurrentPrice
	}
	return p.CurrentPrice
}

// executeCurveExit runs the bonding-curve sell path with its own retry
// ladder: a zero-on-chain-balance shortcut (sold or transferred outside
// this process), emergency slippage after the first failure, and a
// mid-ladder switch to the DEX path on a graduated error.
func (e *Executor) executeCurveExit(ctx context.Context, position *positions.Position, cmd ExitCommand, wallet string, signer signing.Signer, initialSlippage int) error {
	actualBalance, err := solwallet.TokenBalance(ctx, e.rpc, wallet, position.TokenMint)
	if err != nil {
		e.logger.Printf("failed to read on-chain balance for %s, assuming nonzero: %v", position.TokenMint, err)
		actualBalance = 1
	}
	if actualBalance == 0 {
		return e.closeAlreadySold(ctx, position, wallet)
	}

	tokenAmount := float64(actualBalance) * (cmd.ExitPercent / 100.0)
	if tokenAmount > float64(actualBalance) {
		tokenAmount = float64(actualBalance)
	}

	slippage := initialSlippage
	usedEmergency := false
	var lastErr error

	for attempt := 0; attempt <= e.cfg.MaxExitRetries; attempt++ {
		if attempt > 0 {
			if !usedEmergency {
				slippage = emergencySlippageBps
				usedEmergency = true
				e.logger.Printf("emergency slippage: jumping to %d bps after failure (was %d)", slippage, initialSlippage)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(slippageRetrySleep):
			}
		}

		result, buildErr := e.builder.BuildCurveSell(ctx, position.TokenMint, tokenAmount, slippage, wallet)
		if buildErr == nil {
			return e.signSubmitAndFinalize(ctx, position, cmd, wallet, signer, result)
		}

		lastErr = buildErr
		if routing.Classify(buildErr) == routing.ClassGraduated {
			e.logger.Printf("token %s graduated mid-exit, switching to DEX path", position.TokenMint)
			return e.executeDEXExit(ctx, position, cmd, wallet, signer, slippage, tokenAmount)
		}
		// Slippage errors and every other non-graduated failure retry up to
		// the cap; only the sleep cadence differs and that is already
		// applied uniformly above.
	}

	return e.failExit(ctx, position, cmd, fmt.Errorf("curve sell exhausted %d retries: %w", e.cfg.MaxExitRetries, lastErr))
}

// closeAlreadySold handles the case where the position's tokens are already
// gone on-chain: resolve whatever P&L can be inferred and close with a
// synthetic signature, skipping build/sign/submit entirely.
func (e *Executor) closeAlreadySold(ctx context.Context, position *positions.Position, wallet string) error {
	effectiveBase := position.RemainingAmountBase
	if effectiveBase <= 0 {
		effectiveBase = position.EntryAmountBase
	}

	settled, err := e.resolver.Resolve(ctx, nil, wallet, 0)
	realizedPnL := 0.0
	source := settlement.SourceEstimated
	if err == nil {
		source = settled.Source
		if settled.Source != settlement.SourceEstimated {
			realizedPnL = settled.SOLDelta - effectiveBase
		}
	}

	sig := fmt.Sprintf("INFERRED_CLOSE_%s_%d", shortMint(position.TokenMint), time.Now().Unix())
	reason := positions.ExitReason(fmt.Sprintf("%s(%s)", positions.ExitReasonAlreadySold, source))

	if _, err := e.manager.ClosePosition(ctx, position.ID, position.CurrentPrice, realizedPnL, reason, &sig); err != nil {
		return err
	}
	if e.capitalMgr != nil {
		if err := e.capitalMgr.Release(ctx, position.ID); err != nil {
			e.logger.Printf("failed to release capital for already-sold position %s: %v", position.ID, err)
		}
	}
	e.emitExitCompleted(position, 100, realizedPnL, &sig, reason)
	e.writeJournal(ctx, position, reason, 100, realizedPnL, string(source), 0, sig)
	return nil
}

func shortMint(mint string) string {
	if len(mint) < 8 {
		return mint
	}
	return mint[:8]
}
