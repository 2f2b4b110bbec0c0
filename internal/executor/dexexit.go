package executor

import (
	"context"
	"fmt"

	"solana-token-lab/internal/positions"
	"solana-token-lab/internal/routing"
	"solana-token-lab/internal/signing"
)

// dustValueSOL converts a fractional token amount to a rough SOL value
// using the position's own entry price, to decide whether an exit is worth
// the cost of a transaction at all.
func dustValueSOL(position *positions.Position, tokenAmount float64) float64 {
	if position.EntryTokenAmount <= 0 || position.EntryAmountBase <= 0 {
		return tokenAmount * position.CurrentPrice
	}
	pricePerToken := position.EntryAmountBase / position.EntryTokenAmount
	return tokenAmount * pricePerToken
}

// executeDEXExit runs the post-graduation sell path: Raydium pool first,
// falling back to the generic DEX aggregator, per spec.md §4.C's fallback
// chain. tokenAmountOverride, when nonzero, is the curve-sell ladder's
// already-computed token amount (graduated mid-ladder); zero means compute
// it fresh from the position's remaining balance and the command's percent.
func (e *Executor) executeDEXExit(ctx context.Context, position *positions.Position, cmd ExitCommand, wallet string, signer signing.Signer, slippage int, tokenAmountOverride float64) error {
	tokenAmount := tokenAmountOverride
	if tokenAmount <= 0 {
		tokenAmount = position.RemainingTokenAmount * (cmd.ExitPercent / 100.0)
		if tokenAmount > position.RemainingTokenAmount {
			tokenAmount = position.RemainingTokenAmount
		}
	}

	if dustValueSOL(position, tokenAmount) < e.cfg.DustTokenValueSOL {
		return e.writeOffDust(ctx, position, cmd, wallet)
	}

	result, buildErr := e.builder.BuildRaydiumSell(ctx, position.TokenMint, tokenAmount, slippage, wallet)
	if buildErr != nil {
		e.logger.Printf("Raydium build failed for %s, falling back to aggregator: %v", position.TokenMint, buildErr)
		result, buildErr = e.builder.BuildPostGraduationSell(ctx, position.TokenMint, tokenAmount, slippage, wallet, e.cfg.AggregatorURL)
	}
	if buildErr != nil {
		return e.failExit(ctx, position, cmd, fmt.Errorf("DEX sell build failed (%s): %w", routing.Classify(buildErr), buildErr))
	}

	return e.signSubmitAndFinalize(ctx, position, cmd, wallet, signer, result)
}

// writeOffDust closes a position without submitting a transaction: its
// remaining balance is worth less than the cost of selling it.
func (e *Executor) writeOffDust(ctx context.Context, position *positions.Position, cmd ExitCommand, wallet string) error {
	e.logger.Printf("writing off dust balance for position %s (%s): below %.6f SOL threshold", position.ID, position.TokenMint, e.cfg.DustTokenValueSOL)

	if _, err := e.manager.ClosePosition(ctx, position.ID, position.CurrentPrice, 0, positions.ExitReasonDustBalance, nil); err != nil {
		return err
	}
	if e.capitalMgr != nil {
		if err := e.capitalMgr.Release(ctx, position.ID); err != nil {
			e.logger.Printf("failed to release capital for dust position %s: %v", position.ID, err)
		}
	}
	e.emitExitCompleted(position, 100, 0, nil, positions.ExitReasonDustBalance)
	e.writeJournal(ctx, position, positions.ExitReasonDustBalance, 100, 0, "estimated", 0, "")
	return nil
}
