package executor

import (
	"context"
	"fmt"
	"time"

	"solana-token-lab/internal/errs"
	"solana-token-lab/internal/positions"
	"solana-token-lab/internal/routing"
	"solana-token-lab/internal/signing"
	"solana-token-lab/internal/solwallet"
	"solana-token-lab/internal/submission"
)

const dustBalanceRawUnits = 1000

// signSubmitAndFinalize is the pipeline shared by the curve and DEX sell
// paths once a route has been built: sign, submit (bundle-with-tip first,
// direct send-and-confirm as fallback), and reconcile settlement.
func (e *Executor) signSubmitAndFinalize(ctx context.Context, position *positions.Position, cmd ExitCommand, wallet string, signer signing.Signer, built routing.BuildResult) error {
	req := signing.Request{
		UnsignedTxB64:      built.TxB64,
		EstimatedAmountSOL: built.ExpectedOut,
		EdgeID:             &position.EdgeID,
		Description:        fmt.Sprintf("%s exit of %s", built.Label, position.TokenMint),
	}

	result, err := signer.Sign(ctx, req)
	if err != nil {
		return e.failExit(ctx, position, cmd, errs.Wrap(errs.KindSubmission, "sign request transport failure", err))
	}
	if !result.Success {
		msg := result.PolicyViolation
		if msg == "" {
			msg = result.Err
		}
		e.logger.Printf("signing refused for position %s: %s", position.ID, msg)
		// A policy refusal is never retried (spec.md §4.D): the position is
		// left pending_exit for manual intervention or the next reentry,
		// not reset or requeued.
		return errs.New(errs.KindSigningRefusal, msg)
	}

	signature := result.Signature
	landed := e.trySubmitBundle(ctx, result.SignedTxB64)

	if !landed {
		sig, sendErr := e.submitter.SendAndConfirm(ctx, result.SignedTxB64, e.cfg.ConfirmTimeout)
		switch {
		case sendErr == nil:
			signature = sig
		case errs.Is(sendErr, errs.KindConfirmTimeout):
			return e.handleConfirmTimeout(ctx, position, cmd, wallet, built)
		default:
			return e.failExit(ctx, position, cmd, fmt.Errorf("direct send failed: %w", sendErr))
		}
	}

	return e.finalizeExit(ctx, position, cmd, wallet, signature, built.ExpectedOut)
}

// trySubmitBundle attempts the bundle-with-tip fast path, reporting whether
// the bundle actually landed. Any failure (submit or wait) falls through to
// the direct send-and-confirm fallback in the caller.
func (e *Executor) trySubmitBundle(ctx context.Context, signedTxB64 string) bool {
	bundleID, err := e.submitter.SendBundle(ctx, []string{signedTxB64}, e.cfg.BundleTipLamports)
	if err != nil {
		return false
	}
	state, err := e.submitter.WaitForBundle(ctx, bundleID, e.cfg.BundleWaitTimeout)
	return err == nil && state == submission.BundleLanded
}

// handleConfirmTimeout runs the post-timeout balance-verification branch:
// the wallet's token balance is checked twice, zeroBalanceRecheckDelay
// apart; if it reads below dustBalanceRawUnits both times the exit is
// inferred successful with a synthetic signature, otherwise it is a real
// failure (still-held or inconsistent balance).
func (e *Executor) handleConfirmTimeout(ctx context.Context, position *positions.Position, cmd ExitCommand, wallet string, built routing.BuildResult) error {
	first, err := solwallet.TokenBalance(ctx, e.rpc, wallet, position.TokenMint)
	if err != nil {
		return e.failExit(ctx, position, cmd, fmt.Errorf("confirm timeout and balance read failed: %w", err))
	}
	if first >= dustBalanceRawUnits {
		return e.failExit(ctx, position, cmd, fmt.Errorf("confirm timeout and balance still held (%d raw units)", first))
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(zeroBalanceRecheckDelay):
	}

	second, err := solwallet.TokenBalance(ctx, e.rpc, wallet, position.TokenMint)
	if err != nil || second >= dustBalanceRawUnits {
		return e.failExit(ctx, position, cmd, fmt.Errorf("balance inconsistent after confirm timeout (first=%d second=%d err=%v)", first, second, err))
	}

	sig := fmt.Sprintf("INFERRED_EXIT_%s_%d_balance_zero", shortPositionID(position.ID.String()), time.Now().Unix())
	return e.finalizeExit(ctx, position, cmd, wallet, sig, built.ExpectedOut)
}

func shortPositionID(id string) string {
	if len(id) < 8 {
		return id
	}
	return id[:8]
}
