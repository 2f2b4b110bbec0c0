// Package settlement resolves the true on-chain P&L of an exit (or
// post-graduation buy) after submission, correcting the Executor's
// pre-computed estimate when the chain disagrees with it.
package settlement

import (
	"context"
	"fmt"
	"log"
	"os"

	"solana-token-lab/internal/solana"
)

// Source identifies where a settlement's numbers came from.
type Source string

const (
	// SourceOnchain means the numbers came from the actual transaction.
	SourceOnchain Source = "onchain"
	// SourceInferredOnchain means no signature was available, but a recent
	// signature touching the wallet was found and attributed.
	SourceInferredOnchain Source = "inferred-onchain"
	// SourceEstimated means resolution failed; the caller's own estimate
	// is returned unchanged.
	SourceEstimated Source = "estimated"
)

// Settlement is the resolved outcome of a trade.
type Settlement struct {
	Source      Source
	GasLamports uint64
	SOLDelta    float64 // positive = wallet received SOL, negative = spent
}

const lamportsPerSOL = 1_000_000_000.0

// DisagreementThresholdSOL is the minimum gap between an estimated P&L and
// a resolved one before the Executor logs a correction (spec.md §4.B).
const DisagreementThresholdSOL = 0.0001

// Resolver resolves settlements by inspecting chain state through a
// Solana RPC client.
type Resolver struct {
	rpc    *solana.HTTPClient
	logger *log.Logger
}

// NewResolver builds a Resolver over the given RPC client.
func NewResolver(rpc *solana.HTTPClient) *Resolver {
	return &Resolver{
		rpc:    rpc,
		logger: log.New(os.Stdout, "[settlement] ", log.LstdFlags|log.Lshortfile),
	}
}

// Resolve determines the settlement for a trade. When signature is non-nil,
// it fetches the transaction and sums the wallet's balance delta. When
// signature is nil, it inspects the wallet's most recent signatures and
// attributes the delta from the latest successful one. If neither succeeds,
// it falls back to the caller's estimate.
func (r *Resolver) Resolve(ctx context.Context, signature *string, wallet string, estimatedSOLDelta float64) (Settlement, error) {
	if signature != nil && *signature != "" {
		settlement, err := r.resolveOnchain(ctx, *signature, wallet)
		if err == nil {
			return settlement, nil
		}
		r.logger.Printf("onchain resolution failed for %s: %v, falling back to inferred", *signature, err)
	}

	settlement, err := r.resolveInferred(ctx, wallet)
	if err == nil {
		return settlement, nil
	}
	r.logger.Printf("inferred-onchain resolution failed for wallet %s: %v, using estimate", wallet, err)

	return Settlement{Source: SourceEstimated, SOLDelta: estimatedSOLDelta}, nil
}

func (r *Resolver) resolveOnchain(ctx context.Context, signature, wallet string) (Settlement, error) {
	tx, err := r.rpc.GetTransaction(ctx, signature)
	if err != nil {
		return Settlement{}, fmt.Errorf("get transaction %s: %w", signature, err)
	}
	if tx == nil || tx.Meta == nil || tx.Message == nil {
		return Settlement{}, fmt.Errorf("transaction %s not found or missing metadata", signature)
	}
	return settlementFromMeta(tx.Message.AccountKeys, tx.Meta, wallet, SourceOnchain)
}

// resolveInferred walks the wallet's recent signatures and attributes the
// SOL delta from the latest one that did not error, per spec.md §4.B's
// "inspect recent signatures for wallet ... attribute the SOL delta".
func (r *Resolver) resolveInferred(ctx context.Context, wallet string) (Settlement, error) {
	sigs, err := r.rpc.GetSignaturesForAddress(ctx, wallet, &solana.SignaturesOpts{Limit: 10})
	if err != nil {
		return Settlement{}, fmt.Errorf("get signatures for %s: %w", wallet, err)
	}

	for _, info := range sigs {
		if info.Err != nil {
			continue
		}
		tx, err := r.rpc.GetTransaction(ctx, info.Signature)
		if err != nil || tx == nil || tx.Meta == nil || tx.Message == nil {
			continue
		}
		settlement, err := settlementFromMeta(tx.Message.AccountKeys, tx.Meta, wallet, SourceInferredOnchain)
		if err == nil {
			return settlement, nil
		}
	}
	return Settlement{}, fmt.Errorf("no recent signature for %s attributed a balance delta", wallet)
}

func settlementFromMeta(accountKeys []string, meta *solana.TransactionMeta, wallet string, source Source) (Settlement, error) {
	idx := -1
	for i, key := range accountKeys {
		if key == wallet {
			idx = i
			break
		}
	}
	if idx < 0 || idx >= len(meta.PreBalances) || idx >= len(meta.PostBalances) {
		return Settlement{}, fmt.Errorf("wallet %s not found in transaction account keys", wallet)
	}

	deltaLamports := int64(meta.PostBalances[idx]) - int64(meta.PreBalances[idx])
	gas := uint64(0)
	if idx == 0 {
		// The fee payer is conventionally account 0; its balance delta
		// already nets out the fee, so report it separately for the
		// journal without double-subtracting it from SOLDelta.
		gas = meta.Fee
	}

	return Settlement{
		Source:      source,
		GasLamports: gas,
		SOLDelta:    float64(deltaLamports) / lamportsPerSOL,
	}, nil
}

// Disagrees reports whether estimated and resolved P&L (in SOL) differ by
// more than the correction threshold.
func Disagrees(estimated, resolved float64) bool {
	diff := estimated - resolved
	if diff < 0 {
		diff = -diff
	}
	return diff > DisagreementThresholdSOL
}

// Correct applies the P&L correction policy: when resolution produced an
// onchain-grounded source, it overrides the estimate; disagreement is
// logged by the caller via Disagrees.
func Correct(estimated float64, resolved Settlement) float64 {
	if resolved.Source == SourceEstimated {
		return estimated
	}
	return resolved.SOLDelta
}
