package solwallet

import (
	"context"
	"fmt"

	"solana-token-lab/internal/solana"
)

// LamportsPerSOL is the fixed exchange rate between lamports and SOL.
const LamportsPerSOL = 1_000_000_000

// BalanceLamports fetches a wallet's SOL balance in lamports via
// getAccountInfo, matching how internal/ingestion already reads account
// state through the shared RPC client.
func BalanceLamports(ctx context.Context, rpc *solana.HTTPClient, pubkey string) (uint64, error) {
	info, err := rpc.GetAccountInfo(ctx, pubkey)
	if err != nil {
		return 0, fmt.Errorf("get account info for %s: %w", pubkey, err)
	}
	if info == nil {
		return 0, nil
	}
	return info.Lamports, nil
}

// BalanceSOL fetches a wallet's SOL balance as a floating-point SOL amount.
func BalanceSOL(ctx context.Context, rpc *solana.HTTPClient, pubkey string) (float64, error) {
	lamports, err := BalanceLamports(ctx, rpc, pubkey)
	if err != nil {
		return 0, err
	}
	return float64(lamports) / LamportsPerSOL, nil
}

// TokenBalance fetches a wallet's raw token amount for mint via
// getTokenAccountsByOwner. Returns 0 if the wallet holds no account for
// mint, which is the expected state after a position is fully sold.
func TokenBalance(ctx context.Context, rpc *solana.HTTPClient, owner, mint string) (uint64, error) {
	amount, err := rpc.GetTokenAccountBalance(ctx, owner, mint)
	if err != nil {
		return 0, fmt.Errorf("get token account balance for %s/%s: %w", owner, mint, err)
	}
	return amount, nil
}
