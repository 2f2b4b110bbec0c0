// Package postgres implements journal.Store on PostgreSQL, following
// positionstore/postgres's Pool-wrapper conventions.
package postgres

import (
	"context"
	"fmt"

	"solana-token-lab/internal/journal"
	"solana-token-lab/internal/storage/postgres"
)

// Store implements journal.Store using PostgreSQL.
type Store struct {
	pool *postgres.Pool
}

// NewStore creates a new PostgreSQL-backed trade journal Store.
func NewStore(pool *postgres.Pool) *Store {
	return &Store{pool: pool}
}

var _ journal.Store = (*Store)(nil)

// RecordTrade inserts a trade record row.
func (s *Store) RecordTrade(ctx context.Context, r journal.TradeRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO trades (
			position_id, strategy_id, token_mint, exit_reason, exit_percent,
			exit_price, realized_pnl, pnl_source, gas_lamports, tx_signature, closed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		r.PositionID, r.StrategyID, r.TokenMint, r.ExitReason, r.ExitPercent,
		r.ExitPrice, r.RealizedPnL, r.PnLSource, int64(r.GasLamports), r.TxSignature, r.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("record trade: %w", err)
	}
	return nil
}
