// Package clickhouse implements journal.AnalyticsSink: an append-only
// trade ledger export consumed by reporting/momentum-history analysis,
// following internal/storage/clickhouse's Conn-wrapper conventions.
package clickhouse

import (
	"context"
	"fmt"

	"solana-token-lab/internal/journal"
	"solana-token-lab/internal/storage/clickhouse"
)

// Sink implements journal.AnalyticsSink using ClickHouse.
type Sink struct {
	conn *clickhouse.Conn
}

// NewSink creates a new ClickHouse-backed analytics sink.
func NewSink(conn *clickhouse.Conn) *Sink {
	return &Sink{conn: conn}
}

var _ journal.AnalyticsSink = (*Sink)(nil)

// RecordTrade appends a row to the trade_ledger table. Exports are
// append-only; the relational store, not ClickHouse, is the system of
// record for a position's current state.
func (s *Sink) RecordTrade(ctx context.Context, r journal.TradeRecord) error {
	err := s.conn.Exec(ctx, `
		INSERT INTO trade_ledger (
			position_id, strategy_id, token_mint, exit_reason, exit_percent,
			exit_price, realized_pnl, pnl_source, gas_lamports, tx_signature, closed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.PositionID.String(), r.StrategyID.String(), r.TokenMint, r.ExitReason, r.ExitPercent,
		r.ExitPrice, r.RealizedPnL, r.PnLSource, r.GasLamports, r.TxSignature, r.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("insert trade ledger row: %w", err)
	}
	return nil
}
