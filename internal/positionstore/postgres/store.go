// Package postgres implements the durable Position Store on PostgreSQL,
// following internal/storage/postgres's Pool-wrapper and scan-helper
// conventions.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"solana-token-lab/internal/positions"
	"solana-token-lab/internal/positionstore"
	"solana-token-lab/internal/storage/postgres"
)

const pgErrUniqueViolation = "23505"

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgErrUniqueViolation
	}
	return false
}

func isNotFoundError(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// Store implements positionstore.Store using PostgreSQL.
type Store struct {
	pool *postgres.Pool
}

// NewStore creates a new PostgreSQL-backed Store.
func NewStore(pool *postgres.Pool) *Store {
	return &Store{pool: pool}
}

var _ positionstore.Store = (*Store)(nil)

// Save upserts a position row, re-encoding the nested exit config, momentum
// state, and partial exit ladder as JSONB.
func (s *Store) Save(ctx context.Context, p *positions.Position) error {
	exitConfig, err := json.Marshal(p.ExitConfig)
	if err != nil {
		return fmt.Errorf("marshal exit config: %w", err)
	}
	momentum, err := json.Marshal(p.Momentum)
	if err != nil {
		return fmt.Errorf("marshal momentum: %w", err)
	}
	partials, err := json.Marshal(p.PartialExits)
	if err != nil {
		return fmt.Errorf("marshal partial exits: %w", err)
	}

	query := `
		INSERT INTO positions (
			id, edge_id, strategy_id, token_mint, symbol,
			entry_amount_base, entry_token_amount, entry_price, entry_time, entry_tx_signature,
			current_price, current_value_base, unrealized_pnl, unrealized_pnl_percent, high_water_mark,
			exit_config, partial_exits, status, momentum,
			remaining_amount_base, remaining_token_amount
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15,
			$16, $17, $18, $19,
			$20, $21
		)
		ON CONFLICT (id) DO UPDATE SET
			symbol = EXCLUDED.symbol,
			current_price = EXCLUDED.current_price,
			current_value_base = EXCLUDED.current_value_base,
			unrealized_pnl = EXCLUDED.unrealized_pnl,
			unrealized_pnl_percent = EXCLUDED.unrealized_pnl_percent,
			high_water_mark = EXCLUDED.high_water_mark,
			exit_config = EXCLUDED.exit_config,
			partial_exits = EXCLUDED.partial_exits,
			status = EXCLUDED.status,
			momentum = EXCLUDED.momentum,
			remaining_amount_base = EXCLUDED.remaining_amount_base,
			remaining_token_amount = EXCLUDED.remaining_token_amount
	`

	_, err = s.pool.Exec(ctx, query,
		p.ID, p.EdgeID, p.StrategyID, p.TokenMint, p.Symbol,
		p.EntryAmountBase, p.EntryTokenAmount, p.EntryPrice, p.EntryTime, p.EntryTxSignature,
		p.CurrentPrice, p.CurrentValueBase, p.UnrealizedPnL, p.UnrealizedPnLPercent, p.HighWaterMark,
		exitConfig, partials, string(p.Status), momentum,
		p.RemainingAmountBase, p.RemainingTokenAmount,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return positionstore.ErrDuplicateKey
		}
		return fmt.Errorf("save position: %w", err)
	}
	return nil
}

// Close marks a position Closed and appends the closing partial exit.
func (s *Store) Close(ctx context.Context, id uuid.UUID, exitPrice, realizedPnL float64, reason string, txSignature *string) error {
	p, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	p.Status = positions.StatusClosed
	p.CurrentPrice = exitPrice
	p.UnrealizedPnL = 0
	p.PartialExits = append(p.PartialExits, positions.PartialExit{
		ExitTime:     p.EntryTime,
		ExitPercent:  100,
		ExitPrice:    exitPrice,
		RealizedBase: realizedPnL,
		TxSignature:  txSignature,
		Reason:       reason,
	})
	return s.Save(ctx, p)
}

// Get retrieves a position by id. Returns positionstore.ErrNotFound if absent.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*positions.Position, error) {
	row := s.pool.QueryRow(ctx, selectColumns+` WHERE id = $1`, id)
	p, err := scanPosition(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, positionstore.ErrNotFound
		}
		return nil, fmt.Errorf("get position: %w", err)
	}
	return p, nil
}

// ListOpen returns every position not in a terminal state.
func (s *Store) ListOpen(ctx context.Context) ([]*positions.Position, error) {
	query := selectColumns + ` WHERE status NOT IN ('closed', 'failed', 'orphaned') ORDER BY entry_time ASC`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list open positions: %w", err)
	}
	defer rows.Close()
	return scanPositions(rows)
}

// ListPendingExits returns positions currently in PendingExit.
func (s *Store) ListPendingExits(ctx context.Context) ([]*positions.Position, error) {
	query := selectColumns + ` WHERE status = 'pending_exit' ORDER BY entry_time ASC`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list pending exits: %w", err)
	}
	defer rows.Close()
	return scanPositions(rows)
}

// ByEdge retrieves the position created for a given edge, if any.
func (s *Store) ByEdge(ctx context.Context, edgeID uuid.UUID) (*positions.Position, error) {
	row := s.pool.QueryRow(ctx, selectColumns+` WHERE edge_id = $1`, edgeID)
	p, err := scanPosition(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, positionstore.ErrNotFound
		}
		return nil, fmt.Errorf("get position by edge: %w", err)
	}
	return p, nil
}

// ByMint retrieves all positions (any status) for a given token mint.
func (s *Store) ByMint(ctx context.Context, mint string) ([]*positions.Position, error) {
	query := selectColumns + ` WHERE token_mint = $1 ORDER BY entry_time ASC`
	rows, err := s.pool.Query(ctx, query, mint)
	if err != nil {
		return nil, fmt.Errorf("get positions by mint: %w", err)
	}
	defer rows.Close()
	return scanPositions(rows)
}

// Reactivate transitions an Orphaned position back to Open.
func (s *Store) Reactivate(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `UPDATE positions SET status = 'open' WHERE id = $1 AND status = 'orphaned'`, id)
	if err != nil {
		return fmt.Errorf("reactivate position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return positionstore.ErrNotFound
	}
	return nil
}

// UpdateStatus performs a compare-and-swap status transition at the row
// level, so concurrent executors racing the same position lose cleanly.
func (s *Store) UpdateStatus(ctx context.Context, id uuid.UUID, from, to positions.Status) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE positions SET status = $1 WHERE id = $2 AND status = $3`,
		string(to), id, string(from))
	if err != nil {
		return false, fmt.Errorf("update position status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

const selectColumns = `
	SELECT id, edge_id, strategy_id, token_mint, symbol,
		entry_amount_base, entry_token_amount, entry_price, entry_time, entry_tx_signature,
		current_price, current_value_base, unrealized_pnl, unrealized_pnl_percent, high_water_mark,
		exit_config, partial_exits, status, momentum,
		remaining_amount_base, remaining_token_amount
	FROM positions`

func scanPosition(row pgx.Row) (*positions.Position, error) {
	var p positions.Position
	var statusStr string
	var exitConfig, partials, momentum []byte

	err := row.Scan(
		&p.ID, &p.EdgeID, &p.StrategyID, &p.TokenMint, &p.Symbol,
		&p.EntryAmountBase, &p.EntryTokenAmount, &p.EntryPrice, &p.EntryTime, &p.EntryTxSignature,
		&p.CurrentPrice, &p.CurrentValueBase, &p.UnrealizedPnL, &p.UnrealizedPnLPercent, &p.HighWaterMark,
		&exitConfig, &partials, &statusStr, &momentum,
		&p.RemainingAmountBase, &p.RemainingTokenAmount,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(exitConfig, &p.ExitConfig); err != nil {
		return nil, fmt.Errorf("unmarshal exit config: %w", err)
	}
	if err := json.Unmarshal(partials, &p.PartialExits); err != nil {
		return nil, fmt.Errorf("unmarshal partial exits: %w", err)
	}
	if err := json.Unmarshal(momentum, &p.Momentum); err != nil {
		return nil, fmt.Errorf("unmarshal momentum: %w", err)
	}
	p.Status = positions.Status(statusStr)

	return &p, nil
}

func scanPositions(rows pgx.Rows) ([]*positions.Position, error) {
	var out []*positions.Position
	for rows.Next() {
		var p positions.Position
		var statusStr string
		var exitConfig, partials, momentum []byte

		err := rows.Scan(
			&p.ID, &p.EdgeID, &p.StrategyID, &p.TokenMint, &p.Symbol,
			&p.EntryAmountBase, &p.EntryTokenAmount, &p.EntryPrice, &p.EntryTime, &p.EntryTxSignature,
			&p.CurrentPrice, &p.CurrentValueBase, &p.UnrealizedPnL, &p.UnrealizedPnLPercent, &p.HighWaterMark,
			&exitConfig, &partials, &statusStr, &momentum,
			&p.RemainingAmountBase, &p.RemainingTokenAmount,
		)
		if err != nil {
			return nil, fmt.Errorf("scan position row: %w", err)
		}
		if err := json.Unmarshal(exitConfig, &p.ExitConfig); err != nil {
			return nil, fmt.Errorf("unmarshal exit config: %w", err)
		}
		if err := json.Unmarshal(partials, &p.PartialExits); err != nil {
			return nil, fmt.Errorf("unmarshal partial exits: %w", err)
		}
		if err := json.Unmarshal(momentum, &p.Momentum); err != nil {
			return nil, fmt.Errorf("unmarshal momentum: %w", err)
		}
		p.Status = positions.Status(statusStr)
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate position rows: %w", err)
	}
	return out, nil
}
