// Package postgres implements the durable capital.Store on PostgreSQL,
// following positionstore/postgres's Pool-wrapper conventions.
package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"solana-token-lab/internal/capital"
	"solana-token-lab/internal/storage/postgres"
)

// Store implements capital.Store using PostgreSQL.
type Store struct {
	pool *postgres.Pool
}

// NewStore creates a new PostgreSQL-backed Store.
func NewStore(pool *postgres.Pool) *Store {
	return &Store{pool: pool}
}

var _ capital.Store = (*Store)(nil)

// SaveReservation upserts a reservation row keyed by position id.
func (s *Store) SaveReservation(ctx context.Context, r capital.Reservation) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO capital_reservations (position_id, strategy_id, reserved_lamports)
		VALUES ($1, $2, $3)
		ON CONFLICT (position_id) DO UPDATE SET reserved_lamports = EXCLUDED.reserved_lamports
	`, r.PositionID, r.StrategyID, int64(r.ReservedLamports))
	if err != nil {
		return fmt.Errorf("save capital reservation: %w", err)
	}
	return nil
}

// DeleteReservation removes a position's reservation row, if any.
func (s *Store) DeleteReservation(ctx context.Context, positionID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM capital_reservations WHERE position_id = $1`, positionID)
	if err != nil {
		return fmt.Errorf("delete capital reservation: %w", err)
	}
	return nil
}

// ListReservations returns every persisted reservation, for boot restore.
func (s *Store) ListReservations(ctx context.Context) ([]capital.Reservation, error) {
	rows, err := s.pool.Query(ctx, `SELECT position_id, strategy_id, reserved_lamports FROM capital_reservations`)
	if err != nil {
		return nil, fmt.Errorf("list capital reservations: %w", err)
	}
	defer rows.Close()

	var out []capital.Reservation
	for rows.Next() {
		var r capital.Reservation
		var lamports int64
		if err := rows.Scan(&r.PositionID, &r.StrategyID, &lamports); err != nil {
			return nil, fmt.Errorf("scan capital reservation row: %w", err)
		}
		r.ReservedLamports = uint64(lamports)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate capital reservation rows: %w", err)
	}
	return out, nil
}
