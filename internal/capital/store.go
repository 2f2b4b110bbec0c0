package capital

import (
	"context"

	"github.com/google/uuid"
)

// Reservation is a persisted capital reservation row, restored on boot so
// the Manager does not forget open positions across a restart.
type Reservation struct {
	StrategyID       uuid.UUID
	PositionID       uuid.UUID
	ReservedLamports uint64
}

// Store persists capital reservations, backing the Manager's crash-safe
// restore. Implementations must be safe for concurrent use.
type Store interface {
	SaveReservation(ctx context.Context, r Reservation) error
	DeleteReservation(ctx context.Context, positionID uuid.UUID) error
	ListReservations(ctx context.Context) ([]Reservation, error)
}
