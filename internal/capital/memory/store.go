// Package memory provides an in-memory capital.Store for tests and the
// --use-memory mode, following positionstore/memory's copy-on-access
// pattern.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"solana-token-lab/internal/capital"
)

// Store is an in-memory implementation of capital.Store.
type Store struct {
	mu   sync.RWMutex
	data map[uuid.UUID]capital.Reservation
}

// New creates a new in-memory capital reservation store.
func New() *Store {
	return &Store{data: make(map[uuid.UUID]capital.Reservation)}
}

// SaveReservation upserts a reservation row keyed by position id.
func (s *Store) SaveReservation(_ context.Context, r capital.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[r.PositionID] = r
	return nil
}

// DeleteReservation removes a position's reservation row, if any.
func (s *Store) DeleteReservation(_ context.Context, positionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, positionID)
	return nil
}

// ListReservations returns every persisted reservation, for boot restore.
func (s *Store) ListReservations(_ context.Context) ([]capital.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]capital.Reservation, 0, len(s.data))
	for _, r := range s.data {
		out = append(out, r)
	}
	return out, nil
}

var _ capital.Store = (*Store)(nil)
