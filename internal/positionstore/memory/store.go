// Package memory provides an in-memory Position Store for tests and the
// --use-memory mode, following internal/storage/memory's copy-on-access
// pattern.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"solana-token-lab/internal/positions"
	"solana-token-lab/internal/positionstore"
)

// Store is an in-memory implementation of positionstore.Store.
type Store struct {
	mu   sync.RWMutex
	data map[uuid.UUID]*positions.Position
}

// New creates a new in-memory position store.
func New() *Store {
	return &Store{data: make(map[uuid.UUID]*positions.Position)}
}

// Save upserts a position copy to prevent external mutation.
func (s *Store) Save(_ context.Context, p *positions.Position) error {
	if p == nil || p.ID == uuid.Nil {
		return positionstore.ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *p
	s.data[p.ID] = &cp
	return nil
}

// Close marks a position Closed and records its terminal fields.
func (s *Store) Close(_ context.Context, id uuid.UUID, exitPrice, realizedPnL float64, reason string, txSignature *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.data[id]
	if !ok {
		return positionstore.ErrNotFound
	}
	p.Status = positions.StatusClosed
	p.CurrentPrice = exitPrice
	p.UnrealizedPnL = 0
	p.PartialExits = append(p.PartialExits, positions.PartialExit{
		ExitTime:     time.Now(),
		ExitPercent:  100,
		ExitPrice:    exitPrice,
		RealizedBase: realizedPnL,
		TxSignature:  txSignature,
		Reason:       reason,
	})
	return nil
}

// Get retrieves a copy of the position by id.
func (s *Store) Get(_ context.Context, id uuid.UUID) (*positions.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.data[id]
	if !ok {
		return nil, positionstore.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// ListOpen returns copies of every non-terminal position.
func (s *Store) ListOpen(_ context.Context) ([]*positions.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*positions.Position
	for _, p := range s.data {
		if !p.Status.Terminal() {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ListPendingExits returns copies of positions in PendingExit.
func (s *Store) ListPendingExits(_ context.Context) ([]*positions.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*positions.Position
	for _, p := range s.data {
		if p.Status == positions.StatusPendingExit {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ByEdge retrieves the position for an edge id, if any.
func (s *Store) ByEdge(_ context.Context, edgeID uuid.UUID) (*positions.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.data {
		if p.EdgeID == edgeID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, positionstore.ErrNotFound
}

// ByMint retrieves all positions for a mint.
func (s *Store) ByMint(_ context.Context, mint string) ([]*positions.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*positions.Position
	for _, p := range s.data {
		if p.TokenMint == mint {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Reactivate transitions an Orphaned position back to Open.
func (s *Store) Reactivate(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.data[id]
	if !ok {
		return positionstore.ErrNotFound
	}
	if p.Status == positions.StatusOrphaned {
		p.Status = positions.StatusOpen
	}
	return nil
}

// UpdateStatus performs an in-process compare-and-swap on status.
func (s *Store) UpdateStatus(_ context.Context, id uuid.UUID, from, to positions.Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.data[id]
	if !ok {
		return false, positionstore.ErrNotFound
	}
	if p.Status != from {
		return false, nil
	}
	p.Status = to
	return true, nil
}

var _ positionstore.Store = (*Store)(nil)
