// Package memory provides an in-memory journal Store for tests and the
// --use-memory mode, following internal/positionstore/memory's pattern.
package memory

import (
	"context"
	"sync"

	"solana-token-lab/internal/journal"
)

// Store is an in-memory implementation of journal.Store.
type Store struct {
	mu      sync.Mutex
	records []journal.TradeRecord
}

// New creates a new in-memory journal store.
func New() *Store {
	return &Store{}
}

// RecordTrade appends a trade record.
func (s *Store) RecordTrade(_ context.Context, r journal.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
	return nil
}

// Records returns a copy of every trade recorded so far, newest last.
func (s *Store) Records() []journal.TradeRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]journal.TradeRecord, len(s.records))
	copy(out, s.records)
	return out
}

var _ journal.Store = (*Store)(nil)
