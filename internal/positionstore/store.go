// Package positionstore defines the durable Position Store (spec §4.F): a
// crash-safe map of positions indexed by id, edge, and mint.
package positionstore

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"solana-token-lab/internal/positions"
)

// Errors returned by Store implementations, matching the conventions of
// internal/storage/errors.go.
var (
	ErrNotFound     = errors.New("position not found")
	ErrDuplicateKey = errors.New("position already exists")
)

// Store is the durable Position Store contract (spec §4.F). Implementations
// must be crash-safe: after restart, ListOpen returns every position not in
// a terminal state, and ListPendingExits returns positions the Executor
// abandoned mid-flight.
type Store interface {
	// Save upserts a position (insert if new, full update otherwise).
	Save(ctx context.Context, p *positions.Position) error

	// Close marks a position Closed and persists its terminal fields.
	// Returns ErrNotFound if the position does not exist.
	Close(ctx context.Context, id uuid.UUID, exitPrice, realizedPnL float64, reason string, txSignature *string) error

	// Get retrieves a position by id. Returns ErrNotFound if absent.
	Get(ctx context.Context, id uuid.UUID) (*positions.Position, error)

	// ListOpen returns every position not in a terminal state.
	ListOpen(ctx context.Context) ([]*positions.Position, error)

	// ListPendingExits returns positions currently in PendingExit, i.e.
	// exits the Executor may have abandoned mid-flight across a restart.
	ListPendingExits(ctx context.Context) ([]*positions.Position, error)

	// ByEdge retrieves the position created for a given edge, if any.
	ByEdge(ctx context.Context, edgeID uuid.UUID) (*positions.Position, error)

	// ByMint retrieves all positions (any status) for a given token mint.
	ByMint(ctx context.Context, mint string) ([]*positions.Position, error)

	// Reactivate transitions an Orphaned position back to Open.
	Reactivate(ctx context.Context, id uuid.UUID) error

	// UpdateStatus performs a compare-and-swap status transition. Returns
	// (false, nil) if the current status does not match `from`.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to positions.Status) (bool, error)
}
