package executor

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"solana-token-lab/internal/positions"
)

// ExitCommand is one unit of work on the command channel: "exit this
// position, fully or partially, for this reason".
type ExitCommand struct {
	PositionID   uuid.UUID
	Reason       positions.ExitReason
	ExitPercent  float64
	CurrentPrice float64
	Urgency      positions.Urgency
	QueuedAt     time.Time
}

// fromSignal builds a command from a Position Manager exit signal.
func fromSignal(sig positions.ExitSignal) ExitCommand {
	return ExitCommand{
		PositionID:   sig.PositionID,
		Reason:       sig.Reason,
		ExitPercent:  sig.ExitPercent,
		CurrentPrice: sig.CurrentPrice,
		Urgency:      sig.Urgency,
		QueuedAt:     time.Now(),
	}
}

// sortAndDedup sorts a batch of commands by descending urgency and
// deduplicates by position, keeping the most urgent command queued for
// each position (spec.md §4.H: "sorts by urgency ... deduplicates by
// position id, keeping the highest urgency").
func sortAndDedup(cmds []ExitCommand) []ExitCommand {
	best := make(map[uuid.UUID]ExitCommand, len(cmds))
	for _, c := range cmds {
		cur, ok := best[c.PositionID]
		if !ok || c.Urgency > cur.Urgency {
			best[c.PositionID] = c
		}
	}

	out := make([]ExitCommand, 0, len(best))
	for _, c := range best {
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Urgency > out[j].Urgency })
	return out
}
