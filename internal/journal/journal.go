// Package journal implements the Executor's durable journal: a relational
// trade record plus a best-effort analytics-sink export, written after
// every successful exit. Journal failure logs a warning but never fails
// the exit it is recording.
package journal

import (
	"context"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// TradeRecord is one completed (full or partial) position exit.
type TradeRecord struct {
	PositionID  uuid.UUID
	StrategyID  uuid.UUID
	TokenMint   string
	ExitReason  string
	ExitPercent float64
	ExitPrice   float64
	RealizedPnL float64
	PnLSource   string // settlement.Source value: onchain | inferred-onchain | estimated
	GasLamports uint64
	TxSignature string
	ClosedAt    time.Time
}

// Store persists a trade record to the relational store of record.
type Store interface {
	RecordTrade(ctx context.Context, r TradeRecord) error
}

// AnalyticsSink exports a trade record to an analytics store, for
// downstream rollups. Failures here are never fatal.
type AnalyticsSink interface {
	RecordTrade(ctx context.Context, r TradeRecord) error
}

// Journal writes a trade record to the relational store synchronously
// (surfacing failure to the caller, who logs it as the spec's "submitted
// ok but DB write failed" inconsistency) and exports to the analytics
// sink and a summary note on a best-effort basis.
type Journal struct {
	store     Store
	analytics AnalyticsSink
	logger    *log.Logger
}

// Option configures a Journal.
type Option func(*Journal)

// WithAnalyticsSink attaches the analytics export path.
func WithAnalyticsSink(sink AnalyticsSink) Option {
	return func(j *Journal) { j.analytics = sink }
}

// New builds a Journal over a relational Store.
func New(store Store, opts ...Option) *Journal {
	j := &Journal{
		store:  store,
		logger: log.New(os.Stdout, "[journal] ", log.LstdFlags|log.Lshortfile),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Record writes the trade to the relational store and, best-effort,
// to the analytics sink and the summary note. Only the relational write
// can fail the call; analytics/summary failures are logged, not returned,
// per spec.md §4.H's journal contract.
func (j *Journal) Record(ctx context.Context, rec TradeRecord) error {
	if j.store != nil {
		if err := j.store.RecordTrade(ctx, rec); err != nil {
			j.logger.Printf("CRITICAL: exit for position %s submitted but trade record failed to persist: %v", rec.PositionID, err)
			return err
		}
	}

	if j.analytics != nil {
		if err := j.analytics.RecordTrade(ctx, rec); err != nil {
			j.logger.Printf("analytics export failed for position %s: %v", rec.PositionID, err)
		}
	}

	j.RecordSummary(ctx, rec.PositionID, summaryLine(rec))
	return nil
}

// RecordSummary writes a free-text context note for a position. The pack
// contains no memory/engrams-service client to export this to, so it is
// logged through the component logger — an explicit stdlib fallback, not
// an oversight.
func (j *Journal) RecordSummary(_ context.Context, positionID uuid.UUID, summary string) {
	j.logger.Printf("summary %s: %s", positionID, summary)
}

func summaryLine(r TradeRecord) string {
	return r.ExitReason + " exit of " + strconv.FormatFloat(r.ExitPercent, 'f', 1, 64) + "% on " + r.TokenMint +
		" realized " + strconv.FormatFloat(r.RealizedPnL, 'f', 6, 64) + " (" + r.PnLSource + ")"
}
