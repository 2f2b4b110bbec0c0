package sniper

import (
	"context"
	"log"
	"os"
	"sync"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"solana-token-lab/internal/bus"
	"solana-token-lab/internal/executor"
	"solana-token-lab/internal/positions"
	"solana-token-lab/internal/routing"
	"solana-token-lab/internal/signing"
	"solana-token-lab/internal/solana"
	"solana-token-lab/internal/submission"
)

// ExitSubmitter is the narrow capability the Sniper needs from the
// Position Executor: hand it a command and let its own pipeline (curve ->
// Raydium -> aggregator, sign, submit, finalize) run the sell. This is the
// "channel-based message passing" alternative to holding a direct
// Executor reference, so neither package depends on the other's internals.
type ExitSubmitter interface {
	Submit(cmd executor.ExitCommand)
}

// EntryDispatcher is the strategy matcher collaborator (spec.md §4.J,
// §6): it decides whether a synthesized pre-graduation signal becomes an
// edge for autonomous execution. Sniper works without one configured; it
// just drops signals, matching the teacher's Option<StrategyEngine>
// posture.
type EntryDispatcher interface {
	MatchSignal(ctx context.Context, sig EntrySignal) bool
}

// Sniper watches the bus for bonding-curve graduation events, synthesizes
// pre-graduation entry signals for the strategy matcher, and races to
// sell (or, when enabled, buy) a token the instant it graduates.
type Sniper struct {
	cfg Config

	manager   *positions.Manager
	builder   routing.Builder
	rpc       *solana.HTTPClient
	eventBus  *bus.Bus
	exits     ExitSubmitter
	signer    signing.Signer
	submitter *submission.Submitter
	matcher   EntryDispatcher
	logger    *log.Logger
	durable   *bus.DurableSet

	mu           sync.Mutex
	states       map[string]State
	sellAttempts map[string]int

	sellSem  *semaphore.Weighted
	buyGroup singleflight.Group

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
	wg           sync.WaitGroup
}

// Option configures a Sniper at construction time.
type Option func(*Sniper)

// WithConfig overrides the default tuning knobs.
func WithConfig(cfg Config) Option {
	return func(s *Sniper) { s.cfg = cfg }
}

// WithEntryDispatcher wires the strategy matcher collaborator.
func WithEntryDispatcher(d EntryDispatcher) Option {
	return func(s *Sniper) { s.matcher = d }
}

// WithSigner wires the signer used for the post-graduation quick-flip buy
// path (the sell path goes through ExitSubmitter, which resolves its own
// signer per position's strategy).
func WithSigner(signer signing.Signer) Option {
	return func(s *Sniper) { s.signer = signer }
}

// WithDurableSet wires a Redis-backed companion to the in-process sell
// claim so a crash mid-sell doesn't leave a mint silently unclaimed after
// restart; tryClaimSell still decides in-process, this is write-through.
func WithDurableSet(d *bus.DurableSet) Option {
	return func(s *Sniper) { s.durable = d }
}

// New builds a Sniper. manager, builder, rpc, eventBus, exits, and
// submitter must all be non-nil.
func New(
	manager *positions.Manager,
	builder routing.Builder,
	rpc *solana.HTTPClient,
	eventBus *bus.Bus,
	exits ExitSubmitter,
	submitter *submission.Submitter,
	opts ...Option,
) *Sniper {
	s := &Sniper{
		manager:        manager,
		builder:        builder,
		rpc:            rpc,
		eventBus:       eventBus,
		exits:          exits,
		submitter:      submitter,
		logger:       log.New(os.Stdout, "[sniper] ", log.LstdFlags|log.Lshortfile),
		states:       make(map[string]State),
		sellAttempts: make(map[string]int),
		shutdownCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cfg = s.cfg.withDefaults()
	s.sellSem = semaphore.NewWeighted(s.cfg.MaxConcurrentSells)
	return s
}

// Run subscribes to the bus and dispatches events until ctx is canceled or
// Shutdown is called.
func (s *Sniper) Run(ctx context.Context) {
	ch, cancel := s.eventBus.Subscribe(
		bus.TopicGraduationImminent,
		bus.TopicGraduated,
		bus.TopicAutoExecutionSucceed,
		bus.TopicPositionExitDone,
		bus.TopicPositionExitFailed,
		bus.TopicSellRetryScheduled,
	)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdownCh:
			return
		case evt := <-ch:
			s.dispatch(ctx, evt)
		}
	}
}

func (s *Sniper) dispatch(ctx context.Context, evt bus.Event) {
	switch evt.Topic {
	case bus.TopicGraduationImminent:
		s.handleGraduationImminent(ctx, evt)
	case bus.TopicGraduated:
		s.handleGraduated(ctx, evt)
	case bus.TopicAutoExecutionSucceed:
		s.handleAutoExecutionSucceeded(evt)
	case bus.TopicPositionExitDone:
		s.handleExitDone(evt)
	case bus.TopicPositionExitFailed:
		s.handleExitFailed(ctx, evt)
	case bus.TopicSellRetryScheduled:
		s.handleSellRetryScheduled(ctx, evt)
	}
}

// Shutdown stops Run's dispatch loop. In-flight sells already submitted to
// the Executor are the Executor's to finish; the Sniper itself holds no
// state worth draining.
func (s *Sniper) Shutdown() {
	s.shutdownOnce.Do(func() { close(s.shutdownCh) })
}

// Stats summarizes the Sniper's own sell-race bookkeeping for the /status
// surface, per spec.md's SniperStats shape.
type Stats struct {
	Waiting int
	Selling int
	Sold    int
	Failed  int
}

func (s *Sniper) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st Stats
	for _, state := range s.states {
		switch state {
		case StateWaiting:
			st.Waiting++
		case StateSelling:
			st.Selling++
		case StateSold:
			st.Sold++
		case StateFailed:
			st.Failed++
		}
	}
	return st
}

func payloadString(payload map[string]interface{}, key string) string {
	v, _ := payload[key].(string)
	return v
}

func payloadFloat(payload map[string]interface{}, key string) float64 {
	switch v := payload[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}
