// Package executor implements the Position Executor (spec.md §4.H): it
// consumes exit commands, selects a route, CASes position status, signs,
// submits, reconciles settlement, writes the durable journal, and retries
// or re-queues on failure.
package executor

import (
	"context"
	"log"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"solana-token-lab/internal/bus"
	"solana-token-lab/internal/capital"
	"solana-token-lab/internal/errs"
	"solana-token-lab/internal/journal"
	"solana-token-lab/internal/observability"
	"solana-token-lab/internal/positions"
	"solana-token-lab/internal/positionstore"
	"solana-token-lab/internal/routing"
	"solana-token-lab/internal/settlement"
	"solana-token-lab/internal/signing"
	"solana-token-lab/internal/solana"
	"solana-token-lab/internal/submission"
)

// Defaults per spec.md §4.H / §5.
const (
	DefaultMaxExitRetries       = 3
	DefaultCommandChanCapacity  = 256
	DefaultSubmitConcurrency    = 5
	DefaultBundleTipLamports    = submission.DefaultBundleTipLamports
	DefaultBundleWaitTimeout    = 60 * time.Second
	DefaultConfirmTimeout       = 30 * time.Second
	DefaultShutdownGrace        = 60 * time.Second
	DefaultRateLimitBackoffBase = 5 * time.Second
	DefaultRateLimitBackoffCap  = 60 * time.Second
	zeroBalanceRecheckDelay     = 2 * time.Second
	slippageRetrySleep          = 300 * time.Millisecond
)

// Config tunes the Executor's retry ladder, concurrency caps, and timeouts.
type Config struct {
	MaxExitRetries       int
	CommandChanCapacity  int
	SubmitConcurrency    int64
	BundleTipLamports    uint64
	BundleWaitTimeout    time.Duration
	ConfirmTimeout       time.Duration
	ShutdownGrace        time.Duration
	RateLimitBackoffBase time.Duration
	RateLimitBackoffCap  time.Duration
	AggregatorURL         string
	// DustTokenValueSOL is the DustThresholds.TokenValueSOL half of the
	// unified dust config (internal/positions.DustThresholds); it gates
	// the post-exit "not worth a second transaction" write-off.
	DustTokenValueSOL float64
}

func (c Config) withDefaults() Config {
	if c.MaxExitRetries <= 0 {
		c.MaxExitRetries = DefaultMaxExitRetries
	}
	if c.CommandChanCapacity <= 0 {
		c.CommandChanCapacity = DefaultCommandChanCapacity
	}
	if c.SubmitConcurrency <= 0 {
		c.SubmitConcurrency = DefaultSubmitConcurrency
	}
	if c.BundleTipLamports == 0 {
		c.BundleTipLamports = DefaultBundleTipLamports
	}
	if c.BundleWaitTimeout <= 0 {
		c.BundleWaitTimeout = DefaultBundleWaitTimeout
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = DefaultConfirmTimeout
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = DefaultShutdownGrace
	}
	if c.RateLimitBackoffBase <= 0 {
		c.RateLimitBackoffBase = DefaultRateLimitBackoffBase
	}
	if c.RateLimitBackoffCap <= 0 {
		c.RateLimitBackoffCap = DefaultRateLimitBackoffCap
	}
	if c.DustTokenValueSOL <= 0 {
		c.DustTokenValueSOL = positions.DefaultDustThresholds().TokenValueSOL
	}
	return c
}

// Executor consumes ExitCommands and drives each through the exit state
// machine. Route building, signing and the position store are interfaces a
// test can replace with fakes; the other collaborators are concrete types.
type Executor struct {
	cfg Config

	manager   *positions.Manager
	store     positionstore.Store
	capitalMgr *capital.Manager
	builder   routing.Builder
	resolver  *settlement.Resolver
	submitter *submission.Submitter
	rpc       *solana.HTTPClient
	bus       *bus.Bus
	journal   *journal.Journal
	logger    *log.Logger

	signersMu sync.RWMutex
	signers   map[uuid.UUID]signing.Signer
	defaultSigner signing.Signer

	cmdCh chan ExitCommand
	sem   *semaphore.Weighted

	rateLimitMu      sync.Mutex
	consecutiveLimits int

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
	wg           sync.WaitGroup
}

// Option configures an Executor at construction time.
type Option func(*Executor)

// WithConfig overrides the default tuning knobs.
func WithConfig(cfg Config) Option {
	return func(e *Executor) { e.cfg = cfg }
}

// WithSigner registers the signer used for a given strategy's exits.
func WithSigner(strategyID uuid.UUID, s signing.Signer) Option {
	return func(e *Executor) { e.signers[strategyID] = s }
}

// WithDefaultSigner registers a fallback signer used when a position's
// strategy has no signer of its own — the common single-wallet case.
func WithDefaultSigner(s signing.Signer) Option {
	return func(e *Executor) { e.defaultSigner = s }
}

// New builds an Executor. manager, builder, resolver, submitter, rpc, bus,
// and journalWriter must all be non-nil. capitalMgr may be nil, in which
// case no capital is released; store is kept on the Executor but no exit
// path reads it.
func New(
	manager *positions.Manager,
	store positionstore.Store,
	capitalMgr *capital.Manager,
	builder routing.Builder,
	resolver *settlement.Resolver,
	submitter *submission.Submitter,
	rpc *solana.HTTPClient,
	eventBus *bus.Bus,
	journalWriter *journal.Journal,
	opts ...Option,
) *Executor {
	e := &Executor{
		manager:    manager,
		store:      store,
		capitalMgr: capitalMgr,
		builder:    builder,
		resolver:   resolver,
		submitter:  submitter,
		rpc:        rpc,
		bus:        eventBus,
		journal:    journalWriter,
		logger:     log.New(os.Stdout, "[executor] ", log.LstdFlags|log.Lshortfile),
		signers:    make(map[uuid.UUID]signing.Signer),
		shutdownCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.cfg = e.cfg.withDefaults()
	e.cmdCh = make(chan ExitCommand, e.cfg.CommandChanCapacity)
	e.sem = semaphore.NewWeighted(e.cfg.SubmitConcurrency)
	return e
}

// Submit enqueues an exit command. It never blocks indefinitely: a full
// channel drops the command and logs, matching the bus's own
// never-block-the-publisher posture, since the Position Manager re-derives
// exit signals on the next price tick anyway.
func (e *Executor) Submit(cmd ExitCommand) {
	select {
	case e.cmdCh <- cmd:
		observability.RecordExitSubmitted(cmd.Urgency.String())
	default:
		e.logger.Printf("command channel full, dropping exit command for position %s", cmd.PositionID)
	}
}

// SubmitSignal is a convenience wrapper around Submit for a Position
// Manager exit signal.
func (e *Executor) SubmitSignal(sig positions.ExitSignal) {
	e.Submit(fromSignal(sig))
}

// signerFor resolves the signer to use for a position's strategy.
func (e *Executor) signerFor(strategyID uuid.UUID) (signing.Signer, bool) {
	e.signersMu.RLock()
	defer e.signersMu.RUnlock()
	if s, ok := e.signers[strategyID]; ok {
		return s, true
	}
	if e.defaultSigner != nil {
		return e.defaultSigner, true
	}
	return nil, false
}

// Run drains the command channel until ctx is canceled, batching,
// deduplicating, and fanning exits out under the submit semaphore. Call
// Shutdown (or cancel ctx) to begin a graceful drain.
func (e *Executor) Run(ctx context.Context) {
	for {
		var batch []ExitCommand

		select {
		case <-ctx.Done():
			e.drainAndWait()
			return
		case <-e.shutdownCh:
			e.drainAndWait()
			return
		case cmd := <-e.cmdCh:
			batch = append(batch, cmd)
		}

		// Drain whatever else is already queued without blocking, so a
		// burst of signals from one price tick batches together.
	drain:
		for {
			select {
			case cmd := <-e.cmdCh:
				batch = append(batch, cmd)
			default:
				break drain
			}
		}

		for _, cmd := range sortAndDedup(batch) {
			cmd := cmd
			e.dispatch(ctx, cmd)
		}
	}
}

// dispatch acquires the submit semaphore and runs the exit in its own
// goroutine so the dispatch loop is not blocked by one slow position,
// while still capping true concurrent bundle sends at cfg.SubmitConcurrency.
func (e *Executor) dispatch(ctx context.Context, cmd ExitCommand) {
	e.applyRateLimitBackoff(ctx, cmd.Urgency)

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.sem.Release(1)
		if err := e.executeExit(ctx, cmd); err != nil {
			e.logger.Printf("exit for position %s failed: %v", cmd.PositionID, err)
		}
	}()
}

// Shutdown begins a graceful stop: no new commands are pulled, and
// in-flight exits get up to cfg.ShutdownGrace to finish. Positions still
// PendingExit when the grace period elapses are left that way so the next
// process retries them on boot (ListPendingExits).
func (e *Executor) Shutdown() {
	e.shutdownOnce.Do(func() { close(e.shutdownCh) })
}

func (e *Executor) drainAndWait() {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(e.cfg.ShutdownGrace):
		e.logger.Printf("shutdown grace period elapsed with exits still in flight; leaving them pending_exit for the next boot")
	}
}

// applyRateLimitBackoff sleeps according to the consecutive-rate-limit
// counter, bypassed for Critical/High urgency per spec.md §5.
func (e *Executor) applyRateLimitBackoff(ctx context.Context, urgency positions.Urgency) {
	if urgency == positions.UrgencyCritical || urgency == positions.UrgencyHigh {
		return
	}

	e.rateLimitMu.Lock()
	n := e.consecutiveLimits
	e.rateLimitMu.Unlock()
	if n == 0 {
		return
	}

	delay := e.cfg.RateLimitBackoffBase * time.Duration(1<<uint(min(n, 8)))
	if delay > e.cfg.RateLimitBackoffCap {
		delay = e.cfg.RateLimitBackoffCap
	}
	jitter := time.Duration(rand.Int63n(int64(delay) / 5))
	delay += jitter

	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}

func (e *Executor) recordRateLimited(hit bool) {
	e.rateLimitMu.Lock()
	defer e.rateLimitMu.Unlock()
	if hit {
		e.consecutiveLimits++
	} else {
		e.consecutiveLimits = 0
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

var errNoSignerForStrategy = errs.New(errs.KindValidation, "no signer registered for position's strategy")
