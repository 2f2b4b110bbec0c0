package sniper

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-token-lab/internal/bus"
	"solana-token-lab/internal/executor"
	"solana-token-lab/internal/positions"
	"solana-token-lab/internal/routing"
	"solana-token-lab/internal/signing"
	"solana-token-lab/internal/solana"
	"solana-token-lab/internal/solwallet"
	"solana-token-lab/internal/submission"
)

func TestClassifyEntry(t *testing.T) {
	conf, bps := classifyEntry(99, 0)
	assert.Equal(t, 0.95, conf)
	assert.Equal(t, 600, bps)

	conf, bps = classifyEntry(96, 1.0)
	assert.Equal(t, 0.85, conf)
	assert.Equal(t, 600, bps)

	conf, bps = classifyEntry(91, 0.1)
	assert.Equal(t, 0.75, conf)
	assert.Equal(t, 400, bps)

	conf, bps = classifyEntry(50, 0)
	assert.Equal(t, 0.60, conf)
	assert.Equal(t, 200, bps)
}

func TestExitPercentForMomentum(t *testing.T) {
	assert.Equal(t, 100.0, exitPercentForMomentum(nil))
	strong := "strong"
	assert.Equal(t, 50.0, exitPercentForMomentum(&strong))
	normal := "normal"
	assert.Equal(t, 75.0, exitPercentForMomentum(&normal))
	weak := "weak"
	assert.Equal(t, 100.0, exitPercentForMomentum(&weak))
}

func TestBackoffForAttempt(t *testing.T) {
	assert.Equal(t, 1000*time.Millisecond, backoffForAttempt(0))
	assert.Equal(t, 2000*time.Millisecond, backoffForAttempt(1))
	assert.Equal(t, 16000*time.Millisecond, backoffForAttempt(4))
	assert.Equal(t, 16000*time.Millisecond, backoffForAttempt(9))
}

// fakeExitSubmitter records every ExitCommand handed to it instead of
// running the Executor's real build/sign/submit pipeline.
type fakeExitSubmitter struct {
	submitted []executor.ExitCommand
}

func (f *fakeExitSubmitter) Submit(cmd executor.ExitCommand) {
	f.submitted = append(f.submitted, cmd)
}

// fakeBuilder implements routing.Builder with caller-programmed responses
// for the post-graduation buy path only.
type fakeBuilder struct {
	buyResult routing.BuildResult
	buyErr    error
}

func (f *fakeBuilder) GetCurveState(ctx context.Context, mint string) (routing.CurveState, error) {
	return routing.CurveState{}, assert.AnError
}
func (f *fakeBuilder) BuildCurveSell(ctx context.Context, mint string, tokenAmount float64, slippageBps int, wallet string) (routing.BuildResult, error) {
	return routing.BuildResult{}, assert.AnError
}
func (f *fakeBuilder) BuildRaydiumSell(ctx context.Context, mint string, tokenAmount float64, slippageBps int, wallet string) (routing.BuildResult, error) {
	return routing.BuildResult{}, assert.AnError
}
func (f *fakeBuilder) BuildPostGraduationSell(ctx context.Context, mint string, tokenAmount float64, slippageBps int, wallet, aggregatorURL string) (routing.BuildResult, error) {
	return routing.BuildResult{}, assert.AnError
}
func (f *fakeBuilder) BuildPostGraduationBuy(ctx context.Context, mint string, solLamports uint64, slippageBps int, wallet, aggregatorURL string) (routing.BuildResult, error) {
	return f.buyResult, f.buyErr
}

func newFakeRPCServer(t *testing.T, lamports uint64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/bundles" {
			w.Write([]byte(`{"bundle_id":"snipersigbundle123"}`))
			return
		}
		var env struct {
			Method string `json:"method"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&env))
		switch env.Method {
		case "getAccountInfo":
			w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"value":{"lamports":` + itoa(lamports) + `}}}`))
		case "sendTransaction":
			w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"snipersig123"}`))
		default:
			w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":null}`))
		}
	}))
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	digits := []byte{}
	for v > 0 {
		digits = append([]byte{byte('0' + v%10)}, digits...)
		v /= 10
	}
	return string(digits)
}

func newTestSniper(t *testing.T, builder routing.Builder, lamports uint64) (*Sniper, *positions.Manager, *fakeExitSubmitter, *bus.Bus) {
	t.Helper()
	rpcSrv := newFakeRPCServer(t, lamports)
	t.Cleanup(rpcSrv.Close)

	rpc := solana.NewHTTPClient(rpcSrv.URL)
	sub := submission.New(rpc, rpcSrv.URL)
	manager := positions.NewManager()
	eventBus := bus.New()
	exits := &fakeExitSubmitter{}

	kp, err := solwallet.Generate()
	require.NoError(t, err)
	signer := signing.NewDevKeySigner(kp, 10)

	s := New(manager, builder, rpc, eventBus, exits, sub,
		WithConfig(Config{EntrySOL: 0.1, GasReserveSOL: 0.02, PostGradEntryEnabled: true, PostGradMaxRetries: 1, SellDelay: 0}),
		WithSigner(signer),
	)
	return s, manager, exits, eventBus
}

func TestTryClaimSell_OnlyOneWinner(t *testing.T) {
	s, _, _, _ := newTestSniper(t, &fakeBuilder{}, 0)
	assert.True(t, s.tryClaimSell("MintAAA"))
	assert.False(t, s.tryClaimSell("MintAAA"))

	s.markSold("MintAAA")
	assert.True(t, s.tryClaimSell("MintAAA"))
}

func TestHandleGraduated_TrackedPositionRacesSell(t *testing.T) {
	s, manager, exits, _ := newTestSniper(t, &fakeBuilder{}, 0)
	ctx := context.Background()

	pos, err := manager.OpenPosition(ctx, uuid.Nil, uuid.Nil, "MintAAA", nil, 1.0, 1000, 0.001, positions.ForCurveBonding(), nil)
	require.NoError(t, err)
	require.True(t, s.tryClaimSell("MintAAA"))

	s.executeSell(ctx, "MintAAA")
	require.Len(t, exits.submitted, 1)
	assert.Equal(t, pos.ID, exits.submitted[0].PositionID)
	assert.Equal(t, positions.ExitReasonGraduationSnipe, exits.submitted[0].Reason)
	assert.Equal(t, 100.0, exits.submitted[0].ExitPercent)
	assert.Equal(t, positions.UrgencyCritical, exits.submitted[0].Urgency)
}

func TestHandleExitFailed_RetriesThenGivesUp(t *testing.T) {
	s, manager, _, eventBus := newTestSniper(t, &fakeBuilder{}, 0)
	ctx := context.Background()
	s.cfg.MaxSellRetries = 2

	_, err := manager.OpenPosition(ctx, uuid.Nil, uuid.Nil, "MintBBB", nil, 1.0, 1000, 0.001, positions.ForCurveBonding(), nil)
	require.NoError(t, err)
	require.True(t, s.tryClaimSell("MintBBB"))

	retryCh, cancel := eventBus.Subscribe(bus.TopicSellRetryScheduled)
	defer cancel()

	s.handleExitFailed(ctx, bus.Event{
		Topic:   bus.TopicPositionExitFailed,
		Payload: map[string]interface{}{"token_mint": "MintBBB", "error": "boom"},
	})

	select {
	case evt := <-retryCh:
		assert.Equal(t, "MintBBB", payloadString(evt.Payload, "mint"))
	case <-time.After(time.Second):
		t.Fatal("expected a sell_retry_scheduled event")
	}

	// The scheduled retry re-claims the mint before resubmitting.
	require.True(t, s.tryClaimSell("MintBBB"))

	failCh, cancel2 := eventBus.Subscribe(bus.TopicSnipeFailed)
	defer cancel2()
	s.handleExitFailed(ctx, bus.Event{
		Topic:   bus.TopicPositionExitFailed,
		Payload: map[string]interface{}{"token_mint": "MintBBB", "error": "boom again"},
	})

	select {
	case <-failCh:
	case <-time.After(time.Second):
		t.Fatal("expected a snipe_failed event after exhausting retries")
	}

	s.mu.Lock()
	assert.Equal(t, StateFailed, s.states["MintBBB"])
	s.mu.Unlock()
}

func TestHandleGraduationImminent_FiltersLowVelocity(t *testing.T) {
	s, _, _, _ := newTestSniper(t, &fakeBuilder{}, 0)
	s.cfg.MinEntryVelocity = 1.0

	matcher := &recordingMatcher{}
	s.matcher = matcher

	s.handleGraduationImminent(context.Background(), bus.Event{
		Payload: map[string]interface{}{"mint": "MintCCC", "symbol": "CCC", "progress": 96.0, "progress_velocity": 0.1},
	})
	assert.Empty(t, matcher.seen)

	s.handleGraduationImminent(context.Background(), bus.Event{
		Payload: map[string]interface{}{"mint": "MintCCC", "symbol": "CCC", "progress": 96.0, "progress_velocity": 2.0},
	})
	require.Len(t, matcher.seen, 1)
	assert.InDelta(t, 0.85, matcher.seen[0].Confidence, 1e-9)
}

type recordingMatcher struct {
	seen []EntrySignal
}

func (m *recordingMatcher) MatchSignal(ctx context.Context, sig EntrySignal) bool {
	m.seen = append(m.seen, sig)
	return true
}

func TestAttemptPostGradBuy_InsufficientBalanceSkips(t *testing.T) {
	s, _, _, eventBus := newTestSniper(t, &fakeBuilder{}, 0)

	entryCh, cancel := eventBus.Subscribe(bus.TopicPostGradEntrySignal)
	defer cancel()

	s.attemptPostGradBuy(context.Background(), "MintDDD", "DDD")

	select {
	case <-entryCh:
		t.Fatal("should not emit entry signal when balance is insufficient")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestAttemptPostGradBuy_HappyPathOpensPosition(t *testing.T) {
	builder := &fakeBuilder{buyResult: routing.BuildResult{
		TxB64:       base64.StdEncoding.EncodeToString([]byte("unsigned tx bytes")),
		ExpectedOut: 500,
		Label:       "Jupiter",
	}}
	s, manager, _, eventBus := newTestSniper(t, builder, 1_000_000_000)

	successCh, cancel := eventBus.Subscribe(bus.TopicPostGradBuySuccess)
	defer cancel()

	s.attemptPostGradBuy(context.Background(), "MintEEE", "EEE")

	select {
	case evt := <-successCh:
		assert.Equal(t, "MintEEE", payloadString(evt.Payload, "mint"))
	case <-time.After(2 * time.Second):
		t.Fatal("expected a post_grad_buy_success event")
	}

	_, ok := manager.GetOpenPositionForMint("MintEEE")
	assert.True(t, ok)
}

func TestHandleAutoExecutionSucceeded_TracksOnlyGraduationSignals(t *testing.T) {
	s, _, _, _ := newTestSniper(t, &fakeBuilder{}, 0)

	s.handleAutoExecutionSucceeded(bus.Event{
		Payload: map[string]interface{}{"mint": "MintFFF", "tokens_received": 100.0, "signal_source": "other"},
	})
	s.mu.Lock()
	_, tracked := s.states["MintFFF"]
	s.mu.Unlock()
	assert.False(t, tracked)

	s.handleAutoExecutionSucceeded(bus.Event{
		Payload: map[string]interface{}{"mint": "MintFFF", "tokens_received": 100.0, "signal_source": "graduation_sniper"},
	})
	s.mu.Lock()
	state, tracked := s.states["MintFFF"]
	s.mu.Unlock()
	require.True(t, tracked)
	assert.Equal(t, StateWaiting, state)
}
