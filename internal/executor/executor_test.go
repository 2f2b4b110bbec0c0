package executor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-token-lab/internal/bus"
	"solana-token-lab/internal/capital"
	"solana-token-lab/internal/journal"
	"solana-token-lab/internal/positions"
	"solana-token-lab/internal/routing"
	"solana-token-lab/internal/settlement"
	"solana-token-lab/internal/signing"
	"solana-token-lab/internal/solana"
	"solana-token-lab/internal/solwallet"
	"solana-token-lab/internal/submission"
)

func TestSortAndDedup_KeepsHighestUrgencyPerPosition(t *testing.T) {
	pid := uuid.New()
	cmds := []ExitCommand{
		{PositionID: pid, Urgency: positions.UrgencyLow},
		{PositionID: pid, Urgency: positions.UrgencyCritical},
		{PositionID: uuid.New(), Urgency: positions.UrgencyMedium},
	}

	out := sortAndDedup(cmds)
	require.Len(t, out, 2)
	assert.Equal(t, positions.UrgencyCritical, out[0].Urgency)
	assert.Equal(t, pid, out[0].PositionID)
}

func TestAdaptiveSlippageBps(t *testing.T) {
	assert.Equal(t, SlippageDeadTokenBps, adaptiveSlippageBps(50, positions.UrgencyLow, true))
	assert.Equal(t, SlippageFloorBps, adaptiveSlippageBps(-10, positions.UrgencyLow, false))
	assert.Equal(t, 1000, adaptiveSlippageBps(40, positions.UrgencyLow, false))
	// Urgency multiplier scales but is capped at the normal ceiling.
	assert.Equal(t, SlippageNormalCapBps, adaptiveSlippageBps(90, positions.UrgencyCritical, false))
}

func TestDustValueSOL(t *testing.T) {
	p := &positions.Position{EntryAmountBase: 1.0, EntryTokenAmount: 1000, CurrentPrice: 0.002}
	assert.InDelta(t, 0.1, dustValueSOL(p, 100), 1e-9)

	zeroEntry := &positions.Position{CurrentPrice: 0.002}
	assert.InDelta(t, 0.2, dustValueSOL(zeroEntry, 100), 1e-9)
}

// fakeBuilder implements routing.Builder with caller-programmed responses.
type fakeBuilder struct {
	curveState    routing.CurveState
	curveErr      error
	raydiumResult routing.BuildResult
	raydiumErr    error
}

func (f *fakeBuilder) GetCurveState(ctx context.Context, mint string) (routing.CurveState, error) {
	return f.curveState, f.curveErr
}
func (f *fakeBuilder) BuildCurveSell(ctx context.Context, mint string, tokenAmount float64, slippageBps int, wallet string) (routing.BuildResult, error) {
	return routing.BuildResult{}, assert.AnError
}
func (f *fakeBuilder) BuildRaydiumSell(ctx context.Context, mint string, tokenAmount float64, slippageBps int, wallet string) (routing.BuildResult, error) {
	return f.raydiumResult, f.raydiumErr
}
func (f *fakeBuilder) BuildPostGraduationSell(ctx context.Context, mint string, tokenAmount float64, slippageBps int, wallet, aggregatorURL string) (routing.BuildResult, error) {
	return routing.BuildResult{}, assert.AnError
}
func (f *fakeBuilder) BuildPostGraduationBuy(ctx context.Context, mint string, solLamports uint64, slippageBps int, wallet, aggregatorURL string) (routing.BuildResult, error) {
	return routing.BuildResult{}, assert.AnError
}

var _ routing.Builder = (*fakeBuilder)(nil)

// fakeJournalStore is an in-memory journal.Store for tests.
type fakeJournalStore struct {
	records []journal.TradeRecord
}

func (s *fakeJournalStore) RecordTrade(ctx context.Context, r journal.TradeRecord) error {
	s.records = append(s.records, r)
	return nil
}

// newFakeRPCServer answers every RPC method the executor's exit paths
// touch: a nonzero token balance (so the curve path does not take the
// already-sold shortcut), direct send, confirmation polling, and empty
// settlement lookups.
func newFakeRPCServer(t *testing.T) *httptest.Server {
	t.Helper()
	confirmCalls := 0
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var env struct {
			Method string `json:"method"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&env))
		w.Header().Set("Content-Type", "application/json")

		switch env.Method {
		case "getTokenAccountsByOwner":
			w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"value":[{"account":{"data":{"parsed":{"info":{"tokenAmount":{"amount":"1000000"}}}}}}]}}`))
		case "sendTransaction":
			w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"livesig123"}`))
		case "getSignatureStatuses":
			confirmCalls++
			if confirmCalls < 2 {
				w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"value":[null]}}`))
				return
			}
			w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"value":[{"slot":1,"confirmationStatus":"confirmed"}]}}`))
		case "getTransaction":
			w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":null}`))
		case "getSignaturesForAddress":
			w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":[]}`))
		default:
			w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":null}`))
		}
	}))
}

func newFailingBundleServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
}

func newTestExecutor(t *testing.T, builder routing.Builder) (*Executor, *positions.Manager, *capital.Manager, *fakeJournalStore, uuid.UUID) {
	t.Helper()

	rpcSrv := newFakeRPCServer(t)
	t.Cleanup(rpcSrv.Close)
	bundleSrv := newFailingBundleServer(t)
	t.Cleanup(bundleSrv.Close)

	rpc := solana.NewHTTPClient(rpcSrv.URL)
	sub := submission.New(rpc, bundleSrv.URL)
	resolver := settlement.NewResolver(rpc)
	store := &fakeJournalStore{}
	jr := journal.New(store)
	eventBus := bus.New()

	manager := positions.NewManager()
	capitalMgr := capital.NewManager(1_000_000_000)
	strategyID := uuid.New()
	capitalMgr.RegisterStrategy(strategyID, capital.Cap{AllocationPercent: decimal.NewFromInt(100), MaxSlots: 10})

	kp, err := solwallet.Generate()
	require.NoError(t, err)
	signer := signing.NewDevKeySigner(kp, 0)

	exec := New(manager, nil, capitalMgr, builder, resolver, sub, rpc, eventBus, jr,
		WithConfig(Config{ConfirmTimeout: 5 * time.Second, BundleWaitTimeout: 500 * time.Millisecond, MaxExitRetries: 1}),
		WithDefaultSigner(signer),
	)
	return exec, manager, capitalMgr, store, strategyID
}

func TestExecuteExit_DEXSellHappyPath(t *testing.T) {
	builder := &fakeBuilder{
		curveState: routing.CurveState{IsComplete: true},
		raydiumResult: routing.BuildResult{
			TxB64:       base64.StdEncoding.EncodeToString([]byte("unsigned tx bytes")),
			ExpectedOut: 1.5,
			Label:       "Raydium",
		},
	}
	exec, manager, capitalMgr, store, strategyID := newTestExecutor(t, builder)

	pos, err := manager.OpenPosition(context.Background(), uuid.New(), strategyID, "MintAAA", nil,
		1.0, 1000, 0.001, positions.DefaultExitConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, capitalMgr.Reserve(context.Background(), strategyID, pos.ID, 1_000_000_000))

	err = exec.executeExit(context.Background(), ExitCommand{
		PositionID: pos.ID, Reason: positions.ExitReasonTakeProfit, ExitPercent: 100, Urgency: positions.UrgencyMedium,
	})
	require.NoError(t, err)

	closed, ok := manager.GetPosition(pos.ID)
	require.True(t, ok)
	assert.Equal(t, positions.StatusClosed, closed.Status)
	require.Len(t, store.records, 1)
	assert.Equal(t, string(positions.ExitReasonTakeProfit), store.records[0].ExitReason)
}

func TestExecuteExit_CurveZeroBalanceInfersAlreadySold(t *testing.T) {
	builder := &fakeBuilder{curveState: routing.CurveState{IsComplete: false}}
	exec, manager, _, store, strategyID := newTestExecutor(t, builder)

	// Override the RPC behind the executor to report a zero token balance
	// so the curve path takes the already-sold shortcut instead of the
	// happy-path server's nonzero balance.
	rpcSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var env struct {
			Method string `json:"method"`
		}
		json.NewDecoder(r.Body).Decode(&env)
		w.Header().Set("Content-Type", "application/json")
		if env.Method == "getTokenAccountsByOwner" {
			w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"value":[]}}`))
			return
		}
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":[]}`))
	}))
	defer rpcSrv.Close()
	exec.rpc = solana.NewHTTPClient(rpcSrv.URL)
	exec.resolver = settlement.NewResolver(exec.rpc)

	pos, err := manager.OpenPosition(context.Background(), uuid.New(), strategyID, "MintBBB", nil,
		1.0, 1000, 0.001, positions.DefaultExitConfig(), nil)
	require.NoError(t, err)

	err = exec.executeExit(context.Background(), ExitCommand{
		PositionID: pos.ID, Reason: positions.ExitReasonStopLoss, ExitPercent: 100, Urgency: positions.UrgencyHigh,
	})
	require.NoError(t, err)

	closed, ok := manager.GetPosition(pos.ID)
	require.True(t, ok)
	assert.Equal(t, positions.StatusClosed, closed.Status)
	require.Len(t, store.records, 1)
	assert.Contains(t, store.records[0].ExitReason, string(positions.ExitReasonAlreadySold))
}

func TestExecuteExit_MissingSignerResetsAndErrors(t *testing.T) {
	builder := &fakeBuilder{curveState: routing.CurveState{IsComplete: true}}
	exec, manager, _, _, strategyID := newTestExecutor(t, builder)
	exec.defaultSigner = nil

	pos, err := manager.OpenPosition(context.Background(), uuid.New(), strategyID, "MintCCC", nil,
		1.0, 1000, 0.001, positions.DefaultExitConfig(), nil)
	require.NoError(t, err)

	err = exec.executeExit(context.Background(), ExitCommand{
		PositionID: pos.ID, Reason: positions.ExitReasonManual, ExitPercent: 100, Urgency: positions.UrgencyLow,
	})
	require.Error(t, err)

	reset, ok := manager.GetPosition(pos.ID)
	require.True(t, ok)
	assert.Equal(t, positions.StatusOpen, reset.Status)
}

func TestExecuteExit_ReentryOnPendingExitProceeds(t *testing.T) {
	builder := &fakeBuilder{
		curveState: routing.CurveState{IsComplete: true},
		raydiumResult: routing.BuildResult{
			TxB64:       base64.StdEncoding.EncodeToString([]byte("unsigned tx bytes")),
			ExpectedOut: 0.5,
			Label:       "Raydium",
		},
	}
	exec, manager, capitalMgr, _, strategyID := newTestExecutor(t, builder)

	pos, err := manager.OpenPosition(context.Background(), uuid.New(), strategyID, "MintDDD", nil,
		1.0, 1000, 0.001, positions.DefaultExitConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, capitalMgr.Reserve(context.Background(), strategyID, pos.ID, 1_000_000_000))

	ok, err := manager.TransitionStatus(context.Background(), pos.ID, positions.StatusOpen, positions.StatusPendingExit)
	require.NoError(t, err)
	require.True(t, ok)

	err = exec.executeExit(context.Background(), ExitCommand{
		PositionID: pos.ID, Reason: positions.ExitReasonTimeLimit, ExitPercent: 100, Urgency: positions.UrgencyMedium,
	})
	require.NoError(t, err)

	closed, found := manager.GetPosition(pos.ID)
	require.True(t, found)
	assert.Equal(t, positions.StatusClosed, closed.Status)
}
