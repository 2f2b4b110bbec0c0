package graduation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-token-lab/internal/bus"
	"solana-token-lab/internal/positions"
	"solana-token-lab/internal/routing"
)

// fakeBuilder implements routing.Builder, returning a caller-programmed
// curve state for GetCurveState and failing every build method (unused by
// the Tracker).
type fakeBuilder struct {
	states map[string]routing.CurveState
}

func (f *fakeBuilder) GetCurveState(ctx context.Context, mint string) (routing.CurveState, error) {
	state, ok := f.states[mint]
	if !ok {
		return routing.CurveState{}, assert.AnError
	}
	return state, nil
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
	return routing.BuildResult{}, assert.AnError
}

// fakeExitSubmitter records every ExitSignal handed to it.
type fakeExitSubmitter struct {
	submitted []positions.ExitSignal
}

func (f *fakeExitSubmitter) SubmitSignal(sig positions.ExitSignal) {
	f.submitted = append(f.submitted, sig)
}

func openTestPosition(t *testing.T, m *positions.Manager, mint string) *positions.Position {
	t.Helper()
	p, err := m.OpenPosition(context.Background(), uuid.Nil, uuid.Nil, mint, nil, 1.0, 100, 0.01, positions.DefaultExitConfig(), nil)
	require.NoError(t, err)
	return p
}

func TestTracker_AnnouncesGraduationImminentOncePerMint(t *testing.T) {
	manager := positions.NewManager()
	p := openTestPosition(t, manager, "Mint1111111111111111111111111111111111111")

	builder := &fakeBuilder{states: map[string]routing.CurveState{
		p.TokenMint: {
			VirtualSOLReserves:   85,
			VirtualTokenReserves: 1000,
			GraduationThreshold:  100,
		},
	}}
	eventBus := bus.New()
	exits := &fakeExitSubmitter{}
	ch, cancel := eventBus.Subscribe(bus.TopicGraduationImminent)
	defer cancel()

	tr := New(manager, builder, eventBus, exits)
	tr.pollAll(context.Background())
	tr.pollAll(context.Background())

	select {
	case evt := <-ch:
		assert.Equal(t, p.TokenMint, evt.Payload["mint"])
	case <-time.After(time.Second):
		t.Fatal("expected a graduation_imminent event")
	}

	select {
	case <-ch:
		t.Fatal("graduation_imminent should only be announced once per mint")
	default:
	}

	require.NotEmpty(t, exits.submitted)
}

func TestTracker_AnnouncesGraduatedOnceCurveCompletes(t *testing.T) {
	manager := positions.NewManager()
	p := openTestPosition(t, manager, "Mint2222222222222222222222222222222222222")

	builder := &fakeBuilder{states: map[string]routing.CurveState{
		p.TokenMint: {IsComplete: true},
	}}
	eventBus := bus.New()
	exits := &fakeExitSubmitter{}
	ch, cancel := eventBus.Subscribe(bus.TopicGraduated)
	defer cancel()

	tr := New(manager, builder, eventBus, exits)
	tr.pollAll(context.Background())
	tr.pollAll(context.Background())

	select {
	case evt := <-ch:
		assert.Equal(t, p.TokenMint, evt.Payload["mint"])
	case <-time.After(time.Second):
		t.Fatal("expected a graduated event")
	}

	select {
	case <-ch:
		t.Fatal("graduated should only be announced once per mint")
	default:
	}

	assert.Empty(t, exits.submitted, "a completed curve is not a valid price source")
}

func TestTracker_SkipsMintsTheBuilderCannotResolve(t *testing.T) {
	manager := positions.NewManager()
	openTestPosition(t, manager, "Mint3333333333333333333333333333333333333")

	builder := &fakeBuilder{states: map[string]routing.CurveState{}}
	eventBus := bus.New()
	exits := &fakeExitSubmitter{}

	tr := New(manager, builder, eventBus, exits)
	assert.NotPanics(t, func() { tr.pollAll(context.Background()) })
	assert.Empty(t, exits.submitted)
}
