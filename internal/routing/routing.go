// Package routing builds unsigned transactions for curve sells, pool
// sells, and DEX-aggregator swaps, classifying the external service's
// refusals into the categories the Executor's fallback chain branches on.
package routing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"solana-token-lab/internal/errs"
)

// BuildResult is the uniform shape every build method returns.
type BuildResult struct {
	TxB64       string
	ExpectedOut float64
	PriceImpact float64
	Label       string
}

// CurveState is the bonding-curve completion state for a mint.
type CurveState struct {
	IsComplete bool
	// VirtualSOLReserves and VirtualTokenReserves back GraduationProgress;
	// expressed in their native on-chain units.
	VirtualSOLReserves   uint64
	VirtualTokenReserves uint64
	GraduationThreshold  uint64
}

// GraduationProgress estimates percent-to-graduation from virtual reserves.
func (s CurveState) GraduationProgress() float64 {
	if s.GraduationThreshold == 0 {
		return 0
	}
	pct := float64(s.VirtualSOLReserves) / float64(s.GraduationThreshold) * 100.0
	if pct > 100 {
		pct = 100
	}
	return pct
}

// ErrorClass classifies a build failure for the Executor's fallback logic
// (spec.md §4.C).
type ErrorClass string

const (
	// ClassGraduated means the curve is complete; switch to the DEX path.
	ClassGraduated ErrorClass = "graduated"
	// ClassRetryable means the same route may succeed shortly (indexing
	// lag, transient "no route").
	ClassRetryable ErrorClass = "retryable"
	// ClassTerminal means retrying this route is pointless.
	ClassTerminal ErrorClass = "terminal"
)

// Classify inspects a build error's message and buckets it, per spec.md
// §4.C: "graduated" switches route; TOKEN_NOT_TRADABLE/no route/decoding
// error are retryable; anything else is terminal.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassTerminal
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "graduated") || strings.Contains(msg, "is_complete") || strings.Contains(msg, "6023"):
		return ClassGraduated
	case strings.Contains(msg, "token_not_tradable"),
		strings.Contains(msg, "not tradable"),
		strings.Contains(msg, "no route"),
		strings.Contains(msg, "error decoding response"),
		strings.Contains(msg, "decoding error"):
		return ClassRetryable
	default:
		return ClassTerminal
	}
}

// Builder is the five-method capability the Executor depends on (spec.md
// §9 "dynamic dispatch over route builders").
type Builder interface {
	GetCurveState(ctx context.Context, mint string) (CurveState, error)
	BuildCurveSell(ctx context.Context, mint string, tokenAmount float64, slippageBps int, wallet string) (BuildResult, error)
	BuildRaydiumSell(ctx context.Context, mint string, tokenAmount float64, slippageBps int, wallet string) (BuildResult, error)
	BuildPostGraduationSell(ctx context.Context, mint string, tokenAmount float64, slippageBps int, wallet, aggregatorURL string) (BuildResult, error)
	BuildPostGraduationBuy(ctx context.Context, mint string, solLamports uint64, slippageBps int, wallet, aggregatorURL string) (BuildResult, error)
}

// HTTPBuilder implements Builder against external curve-reader, pool, and
// DEX-aggregator HTTP services. Each call is a single request with no
// retry; aggregator calls are rate limited (spec.md §7 RateLimited).
type HTTPBuilder struct {
	client        *http.Client
	curveURL      string
	poolURL       string
	aggregatorURL string
	limiter       *rate.Limiter
}

// NewHTTPBuilder constructs an HTTPBuilder. ratePerSecond bounds aggregator
// calls; burst allows short spikes.
func NewHTTPBuilder(curveURL, poolURL, aggregatorURL string, ratePerSecond float64, burst int) *HTTPBuilder {
	return &HTTPBuilder{
		client:        &http.Client{Timeout: 10 * time.Second},
		curveURL:      curveURL,
		poolURL:       poolURL,
		aggregatorURL: aggregatorURL,
		limiter:       rate.NewLimiter(rate.Limit(ratePerSecond), burst),
	}
}

type curveStateResponse struct {
	IsComplete           bool   `json:"is_complete"`
	VirtualSOLReserves   uint64 `json:"virtual_sol_reserves"`
	VirtualTokenReserves uint64 `json:"virtual_token_reserves"`
	GraduationThreshold  uint64 `json:"graduation_threshold"`
}

// GetCurveState reads curve completion state for a mint.
func (b *HTTPBuilder) GetCurveState(ctx context.Context, mint string) (CurveState, error) {
	var resp curveStateResponse
	if err := b.getJSON(ctx, fmt.Sprintf("%s/curve/%s", b.curveURL, mint), &resp); err != nil {
		return CurveState{}, errs.Wrap(errs.KindExternalAPI, "get curve state", err)
	}
	return CurveState{
		IsComplete:           resp.IsComplete,
		VirtualSOLReserves:   resp.VirtualSOLReserves,
		VirtualTokenReserves: resp.VirtualTokenReserves,
		GraduationThreshold:  resp.GraduationThreshold,
	}, nil
}

// BuildCurveSell builds a bonding-curve sell. Fails with a "graduated"
// classified error when the curve has already completed.
func (b *HTTPBuilder) BuildCurveSell(ctx context.Context, mint string, tokenAmount float64, slippageBps int, wallet string) (BuildResult, error) {
	state, err := b.GetCurveState(ctx, mint)
	if err != nil {
		return BuildResult{}, err
	}
	if state.IsComplete {
		return BuildResult{}, errs.New(errs.KindBuild, "graduated: curve is complete")
	}

	payload := map[string]interface{}{
		"mint": mint, "token_amount": tokenAmount, "slippage_bps": slippageBps, "wallet": wallet,
	}
	return b.buildFrom(ctx, fmt.Sprintf("%s/curve/build_sell", b.curveURL), payload, "curve")
}

// BuildRaydiumSell builds a Raydium pool sell. When no pool exists for the
// mint it fails with the pool service's error.
func (b *HTTPBuilder) BuildRaydiumSell(ctx context.Context, mint string, tokenAmount float64, slippageBps int, wallet string) (BuildResult, error) {
	payload := map[string]interface{}{
		"mint": mint, "token_amount": tokenAmount, "slippage_bps": slippageBps, "wallet": wallet,
	}
	return b.buildFrom(ctx, fmt.Sprintf("%s/pool/build_sell", b.poolURL), payload, "Raydium")
}

// BuildPostGraduationSell routes a sell through the generic DEX aggregator.
// May fail with TOKEN_NOT_TRADABLE during indexing lag (retryable).
func (b *HTTPBuilder) BuildPostGraduationSell(ctx context.Context, mint string, tokenAmount float64, slippageBps int, wallet, aggregatorURL string) (BuildResult, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return BuildResult{}, errs.Wrap(errs.KindRateLimited, "aggregator rate limit wait", err)
	}
	url := aggregatorURL
	if url == "" {
		url = b.aggregatorURL
	}
	payload := map[string]interface{}{
		"mint": mint, "side": "sell", "amount": tokenAmount, "slippage_bps": slippageBps, "wallet": wallet,
	}
	return b.buildFrom(ctx, fmt.Sprintf("%s/swap", url), payload, "Jupiter")
}

// BuildPostGraduationBuy is the symmetric buy path through the aggregator.
func (b *HTTPBuilder) BuildPostGraduationBuy(ctx context.Context, mint string, solLamports uint64, slippageBps int, wallet, aggregatorURL string) (BuildResult, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return BuildResult{}, errs.Wrap(errs.KindRateLimited, "aggregator rate limit wait", err)
	}
	url := aggregatorURL
	if url == "" {
		url = b.aggregatorURL
	}
	payload := map[string]interface{}{
		"mint": mint, "side": "buy", "amount_lamports": solLamports, "slippage_bps": slippageBps, "wallet": wallet,
	}
	return b.buildFrom(ctx, fmt.Sprintf("%s/swap", url), payload, "Jupiter")
}

type buildResponse struct {
	TxB64       string  `json:"tx_b64"`
	ExpectedOut float64 `json:"expected_out"`
	PriceImpact float64 `json:"price_impact"`
	Error       string  `json:"error"`
}

func (b *HTTPBuilder) buildFrom(ctx context.Context, url string, payload map[string]interface{}, label string) (BuildResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return BuildResult{}, errs.Wrap(errs.KindInternal, "marshal build request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return BuildResult{}, errs.Wrap(errs.KindInternal, "create build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return BuildResult{}, errs.Wrap(errs.KindExternalAPI, "build request transport", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return BuildResult{}, errs.Wrap(errs.KindExternalAPI, "read build response", err)
	}

	var parsed buildResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return BuildResult{}, errs.Wrap(errs.KindBuild, "decoding error: malformed build response", err)
	}
	if parsed.Error != "" {
		return BuildResult{}, errs.New(errs.KindBuild, parsed.Error)
	}
	if resp.StatusCode >= 400 {
		return BuildResult{}, errs.New(errs.KindBuild, fmt.Sprintf("build request failed with status %d", resp.StatusCode))
	}

	return BuildResult{
		TxB64:       parsed.TxB64,
		ExpectedOut: parsed.ExpectedOut,
		PriceImpact: parsed.PriceImpact,
		Label:       label,
	}, nil
}

func (b *HTTPBuilder) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}

var _ Builder = (*HTTPBuilder)(nil)
