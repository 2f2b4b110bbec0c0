// Package submission implements the Submitter: direct RPC send-and-confirm
// plus the bundle-service fast path, with the internal counters the
// Executor surfaces through /status and Prometheus.
package submission

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"solana-token-lab/internal/errs"
	"solana-token-lab/internal/observability"
	"solana-token-lab/internal/solana"
	"solana-token-lab/internal/txcodec"
)

// BundleState is the terminal or pending state of a submitted bundle.
type BundleState string

const (
	BundleLanded  BundleState = "Landed"
	BundleFailed  BundleState = "Failed"
	BundleDropped BundleState = "Dropped"
	BundlePending BundleState = "Pending"
)

// DefaultBundleTipLamports is the tip attached to a bundle submission when
// the caller does not specify one (spec.md §4.H).
const DefaultBundleTipLamports = 10_000

// ConfirmPollInterval is how often send_and_confirm polls signature status.
const ConfirmPollInterval = 500 * time.Millisecond

// Counters tracks lifetime submission outcomes and a rolling landing
// latency average, mirroring the "sent/confirmed/failed/rolling average"
// internal counters spec.md §4.E calls for.
type Counters struct {
	mu                    sync.Mutex
	sent                  uint64
	confirmed             uint64
	failed                uint64
	landingLatencyAvgSecs float64
	landingSamples        uint64
}

func (c *Counters) recordSent()     { c.mu.Lock(); c.sent++; c.mu.Unlock() }
func (c *Counters) recordFailed()   { c.mu.Lock(); c.failed++; c.mu.Unlock() }
func (c *Counters) recordConfirmed(latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.confirmed++
	c.landingSamples++
	// Incremental mean, avoids keeping the whole sample history.
	c.landingLatencyAvgSecs += (latency.Seconds() - c.landingLatencyAvgSecs) / float64(c.landingSamples)
}

// Snapshot is a point-in-time read of Counters.
type Snapshot struct {
	Sent                  uint64
	Confirmed             uint64
	Failed                uint64
	LandingLatencyAvgSecs float64
}

func (c *Counters) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Sent: c.sent, Confirmed: c.confirmed, Failed: c.failed,
		LandingLatencyAvgSecs: c.landingLatencyAvgSecs,
	}
}

// Submitter sends signed transactions directly or via a bundle service.
type Submitter struct {
	rpc        *solana.HTTPClient
	httpClient *http.Client
	bundleURL  string
	counters   Counters
	logger     *log.Logger

	nextBundleID atomic.Uint64
	bundlesMu    sync.Mutex
	bundles      map[string]BundleState
}

// New builds a Submitter over a Solana RPC client and a bundle-service URL.
func New(rpc *solana.HTTPClient, bundleURL string) *Submitter {
	return &Submitter{
		rpc:        rpc,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		bundleURL:  bundleURL,
		logger:     log.New(os.Stdout, "[submission] ", log.LstdFlags|log.Lshortfile),
		bundles:    make(map[string]BundleState),
	}
}

// Counters returns a snapshot of lifetime submission counters.
func (s *Submitter) Counters() Snapshot { return s.counters.Snapshot() }

// SendAndConfirm submits a signed transaction directly and polls for
// confirmation every 500ms until timeout.
func (s *Submitter) SendAndConfirm(ctx context.Context, signedTxB64 string, timeout time.Duration) (string, error) {
	started := time.Now()
	s.counters.recordSent()

	sig, err := s.rpc.SendTransaction(ctx, signedTxB64, true)
	if err != nil {
		s.counters.recordFailed()
		return "", errs.Wrap(errs.KindSubmission, "send transaction", err)
	}
	if _, decErr := txcodec.DecodeSignature(sig); decErr != nil {
		s.logger.Printf("RPC returned a malformed signature %q: %v", sig, decErr)
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(ConfirmPollInterval)
	defer ticker.Stop()

	for {
		statuses, err := s.rpc.GetSignatureStatuses(ctx, []string{sig})
		if err == nil && len(statuses) > 0 && statuses[0] != nil {
			status := statuses[0]
			if status.Err != nil {
				s.counters.recordFailed()
				return sig, errs.New(errs.KindSubmission, fmt.Sprintf("transaction %s errored on-chain", sig))
			}
			if status.ConfirmationStatus == "confirmed" || status.ConfirmationStatus == "finalized" {
				s.counters.recordConfirmed(time.Since(started))
				return sig, nil
			}
		}

		if time.Now().After(deadline) {
			s.counters.recordFailed()
			return sig, errs.New(errs.KindConfirmTimeout, fmt.Sprintf("confirmation of %s timed out after %s", sig, timeout))
		}

		select {
		case <-ctx.Done():
			return sig, ctx.Err()
		case <-ticker.C:
		}
	}
}

type bundleSubmitRequest struct {
	Transactions []string `json:"transactions"`
	TipLamports  uint64   `json:"tip_lamports"`
}

type bundleSubmitResponse struct {
	BundleID string `json:"bundle_id"`
}

// SendBundleFast submits transactions with the default tip, for the common
// case where no caller-specified tip is needed.
func (s *Submitter) SendBundleFast(ctx context.Context, signedTxsB64 []string) (string, error) {
	return s.SendBundle(ctx, signedTxsB64, DefaultBundleTipLamports)
}

// SendBundle submits a bundle with an explicit tip and returns its id.
func (s *Submitter) SendBundle(ctx context.Context, signedTxsB64 []string, tipLamports uint64) (string, error) {
	s.counters.recordSent()

	body, err := json.Marshal(bundleSubmitRequest{Transactions: signedTxsB64, TipLamports: tipLamports})
	if err != nil {
		s.counters.recordFailed()
		return "", errs.Wrap(errs.KindInternal, "marshal bundle request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.bundleURL+"/bundles", bytes.NewReader(body))
	if err != nil {
		s.counters.recordFailed()
		return "", errs.Wrap(errs.KindInternal, "create bundle request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.counters.recordFailed()
		return "", errs.Wrap(errs.KindExternalAPI, "submit bundle", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var parsed bundleSubmitResponse
	if err := json.Unmarshal(raw, &parsed); err != nil || parsed.BundleID == "" {
		s.counters.recordFailed()
		return "", errs.New(errs.KindSubmission, "bundle service returned no bundle id")
	}

	s.bundlesMu.Lock()
	s.bundles[parsed.BundleID] = BundlePending
	s.bundlesMu.Unlock()

	return parsed.BundleID, nil
}

type bundleStatusResponse struct {
	Status string `json:"status"`
}

// WaitForBundle polls the bundle service until a terminal state or timeout,
// returning whatever state it last observed (Pending on timeout).
func (s *Submitter) WaitForBundle(ctx context.Context, bundleID string, timeout time.Duration) (BundleState, error) {
	started := time.Now()
	deadline := started.Add(timeout)
	ticker := time.NewTicker(ConfirmPollInterval)
	defer ticker.Stop()

	for {
		state, err := s.pollBundleStatus(ctx, bundleID)
		if err == nil {
			s.bundlesMu.Lock()
			s.bundles[bundleID] = state
			s.bundlesMu.Unlock()

			switch state {
			case BundleLanded:
				s.counters.recordConfirmed(time.Since(started))
				observability.RecordBundleOutcome(true)
				return state, nil
			case BundleFailed, BundleDropped:
				s.counters.recordFailed()
				observability.RecordBundleOutcome(false)
				return state, nil
			}
		}

		if time.Now().After(deadline) {
			return BundlePending, errs.New(errs.KindConfirmTimeout, fmt.Sprintf("bundle %s wait timed out after %s", bundleID, timeout))
		}

		select {
		case <-ctx.Done():
			return BundlePending, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Submitter) pollBundleStatus(ctx context.Context, bundleID string) (BundleState, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/bundles/%s", s.bundleURL, bundleID), nil)
	if err != nil {
		return "", err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var parsed bundleStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	switch BundleState(parsed.Status) {
	case BundleLanded, BundleFailed, BundleDropped, BundlePending:
		return BundleState(parsed.Status), nil
	default:
		return BundlePending, nil
	}
}
