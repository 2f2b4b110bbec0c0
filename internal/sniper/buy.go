package sniper

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"solana-token-lab/internal/bus"
	"solana-token-lab/internal/observability"
	"solana-token-lab/internal/positions"
	"solana-token-lab/internal/routing"
	"solana-token-lab/internal/signing"
	"solana-token-lab/internal/solwallet"
)

// attemptPostGradBuy is the no-existing-position branch of handleGraduated:
// a quick-flip aggregator buy the instant a curve graduates, guarded by a
// gas-reserve check, a max-concurrent-positions check, and a singleflight
// dedup so a replayed graduated event never double-buys the same mint
// (spec.md §4.J, §8 scenario 6).
func (s *Sniper) attemptPostGradBuy(ctx context.Context, mint, symbol string) {
	if s.signer == nil {
		s.logger.Printf("post-grad entry skipped for %s - no signer configured", symbol)
		return
	}

	open := s.manager.GetOpenPositions()
	if len(open) >= s.cfg.MaxConcurrentPositions {
		s.logger.Printf("post-grad entry skipped for %s - max positions reached (%d/%d)", symbol, len(open), s.cfg.MaxConcurrentPositions)
		return
	}

	entrySOL := s.cfg.EntrySOL
	required := entrySOL + s.cfg.GasReserveSOL
	balance, err := solwallet.BalanceSOL(ctx, s.rpc, s.signer.WalletAddress())
	if err != nil {
		s.logger.Printf("post-grad entry skipped for %s - balance check failed: %v", symbol, err)
		return
	}
	if balance < required {
		s.logger.Printf("post-grad entry skipped for %s - insufficient balance (%.4f SOL < %.4f SOL needed)", symbol, balance, required)
		return
	}

	s.eventBus.Publish(bus.TopicPostGradEntrySignal, map[string]interface{}{
		"mint":       mint,
		"symbol":     symbol,
		"entry_sol":  entrySOL,
		"entry_type": "post_graduation_quick_flip",
	}, "sniper")

	_, _, _ = s.buyGroup.Do(mint, func() (interface{}, error) {
		s.executePostGradBuyWithRetry(ctx, mint, symbol, entrySOL)
		return nil, nil
	})
}

// executePostGradBuyWithRetry is spec.md §4.J / §8 scenario 5's retry
// ladder for aggregator indexing lag: MAX_RETRIES=5; after failed attempt n
// (counting from 0) it waits 10*(n+1) seconds before the next attempt, on a
// retryable build error.
func (s *Sniper) executePostGradBuyWithRetry(ctx context.Context, mint, symbol string, entrySOL float64) {
	var lastErr error
	for attempt := 0; attempt < s.cfg.PostGradMaxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(10*attempt) * time.Second
			s.logger.Printf("retry %d/%d for post-grad buy %s - waiting %s for aggregator indexing", attempt+1, s.cfg.PostGradMaxRetries, symbol, delay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}

		err := s.executePostGradBuyOnce(ctx, mint, symbol, entrySOL)
		if err == nil {
			return
		}
		lastErr = err
		if routing.Classify(err) != routing.ClassRetryable {
			break
		}
		s.logger.Printf("post-grad buy for %s failed with retryable error (attempt %d/%d): %v", symbol, attempt+1, s.cfg.PostGradMaxRetries, err)
	}

	s.logger.Printf("post-grad buy for %s failed permanently: %v", symbol, lastErr)
	observability.RecordSniperPostGradBuy("exhausted_retries")
	s.eventBus.Publish(bus.TopicPostGradBuyFailed, map[string]interface{}{
		"mint":   mint,
		"symbol": symbol,
		"error":  fmt.Sprint(lastErr),
		"stage":  "exhausted_retries",
	}, "sniper")
}

func (s *Sniper) executePostGradBuyOnce(ctx context.Context, mint, symbol string, entrySOL float64) error {
	lamports := uint64(entrySOL * solwallet.LamportsPerSOL)

	built, err := s.builder.BuildPostGraduationBuy(ctx, mint, lamports, s.cfg.SlippageBps, s.signer.WalletAddress(), s.cfg.AggregatorURL)
	if err != nil {
		return fmt.Errorf("build post-graduation buy: %w", err)
	}

	req := signing.Request{
		UnsignedTxB64:      built.TxB64,
		EstimatedAmountSOL: entrySOL,
		Description:        fmt.Sprintf("post-grad buy: %s for %.4f SOL", symbol, entrySOL),
	}
	result, err := s.signer.Sign(ctx, req)
	if err != nil {
		return fmt.Errorf("sign post-graduation buy: %w", err)
	}
	if !result.Success {
		msg := result.PolicyViolation
		if msg == "" {
			msg = result.Err
		}
		observability.RecordSniperPostGradBuy("sign_rejected")
		s.eventBus.Publish(bus.TopicPostGradBuyFailed, map[string]interface{}{
			"mint":   mint,
			"symbol": symbol,
			"error":  msg,
			"stage":  "sign_rejected",
		}, "sniper")
		return fmt.Errorf("signing rejected: %s", msg)
	}

	bundleID, err := s.submitter.SendBundleFast(ctx, []string{result.SignedTxB64})
	if err != nil {
		return fmt.Errorf("send post-graduation buy: %w", err)
	}
	signature := bundleID
	if result.Signature != "" {
		signature = result.Signature
	}

	tokensReceived := built.ExpectedOut
	entryPrice := 0.0
	if tokensReceived > 0 {
		entryPrice = entrySOL / tokensReceived
	}

	edgeID := uuid.New()
	registered := false
	if _, err := s.manager.OpenPosition(ctx, edgeID, uuid.Nil, mint, &symbol, entrySOL, tokensReceived, entryPrice, positions.ForCurveBonding(), &signature); err != nil {
		s.logger.Printf("post-grad buy succeeded for %s but Position Manager registration failed: %v", symbol, err)
	} else {
		registered = true
	}

	s.logger.Printf("post-graduation buy executed for %s | %.0f tokens @ %.6f SOL | sig=%s", symbol, tokensReceived, entrySOL, shortSig(signature))
	observability.RecordSniperPostGradBuy("success")
	s.eventBus.Publish(bus.TopicPostGradBuySuccess, map[string]interface{}{
		"mint":                       mint,
		"symbol":                     symbol,
		"tokens_received":            tokensReceived,
		"entry_sol":                  entrySOL,
		"tx_signature":               signature,
		"route":                      built.Label,
		"signal_source":              "graduation_sniper",
		"position_manager_registered": registered,
	}, "sniper")
	return nil
}

// handleAutoExecutionSucceeded starts tracking a position that the strategy
// matcher opened off one of this Sniper's graduation-imminent signals, so a
// later graduated event races to sell it rather than falling through to the
// untracked-open-position or post-grad-buy branches.
func (s *Sniper) handleAutoExecutionSucceeded(evt bus.Event) {
	mint := payloadString(evt.Payload, "mint")
	tokens := payloadFloat(evt.Payload, "tokens_received")
	signalSource := payloadString(evt.Payload, "signal_source")
	if mint == "" || tokens <= 0 || signalSource != "graduation_sniper" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, tracked := s.states[mint]; tracked {
		return
	}
	s.states[mint] = StateWaiting
	s.sellAttempts[mint] = 0
	s.logger.Printf("auto-tracked graduation snipe position %s (%.0f tokens)", mint, tokens)
}

func shortSig(sig string) string {
	if len(sig) < 16 {
		return sig
	}
	return sig[:16]
}
