// Package signing implements the Signer: it turns an unsigned transaction
// plus a policy envelope into a signed transaction or a structured refusal.
// A refusal is a normal outcome here, never a panic (spec.md §4.D).
package signing

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"

	"solana-token-lab/internal/solwallet"
)

// Request carries everything the Signer needs to decide whether to sign.
type Request struct {
	UnsignedTxB64      string
	EstimatedAmountSOL float64
	EdgeID             *uuid.UUID
	Description        string
}

// Result is the outcome of a sign attempt. Success is false whenever the
// request was refused, whether by policy or by a transport failure.
type Result struct {
	Success         bool
	SignedTxB64     string
	Signature       string
	Err             string
	PolicyViolation string
}

// Signer is the capability the Executor depends on.
type Signer interface {
	Sign(ctx context.Context, req Request) (Result, error)
	WalletAddress() string
}

// DevKeySigner signs with a single local keypair, refusing any request
// whose estimated amount exceeds a configured per-transaction policy cap.
// This is the "dev-key backend" spec.md §6 calls out among signing
// backends.
type DevKeySigner struct {
	keypair        *solwallet.Keypair
	maxAmountSOL   float64
	logger         *log.Logger
}

// NewDevKeySigner builds a DevKeySigner. maxAmountSOL <= 0 disables the cap.
func NewDevKeySigner(keypair *solwallet.Keypair, maxAmountSOL float64) *DevKeySigner {
	return &DevKeySigner{
		keypair:      keypair,
		maxAmountSOL: maxAmountSOL,
		logger:       log.New(os.Stdout, "[signer] ", log.LstdFlags|log.Lshortfile),
	}
}

// WalletAddress returns the base58 public key this signer signs with.
func (s *DevKeySigner) WalletAddress() string {
	return s.keypair.PublicKey()
}

// Sign decodes the unsigned transaction, applies policy, and signs.
func (s *DevKeySigner) Sign(ctx context.Context, req Request) (Result, error) {
	if s.maxAmountSOL > 0 && req.EstimatedAmountSOL > s.maxAmountSOL {
		violation := fmt.Sprintf("amount %.4f SOL exceeds policy cap %.4f SOL", req.EstimatedAmountSOL, s.maxAmountSOL)
		s.logger.Printf("refusing to sign: %s (%s)", violation, req.Description)
		return Result{Success: false, PolicyViolation: violation}, nil
	}

	raw, err := base64.StdEncoding.DecodeString(req.UnsignedTxB64)
	if err != nil {
		msg := fmt.Sprintf("malformed unsigned tx: %v", err)
		return Result{Success: false, Err: msg}, nil
	}
	if len(raw) == 0 {
		return Result{Success: false, Err: "empty unsigned transaction"}, nil
	}

	sig := s.keypair.Sign(raw)
	signedB64 := base64.StdEncoding.EncodeToString(append(sig, raw...))
	sigB64 := base64.StdEncoding.EncodeToString(sig)

	s.logger.Printf("signed %q (%.4f SOL, edge=%v)", req.Description, req.EstimatedAmountSOL, req.EdgeID)
	return Result{Success: true, SignedTxB64: signedB64, Signature: sigB64}, nil
}

var _ Signer = (*DevKeySigner)(nil)
