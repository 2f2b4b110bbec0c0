// Package solwallet manages the Signer's local keypair and exposes the
// on-curve check used to distinguish wallet addresses from program-derived
// addresses, mirroring the PDA derivation helper in
// internal/ingestion/rpc_sources.go.
package solwallet

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// Keypair is an ed25519 signing key plus its base58 public address.
type Keypair struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
}

// Generate creates a fresh random keypair.
func Generate() (*Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 keypair: %w", err)
	}
	return &Keypair{private: priv, public: pub}, nil
}

// FromBase58 loads a keypair from a base58-encoded 64-byte secret key, the
// format `solana-keygen` prints on the command line.
func FromBase58(secret string) (*Keypair, error) {
	raw, err := base58.Decode(secret)
	if err != nil {
		return nil, fmt.Errorf("decode base58 secret key: %w", err)
	}
	return fromRawSecret(raw)
}

// FromJSON loads a keypair from the Solana CLI's JSON keypair file format
// (a JSON array of the 64 raw secret key bytes).
func FromJSON(data []byte) (*Keypair, error) {
	var bytes []byte
	if err := json.Unmarshal(data, &bytes); err != nil {
		return nil, fmt.Errorf("parse json keypair: %w", err)
	}
	return fromRawSecret(bytes)
}

func fromRawSecret(raw []byte) (*Keypair, error) {
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("secret key is %d bytes, want %d", len(raw), ed25519.PrivateKeySize)
	}
	priv := ed25519.PrivateKey(raw)
	pub, ok := priv.Public().(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("derive public key: unexpected key type")
	}
	return &Keypair{private: priv, public: pub}, nil
}

// PublicKey returns the base58-encoded wallet address.
func (k *Keypair) PublicKey() string {
	return base58.Encode(k.public)
}

// Sign produces a raw 64-byte ed25519 signature over message.
func (k *Keypair) Sign(message []byte) []byte {
	return ed25519.Sign(k.private, message)
}

// IsOnCurve reports whether a 32-byte address lies on the ed25519 curve. A
// wallet address is always on-curve; a program-derived address (PDA) is
// deliberately pushed off-curve by its derivation bump seed.
func IsOnCurve(address []byte) bool {
	if len(address) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(address)
	return err == nil
}

// IsOnCurveBase58 decodes a base58 address and reports whether it is
// on-curve.
func IsOnCurveBase58(address string) (bool, error) {
	raw, err := base58.Decode(address)
	if err != nil {
		return false, fmt.Errorf("decode base58 address: %w", err)
	}
	return IsOnCurve(raw), nil
}
