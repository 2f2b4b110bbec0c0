// Package txcodec converts transaction bytes between the base64 encoding
// most RPC and bundle-relay APIs speak and the base58 encoding Solana
// signatures and addresses use on the wire, following the decode/re-encode
// helpers in internal/ingestion/solana_helpers.go.
package txcodec

import (
	"encoding/base64"
	"fmt"

	"github.com/mr-tron/base58"
)

// Base64ToBase58 decodes a base64 transaction payload and re-encodes it as
// base58, the format some bundle submission services expect.
func Base64ToBase58(b64 string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", fmt.Errorf("decode base64 transaction: %w", err)
	}
	return base58.Encode(raw), nil
}

// Base58ToBase64 decodes a base58 transaction payload and re-encodes it as
// base64, the format most JSON-RPC submission methods expect.
func Base58ToBase64(b58 string) (string, error) {
	raw, err := base58.Decode(b58)
	if err != nil {
		return "", fmt.Errorf("decode base58 transaction: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeSignature validates and returns the raw bytes behind a base58
// Solana transaction signature. Signatures are always 64 bytes.
func DecodeSignature(sig string) ([]byte, error) {
	raw, err := base58.Decode(sig)
	if err != nil {
		return nil, fmt.Errorf("decode signature: %w", err)
	}
	if len(raw) != 64 {
		return nil, fmt.Errorf("signature %q decodes to %d bytes, want 64", sig, len(raw))
	}
	return raw, nil
}

// EncodeSignature base58-encodes 64 raw signature bytes.
func EncodeSignature(raw []byte) (string, error) {
	if len(raw) != 64 {
		return "", fmt.Errorf("signature must be 64 bytes, got %d", len(raw))
	}
	return base58.Encode(raw), nil
}
