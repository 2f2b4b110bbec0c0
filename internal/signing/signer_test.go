package signing

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-token-lab/internal/solwallet"
)

func TestSign_PolicyRefusal(t *testing.T) {
	kp, err := solwallet.Generate()
	require.NoError(t, err)
	signer := NewDevKeySigner(kp, 0.5)

	res, err := signer.Sign(context.Background(), Request{
		UnsignedTxB64:      base64.StdEncoding.EncodeToString([]byte("tx bytes")),
		EstimatedAmountSOL: 1.0,
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.PolicyViolation)
}

func TestSign_Success(t *testing.T) {
	kp, err := solwallet.Generate()
	require.NoError(t, err)
	signer := NewDevKeySigner(kp, 0)

	res, err := signer.Sign(context.Background(), Request{
		UnsignedTxB64:      base64.StdEncoding.EncodeToString([]byte("tx bytes")),
		EstimatedAmountSOL: 10.0,
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.SignedTxB64)
	assert.NotEmpty(t, res.Signature)
}

func TestSign_MalformedTx(t *testing.T) {
	kp, err := solwallet.Generate()
	require.NoError(t, err)
	signer := NewDevKeySigner(kp, 0)

	res, err := signer.Sign(context.Background(), Request{UnsignedTxB64: "not-base64!!"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Err)
}

func TestWalletAddress(t *testing.T) {
	kp, err := solwallet.Generate()
	require.NoError(t, err)
	signer := NewDevKeySigner(kp, 0)
	assert.Equal(t, kp.PublicKey(), signer.WalletAddress())
}
