package settlement

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"solana-token-lab/internal/solana"
)

func TestSettlementFromMeta_FeePayerNetsOutFee(t *testing.T) {
	meta := &solana.TransactionMeta{
		Fee:          5000,
		PreBalances:  []uint64{1_000_000_000},
		PostBalances: []uint64{1_250_000_000},
	}
	s, err := settlementFromMeta([]string{"wallet1", "other"}, meta, "wallet1", SourceOnchain)
	assert.NoError(t, err)
	assert.Equal(t, SourceOnchain, s.Source)
	assert.Equal(t, uint64(5000), s.GasLamports)
	assert.InDelta(t, 0.25, s.SOLDelta, 1e-9)
}

func TestSettlementFromMeta_WalletNotFound(t *testing.T) {
	meta := &solana.TransactionMeta{PreBalances: []uint64{1}, PostBalances: []uint64{1}}
	_, err := settlementFromMeta([]string{"other"}, meta, "wallet1", SourceOnchain)
	assert.Error(t, err)
}

func TestDisagrees(t *testing.T) {
	assert.False(t, Disagrees(1.0, 1.00005))
	assert.True(t, Disagrees(1.0, 1.001))
}

func TestCorrect_EstimatedSourceKeepsEstimate(t *testing.T) {
	got := Correct(0.42, Settlement{Source: SourceEstimated, SOLDelta: 0.99})
	assert.Equal(t, 0.42, got)
}

func TestCorrect_OnchainSourceOverrides(t *testing.T) {
	got := Correct(0.42, Settlement{Source: SourceOnchain, SOLDelta: 0.50})
	assert.Equal(t, 0.50, got)
}
