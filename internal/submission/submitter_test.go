package submission

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-token-lab/internal/solana"
)

type rpcEnvelope struct {
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

func newFakeRPCServer(t *testing.T, confirmedAfter int) *httptest.Server {
	t.Helper()
	calls := 0
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var env rpcEnvelope
		require.NoError(t, json.NewDecoder(r.Body).Decode(&env))

		w.Header().Set("Content-Type", "application/json")
		switch env.Method {
		case "sendTransaction":
			w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"sig123"}`))
		case "getSignatureStatuses":
			calls++
			if calls < confirmedAfter {
				w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"value":[null]}}`))
				return
			}
			w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"value":[{"slot":1,"confirmationStatus":"confirmed"}]}}`))
		default:
			w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":null}`))
		}
	}))
}

func TestSendAndConfirm_Success(t *testing.T) {
	srv := newFakeRPCServer(t, 2)
	defer srv.Close()

	rpc := solana.NewHTTPClient(srv.URL)
	sub := New(rpc, "http://unused")

	sig, err := sub.SendAndConfirm(context.Background(), "dGVzdA==", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "sig123", sig)
	assert.Equal(t, uint64(1), sub.Counters().Confirmed)
}

func TestSendBundleAndWait_Landed(t *testing.T) {
	bundleSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodPost {
			w.Write([]byte(`{"bundle_id":"bundle-1"}`))
			return
		}
		w.Write([]byte(`{"status":"Landed"}`))
	}))
	defer bundleSrv.Close()

	rpc := solana.NewHTTPClient("http://unused")
	sub := New(rpc, bundleSrv.URL)

	id, err := sub.SendBundleFast(context.Background(), []string{"tx1"})
	require.NoError(t, err)
	assert.Equal(t, "bundle-1", id)

	state, err := sub.WaitForBundle(context.Background(), id, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, BundleLanded, state)
	assert.Equal(t, uint64(1), sub.Counters().Confirmed)
}

func TestWaitForBundle_Failed(t *testing.T) {
	bundleSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"Failed"}`))
	}))
	defer bundleSrv.Close()

	rpc := solana.NewHTTPClient("http://unused")
	sub := New(rpc, bundleSrv.URL)

	state, err := sub.WaitForBundle(context.Background(), "bundle-2", 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, BundleFailed, state)
	assert.Equal(t, uint64(1), sub.Counters().Failed)
}
