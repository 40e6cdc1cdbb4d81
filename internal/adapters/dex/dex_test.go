package dex

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-trading/swarm/internal/account"
	"github.com/nexus-trading/swarm/internal/solana"
	"github.com/nexus-trading/swarm/internal/token"
)

type awaitFunc func(ctx context.Context, sig solana.Signature) error

func (f awaitFunc) Await(ctx context.Context, sig solana.Signature) error { return f(ctx, sig) }

type fixedPrice uint64

func (f fixedPrice) ComputeUnitPrice() uint64 { return uint64(f) }

func testAccount(t *testing.T) *account.Account {
	t.Helper()
	seed := make([]byte, 32)
	seed[0] = 9
	kp, err := solana.KeypairFromBytes(seed)
	require.NoError(t, err)
	return &account.Account{Address: kp.PublicKey(), Keypair: kp}
}

// unsignedTx returns a base64 wire transaction with an empty signature slot
// for payer.
func unsignedTx(t *testing.T, payer solana.Pubkey) string {
	t.Helper()
	msg, err := solana.CompileMessage(payer, []solana.Instruction{solana.SetComputeUnitPrice(1)}, "11111111111111111111111111111111")
	require.NoError(t, err)
	raw := append([]byte{1}, make([]byte, 64)...)
	raw = append(raw, msg...)
	return base64.StdEncoding.EncodeToString(raw)
}

type swapServer struct {
	quotes   atomic.Int32
	txReqs   atomic.Int32
	lastBody atomic.Value // TxRequest
	lastQS   atomic.Value // string
	failTx   atomic.Bool
}

func newSwapServer(t *testing.T, acc *account.Account, ntx int) (*httptest.Server, *swapServer) {
	t.Helper()
	s := &swapServer{}
	mux := http.NewServeMux()
	mux.HandleFunc(quotePath, func(w http.ResponseWriter, r *http.Request) {
		s.quotes.Add(1)
		s.lastQS.Store(r.URL.RawQuery)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "q-1",
			"success": true,
			"version": "V1",
			"data":    map[string]any{"inputAmount": r.URL.Query().Get("amount"), "outputAmount": "123"},
		})
	})
	mux.HandleFunc(txPath, func(w http.ResponseWriter, r *http.Request) {
		s.txReqs.Add(1)
		if s.failTx.Load() {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		var req TxRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		s.lastBody.Store(req)
		data := make([]map[string]string, ntx)
		for i := range data {
			data[i] = map[string]string{"transaction": unsignedTx(t, acc.Address)}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "t-1", "success": true, "data": data})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, s
}

func newTestExecutor(t *testing.T, url string, rpc solana.RPCClient, await awaitFunc) *Executor {
	t.Helper()
	reg, err := token.NewRegistry(token.EclipseDefaults(), "ETH")
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.APIURL = url
	cfg.MaxRetries = 0
	cfg.Timeout = 2 * time.Second
	return New("solar", cfg, reg, rpc, await, fixedPrice(777))
}

func TestExecute_SignsSendsAndConfirms(t *testing.T) {
	acc := testAccount(t)
	srv, state := newSwapServer(t, acc, 2)
	rpc := solana.NewStubRPCClient()

	var confirmed []solana.Signature
	e := newTestExecutor(t, srv.URL, rpc, func(_ context.Context, sig solana.Signature) error {
		confirmed = append(confirmed, sig)
		return nil
	})

	ref, err := e.Execute(context.Background(), acc, "ETH", "USDC", decimal.RequireFromString("0.0015"))
	require.NoError(t, err)
	assert.Equal(t, "stub-sig-2", ref)
	assert.Equal(t, []solana.Signature{"stub-sig-1", "stub-sig-2"}, confirmed)

	// ETH has 9 decimals.
	assert.Contains(t, state.lastQS.Load().(string), "amount=1500000")

	body := state.lastBody.Load().(TxRequest)
	assert.Equal(t, "777", body.ComputeUnitPriceMicroLamports)
	assert.Equal(t, string(acc.Address), body.Wallet)
	assert.True(t, body.WrapSol)
	assert.False(t, body.UnwrapSol)
	assert.Equal(t, "q-1", body.SwapResponse.ID)

	sent := rpc.Sent()
	require.Len(t, sent, 2)
	raw, err := base64.StdEncoding.DecodeString(sent[0])
	require.NoError(t, err)
	assert.NotEqual(t, make([]byte, 64), raw[1:65], "signature slot must be filled")

	stats := e.Stats()
	assert.Equal(t, int64(1), stats.SwapsExecuted)
	assert.Equal(t, int64(1), stats.API.QuoteCount)
}

func TestExecute_Failures(t *testing.T) {
	acc := testAccount(t)
	srv, state := newSwapServer(t, acc, 1)
	rpc := solana.NewStubRPCClient()
	ok := func(context.Context, solana.Signature) error { return nil }

	e := newTestExecutor(t, srv.URL, rpc, ok)

	_, err := e.Execute(context.Background(), acc, "DOGE", "USDC", decimal.RequireFromString("1"))
	assert.Error(t, err)

	_, err = e.Execute(context.Background(), acc, "ETH", "USDC", decimal.Zero)
	assert.Error(t, err)
	assert.Equal(t, int32(0), state.quotes.Load())

	state.failTx.Store(true)
	_, err = e.Execute(context.Background(), acc, "ETH", "USDC", decimal.RequireFromString("0.01"))
	assert.ErrorContains(t, err, "HTTP 500")
	state.failTx.Store(false)

	rpc.SetFailNext()
	_, err = e.Execute(context.Background(), acc, "ETH", "USDC", decimal.RequireFromString("0.01"))
	assert.ErrorContains(t, err, "send tx")

	failed := errors.New("timeout")
	e = newTestExecutor(t, srv.URL, rpc, func(context.Context, solana.Signature) error { return failed })
	_, err = e.Execute(context.Background(), acc, "ETH", "USDC", decimal.RequireFromString("0.01"))
	assert.ErrorIs(t, err, failed)
}

func TestExecute_NotASigner(t *testing.T) {
	acc := testAccount(t)
	other := testAccount(t)
	seed := make([]byte, 32)
	seed[0] = 10
	kp, err := solana.KeypairFromBytes(seed)
	require.NoError(t, err)
	other.Address, other.Keypair = kp.PublicKey(), kp

	srv, _ := newSwapServer(t, acc, 1)
	e := newTestExecutor(t, srv.URL, solana.NewStubRPCClient(), func(context.Context, solana.Signature) error { return nil })

	_, err = e.Execute(context.Background(), other, "USDC", "ETH", decimal.RequireFromString("1"))
	assert.ErrorContains(t, err, "not a signer")
}

func TestAPIClient_CircuitBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewAPIClient(srv.URL, 0)
	for i := 0; i < breakerThreshold; i++ {
		_, err := c.GetQuote(context.Background(), srv.Client(), QuoteRequest{InputMint: "a", OutputMint: "b", Amount: "1"})
		require.Error(t, err)
	}
	assert.True(t, c.APIStats().CircuitOpen)

	_, err := c.GetQuote(context.Background(), srv.Client(), QuoteRequest{})
	assert.ErrorContains(t, err, "circuit breaker open")
}
