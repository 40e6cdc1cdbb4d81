package underdog

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-trading/swarm/internal/account"
	"github.com/nexus-trading/swarm/internal/solana"
)

type awaitFunc func(ctx context.Context, sig solana.Signature) error

func (f awaitFunc) Await(ctx context.Context, sig solana.Signature) error { return f(ctx, sig) }

func testAccount(t *testing.T) *account.Account {
	t.Helper()
	seed := make([]byte, 32)
	seed[0] = 5
	kp, err := solana.KeypairFromBytes(seed)
	require.NoError(t, err)
	return &account.Account{Address: kp.PublicKey(), Keypair: kp}
}

func unsignedTx(t *testing.T, payer solana.Pubkey) string {
	t.Helper()
	msg, err := solana.CompileMessage(payer, []solana.Instruction{solana.SetComputeUnitLimit(200_000)}, "11111111111111111111111111111111")
	require.NoError(t, err)
	raw := append([]byte{1}, make([]byte, 64)...)
	return base64.StdEncoding.EncodeToString(append(raw, msg...))
}

func TestCollectionName(t *testing.T) {
	assert.Equal(t, "bluesky", CollectionName("-blue-sky"))
	assert.Equal(t, "ountainlakeatdawnwit", CollectionName("mountain-lake-at-dawn-with-fog"))
	assert.Equal(t, "", CollectionName("a"))
}

func TestExecute(t *testing.T) {
	acc := testAccount(t)
	var got CollectionRequest
	var referer string

	mux := http.NewServeMux()
	mux.HandleFunc("/photos/random", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tok123", r.URL.Query().Get("client_id"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"slug": "a-red-fox-in-snow",
			"urls": map[string]string{"raw": "https://images.example/fox.jpg"},
		})
	})
	mux.HandleFunc("/collections", func(w http.ResponseWriter, r *http.Request) {
		referer = r.Header.Get("Referer")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]string{"transaction": unsignedTx(t, acc.Address)})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	rpc := solana.NewStubRPCClient()
	e := New(Config{
		APIURL:      srv.URL + "/collections",
		ImageAPIURL: srv.URL + "/photos/random?client_id=",
		Token:       "tok123",
	}, rpc, awaitFunc(func(context.Context, solana.Signature) error { return nil }))

	ref, err := e.Execute(context.Background(), acc, "", "", decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, "stub-sig-1", ref)

	assert.Equal(t, string(acc.Address), got.Account)
	assert.Equal(t, "redfoxinsnow", got.Name)
	assert.Equal(t, "redfoxinsnow", got.Description)
	assert.Equal(t, "https://redfoxinsnow", got.ExternalURL)
	assert.Equal(t, "https://images.example/fox.jpg", got.Image)
	assert.False(t, got.Soulbound)
	assert.Contains(t, referer, "underdogprotocol.com")
	assert.Len(t, rpc.Sent(), 1)
}

func TestExecute_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	e := New(Config{APIURL: srv.URL, ImageAPIURL: srv.URL + "?t="}, solana.NewStubRPCClient(),
		awaitFunc(func(context.Context, solana.Signature) error { return nil }))
	_, err := e.Execute(context.Background(), testAccount(t), "", "", decimal.Zero)
	assert.ErrorContains(t, err, "HTTP 403")

	_, err = New(Config{}, nil, nil).Execute(context.Background(), testAccount(t), "", "", decimal.Zero)
	assert.ErrorContains(t, err, "required")
}
