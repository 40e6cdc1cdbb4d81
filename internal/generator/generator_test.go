package generator

import (
	"context"
	"crypto/ed25519"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-trading/swarm/internal/account"
	"github.com/nexus-trading/swarm/internal/action"
	"github.com/nexus-trading/swarm/internal/ledger"
	"github.com/nexus-trading/swarm/internal/pairgraph"
	"github.com/nexus-trading/swarm/internal/sizer"
	"github.com/nexus-trading/swarm/internal/solana"
	"github.com/nexus-trading/swarm/internal/token"
	"github.com/nexus-trading/swarm/internal/venue"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testAccount(t *testing.T) *account.Account {
	t.Helper()
	seed := make([]byte, ed25519.SeedSize)
	seed[0] = 3
	kp, err := solana.KeypairFromBase58(base58.Encode(seed))
	require.NoError(t, err)
	return &account.Account{
		Address: kp.PublicKey(),
		Keypair: kp,
		Policy: account.Policy{
			ActionCount: 5,
			Swap: map[token.Class]account.Range{
				token.ClassETH:    {Min: d("0.0001"), Max: d("0.001")},
				token.ClassStable: {Min: d("0.1"), Max: d("10")},
				token.ClassSOL:    {Min: d("0.001"), Max: d("0.01")},
			},
			MinReserve: d("0.0001"),
		},
	}
}

type fixture struct {
	deps   Deps
	ledger *ledger.Stub
	venues *venue.Set
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg, err := token.NewRegistry(token.EclipseDefaults(), "ETH")
	require.NoError(t, err)
	venues, err := venue.NewSet(venue.Defaults())
	require.NoError(t, err)
	graph, err := pairgraph.New(venues.Pairs(), func(s string) bool { _, ok := reg.Lookup(s); return ok })
	require.NoError(t, err)

	rnd := sizer.NewRand(11)
	stub := ledger.NewStub()
	return &fixture{
		deps: Deps{
			Tokens: reg,
			Graph:  graph,
			Ledger: stub,
			Sizer:  sizer.New(rnd),
			Rand:   rnd,
		},
		ledger: stub,
		venues: venues,
	}
}

func (f *fixture) generator(t *testing.T, name string) Generator {
	t.Helper()
	v, ok := f.venues.Get(name)
	require.True(t, ok)
	g, err := New(v, f.deps)
	require.NoError(t, err)
	return g
}

func TestSwap_SingleEdgeGraph(t *testing.T) {
	f := newFixture(t)
	acc := testAccount(t)
	f.ledger.Set(acc, "ETH", d("1"))
	f.ledger.Set(acc, "USDC", d("50"))
	g := f.generator(t, "Solar")

	a := g.Next(context.Background(), acc)
	require.Equal(t, action.KindSwap, a.Kind, a.String())
	assert.Equal(t, "ETH", a.From)
	assert.Equal(t, "USDC", a.To)
	assert.False(t, a.Forced)

	// Chains from the previous destination.
	a = g.Next(context.Background(), acc)
	require.Equal(t, action.KindSwap, a.Kind, a.String())
	assert.Equal(t, "USDC", a.From)
	assert.Equal(t, "ETH", a.To)

	assert.Len(t, acc.History(), 2)
}

func TestSwap_PairAndAmountInvariants(t *testing.T) {
	f := newFixture(t)
	acc := testAccount(t)
	balances := map[string]decimal.Decimal{"ETH": d("0.5"), "USDC": d("3"), "USDT": d("0.4"), "SOL": d("0.005")}
	for s, b := range balances {
		f.ledger.Set(acc, s, b)
	}
	g := f.generator(t, "Orca")

	for i := 0; i < 200; i++ {
		a := g.Next(context.Background(), acc)
		require.Equal(t, action.KindSwap, a.Kind, a.String())
		assert.True(t, f.deps.Graph.IsValid("Orca", a.From, a.To), "%s->%s not in graph", a.From, a.To)
		assert.True(t, a.Amount.LessThanOrEqual(balances[a.From]), "amount %s exceeds %s balance", a.Amount, a.From)
		assert.True(t, a.Amount.IsPositive())
	}
}

func TestSwap_ReserveSafetyNet(t *testing.T) {
	f := newFixture(t)
	acc := testAccount(t)
	f.ledger.Set(acc, "ETH", d("0.00005")) // below ETH class minimum
	f.ledger.Set(acc, "USDC", d("5"))
	g := f.generator(t, "Orca")

	a := g.Next(context.Background(), acc)
	require.Equal(t, action.KindSwap, a.Kind, a.String())
	assert.True(t, a.Forced)
	assert.Equal(t, "ETH", a.To)
	// First funded non-reserve token in registry order: SOL and USDT are empty.
	assert.Equal(t, "USDC", a.From)

	last, ok := acc.LastSwap()
	require.True(t, ok)
	assert.True(t, last.Forced)
}

func TestSwap_ReserveForcedFunding(t *testing.T) {
	f := newFixture(t)
	acc := testAccount(t)
	f.ledger.Set(acc, "SOL", d("0.0001"))
	f.ledger.Set(acc, "USDC", d("2"))
	g := f.generator(t, "Lifinity")

	a := g.Next(context.Background(), acc)
	require.Equal(t, action.KindSwap, a.Kind, a.String())
	assert.True(t, a.Forced)
	assert.Equal(t, "USDC", a.From)
	assert.Equal(t, "SOL", a.To)
	assert.True(t, a.Amount.LessThanOrEqual(d("2")))
}

func TestSwap_NoFunding(t *testing.T) {
	f := newFixture(t)
	acc := testAccount(t)
	g := f.generator(t, "Orca") // everything empty

	a := g.Next(context.Background(), acc)
	require.Equal(t, action.KindUnknown, a.Kind)
	assert.ErrorIs(t, a.Err, ErrNoFunding)
	assert.Empty(t, acc.History())
}

func TestSwap_AlternativeOrigin(t *testing.T) {
	f := newFixture(t)
	acc := testAccount(t)
	acc.Record(account.Swap{From: "ETH", To: "USDT"})
	f.ledger.Set(acc, "ETH", d("0.5"))
	f.ledger.Set(acc, "USDC", d("5"))
	f.ledger.Set(acc, "SOL", d("0.5"))
	// USDT stays empty.
	g := f.generator(t, "Orca")

	a := g.Next(context.Background(), acc)
	require.Equal(t, action.KindSwap, a.Kind, a.String())
	assert.NotEqual(t, "USDT", a.From)
	assert.True(t, f.deps.Graph.IsValid("Orca", a.From, a.To))
}

func TestSwap_InsufficientFunds(t *testing.T) {
	f := newFixture(t)
	acc := testAccount(t)
	acc.Record(account.Swap{From: "ETH", To: "USDC"})
	f.ledger.Set(acc, "ETH", d("0.5"))
	f.ledger.Set(acc, "USDC", d("0.05")) // above the empty threshold, below stable minimum
	g := f.generator(t, "Solar")

	a := g.Next(context.Background(), acc)
	require.Equal(t, action.KindUnknown, a.Kind)
	assert.ErrorIs(t, a.Err, sizer.ErrInsufficientFunds)
	assert.False(t, IsMisconfigured(a.Err))
}

func TestSwap_BalanceFailureReadsAsZero(t *testing.T) {
	f := newFixture(t)
	acc := testAccount(t)
	f.ledger.Set(acc, "ETH", d("0.5"))
	f.ledger.FailBalance(acc, "ETH", ledger.ErrStub)
	f.ledger.Set(acc, "USDC", d("5"))
	g := f.generator(t, "Solar")

	a := g.Next(context.Background(), acc)
	require.Equal(t, action.KindSwap, a.Kind, a.String())
	assert.True(t, a.Forced, "unreadable reserve is treated as empty")
	assert.Equal(t, "USDC", a.From)
}

func TestSwap_EnsureFailure(t *testing.T) {
	f := newFixture(t)
	acc := testAccount(t)
	f.ledger.Set(acc, "ETH", d("0.5"))
	f.ledger.FailEnsure(ledger.ErrStub)
	g := f.generator(t, "Solar")

	a := g.Next(context.Background(), acc)
	require.Equal(t, action.KindUnknown, a.Kind)
	assert.ErrorIs(t, a.Err, ledger.ErrStub)
	assert.Empty(t, acc.History())
	assert.Equal(t, []string{"USDC"}, f.ledger.EnsureCalls())
}

func TestSwap_UnconfiguredVenue(t *testing.T) {
	f := newFixture(t)
	g, err := NewSwap(venue.Venue{Name: "Nowhere", Kind: venue.KindSwap}, f.deps)
	require.NoError(t, err)

	a := g.Next(context.Background(), testAccount(t))
	require.Equal(t, action.KindUnknown, a.Kind)
	assert.True(t, IsMisconfigured(a.Err))
}

func TestSwap_TruncatesToDecimals(t *testing.T) {
	f := newFixture(t)
	acc := testAccount(t)
	acc.Record(account.Swap{From: "ETH", To: "USDC"})
	f.ledger.Set(acc, "ETH", d("0.5"))
	f.ledger.Set(acc, "USDC", d("7.123456789"))
	g := f.generator(t, "Solar")

	for i := 0; i < 50; i++ {
		acc.Record(account.Swap{From: "ETH", To: "USDC"})
		a := g.Next(context.Background(), acc)
		require.Equal(t, action.KindSwap, a.Kind, a.String())
		assert.LessOrEqual(t, -a.Amount.Exponent(), int32(6), "amount %s has more than 6 decimals", a.Amount)
		assert.True(t, a.Amount.GreaterThanOrEqual(d("0.1")))
	}
}

func TestSwap_ClampedMinimumKeepsPrecision(t *testing.T) {
	f := newFixture(t)
	acc := testAccount(t)
	acc.Policy.Swap[token.ClassStable] = account.Range{Min: d("0.1234567"), Max: d("0.1234569")}
	f.ledger.Set(acc, "ETH", d("0.5"))
	f.ledger.Set(acc, "USDC", d("50"))
	g := f.generator(t, "Solar")

	for i := 0; i < 20; i++ {
		acc.Record(account.Swap{From: "ETH", To: "USDC"})
		a := g.Next(context.Background(), acc)
		require.Equal(t, action.KindSwap, a.Kind, a.String())
		assert.True(t, a.Amount.Equal(d("0.123456")), "amount %s", a.Amount)
	}
}

func TestSwap_MinimumBelowPrecisionIsMisconfigured(t *testing.T) {
	f := newFixture(t)
	acc := testAccount(t)
	acc.Policy.Swap[token.ClassStable] = account.Range{Min: d("0.0000001"), Max: d("0.0000009")}
	acc.Record(account.Swap{From: "ETH", To: "USDC"})
	f.ledger.Set(acc, "ETH", d("0.5"))
	f.ledger.Set(acc, "USDC", d("50"))

	a := f.generator(t, "Solar").Next(context.Background(), acc)
	require.Equal(t, action.KindUnknown, a.Kind)
	assert.True(t, IsMisconfigured(a.Err))
}

func TestSwap_ResampleIsBounded(t *testing.T) {
	f := newFixture(t)
	// BTC is in the graph but not in the token registry, so every draw fails.
	graph, err := pairgraph.New(map[string][]string{"Ghost": {"ETH_BTC"}}, nil)
	require.NoError(t, err)
	deps := f.deps
	deps.Graph = graph
	deps.Rand = sizer.NewRand(5)
	g := &Swap{deps: deps, venue: venue.Venue{Name: "Ghost", Kind: venue.KindSwap}}
	eth, ok := deps.Tokens.Lookup("ETH")
	require.True(t, ok)

	_, err = g.pickDestination(eth)
	require.ErrorIs(t, err, ErrPairResample)

	ref := sizer.NewRand(5)
	for i := 0; i < maxResample; i++ {
		ref.IntN(1)
	}
	assert.Equal(t, ref.IntN(1<<30), deps.Rand.IntN(1<<30), "exactly %d draws", maxResample)
}

func TestCollector(t *testing.T) {
	f := newFixture(t)
	acc := testAccount(t)
	f.ledger.Set(acc, "USDC", d("0.1")) // below its 0.2 threshold
	f.ledger.Set(acc, "USDT", d("3.5"))
	g := f.generator(t, "Collector")

	a := g.Next(context.Background(), acc)
	require.Equal(t, action.KindSwap, a.Kind, a.String())
	assert.Equal(t, "USDT", a.From)
	assert.Equal(t, "ETH", a.To)
	assert.True(t, a.Amount.Equal(d("3.5")))

	f.ledger.Set(acc, "USDT", decimal.Zero)
	a = g.Next(context.Background(), acc)
	assert.Equal(t, action.KindExit, a.Kind)
}

func TestBridgeAndMint(t *testing.T) {
	f := newFixture(t)
	acc := testAccount(t)

	bridge := f.generator(t, "Relay")
	a := bridge.Next(context.Background(), acc)
	require.Equal(t, action.KindUnknown, a.Kind)
	assert.True(t, IsMisconfigured(a.Err))

	acc.Policy.Bridge = &account.BridgeRoute{FromChain: "arb", ChainID: 42161, Currency: "eth", Amount: d("0.01")}
	a = bridge.Next(context.Background(), acc)
	require.Equal(t, action.KindBridge, a.Kind)
	assert.True(t, a.Amount.Equal(d("0.01")))

	mint := f.generator(t, "Underdog")
	assert.Equal(t, action.KindMint, mint.Next(context.Background(), acc).Kind)
}

func TestNew_Rejects(t *testing.T) {
	f := newFixture(t)
	_, err := New(venue.Venue{Name: "X", Kind: "teleport"}, f.deps)
	assert.ErrorIs(t, err, ErrMisconfigured)

	_, err = New(venue.Venue{Name: "X", Kind: venue.KindSwap, Origin: "DOGE"}, f.deps)
	assert.ErrorIs(t, err, ErrMisconfigured)

	_, err = New(venue.Venue{Name: "X", Kind: venue.KindCollector}, f.deps)
	assert.ErrorIs(t, err, ErrMisconfigured)
}
