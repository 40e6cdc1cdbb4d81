package generator

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/nexus-trading/swarm/internal/account"
	"github.com/nexus-trading/swarm/internal/action"
	"github.com/nexus-trading/swarm/internal/token"
	"github.com/nexus-trading/swarm/internal/venue"
)

// Swap chains swaps along the venue's pair graph, topping up the reserve
// token first whenever it runs low.
type Swap struct {
	deps    Deps
	venue   venue.Venue
	origin  token.Token
	reserve token.Token
	funding *token.Token
}

// NewSwap validates v against the token registry.
func NewSwap(v venue.Venue, deps Deps) (*Swap, error) {
	g := &Swap{deps: deps, venue: v}

	g.origin = deps.Tokens.Gas()
	if v.Origin != "" {
		t, ok := deps.Tokens.Lookup(v.Origin)
		if !ok {
			return nil, fmt.Errorf("%w: venue %s origin %s", ErrMisconfigured, v.Name, v.Origin)
		}
		g.origin = t
	}

	g.reserve = deps.Tokens.Gas()
	if v.Reserve != "" {
		t, ok := deps.Tokens.Lookup(v.Reserve)
		if !ok {
			return nil, fmt.Errorf("%w: venue %s reserve %s", ErrMisconfigured, v.Name, v.Reserve)
		}
		g.reserve = t
	}

	if v.ForcedFunding != "" {
		t, ok := deps.Tokens.Lookup(v.ForcedFunding)
		if !ok {
			return nil, fmt.Errorf("%w: venue %s forced funding %s", ErrMisconfigured, v.Name, v.ForcedFunding)
		}
		g.funding = &t
	}
	return g, nil
}

func (g *Swap) fail(err error) action.Action {
	return action.Unknown(g.venue.Name, err)
}

// Next implements Generator.
func (g *Swap) Next(ctx context.Context, acc *account.Account) action.Action {
	if !g.deps.Graph.HasVenue(g.venue.Name) {
		return g.fail(fmt.Errorf("%w: no pair graph for venue %s", ErrMisconfigured, g.venue.Name))
	}

	from := g.origin
	if last, ok := acc.LastSwap(); ok {
		if t, ok := g.deps.Tokens.Lookup(last.To); ok {
			from = t
		}
	}

	if a, done := g.reserveTopUp(ctx, acc); done {
		return a
	}

	fromBal := balance(ctx, g.deps.Ledger, acc, from)
	if fromBal.LessThan(minFromBalance) {
		from = g.alternative(ctx, acc, from)
		fromBal = balance(ctx, g.deps.Ledger, acc, from)
	}

	to, err := g.pickDestination(from)
	if err != nil {
		return g.fail(err)
	}

	amount, err := g.size(acc, from, fromBal)
	if err != nil {
		return g.fail(err)
	}

	return g.finish(ctx, acc, from, to, amount, false)
}

// reserveTopUp returns a forced funding->reserve swap when the reserve
// balance is below the class minimum.
func (g *Swap) reserveTopUp(ctx context.Context, acc *account.Account) (action.Action, bool) {
	limits, ok := acc.Policy.SwapRange(g.reserve.Class)
	if !ok {
		return g.fail(fmt.Errorf("%w: no swap limits for class %s", ErrMisconfigured, g.reserve.Class)), true
	}
	reserveBal := balance(ctx, g.deps.Ledger, acc, g.reserve)
	if reserveBal.GreaterThanOrEqual(limits.Min) {
		return action.Action{}, false
	}

	log.Warn().
		Str("account", acc.Label()).
		Str("venue", g.venue.Name).
		Str("reserve", g.reserve.Symbol).
		Str("balance", reserveBal.String()).
		Msg("generator: low reserve balance, forcing top-up")

	funding, fundBal, err := g.fundingToken(ctx, acc)
	if err != nil {
		return g.fail(err), true
	}
	if !g.deps.Graph.IsValid(g.venue.Name, funding.Symbol, g.reserve.Symbol) {
		return g.fail(fmt.Errorf("%w: %s->%s", ErrPairResample, funding.Symbol, g.reserve.Symbol)), true
	}
	amount, err := g.size(acc, funding, fundBal)
	if err != nil {
		return g.fail(err), true
	}
	return g.finish(ctx, acc, funding, g.reserve, amount, true), true
}

// fundingToken picks the configured override, else the first non-reserve
// token of the venue graph (registry order) holding at least its class minimum.
func (g *Swap) fundingToken(ctx context.Context, acc *account.Account) (token.Token, decimal.Decimal, error) {
	if g.funding != nil {
		return *g.funding, balance(ctx, g.deps.Ledger, acc, *g.funding), nil
	}

	inGraph := make(map[string]bool)
	for _, s := range g.deps.Graph.Tokens(g.venue.Name) {
		inGraph[s] = true
	}
	for _, t := range g.deps.Tokens.All() {
		if t.Symbol == g.reserve.Symbol || !inGraph[t.Symbol] {
			continue
		}
		limits, ok := acc.Policy.SwapRange(t.Class)
		if !ok {
			continue
		}
		bal := balance(ctx, g.deps.Ledger, acc, t)
		if bal.GreaterThanOrEqual(limits.Min) {
			return t, bal, nil
		}
	}
	return token.Token{}, decimal.Zero, ErrNoFunding
}

// alternative replaces an empty origin: a different random venue token, then
// the venue default; the first holding minAltBalance wins, else the default.
func (g *Swap) alternative(ctx context.Context, acc *account.Account, empty token.Token) token.Token {
	var others []string
	for _, s := range g.deps.Graph.Tokens(g.venue.Name) {
		if s != empty.Symbol {
			others = append(others, s)
		}
	}

	var candidates []token.Token
	if len(others) > 0 {
		if t, ok := g.deps.Tokens.Lookup(others[g.deps.Rand.IntN(len(others))]); ok {
			candidates = append(candidates, t)
		}
	}
	candidates = append(candidates, g.origin)

	for _, t := range candidates {
		if balance(ctx, g.deps.Ledger, acc, t).GreaterThanOrEqual(minAltBalance) {
			return t
		}
	}
	return g.origin
}

func (g *Swap) pickDestination(from token.Token) (token.Token, error) {
	edges := g.deps.Graph.EdgesFrom(g.venue.Name, from.Symbol)
	for attempt := 0; attempt < maxResample && len(edges) > 0; attempt++ {
		sym := edges[g.deps.Rand.IntN(len(edges))]
		if sym == from.Symbol || !g.deps.Graph.IsValid(g.venue.Name, from.Symbol, sym) {
			continue
		}
		if t, ok := g.deps.Tokens.Lookup(sym); ok {
			return t, nil
		}
	}
	return token.Token{}, fmt.Errorf("%w: from %s on %s", ErrPairResample, from.Symbol, g.venue.Name)
}

// size draws an amount within the class limits, truncated to the token's
// precision. Draws that truncate below the minimum fall back to the minimum
// at that precision.
func (g *Swap) size(acc *account.Account, from token.Token, bal decimal.Decimal) (decimal.Decimal, error) {
	limits, ok := acc.Policy.SwapRange(from.Class)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: no swap limits for class %s", ErrMisconfigured, from.Class)
	}
	amount, err := g.deps.Sizer.Size(bal, limits.Min, limits.Max)
	if err != nil {
		return decimal.Zero, fmt.Errorf("generator: %s balance %s: %w", from.Symbol, bal, err)
	}
	amount = amount.Truncate(from.Decimals)
	if amount.LessThan(limits.Min) {
		amount = limits.Min.Truncate(from.Decimals)
		if !amount.IsPositive() {
			return decimal.Zero, fmt.Errorf("%w: %s minimum %s is below token precision", ErrMisconfigured, from.Symbol, limits.Min)
		}
	}
	return amount, nil
}

func (g *Swap) finish(ctx context.Context, acc *account.Account, from, to token.Token, amount decimal.Decimal, forced bool) action.Action {
	if _, err := g.deps.Ledger.EnsureTokenAccount(ctx, acc, to); err != nil {
		return g.fail(fmt.Errorf("generator: prepare %s account: %w", to.Symbol, err))
	}
	acc.Record(account.Swap{From: from.Symbol, To: to.Symbol, Forced: forced})
	return action.Action{
		Kind:   action.KindSwap,
		Venue:  g.venue.Name,
		From:   from.Symbol,
		To:     to.Symbol,
		Amount: amount,
		Forced: forced,
	}
}

// IsMisconfigured reports whether err should end the account immediately.
func IsMisconfigured(err error) bool {
	return errors.Is(err, ErrMisconfigured)
}
