package generator

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/nexus-trading/swarm/internal/account"
	"github.com/nexus-trading/swarm/internal/action"
	"github.com/nexus-trading/swarm/internal/token"
	"github.com/nexus-trading/swarm/internal/venue"
)

type collectProbe struct {
	tok token.Token
	min decimal.Decimal
}

// Collector sweeps leftover balances back into the venue origin token,
// one token per action, and exits once nothing is worth sweeping.
type Collector struct {
	deps   Deps
	venue  venue.Venue
	target token.Token
	probes []collectProbe
}

// NewCollector validates the probe table.
func NewCollector(v venue.Venue, deps Deps) (*Collector, error) {
	c := &Collector{deps: deps, venue: v, target: deps.Tokens.Gas()}
	if v.Origin != "" {
		t, ok := deps.Tokens.Lookup(v.Origin)
		if !ok {
			return nil, fmt.Errorf("%w: venue %s origin %s", ErrMisconfigured, v.Name, v.Origin)
		}
		c.target = t
	}
	if len(v.CollectOrder) == 0 {
		return nil, fmt.Errorf("%w: venue %s has no collect_order", ErrMisconfigured, v.Name)
	}
	for _, sym := range v.CollectOrder {
		t, ok := deps.Tokens.Lookup(sym)
		if !ok {
			return nil, fmt.Errorf("%w: venue %s collects unknown token %s", ErrMisconfigured, v.Name, sym)
		}
		min := decimal.Zero
		if s, ok := v.CollectMin[t.Symbol]; ok {
			d, err := decimal.NewFromString(s)
			if err != nil {
				return nil, fmt.Errorf("%w: venue %s collect_min %s: %v", ErrMisconfigured, v.Name, sym, err)
			}
			min = d
		}
		c.probes = append(c.probes, collectProbe{tok: t, min: min})
	}
	return c, nil
}

// Next implements Generator.
func (c *Collector) Next(ctx context.Context, acc *account.Account) action.Action {
	for _, p := range c.probes {
		bal := balance(ctx, c.deps.Ledger, acc, p.tok)
		if bal.IsZero() || bal.LessThan(p.min) {
			continue
		}
		if !c.deps.Graph.IsValid(c.venue.Name, p.tok.Symbol, c.target.Symbol) {
			return action.Unknown(c.venue.Name, fmt.Errorf("%w: %s->%s not in graph", ErrMisconfigured, p.tok.Symbol, c.target.Symbol))
		}
		if _, err := c.deps.Ledger.EnsureTokenAccount(ctx, acc, c.target); err != nil {
			return action.Unknown(c.venue.Name, fmt.Errorf("generator: prepare %s account: %w", c.target.Symbol, err))
		}
		acc.Record(account.Swap{From: p.tok.Symbol, To: c.target.Symbol})
		return action.Action{
			Kind:   action.KindSwap,
			Venue:  c.venue.Name,
			From:   p.tok.Symbol,
			To:     c.target.Symbol,
			Amount: bal.Truncate(p.tok.Decimals),
		}
	}

	log.Info().Str("account", acc.Label()).Str("venue", c.venue.Name).Msg("generator: nothing left to collect")
	return action.Exit(c.venue.Name)
}
