// Package generator decides the next action for an account on a venue.
package generator

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/nexus-trading/swarm/internal/account"
	"github.com/nexus-trading/swarm/internal/action"
	"github.com/nexus-trading/swarm/internal/ledger"
	"github.com/nexus-trading/swarm/internal/pairgraph"
	"github.com/nexus-trading/swarm/internal/sizer"
	"github.com/nexus-trading/swarm/internal/token"
	"github.com/nexus-trading/swarm/internal/venue"
)

var (
	// ErrMisconfigured marks failures no retry can fix (unknown venue, no
	// graph entry, missing swap limits). The runner ends the account on it.
	ErrMisconfigured = errors.New("generator: misconfigured")
	// ErrPairResample is returned when no valid destination was found.
	ErrPairResample = errors.New("generator: no valid pair after resampling")
	// ErrNoFunding is returned when the reserve needs a top-up but no token can pay for it.
	ErrNoFunding = errors.New("generator: no funding token for reserve top-up")
)

const (
	maxResample = 5
)

var (
	// Below this the origin token is considered empty.
	minFromBalance = decimal.RequireFromString("0.0001")
	// An alternative origin must hold at least this much.
	minAltBalance = decimal.RequireFromString("0.00001")
)

// Generator produces the next action. It never returns an error: failures
// come back as action.KindUnknown carrying the cause.
type Generator interface {
	Next(ctx context.Context, acc *account.Account) action.Action
}

// Deps are the collaborators shared by every generator.
type Deps struct {
	Tokens *token.Registry
	Graph  *pairgraph.Graph
	Ledger ledger.Accessor
	Sizer  *sizer.Sizer
	Rand   *sizer.Rand
}

// New returns the generator for v's kind.
func New(v venue.Venue, deps Deps) (Generator, error) {
	switch v.Kind {
	case venue.KindSwap:
		return NewSwap(v, deps)
	case venue.KindCollector:
		return NewCollector(v, deps)
	case venue.KindBridge:
		return NewBridge(v), nil
	case venue.KindMint:
		return NewMint(v), nil
	}
	return nil, fmt.Errorf("%w: venue %s has kind %q", ErrMisconfigured, v.Name, v.Kind)
}

// balance reads a balance, treating failures as zero.
func balance(ctx context.Context, l ledger.Accessor, acc *account.Account, tok token.Token) decimal.Decimal {
	bal, err := l.Balance(ctx, acc, tok)
	if err != nil {
		log.Warn().Err(err).Str("account", acc.Label()).Str("token", tok.Symbol).Msg("generator: balance read failed, using 0")
		return decimal.Zero
	}
	return bal
}
