package generator

import (
	"context"
	"fmt"

	"github.com/nexus-trading/swarm/internal/account"
	"github.com/nexus-trading/swarm/internal/action"
	"github.com/nexus-trading/swarm/internal/venue"
)

// Bridge emits the account's configured bridge route.
type Bridge struct {
	venue venue.Venue
}

// NewBridge creates a bridge generator.
func NewBridge(v venue.Venue) *Bridge { return &Bridge{venue: v} }

// Next implements Generator.
func (b *Bridge) Next(_ context.Context, acc *account.Account) action.Action {
	route := acc.Policy.Bridge
	if route == nil {
		return action.Unknown(b.venue.Name, fmt.Errorf("%w: account %s has no bridge route", ErrMisconfigured, acc.Label()))
	}
	return action.Action{
		Kind:   action.KindBridge,
		Venue:  b.venue.Name,
		From:   route.Currency,
		To:     "ETH",
		Amount: route.Amount,
	}
}

// Mint emits a placeholder mint; the executor decides what to mint.
type Mint struct {
	venue venue.Venue
}

// NewMint creates a mint generator.
func NewMint(v venue.Venue) *Mint { return &Mint{venue: v} }

// Next implements Generator.
func (m *Mint) Next(context.Context, *account.Account) action.Action {
	return action.Action{Kind: action.KindMint, Venue: m.venue.Name}
}
