// Package action defines the unit of work a runner hands to an executor.
package action

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Kind classifies an Action.
type Kind string

const (
	KindSwap    Kind = "swap"
	KindBridge  Kind = "bridge"
	KindMint    Kind = "mint"
	KindUnknown Kind = "unknown" // generation failed; costs one retry
	KindExit    Kind = "exit"    // nothing left to do; terminal success
)

// Action is immutable once built.
type Action struct {
	Kind   Kind
	Venue  string
	From   string
	To     string
	Amount decimal.Decimal
	Forced bool  // reserve top-up rather than a free choice
	Err    error // set when Kind == KindUnknown
}

// Unknown wraps a generation failure.
func Unknown(venue string, err error) Action {
	return Action{Kind: KindUnknown, Venue: venue, Err: err}
}

// Exit signals the generator has nothing further to do.
func Exit(venue string) Action {
	return Action{Kind: KindExit, Venue: venue}
}

// Executable reports whether the action should be passed to an executor.
func (a Action) Executable() bool {
	switch a.Kind {
	case KindSwap, KindBridge, KindMint:
		return true
	}
	return false
}

func (a Action) String() string {
	switch a.Kind {
	case KindUnknown:
		return fmt.Sprintf("unknown(%v)", a.Err)
	case KindExit:
		return "exit"
	case KindMint:
		return "mint"
	}
	s := fmt.Sprintf("%s %s %s->%s", a.Kind, a.Amount.String(), a.From, a.To)
	if a.Forced {
		s += " (forced)"
	}
	return s
}
