// Package venue describes the destinations an account can act on.
package venue

import (
	"fmt"
	"sort"
	"strings"
)

// Kind selects the action generator used for a venue.
type Kind string

const (
	KindSwap      Kind = "swap"
	KindBridge    Kind = "bridge"
	KindMint      Kind = "mint"
	KindCollector Kind = "collector"
)

// Venue is static per run.
type Venue struct {
	Name     string   `yaml:"name"`
	Kind     Kind     `yaml:"kind"`
	Executor string   `yaml:"executor"` // dex config name | relay | underdog
	Pairs    []string `yaml:"pairs"`    // "A_B", symmetric

	// Origin is the default starting token when the account has no swap history.
	Origin string `yaml:"origin"`
	// Reserve is the token the safety net tops up. Empty means the gas token.
	Reserve string `yaml:"reserve"`
	// ForcedFunding overrides the token sold to refill the reserve.
	ForcedFunding string `yaml:"forced_funding"`
	// ActionLimit overrides the per-account action count target when > 0.
	ActionLimit int `yaml:"action_limit"`
	// ReserveCheckExempt skips the runner's gas pre-check (actions paid on another chain).
	ReserveCheckExempt bool `yaml:"reserve_check_exempt"`

	// Collector probes: symbol -> minimum balance worth sweeping, checked in CollectOrder.
	CollectOrder []string          `yaml:"collect_order"`
	CollectMin   map[string]string `yaml:"collect_min"`
}

// Set is a case-insensitive name index.
type Set struct {
	byName map[string]Venue
}

// NewSet validates venues and indexes them by name.
func NewSet(venues []Venue) (*Set, error) {
	s := &Set{byName: make(map[string]Venue, len(venues))}
	for _, v := range venues {
		key := strings.ToLower(v.Name)
		if key == "" {
			return nil, fmt.Errorf("venue: name is required")
		}
		if _, dup := s.byName[key]; dup {
			return nil, fmt.Errorf("venue: duplicate %s", v.Name)
		}
		switch v.Kind {
		case KindSwap, KindCollector:
			if len(v.Pairs) == 0 {
				return nil, fmt.Errorf("venue: %s needs pairs", v.Name)
			}
		case KindBridge, KindMint:
		default:
			return nil, fmt.Errorf("venue: %s has unknown kind %q", v.Name, v.Kind)
		}
		s.byName[key] = v
	}
	return s, nil
}

// Get returns the named venue.
func (s *Set) Get(name string) (Venue, bool) {
	v, ok := s.byName[strings.ToLower(name)]
	return v, ok
}

// Names returns venue names sorted.
func (s *Set) Names() []string {
	out := make([]string, 0, len(s.byName))
	for _, v := range s.byName {
		out = append(out, v.Name)
	}
	sort.Strings(out)
	return out
}

// Pairs returns the pair table for every venue that has one, in the shape
// pairgraph.New expects.
func (s *Set) Pairs() map[string][]string {
	out := make(map[string][]string)
	for _, v := range s.byName {
		if len(v.Pairs) > 0 {
			out[v.Name] = append([]string(nil), v.Pairs...)
		}
	}
	return out
}

// Defaults is the Eclipse venue table.
func Defaults() []Venue {
	return []Venue{
		{Name: "Solar", Kind: KindSwap, Executor: "dex", Origin: "ETH", Pairs: []string{"ETH_USDC"}},
		{Name: "Orca", Kind: KindSwap, Executor: "orca", Origin: "ETH",
			Pairs: []string{"ETH_USDC", "USDT_ETH", "USDC_SOL", "USDT_SOL", "SOL_ETH"}},
		{Name: "Lifinity", Kind: KindSwap, Executor: "lifinity", Origin: "SOL", Reserve: "SOL", ForcedFunding: "USDC",
			Pairs: []string{"USDC_SOL"}},
		{Name: "Relay", Kind: KindBridge, Executor: "relay", ActionLimit: 1, ReserveCheckExempt: true},
		{Name: "Underdog", Kind: KindMint, Executor: "underdog"},
		{Name: "Collector", Kind: KindCollector, Executor: "dex", Origin: "ETH", ActionLimit: 3,
			Pairs:        []string{"USDC_ETH", "USDT_ETH", "SOL_ETH"},
			CollectOrder: []string{"USDC", "USDT", "SOL"},
			CollectMin:   map[string]string{"USDC": "0.2", "USDT": "0.2", "SOL": "0.001"}},
	}
}
