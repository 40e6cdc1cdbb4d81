// Package pairgraph holds the per-venue token compatibility graph.
//
// Pairs are configured as "A_B" strings and are symmetric: A_B allows both
// A->B and B->A. A venue with no entry has no valid edges, so lookups fail
// closed instead of permitting arbitrary pairs.
package pairgraph

import (
	"fmt"
	"sort"
	"strings"
)

// Graph is immutable after construction and safe for concurrent reads.
type Graph struct {
	edges map[string]map[string]map[string]struct{} // venue -> token -> neighbours
}

// KnownFunc reports whether a token symbol exists. Used to reject typos in
// configured pairs at start-up.
type KnownFunc func(symbol string) bool

// New builds a graph from venue -> ["A_B", ...]. Every venue listed must
// have at least one pair.
func New(pairs map[string][]string, known KnownFunc) (*Graph, error) {
	g := &Graph{edges: make(map[string]map[string]map[string]struct{}, len(pairs))}
	for venue, list := range pairs {
		if len(list) == 0 {
			return nil, fmt.Errorf("pairgraph: venue %s has no pairs", venue)
		}
		adj := make(map[string]map[string]struct{})
		for _, p := range list {
			a, b, err := splitPair(p)
			if err != nil {
				return nil, fmt.Errorf("pairgraph: venue %s: %w", venue, err)
			}
			if known != nil {
				if !known(a) {
					return nil, fmt.Errorf("pairgraph: venue %s: unknown token %s", venue, a)
				}
				if !known(b) {
					return nil, fmt.Errorf("pairgraph: venue %s: unknown token %s", venue, b)
				}
			}
			link(adj, a, b)
			link(adj, b, a)
		}
		g.edges[venueKey(venue)] = adj
	}
	return g, nil
}

func splitPair(p string) (string, string, error) {
	parts := strings.Split(strings.TrimSpace(p), "_")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed pair %q (want A_B)", p)
	}
	a, b := strings.ToUpper(parts[0]), strings.ToUpper(parts[1])
	if a == b {
		return "", "", fmt.Errorf("self pair %q", p)
	}
	return a, b, nil
}

func link(adj map[string]map[string]struct{}, from, to string) {
	set, ok := adj[from]
	if !ok {
		set = make(map[string]struct{})
		adj[from] = set
	}
	set[to] = struct{}{}
}

func venueKey(v string) string { return strings.ToLower(v) }

// HasVenue reports whether the venue has a configured entry.
func (g *Graph) HasVenue(venue string) bool {
	_, ok := g.edges[venueKey(venue)]
	return ok
}

// IsValid reports whether a->b (equivalently b->a) is allowed on venue.
func (g *Graph) IsValid(venue, a, b string) bool {
	adj, ok := g.edges[venueKey(venue)]
	if !ok {
		return false
	}
	_, ok = adj[strings.ToUpper(a)][strings.ToUpper(b)]
	return ok
}

// EdgesFrom returns the valid destinations from token on venue, sorted.
func (g *Graph) EdgesFrom(venue, token string) []string {
	adj, ok := g.edges[venueKey(venue)]
	if !ok {
		return nil
	}
	set := adj[strings.ToUpper(token)]
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Tokens returns every token that participates in at least one pair on venue.
func (g *Graph) Tokens(venue string) []string {
	adj, ok := g.edges[venueKey(venue)]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(adj))
	for t := range adj {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
