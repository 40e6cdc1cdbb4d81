package pairgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGraph(t *testing.T) *Graph {
	t.Helper()
	g, err := New(map[string][]string{
		"Solar": {"ETH_USDC"},
		"Orca":  {"ETH_USDC", "USDT_ETH", "USDC_SOL", "SOL_USDT", "SOL_ETH"},
	}, nil)
	require.NoError(t, err)
	return g
}

func TestGraph_Symmetric(t *testing.T) {
	g := testGraph(t)

	assert.True(t, g.IsValid("Solar", "ETH", "USDC"))
	assert.True(t, g.IsValid("solar", "usdc", "eth"))
	assert.False(t, g.IsValid("Solar", "ETH", "SOL"))
	assert.False(t, g.IsValid("Solar", "ETH", "ETH"))
}

func TestGraph_FailsClosed(t *testing.T) {
	g := testGraph(t)

	assert.False(t, g.HasVenue("Lifinity"))
	assert.False(t, g.IsValid("Lifinity", "USDC", "SOL"))
	assert.Empty(t, g.EdgesFrom("Lifinity", "USDC"))
	assert.Empty(t, g.Tokens("Lifinity"))
}

func TestGraph_EdgesFrom(t *testing.T) {
	g := testGraph(t)

	assert.Equal(t, []string{"SOL", "USDC", "USDT"}, g.EdgesFrom("Orca", "ETH"))
	assert.Equal(t, []string{"USDC"}, g.EdgesFrom("Solar", "ETH"))
	assert.Equal(t, []string{"ETH", "SOL", "USDC", "USDT"}, g.Tokens("Orca"))
}

func TestGraph_RejectsBadConfig(t *testing.T) {
	_, err := New(map[string][]string{"X": {}}, nil)
	assert.Error(t, err)

	_, err = New(map[string][]string{"X": {"ETHUSDC"}}, nil)
	assert.Error(t, err)

	_, err = New(map[string][]string{"X": {"ETH_ETH"}}, nil)
	assert.Error(t, err)

	known := func(s string) bool { return s == "ETH" || s == "USDC" }
	_, err = New(map[string][]string{"X": {"ETH_DOGE"}}, known)
	assert.Error(t, err)
}
