package adapters

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-trading/swarm/internal/account"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry(NewDryRun("dex"), NewDryRun("Relay"))

	e, err := r.Get("DEX")
	require.NoError(t, err)
	assert.Equal(t, "dex", e.Name())

	_, err = r.Get("relay")
	require.NoError(t, err)

	_, err = r.Get("underdog")
	assert.ErrorIs(t, err, ErrNoExecutor)

	assert.Equal(t, []string{"dex", "relay"}, r.Names())
}

func TestDryRun(t *testing.T) {
	d := NewDryRun("dex")
	acc := &account.Account{Address: "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"}

	ref, err := d.Execute(context.Background(), acc, "ETH", "USDC", decimal.RequireFromString("0.01"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ref, "dry-"))

	ref2, err := d.Execute(context.Background(), acc, "ETH", "USDC", decimal.RequireFromString("0.01"))
	require.NoError(t, err)
	assert.NotEqual(t, ref, ref2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.Execute(ctx, acc, "ETH", "USDC", decimal.RequireFromString("0.01"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseProxy(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"http://u:p@1.2.3.4:8080", "http://u:p@1.2.3.4:8080"},
		{"u:p@1.2.3.4:8080", "http://u:p@1.2.3.4:8080"},
		{"1.2.3.4:8080", "http://1.2.3.4:8080"},
		{"1.2.3.4:8080:u:p", "http://u:p@1.2.3.4:8080"},
		{"socks5://1.2.3.4:1080", "socks5://1.2.3.4:1080"},
	}
	for _, tt := range tests {
		u, err := ParseProxy(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, u.String(), tt.in)
	}

	_, err := ParseProxy("")
	assert.Error(t, err)
}

func TestClientPool(t *testing.T) {
	p := NewClientPool(time.Second)

	direct, err := p.For("")
	require.NoError(t, err)
	again, err := p.For("")
	require.NoError(t, err)
	assert.Same(t, direct, again)

	proxied, err := p.For("1.2.3.4:8080")
	require.NoError(t, err)
	assert.NotSame(t, direct, proxied)
	assert.Equal(t, time.Second, proxied.Timeout)
}
