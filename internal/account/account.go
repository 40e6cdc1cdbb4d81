// Package account holds per-wallet identity, policy and run state.
package account

import (
	"crypto/ecdsa"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/nexus-trading/swarm/internal/solana"
	"github.com/nexus-trading/swarm/internal/token"
)

// Range is an inclusive amount range.
type Range struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

// BridgeRoute is a fixed cross-chain transfer into the execution chain.
type BridgeRoute struct {
	FromChain string          // arb | op | linea | base
	ChainID   int64           // origin EVM chain id
	Currency  string          // origin currency symbol
	Amount    decimal.Decimal // picked once per account
}

// Policy is static per run.
type Policy struct {
	ActionCount int
	WorkTime    time.Duration
	Swap        map[token.Class]Range
	// MinReserve is the gas balance below which the runner refuses to start.
	MinReserve decimal.Decimal
	Bridge     *BridgeRoute
}

// SwapRange returns the min/max swap size for a token class.
func (p Policy) SwapRange(c token.Class) (Range, bool) {
	r, ok := p.Swap[c]
	return r, ok
}

// Swap is one recorded swap pair.
type Swap struct {
	From   string
	To     string
	Forced bool
}

// Account is owned by exactly one runner. The mutex only guards history so
// reports can read it after the run.
type Account struct {
	Index      int
	Address    solana.Pubkey
	Keypair    solana.Keypair
	EVMKey     *ecdsa.PrivateKey
	EVMAddress common.Address
	Proxy      string
	Policy     Policy

	mu      sync.Mutex
	history []Swap
}

// Label is a short identifier for logs.
func (a *Account) Label() string {
	s := string(a.Address)
	if len(s) > 8 {
		return s[:4] + ".." + s[len(s)-4:]
	}
	return s
}

// Record appends a swap to the history.
func (a *Account) Record(s Swap) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = append(a.history, s)
}

// LastSwap returns the most recent swap, if any.
func (a *Account) LastSwap() (Swap, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.history) == 0 {
		return Swap{}, false
	}
	return a.history[len(a.history)-1], true
}

// History returns a copy of the swap history.
func (a *Account) History() []Swap {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Swap, len(a.history))
	copy(out, a.history)
	return out
}
