package ledger

import (
	"context"
	"errors"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/nexus-trading/swarm/internal/account"
	"github.com/nexus-trading/swarm/internal/token"
)

// Stub is an in-memory Accessor for tests.
type Stub struct {
	mu          sync.Mutex
	balances    map[string]decimal.Decimal // address|symbol
	accounts    map[string]bool
	balanceErr  map[string]error
	ensureErr   error
	ensureCalls []string
}

// NewStub creates an empty stub ledger.
func NewStub() *Stub {
	return &Stub{
		balances:   make(map[string]decimal.Decimal),
		accounts:   make(map[string]bool),
		balanceErr: make(map[string]error),
	}
}

func key(acc *account.Account, symbol string) string {
	return string(acc.Address) + "|" + symbol
}

// Set sets a balance. The token account is considered to exist.
func (s *Stub) Set(acc *account.Account, symbol string, amount decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[key(acc, symbol)] = amount
	s.accounts[key(acc, symbol)] = true
}

// FailBalance makes Balance fail for one token.
func (s *Stub) FailBalance(acc *account.Account, symbol string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balanceErr[key(acc, symbol)] = err
}

// FailEnsure makes every EnsureTokenAccount call fail with err.
func (s *Stub) FailEnsure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureErr = err
}

// EnsureCalls returns the symbols EnsureTokenAccount was called with.
func (s *Stub) EnsureCalls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ensureCalls...)
}

// Balance implements Accessor.
func (s *Stub) Balance(_ context.Context, acc *account.Account, tok token.Token) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.balanceErr[key(acc, tok.Symbol)]; err != nil {
		return decimal.Zero, err
	}
	return s.balances[key(acc, tok.Symbol)], nil
}

// EnsureTokenAccount implements Accessor.
func (s *Stub) EnsureTokenAccount(_ context.Context, acc *account.Account, tok token.Token) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureCalls = append(s.ensureCalls, tok.Symbol)
	if s.ensureErr != nil {
		return false, s.ensureErr
	}
	if tok.Native || s.accounts[key(acc, tok.Symbol)] {
		return false, nil
	}
	s.accounts[key(acc, tok.Symbol)] = true
	return true, nil
}

// ErrStub is a generic injected failure.
var ErrStub = errors.New("ledger: stub failure")
