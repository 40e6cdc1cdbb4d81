package solana

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// RPC Client Interface
// ---------------------------------------------------------------------------

// RPCClient is the interface for SVM JSON-RPC interactions.
// Implementations: LiveRPCClient (real endpoint), StubRPCClient (testing).
type RPCClient interface {
	// GetBalance returns the native balance of an account in lamports.
	GetBalance(ctx context.Context, account Pubkey) (uint64, error)

	// GetTokenAccountBalance returns the UI amount held by a token account.
	// Returns ErrAccountNotFound when the account does not exist.
	GetTokenAccountBalance(ctx context.Context, tokenAccount Pubkey) (decimal.Decimal, error)

	// AccountExists reports whether an account is initialised on chain.
	AccountExists(ctx context.Context, account Pubkey) (bool, error)

	// GetLatestBlockhash returns a recent blockhash for transaction building.
	GetLatestBlockhash(ctx context.Context) (string, error)

	// GetRecentPrioritizationFees returns recent per-slot compute unit prices
	// (micro-lamports).
	GetRecentPrioritizationFees(ctx context.Context) ([]uint64, error)

	// SendTransaction submits a signed transaction to the network.
	SendTransaction(ctx context.Context, txBase64 string) (Signature, error)

	// GetTransactionStatus checks if a transaction is confirmed.
	GetTransactionStatus(ctx context.Context, sig Signature) (string, error) // pending|confirmed|finalized|failed

	// Health returns the RPC endpoint health.
	Health(ctx context.Context) error
}

// RPCConfig configures the RPC client.
type RPCConfig struct {
	Endpoint     string        `yaml:"endpoint"`    // e.g. https://mainnetbeta-rpc.eclipse.xyz
	WSEndpoint   string        `yaml:"ws_endpoint"` // e.g. wss://mainnetbeta-rpc.eclipse.xyz
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RateLimitRPS float64       `yaml:"rate_limit_rps"` // requests per second limit
}

// DefaultRPCConfig returns Eclipse mainnet defaults.
func DefaultRPCConfig() RPCConfig {
	return RPCConfig{
		Endpoint:     "https://mainnetbeta-rpc.eclipse.xyz",
		WSEndpoint:   "wss://mainnetbeta-rpc.eclipse.xyz",
		Timeout:      10 * time.Second,
		MaxRetries:   3,
		RateLimitRPS: 10,
	}
}

// ---------------------------------------------------------------------------
// Stub RPC Client (for testing and development)
// ---------------------------------------------------------------------------

// StubRPCClient is an in-memory chain for tests and -stub runs.
type StubRPCClient struct {
	mu            sync.RWMutex
	lamports      map[Pubkey]uint64
	tokenAccounts map[Pubkey]decimal.Decimal
	accounts      map[Pubkey]bool
	fees          []uint64
	sent          []string
	status        string
	failNext      bool
	seq           int
}

// NewStubRPCClient creates a stub RPC client for testing.
func NewStubRPCClient() *StubRPCClient {
	return &StubRPCClient{
		lamports:      make(map[Pubkey]uint64),
		tokenAccounts: make(map[Pubkey]decimal.Decimal),
		accounts:      make(map[Pubkey]bool),
		status:        StatusConfirmed,
	}
}

// SetLamports sets the native balance of an account.
func (s *StubRPCClient) SetLamports(account Pubkey, lamports uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lamports[account] = lamports
	s.accounts[account] = true
}

// SetTokenBalance creates (or updates) a token account with a UI amount.
func (s *StubRPCClient) SetTokenBalance(tokenAccount Pubkey, amount decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenAccounts[tokenAccount] = amount
	s.accounts[tokenAccount] = true
}

// SetPrioritizationFees sets the values GetRecentPrioritizationFees returns.
func (s *StubRPCClient) SetPrioritizationFees(fees []uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fees = append([]uint64(nil), fees...)
}

// SetStatus sets the status returned for every signature.
func (s *StubRPCClient) SetStatus(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// SetFailNext makes the next call fail.
func (s *StubRPCClient) SetFailNext() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = true
}

// Sent returns every transaction submitted so far.
func (s *StubRPCClient) Sent() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.sent...)
}

func (s *StubRPCClient) shouldFail() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext {
		s.failNext = false
		return true
	}
	return false
}

// --- Interface implementation ---

func (s *StubRPCClient) GetBalance(_ context.Context, account Pubkey) (uint64, error) {
	if s.shouldFail() {
		return 0, fmt.Errorf("stub: simulated RPC failure")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lamports[account], nil
}

func (s *StubRPCClient) GetTokenAccountBalance(_ context.Context, tokenAccount Pubkey) (decimal.Decimal, error) {
	if s.shouldFail() {
		return decimal.Zero, fmt.Errorf("stub: simulated RPC failure")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	amount, ok := s.tokenAccounts[tokenAccount]
	if !ok {
		return decimal.Zero, ErrAccountNotFound
	}
	return amount, nil
}

func (s *StubRPCClient) AccountExists(_ context.Context, account Pubkey) (bool, error) {
	if s.shouldFail() {
		return false, fmt.Errorf("stub: simulated RPC failure")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accounts[account], nil
}

func (s *StubRPCClient) GetLatestBlockhash(_ context.Context) (string, error) {
	if s.shouldFail() {
		return "", fmt.Errorf("stub: simulated RPC failure")
	}
	// 32 zero bytes, base58.
	return "11111111111111111111111111111111", nil
}

func (s *StubRPCClient) GetRecentPrioritizationFees(_ context.Context) ([]uint64, error) {
	if s.shouldFail() {
		return nil, fmt.Errorf("stub: simulated RPC failure")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]uint64(nil), s.fees...), nil
}

func (s *StubRPCClient) SendTransaction(_ context.Context, txBase64 string) (Signature, error) {
	if s.shouldFail() {
		return "", fmt.Errorf("stub: simulated RPC failure")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, txBase64)
	s.seq++
	return Signature(fmt.Sprintf("stub-sig-%d", s.seq)), nil
}

func (s *StubRPCClient) GetTransactionStatus(_ context.Context, _ Signature) (string, error) {
	if s.shouldFail() {
		return "", fmt.Errorf("stub: simulated RPC failure")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status, nil
}

func (s *StubRPCClient) Health(_ context.Context) error {
	if s.shouldFail() {
		return fmt.Errorf("stub: simulated RPC failure")
	}
	return nil
}
