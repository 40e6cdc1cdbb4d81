// Package dex executes swaps through an HTTP swap API that returns
// ready-to-sign transactions.
package dex

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/nexus-trading/swarm/internal/account"
	"github.com/nexus-trading/swarm/internal/adapters"
	"github.com/nexus-trading/swarm/internal/ledger"
	"github.com/nexus-trading/swarm/internal/solana"
	"github.com/nexus-trading/swarm/internal/token"
)

// Config configures one swap API executor.
type Config struct {
	APIURL           string        `yaml:"api_url"`
	SlippageBps      int           `yaml:"slippage_bps"`
	TxVersion        string        `yaml:"tx_version"` // LEGACY | V0
	ComputeUnitPrice uint64        `yaml:"compute_unit_price"`
	MaxRetries       int           `yaml:"max_retries"`
	Timeout          time.Duration `yaml:"timeout"`
}

// DefaultConfig returns Eclipse mainnet defaults.
func DefaultConfig() Config {
	return Config{
		APIURL:           "https://api.solarstudios.co",
		SlippageBps:      50,
		TxVersion:        "LEGACY",
		ComputeUnitPrice: 100_000,
		MaxRetries:       2,
		Timeout:          15 * time.Second,
	}
}

// Executor implements adapters.Executor for swap venues.
type Executor struct {
	name    string
	config  Config
	api     *APIClient
	tokens  *token.Registry
	rpc     solana.RPCClient
	confirm ledger.Awaiter
	fees    ledger.PriceSource
	clients *adapters.ClientPool

	swapsExecuted atomic.Int64
	swapsFailed   atomic.Int64
}

// New creates a swap executor. fees may be nil, in which case
// config.ComputeUnitPrice is used.
func New(name string, config Config, tokens *token.Registry, rpc solana.RPCClient, confirm ledger.Awaiter, fees ledger.PriceSource) *Executor {
	return &Executor{
		name:    name,
		config:  config,
		api:     NewAPIClient(config.APIURL, config.MaxRetries),
		tokens:  tokens,
		rpc:     rpc,
		confirm: confirm,
		fees:    fees,
		clients: adapters.NewClientPool(config.Timeout),
	}
}

func (e *Executor) Name() string { return e.name }

// Execute implements adapters.Executor.
func (e *Executor) Execute(ctx context.Context, acc *account.Account, from, to string, amount decimal.Decimal) (string, error) {
	sig, err := e.execute(ctx, acc, from, to, amount)
	if err != nil {
		e.swapsFailed.Add(1)
		return "", err
	}
	e.swapsExecuted.Add(1)
	return sig, nil
}

func (e *Executor) execute(ctx context.Context, acc *account.Account, from, to string, amount decimal.Decimal) (string, error) {
	in, ok := e.tokens.Lookup(from)
	if !ok {
		return "", fmt.Errorf("dex: unknown token %s", from)
	}
	out, ok := e.tokens.Lookup(to)
	if !ok {
		return "", fmt.Errorf("dex: unknown token %s", to)
	}
	if !amount.IsPositive() {
		return "", fmt.Errorf("dex: non-positive amount %s", amount)
	}

	hc, err := e.clients.For(acc.Proxy)
	if err != nil {
		return "", fmt.Errorf("dex: %w", err)
	}

	log.Info().
		Str("account", acc.Label()).
		Str("executor", e.name).
		Str("from", in.Symbol).
		Str("to", out.Symbol).
		Str("amount", amount.String()).
		Msg("dex: swap")

	quote, err := e.api.GetQuote(ctx, hc, QuoteRequest{
		InputMint:   in.Mint,
		OutputMint:  out.Mint,
		Amount:      in.ToBaseUnits(amount).String(),
		SlippageBps: e.config.SlippageBps,
		TxVersion:   e.config.TxVersion,
	})
	if err != nil {
		return "", err
	}

	price := e.config.ComputeUnitPrice
	if e.fees != nil {
		price = e.fees.ComputeUnitPrice()
	}
	txs, err := e.api.BuildSwapTxs(ctx, hc, quote, TxRequest{
		ComputeUnitPriceMicroLamports: strconv.FormatUint(price, 10),
		TxVersion:                     e.config.TxVersion,
		Wallet:                        string(acc.Address),
		WrapSol:                       in.Native,
		UnwrapSol:                     out.Native,
	})
	if err != nil {
		return "", err
	}

	var sig solana.Signature
	for i, tx := range txs {
		signed, err := solana.SignSerialized(tx, acc.Keypair)
		if err != nil {
			return "", fmt.Errorf("dex: sign tx %d/%d: %w", i+1, len(txs), err)
		}
		sig, err = e.rpc.SendTransaction(ctx, signed)
		if err != nil {
			return "", fmt.Errorf("dex: send tx %d/%d: %w", i+1, len(txs), err)
		}
		if err := e.confirm.Await(ctx, sig); err != nil {
			return "", fmt.Errorf("dex: confirm tx %d/%d: %w", i+1, len(txs), err)
		}
	}

	log.Info().
		Str("account", acc.Label()).
		Str("executor", e.name).
		Str("sig", string(sig)).
		Int("txs", len(txs)).
		Msg("dex: swap confirmed")
	return string(sig), nil
}

// Stats reports executor counters.
type Stats struct {
	SwapsExecuted int64    `json:"swaps_executed"`
	SwapsFailed   int64    `json:"swaps_failed"`
	API           APIStats `json:"api"`
}

func (e *Executor) Stats() Stats {
	return Stats{
		SwapsExecuted: e.swapsExecuted.Load(),
		SwapsFailed:   e.swapsFailed.Load(),
		API:           e.api.APIStats(),
	}
}
