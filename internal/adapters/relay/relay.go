// Package relay bridges funds from an EVM chain into the execution chain
// through the Relay quote API.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/nexus-trading/swarm/internal/account"
	"github.com/nexus-trading/swarm/internal/adapters"
)

const (
	// EclipseChainID is Relay's id for the Eclipse mainnet.
	EclipseChainID int64 = 9286185
	// nativeCurrency is the SVM system program, Relay's name for native ETH.
	nativeCurrency = "11111111111111111111111111111111"
	referrer       = "relay.link/swap"
)

// Currency is an origin-chain asset.
type Currency struct {
	Address  string `yaml:"address"`
	Decimals int32  `yaml:"decimals"`
}

// Chain is an origin chain.
type Chain struct {
	ChainID    int64               `yaml:"chain_id"`
	RPC        string              `yaml:"rpc"`
	Currencies map[string]Currency `yaml:"currencies"`
}

// Config configures the bridge executor.
type Config struct {
	APIURL             string           `yaml:"api_url"`
	DestinationChainID int64            `yaml:"destination_chain_id"`
	Chains             map[string]Chain `yaml:"chains"`
	Timeout            time.Duration    `yaml:"timeout"`
	WaitTimeout        time.Duration    `yaml:"wait_timeout"`
	// SettleDelay is slept after each mined step so the fill lands before
	// the next action reads balances.
	SettleDelay time.Duration `yaml:"settle_delay"`
}

var zeroAddress = common.Address{}.Hex()

// DefaultChains returns the supported origin chains with their token maps.
// RPC endpoints come from configuration.
func DefaultChains() map[string]Chain {
	eth := Currency{Address: zeroAddress, Decimals: 18}
	return map[string]Chain{
		"arb": {ChainID: 42161, Currencies: map[string]Currency{
			"eth":  eth,
			"usdt": {Address: "0xfd086bc7cd5c481dcc9c85ebe478a1c0b69fcbb9", Decimals: 6},
			"usdc": {Address: "0xaf88d065e77c8cc2239327c5edb3a432268e5831", Decimals: 6},
		}},
		"op": {ChainID: 10, Currencies: map[string]Currency{
			"eth":  eth,
			"usdt": {Address: "0x94b008aa00579c1307b0ef2c499ad98a8ce58e58", Decimals: 6},
			"usdc": {Address: "0x0b2c639c533813f4aa9d7837caf62653d097ff85", Decimals: 6},
		}},
		"linea": {ChainID: 59144, Currencies: map[string]Currency{
			"eth":  eth,
			"usdt": {Address: "0xa219439258ca9da29e9cc4ce5596924745e12b93", Decimals: 6},
			"usdc": {Address: "0x176211869ca2b568f2a7d4ee941e073a821ee1ff", Decimals: 6},
		}},
		"base": {ChainID: 8453, Currencies: map[string]Currency{
			"eth":  eth,
			"usdc": {Address: "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913", Decimals: 6},
			"usdt": {Address: "0xfde4c96c8593536e31f229ea8f37b2ada2699bb2", Decimals: 6},
		}},
	}
}

// DefaultConfig returns mainnet defaults.
func DefaultConfig() Config {
	return Config{
		APIURL:             "https://api.relay.link/quote",
		DestinationChainID: EclipseChainID,
		Chains:             DefaultChains(),
		Timeout:            15 * time.Second,
		WaitTimeout:        3 * time.Minute,
		SettleDelay:        10 * time.Second,
	}
}

// ChainIDs maps chain names to ids, for the account factory.
func (c Config) ChainIDs() map[string]int64 {
	out := make(map[string]int64, len(c.Chains))
	for name, ch := range c.Chains {
		out[name] = ch.ChainID
	}
	return out
}

// QuoteRequest is the Relay quote body.
type QuoteRequest struct {
	User                 string `json:"user"`
	OriginChainID        int64  `json:"originChainId"`
	DestinationChainID   int64  `json:"destinationChainId"`
	OriginCurrency       string `json:"originCurrency"`
	DestinationCurrency  string `json:"destinationCurrency"`
	Recipient            string `json:"recipient"`
	TradeType            string `json:"tradeType"`
	Amount               string `json:"amount"`
	Referrer             string `json:"referrer"`
	UseExternalLiquidity bool   `json:"useExternalLiquidity"`
	UseDepositAddress    bool   `json:"useDepositAddress"`
}

// TxData is an EVM transaction to sign and send.
type TxData struct {
	From  string `json:"from,omitempty"`
	To    string `json:"to"`
	Value string `json:"value"`
	Data  string `json:"data"`
	Gas   string `json:"gas,omitempty"`
}

// Step is one stage of a quote. Only kind "transaction" is executed here.
type Step struct {
	ID    string `json:"id"`
	Kind  string `json:"kind"`
	Items []struct {
		Status string `json:"status"`
		Data   TxData `json:"data"`
	} `json:"items"`
}

// QuoteResponse is the subset of the Relay quote we use.
type QuoteResponse struct {
	Steps []Step `json:"steps"`
}

// Executor implements adapters.Executor for the Relay bridge.
type Executor struct {
	config  Config
	clients *adapters.ClientPool
	dial    Dialer
}

// New creates a bridge executor. dial may be nil to use ethclient.
func New(config Config, dial Dialer) *Executor {
	if dial == nil {
		dial = DialEthclient
	}
	if config.DestinationChainID == 0 {
		config.DestinationChainID = EclipseChainID
	}
	return &Executor{config: config, clients: adapters.NewClientPool(config.Timeout), dial: dial}
}

func (e *Executor) Name() string { return "relay" }

// Execute implements adapters.Executor. from is the origin currency; the
// origin chain comes from the account's bridge route.
func (e *Executor) Execute(ctx context.Context, acc *account.Account, from, _ string, amount decimal.Decimal) (string, error) {
	route := acc.Policy.Bridge
	if route == nil {
		return "", fmt.Errorf("relay: account %s has no bridge route", acc.Label())
	}
	if acc.EVMKey == nil {
		return "", fmt.Errorf("relay: account %s has no EVM key", acc.Label())
	}
	chain, ok := e.config.Chains[route.FromChain]
	if !ok {
		return "", fmt.Errorf("relay: unknown origin chain %q", route.FromChain)
	}
	if chain.RPC == "" {
		return "", fmt.Errorf("relay: no RPC configured for %s", route.FromChain)
	}

	req, err := e.buildRequest(acc, chain, from, amount)
	if err != nil {
		return "", err
	}

	log.Info().
		Str("account", acc.Label()).
		Str("chain", route.FromChain).
		Str("currency", from).
		Str("amount", amount.String()).
		Msg("relay: bridge")

	quote, err := e.quote(ctx, acc.Proxy, req)
	if err != nil {
		return "", err
	}

	client, err := e.dial(ctx, chain.RPC)
	if err != nil {
		return "", fmt.Errorf("relay: dial %s: %w", route.FromChain, err)
	}
	defer client.Close()

	var hash string
	for _, step := range quote.Steps {
		if step.Kind != "transaction" {
			continue
		}
		if len(step.Items) == 0 {
			return "", fmt.Errorf("relay: step %s has no items", step.ID)
		}
		h, err := e.sendStep(ctx, client, acc, chain.ChainID, step.Items[0].Data)
		if err != nil {
			return "", fmt.Errorf("relay: step %s: %w", step.ID, err)
		}
		hash = h
		if e.config.SettleDelay > 0 {
			select {
			case <-time.After(e.config.SettleDelay):
			case <-ctx.Done():
				return hash, nil
			}
		}
	}
	if hash == "" {
		return "", fmt.Errorf("relay: quote has no transaction steps")
	}
	return hash, nil
}

func (e *Executor) buildRequest(acc *account.Account, chain Chain, currency string, amount decimal.Decimal) (QuoteRequest, error) {
	cur, ok := chain.Currencies[strings.ToLower(currency)]
	if !ok {
		return QuoteRequest{}, fmt.Errorf("relay: currency %q not supported on chain %d", currency, chain.ChainID)
	}
	if !amount.IsPositive() {
		return QuoteRequest{}, fmt.Errorf("relay: non-positive amount %s", amount)
	}
	return QuoteRequest{
		User:                 acc.EVMAddress.Hex(),
		OriginChainID:        chain.ChainID,
		DestinationChainID:   e.config.DestinationChainID,
		OriginCurrency:       cur.Address,
		DestinationCurrency:  nativeCurrency,
		Recipient:            string(acc.Address),
		TradeType:            "EXACT_INPUT",
		Amount:               amount.Shift(cur.Decimals).Truncate(0).String(),
		Referrer:             referrer,
		UseExternalLiquidity: false,
		UseDepositAddress:    false,
	}, nil
}

func (e *Executor) quote(ctx context.Context, proxy string, req QuoteRequest) (*QuoteResponse, error) {
	hc, err := e.clients.For(proxy)
	if err != nil {
		return nil, fmt.Errorf("relay: %w", err)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("relay: marshal quote: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.APIURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("relay: create quote request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := hc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("relay: quote HTTP error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("relay: read quote: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("relay: quote HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	var quote QuoteResponse
	if err := json.Unmarshal(respBody, &quote); err != nil {
		return nil, fmt.Errorf("relay: parse quote: %w", err)
	}
	return &quote, nil
}
