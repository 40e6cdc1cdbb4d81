// Package underdog mints an NFT collection through the Underdog web API,
// illustrated with a random image.
package underdog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/nexus-trading/swarm/internal/account"
	"github.com/nexus-trading/swarm/internal/adapters"
	"github.com/nexus-trading/swarm/internal/ledger"
	"github.com/nexus-trading/swarm/internal/solana"
)

const (
	referer    = "https://eclipse.underdogprotocol.com/collections/create"
	maxNameLen = 20
)

// Config configures the mint executor.
type Config struct {
	APIURL string `yaml:"api_url"`
	// ImageAPIURL is concatenated with Token to fetch a random image.
	ImageAPIURL string        `yaml:"image_api_url"`
	Token       string        `yaml:"token"`
	Timeout     time.Duration `yaml:"timeout"`
}

// CollectionRequest is the collection-create body.
type CollectionRequest struct {
	Account     string `json:"account"`
	Name        string `json:"name"`
	Image       string `json:"image"`
	Description string `json:"description"`
	ExternalURL string `json:"externalUrl"`
	Soulbound   bool   `json:"soulbound"`
}

type imageResponse struct {
	Slug string `json:"slug"`
	URLs struct {
		Raw string `json:"raw"`
	} `json:"urls"`
}

type txResponse struct {
	Transaction string `json:"transaction"`
}

// Executor implements adapters.Executor for collection mints.
type Executor struct {
	config  Config
	rpc     solana.RPCClient
	confirm ledger.Awaiter
	clients *adapters.ClientPool
}

// New creates a mint executor.
func New(config Config, rpc solana.RPCClient, confirm ledger.Awaiter) *Executor {
	return &Executor{config: config, rpc: rpc, confirm: confirm, clients: adapters.NewClientPool(config.Timeout)}
}

func (e *Executor) Name() string { return "underdog" }

// Execute implements adapters.Executor. Token arguments are ignored.
func (e *Executor) Execute(ctx context.Context, acc *account.Account, _, _ string, _ decimal.Decimal) (string, error) {
	if e.config.APIURL == "" || e.config.ImageAPIURL == "" {
		return "", fmt.Errorf("underdog: api_url and image_api_url are required")
	}
	hc, err := e.clients.For(acc.Proxy)
	if err != nil {
		return "", fmt.Errorf("underdog: %w", err)
	}

	var img imageResponse
	if err := e.call(ctx, hc, http.MethodGet, e.config.ImageAPIURL+e.config.Token, nil, &img); err != nil {
		return "", fmt.Errorf("underdog: random image: %w", err)
	}
	name := CollectionName(img.Slug)
	if name == "" || img.URLs.Raw == "" {
		return "", fmt.Errorf("underdog: image response missing slug or url")
	}

	req := CollectionRequest{
		Account:     string(acc.Address),
		Name:        name,
		Image:       img.URLs.Raw,
		Description: name,
		ExternalURL: "https://" + name,
		Soulbound:   false,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("underdog: marshal request: %w", err)
	}

	var tx txResponse
	if err := e.call(ctx, hc, http.MethodPost, e.config.APIURL, body, &tx); err != nil {
		return "", fmt.Errorf("underdog: create collection: %w", err)
	}
	if tx.Transaction == "" {
		return "", fmt.Errorf("underdog: no transaction returned")
	}

	signed, err := solana.SignSerialized(tx.Transaction, acc.Keypair)
	if err != nil {
		return "", fmt.Errorf("underdog: sign: %w", err)
	}
	sig, err := e.rpc.SendTransaction(ctx, signed)
	if err != nil {
		return "", fmt.Errorf("underdog: send: %w", err)
	}
	if err := e.confirm.Await(ctx, sig); err != nil {
		return "", fmt.Errorf("underdog: confirm: %w", err)
	}

	log.Info().
		Str("account", acc.Label()).
		Str("collection", name).
		Str("sig", string(sig)).
		Msg("underdog: collection minted")
	return string(sig), nil
}

func (e *Executor) call(ctx context.Context, hc *http.Client, method, target string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Referer", referer)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}
	return json.Unmarshal(respBody, out)
}

// CollectionName derives a collection name from an image slug: the first
// character is dropped, dashes removed and the result capped at 20 bytes.
func CollectionName(slug string) string {
	if len(slug) < 2 {
		return ""
	}
	name := strings.ReplaceAll(slug[1:], "-", "")
	if len(name) > maxNameLen {
		name = name[:maxNameLen]
	}
	return name
}
