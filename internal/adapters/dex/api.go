package dex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Swap API client: compute a route, then fetch the ready-to-sign transactions
// ---------------------------------------------------------------------------

const (
	quotePath = "/compute/swap-base-in"
	txPath    = "/transaction/swap-base-in"

	defaultMaxRetries = 2
	retryBackoff      = 500 * time.Millisecond
	breakerThreshold  = 5
	breakerCooldown   = 30 * time.Second
)

// QuoteRequest is the input of the compute endpoint.
type QuoteRequest struct {
	InputMint   string
	OutputMint  string
	Amount      string // base units
	SlippageBps int
	TxVersion   string
}

// QuoteResponse is the compute endpoint's reply. Data is opaque and handed
// back verbatim when building transactions.
type QuoteResponse struct {
	ID      string          `json:"id"`
	Success bool            `json:"success"`
	Version string          `json:"version"`
	Msg     string          `json:"msg,omitempty"`
	Data    json.RawMessage `json:"data"`
}

// swapRoute is the subset of QuoteResponse.Data we log.
type swapRoute struct {
	InputAmount    string  `json:"inputAmount"`
	OutputAmount   string  `json:"outputAmount"`
	PriceImpactPct float64 `json:"priceImpactPct"`
}

// TxRequest is the body of the transaction endpoint.
type TxRequest struct {
	ComputeUnitPriceMicroLamports string        `json:"computeUnitPriceMicroLamports"`
	SwapResponse                  QuoteResponse `json:"swapResponse"`
	TxVersion                     string        `json:"txVersion"`
	Wallet                        string        `json:"wallet"`
	WrapSol                       bool          `json:"wrapSol"`
	UnwrapSol                     bool          `json:"unwrapSol"`
}

// TxResponse carries one or more base64 wire transactions to execute in order.
type TxResponse struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Msg     string `json:"msg,omitempty"`
	Data    []struct {
		Transaction string `json:"transaction"`
	} `json:"data"`
}

// APIClient talks to one venue's swap API. The HTTP client is passed per
// call so each account can use its own proxy.
type APIClient struct {
	baseURL    string
	maxRetries int

	quoteCount   atomic.Int64
	txCount      atomic.Int64
	errorCount   atomic.Int64
	avgLatencyMs atomic.Int64

	// Circuit breaker.
	consecutiveErrors atomic.Int64
	circuitOpen       atomic.Bool
}

// NewAPIClient creates a client for baseURL.
func NewAPIClient(baseURL string, maxRetries int) *APIClient {
	if maxRetries < 0 {
		maxRetries = defaultMaxRetries
	}
	return &APIClient{baseURL: strings.TrimRight(baseURL, "/"), maxRetries: maxRetries}
}

// GetQuote computes a swap route.
func (c *APIClient) GetQuote(ctx context.Context, hc *http.Client, params QuoteRequest) (*QuoteResponse, error) {
	if c.circuitOpen.Load() {
		return nil, fmt.Errorf("dex: circuit breaker open")
	}
	start := time.Now()

	queryURL, err := url.Parse(c.baseURL + quotePath)
	if err != nil {
		return nil, fmt.Errorf("dex: parse URL: %w", err)
	}
	q := queryURL.Query()
	q.Set("inputMint", params.InputMint)
	q.Set("outputMint", params.OutputMint)
	q.Set("amount", params.Amount)
	q.Set("slippageBps", strconv.Itoa(params.SlippageBps))
	q.Set("txVersion", params.TxVersion)
	queryURL.RawQuery = q.Encode()

	var quote QuoteResponse
	if err := c.do(ctx, hc, http.MethodGet, queryURL.String(), nil, &quote); err != nil {
		return nil, fmt.Errorf("dex: quote: %w", err)
	}
	if !quote.Success {
		return nil, fmt.Errorf("dex: quote rejected: %s", quote.Msg)
	}

	latency := time.Since(start).Milliseconds()
	c.quoteCount.Add(1)
	c.avgLatencyMs.Store(latency)

	var route swapRoute
	_ = json.Unmarshal(quote.Data, &route)
	log.Debug().
		Str("in", short(params.InputMint)).
		Str("out", short(params.OutputMint)).
		Str("in_amount", route.InputAmount).
		Str("out_amount", route.OutputAmount).
		Float64("price_impact", route.PriceImpactPct).
		Int64("latency_ms", latency).
		Msg("dex: quote received")

	return &quote, nil
}

// BuildSwapTxs turns a quote into unsigned wire transactions for wallet.
func (c *APIClient) BuildSwapTxs(ctx context.Context, hc *http.Client, quote *QuoteResponse, req TxRequest) ([]string, error) {
	if c.circuitOpen.Load() {
		return nil, fmt.Errorf("dex: circuit breaker open")
	}
	req.SwapResponse = *quote

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("dex: marshal swap request: %w", err)
	}

	var resp TxResponse
	if err := c.do(ctx, hc, http.MethodPost, c.baseURL+txPath, body, &resp); err != nil {
		return nil, fmt.Errorf("dex: swap transaction: %w", err)
	}
	if !resp.Success || len(resp.Data) == 0 {
		return nil, fmt.Errorf("dex: no transactions returned: %s", resp.Msg)
	}

	txs := make([]string, 0, len(resp.Data))
	for _, d := range resp.Data {
		txs = append(txs, d.Transaction)
	}
	c.txCount.Add(1)
	return txs, nil
}

// do runs one request with retries and decodes a 200 body into out.
func (c *APIClient) do(ctx context.Context, hc *http.Client, method, target string, body []byte, out any) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retryBackoff * time.Duration(1<<uint(attempt-1))):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, reader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := hc.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("HTTP error: %w", err)
			c.errorCount.Add(1)
			c.recordError()
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			c.errorCount.Add(1)
			c.recordError()
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limited (429)")
			c.errorCount.Add(1)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
			c.errorCount.Add(1)
			c.recordError()
			continue
		}

		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
		c.resetErrors()
		return nil
	}
	return fmt.Errorf("failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

// recordError increments consecutive errors and opens the circuit breaker.
func (c *APIClient) recordError() {
	count := c.consecutiveErrors.Add(1)
	if count >= breakerThreshold {
		if c.circuitOpen.CompareAndSwap(false, true) {
			log.Error().Int64("errors", count).Str("api", c.baseURL).Msg("dex: CIRCUIT BREAKER OPEN")
			go func() {
				time.Sleep(breakerCooldown)
				c.circuitOpen.Store(false)
				c.consecutiveErrors.Store(0)
				log.Info().Str("api", c.baseURL).Msg("dex: circuit breaker reset")
			}()
		}
	}
}

func (c *APIClient) resetErrors() {
	c.consecutiveErrors.Store(0)
}

// APIStats returns swap API client stats.
type APIStats struct {
	QuoteCount   int64 `json:"quote_count"`
	TxCount      int64 `json:"tx_count"`
	ErrorCount   int64 `json:"error_count"`
	AvgLatencyMs int64 `json:"avg_latency_ms"`
	CircuitOpen  bool  `json:"circuit_open"`
}

func (c *APIClient) APIStats() APIStats {
	return APIStats{
		QuoteCount:   c.quoteCount.Load(),
		TxCount:      c.txCount.Load(),
		ErrorCount:   c.errorCount.Load(),
		AvgLatencyMs: c.avgLatencyMs.Load(),
		CircuitOpen:  c.circuitOpen.Load(),
	}
}

func short(s string) string {
	if len(s) > 8 {
		return s[:8]
	}
	return s
}
