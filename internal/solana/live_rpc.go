package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	breakerThreshold = 10
	breakerCooldown  = 30 * time.Second
)

// ErrCircuitOpen is returned while the endpoint is being given a rest.
var ErrCircuitOpen = errors.New("rpc: circuit breaker open")

// breaker opens after breakerThreshold consecutive transport failures and
// lets calls through again once the cooldown has elapsed.
type breaker struct {
	mu        sync.Mutex
	failures  int
	openUntil time.Time
	now       func() time.Time
}

func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openUntil.IsZero() {
		return true
	}
	if b.now().Before(b.openUntil) {
		return false
	}
	b.openUntil = time.Time{}
	b.failures = 0
	log.Info().Msg("rpc: circuit breaker reset")
	return true
}

func (b *breaker) failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures >= breakerThreshold && b.openUntil.IsZero() {
		b.openUntil = b.now().Add(breakerCooldown)
		log.Error().Int("errors", b.failures).Msg("rpc: circuit breaker open")
	}
}

func (b *breaker) success() {
	b.mu.Lock()
	b.failures = 0
	b.mu.Unlock()
}

func (b *breaker) state() (open bool, failures int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.openUntil.IsZero() && b.now().Before(b.openUntil), b.failures
}

// LiveRPCClient talks JSON-RPC to an SVM endpoint with rate limiting,
// retries and a circuit breaker.
type LiveRPCClient struct {
	config     RPCConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *breaker
	nextID     atomic.Int64

	requestCount  atomic.Int64
	errorCount    atomic.Int64
	latencySum    atomic.Int64 // microseconds
	lastRequestAt atomic.Int64
}

// NewLiveRPCClient creates a live RPC client.
func NewLiveRPCClient(config RPCConfig) *LiveRPCClient {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.RateLimitRPS == 0 {
		config.RateLimitRPS = 10
	}
	burst := int(config.RateLimitRPS)
	if burst < 1 {
		burst = 1
	}

	return &LiveRPCClient{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(config.RateLimitRPS), burst),
		breaker:    &breaker{now: time.Now},
	}
}

// Close releases idle connections.
func (c *LiveRPCClient) Close() {
	c.httpClient.CloseIdleConnections()
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

// RPCError is an error object returned by the node.
type RPCError struct {
	Method  string `json:"-"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc: %s error %d: %s", e.Method, e.Code, e.Message)
}

var confirmed = map[string]any{"commitment": "confirmed"}

// call runs one JSON-RPC method and decodes its result into T.
func call[T any](ctx context.Context, c *LiveRPCClient, method string, params ...any) (T, error) {
	var out T
	raw, err := c.do(ctx, method, params)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("rpc: parse %s: %w", method, err)
	}
	return out, nil
}

// do sends method with retries. Node-level errors are returned as *RPCError
// without retrying.
func (c *LiveRPCClient) do(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	if !c.breaker.allow() {
		return nil, fmt.Errorf("%w for %s", ErrCircuitOpen, method)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: c.nextID.Add(1), Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("rpc: marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, retryDelay(attempt)); err != nil {
				return nil, err
			}
		}

		resp, status, err := c.post(ctx, body)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("rpc: %s: %w", method, err)
			c.errorCount.Add(1)
			c.breaker.failure()
			continue
		}

		switch {
		case status == http.StatusTooManyRequests:
			// 429 does not count toward the breaker.
			lastErr = fmt.Errorf("rpc: %s rate limited (429)", method)
			c.errorCount.Add(1)
			if err := sleepCtx(ctx, time.Duration(2<<uint(attempt))*time.Second); err != nil {
				return nil, err
			}
			continue
		case status != http.StatusOK:
			lastErr = fmt.Errorf("rpc: %s HTTP %d: %s", method, status, string(resp))
			c.errorCount.Add(1)
			c.breaker.failure()
			continue
		}

		var rpcResp rpcResponse
		if err := json.Unmarshal(resp, &rpcResp); err != nil {
			lastErr = fmt.Errorf("rpc: %s unmarshal response: %w", method, err)
			c.errorCount.Add(1)
			c.breaker.failure()
			continue
		}

		c.breaker.success()
		if rpcResp.Error != nil {
			rpcResp.Error.Method = method
			return nil, rpcResp.Error
		}
		return rpcResp.Result, nil
	}

	return nil, fmt.Errorf("rpc: %s failed after %d attempts: %w", method, c.config.MaxRetries+1, lastErr)
}

func (c *LiveRPCClient) post(ctx context.Context, body []byte) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read response: %w", err)
	}
	c.requestCount.Add(1)
	c.latencySum.Add(time.Since(start).Microseconds())
	c.lastRequestAt.Store(time.Now().UnixMilli())
	return data, resp.StatusCode, nil
}

// retryDelay is 500ms, then 2s, 4s, ...
func retryDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return 500 * time.Millisecond
	}
	return time.Duration(1<<uint(attempt-1)) * time.Second
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type valueOf[T any] struct {
	Value T `json:"value"`
}

// GetBalance returns the lamport balance of an account.
func (c *LiveRPCClient) GetBalance(ctx context.Context, account Pubkey) (uint64, error) {
	res, err := call[valueOf[uint64]](ctx, c, "getBalance", string(account), confirmed)
	return res.Value, err
}

// GetTokenAccountBalance reads a token account balance, scaled by its decimals.
func (c *LiveRPCClient) GetTokenAccountBalance(ctx context.Context, tokenAccount Pubkey) (decimal.Decimal, error) {
	type amount struct {
		Amount   string `json:"amount"`
		Decimals int32  `json:"decimals"`
	}
	res, err := call[valueOf[amount]](ctx, c, "getTokenAccountBalance", string(tokenAccount), confirmed)
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) && strings.Contains(strings.ToLower(rpcErr.Message), "could not find account") {
			return decimal.Zero, ErrAccountNotFound
		}
		return decimal.Zero, err
	}

	raw, err := decimal.NewFromString(res.Value.Amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("rpc: parse token amount %q: %w", res.Value.Amount, err)
	}
	return raw.Shift(-res.Value.Decimals), nil
}

// AccountExists reports whether getAccountInfo returns a value.
func (c *LiveRPCClient) AccountExists(ctx context.Context, account Pubkey) (bool, error) {
	res, err := call[valueOf[json.RawMessage]](ctx, c, "getAccountInfo", string(account),
		map[string]any{"encoding": "base64", "commitment": "confirmed"})
	if err != nil {
		return false, err
	}
	return len(res.Value) > 0 && string(res.Value) != "null", nil
}

// GetLatestBlockhash returns the most recent confirmed blockhash.
func (c *LiveRPCClient) GetLatestBlockhash(ctx context.Context) (string, error) {
	type blockhash struct {
		Blockhash string `json:"blockhash"`
	}
	res, err := call[valueOf[blockhash]](ctx, c, "getLatestBlockhash", confirmed)
	if err != nil {
		return "", err
	}
	if res.Value.Blockhash == "" {
		return "", errors.New("rpc: empty blockhash")
	}
	return res.Value.Blockhash, nil
}

// GetRecentPrioritizationFees returns the non-zero per-slot fees.
func (c *LiveRPCClient) GetRecentPrioritizationFees(ctx context.Context) ([]uint64, error) {
	type slotFee struct {
		PrioritizationFee uint64 `json:"prioritizationFee"`
	}
	res, err := call[[]slotFee](ctx, c, "getRecentPrioritizationFees")
	if err != nil {
		return nil, err
	}
	values := make([]uint64, 0, len(res))
	for _, f := range res {
		if f.PrioritizationFee > 0 {
			values = append(values, f.PrioritizationFee)
		}
	}
	return values, nil
}

// SendTransaction submits a signed transaction.
func (c *LiveRPCClient) SendTransaction(ctx context.Context, txBase64 string) (Signature, error) {
	sig, err := call[string](ctx, c, "sendTransaction", txBase64, map[string]any{
		"encoding":            "base64",
		"skipPreflight":       false,
		"preflightCommitment": "confirmed",
		"maxRetries":          2,
	})
	return Signature(sig), err
}

// GetTransactionStatus maps getSignatureStatuses onto pending, confirmed,
// finalized or failed.
func (c *LiveRPCClient) GetTransactionStatus(ctx context.Context, sig Signature) (string, error) {
	type status struct {
		ConfirmationStatus string `json:"confirmationStatus"`
		Err                any    `json:"err"`
	}
	res, err := call[valueOf[[]*status]](ctx, c, "getSignatureStatuses",
		[]string{string(sig)}, map[string]any{"searchTransactionHistory": true})
	if err != nil {
		return "", err
	}

	if len(res.Value) == 0 || res.Value[0] == nil {
		return StatusPending, nil
	}
	st := res.Value[0]
	switch {
	case st.Err != nil:
		return StatusFailed, nil
	case st.ConfirmationStatus == "" || st.ConfirmationStatus == "processed":
		return StatusPending, nil
	}
	return st.ConfirmationStatus, nil
}

// Health checks the RPC endpoint health.
func (c *LiveRPCClient) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := c.do(ctx, "getHealth", nil)
	return err
}

// RPCStats returns RPC client statistics.
type RPCStats struct {
	RequestCount  int64 `json:"request_count"`
	ErrorCount    int64 `json:"error_count"`
	AvgLatencyUs  int64 `json:"avg_latency_us"`
	LastRequestAt int64 `json:"last_request_at"`
	CircuitOpen   bool  `json:"circuit_open"`
	ConsecErrors  int   `json:"consecutive_errors"`
}

func (c *LiveRPCClient) Stats() RPCStats {
	reqs := c.requestCount.Load()
	var avg int64
	if reqs > 0 {
		avg = c.latencySum.Load() / reqs
	}
	open, failures := c.breaker.state()
	return RPCStats{
		RequestCount:  reqs,
		ErrorCount:    c.errorCount.Load(),
		AvgLatencyUs:  avg,
		LastRequestAt: c.lastRequestAt.Load(),
		CircuitOpen:   open,
		ConsecErrors:  failures,
	}
}
