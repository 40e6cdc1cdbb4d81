package solana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Transaction confirmation: signatureSubscribe over WebSocket, with
// getSignatureStatuses polling as fallback.
// ---------------------------------------------------------------------------

// ErrTransactionFailed is returned when a transaction landed with an error.
var ErrTransactionFailed = errors.New("solana: transaction failed on chain")

// ConfirmConfig configures the Confirmer.
type ConfirmConfig struct {
	WSEndpoint   string        `yaml:"ws_endpoint"`
	Timeout      time.Duration `yaml:"timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// Confirmer waits for transactions to reach confirmed commitment.
type Confirmer struct {
	config ConfirmConfig
	rpc    RPCClient
}

// NewConfirmer creates a confirmer. An empty WSEndpoint disables the
// WebSocket path.
func NewConfirmer(config ConfirmConfig, rpc RPCClient) *Confirmer {
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}
	if config.PollInterval == 0 {
		config.PollInterval = time.Second
	}
	return &Confirmer{config: config, rpc: rpc}
}

// Await blocks until sig is confirmed, fails, or the timeout elapses.
func (c *Confirmer) Await(ctx context.Context, sig Signature) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	if c.config.WSEndpoint != "" {
		err := c.awaitWS(ctx, sig)
		if err == nil || errors.Is(err, ErrTransactionFailed) {
			return err
		}
		if ctx.Err() != nil {
			return fmt.Errorf("confirm: %s: %w", sig, ctx.Err())
		}
		log.Debug().Err(err).Str("sig", shortSig(sig)).Msg("confirm: ws unavailable, polling")
	}
	return c.poll(ctx, sig)
}

func (c *Confirmer) poll(ctx context.Context, sig Signature) error {
	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()

	for {
		status, err := c.rpc.GetTransactionStatus(ctx, sig)
		if err != nil {
			log.Debug().Err(err).Str("sig", shortSig(sig)).Msg("confirm: status poll error")
		}
		switch status {
		case StatusConfirmed, StatusFinalized:
			return nil
		case StatusFailed:
			return fmt.Errorf("confirm: %s: %w", sig, ErrTransactionFailed)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("confirm: %s not confirmed: %w", sig, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Confirmer) awaitWS(ctx context.Context, sig Signature) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, c.config.WSEndpoint, http.Header{})
	if err != nil {
		return fmt.Errorf("ws: dial: %w", err)
	}
	defer conn.Close()

	// Unblock ReadMessage when ctx ends.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	req := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "signatureSubscribe",
		"params": []any{
			string(sig),
			map[string]any{"commitment": "confirmed"},
		},
	}
	if err := conn.WriteJSON(req); err != nil {
		return fmt.Errorf("ws: write subscribe: %w", err)
	}

	for {
		conn.SetReadDeadline(time.Now().Add(c.config.Timeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("ws: read: %w", err)
		}
		done, err := handleSignatureMessage(message)
		if done {
			return err
		}
	}
}

// handleSignatureMessage reports whether message is the terminal
// signatureNotification, and the transaction error it carried.
func handleSignatureMessage(data []byte) (bool, error) {
	var notification struct {
		Method string `json:"method"`
		Params struct {
			Result struct {
				Value struct {
					Err any `json:"err"`
				} `json:"value"`
			} `json:"result"`
		} `json:"params"`
		Error *RPCError `json:"error"`
	}
	if err := json.Unmarshal(data, &notification); err != nil {
		return false, nil
	}
	if notification.Error != nil {
		notification.Error.Method = "signatureSubscribe"
		return true, notification.Error
	}
	if notification.Method != "signatureNotification" {
		// Subscription confirmation.
		return false, nil
	}
	if notification.Params.Result.Value.Err != nil {
		return true, fmt.Errorf("%w: %v", ErrTransactionFailed, notification.Params.Result.Value.Err)
	}
	return true, nil
}

func shortSig(sig Signature) string {
	s := string(sig)
	if len(s) > 12 {
		s = s[:12]
	}
	return s
}
