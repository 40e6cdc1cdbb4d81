// Package ledger reads balances and prepares token accounts on the
// execution chain.
package ledger

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/nexus-trading/swarm/internal/account"
	"github.com/nexus-trading/swarm/internal/solana"
	"github.com/nexus-trading/swarm/internal/token"
)

// Accessor is the chain view the generator and runner depend on.
type Accessor interface {
	// Balance returns the UI balance of tok held by acc. A token account
	// that does not exist yet reads as zero.
	Balance(ctx context.Context, acc *account.Account, tok token.Token) (decimal.Decimal, error)
	// EnsureTokenAccount creates acc's token account for tok if missing and
	// reports whether it had to.
	EnsureTokenAccount(ctx context.Context, acc *account.Account, tok token.Token) (bool, error)
}

// Awaiter blocks until a submitted transaction is confirmed.
type Awaiter interface {
	Await(ctx context.Context, sig solana.Signature) error
}

// PriceSource supplies a compute unit price for new transactions.
type PriceSource interface {
	ComputeUnitPrice() uint64
}

// SolanaLedger implements Accessor over an SVM RPC endpoint.
type SolanaLedger struct {
	rpc     solana.RPCClient
	confirm Awaiter
	fees    PriceSource
}

// NewSolanaLedger creates a ledger. fees may be nil.
func NewSolanaLedger(rpc solana.RPCClient, confirm Awaiter, fees PriceSource) *SolanaLedger {
	return &SolanaLedger{rpc: rpc, confirm: confirm, fees: fees}
}

func (l *SolanaLedger) tokenAccount(acc *account.Account, tok token.Token) (solana.Pubkey, error) {
	return solana.FindAssociatedTokenAddress(acc.Address, solana.Pubkey(tok.Mint), solana.Pubkey(tok.Program))
}

// Balance implements Accessor.
func (l *SolanaLedger) Balance(ctx context.Context, acc *account.Account, tok token.Token) (decimal.Decimal, error) {
	if tok.Native {
		lamports, err := l.rpc.GetBalance(ctx, acc.Address)
		if err != nil {
			return decimal.Zero, fmt.Errorf("ledger: %s balance: %w", tok.Symbol, err)
		}
		return tok.FromBaseUnits(new(big.Int).SetUint64(lamports)), nil
	}

	ata, err := l.tokenAccount(acc, tok)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger: derive %s account: %w", tok.Symbol, err)
	}
	bal, err := l.rpc.GetTokenAccountBalance(ctx, ata)
	if errors.Is(err, solana.ErrAccountNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger: %s balance: %w", tok.Symbol, err)
	}
	return bal, nil
}

// EnsureTokenAccount implements Accessor. Native tokens need no account.
func (l *SolanaLedger) EnsureTokenAccount(ctx context.Context, acc *account.Account, tok token.Token) (bool, error) {
	if tok.Native {
		return false, nil
	}

	ata, err := l.tokenAccount(acc, tok)
	if err != nil {
		return false, fmt.Errorf("ledger: derive %s account: %w", tok.Symbol, err)
	}
	exists, err := l.rpc.AccountExists(ctx, ata)
	if err != nil {
		return false, fmt.Errorf("ledger: check %s account: %w", tok.Symbol, err)
	}
	if exists {
		return false, nil
	}

	blockhash, err := l.rpc.GetLatestBlockhash(ctx)
	if err != nil {
		return false, fmt.Errorf("ledger: blockhash: %w", err)
	}

	var ixs []solana.Instruction
	if l.fees != nil {
		ixs = append(ixs, solana.SetComputeUnitPrice(l.fees.ComputeUnitPrice()))
	}
	ixs = append(ixs, solana.CreateAssociatedTokenAccountIdempotent(
		acc.Address, ata, acc.Address, solana.Pubkey(tok.Mint), solana.Pubkey(tok.Program)))

	msg, err := solana.CompileMessage(acc.Address, ixs, blockhash)
	if err != nil {
		return false, fmt.Errorf("ledger: build create-account tx: %w", err)
	}
	tx, err := solana.SignMessage(msg, acc.Keypair)
	if err != nil {
		return false, fmt.Errorf("ledger: sign create-account tx: %w", err)
	}

	sig, err := l.rpc.SendTransaction(ctx, base64.StdEncoding.EncodeToString(tx))
	if err != nil {
		return false, fmt.Errorf("ledger: send create-account tx: %w", err)
	}
	if err := l.confirm.Await(ctx, sig); err != nil {
		return false, fmt.Errorf("ledger: create %s account: %w", tok.Symbol, err)
	}

	log.Info().
		Str("account", acc.Label()).
		Str("token", tok.Symbol).
		Str("sig", string(sig)).
		Msg("ledger: token account created")
	return true, nil
}
