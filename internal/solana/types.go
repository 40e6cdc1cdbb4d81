package solana

import "errors"

// Pubkey is a Solana public key (base58 string).
type Pubkey string

// Signature is a Solana transaction signature.
type Signature string

// Well-known program IDs.
const (
	SystemProgram          Pubkey = "11111111111111111111111111111111"
	AssociatedTokenProgram Pubkey = "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"
	ComputeBudgetProgram   Pubkey = "ComputeBudget111111111111111111111111111111"
)

// Transaction statuses returned by GetTransactionStatus.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusFinalized = "finalized"
	StatusFailed    = "failed"
)

// ErrAccountNotFound is returned when an on-chain account does not exist.
var ErrAccountNotFound = errors.New("solana: account not found")

