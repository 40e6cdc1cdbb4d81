package token

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Class groups tokens that share swap-size limits.
type Class string

const (
	ClassETH    Class = "eth"
	ClassSOL    Class = "sol"
	ClassStable Class = "stable"
)

// Well-known program IDs for SPL token accounts.
const (
	TokenProgram     = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	Token2022Program = "TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb"
)

// Token describes a tradable asset on the execution chain.
type Token struct {
	Symbol   string `yaml:"symbol" json:"symbol"`
	Mint     string `yaml:"mint" json:"mint"`
	Decimals int32  `yaml:"decimals" json:"decimals"`
	Class    Class  `yaml:"class" json:"class"`
	Native   bool   `yaml:"native" json:"native"` // balance held in lamports, not a token account
	Program  string `yaml:"program" json:"program"`
}

func (t Token) String() string { return t.Symbol }

// ToBaseUnits converts a UI amount into the smallest indivisible unit,
// truncating any precision the token cannot represent.
func (t Token) ToBaseUnits(amount decimal.Decimal) *big.Int {
	return amount.Shift(t.Decimals).Truncate(0).BigInt()
}

// FromBaseUnits converts a raw on-chain amount into a UI amount.
func (t Token) FromBaseUnits(raw *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(raw, -t.Decimals)
}

// Registry is an immutable symbol/mint lookup table built once at start-up.
type Registry struct {
	ordered  []Token
	bySymbol map[string]Token
	byMint   map[string]Token
	gas      string
}

// NewRegistry validates tokens and builds the lookup table. gasSymbol names
// the chain's fee currency and must be one of the tokens.
func NewRegistry(tokens []Token, gasSymbol string) (*Registry, error) {
	r := &Registry{
		ordered:  make([]Token, 0, len(tokens)),
		bySymbol: make(map[string]Token, len(tokens)),
		byMint:   make(map[string]Token, len(tokens)),
	}
	for _, t := range tokens {
		t.Symbol = strings.ToUpper(strings.TrimSpace(t.Symbol))
		if t.Symbol == "" || t.Mint == "" {
			return nil, fmt.Errorf("token: symbol and mint are required (got %q/%q)", t.Symbol, t.Mint)
		}
		if _, dup := r.bySymbol[t.Symbol]; dup {
			return nil, fmt.Errorf("token: duplicate symbol %s", t.Symbol)
		}
		if t.Decimals < 0 || t.Decimals > 18 {
			return nil, fmt.Errorf("token: %s has invalid decimals %d", t.Symbol, t.Decimals)
		}
		switch t.Class {
		case ClassETH, ClassSOL, ClassStable:
		default:
			return nil, fmt.Errorf("token: %s has unknown class %q", t.Symbol, t.Class)
		}
		if !t.Native && t.Program == "" {
			t.Program = Token2022Program
		}
		r.ordered = append(r.ordered, t)
		r.bySymbol[t.Symbol] = t
		r.byMint[t.Mint] = t
	}

	gasSymbol = strings.ToUpper(gasSymbol)
	if _, ok := r.bySymbol[gasSymbol]; !ok {
		return nil, fmt.Errorf("token: gas token %q not in registry", gasSymbol)
	}
	r.gas = gasSymbol
	return r, nil
}

// Lookup returns the token for a symbol (case-insensitive).
func (r *Registry) Lookup(symbol string) (Token, bool) {
	t, ok := r.bySymbol[strings.ToUpper(symbol)]
	return t, ok
}

// MustLookup is Lookup for symbols validated at start-up.
func (r *Registry) MustLookup(symbol string) Token {
	t, ok := r.Lookup(symbol)
	if !ok {
		panic(fmt.Sprintf("token: unknown symbol %s", symbol))
	}
	return t
}

// ByMint resolves a mint address back to its token.
func (r *Registry) ByMint(mint string) (Token, bool) {
	t, ok := r.byMint[mint]
	return t, ok
}

// Gas returns the chain's fee currency.
func (r *Registry) Gas() Token {
	return r.bySymbol[r.gas]
}

// All returns the tokens in registration order. The slice is a copy.
func (r *Registry) All() []Token {
	out := make([]Token, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// EclipseDefaults is the token table for the Eclipse mainnet.
func EclipseDefaults() []Token {
	return []Token{
		{Symbol: "ETH", Mint: "So11111111111111111111111111111111111111112", Decimals: 9, Class: ClassETH, Native: true},
		{Symbol: "SOL", Mint: "BeRUj3h7BqkbdfFU7FBNYbodgf8GCHodzKvF9aVjNNfL", Decimals: 9, Class: ClassSOL, Program: Token2022Program},
		{Symbol: "USDT", Mint: "CEBP3CqAbW4zdZA57H2wfaSG1QNdzQ72GiQEbQXyW9Tm", Decimals: 6, Class: ClassStable, Program: Token2022Program},
		{Symbol: "USDC", Mint: "AKEWE7Bgh87GPp171b4cJPSSZfmZwQ3KaqYqXoKLNAEE", Decimals: 6, Class: ClassStable, Program: Token2022Program},
	}
}
