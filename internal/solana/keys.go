package solana

import (
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// Keypair is an ed25519 signing key with its base58 address.
type Keypair struct {
	private ed25519.PrivateKey
	public  Pubkey
}

// KeypairFromBase58 decodes a base58 secret key. Both the 64-byte
// (seed||pubkey) export format and a bare 32-byte seed are accepted.
func KeypairFromBase58(secret string) (Keypair, error) {
	raw, err := base58.Decode(strings.TrimSpace(secret))
	if err != nil {
		return Keypair{}, fmt.Errorf("solana: decode secret key: %w", err)
	}
	return KeypairFromBytes(raw)
}

// KeypairFromBytes builds a keypair from a 64-byte secret key or 32-byte seed.
func KeypairFromBytes(raw []byte) (Keypair, error) {
	var priv ed25519.PrivateKey
	switch len(raw) {
	case ed25519.PrivateKeySize:
		priv = ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
		if !priv.Public().(ed25519.PublicKey).Equal(ed25519.PublicKey(raw[ed25519.SeedSize:])) {
			return Keypair{}, errors.New("solana: secret key public half does not match seed")
		}
	case ed25519.SeedSize:
		priv = ed25519.NewKeyFromSeed(raw)
	default:
		return Keypair{}, fmt.Errorf("solana: secret key must be 32 or 64 bytes, got %d", len(raw))
	}
	pub := priv.Public().(ed25519.PublicKey)
	return Keypair{private: priv, public: Pubkey(base58.Encode(pub))}, nil
}

// PublicKey returns the base58 address.
func (k Keypair) PublicKey() Pubkey { return k.public }

// Sign signs message with the private key.
func (k Keypair) Sign(message []byte) []byte {
	return ed25519.Sign(k.private, message)
}

// IsZero reports whether the keypair is unset.
func (k Keypair) IsZero() bool { return len(k.private) == 0 }

// Bytes decodes a base58 public key into its 32 raw bytes.
func (p Pubkey) Bytes() ([]byte, error) {
	raw, err := base58.Decode(string(p))
	if err != nil {
		return nil, fmt.Errorf("solana: decode pubkey %s: %w", p, err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("solana: pubkey %s has %d bytes", p, len(raw))
	}
	return raw, nil
}

// FindAssociatedTokenAddress derives the associated token account for
// owner/mint under the given token program.
func FindAssociatedTokenAddress(owner, mint, tokenProgram Pubkey) (Pubkey, error) {
	ownerBytes, err := owner.Bytes()
	if err != nil {
		return "", err
	}
	mintBytes, err := mint.Bytes()
	if err != nil {
		return "", err
	}
	progBytes, err := tokenProgram.Bytes()
	if err != nil {
		return "", err
	}
	ataProg, err := AssociatedTokenProgram.Bytes()
	if err != nil {
		return "", err
	}

	addr, _, err := findProgramAddress([][]byte{ownerBytes, progBytes, mintBytes}, ataProg)
	if err != nil {
		return "", err
	}
	return Pubkey(base58.Encode(addr)), nil
}

// findProgramAddress searches bump seeds from 255 down for an off-curve
// sha256(seeds || bump || programID || "ProgramDerivedAddress").
func findProgramAddress(seeds [][]byte, programID []byte) ([]byte, byte, error) {
	for bump := 255; bump > 0; bump-- {
		h := sha256.New()
		for _, seed := range seeds {
			h.Write(seed)
		}
		h.Write([]byte{byte(bump)})
		h.Write(programID)
		h.Write([]byte("ProgramDerivedAddress"))
		sum := h.Sum(nil)

		if !isOnCurve(sum) {
			return sum, byte(bump), nil
		}
	}
	return nil, 0, errors.New("solana: no viable bump seed")
}

func isOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}
