package solana

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBlockhash = "EkSnNWid2cvwEVnVx9aBqawnmiCNiDgp3gUdkDPTKN1N"

func TestCompactU16(t *testing.T) {
	for _, v := range []int{0, 1, 127, 128, 255, 16383, 16384, 65535} {
		var buf bytes.Buffer
		writeCompactU16(&buf, v)
		got, n, err := readCompactU16(buf.Bytes())
		require.NoError(t, err)
		assert.Equal(t, v, got)
		assert.Equal(t, buf.Len(), n)
	}

	_, _, err := readCompactU16([]byte{0x80})
	assert.Error(t, err)
}

func TestCompileMessage_CreateATA(t *testing.T) {
	payer := testKeypair(t, 1)
	mint := Pubkey("AKEWE7Bgh87GPp171b4cJPSSZfmZwQ3KaqYqXoKLNAEE")
	prog := Pubkey("TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb")
	ata, err := FindAssociatedTokenAddress(payer.PublicKey(), mint, prog)
	require.NoError(t, err)

	ixs := []Instruction{
		SetComputeUnitPrice(1000),
		CreateAssociatedTokenAccountIdempotent(payer.PublicKey(), ata, payer.PublicKey(), mint, prog),
	}
	msg, err := CompileMessage(payer.PublicKey(), ixs, testBlockhash)
	require.NoError(t, err)

	// header: 1 signer, 0 readonly signed, readonly unsigned = mint, system, token, ata program, compute budget
	assert.Equal(t, []byte{1, 0, 5}, msg[:3])

	keys, required, err := messageSigners(msg)
	require.NoError(t, err)
	assert.Equal(t, 1, required)
	require.Len(t, keys, 7)
	assert.Equal(t, payer.PublicKey(), keys[0])
	assert.Equal(t, ata, keys[1])

	tx, err := SignMessage(msg, payer)
	require.NoError(t, err)
	assert.Equal(t, byte(1), tx[0])
	pub, _ := payer.PublicKey().Bytes()
	assert.True(t, ed25519.Verify(ed25519.PublicKey(pub), msg, tx[1:65]))

	sig, err := SignatureOf(tx)
	require.NoError(t, err)
	assert.Equal(t, Signature(base58.Encode(tx[1:65])), sig)
}

func TestCompileMessage_BadBlockhash(t *testing.T) {
	payer := testKeypair(t, 1)
	_, err := CompileMessage(payer.PublicKey(), []Instruction{SetComputeUnitLimit(200_000)}, "nope")
	assert.Error(t, err)
}

func TestSignMessage_NotSigner(t *testing.T) {
	payer := testKeypair(t, 1)
	stranger := testKeypair(t, 9)
	msg, err := CompileMessage(payer.PublicKey(), []Instruction{SetComputeUnitLimit(200_000)}, testBlockhash)
	require.NoError(t, err)

	_, err = SignMessage(msg, stranger)
	assert.Error(t, err)

	_, err = SignMessage(msg)
	assert.Error(t, err, "missing payer signature")
}

func TestSignSerialized(t *testing.T) {
	payer := testKeypair(t, 1)
	msg, err := CompileMessage(payer.PublicKey(), []Instruction{SetComputeUnitLimit(200_000)}, testBlockhash)
	require.NoError(t, err)

	// Unsigned wire tx as returned by a swap API: one zeroed signature slot.
	unsigned := append([]byte{1}, make([]byte, 64)...)
	unsigned = append(unsigned, msg...)

	signed, err := SignSerialized(base64.StdEncoding.EncodeToString(unsigned), payer)
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(signed)
	require.NoError(t, err)
	pub, _ := payer.PublicKey().Bytes()
	assert.True(t, ed25519.Verify(ed25519.PublicKey(pub), msg, raw[1:65]))

	// Versioned message prefix is skipped when locating signers.
	v0 := append([]byte{0x80}, msg...)
	v0 = append(v0, 0) // empty address table lookups
	unsignedV0 := append(append([]byte{1}, make([]byte, 64)...), v0...)
	_, err = SignSerialized(base64.StdEncoding.EncodeToString(unsignedV0), payer)
	assert.NoError(t, err)

	_, err = SignSerialized(base64.StdEncoding.EncodeToString(unsigned), testKeypair(t, 5))
	assert.Error(t, err)

	_, err = SignSerialized("!!", payer)
	assert.Error(t, err)
}
