package solana

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

// AccountMeta is one account reference of an instruction.
type AccountMeta struct {
	Pubkey     Pubkey
	IsSigner   bool
	IsWritable bool
}

// Instruction is a single program invocation.
type Instruction struct {
	ProgramID Pubkey
	Accounts  []AccountMeta
	Data      []byte
}

// CreateAssociatedTokenAccountIdempotent builds the ATA program instruction
// that creates owner's token account for mint, or no-ops if it exists.
func CreateAssociatedTokenAccountIdempotent(payer, ata, owner, mint, tokenProgram Pubkey) Instruction {
	return Instruction{
		ProgramID: AssociatedTokenProgram,
		Accounts: []AccountMeta{
			{Pubkey: payer, IsSigner: true, IsWritable: true},
			{Pubkey: ata, IsWritable: true},
			{Pubkey: owner},
			{Pubkey: mint},
			{Pubkey: SystemProgram},
			{Pubkey: tokenProgram},
		},
		Data: []byte{1},
	}
}

// SetComputeUnitPrice sets the priority fee in micro-lamports per compute unit.
func SetComputeUnitPrice(microLamports uint64) Instruction {
	data := make([]byte, 9)
	data[0] = 3
	binary.LittleEndian.PutUint64(data[1:], microLamports)
	return Instruction{ProgramID: ComputeBudgetProgram, Data: data}
}

// SetComputeUnitLimit caps the compute units the transaction may consume.
func SetComputeUnitLimit(units uint32) Instruction {
	data := make([]byte, 5)
	data[0] = 2
	binary.LittleEndian.PutUint32(data[1:], units)
	return Instruction{ProgramID: ComputeBudgetProgram, Data: data}
}

type keyEntry struct {
	key      Pubkey
	signer   bool
	writable bool
}

// CompileMessage serialises a legacy message with payer as fee payer.
func CompileMessage(payer Pubkey, instructions []Instruction, recentBlockhash string) ([]byte, error) {
	var entries []keyEntry
	index := make(map[Pubkey]int)
	add := func(k Pubkey, signer, writable bool) {
		if i, ok := index[k]; ok {
			entries[i].signer = entries[i].signer || signer
			entries[i].writable = entries[i].writable || writable
			return
		}
		index[k] = len(entries)
		entries = append(entries, keyEntry{key: k, signer: signer, writable: writable})
	}

	add(payer, true, true)
	for _, ix := range instructions {
		for _, a := range ix.Accounts {
			add(a.Pubkey, a.IsSigner, a.IsWritable)
		}
	}
	for _, ix := range instructions {
		add(ix.ProgramID, false, false)
	}

	// Order: signer+writable, signer+readonly, writable, readonly. Payer stays first.
	rank := func(e keyEntry) int {
		switch {
		case e.signer && e.writable:
			return 0
		case e.signer:
			return 1
		case e.writable:
			return 2
		}
		return 3
	}
	ordered := make([]keyEntry, 0, len(entries))
	for r := 0; r < 4; r++ {
		for _, e := range entries {
			if rank(e) == r {
				ordered = append(ordered, e)
			}
		}
	}
	if len(ordered) > 256 {
		return nil, errors.New("solana: too many account keys")
	}

	var numSigners, roSigned, roUnsigned byte
	pos := make(map[Pubkey]byte, len(ordered))
	for i, e := range ordered {
		pos[e.key] = byte(i)
		switch rank(e) {
		case 0:
			numSigners++
		case 1:
			numSigners++
			roSigned++
		case 3:
			roUnsigned++
		}
	}

	var buf bytes.Buffer
	buf.Write([]byte{numSigners, roSigned, roUnsigned})
	writeCompactU16(&buf, len(ordered))
	for _, e := range ordered {
		raw, err := e.key.Bytes()
		if err != nil {
			return nil, err
		}
		buf.Write(raw)
	}

	hash, err := base58.Decode(recentBlockhash)
	if err != nil || len(hash) != 32 {
		return nil, fmt.Errorf("solana: invalid blockhash %q", recentBlockhash)
	}
	buf.Write(hash)

	writeCompactU16(&buf, len(instructions))
	for _, ix := range instructions {
		buf.WriteByte(pos[ix.ProgramID])
		writeCompactU16(&buf, len(ix.Accounts))
		for _, a := range ix.Accounts {
			buf.WriteByte(pos[a.Pubkey])
		}
		writeCompactU16(&buf, len(ix.Data))
		buf.Write(ix.Data)
	}
	return buf.Bytes(), nil
}

// SignMessage produces a wire transaction signed by every keypair, in the
// order the message lists its signers.
func SignMessage(message []byte, signers ...Keypair) ([]byte, error) {
	keys, required, err := messageSigners(message)
	if err != nil {
		return nil, err
	}
	sigs := make([][]byte, required)
	for _, kp := range signers {
		slot := indexOf(keys[:required], kp.PublicKey())
		if slot < 0 {
			return nil, fmt.Errorf("solana: %s is not a signer of this message", kp.PublicKey())
		}
		sigs[slot] = kp.Sign(message)
	}

	var buf bytes.Buffer
	writeCompactU16(&buf, required)
	for i, s := range sigs {
		if s == nil {
			return nil, fmt.Errorf("solana: missing signature for %s", keys[i])
		}
		buf.Write(s)
	}
	buf.Write(message)
	return buf.Bytes(), nil
}

// SignSerialized fills kp's signature slot in a base64 wire transaction
// built elsewhere (legacy or v0) and returns it re-encoded.
func SignSerialized(txBase64 string, kp Keypair) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(txBase64)
	if err != nil {
		return "", fmt.Errorf("solana: decode transaction: %w", err)
	}
	numSigs, n, err := readCompactU16(raw)
	if err != nil {
		return "", err
	}
	msgStart := n + 64*numSigs
	if numSigs == 0 || msgStart > len(raw) {
		return "", errors.New("solana: malformed transaction signatures")
	}
	message := raw[msgStart:]

	keys, required, err := messageSigners(message)
	if err != nil {
		return "", err
	}
	if required != numSigs {
		return "", fmt.Errorf("solana: transaction has %d signature slots, message needs %d", numSigs, required)
	}
	slot := indexOf(keys[:required], kp.PublicKey())
	if slot < 0 {
		return "", fmt.Errorf("solana: %s is not a signer of this transaction", kp.PublicKey())
	}

	out := make([]byte, len(raw))
	copy(out, raw)
	copy(out[n+64*slot:], kp.Sign(message))
	return base64.StdEncoding.EncodeToString(out), nil
}

// SignatureOf returns the base58 first signature of a wire transaction,
// which is also its transaction id.
func SignatureOf(tx []byte) (Signature, error) {
	numSigs, n, err := readCompactU16(tx)
	if err != nil {
		return "", err
	}
	if numSigs == 0 || len(tx) < n+64 {
		return "", errors.New("solana: transaction has no signature")
	}
	return Signature(base58.Encode(tx[n : n+64])), nil
}

// messageSigners returns the static account keys and the number of required
// signatures. Versioned messages carry a 0x80|version prefix byte.
func messageSigners(message []byte) ([]Pubkey, int, error) {
	off := 0
	if len(message) > 0 && message[0]&0x80 != 0 {
		off = 1
	}
	if len(message) < off+3 {
		return nil, 0, errors.New("solana: message too short")
	}
	required := int(message[off])
	off += 3

	count, n, err := readCompactU16(message[off:])
	if err != nil {
		return nil, 0, err
	}
	off += n
	if count < required || len(message) < off+32*count {
		return nil, 0, errors.New("solana: malformed account keys")
	}
	keys := make([]Pubkey, count)
	for i := 0; i < count; i++ {
		keys[i] = Pubkey(base58.Encode(message[off+32*i : off+32*(i+1)]))
	}
	return keys, required, nil
}

func indexOf(keys []Pubkey, k Pubkey) int {
	for i, key := range keys {
		if key == k {
			return i
		}
	}
	return -1
}

func writeCompactU16(buf *bytes.Buffer, v int) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			buf.WriteByte(b)
			return
		}
		buf.WriteByte(b | 0x80)
	}
}

func readCompactU16(data []byte) (int, int, error) {
	v := 0
	for i := 0; i < 3; i++ {
		if i >= len(data) {
			return 0, 0, errors.New("solana: truncated compact-u16")
		}
		b := data[i]
		v |= int(b&0x7f) << (7 * i)
		if b&0x80 == 0 {
			return v, i + 1, nil
		}
	}
	return 0, 0, errors.New("solana: compact-u16 overflow")
}
