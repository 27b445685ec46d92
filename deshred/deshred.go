// Package deshred strips each data shred's header, concatenates the
// payloads, and parses the result as a length-prefixed sequence of
// Entry records.
package deshred

import (
	"encoding/binary"
	"errors"

	"github.com/shredcore/shredstream/shred"
)

var (
	ErrBadLength = errors.New("deshred: entry length prefix exceeds remaining buffer")
	ErrTrailing  = errors.New("deshred: trailing bytes after last entry")
)

// Transaction is the minimal pre-decode transaction shape the deshredder
// parses out of an Entry; decode.Decoder turns these into
// DecodedTransaction values. Kept separate from decode's richer type so
// this package has no dependency on program-dispatch logic.
type Transaction struct {
	Signatures       [][64]byte
	RecentBlockHash  [32]byte
	StaticAccountKeys [][32]byte
	Instructions     []CompiledInstruction
	AddressTableLookups []AddressTableLookup
	Meta             TransactionMeta
}

type CompiledInstruction struct {
	ProgramIDIndex uint8
	AccountIndexes []uint8
	Data           []byte
}

type AddressTableLookup struct {
	AccountKey      [32]byte
	WritableIndexes []uint8
	ReadonlyIndexes []uint8
}

type TokenBalance struct {
	AccountIndex uint8
	Mint         [32]byte
	Owner        [32]byte
	UIAmount     uint64
	Decimals     uint8
}

type InnerInstruction struct {
	Index        uint8
	Instructions []CompiledInstruction
}

type TransactionMeta struct {
	FeeLamports       uint64
	PreTokenBalances  []TokenBalance
	PostTokenBalances []TokenBalance
	InnerInstructions []InnerInstruction
}

// Entry is a proof-of-history tick batch.
type Entry struct {
	NumHashes    uint64
	Hash         [32]byte
	Transactions []Transaction
}

// Concatenate strips each shred's header+signature and joins the
// payloads in index order. Shreds must already be the reconstructor's
// output: sorted, deduplicated, contiguous from fec_set_index, so this
// function trusts that ordering.
func Concatenate(dataShreds []shred.Shred) []byte {
	total := 0
	for _, sh := range dataShreds {
		total += len(sh.Payload)
	}
	buf := make([]byte, 0, total)
	for _, sh := range dataShreds {
		buf = append(buf, sh.Payload...)
	}
	return buf
}

// ParseEntries decodes a contiguous byte stream as a length-prefixed
// sequence of Entry records. A length prefix that would overrun the
// remaining buffer is fatal for the set (ErrBadLength); leftover bytes
// after the last complete entry, too few to hold an entry header, are
// also fatal (ErrTrailing).
func ParseEntries(buf []byte) ([]Entry, error) {
	const entryHeaderSize = 8 + 32 + 8
	var entries []Entry
	off := 0
	for len(buf)-off >= entryHeaderSize {
		entry, consumed, err := parseOneEntry(buf[off:])
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
		off += consumed
	}
	if off != len(buf) {
		return nil, ErrTrailing
	}
	return entries, nil
}

// parseOneEntry reads: num_hashes(u64) | hash(32) | tx_count(u64) |
// tx_count * length-prefixed transaction blob. The transaction blob
// format itself is opaque here; decode.Decoder is responsible for
// interpreting it. This keeps deshred's contract narrow: "split the
// entry stream correctly", not "understand transactions".
func parseOneEntry(buf []byte) (Entry, int, error) {
	const fixedHeader = 8 + 32 + 8
	if len(buf) < fixedHeader {
		return Entry{}, 0, ErrBadLength
	}
	var e Entry
	e.NumHashes = binary.LittleEndian.Uint64(buf[0:8])
	copy(e.Hash[:], buf[8:40])
	txCount := binary.LittleEndian.Uint64(buf[40:48])
	off := fixedHeader

	for i := uint64(0); i < txCount; i++ {
		if off+4 > len(buf) {
			return Entry{}, 0, ErrBadLength
		}
		txLen := int(binary.LittleEndian.Uint32(buf[off:]))
		off += 4
		if txLen < 0 || off+txLen > len(buf) {
			return Entry{}, 0, ErrBadLength
		}
		tx, err := decodeRawTransaction(buf[off : off+txLen])
		if err != nil {
			return Entry{}, 0, err
		}
		e.Transactions = append(e.Transactions, tx)
		off += txLen
	}
	return e, off, nil
}

// decodeRawTransaction parses the minimal framing this core needs:
// sig_count(u8) | sigs | recent_blockhash(32) | key_count(u8) | keys |
// fee(u64) | ix_count(u8) | ixs | table_lookup_count(u8) | lookups |
// pre_balance_count(u8) | pre_balances | post_balance_count(u8) |
// post_balances | inner_ix_group_count(u8) | inner_ix_groups. A
// malformed transaction is reported up as ErrBadLength; deshred drops
// at the set granularity since a transaction boundary error corrupts
// the offsets for everything after it in the entry.
func decodeRawTransaction(buf []byte) (Transaction, error) {
	var t Transaction
	off := 0
	readU8 := func() (uint8, bool) {
		if off >= len(buf) {
			return 0, false
		}
		v := buf[off]
		off++
		return v, true
	}
	need := func(n int) bool { return off+n <= len(buf) }

	sigCount, ok := readU8()
	if !ok {
		return t, ErrBadLength
	}
	for i := uint8(0); i < sigCount; i++ {
		if !need(64) {
			return t, ErrBadLength
		}
		var sig [64]byte
		copy(sig[:], buf[off:off+64])
		t.Signatures = append(t.Signatures, sig)
		off += 64
	}
	if !need(32) {
		return t, ErrBadLength
	}
	copy(t.RecentBlockHash[:], buf[off:off+32])
	off += 32

	keyCount, ok := readU8()
	if !ok {
		return t, ErrBadLength
	}
	for i := uint8(0); i < keyCount; i++ {
		if !need(32) {
			return t, ErrBadLength
		}
		var key [32]byte
		copy(key[:], buf[off:off+32])
		t.StaticAccountKeys = append(t.StaticAccountKeys, key)
		off += 32
	}

	if !need(8) {
		return t, ErrBadLength
	}
	t.Meta.FeeLamports = binary.LittleEndian.Uint64(buf[off:])
	off += 8

	ixCount, ok := readU8()
	if !ok {
		return t, ErrBadLength
	}
	for i := uint8(0); i < ixCount; i++ {
		ix, n, err := decodeCompiledInstruction(buf[off:])
		if err != nil {
			return t, err
		}
		t.Instructions = append(t.Instructions, ix)
		off += n
	}

	lookupCount, ok := readU8()
	if !ok {
		return t, ErrBadLength
	}
	for i := uint8(0); i < lookupCount; i++ {
		lk, n, err := decodeAddressTableLookup(buf[off:])
		if err != nil {
			return t, err
		}
		t.AddressTableLookups = append(t.AddressTableLookups, lk)
		off += n
	}

	preCount, ok := readU8()
	if !ok {
		return t, ErrBadLength
	}
	for i := uint8(0); i < preCount; i++ {
		tb, n, err := decodeTokenBalance(buf[off:])
		if err != nil {
			return t, err
		}
		t.Meta.PreTokenBalances = append(t.Meta.PreTokenBalances, tb)
		off += n
	}

	postCount, ok := readU8()
	if !ok {
		return t, ErrBadLength
	}
	for i := uint8(0); i < postCount; i++ {
		tb, n, err := decodeTokenBalance(buf[off:])
		if err != nil {
			return t, err
		}
		t.Meta.PostTokenBalances = append(t.Meta.PostTokenBalances, tb)
		off += n
	}

	innerGroupCount, ok := readU8()
	if !ok {
		return t, ErrBadLength
	}
	for i := uint8(0); i < innerGroupCount; i++ {
		group, n, err := decodeInnerInstructionGroup(buf[off:])
		if err != nil {
			return t, err
		}
		t.Meta.InnerInstructions = append(t.Meta.InnerInstructions, group)
		off += n
	}

	return t, nil
}

func decodeCompiledInstruction(buf []byte) (CompiledInstruction, int, error) {
	var ix CompiledInstruction
	if len(buf) < 2 {
		return ix, 0, ErrBadLength
	}
	ix.ProgramIDIndex = buf[0]
	accCount := int(buf[1])
	off := 2
	if off+accCount > len(buf) {
		return ix, 0, ErrBadLength
	}
	ix.AccountIndexes = append(ix.AccountIndexes, buf[off:off+accCount]...)
	off += accCount
	if off+4 > len(buf) {
		return ix, 0, ErrBadLength
	}
	dataLen := int(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	if dataLen < 0 || off+dataLen > len(buf) {
		return ix, 0, ErrBadLength
	}
	ix.Data = append(ix.Data, buf[off:off+dataLen]...)
	off += dataLen
	return ix, off, nil
}

func decodeAddressTableLookup(buf []byte) (AddressTableLookup, int, error) {
	var lk AddressTableLookup
	if len(buf) < 34 {
		return lk, 0, ErrBadLength
	}
	copy(lk.AccountKey[:], buf[0:32])
	off := 32
	wCount := int(buf[off])
	off++
	if off+wCount > len(buf) {
		return lk, 0, ErrBadLength
	}
	lk.WritableIndexes = append(lk.WritableIndexes, buf[off:off+wCount]...)
	off += wCount
	if off >= len(buf) {
		return lk, 0, ErrBadLength
	}
	rCount := int(buf[off])
	off++
	if off+rCount > len(buf) {
		return lk, 0, ErrBadLength
	}
	lk.ReadonlyIndexes = append(lk.ReadonlyIndexes, buf[off:off+rCount]...)
	off += rCount
	return lk, off, nil
}

func decodeTokenBalance(buf []byte) (TokenBalance, int, error) {
	var tb TokenBalance
	const fixed = 1 + 32 + 32 + 8 + 1
	if len(buf) < fixed {
		return tb, 0, ErrBadLength
	}
	off := 0
	tb.AccountIndex = buf[off]
	off++
	copy(tb.Mint[:], buf[off:off+32])
	off += 32
	copy(tb.Owner[:], buf[off:off+32])
	off += 32
	tb.UIAmount = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	tb.Decimals = buf[off]
	off++
	return tb, off, nil
}

func decodeInnerInstructionGroup(buf []byte) (InnerInstruction, int, error) {
	var g InnerInstruction
	if len(buf) < 2 {
		return g, 0, ErrBadLength
	}
	g.Index = buf[0]
	count := int(buf[1])
	off := 2
	for i := 0; i < count; i++ {
		ix, n, err := decodeCompiledInstruction(buf[off:])
		if err != nil {
			return g, 0, err
		}
		g.Instructions = append(g.Instructions, ix)
		off += n
	}
	return g, off, nil
}
