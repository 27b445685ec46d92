package deshred

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/shredcore/shredstream/shred"
)

func putU32(buf *bytes.Buffer, v uint32) { _ = binary.Write(buf, binary.LittleEndian, v) }
func putU64(buf *bytes.Buffer, v uint64) { _ = binary.Write(buf, binary.LittleEndian, v) }

// encodeMinimalTransaction builds the smallest valid transaction blob:
// 0 signatures, a blockhash, 0 keys, a fee, 0 instructions, 0 lookups,
// 0/0 balances, 0 inner groups.
func encodeMinimalTransaction() []byte {
	var buf bytes.Buffer
	buf.WriteByte(0) // sig count
	buf.Write(make([]byte, 32))
	buf.WriteByte(0) // key count
	putU64(&buf, 5000)
	buf.WriteByte(0) // ix count
	buf.WriteByte(0) // lookup count
	buf.WriteByte(0) // pre count
	buf.WriteByte(0) // post count
	buf.WriteByte(0) // inner group count
	return buf.Bytes()
}

func encodeEntry(numHashes uint64, txs [][]byte) []byte {
	var buf bytes.Buffer
	putU64(&buf, numHashes)
	buf.Write(make([]byte, 32))
	putU64(&buf, uint64(len(txs)))
	for _, tx := range txs {
		putU32(&buf, uint32(len(tx)))
		buf.Write(tx)
	}
	return buf.Bytes()
}

func TestParseEntriesRoundTrip(t *testing.T) {
	tx := encodeMinimalTransaction()
	entryBytes := encodeEntry(42, [][]byte{tx})

	entries, err := ParseEntries(entryBytes)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].NumHashes != 42 {
		t.Fatalf("expected num_hashes=42, got %d", entries[0].NumHashes)
	}
	if len(entries[0].Transactions) != 1 {
		t.Fatalf("expected 1 transaction, got %d", len(entries[0].Transactions))
	}
	if entries[0].Transactions[0].Meta.FeeLamports != 5000 {
		t.Fatalf("expected fee 5000, got %d", entries[0].Transactions[0].Meta.FeeLamports)
	}
}

func TestParseEntriesTrailingBytesFails(t *testing.T) {
	entryBytes := encodeEntry(1, nil)
	entryBytes = append(entryBytes, 0xFF)
	if _, err := ParseEntries(entryBytes); err != ErrTrailing {
		t.Fatalf("expected ErrTrailing, got %v", err)
	}
}

func TestParseEntriesBadLengthFails(t *testing.T) {
	var buf bytes.Buffer
	putU64(&buf, 1)
	buf.Write(make([]byte, 32))
	putU64(&buf, 1) // claims 1 transaction but provides none
	if _, err := ParseEntries(buf.Bytes()); err != ErrBadLength {
		t.Fatalf("expected ErrBadLength, got %v", err)
	}
}

func TestConcatenateStripsHeaders(t *testing.T) {
	shreds := []shred.Shred{
		{Index: 0, Payload: []byte("AA")},
		{Index: 1, Payload: []byte("BB")},
	}
	got := Concatenate(shreds)
	if string(got) != "AABB" {
		t.Fatalf("unexpected concatenation: %q", got)
	}
}

func TestMultipleEntriesInStream(t *testing.T) {
	e1 := encodeEntry(1, nil)
	e2 := encodeEntry(2, [][]byte{encodeMinimalTransaction()})
	stream := append(append([]byte{}, e1...), e2...)

	entries, err := ParseEntries(stream)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[1].NumHashes != 2 || len(entries[1].Transactions) != 1 {
		t.Fatalf("unexpected second entry: %+v", entries[1])
	}
}
