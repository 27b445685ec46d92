package shred

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func buildDatagram(slot uint64, index, fecSetIndex uint32, typ byte, flags byte, payload []byte) []byte {
	buf := make([]byte, headerSize+len(payload))
	binary.LittleEndian.PutUint64(buf[offSlot:], slot)
	binary.LittleEndian.PutUint32(buf[offIndex:], index)
	binary.LittleEndian.PutUint32(buf[offFecSetIndex:], fecSetIndex)
	buf[offType] = typ
	buf[offFlags] = flags
	copy(buf[headerSize:], payload)
	return buf
}

func TestParseRoundTrip(t *testing.T) {
	payload := []byte("hello-entry-bytes")
	buf := buildDatagram(100, 5, 0, 0, flagDataComplete, payload)

	s, err := Parse(buf)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if s.Slot != 100 || s.Index != 5 || s.FecSetIndex != 0 {
		t.Fatalf("unexpected header fields: %+v", s)
	}
	if s.Type != TypeData {
		t.Fatalf("expected TypeData, got %v", s.Type)
	}
	if !s.DataComplete {
		t.Fatal("expected DataComplete flag set")
	}
	if !bytes.Equal(s.Payload, payload) {
		t.Fatalf("payload mismatch: %q", s.Payload)
	}
}

func TestParseTooShort(t *testing.T) {
	if _, err := Parse(make([]byte, headerSize-1)); err != ErrTooShort {
		t.Fatalf("expected ErrTooShort, got %v", err)
	}
}

func TestParseUnknownType(t *testing.T) {
	buf := buildDatagram(1, 0, 0, 7, 0, nil)
	if _, err := Parse(buf); err == nil {
		t.Fatal("expected error for unknown shred_type")
	}
}

func TestCloneDetachesPayload(t *testing.T) {
	buf := buildDatagram(1, 0, 0, 0, 0, []byte("abc"))
	s, err := Parse(buf)
	if err != nil {
		t.Fatal(err)
	}
	c := s.Clone()
	buf[headerSize] = 'Z'
	if c.Payload[0] != 'a' {
		t.Fatalf("clone aliases source buffer: %q", c.Payload)
	}
}

func TestKey(t *testing.T) {
	buf := buildDatagram(200, 3, 9, 1, 0, nil)
	s, err := Parse(buf)
	if err != nil {
		t.Fatal(err)
	}
	if s.Type != TypeCoding {
		t.Fatalf("expected TypeCoding")
	}
	k := s.Key()
	if k.Slot != 200 || k.FecSetIndex != 9 {
		t.Fatalf("unexpected key: %+v", k)
	}
}
