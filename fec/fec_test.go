package fec

import (
	"testing"
	"time"

	"github.com/shredcore/shredstream/shred"
)

func dataShred(slot uint64, fecIdx, idx uint32, complete bool) shred.Shred {
	s := shred.Shred{Slot: slot, FecSetIndex: fecIdx, Index: idx, Type: shred.TypeData, Payload: []byte("x")}
	s.DataComplete = complete
	return s
}

func codingShred(slot uint64, fecIdx, idx uint32) shred.Shred {
	return shred.Shred{Slot: slot, FecSetIndex: fecIdx, Index: idx, Type: shred.TypeCoding, Payload: []byte("y")}
}

func TestAccumulatorClaimsOnThreshold(t *testing.T) {
	ig := NewIgnoreSet(100)
	var claimed *Set
	acc := NewAccumulator(nil, ig)
	acc.OnReady = func(s *Set) { claimed = s }

	for i := uint32(0); i < 32; i++ {
		acc.Insert(dataShred(1, 0, i, i == 31))
	}
	for i := uint32(0); i < 17; i++ {
		acc.Insert(codingShred(1, 0, 32+i))
	}

	if claimed == nil {
		t.Fatal("expected set to be claimed")
	}
	if len(claimed.Shreds) != 49 {
		t.Fatalf("expected 49 shreds, got %d", len(claimed.Shreds))
	}
	if !ig.Contains(shred.Key{Slot: 1, FecSetIndex: 0}) {
		t.Fatal("expected key in ignore set after claim")
	}
}

func TestInsertAfterIgnoreIsNoop(t *testing.T) {
	ig := NewIgnoreSet(100)
	acc := NewAccumulator(nil, ig)
	calls := 0
	acc.OnReady = func(*Set) { calls++ }
	ig.Add(shred.Key{Slot: 5, FecSetIndex: 0})

	acc.Insert(dataShred(5, 0, 0, true))
	if acc.Active() != 0 {
		t.Fatalf("expected no set created for ignored key, active=%d", acc.Active())
	}
	if calls != 0 {
		t.Fatalf("expected OnReady not called, got %d calls", calls)
	}
}

func TestDuplicateIndexNotDoubleCounted(t *testing.T) {
	ig := NewIgnoreSet(100)
	acc := NewAccumulator(nil, ig)
	acc.Insert(dataShred(9, 0, 0, false))
	acc.Insert(dataShred(9, 0, 0, false))
	acc.mu.Lock()
	set := acc.sets[shred.Key{Slot: 9, FecSetIndex: 0}]
	acc.mu.Unlock()
	if len(set.Shreds) != 1 {
		t.Fatalf("expected 1 shred after duplicate insert, got %d", len(set.Shreds))
	}
}

func TestEvictExpired(t *testing.T) {
	ig := NewIgnoreSet(100)
	acc := NewAccumulator(nil, ig)
	acc.Insert(dataShred(2, 0, 0, false))
	acc.ttl = time.Millisecond
	time.Sleep(5 * time.Millisecond)
	n := acc.EvictExpired(time.Now())
	if n != 1 {
		t.Fatalf("expected 1 eviction, got %d", n)
	}
	if acc.Active() != 0 {
		t.Fatalf("expected 0 active sets after eviction, got %d", acc.Active())
	}
}

func TestAdvertisedKTriggersEarlyCompletion(t *testing.T) {
	ig := NewIgnoreSet(100)
	acc := NewAccumulator(nil, ig)
	var claimed *Set
	acc.OnReady = func(s *Set) { claimed = s }

	for i := uint32(0); i < 8; i++ {
		acc.Insert(dataShred(3, 0, i, i == 7))
	}
	c := codingShred(3, 0, 8)
	c.AdvertisedK = 8
	acc.Insert(c)

	if claimed == nil {
		t.Fatal("expected small set to claim via advertised K, not wait for the 48 threshold")
	}
}

func TestIgnoreSetFIFOBound(t *testing.T) {
	ig := NewIgnoreSet(2)
	ig.Add(shred.Key{Slot: 1})
	ig.Add(shred.Key{Slot: 2})
	ig.Add(shred.Key{Slot: 3})
	if ig.Contains(shred.Key{Slot: 1}) {
		t.Fatal("expected oldest key evicted")
	}
	if !ig.Contains(shred.Key{Slot: 3}) {
		t.Fatal("expected newest key present")
	}
}
