// Package fec implements the FEC-set accumulator: a per-(slot,
// fec_set_index) buffer of received shreds that signals "ready to
// recover" once the completion predicate is met, plus the bounded
// ignore-set used to short-circuit late duplicates.
package fec

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/shredcore/shredstream/log"
	"github.com/shredcore/shredstream/shred"
)

// defaultTTL is the wall-clock eviction horizon: roughly 2 slot
// durations at ~400ms/slot.
const defaultTTL = 2 * 400 * time.Millisecond

// completionThreshold: a set is ready once it holds more than this
// many total shreds and at least one data_complete shred has arrived.
const completionThreshold = 48

// Set is the accumulator's record for one (slot, fec_set_index). It is
// exported as a read-only view handed to the reconstructor once claimed;
// the accumulator itself never mutates a Set after Claim.
type Set struct {
	Key         shred.Key
	Shreds      []shred.Shred
	FirstSeen   time.Time
	advertisedK uint32 // producer K, parsed from a coding shred header when present
	dataCount   int
	codingCount int
	sawComplete bool
}

func newSet(k shred.Key) *Set {
	return &Set{Key: k, FirstSeen: time.Now()}
}

func (s *Set) has(index uint32, typ shred.Type) bool {
	for _, existing := range s.Shreds {
		if existing.Index == index && existing.Type == typ {
			return true
		}
	}
	return false
}

// append adds sh to the set if (index, type) is not already present.
// Returns false if it was a duplicate within the set (distinct from the
// deduper's byte-exact duplicate check — this one is keyed, not
// content-hashed).
func (s *Set) append(sh shred.Shred) bool {
	if s.has(sh.Index, sh.Type) {
		return false
	}
	s.Shreds = append(s.Shreds, sh.Clone())
	if sh.Type == shred.TypeData {
		s.dataCount++
	} else {
		s.codingCount++
		if sh.AdvertisedK > 0 && s.advertisedK == 0 {
			s.advertisedK = sh.AdvertisedK
		}
	}
	if sh.DataComplete {
		s.sawComplete = true
	}
	return true
}

// ready evaluates the completion predicate: the fixed threshold, or
// the producer-advertised K when known, whichever triggers first —
// small FEC sets that never cross the fixed threshold still complete
// promptly once their advertised shred count is reached.
func (s *Set) ready() bool {
	total := s.dataCount + s.codingCount
	if s.sawComplete && total > completionThreshold {
		return true
	}
	if s.advertisedK > 0 && uint32(s.dataCount) >= s.advertisedK && uint32(total) >= s.advertisedK {
		return true
	}
	return false
}

// IgnoreSet is the bounded FIFO of already-processed (slot,
// fec_set_index) keys.
type IgnoreSet struct {
	mu       sync.Mutex
	capacity int
	order    []shred.Key
	member   map[shred.Key]struct{}
}

func NewIgnoreSet(capacity int) *IgnoreSet {
	return &IgnoreSet{capacity: capacity, member: make(map[shred.Key]struct{}, capacity)}
}

func (ig *IgnoreSet) Contains(k shred.Key) bool {
	ig.mu.Lock()
	defer ig.mu.Unlock()
	_, ok := ig.member[k]
	return ok
}

// Add inserts k, evicting the oldest entry if at capacity. Idempotent:
// re-adding an already-present key is a no-op, which is what makes
// claim idempotent under concurrent triggers.
func (ig *IgnoreSet) Add(k shred.Key) {
	ig.mu.Lock()
	defer ig.mu.Unlock()
	if _, ok := ig.member[k]; ok {
		return
	}
	if ig.capacity > 0 && len(ig.order) >= ig.capacity {
		oldest := ig.order[0]
		ig.order = ig.order[1:]
		delete(ig.member, oldest)
	}
	ig.order = append(ig.order, k)
	ig.member[k] = struct{}{}
}

// Accumulator tracks in-flight FEC sets and claims each one exactly
// once it becomes ready.
type Accumulator struct {
	log    *log.Logger
	ttl    time.Duration
	ignore *IgnoreSet

	mu   sync.Mutex
	sets map[shred.Key]*Set

	// OnReady is invoked with a claimed set's owned copy, outside the
	// accumulator's lock, so reconstruction never happens while the map
	// is held.
	OnReady func(*Set)

	claimed      atomic.Uint64
	discardedTTL atomic.Uint64
}

func NewAccumulator(logger *log.Logger, ignore *IgnoreSet) *Accumulator {
	return &Accumulator{
		log:    logger,
		ttl:    defaultTTL,
		ignore: ignore,
		sets:   make(map[shred.Key]*Set),
	}
}

// Insert adds a deduplicated shred to its FEC set, creating the set on
// first arrival. If the set is already in the ignore list the shred is
// dropped with no observable side effect.
func (a *Accumulator) Insert(sh shred.Shred) {
	key := sh.Key()
	if a.ignore.Contains(key) {
		return
	}

	a.mu.Lock()
	if a.ignore.Contains(key) {
		a.mu.Unlock()
		return
	}
	set, ok := a.sets[key]
	if !ok {
		set = newSet(key)
		a.sets[key] = set
	}
	set.append(sh)
	ready := set.ready()
	if ready {
		delete(a.sets, key)
		a.ignore.Add(key)
	}
	a.mu.Unlock()

	if ready {
		a.claim(set)
	}
}

// claim is idempotent: the ignore-set Add call is itself idempotent,
// and a set can only be removed from a.sets once (the delete above
// happens under the same critical section that observed readiness and
// put the key in the ignore set, so a late shred cannot start a second
// set for it), so OnReady fires exactly once per key.
func (a *Accumulator) claim(set *Set) {
	a.ignore.Add(set.Key)
	a.claimed.Add(1)
	if a.log != nil {
		a.log.Debug("fec set claimed", "slot", set.Key.Slot, "fec_set_index", set.Key.FecSetIndex, "shreds", len(set.Shreds))
	}
	if a.OnReady != nil {
		a.OnReady(set)
	}
}

// EvictExpired silently removes sets older than the TTL without
// attempting recovery. Intended to be called from the metrics tick.
func (a *Accumulator) EvictExpired(now time.Time) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for k, s := range a.sets {
		if now.Sub(s.FirstSeen) > a.ttl {
			delete(a.sets, k)
			n++
		}
	}
	if n > 0 {
		a.discardedTTL.Add(uint64(n))
		if a.log != nil {
			a.log.Debug("fec sets evicted by ttl", "count", n)
		}
	}
	return n
}

// Active returns the number of FEC sets currently tracked; used by
// tests and the metrics tick.
func (a *Accumulator) Active() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sets)
}

func (a *Accumulator) Claimed() uint64      { return a.claimed.Load() }
func (a *Accumulator) DiscardedTTL() uint64 { return a.discardedTTL.Load() }
