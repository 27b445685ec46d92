// Package dedup implements a two-generation approximate-membership
// filter for shred payloads. A shred payload is hashed with blake2b
// and tested against both generations; a hit in either generation
// marks the shred a duplicate, otherwise it is inserted into the
// active generation. Rotation retires the old generation and
// allocates a fresh one, bounding the false-positive rate across the
// life of a run instead of letting one filter saturate forever.
package dedup

import (
	"encoding/binary"
	"hash"
	"sync"

	bloomfilter "github.com/holiman/bloomfilter/v2"
	"golang.org/x/crypto/blake2b"
)

// defaultFalsePositiveRate bounds the filter's false-positive rate at
// the sizing call site.
const defaultFalsePositiveRate = 1e-6

// Deduper detects duplicate shred payloads across a rotating pair of
// generations. Insertions take the read lock (the underlying
// generation is internally lock-free by construction of
// bloomfilter.Filter's atomic bit array); rotation takes the write
// lock.
type Deduper struct {
	mu               sync.RWMutex
	active, previous *bloomfilter.Filter
	maxElements      uint64
	fpRate           float64

	saturationThreshold uint64
	insertedSinceRotate uint64
}

// New creates a Deduper sized for expectedElements insertions between
// rotations (peak arrival rate × dedup window) at the default
// false-positive target.
func New(expectedElements uint64) (*Deduper, error) {
	return NewWithRate(expectedElements, defaultFalsePositiveRate)
}

func NewWithRate(expectedElements uint64, fpRate float64) (*Deduper, error) {
	f, err := bloomfilter.NewOptimal(expectedElements, fpRate)
	if err != nil {
		return nil, err
	}
	return &Deduper{
		active:              f,
		maxElements:         expectedElements,
		fpRate:               fpRate,
		saturationThreshold: expectedElements, // rotate once the active generation has seen its sizing budget
	}, nil
}

// blake2bHash64 adapts a blake2b digest to bloomfilter.Filter's
// expected hash.Hash64, taking the first 8 bytes of the 256-bit sum as
// the filter's key.
type blake2bHash64 struct {
	hash.Hash
}

func (h blake2bHash64) Sum64() uint64 {
	return binary.LittleEndian.Uint64(h.Sum(nil)[:8])
}

func hashOf(payload []byte) blake2bHash64 {
	h, _ := blake2b.New256(nil) // nil key, fixed digest size: never errors
	_, _ = h.Write(payload)
	return blake2bHash64{h}
}

// CheckAndInsert returns true if payload is a duplicate of something
// seen in either generation within the current dedup window. If it is
// not a duplicate, it is inserted into the active generation and false
// is returned. At most one packet per exact-duplicate arrival should
// be forwarded — callers should drop on true.
func (d *Deduper) CheckAndInsert(payload []byte) bool {
	h := hashOf(payload)

	d.mu.RLock()
	dup := d.active.Contains(h) || (d.previous != nil && d.previous.Contains(h))
	if !dup {
		d.active.Add(h)
	}
	d.mu.RUnlock()

	if !dup {
		d.mu.Lock()
		d.insertedSinceRotate++
		shouldRotate := d.insertedSinceRotate >= d.saturationThreshold
		d.mu.Unlock()
		if shouldRotate {
			d.Rotate()
		}
	}
	return dup
}

// Rotate retires the previous generation, promotes the active
// generation to previous, and allocates a fresh active generation. It
// is safe to call concurrently with CheckAndInsert; called
// periodically from the metrics tick and opportunistically on
// saturation.
func (d *Deduper) Rotate() {
	d.mu.Lock()
	defer d.mu.Unlock()
	fresh, err := bloomfilter.NewOptimal(d.maxElements, d.fpRate)
	if err != nil {
		// Sizing parameters were already validated at construction
		// time; NewOptimal can only fail on them, so this cannot
		// happen in practice. Keep the current active generation
		// rather than lose dedup coverage.
		return
	}
	d.previous = d.active
	d.active = fresh
	d.insertedSinceRotate = 0
}
