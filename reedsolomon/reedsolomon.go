// Package reedsolomon wraps github.com/klauspost/reedsolomon to
// reconstruct a claimed FEC set: recover any missing data shreds from
// the mixture of data and coding shreds present, then return an
// ordered, deduplicated, contiguous run of data shreds.
package reedsolomon

import (
	"errors"
	"sort"

	"github.com/klauspost/reedsolomon"

	"github.com/shredcore/shredstream/fec"
	"github.com/shredcore/shredstream/shred"
)

var (
	ErrTooFewShreds      = errors.New("reedsolomon: insufficient combined data+coding shreds to recover")
	ErrFieldDecodeFailed = errors.New("reedsolomon: malformed coding shred")
	ErrIncomplete        = errors.New("reedsolomon: recovered index sequence is not contiguous from fec_set_index")
)

// maxShardSize governs the maximum payload length padded into when
// building shards; the producer's payloads are MTU-bounded to roughly
// 1232 bytes.
const maxShardSize = 1232

// Reconstruct runs the GF(2^8) Reed-Solomon recovery over set.Shreds and
// returns the full, ordered, deduplicated run of data shreds.
//
// The (K, N) parameters are derived from the shreds present: K is the
// AdvertisedK value of a coding shred when one carries it, otherwise
// one more than the highest data shred index seen (relative to the
// set's fec_set_index); N is K plus the number of coding shreds present
// (at least one). A set with no coding shred therefore has K inferred
// from its data shreds alone.
func Reconstruct(set *fec.Set) ([]shred.Shred, error) {
	dataShards, parityShards, err := deriveParameters(set)
	if err != nil {
		return nil, err
	}
	if dataShards+parityShards > shred.MaxShredsPerSet {
		return nil, ErrFieldDecodeFailed
	}

	codec, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return nil, ErrFieldDecodeFailed
	}

	shardSize := 0
	present := make([]shred.Shred, dataShards+parityShards)
	havePresent := make([]bool, len(present))
	for _, sh := range set.Shreds {
		slot := shardSlot(sh, set.Key.FecSetIndex, dataShards)
		if slot < 0 || slot >= len(present) {
			continue // malformed index for this set; ignore rather than fail the whole set
		}
		if havePresent[slot] {
			continue // keep first occurrence for a duplicate index
		}
		present[slot] = sh
		havePresent[slot] = true
		if len(sh.Payload) > shardSize {
			shardSize = len(sh.Payload)
		}
	}
	if shardSize == 0 || shardSize > maxShardSize {
		return nil, ErrFieldDecodeFailed
	}

	haveCount := 0
	for _, ok := range havePresent {
		if ok {
			haveCount++
		}
	}
	if haveCount < dataShards {
		return nil, ErrTooFewShreds
	}

	shards := make([][]byte, len(present))
	for i, ok := range havePresent {
		if !ok {
			continue
		}
		buf := make([]byte, shardSize)
		copy(buf, present[i].Payload)
		shards[i] = buf
	}

	if err := codec.ReconstructData(shards); err != nil {
		return nil, ErrTooFewShreds
	}

	out := make([]shred.Shred, 0, dataShards)
	for i := 0; i < dataShards; i++ {
		if havePresent[i] {
			out = append(out, present[i])
			continue
		}
		out = append(out, shred.Shred{
			Slot:        set.Key.Slot,
			FecSetIndex: set.Key.FecSetIndex,
			Index:       set.Key.FecSetIndex + uint32(i),
			Type:        shred.TypeData,
			Payload:     shards[i],
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return validateContiguous(out, set.Key.FecSetIndex)
}

// deriveParameters infers (K, N) from the set's shreds: K from the
// advertised producer value when present, else from the highest
// observed data-shred index; N = K + observed coding-shred count.
func deriveParameters(set *fec.Set) (dataShards, parityShards int, err error) {
	var maxDataIdx uint32
	var codingCount int
	var advertisedK uint32
	sawData := false

	for _, sh := range set.Shreds {
		switch sh.Type {
		case shred.TypeData:
			sawData = true
			if rel := sh.Index - set.Key.FecSetIndex; rel+1 > maxDataIdx {
				maxDataIdx = rel + 1
			}
		case shred.TypeCoding:
			codingCount++
			if sh.AdvertisedK > advertisedK {
				advertisedK = sh.AdvertisedK
			}
		}
	}
	if !sawData && advertisedK == 0 {
		return 0, 0, ErrTooFewShreds
	}
	if advertisedK > 0 {
		dataShards = int(advertisedK)
	} else {
		dataShards = int(maxDataIdx)
	}
	if dataShards < 1 {
		return 0, 0, ErrTooFewShreds
	}
	parityShards = codingCount
	if parityShards < 1 {
		parityShards = 1
	}
	return dataShards, parityShards, nil
}

func shardSlot(sh shred.Shred, fecSetIndex uint32, dataShards int) int {
	switch sh.Type {
	case shred.TypeData:
		return int(sh.Index - fecSetIndex)
	case shred.TypeCoding:
		return dataShards + int(sh.Index-fecSetIndex-uint32(dataShards))
	default:
		return -1
	}
}

// validateContiguous enforces the reconstructor's output invariant:
// the resulting index sequence must be contiguous, strictly
// increasing, and start at fecSetIndex.
func validateContiguous(shreds []shred.Shred, fecSetIndex uint32) ([]shred.Shred, error) {
	for i, sh := range shreds {
		if sh.Index != fecSetIndex+uint32(i) {
			return nil, ErrIncomplete
		}
	}
	return shreds, nil
}
