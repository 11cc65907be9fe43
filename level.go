package bbhash

import (
	intbits "github.com/bbhash-go/bbhash/internal/bits"
	"github.com/bbhash-go/bbhash/internal/bitutil"
)

// level is one bit-array in the cascade, plus the metadata needed to
// route a key to a bit position and to translate a hit into a global
// rank (spec §3 "Level").
type level struct {
	index      int
	sizeInBits uint64
	seed       uint64
	rankOffset uint64
	bits       *bitutil.BitArray
}

// position returns the bit index a key maps to at this level.
func (lv *level) position(h uint64) uint64 {
	return intbits.FastRange64(h, lv.sizeInBits)
}

// levelSize computes size_k = max(64, round_up_to_64(ceil(gamma*numKeys)))
// per spec §4.2.
func levelSize(gamma float64, numKeys uint64) uint64 {
	if numKeys == 0 {
		return 0
	}
	raw := gamma * float64(numKeys)
	n := uint64(raw)
	if float64(n) < raw {
		n++
	}
	n = intbits.RoundUp64(n)
	if n < 64 {
		n = 64
	}
	return n
}

// deriveSeed produces a per-level seed from the master seed, so a build
// is fully reproducible from (masterSeed, gamma, key multiset) alone.
func deriveSeed(masterSeed uint64, levelIndex int) uint64 {
	x := masterSeed ^ (uint64(levelIndex+1) * 0x9E3779B97F4A7C15)
	x ^= x >> 33
	x *= 0xff51afd7ed558ccd
	x ^= x >> 33
	x *= 0xc4ceb9fe1a85ec53
	x ^= x >> 33
	return x
}
