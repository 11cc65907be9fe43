package bbhash

import (
	"github.com/bbhash-go/bbhash/internal/hashfamily"
)

// Lookuper is the read-only query surface shared by an in-memory Cascade
// and a memory-mapped Index, so callers can swap one for the other
// without touching lookup code (spec §4.3/§4.4 "SUPPLEMENTED FEATURES").
type Lookuper interface {
	// Lookup returns the unique integer in [0, NumKeys()) assigned to key
	// at build time. Behavior for a key that was never in the build set
	// is unspecified (spec §9 Open Question) but total: it never panics
	// and never indexes out of bounds.
	Lookup(key []byte) uint64
	NumKeys() uint64
}

// Cascade is the built, immutable Minimal Perfect Hash Function: an
// ordered sequence of levels plus an optional fallback table (spec §3
// "Cascade").
type Cascade struct {
	gamma          float64
	numKeys        uint64
	lastLevelSeed  uint64
	levels         []*level
	fallback       *fallbackTable
	hasher         hashfamily.Hasher
}

var _ Lookuper = (*Cascade)(nil)

// NumKeys returns N, the number of distinct keys the cascade was built
// over.
func (c *Cascade) NumKeys() uint64 { return c.numKeys }

// NumLevels returns the number of bit-array levels in the cascade,
// excluding the fallback table.
func (c *Cascade) NumLevels() int { return len(c.levels) }

// Gamma returns the load-factor parameter the cascade was built with.
func (c *Cascade) Gamma() float64 { return c.gamma }

// HasFallback reports whether any keys were routed to the fallback
// table (i.e. the level cap was reached with residuals remaining).
func (c *Cascade) HasFallback() bool { return c.fallback != nil && c.fallback.len() > 0 }

// Lookup implements spec §4.3: walk levels in order, return the rank of
// the first level whose bit is set for this key, falling through to the
// fallback table.
func (c *Cascade) Lookup(key []byte) uint64 {
	for _, lv := range c.levels {
		h := c.hasher.Hash64(key, lv.seed)
		p := lv.position(h)
		if lv.bits.Get(p) == 1 {
			return lv.bits.Rank(p)
		}
	}
	if c.fallback != nil {
		h := c.hasher.Hash64(key, c.lastLevelSeed)
		if idx, ok := c.fallback.lookup(h); ok {
			return idx
		}
	}
	return 0
}
