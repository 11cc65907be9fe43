package bbhash

// fallbackTable is the explicit key-hash-to-index map for keys still
// unplaced after the level cap (spec §4.2 "Terminal handling"). It is
// only populated when the cascade could not resolve every key within
// levelCap levels.
type fallbackTable struct {
	seed    uint64
	entries map[uint64]uint64 // hash64(key, seed) -> dense index
	order   []uint64          // insertion order, for deterministic serialization
}

func newFallbackTable(seed uint64) *fallbackTable {
	return &fallbackTable{seed: seed, entries: make(map[uint64]uint64)}
}

// put records key's hash against the next available index. Caller must
// ensure indices are assigned from the global rank counter and are
// unique across the whole cascade.
func (f *fallbackTable) put(h, idx uint64) {
	if _, exists := f.entries[h]; !exists {
		f.order = append(f.order, h)
	}
	f.entries[h] = idx
}

func (f *fallbackTable) lookup(h uint64) (uint64, bool) {
	idx, ok := f.entries[h]
	return idx, ok
}

func (f *fallbackTable) len() int { return len(f.entries) }
