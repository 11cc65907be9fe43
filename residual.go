package bbhash

import (
	"github.com/bbhash-go/bbhash/internal/spill"
)

// residualSink accumulates the keys not placed at the current level, to
// be replayed as the next level's KeySource. It starts in-memory and, if
// a non-zero memory budget is configured and exceeded, transparently
// upgrades to an on-disk spill.Spill (spec §3 Builder state, "optional
// on-disk spill files for residuals when keys exceed memory budget").
type residualSink struct {
	budget   uint64
	spillDir string

	memKeys [][]byte
	memSize uint64

	spilled *spill.Spill
}

func newResidualSink(budget uint64, spillDir string) *residualSink {
	return &residualSink{budget: budget, spillDir: spillDir}
}

func (r *residualSink) put(key []byte) error {
	if r.spilled != nil {
		return r.spilled.Put(key)
	}

	k := append([]byte(nil), key...)
	r.memKeys = append(r.memKeys, k)
	r.memSize += uint64(len(k))

	if r.budget > 0 && r.memSize > r.budget {
		return r.migrateToSpill()
	}
	return nil
}

func (r *residualSink) migrateToSpill() error {
	s, err := spill.New(r.spillDir)
	if err != nil {
		return err
	}
	for _, k := range r.memKeys {
		if err := s.Put(k); err != nil {
			s.Close()
			return err
		}
	}
	r.memKeys = nil
	r.memSize = 0
	r.spilled = s
	return nil
}

// seal finalizes the sink and returns a KeySource over the accumulated
// keys, plus a cleanup function the caller must invoke once the
// KeySource is no longer needed.
func (r *residualSink) seal() (KeySource, func() error, error) {
	if r.spilled != nil {
		if err := r.spilled.Seal(); err != nil {
			return nil, nil, err
		}
		return &spillKeySource{s: r.spilled}, r.spilled.Close, nil
	}
	src := NewSliceKeySource(r.memKeys)
	return src, func() error { return nil }, nil
}

// spillKeySource adapts *spill.Spill to the KeySource interface.
type spillKeySource struct {
	s   *spill.Spill
	buf []byte
}

func (sk *spillKeySource) Rewind() error { return sk.s.Rewind() }
func (sk *spillKeySource) Len() uint64   { return sk.s.Len() }
func (sk *spillKeySource) Next() ([]byte, bool) {
	key, ok, err := sk.s.Next(sk.buf)
	if err != nil || !ok {
		return nil, false
	}
	sk.buf = key
	return key, true
}
