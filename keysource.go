package bbhash

import (
	"encoding/binary"

	"github.com/zeebo/xxh3"
)

// KeySource is a finite, restartable sequence of distinct keys (spec §6).
// The builder iterates a KeySource once per cascade level to find the
// input for the fill phase, then again to compute residuals, so
// implementations backed by RAM must support being walked more than
// once; implementations backed by on-disk spill (internal/spill) satisfy
// this by seeking back to the start of the file.
//
// Next reports exhaustion via the ok bool rather than an error. A source
// that fails mid-pass (the spill-backed residual source on a read error)
// also reports ok=false, so that pass simply ends early.
type KeySource interface {
	// Rewind resets iteration to the first key.
	Rewind() error
	// Next returns the next key, or ok=false when exhausted. The returned
	// slice is only valid until the next call to Next or Rewind.
	Next() (key []byte, ok bool)
	// Len returns the total number of keys this source will yield in one
	// full pass.
	Len() uint64
}

// sliceKeySource walks an in-memory slice of byte-slice keys.
type sliceKeySource struct {
	keys []([]byte)
	pos  int
}

// NewSliceKeySource wraps a slice of arbitrary byte-string keys as a
// KeySource. The slice is not copied; the caller must not mutate it for
// the lifetime of the build.
func NewSliceKeySource(keys [][]byte) KeySource {
	return &sliceKeySource{keys: keys}
}

func (s *sliceKeySource) Rewind() error       { s.pos = 0; return nil }
func (s *sliceKeySource) Len() uint64         { return uint64(len(s.keys)) }
func (s *sliceKeySource) Next() ([]byte, bool) {
	if s.pos >= len(s.keys) {
		return nil, false
	}
	k := s.keys[s.pos]
	s.pos++
	return k, true
}

// uint64KeySource yields each value of a caller-supplied []uint64 as an
// 8-byte little-endian key, encoded on the fly into a reused buffer. This
// is the convenience path for the common case of hashing integer IDs
// (spec §6's "default hash primitive... for integer keys").
type uint64KeySource struct {
	values []uint64
	pos    int
	buf    [8]byte
}

// NewUint64KeySource wraps a slice of uint64 values as a KeySource,
// encoding each as an 8-byte little-endian key on the fly.
func NewUint64KeySource(values []uint64) KeySource {
	return &uint64KeySource{values: values}
}

func (u *uint64KeySource) Rewind() error { u.pos = 0; return nil }
func (u *uint64KeySource) Len() uint64   { return uint64(len(u.values)) }
func (u *uint64KeySource) Next() ([]byte, bool) {
	if u.pos >= len(u.values) {
		return nil, false
	}
	binary.LittleEndian.PutUint64(u.buf[:], u.values[u.pos])
	u.pos++
	return u.buf[:], true
}

// PreHash applies xxHash3-128 to an arbitrary key, returning 16 bytes.
//
// Use it when keys are not already uniformly distributed (strings, URLs,
// sequential integers with shared high bits): pre-hashing scrambles
// structured input into values that behave like independent draws under
// the level hash family. If PreHash is applied at build time it must
// also be applied to the key given to Lookup.
func PreHash(key []byte) []byte {
	h := xxh3.Hash128(key)
	result := make([]byte, 16)
	binary.LittleEndian.PutUint64(result[0:8], h.Lo)
	binary.LittleEndian.PutUint64(result[8:16], h.Hi)
	return result
}
