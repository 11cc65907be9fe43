package bbhash

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/cespare/xxhash/v2"

	bbherrors "github.com/bbhash-go/bbhash/errors"
	"github.com/bbhash-go/bbhash/internal/bitutil"
	"github.com/bbhash-go/bbhash/internal/hashfamily"
	"github.com/bbhash-go/bbhash/internal/spill"
)

// Wire format per spec §4.5, byte-for-byte: all integers little-endian,
// position-dependent, no tag/length framing beyond the header itself.
//
//	0   8   NumKeys
//	8   8   Gamma (float64 bits)
//	16  8   NumLevels
//	24  8   LastLevelSeed
//	32  1   FallbackPresent
//	...     per-level headers, bit-array words, rank directories,
//	        fallback table
//
// followed by an 8-byte trailing xxhash64 checksum of everything written
// so far. The checksum is a Save/Load-local enrichment, not part of
// spec §4.5's layout, but it is read-tolerant: Load accepts a file with
// no trailer at all, so a bare-spec producer (e.g. the reference
// implementation under _examples/original_source) round-trips through
// this Load unmodified, and this module's own output (checksum
// included) can be truncated at the trailer boundary and still load —
// see TestSerializer_TrailerAbsentStillLoads.
//
// spec.md §6 "Persisted state" reserves magic/version tagging for a
// caller-supplied wrapping envelope, not this core layout. SaveEnveloped
// and LoadEnveloped below are that opt-in wrapper.
//
// serializedSize computes the exact number of bytes Save will write for
// c, including the trailing checksum, so the output file can be
// preallocated up front.
func serializedSize(c *Cascade) int64 {
	const headerBytes = 8 + 8 + 8 + 8 + 1
	const levelHeaderBytes = 8 + 8 + 8 + 8
	size := int64(headerBytes)
	size += int64(len(c.levels)) * levelHeaderBytes
	for _, lv := range c.levels {
		size += int64(lv.bits.NumWords()) * 8
		size += 8 + int64(len(lv.bits.RankDir()))*8
	}
	if c.fallback != nil && c.fallback.len() > 0 {
		size += 8 + int64(len(c.fallback.order))*16
	}
	size += 8 // trailing checksum
	return size
}

// Save writes c to w in the format above. If w is backed by an *os.File,
// the output is preallocated on disk first (best-effort), the same
// technique the teacher's unsortedBuffer uses before a large sequential
// write, to avoid SIGBUS/ENOSPC surprises partway through a large
// cascade.
func Save(w io.Writer, c *Cascade) error {
	if f, ok := w.(*os.File); ok {
		_ = spill.Preallocate(f, serializedSize(c))
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("%w: %v", bbherrors.ErrIOFailure, err)
		}
	}

	bw := bufio.NewWriter(w)
	sum := xxhash.New()
	tee := io.MultiWriter(bw, sum)

	if err := writeBody(tee, c); err != nil {
		return err
	}

	if err := binary.Write(bw, binary.LittleEndian, sum.Sum64()); err != nil {
		return err
	}
	return bw.Flush()
}

// writeBody writes every §4.5 field of c to w, stopping short of the
// trailing checksum, so both Save (which tees the same bytes into a
// running xxhash64 before appending it) and Cascade.Checksum (which
// only wants the digest) share one encoding.
func writeBody(w io.Writer, c *Cascade) error {
	var scratch [8]byte

	writeU64 := func(v uint64) error {
		binary.LittleEndian.PutUint64(scratch[:], v)
		_, err := w.Write(scratch[:])
		return err
	}
	writeU8 := func(v uint8) error {
		_, err := w.Write([]byte{v})
		return err
	}
	writeF64 := func(v float64) error {
		return writeU64(math.Float64bits(v))
	}

	fallbackPresent := uint8(0)
	if c.fallback != nil && c.fallback.len() > 0 {
		fallbackPresent = 1
	}

	if err := writeU64(c.numKeys); err != nil {
		return err
	}
	if err := writeF64(c.gamma); err != nil {
		return err
	}
	if err := writeU64(uint64(len(c.levels))); err != nil {
		return err
	}
	if err := writeU64(c.lastLevelSeed); err != nil {
		return err
	}
	if err := writeU8(fallbackPresent); err != nil {
		return err
	}

	for _, lv := range c.levels {
		if err := writeU64(lv.sizeInBits); err != nil {
			return err
		}
		if err := writeU64(uint64(lv.bits.NumWords())); err != nil {
			return err
		}
		if err := writeU64(lv.seed); err != nil {
			return err
		}
		if err := writeU64(lv.rankOffset); err != nil {
			return err
		}
	}

	for _, lv := range c.levels {
		for _, word := range lv.bits.Words() {
			if err := writeU64(word); err != nil {
				return err
			}
		}
		rankDir := lv.bits.RankDir()
		if err := writeU64(uint64(len(rankDir))); err != nil {
			return err
		}
		for _, r := range rankDir {
			if err := writeU64(r); err != nil {
				return err
			}
		}
	}

	if fallbackPresent == 1 {
		if err := writeU64(uint64(len(c.fallback.order))); err != nil {
			return err
		}
		for _, h := range c.fallback.order {
			if err := writeU64(h); err != nil {
				return err
			}
			if err := writeU64(c.fallback.entries[h]); err != nil {
				return err
			}
		}
	}
	return nil
}

// Checksum returns the xxhash64 digest Save would write as this
// cascade's trailer, computed without allocating a full serialized
// buffer. Lets a caller compare an in-memory Cascade against a stored
// Index's trailer, or two builds of the same key set, without a round
// trip through disk. Grounded on the teacher's checksum-first design in
// header.go, generalized from write-time-only to an on-demand query.
func (c *Cascade) Checksum() (uint64, error) {
	sum := xxhash.New()
	if err := writeBody(sum, c); err != nil {
		return 0, err
	}
	return sum.Sum64(), nil
}

// LoadOption configures Load.
type LoadOption func(*loadConfig)

type loadConfig struct {
	hasher hashfamily.Hasher
}

// WithLoadHasher sets the hash family used by the loaded Cascade's
// Lookup. It must match the hasher the cascade was built with; the wire
// format does not record hasher choice (spec §6: the hash primitive is
// an external interface, not persisted state).
func WithLoadHasher(h hashfamily.Hasher) LoadOption {
	return func(c *loadConfig) { c.hasher = h }
}

// Load reads a Cascade previously written by Save. The trailing
// checksum, when all 8 of its bytes are present, is verified, and a
// mismatch returns ErrChecksumFailed; a trailer of fewer than 8 bytes is
// ignored. Input that ends before the body is complete returns
// ErrTruncatedFile.
func Load(r io.Reader, opts ...LoadOption) (*Cascade, error) {
	cfg := &loadConfig{hasher: hashfamily.Default()}
	for _, opt := range opts {
		opt(cfg)
	}

	if f, ok := r.(*os.File); ok {
		spill.FadviseSequential(int(f.Fd()), 0, 0)
	}

	br := bufio.NewReader(r)
	sum := xxhash.New()
	tee := io.TeeReader(br, sum)

	var scratch [8]byte
	readU64 := func() (uint64, error) {
		if _, err := io.ReadFull(tee, scratch[:]); err != nil {
			return 0, wrapReadErr(err)
		}
		return binary.LittleEndian.Uint64(scratch[:]), nil
	}
	readU8 := func() (uint8, error) {
		var b [1]byte
		if _, err := io.ReadFull(tee, b[:]); err != nil {
			return 0, wrapReadErr(err)
		}
		return b[0], nil
	}

	numKeys, err := readU64()
	if err != nil {
		return nil, err
	}
	gammaBits, err := readU64()
	if err != nil {
		return nil, err
	}
	gamma := math.Float64frombits(gammaBits)
	numLevels, err := readU64()
	if err != nil {
		return nil, err
	}
	lastSeed, err := readU64()
	if err != nil {
		return nil, err
	}
	fallbackPresent, err := readU8()
	if err != nil {
		return nil, err
	}

	type levelHeader struct {
		sizeInBits, numWords, seed, rankOffset uint64
	}
	headers := make([]levelHeader, numLevels)
	for i := range headers {
		if headers[i].sizeInBits, err = readU64(); err != nil {
			return nil, err
		}
		if headers[i].numWords, err = readU64(); err != nil {
			return nil, err
		}
		if headers[i].seed, err = readU64(); err != nil {
			return nil, err
		}
		if headers[i].rankOffset, err = readU64(); err != nil {
			return nil, err
		}
		wantWords := (headers[i].sizeInBits+63)/64 + 1
		if headers[i].numWords != wantWords {
			return nil, bbherrors.ErrCorruptedFormat
		}
	}

	levels := make([]*level, numLevels)
	for i, h := range headers {
		words := make([]uint64, h.numWords)
		for w := range words {
			if words[w], err = readU64(); err != nil {
				return nil, err
			}
		}
		rankLen, err := readU64()
		if err != nil {
			return nil, err
		}
		rankDir := make([]uint64, rankLen)
		for r := range rankDir {
			if rankDir[r], err = readU64(); err != nil {
				return nil, err
			}
		}
		levels[i] = &level{
			index:      i,
			sizeInBits: h.sizeInBits,
			seed:       h.seed,
			rankOffset: h.rankOffset,
			bits:       bitutil.FromWords(h.sizeInBits, words, rankDir),
		}
	}

	var fallback *fallbackTable
	if fallbackPresent == 1 {
		fbLen, err := readU64()
		if err != nil {
			return nil, err
		}
		fallback = newFallbackTable(lastSeed)
		for i := uint64(0); i < fbLen; i++ {
			h, err := readU64()
			if err != nil {
				return nil, err
			}
			idx, err := readU64()
			if err != nil {
				return nil, err
			}
			fallback.put(h, idx)
		}
	}

	computed := sum.Sum64()
	var trailer [8]byte
	n, _ := io.ReadFull(br, trailer[:])
	if n == 8 {
		stored := binary.LittleEndian.Uint64(trailer[:])
		if stored != computed {
			return nil, bbherrors.ErrChecksumFailed
		}
	}

	return &Cascade{
		gamma:         gamma,
		numKeys:       numKeys,
		lastLevelSeed: lastSeed,
		levels:        levels,
		fallback:      fallback,
		hasher:        cfg.hasher,
	}, nil
}

func wrapReadErr(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return bbherrors.ErrTruncatedFile
	}
	return fmt.Errorf("%w: %v", bbherrors.ErrIOFailure, err)
}

// Envelope framing, kept deliberately outside Save/Load: spec.md §6
// says magic/version tagging belongs to "callers that need forward
// compatibility", not the core §4.5 layout, so it lives here as an
// opt-in wrapper rather than a field of the format Save/Load implement.
// Grounded on the teacher's header.go magic/version scheme, generalized
// into a wrapper instead of baked into the primary codec.
const (
	magicNumber   uint32 = 0x42424831
	formatVersion uint16 = 1
)

// SaveEnveloped writes a 6-byte magic+version header ahead of the
// output of Save, for callers who want a self-describing file format
// instead of the bare spec layout.
func SaveEnveloped(w io.Writer, c *Cascade) error {
	var hdr [6]byte
	binary.LittleEndian.PutUint32(hdr[0:4], magicNumber)
	binary.LittleEndian.PutUint16(hdr[4:6], formatVersion)
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("%w: %v", bbherrors.ErrIOFailure, err)
	}
	// Hide any concrete *os.File behind a plain io.Writer so Save's
	// preallocate-then-seek-to-0 fast path doesn't overwrite the header
	// just written.
	return Save(struct{ io.Writer }{w}, c)
}

// LoadEnveloped reads the header SaveEnveloped writes, validates it,
// and delegates the remainder to Load.
func LoadEnveloped(r io.Reader, opts ...LoadOption) (*Cascade, error) {
	var hdr [6]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, wrapReadErr(err)
	}
	if binary.LittleEndian.Uint32(hdr[0:4]) != magicNumber {
		return nil, bbherrors.ErrInvalidMagic
	}
	if binary.LittleEndian.Uint16(hdr[4:6]) != formatVersion {
		return nil, bbherrors.ErrInvalidVersion
	}
	return Load(r, opts...)
}
