package bbhash

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"hash/fnv"
	"math/rand/v2"
	"testing"

	bbherrors "github.com/bbhash-go/bbhash/errors"
)

func newTestRNG(t testing.TB) *rand.Rand {
	t.Helper()
	h := fnv.New128a()
	h.Write([]byte(t.Name()))
	sum := h.Sum(nil)
	s1 := binary.LittleEndian.Uint64(sum[:8])
	s2 := binary.LittleEndian.Uint64(sum[8:])
	return rand.New(rand.NewPCG(0x1234567890ABCDEF^s1, 0xFEDCBA9876543210^s2))
}

func uint64Range(start, n uint64) []uint64 {
	ids := make([]uint64, n)
	for i := range ids {
		ids[i] = start + uint64(i)
	}
	return ids
}

func buildCascade(t testing.TB, ids []uint64, opts ...BuildOption) *Cascade {
	t.Helper()
	src := NewUint64KeySource(ids)
	b, err := NewBuilder(context.Background(), src, opts...)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	c, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return c
}

// assertBijective checks {lookup(k) : k in ids} == {0, ..., N-1} (spec §8
// "Bijectivity").
func assertBijective(t testing.TB, c Lookuper, ids []uint64) {
	t.Helper()
	n := len(ids)
	seen := make([]bool, n)
	var buf [8]byte
	for _, id := range ids {
		binary.LittleEndian.PutUint64(buf[:], id)
		rank := c.Lookup(buf[:])
		if rank >= uint64(n) {
			t.Fatalf("key %d: rank %d out of range [0,%d)", id, rank, n)
		}
		if seen[rank] {
			t.Fatalf("key %d: rank %d collided with another key", id, rank)
		}
		seen[rank] = true
	}
	for i, ok := range seen {
		if !ok {
			t.Fatalf("rank %d was never produced by any key", i)
		}
	}
}

func TestBuild_Bijectivity_1000Keys(t *testing.T) {
	ids := uint64Range(1000, 1000)
	c := buildCascade(t, ids, WithGamma(2.0), WithMasterSeed(0x1234), WithWorkers(1))
	assertBijective(t, c, ids)
}

func TestBuild_Bijectivity_100000Keys_4Workers(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping large build in short mode")
	}
	ids := uint64Range(1, 100000)
	c := buildCascade(t, ids, WithGamma(2.0), WithMasterSeed(0xCAFEBABE), WithWorkers(4))
	assertBijective(t, c, ids)
}

func TestBuild_Determinism(t *testing.T) {
	ids := uint64Range(0, 5000)
	c1 := buildCascade(t, ids, WithGamma(2.0), WithMasterSeed(42), WithWorkers(1))
	c2 := buildCascade(t, ids, WithGamma(2.0), WithMasterSeed(42), WithWorkers(1))

	var buf1, buf2 bytes.Buffer
	if err := Save(&buf1, c1); err != nil {
		t.Fatalf("Save c1: %v", err)
	}
	if err := Save(&buf2, c2); err != nil {
		t.Fatalf("Save c2: %v", err)
	}
	if !bytes.Equal(buf1.Bytes(), buf2.Bytes()) {
		t.Fatal("two builds with identical seed/gamma/keys produced different serialized output")
	}
}

// TestBuild_ParallelEquivalence checks that the *set* of lookup results
// is identical whether the build used 1 worker or many (spec §8
// "Parallel equivalence"). Byte-identical output across worker counts is
// not required, only membership.
func TestBuild_ParallelEquivalence(t *testing.T) {
	ids := uint64Range(0, 20000)
	c1 := buildCascade(t, ids, WithGamma(2.0), WithMasterSeed(7), WithWorkers(1))
	c8 := buildCascade(t, ids, WithGamma(2.0), WithMasterSeed(7), WithWorkers(8))

	lookupSet := func(c *Cascade) map[uint64]bool {
		set := make(map[uint64]bool, len(ids))
		var buf [8]byte
		for _, id := range ids {
			binary.LittleEndian.PutUint64(buf[:], id)
			set[c.Lookup(buf[:])] = true
		}
		return set
	}

	s1 := lookupSet(c1)
	s8 := lookupSet(c8)
	if len(s1) != len(ids) || len(s8) != len(ids) {
		t.Fatalf("expected %d distinct ranks, got %d (1 worker) and %d (8 workers)", len(ids), len(s1), len(s8))
	}
	for r := range s1 {
		if !s8[r] {
			t.Fatalf("rank %d present with 1 worker but absent with 8", r)
		}
	}
}

func TestBuild_RoundTrip(t *testing.T) {
	ids := uint64Range(1000, 1000)
	c := buildCascade(t, ids, WithGamma(2.0), WithMasterSeed(0x1234))

	var buf bytes.Buffer
	if err := Save(&buf, c); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(&buf)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	var kbuf [8]byte
	for _, id := range ids {
		binary.LittleEndian.PutUint64(kbuf[:], id)
		want := c.Lookup(kbuf[:])
		got := loaded.Lookup(kbuf[:])
		if want != got {
			t.Fatalf("key %d: original lookup=%d, reloaded lookup=%d", id, want, got)
		}
	}
}

func TestBuild_NKeysZero(t *testing.T) {
	src := NewUint64KeySource(nil)
	b, err := NewBuilder(context.Background(), src)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	c, err := b.Build()
	if err != nil {
		t.Fatalf("Build over zero keys: %v", err)
	}
	if c.NumKeys() != 0 {
		t.Fatalf("NumKeys() = %d, want 0", c.NumKeys())
	}
	if c.NumLevels() != 0 {
		t.Fatalf("NumLevels() = %d, want 0", c.NumLevels())
	}
	if c.HasFallback() {
		t.Fatal("empty cascade must not have a fallback table")
	}
	if got := c.Lookup([]byte("anything")); got != 0 {
		t.Fatalf("Lookup on empty cascade = %d, want 0", got)
	}
}

func TestBuild_NKeysOne(t *testing.T) {
	c := buildCascade(t, []uint64{42})
	if c.NumLevels() != 1 {
		t.Fatalf("NumLevels() = %d, want 1", c.NumLevels())
	}
	if got := c.levels[0].sizeInBits; got != 64 {
		t.Fatalf("level 0 size = %d bits, want 64", got)
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 42)
	if got := c.Lookup(buf[:]); got != 0 {
		t.Fatalf("Lookup(42) = %d, want 0", got)
	}
}

// TestBuild_GammaOneHigherResidual mirrors spec §8 scenario 5: gamma=1.0
// on a small key set should still complete, routing whatever cannot be
// placed within the level cap to the fallback table.
func TestBuild_GammaOneHigherResidual(t *testing.T) {
	ids := uint64Range(0, 8)
	c := buildCascade(t, ids, WithGamma(1.0), WithMasterSeed(99))
	assertBijective(t, c, ids)
}

func TestBuild_GammaBelowOneRejected(t *testing.T) {
	src := NewUint64KeySource(uint64Range(0, 10))
	_, err := NewBuilder(context.Background(), src, WithGamma(0.5))
	if !errors.Is(err, bbherrors.ErrInvalidGamma) {
		t.Fatalf("got error %v, want ErrInvalidGamma", err)
	}
}

// TestBuild_LowLevelCapForcesFallback forces the level cap to 1 so that,
// with enough hash pressure, residual keys are guaranteed to remain and
// land in the fallback table.
func TestBuild_LowLevelCapForcesFallback(t *testing.T) {
	ids := uint64Range(0, 5000)
	c := buildCascade(t, ids, WithGamma(1.1), WithLevelCap(1), WithMasterSeed(1))
	assertBijective(t, c, ids)
	if !c.HasFallback() {
		t.Fatal("expected the fallback table to be populated with a level cap of 1")
	}
}

func TestBuild_MemoryBudgetSpillsToDisk(t *testing.T) {
	ids := uint64Range(0, 20000)
	// A tiny budget forces every level's residual sink to spill.
	c := buildCascade(t, ids, WithGamma(1.3), WithMemoryBudget(1), WithMasterSeed(5))
	assertBijective(t, c, ids)
}

func TestBuild_SecondBuildRejected(t *testing.T) {
	src := NewUint64KeySource(uint64Range(0, 100))
	b, err := NewBuilder(context.Background(), src)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	if _, err := b.Build(); err != nil {
		t.Fatalf("first Build: %v", err)
	}
	if _, err := b.Build(); !errors.Is(err, bbherrors.ErrBuilderClosed) {
		t.Fatalf("second Build: got %v, want ErrBuilderClosed", err)
	}
}

func TestBuild_EmptyKeyRejected(t *testing.T) {
	keys := [][]byte{[]byte("valid"), {}, []byte("also-valid")}
	src := NewSliceKeySource(keys)
	b, err := NewBuilder(context.Background(), src)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	if _, err := b.Build(); !errors.Is(err, bbherrors.ErrKeyTooShort) {
		t.Fatalf("got %v, want ErrKeyTooShort", err)
	}
}

func TestBuild_DuplicateKeyRejectedWhenChecked(t *testing.T) {
	keys := [][]byte{[]byte("alpha"), []byte("beta"), []byte("alpha")}
	src := NewSliceKeySource(keys)
	b, err := NewBuilder(context.Background(), src, WithDuplicateCheck(true))
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	if _, err := b.Build(); !errors.Is(err, bbherrors.ErrDuplicateKey) {
		t.Fatalf("got %v, want ErrDuplicateKey", err)
	}
}

func TestBuild_DuplicateKeyIgnoredByDefault(t *testing.T) {
	keys := [][]byte{[]byte("alpha"), []byte("beta"), []byte("alpha")}
	src := NewSliceKeySource(keys)
	b, err := NewBuilder(context.Background(), src)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	// Without WithDuplicateCheck, a duplicate key does not fail the
	// build (spec §7 marks the check optional); it just means two
	// input positions share one output rank, per the spec's "undefined
	// output" for duplicates.
	if _, err := b.Build(); err != nil {
		t.Fatalf("Build: %v", err)
	}
}

// lyingKeySource always reports one more key than it actually yields,
// to exercise the ErrKeyCountMismatch guard.
type lyingKeySource struct {
	KeySource
}

func (l lyingKeySource) Len() uint64 { return l.KeySource.Len() + 1 }

func TestBuild_KeyCountMismatchDetected(t *testing.T) {
	src := lyingKeySource{NewUint64KeySource(uint64Range(0, 100))}
	b, err := NewBuilder(context.Background(), src)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	if _, err := b.Build(); !errors.Is(err, bbherrors.ErrKeyCountMismatch) {
		t.Fatalf("got %v, want ErrKeyCountMismatch", err)
	}
}

