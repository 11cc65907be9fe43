package bbhash

import (
	"encoding/binary"
	"fmt"
	"testing"
)

// TestCascade_StringKeysViaPreHash exercises the non-integer key path:
// structured, low-entropy string keys pre-hashed before hitting the
// level hash family (spec §6 "PreHash").
func TestCascade_StringKeysViaPreHash(t *testing.T) {
	rng := newTestRNG(t)
	n := 4000
	keys := make([][]byte, n)
	for i := range keys {
		raw := []byte(fmt.Sprintf("user-%d-%d", i, rng.Uint64()))
		keys[i] = PreHash(raw)
	}
	src := NewSliceKeySource(keys)
	b, err := NewBuilder(nil, src, WithGamma(2.0), WithMasterSeed(0x2468))
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	c, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	seen := make([]bool, n)
	for _, k := range keys {
		r := c.Lookup(k)
		if r >= uint64(n) || seen[r] {
			t.Fatalf("key %x: rank %d invalid or duplicated", k, r)
		}
		seen[r] = true
	}
}

// TestCascade_HeavyCollisionPressureAtLevelZero forces heavy pressure at
// level 0 (gamma just above 1.0, a small key set) so that a meaningful
// fraction of keys are pushed to level 1 or beyond, exercising the
// cascade path rather than a single-level shortcut.
func TestCascade_HeavyCollisionPressureAtLevelZero(t *testing.T) {
	ids := uint64Range(0, 2000)
	c := buildCascade(t, ids, WithGamma(1.05), WithMasterSeed(0x9999))
	if c.NumLevels() < 2 {
		t.Fatalf("NumLevels() = %d, want at least 2 under tight gamma pressure", c.NumLevels())
	}
	assertBijective(t, c, ids)
}

func TestCascade_NumKeysGammaAccessors(t *testing.T) {
	ids := uint64Range(0, 500)
	c := buildCascade(t, ids, WithGamma(1.75), WithMasterSeed(1))
	if got := c.NumKeys(); got != 500 {
		t.Fatalf("NumKeys() = %d, want 500", got)
	}
	if got := c.Gamma(); got != 1.75 {
		t.Fatalf("Gamma() = %v, want 1.75", got)
	}
}

func TestCascade_LookupNonMemberIsTotal(t *testing.T) {
	ids := uint64Range(0, 100)
	c := buildCascade(t, ids, WithMasterSeed(2))
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 999999)
	// spec §9: behavior for a non-member key is unspecified but must
	// never panic and must stay within [0, NumKeys()).
	got := c.Lookup(buf[:])
	if got >= c.NumKeys() {
		t.Fatalf("Lookup(non-member) = %d, out of range [0,%d)", got, c.NumKeys())
	}
}

func TestCascade_NoFallbackByDefault(t *testing.T) {
	ids := uint64Range(0, 1000)
	c := buildCascade(t, ids, WithGamma(2.0), WithMasterSeed(3))
	if c.HasFallback() {
		t.Fatal("expected no fallback usage at gamma=2.0 with the default level cap")
	}
}
