package bbhash

import "testing"

func TestFallbackTablePutLookup(t *testing.T) {
	f := newFallbackTable(0xABCD)
	f.put(100, 0)
	f.put(200, 1)
	f.put(300, 2)

	if got := f.len(); got != 3 {
		t.Fatalf("len() = %d, want 3", got)
	}

	for h, want := range map[uint64]uint64{100: 0, 200: 1, 300: 2} {
		got, ok := f.lookup(h)
		if !ok {
			t.Fatalf("lookup(%d): not found", h)
		}
		if got != want {
			t.Fatalf("lookup(%d) = %d, want %d", h, got, want)
		}
	}

	if _, ok := f.lookup(999); ok {
		t.Fatal("lookup(999) should not be found")
	}
}

func TestFallbackTablePreservesInsertionOrder(t *testing.T) {
	f := newFallbackTable(1)
	hashes := []uint64{50, 10, 30, 20}
	for i, h := range hashes {
		f.put(h, uint64(i))
	}
	if len(f.order) != len(hashes) {
		t.Fatalf("order length = %d, want %d", len(f.order), len(hashes))
	}
	for i, h := range hashes {
		if f.order[i] != h {
			t.Fatalf("order[%d] = %d, want %d", i, f.order[i], h)
		}
	}
}

func TestFallbackTablePutOverwritesWithoutDuplicatingOrder(t *testing.T) {
	f := newFallbackTable(1)
	f.put(42, 0)
	f.put(42, 7)
	if got := f.len(); got != 1 {
		t.Fatalf("len() = %d, want 1", got)
	}
	if len(f.order) != 1 {
		t.Fatalf("order length = %d, want 1", len(f.order))
	}
	got, ok := f.lookup(42)
	if !ok || got != 7 {
		t.Fatalf("lookup(42) = %d, %v; want 7, true", got, ok)
	}
}
