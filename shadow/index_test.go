package shadow

import "testing"

func TestIndexLookupAndInsert(t *testing.T) {
	ix := NewIndex(4)
	if _, ok := ix.Lookup(1); ok {
		t.Fatalf("expected empty index to miss")
	}

	if err := ix.Insert(IndexEntry{HDF5PageOffset: 5}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ix.Insert(IndexEntry{HDF5PageOffset: 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	e, ok := ix.Lookup(1)
	if !ok || e.HDF5PageOffset != 1 {
		t.Fatalf("expected to find page 1, got %+v ok=%v", e, ok)
	}

	entries := ix.IterUsed()
	if entries[0].HDF5PageOffset != 1 || entries[1].HDF5PageOffset != 5 {
		t.Fatalf("expected ascending order, got %+v", entries)
	}
}

// TestIndexCapacityBoundary exercises the K/K+1 boundary: inserting at
// capacity succeeds, one more fails with ErrShadowFull.
func TestIndexCapacityBoundary(t *testing.T) {
	const k = 3
	ix := NewIndex(k)
	for i := uint32(0); i < k; i++ {
		if err := ix.Insert(IndexEntry{HDF5PageOffset: i}); err != nil {
			t.Fatalf("unexpected error inserting entry %d: %v", i, err)
		}
	}
	if ix.Len() != k {
		t.Fatalf("expected index full at %d entries, got %d", k, ix.Len())
	}
	if err := ix.Insert(IndexEntry{HDF5PageOffset: k}); err == nil {
		t.Fatalf("expected ErrShadowFull inserting the K+1th entry")
	}
}

func TestIndexSnapshotStripsEntryPtr(t *testing.T) {
	ix := NewIndex(2)
	_ = ix.Insert(IndexEntry{HDF5PageOffset: 1, EntryPtr: []byte("dirty")})

	snap := ix.Snapshot()
	if len(snap) != 1 || snap[0].EntryPtr != nil {
		t.Fatalf("expected snapshot to strip EntryPtr, got %+v", snap)
	}
	if live, _ := ix.Lookup(1); live.EntryPtr == nil {
		t.Fatalf("snapshot should not affect the live index's EntryPtr")
	}
}

func TestCapacityComputation(t *testing.T) {
	got := Capacity(1, 4096)
	want := int((4096 - HeaderSize) / entrySize)
	if got != want {
		t.Fatalf("expected capacity %d, got %d", want, got)
	}
	if Capacity(0, 4096) != 0 {
		t.Fatalf("expected zero reserved pages to yield zero capacity")
	}
}
