package shadow

import "testing"

func TestDelayedListFIFOOrder(t *testing.T) {
	dl := NewDelayedList()
	dl.Prepend(DelayedEntry{HDF5PageOffset: 1, TickNum: 1})
	dl.Prepend(DelayedEntry{HDF5PageOffset: 2, TickNum: 2})
	dl.Prepend(DelayedEntry{HDF5PageOffset: 3, TickNum: 3})

	got := dl.Entries()
	if len(got) != 3 || got[0].TickNum != 1 || got[1].TickNum != 2 || got[2].TickNum != 3 {
		t.Fatalf("expected oldest-first order [1,2,3], got %+v", got)
	}
}

func TestDelayedListReclaimStopsAtFirstIneligible(t *testing.T) {
	dl := NewDelayedList()
	dl.Prepend(DelayedEntry{HDF5PageOffset: 1, TickNum: 1})
	dl.Prepend(DelayedEntry{HDF5PageOffset: 2, TickNum: 5})
	dl.Prepend(DelayedEntry{HDF5PageOffset: 3, TickNum: 9})

	var freed []uint32
	const maxLag = 5
	err := dl.Reclaim(10, maxLag, func(e DelayedEntry) error {
		freed = append(freed, e.HDF5PageOffset)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// cutoff = 10-5 = 5: tick 1 (page 1) and tick 5 (page 2) are eligible,
	// tick 9 (page 3) is not yet, and reclamation must stop there.
	if len(freed) != 2 || freed[0] != 1 || freed[1] != 2 {
		t.Fatalf("expected pages [1,2] freed, got %+v", freed)
	}
	if dl.Len() != 1 {
		t.Fatalf("expected one entry remaining, got %d", dl.Len())
	}
}

func TestDelayedListReclaimPropagatesFreeError(t *testing.T) {
	dl := NewDelayedList()
	dl.Prepend(DelayedEntry{HDF5PageOffset: 1, TickNum: 1})

	wantErr := ErrShadowFreeSpace
	err := dl.Reclaim(10, 1, func(e DelayedEntry) error { return wantErr })
	if err != wantErr {
		t.Fatalf("expected free error to propagate, got %v", err)
	}
	if dl.Len() != 1 {
		t.Fatalf("expected entry to remain when free fails")
	}
}
