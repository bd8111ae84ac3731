package shadow

// DelayedEntry records a shadow-file extent superseded at TickNum, held
// in reserve until it is safe to reclaim (§3, "Delayed-list entry").
type DelayedEntry struct {
	HDF5PageOffset   uint32
	MDFilePageOffset uint32
	Length           uint32
	TickNum          uint64
}

// DelayedList is the FIFO of superseded shadow-file extents awaiting safe
// reuse (§9 design note: "doubly-linked delayed list" modeled as an
// array-backed deque, since insertion is always at the head and
// reclamation always walks from the tail — no pointer surgery needed).
type DelayedList struct {
	entries []DelayedEntry
}

// NewDelayedList creates an empty delayed list.
func NewDelayedList() *DelayedList {
	return &DelayedList{}
}

// Prepend inserts e at the head of the list. All insertions within a
// single tick share that tick's number, so the list is FIFO both by
// insertion order and by TickNum.
func (dl *DelayedList) Prepend(e DelayedEntry) {
	dl.entries = append([]DelayedEntry{e}, dl.entries...)
}

// Len reports the number of entries currently held.
func (dl *DelayedList) Len() int {
	return len(dl.entries)
}

// Entries exposes the list tail-to-head (oldest first), the order
// reclamation walks it.
func (dl *DelayedList) Entries() []DelayedEntry {
	out := make([]DelayedEntry, len(dl.entries))
	for i, e := range dl.entries {
		out[len(dl.entries)-1-i] = e
	}
	return out
}

// ReclaimFunc frees one extent; returning an error aborts reclamation
// at that entry (mirrors the original stopping at the first non-eligible
// entry, just generalized to also stop on the free call itself failing).
type ReclaimFunc func(e DelayedEntry) error

// Reclaim walks the list from the tail (oldest tick first) and frees
// every entry whose TickNum <= currentTick-maxLag, stopping at the first
// entry that is not yet eligible (§4.3 step 5, last bullet). Eligible
// entries are removed from the list only after free succeeds.
func (dl *DelayedList) Reclaim(currentTick uint64, maxLag uint64, free ReclaimFunc) error {
	cutoff := int64(currentTick) - int64(maxLag)
	keep := len(dl.entries)
	for keep > 0 {
		tail := dl.entries[keep-1]
		if int64(tail.TickNum) > cutoff {
			break
		}
		if err := free(tail); err != nil {
			return err
		}
		keep--
	}
	dl.entries = dl.entries[:keep]
	return nil
}
