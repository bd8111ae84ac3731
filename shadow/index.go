package shadow

import (
	"fmt"
	"sort"
)

// Index is the fixed-capacity, sorted directory mapping primary-file page
// offsets to their current shadow-file locations (§4.2). Capacity is
// derived once at creation time from the configured md_pages_reserved;
// exceeding it is an acknowledged first-cut limitation and returns
// ErrShadowFull rather than growing.
type Index struct {
	entries  []IndexEntry
	capacity int
}

// Capacity computes the maximum number of entries an index backed by
// mdPagesReserved pages of pageSize bytes can hold, per §4.2:
// N = (md_pages_reserved * page_size - header_size) / entry_size.
func Capacity(mdPagesReserved, pageSize uint32) int {
	total := uint64(mdPagesReserved) * uint64(pageSize)
	if total <= HeaderSize {
		return 0
	}
	return int((total - HeaderSize) / entrySize)
}

// NewIndex creates an empty index with the given capacity.
func NewIndex(capacity int) *Index {
	return &Index{
		entries:  make([]IndexEntry, 0, capacity),
		capacity: capacity,
	}
}

// Len returns the number of entries currently in use.
func (ix *Index) Len() int {
	return len(ix.entries)
}

// Cap returns the index's fixed capacity.
func (ix *Index) Cap() int {
	return ix.capacity
}

// Lookup performs a binary search by HDF5PageOffset, returning a pointer
// into the index's backing array so callers can mutate the entry in
// place. Invariant: entries are sorted ascending whenever this is called.
func (ix *Index) Lookup(page uint32) (*IndexEntry, bool) {
	entries := ix.entries
	i := sort.Search(len(entries), func(i int) bool {
		return entries[i].HDF5PageOffset >= page
	})
	if i < len(entries) && entries[i].HDF5PageOffset == page {
		return &ix.entries[i], true
	}
	return nil, false
}

// Insert adds a brand-new entry for page, failing with ErrShadowFull if
// the index is already at capacity. The index is re-sorted before return
// so Lookup's invariant holds.
func (ix *Index) Insert(e IndexEntry) error {
	if len(ix.entries) >= ix.capacity {
		return fmt.Errorf("shadow: index at capacity %d: %w", ix.capacity, ErrShadowFull)
	}
	ix.entries = append(ix.entries, e)
	ix.sort()
	return nil
}

// sort stably reorders entries ascending by HDF5PageOffset. Ties are not
// expected (the uniqueness invariant forbids them), so stability only
// matters for determinism of the sort itself.
func (ix *Index) sort() {
	sort.SliceStable(ix.entries, func(i, j int) bool {
		return ix.entries[i].HDF5PageOffset < ix.entries[j].HDF5PageOffset
	})
}

// IterUsed returns the entries in ascending HDF5PageOffset order, the
// order publication requires.
func (ix *Index) IterUsed() []IndexEntry {
	return ix.entries
}

// Entries exposes the backing slice directly so the writer end-of-tick
// engine can mutate entries in place (set EntryPtr, clear it, etc.)
// without copying.
func (ix *Index) Entries() []IndexEntry {
	return ix.entries
}

// Snapshot returns a copy of the current entries with EntryPtr (write-side
// only state) cleared.
func (ix *Index) Snapshot() []IndexEntry {
	out := make([]IndexEntry, len(ix.entries))
	copy(out, ix.entries)
	for i := range out {
		out[i].EntryPtr = nil
	}
	return out
}
