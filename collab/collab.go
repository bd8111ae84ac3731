// Package collab defines the collaborator interfaces the VFD SWMR core
// consumes but does not implement: the page buffer, the metadata cache,
// the shadow file's own free-space manager, the reader-side VFD, and the
// primary file's space-management surface. Production code outside this
// module supplies real implementations; this package also ships small
// in-memory fakes (see fakes.go) sufficient to drive the core end to end
// in tests.
package collab

import "errors"

// ErrShadowCorruption is returned by a ReaderVFD implementation when a
// frame it read fails CRC or magic validation. Concrete implementations
// (e.g. a real file-backed VFD) conventionally wrap shadow.ErrCorruption
// instead; this sentinel exists so fakes in this package can simulate
// the same failure mode without collab depending on shadow (shadow
// depends on collab, not the reverse).
var ErrShadowCorruption = errors.New("collab: shadow frame corruption")

// EntryType tags a metadata-cache entry for flush-dependency eligibility
// (see holdingtank.Whitelist).
type EntryType int

const (
	EntryTypeOther EntryType = iota
	EntryTypeObjectHeader
	EntryTypeObjectHeaderChunk
	EntryTypeBTree2Header
	EntryTypeBTree2Internal
	EntryTypeBTree2Leaf
	EntryTypeEArrayHeader
	EntryTypeEArrayDataBlock
	EntryTypeFArrayHeader
	EntryTypeFArrayDataBlock
	EntryTypeFreedSpace
	EntryTypeProxy
	EntryTypeEpochMarker
	EntryTypePrefetched
)

// EntryStatus is a bitmask describing a metadata-cache entry's presence.
type EntryStatus uint32

const (
	StatusInCache EntryStatus = 1 << iota
	StatusDirty
)

// Entry is an opaque handle to a metadata-cache entry, passed to
// MetaCache.CreateFlushDependency and MetaCache.Iterate callbacks.
type Entry struct {
	Addr    uint32
	Type    EntryType
	Ring    int
	Dirty   bool
}

// IndexRecord is a page-buffer-owned view of one dirty page destined for
// the shadow index: it carries the same fields as the shadow package's
// own index entry, duplicated here so that collab has no dependency on
// shadow (shadow depends on collab, not the other way around). The
// shadow writer converts these into its own index entries.
type IndexRecord struct {
	HDF5PageOffset   uint32
	MDFilePageOffset uint32
	Length           uint32
	EntryPtr         []byte
	DelayedFlush     uint64
}

// PageBuffer sits between the metadata cache and the shadow-file codec. It
// maintains the current tick's dirty-page list (the "tick list") and the
// delayed-write list of pages not yet safe to overwrite.
type PageBuffer interface {
	// SetTick notifies the page buffer that the file has advanced to tick.
	SetTick(tick uint64)

	// TickList returns the current tick's dirty-page records, to be
	// merged into the shadow index. Returns counts of entries added,
	// modified, not found in the tick list, and
	// not-in-tick-list-but-already-flushed, mirroring the original's
	// merge bookkeeping even though this port recomputes them from the
	// returned records rather than mutating the index in place.
	TickList() (records []IndexRecord, added, modified, notInTL, notInTLFlushed int, err error)

	// ReleaseTickList discards the current tick's dirty-page bookkeeping
	// once it has been merged into the index and published.
	ReleaseTickList()

	// ReleaseDelayedWrites drops delayed-write entries whose delay has
	// expired, permitting new writes over those pages.
	ReleaseDelayedWrites(currentTick uint64)

	// RemoveEntry evicts a page from the page buffer's cache, used by the
	// reader's end-of-tick diff (pass 0).
	RemoveEntry(pageAddr uint32)

	// DWLLen reports the current length of the delayed-write list; used by
	// PrepForFlushOrClose to decide whether to keep sleeping.
	DWLLen() int
}

// MetaCache sits above the page buffer and holds higher-level entries built
// out of pages.
type MetaCache interface {
	// Flush writes all dirty entries down into the page buffer.
	Flush() error

	// EvictOrRefreshAllEntriesInPage evicts (or refreshes, if still valid)
	// every cache entry whose backing page is pageAddr, used by the
	// reader's end-of-tick diff (pass 1).
	EvictOrRefreshAllEntriesInPage(pageAddr uint32, tick uint64) error

	// IsClean reports whether every entry in rings <= ring is currently
	// clean (false if any of them is dirty).
	IsClean(ring int) (bool, error)

	// Iterate walks every entry currently resident in the cache.
	Iterate(cb func(Entry) error) error

	// CreateFlushDependency marks child as a flush-dependency child of
	// parent: child must flush before parent is considered clean.
	CreateFlushDependency(parent, child Entry) error

	// GetEntryStatus reports whether addr is resident and/or dirty.
	GetEntryStatus(addr uint32) (EntryStatus, error)

	// GetEntryRing reports the cache ring an entry belongs to.
	GetEntryRing(addr uint32) (int, error)

	// GetEntryType reports the tagged type of an entry.
	GetEntryType(e Entry) (EntryType, error)
}

// ReaderVFD is the reader-side view of the shadow file: it can read just
// the header (to poll for a tick change) or the header plus the full
// index.
type ReaderVFD interface {
	// GetTickAndIndex reads the shadow file's header and, if loadIndex is
	// true, its index frame. Returns a corruption error (defined by the
	// implementation, conventionally wrapping shadow.ErrCorruption) if
	// either frame's CRC or magic fails to validate.
	GetTickAndIndex(loadIndex bool) (tick uint64, entries []IndexRecord, err error)
}

// ShadowFreeSpace manages space inside the shadow file, independent of the
// primary file's own free-space manager.
type ShadowFreeSpace interface {
	// Alloc reserves size bytes in the shadow file, returning the
	// resulting byte offset.
	Alloc(size uint32) (uint32, error)

	// Free releases a previously allocated extent back to the shadow
	// file's free-space pool.
	Free(addr uint32, size uint32) error

	// Close releases any resources held by the free-space manager.
	Close() error
}

// PrimaryFS is the primary file's own space-management surface, consulted
// (but not owned) by the writer end-of-tick engine.
type PrimaryFS interface {
	// AllocTmp allocates a scratch address not backed by persistent
	// storage, used when constructing holding-tank entries.
	AllocTmp(nPages int) (uint32, error)

	// FreeAggregators releases the primary file's small-block allocation
	// aggregators, step 1 of the writer end-of-tick contract.
	FreeAggregators() error

	// Truncate shrinks the primary file to its logical end-of-allocation.
	// The shadow writer in this module does not call it.
	Truncate(closing bool) error
}
