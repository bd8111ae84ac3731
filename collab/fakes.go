package collab

import "sync"

// FakePageBuffer is an in-memory PageBuffer sufficient to drive the
// writer and reader end-of-tick engines in tests, without a real
// metadata cache or page-buffer implementation backing it.
type FakePageBuffer struct {
	mu sync.Mutex

	tick uint64

	tickList []IndexRecord
	dwl      map[uint32]uint64 // page -> tick at which the delay expires
	removed  []uint32          // pages passed to RemoveEntry, for assertions
}

// NewFakePageBuffer creates an empty fake page buffer.
func NewFakePageBuffer() *FakePageBuffer {
	return &FakePageBuffer{dwl: make(map[uint32]uint64)}
}

// Stage adds a dirty page to the current tick list, as if the metadata
// cache had just flushed content for that page.
func (pb *FakePageBuffer) Stage(page uint32, content []byte, delayedFlush uint64) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.tickList = append(pb.tickList, IndexRecord{
		HDF5PageOffset: page,
		EntryPtr:       content,
		DelayedFlush:   delayedFlush,
	})
	if delayedFlush != 0 {
		pb.dwl[page] = delayedFlush
	}
}

func (pb *FakePageBuffer) SetTick(tick uint64) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.tick = tick
}

func (pb *FakePageBuffer) TickList() (records []IndexRecord, added, modified, notInTL, notInTLFlushed int, err error) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	records = append([]IndexRecord(nil), pb.tickList...)
	return records, len(records), 0, 0, 0, nil
}

func (pb *FakePageBuffer) ReleaseTickList() {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.tickList = nil
}

func (pb *FakePageBuffer) ReleaseDelayedWrites(currentTick uint64) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	for page, until := range pb.dwl {
		if currentTick >= until {
			delete(pb.dwl, page)
		}
	}
}

func (pb *FakePageBuffer) RemoveEntry(pageAddr uint32) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.removed = append(pb.removed, pageAddr)
}

func (pb *FakePageBuffer) DWLLen() int {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	return len(pb.dwl)
}

// Removed returns every page offset passed to RemoveEntry, for test
// assertions.
func (pb *FakePageBuffer) Removed() []uint32 {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	return append([]uint32(nil), pb.removed...)
}

// FakeMetaCache is an in-memory MetaCache. Entries are registered with
// Register; Flush is a no-op since this fake has no page content of its
// own to push down (tests stage content directly on the FakePageBuffer).
type FakeMetaCache struct {
	mu          sync.Mutex
	clean       map[int]bool
	entries     []Entry
	deps        []Entry
	evicted     []uint32
	evictedTick []uint64
}

// NewFakeMetaCache creates a metadata cache fake whose rings all start
// clean.
func NewFakeMetaCache() *FakeMetaCache {
	return &FakeMetaCache{clean: make(map[int]bool)}
}

// Register adds an entry to the fake cache's resident set.
func (mc *FakeMetaCache) Register(e Entry) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.entries = append(mc.entries, e)
}

// SetClean marks ring as clean or dirty for subsequent IsClean calls.
func (mc *FakeMetaCache) SetClean(ring int, clean bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.clean[ring] = clean
}

func (mc *FakeMetaCache) Flush() error { return nil }

func (mc *FakeMetaCache) EvictOrRefreshAllEntriesInPage(pageAddr uint32, tick uint64) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.evicted = append(mc.evicted, pageAddr)
	mc.evictedTick = append(mc.evictedTick, tick)
	return nil
}

func (mc *FakeMetaCache) IsClean(ring int) (bool, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	clean, ok := mc.clean[ring]
	if !ok {
		return true, nil
	}
	return clean, nil
}

func (mc *FakeMetaCache) Iterate(cb func(Entry) error) error {
	mc.mu.Lock()
	entries := append([]Entry(nil), mc.entries...)
	mc.mu.Unlock()
	for _, e := range entries {
		if err := cb(e); err != nil {
			return err
		}
	}
	return nil
}

func (mc *FakeMetaCache) CreateFlushDependency(parent, child Entry) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.deps = append(mc.deps, child)
	return nil
}

func (mc *FakeMetaCache) GetEntryStatus(addr uint32) (EntryStatus, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for _, e := range mc.entries {
		if e.Addr == addr {
			s := StatusInCache
			if e.Dirty {
				s |= StatusDirty
			}
			return s, nil
		}
	}
	return 0, nil
}

func (mc *FakeMetaCache) GetEntryRing(addr uint32) (int, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for _, e := range mc.entries {
		if e.Addr == addr {
			return e.Ring, nil
		}
	}
	return 0, nil
}

func (mc *FakeMetaCache) GetEntryType(e Entry) (EntryType, error) {
	return e.Type, nil
}

// Evicted returns every page offset passed to
// EvictOrRefreshAllEntriesInPage, for test assertions.
func (mc *FakeMetaCache) Evicted() []uint32 {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return append([]uint32(nil), mc.evicted...)
}

// EvictedTicks returns the tick argument passed to each
// EvictOrRefreshAllEntriesInPage call, in the same order as Evicted, for
// test assertions that the reader adopts the new tick before evicting.
func (mc *FakeMetaCache) EvictedTicks() []uint64 {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return append([]uint64(nil), mc.evictedTick...)
}

// FakeShadowFreeSpace is a bump allocator over a flat address space, with
// freed extents tracked (but not reused) so tests can assert on them.
// Allocations are rounded up to whole pages: index entries store a page
// number, so a non-page-aligned address would be unrecoverable once
// divided down to that page number.
type FakeShadowFreeSpace struct {
	mu       sync.Mutex
	pageSize uint32
	next     uint32
	freed    []uint32
	closed   bool
}

// NewFakeShadowFreeSpace creates a page-granular allocator starting at
// the given base offset (typically past the header and index
// reservation), allocating in units of pageSize.
func NewFakeShadowFreeSpace(base, pageSize uint32) *FakeShadowFreeSpace {
	return &FakeShadowFreeSpace{next: base, pageSize: pageSize}
}

func (fs *FakeShadowFreeSpace) Alloc(size uint32) (uint32, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	addr := fs.next
	pages := (size + fs.pageSize - 1) / fs.pageSize
	if pages == 0 {
		pages = 1
	}
	fs.next += pages * fs.pageSize
	return addr, nil
}

func (fs *FakeShadowFreeSpace) Free(addr uint32, size uint32) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.freed = append(fs.freed, addr)
	return nil
}

func (fs *FakeShadowFreeSpace) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.closed = true
	return nil
}

// Freed returns every address passed to Free, for test assertions.
func (fs *FakeShadowFreeSpace) Freed() []uint32 {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]uint32(nil), fs.freed...)
}

// FakePrimaryFS is a no-op PrimaryFS: the writer end-of-tick tests care
// about the shadow file, not the primary file's own space management.
type FakePrimaryFS struct {
	mu      sync.Mutex
	tmpNext uint32
}

func NewFakePrimaryFS() *FakePrimaryFS { return &FakePrimaryFS{} }

func (p *FakePrimaryFS) AllocTmp(nPages int) (uint32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	addr := p.tmpNext
	p.tmpNext += uint32(nPages)
	return addr, nil
}

func (p *FakePrimaryFS) FreeAggregators() error { return nil }

func (p *FakePrimaryFS) Truncate(closing bool) error { return nil }

// FakeReaderVFD is an in-memory ReaderVFD: tests call Publish to push a
// new (tick, records) snapshot, optionally toggling Corrupt to simulate
// a torn read on the next poll (S5).
type FakeReaderVFD struct {
	mu      sync.Mutex
	tick    uint64
	records []IndexRecord
	corrupt bool
}

// NewFakeReaderVFD creates a fake reader VFD with no published tick yet.
func NewFakeReaderVFD() *FakeReaderVFD {
	return &FakeReaderVFD{}
}

// Publish makes tick/records the latest snapshot a GetTickAndIndex call
// observes, as if the writer had just completed a publication.
func (v *FakeReaderVFD) Publish(tick uint64, records []IndexRecord) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tick = tick
	v.records = append([]IndexRecord(nil), records...)
}

// SetCorrupt makes the next GetTickAndIndex call (any loadIndex value)
// fail with ErrShadowCorruption, simulating a header/index CRC mismatch.
func (v *FakeReaderVFD) SetCorrupt(corrupt bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.corrupt = corrupt
}

func (v *FakeReaderVFD) GetTickAndIndex(loadIndex bool) (uint64, []IndexRecord, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.corrupt {
		return 0, nil, ErrShadowCorruption
	}
	if !loadIndex {
		return v.tick, nil, nil
	}
	return v.tick, append([]IndexRecord(nil), v.records...), nil
}
