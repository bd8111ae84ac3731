package holdingtank

import (
	"testing"
	"time"

	"github.com/hdfgroup/vfdswmr/collab"
)

type fakeMetaCache struct {
	clean   bool
	entries []collab.Entry
	deps    []collab.Entry
}

func (f *fakeMetaCache) Flush() error { return nil }
func (f *fakeMetaCache) EvictOrRefreshAllEntriesInPage(uint32, uint64) error { return nil }
func (f *fakeMetaCache) IsClean(ring int) (bool, error)                     { return f.clean, nil }
func (f *fakeMetaCache) Iterate(cb func(collab.Entry) error) error {
	for _, e := range f.entries {
		if err := cb(e); err != nil {
			return err
		}
	}
	return nil
}
func (f *fakeMetaCache) CreateFlushDependency(parent, child collab.Entry) error {
	f.deps = append(f.deps, child)
	return nil
}
func (f *fakeMetaCache) GetEntryStatus(uint32) (collab.EntryStatus, error) { return 0, nil }
func (f *fakeMetaCache) GetEntryRing(uint32) (int, error)                 { return 0, nil }
func (f *fakeMetaCache) GetEntryType(collab.Entry) (collab.EntryType, error) { return collab.EntryTypeOther, nil }

// TestDeferredFreeWithFlushDependency exercises S7: a free racing a dirty
// object-header entry must be deferred and the entry linked as a flush
// dependency, then actually freed only after the time limit elapses.
func TestDeferredFreeWithFlushDependency(t *testing.T) {
	mc := &fakeMetaCache{
		clean: false,
		entries: []collab.Entry{
			{Addr: 200, Type: collab.EntryTypeObjectHeader, Ring: 1, Dirty: true},
		},
	}

	now := time.Unix(1000, 0)
	fs, err := CreateContext(mc, 100, 4096, 1, AllocMetadata, 900, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fs == nil {
		t.Fatalf("expected a deferred FreedSpace, got nil")
	}
	if len(mc.deps) != 1 || mc.deps[0].Addr != 200 {
		t.Fatalf("expected flush dependency on dirty entry 200, got %+v", mc.deps)
	}

	tank := New()
	tank.Push(fs)

	tickLen := 100 * time.Millisecond
	limit := 2 * tickLen

	if got := tank.DequeueTimeLimit(now.Add(limit-time.Millisecond), limit); got != nil {
		t.Fatalf("expected no dequeue before time limit elapses")
	}
	if tank.IsEmpty() {
		t.Fatalf("tank should still hold the entry")
	}

	got := tank.DequeueTimeLimit(now.Add(limit+time.Millisecond), limit)
	if got == nil {
		t.Fatalf("expected dequeue after time limit elapses")
	}
	if got.Addr != 100 || got.Size != 4096 {
		t.Fatalf("unexpected dequeued entry: %+v", got)
	}
	if !tank.IsEmpty() {
		t.Fatalf("tank should be empty after dequeue")
	}
}

func TestCleanCacheFreesImmediately(t *testing.T) {
	mc := &fakeMetaCache{clean: true}
	fs, err := CreateContext(mc, 1, 4096, 0, AllocMetadata, 900, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fs != nil {
		t.Fatalf("expected immediate free (nil FreedSpace) when cache is clean")
	}
}

func TestRawDataFreeOnlyWhitelistedTypesCreateDependency(t *testing.T) {
	mc := &fakeMetaCache{
		clean: false,
		entries: []collab.Entry{
			{Addr: 5, Type: collab.EntryTypeProxy, Ring: 0, Dirty: true},
			{Addr: 6, Type: collab.EntryTypeBTree2Leaf, Ring: 0, Dirty: true},
		},
	}
	fs, err := CreateContext(mc, 1, 4096, 0, AllocRawData, 900, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fs == nil {
		t.Fatalf("expected a deferred free for the whitelisted btree2 leaf entry")
	}
	if len(mc.deps) != 1 || mc.deps[0].Addr != 6 {
		t.Fatalf("expected only the whitelisted entry to become a dependency, got %+v", mc.deps)
	}
}
