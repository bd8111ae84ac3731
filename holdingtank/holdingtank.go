// Package holdingtank implements the freed-space holding tank (§4.6): a
// mechanism for deferring frees of primary-file space that is still
// referenced by dirty metadata-cache entries, until those entries have
// flushed. Ported from the original source's H5MF__freedspace_* family
// (a singly-linked FIFO keyed by a monotonic timestamp), not on the hot
// path but required for correctness whenever a free races a dirty cache.
package holdingtank

import (
	"time"

	"github.com/hdfgroup/vfdswmr/collab"
)

// Whitelist encodes which metadata-cache entry types may legitimately
// reference freed raw-data space, so the eligibility check is a single
// map lookup instead of scattered conditionals (§9 design note).
var Whitelist = map[collab.EntryType]bool{
	collab.EntryTypeBTree2Header:      true,
	collab.EntryTypeBTree2Internal:    true,
	collab.EntryTypeBTree2Leaf:        true,
	collab.EntryTypeEArrayHeader:      true,
	collab.EntryTypeEArrayDataBlock:   true,
	collab.EntryTypeFArrayHeader:      true,
	collab.EntryTypeFArrayDataBlock:   true,
	collab.EntryTypeObjectHeader:      true,
	collab.EntryTypeObjectHeaderChunk: true,
}

// nonFlushDependencyEligible lists entry types that should never become
// flush-dependency children even though they may be dirty and in-ring,
// mirroring H5MF__freedspace_create_cb's exclusion of cache-internal
// entry types for non-raw-data frees.
var nonFlushDependencyEligible = map[collab.EntryType]bool{
	collab.EntryTypeFreedSpace:  true,
	collab.EntryTypeProxy:       true,
	collab.EntryTypeEpochMarker: true,
	collab.EntryTypePrefetched:  true,
}

// AllocType distinguishes a free of raw dataset space from a free of
// other (metadata) space, since the eligibility rule differs (§4.6).
type AllocType int

const (
	AllocMetadata AllocType = iota
	AllocRawData
)

// FreedSpace is a pending deferred free, parked on the holding tank while
// it waits for its flush-dependency children to clear.
type FreedSpace struct {
	Addr      uint32
	Size      uint32
	Ring      int
	AllocType AllocType
	Timestamp time.Time

	// ProxyAddr is a scratch address (collab.PrimaryFS.AllocTmp) standing
	// in for the freed extent in the cache's flush-dependency graph, since
	// the extent itself has no resident cache entry of its own.
	ProxyAddr uint32

	next *FreedSpace
}

// Tank is the FIFO holding tank: append at the tail, dequeue from the
// head once an entry is older than the time limit (§4.6).
type Tank struct {
	head, tail *FreedSpace
}

// New creates an empty holding tank.
func New() *Tank {
	return &Tank{}
}

// Push appends fs to the tail of the tank (H5MF__freedspace_push).
func (t *Tank) Push(fs *FreedSpace) {
	fs.next = nil
	if t.head == nil {
		t.head, t.tail = fs, fs
		return
	}
	t.tail.next = fs
	t.tail = fs
}

// IsEmpty reports whether the tank currently holds nothing
// (H5MF__freedspace_queue_is_empty).
func (t *Tank) IsEmpty() bool {
	return t.head == nil
}

// Len reports the number of entries currently parked, for diagnostics.
func (t *Tank) Len() int {
	n := 0
	for fs := t.head; fs != nil; fs = fs.next {
		n++
	}
	return n
}

// DequeueTimeLimit dequeues and returns the oldest entry if it has been
// parked for longer than limit, otherwise returns nil
// (H5MF__freedspace_dequeue_time_limit). The caller performs the actual
// free after a successful dequeue.
func (t *Tank) DequeueTimeLimit(now time.Time, limit time.Duration) *FreedSpace {
	if t.head == nil {
		return nil
	}
	if now.Sub(t.head.Timestamp) <= limit {
		return nil
	}
	fs := t.head
	t.head = fs.next
	if t.head == nil {
		t.tail = nil
	}
	fs.next = nil
	return fs
}

// CreateContext builds a pending free: given the cache state, decides
// whether the free can proceed immediately (cache clean) or must be
// deferred via a FreedSpace flush-dependency parent, per §4.6 /
// H5MF__freedspace_create. proxyAddr identifies the FreedSpace in the
// cache's flush-dependency graph; callers obtain it from
// collab.PrimaryFS.AllocTmp, since the freed extent addr itself names no
// resident cache entry to hang a dependency off of.
func CreateContext(mc collab.MetaCache, addr uint32, size uint32, ring int, allocType AllocType, proxyAddr uint32, now time.Time) (*FreedSpace, error) {
	clean, err := mc.IsClean(ring)
	if err != nil {
		return nil, err
	}
	if clean {
		return nil, nil
	}

	var fs *FreedSpace
	err = mc.Iterate(func(e collab.Entry) error {
		if e.Addr == addr || !e.Dirty || e.Ring > ring {
			return nil
		}
		if !eligible(e, allocType) {
			return nil
		}
		if fs == nil {
			fs = &FreedSpace{Addr: addr, Size: size, Ring: ring, AllocType: allocType, ProxyAddr: proxyAddr, Timestamp: now}
		}
		return mc.CreateFlushDependency(collab.Entry{Addr: proxyAddr, Ring: ring, Type: collab.EntryTypeFreedSpace}, e)
	})
	if err != nil {
		return nil, err
	}
	return fs, nil
}

// eligible mirrors H5MF__freedspace_create_cb's dual rule: for raw-data
// frees, only the whitelisted index/object-header entry types can create
// a dependency; for metadata frees, every dirty in-ring entry is eligible
// except the cache-internal types that never participate in flush
// dependencies.
func eligible(e collab.Entry, allocType AllocType) bool {
	if allocType == AllocRawData {
		return Whitelist[e.Type]
	}
	return !nonFlushDependencyEligible[e.Type]
}
