package shadow

import (
	"time"

	"github.com/hdfgroup/vfdswmr/collab"
	"github.com/hdfgroup/vfdswmr/eot"
)

// ReaderConfig collects the options a Reader needs at open time (§6).
type ReaderConfig struct {
	TickLen time.Duration
}

// ReaderDeps bundles the collaborators the reader end-of-tick engine
// consumes but does not own.
type ReaderDeps struct {
	VFD       collab.ReaderVFD
	PageBuffer collab.PageBuffer
	MetaCache collab.MetaCache
}

// Reader is the reader side of the VFD SWMR protocol: it polls the
// shadow file for a tick advance and reconciles its view of the
// primary file's pages against the newly published index (§4.4).
type Reader struct {
	cfg  ReaderConfig
	deps ReaderDeps

	tick  uint64
	index []IndexEntry

	sched *eot.Scheduler
	entry *eot.Entry
}

// OpenReader registers a reader with the process-wide EOT scheduler. The
// reader starts with no tick and an empty index; its first end-of-tick
// adopts whatever tick the writer has already published.
func OpenReader(cfg ReaderConfig, deps ReaderDeps, sched *eot.Scheduler) *Reader {
	r := &Reader{
		cfg:  cfg,
		deps: deps,
	}
	r.entry = &eot.Entry{
		IsWriter: false,
		Deadline: time.Now().Add(cfg.TickLen),
		Fire: func(now time.Time) (time.Time, error) {
			if err := r.EndOfTick(); err != nil {
				return time.Time{}, err
			}
			return time.Now().Add(r.cfg.TickLen), nil
		},
	}
	sched.Insert(r.entry)
	r.sched = sched
	return r
}

// Tick returns the last tick this reader has adopted.
func (r *Reader) Tick() uint64 {
	return r.tick
}

// Close removes the reader from the EOT scheduler.
func (r *Reader) Close() {
	r.sched.Remove(r.entry)
}

// EndOfTick executes the reader's end-of-tick contract (§4.4): poll for a
// tick advance; if none, do nothing. If the tick has advanced, load the
// new index, diff it against the previous one in two passes, and adopt
// the new tick. A corruption error from the VFD leaves the reader's
// current index and tick untouched, so the next poll can retry.
func (r *Reader) EndOfTick() error {
	newTick, _, err := r.deps.VFD.GetTickAndIndex(false)
	if err != nil {
		return err
	}
	if newTick == r.tick {
		return nil
	}

	_, records, err := r.deps.VFD.GetTickAndIndex(true)
	if err != nil {
		return err
	}
	newIndex := make([]IndexEntry, len(records))
	for i, rec := range records {
		newIndex[i] = IndexEntry{
			HDF5PageOffset:   rec.HDF5PageOffset,
			MDFilePageOffset: rec.MDFilePageOffset,
			Length:           rec.Length,
		}
	}

	if err := r.diff(r.index, newIndex, newTick); err != nil {
		return err
	}

	r.index = newIndex
	r.tick = newTick
	r.deps.PageBuffer.SetTick(newTick)
	return nil
}

// diff walks the old and new index snapshots, both sorted ascending by
// HDF5PageOffset, in two passes (§4.4 step 4):
//
//   - pass 0 removes every page present in old but now changed or gone
//     from the page buffer, so a stale copy is never served;
//   - pass 1 evicts or refreshes every metadata-cache entry backed by
//     those same changed or removed pages, so the cache never holds a
//     superseded view.
//
// Pages unchanged between old and new, and pages present only in new,
// are left untouched in both passes.
// newTick is the tick being adopted by this end-of-tick call, not r.tick
// (still the old tick at this point) — §4.4 step 4 and the tick-8 worked
// example both call for the new tick to be passed to
// EvictOrRefreshAllEntriesInPage.
func (r *Reader) diff(oldIndex, newIndex []IndexEntry, newTick uint64) error {
	changed := diffChangedPages(oldIndex, newIndex)

	for _, page := range changed {
		r.deps.PageBuffer.RemoveEntry(page)
	}
	for _, page := range changed {
		if err := r.deps.MetaCache.EvictOrRefreshAllEntriesInPage(page, newTick); err != nil {
			return err
		}
	}
	return nil
}

// diffChangedPages returns, in ascending order, every HDF5 page offset
// that was updated in place (same page, different shadow location or
// length) or removed from the index entirely between oldIndex and
// newIndex (§4.4 step 4). Pages that are new in newIndex only are left
// untouched — no action is the correct response to a freshly added
// page, since nothing cached yet refers to it. Both inputs are assumed
// sorted ascending by HDF5PageOffset, so this is a single two-pointer
// merge walk.
func diffChangedPages(oldIndex, newIndex []IndexEntry) []uint32 {
	var changed []uint32
	i, j := 0, 0
	for i < len(oldIndex) && j < len(newIndex) {
		o, n := oldIndex[i], newIndex[j]
		switch {
		case o.HDF5PageOffset < n.HDF5PageOffset:
			// present in old only: removed.
			changed = append(changed, o.HDF5PageOffset)
			i++
		case o.HDF5PageOffset > n.HDF5PageOffset:
			// present in new only: freshly added, no action.
			j++
		default:
			if o.MDFilePageOffset != n.MDFilePageOffset || o.Length != n.Length {
				changed = append(changed, n.HDF5PageOffset)
			}
			i++
			j++
		}
	}
	for ; i < len(oldIndex); i++ {
		changed = append(changed, oldIndex[i].HDF5PageOffset)
	}
	return changed
}
