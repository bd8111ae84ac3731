// Package eot implements the process-wide end-of-tick scheduler: a
// deadline-ordered queue that multiplexes tick processing across every
// open VFD SWMR file in one process (§4.5), plus the re-entrance guard
// that ensures nested library calls don't recursively fire ticks (§5).
package eot

import (
	"sync"
	"time"
)

// Entry is one file's registration with the scheduler. Fire is invoked
// when the entry reaches the head of the queue with its deadline passed;
// it must perform the file's end-of-tick work and return the next
// deadline to schedule the entry at.
type Entry struct {
	IsWriter bool
	Deadline time.Time
	Fire     func(now time.Time) (nextDeadline time.Time, err error)

	prev, next *Entry
	inQueue    bool
}

// Scheduler is the process-wide doubly-linked list of entries ordered
// ascending by deadline (§4.5). The protocol itself is cooperative and
// single-threaded per process, but the scheduler still guards its state
// with a mutex since nothing stops a Go program from calling into it from
// multiple goroutines.
type Scheduler struct {
	mu             sync.Mutex
	head, tail     *Entry
	isWriterAtHead bool
}

var (
	globalOnce sync.Once
	global     *Scheduler
)

// Get returns the process-wide scheduler singleton, creating it on first
// use (mirrors the teacher's GetGlobalReaderPool sync.Once pattern).
func Get() *Scheduler {
	globalOnce.Do(func() {
		global = &Scheduler{}
	})
	return global
}

// Insert splices entry into the queue after the last entry whose deadline
// is <= entry.Deadline (a tail-first walk). Among entries sharing a
// deadline exactly, this places the newest insertion after all existing
// equal-deadline entries — the tie-break the original source preserves
// and which this design note carries over unchanged (§9 Open Questions).
func (s *Scheduler) Insert(entry *Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertLocked(entry)
}

func (s *Scheduler) insertLocked(entry *Entry) {
	entry.inQueue = true
	if s.tail == nil {
		s.head, s.tail = entry, entry
		entry.prev, entry.next = nil, nil
		s.syncHead()
		return
	}

	prec := s.tail
	for prec != nil && prec.Deadline.After(entry.Deadline) {
		prec = prec.prev
	}

	if prec == nil {
		entry.prev = nil
		entry.next = s.head
		s.head.prev = entry
		s.head = entry
	} else {
		entry.prev = prec
		entry.next = prec.next
		if prec.next != nil {
			prec.next.prev = entry
		} else {
			s.tail = entry
		}
		prec.next = entry
	}
	s.syncHead()
}

// Remove unlinks entry from the queue. It is a no-op if entry is not
// currently queued.
func (s *Scheduler) Remove(entry *Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(entry)
}

func (s *Scheduler) removeLocked(entry *Entry) {
	if !entry.inQueue {
		return
	}
	if entry.prev != nil {
		entry.prev.next = entry.next
	} else {
		s.head = entry.next
	}
	if entry.next != nil {
		entry.next.prev = entry.prev
	} else {
		s.tail = entry.prev
	}
	entry.prev, entry.next = nil, nil
	entry.inQueue = false
	s.syncHead()
}

// syncHead keeps the process-wide is-writer-at-head flag in step with the
// current head entry, per §4.5; the head deadline is not cached separately
// but read from the head entry itself. Must be called with s.mu held.
func (s *Scheduler) syncHead() {
	if s.head == nil {
		s.isWriterAtHead = false
		return
	}
	s.isWriterAtHead = s.head.IsWriter
}

// Head returns the entry at the head of the queue, or nil if empty.
func (s *Scheduler) Head() *Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.head
}

// IsWriterAtHead reports whether the entry currently due soonest belongs
// to a writer.
func (s *Scheduler) IsWriterAtHead() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isWriterAtHead
}

// ProcessDue fires every entry whose deadline has passed as of now, in
// deadline order, re-inserting each with the deadline its Fire callback
// reports. It stops as soon as the head's deadline is in the future.
func (s *Scheduler) ProcessDue(now time.Time) error {
	for {
		s.mu.Lock()
		head := s.head
		if head == nil || head.Deadline.After(now) {
			s.mu.Unlock()
			return nil
		}
		s.removeLocked(head)
		s.mu.Unlock()

		next, err := head.Fire(now)
		if err != nil {
			return err
		}

		head.Deadline = next
		s.mu.Lock()
		s.insertLocked(head)
		s.mu.Unlock()
	}
}

// Len reports the number of entries currently queued, for diagnostics.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for e := s.head; e != nil; e = e.next {
		n++
	}
	return n
}
