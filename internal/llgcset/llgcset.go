// Package llgcset implements a garbage-collected, reference-counted
// unique set. Unlike llcache, entries are never silently evicted:
// once reference counts are honored, the only way an entry disappears
// is through an explicit GC cycle that reclaims entries whose count
// has reached zero.
//
// Reclamation is cooperative and lossy by design: dereferencing an
// entry to zero enqueues its index onto a fixed-capacity deadlist (an
// llcache instance). If the deadlist is full, enqueuing an index may
// evict another index that had already reached zero; that evicted
// index is reclaimed immediately rather than lost, exactly mirroring
// the reference LLCache-deadlist design this package is grounded on.
package llgcset

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/sylvandb/laceset/internal/fingerprint"
	"github.com/sylvandb/laceset/internal/llcache"
	"github.com/sylvandb/laceset/internal/telemetry"
)

const bucketsPerLine = 16

const (
	stateEmpty     uint32 = 0
	stateLock      uint32 = 0x80000000
	stateTombstone uint32 = 0x7fffffff
	stateDeleting  uint32 = 0x0000ffff

	rcSaturated uint32 = 0xfffe
	rcMask      uint32 = 0x0000ffff
	fpShift            = 16
	fpMask      uint32 = 0x00007fff
)

// ErrTableFull is returned by Lookup when the home line (and its
// rehash attempts) contains no empty, tombstoned, or matching bucket.
// The caller is expected to run GC and retry; GetOrCreate does this
// automatically, once.
var ErrTableFull = errors.New("llgcset: table full")

// DeleteFunc is invoked once per entry reclaimed by GC, after its
// reference count has reached zero and before its slot is reused.
type DeleteFunc[K any] func(key K)

type bucket[K any] struct {
	state atomic.Uint32
	key   K
}

// Set is a fixed-capacity, reference-counted unique set over keys of
// type K. Bucket 0 of the table is never used, matching the reference
// implementation's reserved-sentinel convention.
type Set[K any] struct {
	buckets   []bucket[K]
	size      uint32
	lines     uint32
	threshold int // rehash rounds before giving up
	encode    func(K) []byte
	equal     func(a, b K) bool
	onDelete  DeleteFunc[K]
	deadlist  *llcache.Cache[uint32, struct{}]
	clearing  atomic.Int32
}

// New creates a set able to hold at least capacity distinct entries,
// rounded up to a power of two (and at least one cache line).
// Bucket 0 of the table is permanently reserved (never used), so the
// requested capacity is padded by one bucket before rounding to
// guarantee capacity itself is always reachable. deadlistCapacity
// bounds the lossy reclamation queue; a value close to capacity keeps
// GC effective without costing much memory.
func New[K any](capacity, deadlistCapacity int, encode func(K) []byte, equal func(a, b K) bool, onDelete DeleteFunc[K]) *Set[K] {
	size := nextPow2(uint32(capacity) + 1)
	if size < bucketsPerLine {
		size = bucketsPerLine
	}
	s := &Set[K]{
		buckets:   make([]bucket[K], size),
		size:      size,
		lines:     size / bucketsPerLine,
		threshold: 4,
		encode:    encode,
		equal:     equal,
		onDelete:  onDelete,
	}
	s.deadlist = llcache.New[uint32, struct{}](deadlistCapacity, encodeIndex, func(a, b uint32) bool { return a == b }, func(index uint32, _ struct{}) {
		s.reclaim(index)
	})
	return s
}

func encodeIndex(i uint32) []byte {
	return []byte{byte(i), byte(i >> 8), byte(i >> 16), byte(i >> 24)}
}

func nextPow2(v uint32) uint32 {
	if v == 0 {
		return 1
	}
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v++
	return v
}

func (s *Set[K]) tagOf(key K) uint32 {
	fp := fingerprint.Hash32(s.encode(key), 0)
	tag := fp & fpMask
	if tag == 0 {
		tag = 1
	}
	return tag
}

func (s *Set[K]) homeLine(key K, round int) uint32 {
	fp := fingerprint.Hash32(s.encode(key), uint32(round))
	line := (fp >> 15) % s.lines
	if line == 0 && round == 0 {
		line = 1 % s.lines // bucket 0 of the table is reserved
	}
	return line * bucketsPerLine
}

func packed(tag, rc uint32) uint32 {
	return tag<<fpShift | rc
}

func rcOf(state uint32) uint32 { return state & rcMask }
func tagOf(state uint32) uint32 { return (state >> fpShift) & fpMask }

// Lookup finds or creates the unique entry for key, returning its
// table index. A freshly created entry starts with a reference count
// of one, held on behalf of the caller; an existing entry's reference
// count is incremented before it is returned. If the home line (after
// threshold rehash rounds) has no room, Lookup returns ErrTableFull and
// the caller should GC and retry.
func (s *Set[K]) Lookup(key K) (index uint32, created bool, err error) {
	tag := s.tagOf(key)

	for round := 0; round < s.threshold; round++ {
		start := s.homeLine(key, round)
	rescan:
		var firstTombstone uint32
		haveTombstone := false

		for i := uint32(0); i < bucketsPerLine; i++ {
			idx := start + i
			if idx == 0 {
				continue
			}
			b := &s.buckets[idx]
			state := b.state.Load()

			switch {
			case state == stateEmpty:
				claimIdx := idx
				if haveTombstone {
					claimIdx = firstTombstone
				}
				cb := &s.buckets[claimIdx]
				cur := cb.state.Load()
				if cur != stateEmpty && cur != stateTombstone {
					// Another inserter took the slot first (possibly
					// for this same key): rescan the line.
					goto rescan
				}
				if cb.state.CompareAndSwap(cur, stateLock) {
					cb.key = key
					cb.state.Store(packed(tag, 1))
					return claimIdx, true, nil
				}
				goto rescan

			case state == stateTombstone:
				if !haveTombstone {
					firstTombstone = idx
					haveTombstone = true
				}
				continue

			case state&stateLock != 0:
				// An insert in progress may be publishing this same
				// key: rescan the line until it is released.
				goto rescan

			case tagOf(state) == tag && s.equal(b.key, key):
				if s.tryRef(idx) {
					return idx, false, nil
				}
				// The slot was locked or reclaimed under us: retry
				// the probe of this line.
				goto rescan
			}
		}

		if haveTombstone {
			cb := &s.buckets[firstTombstone]
			cur := cb.state.Load()
			if cur == stateTombstone && cb.state.CompareAndSwap(cur, stateLock) {
				cb.key = key
				cb.state.Store(packed(tag, 1))
				return firstTombstone, true, nil
			}
			goto rescan
		}
	}

	return 0, false, ErrTableFull
}

// GetOrCreate wraps Lookup with the client-triggered GC-and-retry
// contract: on ErrTableFull it runs one GC cycle and retries exactly
// once. Capacity exhaustion that survives a GC cycle is a contract
// violation the client cannot recover from; per the reclaimer's fatal
// escalation, GetOrCreate aborts the process with diagnostics rather
// than returning an error the caller could silently ignore.
func (s *Set[K]) GetOrCreate(key K) (index uint32, created bool) {
	index, created, err := s.Lookup(key)
	if err == nil {
		return index, created
	}
	if !errors.Is(err, ErrTableFull) {
		panic(fmt.Sprintf("llgcset: unexpected Lookup error: %v", err))
	}
	s.GC()
	index, created, err = s.Lookup(key)
	if err != nil {
		panic(fmt.Sprintf("llgcset: table full after GC-and-retry (capacity %d): %v", s.size, err))
	}
	return index, created
}

// tryRef increments the reference count at index unless it is
// saturated, deleting, or a tombstone; returns false if the slot
// cannot be ref'd right now (the caller should re-probe).
func (s *Set[K]) tryRef(index uint32) bool {
	b := &s.buckets[index]
	for {
		state := b.state.Load()
		if state&stateLock != 0 || state == stateTombstone || state == stateDeleting {
			return false
		}
		rc := rcOf(state)
		if rc >= rcSaturated {
			return true // saturated: treat as a permanent pin, success
		}
		if b.state.CompareAndSwap(state, packed(tagOf(state), rc+1)) {
			return true
		}
	}
}

// Ref increments the reference count of the entry at index.
func (s *Set[K]) Ref(index uint32) {
	s.tryRef(index)
}

// Deref decrements the reference count of the entry at index. If the
// count reaches zero, the index is enqueued on the deadlist for later
// reclamation by GC; if enqueuing evicts another zero-count index from
// the deadlist, that index is reclaimed immediately.
func (s *Set[K]) Deref(index uint32) {
	b := &s.buckets[index]
	for {
		state := b.state.Load()
		if state&stateLock != 0 || state == stateTombstone || state == stateDeleting {
			return
		}
		rc := rcOf(state)
		if rc >= rcSaturated {
			return // saturated entries never return to zero
		}
		if rc == 0 {
			panic(fmt.Sprintf("llgcset: double deref of index %d (rc already zero)", index))
		}
		newState := packed(tagOf(state), rc-1)
		if !b.state.CompareAndSwap(state, newState) {
			continue
		}
		if rc-1 == 0 {
			if s.clearing.Load() != 0 {
				s.reclaim(index)
				return
			}
			evictedIndex, _, overwrote := s.deadlist.Put(index, struct{}{})
			if overwrote {
				s.reclaim(evictedIndex)
			}
		}
		return
	}
}

// reclaim transitions a zero-count entry through DELETING to
// TOMBSTONE, invoking onDelete in between.
func (s *Set[K]) reclaim(index uint32) {
	b := &s.buckets[index]
	state := b.state.Load()
	if rcOf(state) != 0 || state&stateLock != 0 {
		return // already reused or ref'd again before GC got to it
	}
	if !b.state.CompareAndSwap(state, stateDeleting) {
		return
	}
	if s.onDelete != nil {
		s.onDelete(b.key)
	}
	var zero K
	b.key = zero
	b.state.Store(stateTombstone)
}

// GC runs one cooperative collection cycle: every index still queued
// on the deadlist with a reference count of zero is reclaimed. Callers
// must ensure no concurrent Lookup/Ref/Deref races with GC in a way
// that would violate the caller's own memory model; this mirrors the
// reference implementation's "stop the world for GC" contract.
func (s *Set[K]) GC() {
	_, span := telemetry.StartSpan(context.Background(), gcTracer, "llgcset.GC")
	defer span.End()

	s.clearing.Add(1)
	s.deadlist.Clear()
	s.clearing.Add(-1)
}

var gcTracer = telemetry.Tracer("llgcset")

// Clear unconditionally resets every bucket to empty, invoking
// onDelete for any live entry regardless of its reference count. Safe
// to call while other goroutines concurrently Lookup/Ref/Deref, in the
// same lock-stepped per-bucket fashion as llcache's Clear; unlike GC,
// it does not require the entry's rc to have already reached zero.
func (s *Set[K]) Clear() {
	for i := uint32(1); i < s.size; i++ {
		b := &s.buckets[i]
		for {
			state := b.state.Load()
			if state == stateEmpty {
				break
			}
			if state&stateLock != 0 || state == stateDeleting {
				continue
			}
			if b.state.CompareAndSwap(state, stateLock) {
				if state != stateTombstone && s.onDelete != nil {
					s.onDelete(b.key)
				}
				var zero K
				b.key = zero
				b.state.Store(stateEmpty)
				break
			}
		}
	}
	s.deadlist.ClearUnsafe()
}

// Free releases the set's backing storage, mirroring llcache.Free. The
// set must not be used afterwards.
func (s *Set[K]) Free() {
	s.buckets = nil
	s.size = 0
	s.lines = 0
	s.deadlist.Free()
}

// Size returns the number of buckets (the rounded-up capacity).
func (s *Set[K]) Size() uint32 { return s.size }

// Key returns the key stored at index. The caller must hold a
// reference (or otherwise know the slot is alive) before calling this.
func (s *Set[K]) Key(index uint32) K {
	return s.buckets[index].key
}
