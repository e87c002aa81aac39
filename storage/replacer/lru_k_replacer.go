// Package replacer implements the LRU-K cache replacement policy used
// by the buffer pool to pick a victim frame when it needs to evict.
package replacer

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/lattice-db/pagecore/storage/page"
)

// ErrNotEvictable is the value Remove panics with when asked to drop a
// frame that is currently marked non-evictable; removing a pinned frame
// out from under the pool is a programmer error, not a recoverable
// condition, so it is never returned.
var ErrNotEvictable = fmt.Errorf("replacer: frame is not evictable")

type frameMeta struct {
	accessCount uint64
	evictable   bool
}

// LRUK tracks access history for up to numFrames frames and chooses a
// victim among the evictable ones: frames with fewer than k recorded
// accesses (the "history" set) are preferred over frames with k or more
// (the "cache" set), and within either set the least-recently-accessed
// evictable frame wins.
type LRUK struct {
	mu          sync.Mutex
	numFrames   int
	k           int
	currentSize int

	meta map[page.FrameID]*frameMeta

	history    *list.List // MRU at front, LRU at back; frame ids with < k accesses
	historyPos map[page.FrameID]*list.Element

	cache    *list.List // MRU at front, LRU at back; frame ids with >= k accesses
	cachePos map[page.FrameID]*list.Element
}

// New constructs a replacer for a pool of numFrames frames, preferring
// victims with fewer than k historical accesses.
func New(numFrames, k int) *LRUK {
	return &LRUK{
		numFrames:  numFrames,
		k:          k,
		meta:       make(map[page.FrameID]*frameMeta, numFrames),
		history:    list.New(),
		historyPos: make(map[page.FrameID]*list.Element, numFrames),
		cache:      list.New(),
		cachePos:   make(map[page.FrameID]*list.Element, numFrames),
	}
}

func (r *LRUK) ensure(f page.FrameID) *frameMeta {
	m, ok := r.meta[f]
	if !ok {
		m = &frameMeta{}
		r.meta[f] = m
	}
	return m
}

// RecordAccess registers a new access to frame f, moving it between the
// history and cache lists as its access count crosses k.
func (r *LRUK) RecordAccess(f page.FrameID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := r.ensure(f)
	m.accessCount++

	switch {
	case m.accessCount == uint64(r.k):
		if e, ok := r.historyPos[f]; ok {
			r.history.Remove(e)
			delete(r.historyPos, f)
		}
		r.cachePos[f] = r.cache.PushFront(f)
	case m.accessCount > uint64(r.k):
		if e, ok := r.cachePos[f]; ok {
			r.cache.Remove(e)
		}
		r.cachePos[f] = r.cache.PushFront(f)
	default:
		if e, ok := r.historyPos[f]; ok {
			r.history.Remove(e)
		}
		r.historyPos[f] = r.history.PushFront(f)
	}
}

// SetEvictable toggles whether frame f may be chosen by Evict. The
// replacer's reported Size changes by exactly one only when the flag
// actually flips, and only for a frame that has at least one recorded
// access.
func (r *LRUK) SetEvictable(f page.FrameID, evictable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.meta[f]
	if !ok || m.accessCount == 0 {
		return
	}
	if m.evictable == evictable {
		return
	}
	m.evictable = evictable
	if evictable {
		r.currentSize++
	} else {
		r.currentSize--
	}
}

// Evict picks a victim: the least-recently-used evictable frame in the
// history list if one exists, otherwise the least-recently-used
// evictable frame in the cache list. It reports false when no frame is
// currently evictable.
func (r *LRUK) Evict() (page.FrameID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.currentSize == 0 {
		return 0, false
	}

	if f, ok := r.evictFromBack(r.history, r.historyPos); ok {
		return f, true
	}
	return r.evictFromBack(r.cache, r.cachePos)
}

func (r *LRUK) evictFromBack(l *list.List, pos map[page.FrameID]*list.Element) (page.FrameID, bool) {
	for e := l.Back(); e != nil; e = e.Prev() {
		f := e.Value.(page.FrameID)
		m := r.meta[f]
		if m.evictable {
			l.Remove(e)
			delete(pos, f)
			delete(r.meta, f)
			r.currentSize--
			return f, true
		}
	}
	return 0, false
}

// Remove unconditionally drops frame f's bookkeeping. It is a no-op for
// frame ids the replacer has never seen, and panics if f is tracked but
// not currently evictable — the caller is expected to unpin first.
func (r *LRUK) Remove(f page.FrameID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.meta[f]
	if !ok {
		return
	}
	if !m.evictable {
		panic(ErrNotEvictable)
	}

	if e, ok := r.historyPos[f]; ok {
		r.history.Remove(e)
		delete(r.historyPos, f)
	}
	if e, ok := r.cachePos[f]; ok {
		r.cache.Remove(e)
		delete(r.cachePos, f)
	}
	delete(r.meta, f)
	r.currentSize--
}

// Size reports the number of frames currently eligible for eviction.
func (r *LRUK) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentSize
}
