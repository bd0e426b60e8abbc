package blobstore

import (
	"runtime"
	"sync"
	"sync/atomic"
	"weak"
)

type handleState struct {
	headers map[string]string
	metrics BlobMetrics
}

// blobHandle caches the last known headers and metrics of one identifier.
// Writers hold the identifier's lock; readers may look at a fresh handle
// without it.
type blobHandle struct {
	id    BlobID
	state atomic.Pointer[handleState]
	stale atomic.Bool
}

func newBlobHandle(id BlobID) *blobHandle {
	h := &blobHandle{id: id}
	h.stale.Store(true)
	return h
}

func (h *blobHandle) refresh(headers map[string]string, metrics BlobMetrics) {
	h.state.Store(&handleState{headers: cloneHeaders(headers), metrics: metrics})
	h.stale.Store(false)
}

func (h *blobHandle) markStale() {
	h.stale.Store(true)
}

// snapshot returns the cached state, or false when it must be reloaded.
func (h *blobHandle) snapshot() (*handleState, bool) {
	if h.stale.Load() {
		return nil, false
	}
	s := h.state.Load()
	return s, s != nil
}

type cacheEntry struct {
	id     BlobID
	handle weak.Pointer[blobHandle]
}

// liveBlobs maps identifiers to handles without keeping them alive. Once no
// caller references a handle it is collected and its entry dropped; the next
// lookup builds a fresh, stale handle.
type liveBlobs struct {
	mu      sync.Mutex
	entries map[BlobID]weak.Pointer[blobHandle]
}

func newLiveBlobs() *liveBlobs {
	return &liveBlobs{entries: make(map[BlobID]weak.Pointer[blobHandle])}
}

func (c *liveBlobs) handleFor(id BlobID) *blobHandle {
	c.mu.Lock()
	defer c.mu.Unlock()

	if wp, ok := c.entries[id]; ok {
		if h := wp.Value(); h != nil {
			return h
		}
	}

	h := newBlobHandle(id)
	wp := weak.Make(h)
	c.entries[id] = wp
	runtime.AddCleanup(h, c.drop, cacheEntry{id: id, handle: wp})
	return h
}

func (c *liveBlobs) drop(e cacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.entries[e.id]; ok && cur == e.handle {
		delete(c.entries, e.id)
	}
}

// invalidate evicts id. A handle still held by a caller is marked stale so
// it reloads on next use.
func (c *liveBlobs) invalidate(id BlobID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if wp, ok := c.entries[id]; ok {
		if h := wp.Value(); h != nil {
			h.markStale()
		}
		delete(c.entries, id)
	}
}

func (c *liveBlobs) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// keyedMutex serializes work per identifier. Entries are reference counted
// and removed once no goroutine holds or waits on them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[BlobID]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[BlobID]*refMutex)}
}

// lock blocks until id is held and returns the matching unlock func.
func (k *keyedMutex) lock(id BlobID) (unlock func()) {
	k.mu.Lock()
	m, ok := k.locks[id]
	if !ok {
		m = &refMutex{}
		k.locks[id] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
