// Package manifestcache implements the materialized-manifest cache of
// spec.md §4.4: a byte-budgeted LRU over spillover-manifest shards with
// pinned-reference-aware eviction. Entries evicted to make room for a
// pending reservation are held on a rollback list until that reservation
// either succeeds (the rollback entries are then finalized/discarded) or
// times out (they are restored).
package manifestcache

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/cloudlog-io/archiver/internal/manifest"
	"github.com/cloudlog-io/archiver/internal/ntp"
)

// ErrUnknownReservation is returned by Put when the reservation has
// already been consumed or never existed (e.g. it timed out).
var ErrUnknownReservation = errors.New("manifestcache: unknown or expired reservation")

type location int

const (
	locLRU location = iota
	locRollback
)

type cacheEntry struct {
	startOffset ntp.Offset
	manifest    *manifest.Manifest
	size        int64
	refcount    int
	loc         location
	elem        *list.Element // valid only when loc == locLRU
	obsolete    bool          // Remove() was called while pinned
}

// Reservation is the budget token returned by Prepare and consumed by Put.
type Reservation struct {
	id    uint64
	bytes int64
}

// Handle pins a materialized manifest in the cache. Release must be
// called exactly once.
type Handle struct {
	cache  *Cache
	offset ntp.Offset
}

// Manifest returns the pinned manifest.
func (h *Handle) Manifest() *manifest.Manifest {
	h.cache.mu.Lock()
	defer h.cache.mu.Unlock()
	if e, ok := h.cache.entries[h.offset]; ok {
		return e.manifest
	}
	return nil
}

// Release drops the pin. If the entry was marked obsolete by a prior
// Remove call and this was its last reference, it is deleted now.
func (h *Handle) Release() {
	c := h.cache
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[h.offset]
	if !ok {
		return
	}
	e.refcount--
	if e.refcount < 0 {
		e.refcount = 0
	}
	if e.refcount == 0 && e.obsolete {
		c.deleteEntryLocked(e)
	}
	c.cond.Broadcast()
}

// Config tunes Cache's eviction behavior.
type Config struct {
	// WakeWaitersBeforeShrinkEvict controls the order SetCapacity uses
	// when a shrink requires evicting entries to get within budget. With
	// it false (the default), blocked Prepare callers are only woken
	// once eviction has finished, so a waiter that wakes always finds
	// the freed bytes already available. With it true, waiters are woken
	// before eviction runs, letting them race a Prepare retry against
	// the eviction loop itself — entries may still be pinned when a
	// waiter wakes, so this can produce spurious wakeups.
	WakeWaitersBeforeShrinkEvict bool
}

// Cache is the LRU over materialized manifest shards. Not safe to copy.
type Cache struct {
	mu   sync.Mutex
	cond *sync.Cond

	capacity  int64
	liveBytes int64
	cfg       Config

	lru      *list.List
	entries  map[ntp.Offset]*cacheEntry
	pending  map[uint64]int64
	nextResv uint64
}

// New returns an empty cache budgeted at capacity bytes.
func New(capacity int64, cfg Config) *Cache {
	c := &Cache{
		capacity: capacity,
		cfg:      cfg,
		lru:      list.New(),
		entries:  make(map[ntp.Offset]*cacheEntry),
		pending:  make(map[uint64]int64),
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// SizeBytes returns the sum of live-entry sizes (rollback-list entries are
// not counted, per spec.md §4.4 "callers observing size_bytes() include
// only live entries").
func (c *Cache) SizeBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveBytes
}

// String renders the cache's occupancy for debug logging, e.g.
// "manifestcache{120 MB / 1.0 GB}".
func (c *Cache) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fmt.Sprintf("manifestcache{%s / %s}", humanize.Bytes(uint64(c.liveBytes)), humanize.Bytes(uint64(c.capacity)))
}

func (c *Cache) pendingTotalLocked() int64 {
	var total int64
	for _, b := range c.pending {
		total += b
	}
	return total
}

// evictOneLocked moves the LRU-tail entry to the rollback list if it is
// unpinned, returning its offset. Returns false if the tail is pinned or
// the LRU is empty — no further eviction is currently possible.
func (c *Cache) evictOneLocked() (ntp.Offset, bool) {
	back := c.lru.Back()
	if back == nil {
		return 0, false
	}
	e := back.Value.(*cacheEntry)
	if e.refcount > 0 {
		return 0, false
	}
	c.lru.Remove(back)
	e.elem = nil
	e.loc = locRollback
	c.liveBytes -= e.size
	return e.startOffset, true
}

func (c *Cache) deleteEntryLocked(e *cacheEntry) {
	if e.loc == locLRU && e.elem != nil {
		c.lru.Remove(e.elem)
		c.liveBytes -= e.size
	}
	delete(c.entries, e.startOffset)
}

// Prepare reserves bytes of budget, evicting unpinned LRU-tail entries as
// needed. It blocks until enough space is available, ctx is done, or the
// capacity is grown from elsewhere. On success the entries it evicted
// along the way are finalized (permanently discarded) unless a concurrent
// Get revived them; on ctx cancellation they are restored to the LRU.
func (c *Cache) Prepare(ctx context.Context, bytes int64) (Reservation, error) {
	c.mu.Lock()

	var movedToRollback []ntp.Offset
	finalize := func() {
		for _, off := range movedToRollback {
			if e, ok := c.entries[off]; ok && e.loc == locRollback {
				delete(c.entries, off)
			}
		}
	}
	restore := func() {
		for _, off := range movedToRollback {
			e, ok := c.entries[off]
			if !ok || e.loc != locRollback {
				continue
			}
			e.loc = locLRU
			e.elem = c.lru.PushFront(e)
			c.liveBytes += e.size
		}
	}

	for {
		if c.liveBytes+c.pendingTotalLocked()+bytes <= c.capacity {
			id := c.nextResv
			c.nextResv++
			c.pending[id] = bytes
			finalize()
			c.mu.Unlock()
			return Reservation{id: id, bytes: bytes}, nil
		}

		if off, ok := c.evictOneLocked(); ok {
			movedToRollback = append(movedToRollback, off)
			continue
		}

		if !c.waitLocked(ctx) {
			restore()
			c.mu.Unlock()
			return Reservation{}, ctx.Err()
		}
	}
}

// waitLocked blocks on c.cond, held by c.mu, until either a Broadcast
// occurs or ctx is done. Returns false if ctx ended the wait. c.mu must be
// held on entry and is held again on return.
func (c *Cache) waitLocked(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	done := make(chan struct{})
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			c.mu.Lock()
			c.cond.Broadcast()
			c.mu.Unlock()
		case <-stop:
		}
		close(done)
	}()
	c.cond.Wait()
	close(stop)
	<-done
	return ctx.Err() == nil
}

// Put consumes reservation and inserts manifest at the given start offset
// as the new MRU entry.
func (c *Cache) Put(res Reservation, startOffset ntp.Offset, m *manifest.Manifest) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.pending[res.id]; !ok {
		return ErrUnknownReservation
	}
	delete(c.pending, res.id)

	e := &cacheEntry{startOffset: startOffset, manifest: m, size: res.bytes, loc: locLRU}
	e.elem = c.lru.PushFront(e)
	c.entries[startOffset] = e
	c.liveBytes += res.bytes
	return nil
}

// Get returns a pinning handle for startOffset, promoting it to MRU. A
// hit on a rollback-list entry (one provisionally evicted by an in-flight
// Prepare elsewhere) revives it back onto the live LRU, per spec.md §4.4's
// "a get returning non-null during prepare may delay eviction
// indefinitely".
func (c *Cache) Get(startOffset ntp.Offset) (*Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[startOffset]
	if !ok || e.obsolete {
		return nil, false
	}

	e.refcount++
	if e.loc == locRollback {
		e.loc = locLRU
		e.elem = c.lru.PushFront(e)
		c.liveBytes += e.size
	} else {
		c.lru.MoveToFront(e.elem)
	}
	return &Handle{cache: c, offset: startOffset}, true
}

// Promote marks startOffset as recently used without producing a handle.
// A no-op if the entry is absent or currently on the rollback list.
func (c *Cache) Promote(startOffset ntp.Offset) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[startOffset]; ok && e.loc == locLRU {
		c.lru.MoveToFront(e.elem)
	}
}

// Remove evicts startOffset immediately if unpinned; a pinned entry is
// marked obsolete and removed when its last Handle is released.
func (c *Cache) Remove(startOffset ntp.Offset) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[startOffset]
	if !ok {
		return
	}
	if e.refcount > 0 {
		e.obsolete = true
		return
	}
	c.deleteEntryLocked(e)
	c.cond.Broadcast()
}

// SetCapacity changes the budget. On shrink it evicts unpinned LRU-tail
// entries until within budget (stopping if the tail becomes pinned); on
// grow it wakes any Prepare waiters who may now fit.
func (c *Cache) SetCapacity(bytes int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.capacity = bytes
	if bytes >= c.liveBytes {
		c.cond.Broadcast()
		return
	}

	if c.cfg.WakeWaitersBeforeShrinkEvict {
		c.cond.Broadcast()
	}

	for c.liveBytes > c.capacity {
		back := c.lru.Back()
		if back == nil {
			break
		}
		e := back.Value.(*cacheEntry)
		if e.refcount > 0 {
			break
		}
		c.deleteEntryLocked(e)
	}

	if !c.cfg.WakeWaitersBeforeShrinkEvict {
		c.cond.Broadcast()
	}
}
