package blockmap

import (
	"sync"

	"github.com/pkg/errors"

	"vdo/internal/flush"
	"vdo/internal/layout"
	"vdo/internal/physio"
	"vdo/internal/vdoerr"
)

// Cache is the fixed-size, C-slot block-map page cache (spec §4.1).
type Cache struct {
	mu sync.Mutex

	dev     physio.Device
	flusher *flush.Manager
	nonce   uint64

	capacity int
	pages    map[layout.PBN]*PageInfo
	lru      []*PageInfo          // least-recently-used first; only clean, non-busy pages
	dirty    map[uint64][]*PageInfo // dirty period -> dirty pages

	maxAge        uint64
	currentPeriod uint64

	readOnly bool

	hits   uint64
	misses uint64
}

// NewCache creates a Cache of the given slot capacity, writing through dev
// and consulting flusher for torn-write protection before a page's second
// write.
func NewCache(dev physio.Device, flusher *flush.Manager, nonce uint64, capacity int, maxAge uint64) *Cache {
	return &Cache{
		dev:      dev,
		flusher:  flusher,
		nonce:    nonce,
		capacity: capacity,
		pages:    make(map[layout.PBN]*PageInfo),
		dirty:    make(map[uint64][]*PageInfo),
		maxAge:   maxAge,
	}
}

func (c *Cache) removeFromLRU(pi *PageInfo) {
	for i, p := range c.lru {
		if p == pi {
			c.lru = append(c.lru[:i], c.lru[i+1:]...)
			return
		}
	}
}

func (c *Cache) addToLRU(pi *PageInfo) {
	c.removeFromLRU(pi)
	c.lru = append(c.lru, pi)
}

// evictOneLocked evicts the least-recently-used clean, non-busy page,
// reporting whether one was available. Caller must hold c.mu.
func (c *Cache) evictOneLocked() bool {
	if len(c.lru) == 0 {
		return false
	}
	victim := c.lru[0]
	c.lru = c.lru[1:]
	victim.state = StateDiscarded
	delete(c.pages, victim.pbn)
	return true
}

// acquireSlotLocked returns a fresh PageInfo, evicting the LRU clean page if
// the cache is already at capacity. Caller must hold c.mu.
func (c *Cache) acquireSlotLocked() (*PageInfo, error) {
	if len(c.pages) >= c.capacity {
		if !c.evictOneLocked() {
			return nil, errors.Wrap(vdoerr.ErrNoSpace, "blockmap: page cache full, nothing evictable")
		}
	}
	return &PageInfo{entries: make([]layout.Mapping, layout.EntriesPerPage)}, nil
}

// GetPage returns the cached page for pbn, reading it through on a miss and
// validating its header nonce. The caller must call ReleasePage when done.
// Concurrent callers for the same page in flight join a waiter queue.
func (c *Cache) GetPage(pbn layout.PBN, writable bool) (*PageInfo, error) {
	c.mu.Lock()
	if c.readOnly {
		c.mu.Unlock()
		return nil, vdoerr.ErrReadOnly
	}
	if pi, ok := c.pages[pbn]; ok {
		c.hits++
		for pi.state == StateIncoming || pi.state == StateOutgoing {
			w := pi.waiters.Enqueue()
			c.mu.Unlock()
			w.Wait()
			c.mu.Lock()
			if c.readOnly {
				c.mu.Unlock()
				return nil, vdoerr.ErrReadOnly
			}
			// the page may have failed validation and been discarded while
			// we waited; re-check the map.
			pi, ok = c.pages[pbn]
			if !ok {
				c.mu.Unlock()
				return c.GetPage(pbn, writable)
			}
		}
		pi.busy++
		c.removeFromLRU(pi)
		c.mu.Unlock()
		return pi, nil
	}

	c.misses++
	pi, err := c.acquireSlotLocked()
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	pi.pbn = pbn
	pi.state = StateIncoming
	pi.busy = 1
	c.pages[pbn] = pi
	c.mu.Unlock()

	var buf [layout.B]byte
	readErr := c.dev.ReadAt(pbn, buf[:])

	c.mu.Lock()
	if readErr != nil {
		delete(c.pages, pbn)
		pi.state = StateFree
		pi.busy = 0
		pi.waiters.NotifyAll()
		c.mu.Unlock()
		return nil, errors.Wrapf(readErr, "blockmap: read page %d", pbn)
	}

	header, entries := layout.DecodePage(buf)
	if header.Initialized && header.Nonce != c.nonce {
		delete(c.pages, pbn)
		pi.state = StateFree
		pi.busy = 0
		pi.waiters.NotifyAll()
		c.mu.Unlock()
		return nil, vdoerr.ErrOutOfRange
	}
	if !header.Initialized {
		entries = make([]layout.Mapping, layout.EntriesPerPage)
	}
	pi.entries = entries
	pi.recoveryLock = header.RecoveryLock
	pi.state = StateResident
	pi.waiters.NotifyAll()
	c.mu.Unlock()
	return pi, nil
}

// InitPage seeds pbn in the cache as a freshly allocated, all-unmapped
// RESIDENT page without reading it from disk (used when the tree lazily
// allocates a new interior or leaf page).
func (c *Cache) InitPage(pbn layout.PBN) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.pages[pbn]; exists {
		return errors.Errorf("blockmap: page %d already cached", pbn)
	}
	pi, err := c.acquireSlotLocked()
	if err != nil {
		return err
	}
	pi.pbn = pbn
	pi.state = StateResident
	c.pages[pbn] = pi
	c.addToLRU(pi)
	return nil
}

// ReleasePage drops the caller's hold on pi, acquired via GetPage.
func (c *Cache) ReleasePage(pi *PageInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pi.busy--
	if pi.busy <= 0 && pi.state == StateResident {
		c.addToLRU(pi)
	}
}

// MarkDirty records that pi was modified during dirtyPeriod, per spec §4.1's
// aged-dirty-list write-back scheme. A page dirtied again while its write is
// already OUTGOING is flagged WRITE_STATUS_DEFERRED instead of re-queued.
func (c *Cache) MarkDirty(pi *PageInfo, dirtyPeriod uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch pi.state {
	case StateOutgoing:
		pi.writeStatus = WriteDeferred
	case StateDirty:
		// already pending write-back; leave its existing dirty period.
	default:
		pi.state = StateDirty
		pi.dirtyPeriod = dirtyPeriod
		c.removeFromLRU(pi)
		c.dirty[dirtyPeriod] = append(c.dirty[dirtyPeriod], pi)
	}
}

// AdvanceEra moves the cache's current dirty period to newPeriod and writes
// back every dirty page whose dirtyPeriod+maxAge <= newPeriod.
func (c *Cache) AdvanceEra(newPeriod uint64) error {
	c.mu.Lock()
	c.currentPeriod = newPeriod
	var toFlush []*PageInfo
	for period, pages := range c.dirty {
		if period+c.maxAge <= newPeriod {
			toFlush = append(toFlush, pages...)
			delete(c.dirty, period)
		}
	}
	c.mu.Unlock()

	for _, pi := range toFlush {
		if err := c.writeBack(pi); err != nil {
			return err
		}
	}
	return nil
}

// writeBack issues pi's write, handling the torn-write intervening-flush
// requirement and the WRITE_STATUS_DEFERRED rewrite-on-return rule.
func (c *Cache) writeBack(pi *PageInfo) error {
	c.mu.Lock()
	pi.state = StateOutgoing
	pi.writeStatus = WriteNormal
	entries := append([]layout.Mapping(nil), pi.entries...)
	pbn := pi.pbn
	lastGen := pi.lastWriteGen
	recoveryLock := pi.recoveryLock
	c.mu.Unlock()

	if c.flusher != nil && c.flusher.RequiresFlushBeforeOverwrite(flush.Generation(lastGen)) {
		c.flusher.Flush()
	}

	header := layout.BlockMapPageHeader{Nonce: c.nonce, PBN: pbn, RecoveryLock: recoveryLock, Initialized: true, EntriesWritten: uint16(len(entries))}
	buf := layout.EncodePage(header, entries)
	writeErr := c.dev.WriteAt(pbn, buf[:])

	c.mu.Lock()
	if writeErr != nil {
		c.readOnly = true
		pi.waiters.NotifyAll()
		c.mu.Unlock()
		return errors.Wrapf(vdoerr.ErrReadOnly, "blockmap: write-back of page %d failed: %v", pbn, writeErr)
	}
	if c.flusher != nil {
		pi.lastWriteGen = uint64(c.flusher.Current())
	}
	deferred := pi.writeStatus == WriteDeferred
	if deferred {
		pi.writeStatus = WriteNormal
		pi.state = StateDirty
		c.dirty[c.currentPeriod] = append(c.dirty[c.currentPeriod], pi)
	} else {
		pi.state = StateResident
		if pi.busy == 0 {
			c.addToLRU(pi)
		}
	}
	pi.waiters.NotifyAll()
	c.mu.Unlock()

	if deferred {
		return c.writeBack(pi)
	}
	return nil
}

// ReadOnly reports whether a prior write failure has put the cache into
// read-only mode.
func (c *Cache) ReadOnly() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readOnly
}

// PageCacheStats reports cumulative hit/miss counts and the current number
// of dirty pages awaiting write-back, for internal/metrics' Collector.
func (c *Cache) PageCacheStats() (hits, misses uint64, dirtyPages int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, pages := range c.dirty {
		dirtyPages += len(pages)
	}
	return c.hits, c.misses, dirtyPages
}
