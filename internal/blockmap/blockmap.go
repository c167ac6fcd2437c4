package blockmap

import (
	"sync"

	"vdo/internal/layout"
	"vdo/internal/vdoerr"
)

// AdminState mirrors the drain/resume lifecycle every admin-managed VDO
// component shares (spec §4.1 "drain(state)/resume()").
type AdminState int

const (
	AdminNormal AdminState = iota
	AdminDraining
	AdminSaving
	AdminSuspended
)

// BlockMap is the top-level LBN->mapping translator: a Tree over a Cache,
// plus the admin-state gate spec §4.1's drain/resume operations require.
type BlockMap struct {
	mu    sync.Mutex
	cache *Cache
	tree  *Tree
	state AdminState
}

// New creates a BlockMap over an already-constructed Cache and Tree.
func New(cache *Cache, tree *Tree) *BlockMap {
	return &BlockMap{cache: cache, tree: tree}
}

func (b *BlockMap) checkOperable() error {
	if b.state != AdminNormal {
		return vdoerr.ErrInvalidAdminState
	}
	return nil
}

// Lookup translates lbn to its current mapping.
func (b *BlockMap) Lookup(lbn layout.LBN) (layout.Mapping, error) {
	b.mu.Lock()
	err := b.checkOperable()
	b.mu.Unlock()
	if err != nil {
		return layout.Mapping{}, err
	}
	return b.tree.Lookup(lbn)
}

// Update installs a new mapping for lbn under the given recovery-journal
// lock.
func (b *BlockMap) Update(lbn layout.LBN, mapping layout.Mapping, journalLock uint64) error {
	b.mu.Lock()
	err := b.checkOperable()
	b.mu.Unlock()
	if err != nil {
		return err
	}
	return b.tree.Update(lbn, mapping, journalLock)
}

// LeafSlot returns lbn's entry slot within its leaf page.
func (b *BlockMap) LeafSlot(lbn layout.LBN) int {
	return b.tree.LeafSlot(lbn)
}

// LeafPBN resolves the physical block number of lbn's leaf page, lazily
// allocating any missing interior page along the way.
func (b *BlockMap) LeafPBN(lbn layout.LBN, journalLock uint64) (layout.PBN, error) {
	b.mu.Lock()
	err := b.checkOperable()
	b.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return b.tree.LeafPBN(lbn, journalLock)
}

// GetPage exposes the cache's page handle directly, for callers (such as
// recovery/rebuild) that need raw page access rather than an LBN lookup.
func (b *BlockMap) GetPage(pbn layout.PBN, writable bool) (*PageInfo, error) {
	return b.cache.GetPage(pbn, writable)
}

// ReleasePage releases a handle obtained from GetPage.
func (b *BlockMap) ReleasePage(pi *PageInfo) {
	b.cache.ReleasePage(pi)
}

// AdvanceEra advances the cache's dirty-period clock, writing back every
// page whose dirty period has aged past the cache's max age.
func (b *BlockMap) AdvanceEra(period uint64) error {
	return b.cache.AdvanceEra(period)
}

// Drain transitions the block map towards the given admin state, flushing
// every dirty page first so a subsequent Resume starts from a clean cache.
func (b *BlockMap) Drain(target AdminState) error {
	b.mu.Lock()
	if b.state != AdminNormal {
		b.mu.Unlock()
		return vdoerr.ErrInvalidAdminState
	}
	b.state = target
	b.mu.Unlock()

	// Force every outstanding dirty page to write back regardless of age.
	b.mu.Lock()
	var pending []*PageInfo
	for _, pages := range b.cache.dirty {
		pending = append(pending, pages...)
	}
	b.cache.dirty = make(map[uint64][]*PageInfo)
	b.mu.Unlock()

	for _, pi := range pending {
		if err := b.cache.writeBack(pi); err != nil {
			return err
		}
	}
	return nil
}

// Resume transitions the block map back to normal operation.
func (b *BlockMap) Resume() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == AdminNormal {
		return vdoerr.ErrInvalidAdminState
	}
	b.state = AdminNormal
	return nil
}

// ReadOnly reports whether the underlying cache has entered read-only mode.
func (b *BlockMap) ReadOnly() bool { return b.cache.ReadOnly() }

// PageCacheStats satisfies internal/metrics.CacheSource.
func (b *BlockMap) PageCacheStats() (hits, misses uint64, dirtyPages int) {
	return b.cache.PageCacheStats()
}
