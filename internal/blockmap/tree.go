package blockmap

import (
	"vdo/internal/layout"
)

// Allocator supplies a fresh physical block for a lazily-allocated
// interior or leaf block-map page (backed by the slab depot in production).
type Allocator interface {
	AllocateBlockMapPage() (layout.PBN, error)
}

// JournalAppender records the BLOCK_MAP_REMAP recovery-journal increment
// that must precede a newly allocated page's first use (spec §4.1).
type JournalAppender interface {
	AppendBlockMapRemap(e layout.RecoveryEntry) error
}

// Tree is the radix tree over the page cache translating LBN to a leaf
// page slot. Height counts levels from the leaf (1) up to the root.
type Tree struct {
	cache    *Cache
	rootPBN  layout.PBN
	height   int
	alloc    Allocator
	appender JournalAppender
}

// NewTree creates a Tree rooted at rootPBN with the given height (as
// computed by layout.ComputeTreeShape).
func NewTree(cache *Cache, rootPBN layout.PBN, height int, alloc Allocator, appender JournalAppender) *Tree {
	return &Tree{cache: cache, rootPBN: rootPBN, height: height, alloc: alloc, appender: appender}
}

// slotForLevel returns lbn's entry slot within the page at the given level
// (1 = leaf). Levels above the leaf index groups of entriesPerPage^(level-1)
// leaves per slot.
func slotForLevel(lbn layout.LBN, level int) int {
	divisor := uint64(1)
	for i := 1; i < level; i++ {
		divisor *= uint64(layout.EntriesPerPage)
	}
	return int((uint64(lbn) / divisor) % uint64(layout.EntriesPerPage))
}

// Lookup translates lbn to its current mapping, returning an UNMAPPED
// mapping if any ancestor page or the leaf slot itself has no mapping.
func (t *Tree) Lookup(lbn layout.LBN) (layout.Mapping, error) {
	pbn := t.rootPBN
	for level := t.height; level >= 2; level-- {
		pi, err := t.cache.GetPage(pbn, false)
		if err != nil {
			return layout.Mapping{}, err
		}
		slot := slotForLevel(lbn, level)
		child := pi.Entry(slot)
		t.cache.ReleasePage(pi)
		if !child.IsMapped() {
			return layout.Mapping{State: layout.MappingStateUnmapped}, nil
		}
		pbn = child.PBN
	}

	leaf, err := t.cache.GetPage(pbn, false)
	if err != nil {
		return layout.Mapping{}, err
	}
	m := leaf.Entry(slotForLevel(lbn, 1))
	t.cache.ReleasePage(leaf)
	return m, nil
}

// Update installs mapping for lbn, holding journalLock (the recovery-journal
// sequence number the new entry's page must outlive until written) and
// lazily allocating any missing interior or leaf page along the path.
func (t *Tree) Update(lbn layout.LBN, mapping layout.Mapping, journalLock uint64) error {
	pbn := t.rootPBN
	for level := t.height; level >= 2; level-- {
		pi, err := t.cache.GetPage(pbn, true)
		if err != nil {
			return err
		}
		slot := slotForLevel(lbn, level)
		child := pi.Entry(slot)
		if !child.IsMapped() {
			childPBN, err := t.allocatePage()
			if err != nil {
				t.cache.ReleasePage(pi)
				return err
			}
			child = layout.Mapping{PBN: childPBN, State: layout.MappingStateUncompressed}
			pi.SetEntry(slot, child)
			t.cache.MarkDirty(pi, journalLock)
		}
		t.cache.ReleasePage(pi)
		pbn = child.PBN
	}

	leaf, err := t.cache.GetPage(pbn, true)
	if err != nil {
		return err
	}
	leaf.SetEntry(slotForLevel(lbn, 1), mapping)
	t.cache.MarkDirty(leaf, journalLock)
	t.cache.ReleasePage(leaf)
	return nil
}

// LeafSlot returns lbn's entry slot within its leaf page, for callers (such
// as internal/vdo's write path) that need to name the slot in a recovery-
// journal entry before calling Update.
func (t *Tree) LeafSlot(lbn layout.LBN) int {
	return slotForLevel(lbn, 1)
}

// LeafPBN resolves (lazily allocating any missing interior page, exactly as
// Update would) the physical block number of lbn's leaf page, without
// touching the leaf's own entry. Callers journal a recovery entry naming
// this PBN as SlotPBN before calling Update to install the new mapping; by
// the time Update runs every interior page on the path already exists, so
// it performs no further allocation.
func (t *Tree) LeafPBN(lbn layout.LBN, journalLock uint64) (layout.PBN, error) {
	pbn := t.rootPBN
	for level := t.height; level >= 2; level-- {
		pi, err := t.cache.GetPage(pbn, true)
		if err != nil {
			return 0, err
		}
		slot := slotForLevel(lbn, level)
		child := pi.Entry(slot)
		if !child.IsMapped() {
			childPBN, err := t.allocatePage()
			if err != nil {
				t.cache.ReleasePage(pi)
				return 0, err
			}
			child = layout.Mapping{PBN: childPBN, State: layout.MappingStateUncompressed}
			pi.SetEntry(slot, child)
			t.cache.MarkDirty(pi, journalLock)
		}
		t.cache.ReleasePage(pi)
		pbn = child.PBN
	}
	return pbn, nil
}

// allocatePage allocates a fresh block-map page PBN, journals its
// BLOCK_MAP_REMAP increment, and seeds it in the cache as an all-unmapped
// resident page.
func (t *Tree) allocatePage() (layout.PBN, error) {
	pbn, err := t.alloc.AllocateBlockMapPage()
	if err != nil {
		return 0, err
	}
	entry := layout.RecoveryEntry{
		Operation: layout.OpBlockMapRemap,
		Increment: true,
		SlotPBN:   pbn,
		Mapping:   layout.Mapping{PBN: pbn, State: layout.MappingStateUncompressed},
	}
	if err := t.appender.AppendBlockMapRemap(entry); err != nil {
		return 0, err
	}
	if err := t.cache.InitPage(pbn); err != nil {
		return 0, err
	}
	return pbn, nil
}
