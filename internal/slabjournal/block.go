// Package slabjournal implements the per-slab journal (spec §4.2 "Slab
// journal (per-slab)"): a ring of B-sized blocks recording increment/
// decrement entries against the slab's reference counts, with the
// flushing/blocking thresholds and decrement-priority policy that keep the
// ring from leaking reference-count debt when it fills.
//
// Grounded on biscuit/src/fs/blk.go's BlkList_t (an ordered, appendable list
// of fixed-size blocks addressed by sequence) and Bdev_req_t's sealed/
// in-flight distinction between a block still being filled and one handed
// off for a write.
package slabjournal

import "vdo/internal/layout"

// entryBytes is the packed size of one slab-journal entry.
const entryBytes = layout.SlabJournalEntryBytes

// EntriesPerBlock is the number of entries an ordinary block holds.
const EntriesPerBlock = (layout.B - layout.SlabJournalBlockHeaderBytes) / entryBytes

// blockMapReserveBytes reserves headroom in a block that carries any
// BLOCK_MAP_REMAP entry, so recovery can always find room to note which
// entries were leaf-allocation remaps without growing the block. The spec
// names this reservation (full_entries_per_block) without pinning an exact
// byte count; 64 bytes (enough for a handful of extra bookkeeping entries)
// is this implementation's choice — see DESIGN.md's Open-question
// decisions.
const blockMapReserveBytes = 64

// FullEntriesPerBlock is the smaller capacity used once a block is marked
// has_block_map_increments.
const FullEntriesPerBlock = (layout.B - layout.SlabJournalBlockHeaderBytes - blockMapReserveBytes) / entryBytes

// Entry is one slab-journal entry together with the fact (not itself
// persisted per-entry) of whether it came from a BLOCK_MAP_REMAP, which
// decides whether its block must switch to the smaller capacity.
type Entry struct {
	layout.SlabJournalEntry
	BlockMapRemap bool
}

// Block is one in-memory slab-journal block being filled or already sealed
// for write-out.
type Block struct {
	SequenceNumber        uint64
	RecoveryPoint         layout.JournalPoint // oldest recovery-journal point this block depends on
	Entries               []Entry
	HasBlockMapIncrements bool
	Sealed                bool
}

// Capacity returns the block's current entry capacity, which shrinks once
// any entry in it is a BLOCK_MAP_REMAP.
func (b *Block) Capacity() int {
	if b.HasBlockMapIncrements {
		return FullEntriesPerBlock
	}
	return EntriesPerBlock
}

// Full reports whether the block has reached its current capacity.
func (b *Block) Full() bool {
	return len(b.Entries) >= b.Capacity()
}

// Add appends e to the block, returning false if the block is sealed or
// already at capacity (capacity recomputed after marking
// HasBlockMapIncrements, so a block that was one entry short of full can
// reject e if it is the entry that trips the smaller full_entries_per_block
// limit).
func (b *Block) Add(e Entry) bool {
	if b.Sealed {
		return false
	}
	if e.BlockMapRemap {
		b.HasBlockMapIncrements = true
	}
	if len(b.Entries) >= b.Capacity() {
		return false
	}
	b.Entries = append(b.Entries, e)
	return true
}

// Header builds the on-disk block header for this block, ready for
// layout.SlabJournalBlockHeader.Encode.
func (b *Block) Header(headSequence, nonce uint64, metadataType uint8) layout.SlabJournalBlockHeader {
	return layout.SlabJournalBlockHeader{
		Head:                  headSequence,
		SequenceNumber:        b.SequenceNumber,
		RecoveryPoint:         b.RecoveryPoint,
		Nonce:                 nonce,
		MetadataType:          metadataType,
		HasBlockMapIncrements: b.HasBlockMapIncrements,
		EntryCount:            uint16(len(b.Entries)),
	}
}
