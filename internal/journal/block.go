// Package journal implements the Recovery Journal (spec §4.4): the
// system-wide ring of journal blocks that totally orders every block-map
// and reference-count mutation across zones, with per-zone-type lock
// counters and sequence-ordered reaping.
//
// Grounded on biscuit/src/fs/blk.go's log-block distinction (DataBlk vs
// CommitBlk/RevokeBlk) generalized to recovery-journal entries, and its
// Bdev_req_t/AckCh pattern for a block handed off for a write and
// acknowledged once landed.
package journal

import "vdo/internal/layout"

// EntriesPerBlock is the number of recovery-journal entries that fit in one
// B-sized journal block after its header.
const EntriesPerBlock = (layout.B - layout.RecoveryBlockHeaderBytes) / layout.RecoveryEntryBytes

// ZoneType distinguishes the two kinds of per-entry lock a recovery-journal
// entry holds until its downstream write lands (spec §4.4 "Lock counter"):
// the block-map page (logical) and the slab journal block (physical).
type ZoneType int

const (
	ZoneLogical ZoneType = iota
	ZonePhysical
	zoneTypeCount
)

// Block is one in-memory recovery-journal block being filled, sealed, or
// already committed.
type Block struct {
	SequenceNumber uint64
	Entries        []layout.RecoveryEntry
	Sealed         bool
	Committed      bool
	locks          [zoneTypeCount]int
}

// Full reports whether the block has reached EntriesPerBlock.
func (b *Block) Full() bool { return len(b.Entries) >= EntriesPerBlock }

// AcquireLock increments the lock counter for zt, taken when an entry is
// appended that zt must later release once its own write lands.
func (b *Block) AcquireLock(zt ZoneType) { b.locks[zt]++ }

// ReleaseLock decrements the lock counter for zt and reports whether every
// zone-type counter on this block is now zero.
func (b *Block) ReleaseLock(zt ZoneType) bool {
	if b.locks[zt] > 0 {
		b.locks[zt]--
	}
	return b.AllLocksZero()
}

// AllLocksZero reports whether every zone-type lock counter is zero.
func (b *Block) AllLocksZero() bool {
	for _, c := range b.locks {
		if c != 0 {
			return false
		}
	}
	return true
}

// Header builds the on-disk block header for this block.
func (b *Block) Header(blockMapHead, slabJournalHead, nonce, logicalBlocksUsed, blockMapDataBlocks uint64, checkByte, recoveryCount uint8) layout.RecoveryBlockHeader {
	return layout.RecoveryBlockHeader{
		BlockMapHead:       blockMapHead,
		SlabJournalHead:    slabJournalHead,
		SequenceNumber:     b.SequenceNumber,
		Nonce:              nonce,
		MetadataType:       layout.MetadataRecoveryJournal,
		EntryCount:         uint16(len(b.Entries)),
		LogicalBlocksUsed:  logicalBlocksUsed,
		BlockMapDataBlocks: blockMapDataBlocks,
		CheckByte:          checkByte,
		RecoveryCount:      recoveryCount,
	}
}
