package slabjournal

import "errors"

// ErrBlocked signals that the journal ring has reached its blocking
// threshold (spec §4.2 "Thresholds"): new entries must wait for a block to
// reap. It is a back-pressure condition internal to this package's
// admission control, distinct from the vdoerr taxonomy's user-visible
// sentinels (§7), so it is not defined in internal/vdoerr.
var ErrBlocked = errors.New("slabjournal: blocked pending reap")

// SlabJournal is one slab's ring of journal blocks.
type SlabJournal struct {
	blocks            []*Block
	flushingThreshold int
	blockingThreshold int
	nextSequence      uint64
}

// New creates an empty SlabJournal with the given thresholds (both counted
// in unreaped blocks, per spec §4.2 "Thresholds").
func New(flushingThreshold, blockingThreshold int) *SlabJournal {
	return &SlabJournal{
		flushingThreshold: flushingThreshold,
		blockingThreshold: blockingThreshold,
		nextSequence:      1,
	}
}

// UnreapedCount is L in spec §4.2's threshold rules.
func (j *SlabJournal) UnreapedCount() int { return len(j.blocks) }

// Blocked reports whether L has reached blocking_threshold.
func (j *SlabJournal) Blocked() bool { return j.UnreapedCount() >= j.blockingThreshold }

// NeedsRefcountFlush reports whether L has reached flushing_threshold,
// meaning the oldest dirty refcount block must be forced to write back.
func (j *SlabJournal) NeedsRefcountFlush() bool { return j.UnreapedCount() >= j.flushingThreshold }

// Head is the sequence number of the oldest unreaped block, or the next
// sequence to be assigned if the ring is currently empty.
func (j *SlabJournal) Head() uint64 {
	if len(j.blocks) == 0 {
		return j.nextSequence
	}
	return j.blocks[0].SequenceNumber
}

func (j *SlabJournal) currentBlock() *Block {
	if len(j.blocks) == 0 {
		return nil
	}
	b := j.blocks[len(j.blocks)-1]
	if b.Sealed {
		return nil
	}
	return b
}

func (j *SlabJournal) openBlock() *Block {
	b := &Block{SequenceNumber: j.nextSequence}
	j.nextSequence++
	j.blocks = append(j.blocks, b)
	return b
}

func (j *SlabJournal) ensureOpenBlock() *Block {
	if b := j.currentBlock(); b != nil {
		return b
	}
	return j.openBlock()
}

// appendToBlock adds e to the current open block, sealing it and rotating
// to a fresh block if it is already full (or becomes full by e tripping the
// has_block_map_increments capacity drop).
func (j *SlabJournal) appendToBlock(e Entry) {
	b := j.ensureOpenBlock()
	if b.Add(e) {
		return
	}
	b.Sealed = true
	nb := j.openBlock()
	nb.Add(e)
}

// AppendPair appends a decrement/increment pair generated for one remap
// (the old PBN's decrement and the new PBN's increment), applying spec
// §4.2's decrement-priority policy: if fewer than two slots remain in the
// open block, the decrement is admitted immediately and the increment is
// deferred — the caller must retry it once a block reaps. This preserves
// I-REF1 (no reference-count debt survives a full ring) even when the ring
// is momentarily full.
//
// Returns ErrBlocked without admitting either entry if the ring is already
// at its blocking threshold.
func (j *SlabJournal) AppendPair(decrement, increment Entry) (deferIncrement bool, err error) {
	if j.Blocked() {
		return false, ErrBlocked
	}

	b := j.ensureOpenBlock()
	available := b.Capacity() - len(b.Entries)
	if available < 2 {
		j.appendToBlock(decrement)
		return true, nil
	}
	j.appendToBlock(decrement)
	j.appendToBlock(increment)
	return false, nil
}

// SealCurrent seals whatever block is currently open (used when the
// recovery journal asks the slab to release its locks, per spec §4.2:
// "partial blocks are written when the recovery journal asks the slab to
// release locks").
func (j *SlabJournal) SealCurrent() *Block {
	b := j.currentBlock()
	if b == nil {
		return nil
	}
	b.Sealed = true
	return b
}

// SealedBlocks returns every sealed block not yet reaped, oldest first,
// ready for write-out.
func (j *SlabJournal) SealedBlocks() []*Block {
	var out []*Block
	for _, b := range j.blocks {
		if b.Sealed {
			out = append(out, b)
		}
	}
	return out
}

// Reap releases every sealed block whose sequence number is <= through,
// advancing Head past them. Unsealed blocks are never reaped.
func (j *SlabJournal) Reap(through uint64) []*Block {
	var reaped []*Block
	for len(j.blocks) > 0 && j.blocks[0].Sealed && j.blocks[0].SequenceNumber <= through {
		reaped = append(reaped, j.blocks[0])
		j.blocks = j.blocks[1:]
	}
	return reaped
}
