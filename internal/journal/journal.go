package journal

import (
	"sync"

	"github.com/pkg/errors"

	"vdo/internal/layout"
	"vdo/internal/vdoerr"
)

// RecoveryJournal is the system-wide ring of journal blocks ordering every
// block-map and reference-count mutation (spec §4.4). Entries accumulate on
// an open tail block; full blocks seal and are written in sequence order;
// a block reaps (its PBN becomes reusable) once every zone-type lock on it
// has been released and its write has landed.
type RecoveryJournal struct {
	mu sync.Mutex

	size uint64 // ring capacity in blocks (spec's N)
	nonce uint64

	blocks       []*Block // blocks still needed: unreaped, from head to tail
	nextSequence uint64   // sequence number the next-opened block will use

	committed uint64          // highest sequence number whose write has landed
	inFlight  map[uint64]bool // sequence numbers currently mid-write
}

// New creates an empty RecoveryJournal for a ring of size blocks.
func New(size uint64, nonce uint64) *RecoveryJournal {
	return &RecoveryJournal{
		size:         size,
		nonce:        nonce,
		nextSequence: 1,
		inFlight:     make(map[uint64]bool),
	}
}

// Head returns the sequence number of the oldest unreaped block, or 0 if the
// journal is empty.
func (j *RecoveryJournal) Head() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.blocks) == 0 {
		return 0
	}
	return j.blocks[0].SequenceNumber
}

// PBN returns the physical block number a sequence number maps to within
// the fixed-size ring.
func (j *RecoveryJournal) PBN(origin layout.PBN, sequence uint64) layout.PBN {
	return origin + layout.PBN(sequence%j.size)
}

// Full reports whether the ring has no room to open a new block beyond the
// tail: every slot between head and the prospective new tail is occupied by
// an unreaped block.
func (j *RecoveryJournal) Full() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return uint64(len(j.blocks)) >= j.size
}

func (j *RecoveryJournal) currentBlock() *Block {
	if len(j.blocks) == 0 {
		return nil
	}
	tail := j.blocks[len(j.blocks)-1]
	if tail.Sealed {
		return nil
	}
	return tail
}

// openBlock appends and returns a freshly opened tail block. Callers must
// hold j.mu and must already have verified the ring is not full.
func (j *RecoveryJournal) openBlock() *Block {
	b := &Block{SequenceNumber: j.nextSequence}
	j.nextSequence++
	j.blocks = append(j.blocks, b)
	return b
}

func (j *RecoveryJournal) ensureOpenBlock() (*Block, error) {
	if b := j.currentBlock(); b != nil {
		return b, nil
	}
	if uint64(len(j.blocks)) >= j.size {
		return nil, vdoerr.ErrNoSpace
	}
	return j.openBlock(), nil
}

// appendEntry appends e to the open tail block, opening one if needed, and
// seals the block the moment it fills. Returns the block the entry landed
// in, and whether that append just sealed the block.
func (j *RecoveryJournal) appendEntry(e layout.RecoveryEntry, zt ZoneType) (*Block, bool, error) {
	b, err := j.ensureOpenBlock()
	if err != nil {
		return nil, false, err
	}
	b.Entries = append(b.Entries, e)
	b.AcquireLock(zt)
	sealed := false
	if b.Full() {
		b.Sealed = true
		sealed = true
	}
	return b, sealed, nil
}

// AppendDataRemap appends one increment or decrement entry for an ordinary
// data-block remap, taking the logical-zone lock for it.
func (j *RecoveryJournal) AppendDataRemap(e layout.RecoveryEntry) (sealed *Block, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	b, didSeal, err := j.appendEntry(e, ZoneLogical)
	if err != nil {
		return nil, err
	}
	if didSeal {
		return b, nil
	}
	return nil, nil
}

// AppendPair appends the decrement/increment pair produced when a logical
// block is remapped: the old mapping's decrement and the new mapping's
// increment. Per spec §4.4 "decrement precedence in the ring": if the two
// cannot both land in the currently open block, the decrement is admitted
// into it first and the increment starts the next block, so a crash between
// the two never leaves an increment committed without its paired decrement.
// Returns every block that was sealed as a result (0, 1, or 2 blocks).
func (j *RecoveryJournal) AppendPair(decrement, increment layout.RecoveryEntry) (sealedBlocks []*Block, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	b, err := j.ensureOpenBlock()
	if err != nil {
		return nil, err
	}

	_, sealedFirst, err := j.appendEntry(decrement, ZoneLogical)
	if err != nil {
		return nil, err
	}
	if sealedFirst {
		sealedBlocks = append(sealedBlocks, b)
	}

	b2, sealedSecond, err := j.appendEntry(increment, ZonePhysical)
	if err != nil {
		return sealedBlocks, err
	}
	if sealedSecond {
		sealedBlocks = append(sealedBlocks, b2)
	}
	return sealedBlocks, nil
}

// AppendBlockMapRemap appends a third entry recording the allocation of a
// fresh block-map leaf page, incrementing its refcount straight to MAX; it
// takes the physical-zone lock since it is retired by slab-journal/refcount
// write-back rather than by a block-map page write-back.
func (j *RecoveryJournal) AppendBlockMapRemap(e layout.RecoveryEntry) (sealed *Block, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	b, didSeal, err := j.appendEntry(e, ZonePhysical)
	if err != nil {
		return nil, err
	}
	if didSeal {
		return b, nil
	}
	return nil, nil
}

// CanStartWrite reports whether a write of block sequence may begin now.
// partial indicates the block is being flushed before it filled (e.g. by a
// forced flush or shutdown drain). Spec §4.4 "Commit ordering":
//   - a partial tail block may only be written while no earlier block is
//     still in flight (preserves in-order acknowledgement);
//   - a full block k+1 may be in flight concurrently with k, but k+2 may
//     not start until k has committed (pipeline depth of two).
func (j *RecoveryJournal) CanStartWrite(sequence uint64, partial bool) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if partial {
		for s := range j.inFlight {
			if s < sequence {
				return false
			}
		}
		return true
	}
	return sequence <= j.committed+2
}

// BeginWrite marks sequence as in flight. Callers must have already checked
// CanStartWrite.
func (j *RecoveryJournal) BeginWrite(sequence uint64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.inFlight[sequence] = true
}

// CommitWrite marks sequence's write as landed. The journal's committed
// watermark only advances when sequences land in order; an out-of-order
// landing is recorded but does not move the watermark until the gap fills.
func (j *RecoveryJournal) CommitWrite(sequence uint64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.inFlight, sequence)
	for _, b := range j.blocks {
		if b.SequenceNumber == sequence {
			b.Committed = true
			break
		}
	}
	for j.committed+1 <= sequence {
		next := j.committed + 1
		if !j.blockCommitted(next) {
			break
		}
		j.committed = next
	}
}

func (j *RecoveryJournal) blockCommitted(sequence uint64) bool {
	for _, b := range j.blocks {
		if b.SequenceNumber == sequence {
			return b.Committed
		}
	}
	return false
}

// ReleaseLock releases zt's lock on the block with the given sequence
// number. If that block is now fully committed and unlocked, and it is the
// head of the ring, Reap should be called to advance the head.
func (j *RecoveryJournal) ReleaseLock(sequence uint64, zt ZoneType) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, b := range j.blocks {
		if b.SequenceNumber == sequence {
			b.ReleaseLock(zt)
			return
		}
	}
}

// TailSequence returns the sequence number of the block an entry would land
// in (or just landed in) right now: the most recently opened block, sealed
// or not. Callers use it as the journalLock a block-map update must hold
// (internal/blockmap.Tree.Update's journalLock parameter).
func (j *RecoveryJournal) TailSequence() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.nextSequence - 1
}

// Reap advances the ring's head past every leading block that has both
// committed and released every zone-type lock, returning the blocks that
// were reaped. Spec §4.4 "Reaping": "the reaping head advances when all
// counters on the head block reach zero," gated by the caller on slab
// journals and the slab summary having already been flushed for the data
// those blocks cover.
func (j *RecoveryJournal) Reap() []*Block {
	j.mu.Lock()
	defer j.mu.Unlock()
	var reaped []*Block
	for len(j.blocks) > 0 {
		head := j.blocks[0]
		if !head.Committed || !head.AllLocksZero() {
			break
		}
		reaped = append(reaped, head)
		j.blocks = j.blocks[1:]
	}
	return reaped
}

// SealedUnwrittenBlocks returns every sealed block that has not yet had a
// write started for it, in ascending sequence order.
func (j *RecoveryJournal) SealedUnwrittenBlocks() []*Block {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []*Block
	for _, b := range j.blocks {
		if b.Sealed && !b.Committed && !j.inFlight[b.SequenceNumber] {
			out = append(out, b)
		}
	}
	return out
}

// SealTail forcibly seals the open tail block (if any and non-empty) so it
// can be flushed early, e.g. to honor a user flush request. Returns the
// sealed block, or nil if there was no open tail block to seal.
func (j *RecoveryJournal) SealTail() *Block {
	j.mu.Lock()
	defer j.mu.Unlock()
	b := j.currentBlock()
	if b == nil || len(b.Entries) == 0 {
		return nil
	}
	b.Sealed = true
	return b
}

// ErrJournalFull wraps vdoerr.ErrNoSpace for callers that need a
// journal-specific message.
func ErrJournalFull() error {
	return errors.Wrap(vdoerr.ErrNoSpace, "recovery journal: ring full")
}
