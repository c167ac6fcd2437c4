package refcount

import (
	"github.com/pkg/errors"

	"vdo/internal/layout"
	"vdo/internal/vdoerr"
)

// RefCounts is one slab's in-memory reference-count array plus its
// per-sector journal_point stamps and free-block accounting. It is owned by
// a single physical zone goroutine; callers never need to lock it
// themselves (see internal/zone).
type RefCounts struct {
	counts     []uint8
	stamps     []layout.JournalPoint
	freeBlocks int
	cursor     int
}

// New allocates an all-EMPTY RefCounts array for a slab of size blockCount.
func New(blockCount int) *RefCounts {
	sectorCount := (blockCount + CountersPerSector - 1) / CountersPerSector
	return &RefCounts{
		counts:     make([]uint8, blockCount),
		stamps:     make([]layout.JournalPoint, sectorCount),
		freeBlocks: blockCount,
	}
}

// NewFromCounters rebuilds a RefCounts array from loaded on-disk counters
// (used by internal/recovery's DIRTY replay and FORCE_REBUILD paths).
func NewFromCounters(counts []uint8, stamps []layout.JournalPoint) *RefCounts {
	r := &RefCounts{counts: append([]uint8(nil), counts...), stamps: append([]layout.JournalPoint(nil), stamps...)}
	for _, c := range r.counts {
		if c == Empty {
			r.freeBlocks++
		}
	}
	return r
}

// Len reports the number of reference counts (the slab's block count).
func (r *RefCounts) Len() int { return len(r.counts) }

// FreeBlocks reports the number of EMPTY counters.
func (r *RefCounts) FreeBlocks() int { return r.freeBlocks }

// Get returns the current counter for sbn.
func (r *RefCounts) Get(sbn layout.SBN) uint8 { return r.counts[sbn] }

// Stamp returns the journal_point stamp covering sbn's sector.
func (r *RefCounts) Stamp(sbn layout.SBN) layout.JournalPoint {
	return r.stamps[int(sbn)/CountersPerSector]
}

func (r *RefCounts) setStamp(sbn layout.SBN, point layout.JournalPoint) {
	r.stamps[int(sbn)/CountersPerSector] = point
}

// octetHasEmpty reports whether any byte in chunk is EMPTY, i.e. whether
// the chunk holds a counter worth a closer look.
// This is the "octet acceleration index" of spec §4.2: scanning 32-byte
// groups lets Allocate skip long runs of fully-referenced counters without
// testing every byte individually.
func octetHasEmpty(chunk []uint8) bool {
	for _, b := range chunk {
		if b == Empty {
			return true
		}
	}
	return false
}

const octetSize = 32

// Allocate scans for a free (EMPTY) counter using the octet-accelerated
// scan described in spec §4.2, starting from an advancing cursor that wraps
// once per pass. On success, the counter becomes PROVISIONAL and the free
// count is decremented.
func (r *RefCounts) Allocate() (layout.SBN, error) {
	n := len(r.counts)
	if n == 0 || r.freeBlocks == 0 {
		return 0, vdoerr.ErrNoSpace
	}

	scan := func(lo, hi int) (int, bool) {
		for i := lo; i < hi; i += octetSize {
			end := i + octetSize
			if end > hi {
				end = hi
			}
			if !octetHasEmpty(r.counts[i:end]) {
				continue
			}
			for j := i; j < end; j++ {
				if r.counts[j] == Empty {
					return j, true
				}
			}
		}
		return 0, false
	}

	idx, ok := scan(r.cursor, n)
	if !ok {
		idx, ok = scan(0, r.cursor)
	}
	if !ok {
		return 0, vdoerr.ErrNoSpace
	}

	r.counts[idx] = Provisional
	r.freeBlocks--
	r.cursor = idx + 1
	if r.cursor >= n {
		r.cursor = 0
	}
	return layout.SBN(idx), nil
}

// CommitProvisional promotes a PROVISIONAL counter to 1 on recovery-journal
// commit of the increment that allocated it.
func (r *RefCounts) CommitProvisional(sbn layout.SBN, point layout.JournalPoint) error {
	if r.counts[sbn] != Provisional {
		return errors.Errorf("refcount: sbn %d is not provisional (value %d)", sbn, r.counts[sbn])
	}
	r.counts[sbn] = 1
	r.setStamp(sbn, point)
	return nil
}

// AbortProvisional reverts a PROVISIONAL counter to EMPTY when the
// recovery-journal entry that would have committed it is abandoned.
func (r *RefCounts) AbortProvisional(sbn layout.SBN) error {
	if r.counts[sbn] != Provisional {
		return errors.Errorf("refcount: sbn %d is not provisional (value %d)", sbn, r.counts[sbn])
	}
	r.counts[sbn] = Empty
	r.freeBlocks++
	return nil
}

// Increment applies the "n + INCR" rule of spec §4.2. A block-map-remap
// increment (blockMapRemap=true) jumps straight to Max since block-map
// pages are never deduplicated.
func (r *RefCounts) Increment(sbn layout.SBN, point layout.JournalPoint, blockMapRemap bool) error {
	cur := r.counts[sbn]
	if blockMapRemap {
		if cur == Empty {
			r.freeBlocks--
		}
		r.counts[sbn] = Max
		r.setStamp(sbn, point)
		return nil
	}
	switch {
	case cur == Empty:
		r.freeBlocks--
		r.counts[sbn] = 1
	case cur == Provisional:
		r.counts[sbn] = 1
	case cur == Max:
		// MAX + INCR -> MAX: rollover refused at the higher layer (§8 test 5).
	case cur < Max:
		r.counts[sbn] = cur + 1
	}
	r.setStamp(sbn, point)
	return nil
}

// Decrement applies the "n + DECR" rule. Decrementing an EMPTY counter is a
// persistent-structure violation; the caller must force the VDO read-only
// (spec §4.2, §7).
func (r *RefCounts) Decrement(sbn layout.SBN, point layout.JournalPoint) error {
	cur := r.counts[sbn]
	if cur == Empty {
		return errors.Wrapf(vdoerr.ErrOutOfRange, "refcount: decrement of EMPTY sbn %d", sbn)
	}
	if cur == 1 {
		r.counts[sbn] = Empty
		r.freeBlocks++
	} else if cur != Max {
		r.counts[sbn] = cur - 1
	}
	// A Max counter saturates: per spec, a decrement of a saturated
	// (deduplication-refused) counter never occurs in practice because the
	// upper layer never incremented past Max in the first place; treat it
	// as a no-op decrement rather than underflow.
	r.setStamp(sbn, point)
	return nil
}

// Counters returns the raw per-block counters. RefCounts keeps no record of
// which counters changed since they were last persisted.
func (r *RefCounts) Counters() []uint8 { return r.counts }

// Stamps returns the per-sector journal_point stamps.
func (r *RefCounts) Stamps() []layout.JournalPoint { return r.stamps }
