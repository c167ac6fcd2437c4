// Package slab implements one allocation slab: its admin-state machine, its
// reference-count array, and its slab journal, tied together the way the
// slab depot addresses them as a unit (spec §4.2 "Slab Depot & Slabs").
//
// Grounded on biscuit/src/fs/super.go's on-disk structure ownership model
// (one struct owning its backing region plus the metadata describing it)
// and the admin-state dispatch style of biscuit/src/kernel/chentry.go
// (explicit state checks gating each operation rather than exceptions).
package slab

import (
	"github.com/pkg/errors"

	"vdo/internal/layout"
	"vdo/internal/refcount"
	"vdo/internal/slabjournal"
	"vdo/internal/vdoerr"
)

// State is a slab's admin-state-machine position (spec §4.2 "Slab state
// machine": UNRECOVERED -> SCRUBBING -> CLEAN -> {DRAINING/SAVING, RESUMING}).
type State int

const (
	StateUnrecovered State = iota
	StateScrubbing
	StateClean
	StateDraining
	StateSaving
	StateResuming
)

func (s State) String() string {
	switch s {
	case StateUnrecovered:
		return "UNRECOVERED"
	case StateScrubbing:
		return "SCRUBBING"
	case StateClean:
		return "CLEAN"
	case StateDraining:
		return "DRAINING"
	case StateSaving:
		return "SAVING"
	case StateResuming:
		return "RESUMING"
	default:
		return "UNKNOWN"
	}
}

// Slab is one fixed-size allocation region: its own reference-count array
// and slab journal, plus the admin state gating which operations are legal.
type Slab struct {
	Number     uint64
	Start      layout.PBN
	BlockCount uint64
	Nonce      uint64

	RefCounts *refcount.RefCounts
	Journal   *slabjournal.SlabJournal

	state      State
	loadedOnce bool
}

// New creates a slab in UNRECOVERED state with an empty slab journal. Its
// reference counts are not yet populated; call LoadRefCounts or
// RebuildRefCounts once, per the Open Question on double-loading (§9).
func New(number uint64, start layout.PBN, blockCount uint64, flushingThreshold, blockingThreshold int, nonce uint64) *Slab {
	return &Slab{
		Number:     number,
		Start:      start,
		BlockCount: blockCount,
		Nonce:      nonce,
		Journal:    slabjournal.New(flushingThreshold, blockingThreshold),
		state:      StateUnrecovered,
	}
}

// State returns the slab's current admin state.
func (s *Slab) State() State { return s.state }

// LoadRefCounts installs a reference-count array read back from disk. Per
// the Open Question on reloading under LOADING_FOR_RECOVERY (§9), a slab's
// counters may be loaded exactly once; a second attempt is rejected.
func (s *Slab) LoadRefCounts(counts []uint8, stamps []layout.JournalPoint) error {
	if s.loadedOnce {
		return errors.Wrapf(vdoerr.ErrInvalidAdminState, "slab %d: reference counts already loaded", s.Number)
	}
	s.loadedOnce = true
	s.RefCounts = refcount.NewFromCounters(counts, stamps)
	return nil
}

// RebuildRefCounts installs a freshly zeroed reference-count array, for the
// FORCE_REBUILD path that reconstructs counts from the block map rather
// than loading them from disk.
func (s *Slab) RebuildRefCounts() error {
	if s.loadedOnce {
		return errors.Wrapf(vdoerr.ErrInvalidAdminState, "slab %d: reference counts already loaded", s.Number)
	}
	s.loadedOnce = true
	s.RefCounts = refcount.New(int(s.BlockCount))
	return nil
}

// BeginScrubbing transitions UNRECOVERED -> SCRUBBING.
func (s *Slab) BeginScrubbing() error {
	if s.state != StateUnrecovered {
		return errors.Wrapf(vdoerr.ErrInvalidAdminState, "slab %d: cannot scrub from %s", s.Number, s.state)
	}
	s.state = StateScrubbing
	return nil
}

// FinishScrubbing transitions SCRUBBING -> CLEAN.
func (s *Slab) FinishScrubbing() error {
	if s.state != StateScrubbing {
		return errors.Wrapf(vdoerr.ErrInvalidAdminState, "slab %d: cannot finish scrubbing from %s", s.Number, s.state)
	}
	s.state = StateClean
	return nil
}

// CanIssueRefcountIO reports whether the slab may read or write refcount
// blocks right now (spec: "a slab cannot issue refcount I/O while
// SCRUBBING").
func (s *Slab) CanIssueRefcountIO() bool { return s.state != StateScrubbing }

// CanApplyUserEntries reports whether user-data slab-journal entries may be
// applied (spec: "SCRUBBING must complete before any slab journal entry can
// be applied for user data").
func (s *Slab) CanApplyUserEntries() bool {
	switch s.state {
	case StateClean, StateDraining, StateSaving, StateResuming:
		return true
	default:
		return false
	}
}

// AllocateBlock scans the slab's refcounts for a free SBN (spec §4.2
// "allocate_block").
func (s *Slab) AllocateBlock() (layout.SBN, error) {
	if !s.CanIssueRefcountIO() {
		return 0, errors.Wrapf(vdoerr.ErrInvalidAdminState, "slab %d: cannot allocate while %s", s.Number, s.state)
	}
	if s.RefCounts == nil {
		return 0, errors.Errorf("slab %d: reference counts not loaded", s.Number)
	}
	return s.RefCounts.Allocate()
}

// Increment applies an increment to sbn, refusing it unless the slab is far
// enough along its admin-state machine to apply user entries.
func (s *Slab) Increment(sbn layout.SBN, point layout.JournalPoint, blockMapRemap bool) error {
	if !blockMapRemap && !s.CanApplyUserEntries() {
		return errors.Wrapf(vdoerr.ErrInvalidAdminState, "slab %d: cannot apply entries while %s", s.Number, s.state)
	}
	return s.RefCounts.Increment(sbn, point, blockMapRemap)
}

// Decrement applies a decrement to sbn.
func (s *Slab) Decrement(sbn layout.SBN, point layout.JournalPoint) error {
	if !s.CanApplyUserEntries() {
		return errors.Wrapf(vdoerr.ErrInvalidAdminState, "slab %d: cannot apply entries while %s", s.Number, s.state)
	}
	return s.RefCounts.Decrement(sbn, point)
}

// BeginDrain transitions CLEAN -> DRAINING.
func (s *Slab) BeginDrain() error {
	if s.state != StateClean {
		return errors.Wrapf(vdoerr.ErrInvalidAdminState, "slab %d: cannot drain from %s", s.Number, s.state)
	}
	s.state = StateDraining
	return nil
}

// BeginSave transitions CLEAN -> SAVING.
func (s *Slab) BeginSave() error {
	if s.state != StateClean {
		return errors.Wrapf(vdoerr.ErrInvalidAdminState, "slab %d: cannot save from %s", s.Number, s.state)
	}
	s.state = StateSaving
	return nil
}

// BeginResume transitions DRAINING or SAVING -> RESUMING.
func (s *Slab) BeginResume() error {
	if s.state != StateDraining && s.state != StateSaving {
		return errors.Wrapf(vdoerr.ErrInvalidAdminState, "slab %d: cannot resume from %s", s.Number, s.state)
	}
	s.state = StateResuming
	return nil
}

// FinishResume transitions RESUMING -> CLEAN.
func (s *Slab) FinishResume() error {
	if s.state != StateResuming {
		return errors.Wrapf(vdoerr.ErrInvalidAdminState, "slab %d: cannot finish resume from %s", s.Number, s.state)
	}
	s.state = StateClean
	return nil
}
