package recovery

import (
	stderrors "errors"

	"github.com/pkg/errors"

	"vdo/internal/blockmap"
	"vdo/internal/layout"
	"vdo/internal/physio"
	"vdo/internal/slab"
	"vdo/internal/summary"
	"vdo/internal/vdoerr"
)

// JournalDeps is the recovery-journal region Recover replays from.
type JournalDeps struct {
	Device           physio.Device
	SuperBlockDevice physio.Device
	Origin           layout.PBN
	Size             uint64
	Nonce            uint64
}

// findOwningSlab returns the slab whose physical range contains pbn, or nil
// if none of slabs owns it.
func findOwningSlab(slabs []*slab.Slab, pbn layout.PBN) *slab.Slab {
	for _, s := range slabs {
		if pbn >= s.Start && uint64(pbn-s.Start) < s.BlockCount {
			return s
		}
	}
	return nil
}

// applyRefcount applies one recovery-journal entry's increment or decrement
// directly to the owning slab's reference counts. This bypasses the slab's
// own admin-state gate (Slab.Increment/Decrement, which refuses non-remap
// entries before CLEAN): recovery replay is what brings a slab to CLEAN in
// the first place, so it must be able to touch refcounts while the slab is
// still UNRECOVERED or SCRUBBING (see DESIGN.md's Open-question decisions).
func applyRefcount(slabs []*slab.Slab, e layout.RecoveryEntry, point layout.JournalPoint) error {
	s := findOwningSlab(slabs, e.Mapping.PBN)
	if s == nil {
		return errors.Errorf("recovery: no slab owns pbn %d", e.Mapping.PBN)
	}
	if s.RefCounts == nil {
		if err := s.RebuildRefCounts(); err != nil {
			return err
		}
	}
	sbn := layout.SBN(uint64(e.Mapping.PBN - s.Start))
	if e.Increment {
		return s.RefCounts.Increment(sbn, point, e.Operation == layout.OpBlockMapRemap)
	}
	if err := s.RefCounts.Decrement(sbn, point); err != nil {
		return errors.Wrap(err, "recovery: replay decrement")
	}
	return nil
}

// applyBlockMapEntry installs e's mapping into its target block-map page,
// skipping it if the page's recovery lock shows it already reflects an
// equal-or-later sequence number (spec §4.6 step 2: "skipping entries whose
// target page already reflects a later mapping, keyed by recovery_point").
// Only increment entries of OpDataRemap carry page content to install; a
// decrement only matters for refcount accounting, and an OpBlockMapRemap
// entry records a newly allocated leaf's own refcount, not a parent slot
// (the parent's pointer is written directly by the tree's allocation path).
func applyBlockMapEntry(cache *blockmap.Cache, e layout.RecoveryEntry, sequence uint64, period uint64) error {
	if e.Operation != layout.OpDataRemap || !e.Increment {
		return nil
	}
	pi, err := cache.GetPage(e.SlotPBN, true)
	if err != nil {
		// A page that fails validation is a lost write (spec §4.1's
		// torn-write protection); recovery rebuilds it from the journal by
		// re-initializing it fresh and applying this entry as its first.
		if stderrors.Is(err, vdoerr.ErrOutOfRange) {
			if err := cache.InitPage(e.SlotPBN); err != nil {
				return err
			}
			pi, err = cache.GetPage(e.SlotPBN, true)
			if err != nil {
				return err
			}
		} else {
			return err
		}
	}
	defer cache.ReleasePage(pi)

	if pi.RecoveryLock() >= sequence {
		return nil
	}
	pi.SetEntry(int(e.Slot), e.Mapping)
	pi.SetRecoveryLock(sequence)
	cache.MarkDirty(pi, period)
	return nil
}

// Recover runs the DIRTY recovery procedure: read the recovery-journal
// region, find its contiguous valid tail, and replay every entry in tail
// order into the block map and slab refcounts (spec §4.6 "Recovery
// procedure (DIRTY)"). cache and slabs must already be constructed (fresh
// or loaded); Recover does not allocate them.
func Recover(deps JournalDeps, cache *blockmap.Cache, slabs []*slab.Slab, sb *SuperBlock) error {
	tail, err := readValidTail(deps.Device, deps.Origin, deps.Size, deps.Nonce)
	if err != nil {
		return err
	}

	for _, block := range tail {
		for i, e := range block.entries {
			point := layout.JournalPoint{Sequence: block.header.SequenceNumber, EntryOffset: uint16(i)}
			if err := applyBlockMapEntry(cache, e, block.header.SequenceNumber, block.header.SequenceNumber); err != nil {
				return errors.Wrap(err, "recovery: replay block-map entry")
			}
			if err := applyRefcount(slabs, e, point); err != nil {
				return errors.Wrap(err, "recovery: replay refcount entry")
			}
		}
	}

	sb.RecoveryStage = StageBlockMapDone
	if err := SaveSuperBlock(deps.SuperBlockDevice, *sb); err != nil {
		return err
	}

	for _, s := range slabs {
		if s.State() == slab.StateUnrecovered {
			if err := s.BeginScrubbing(); err != nil {
				return err
			}
		}
		if s.State() == slab.StateScrubbing {
			if err := s.FinishScrubbing(); err != nil {
				return err
			}
		}
	}

	sb.RecoveryStage = StageComplete
	sb.State = StateNormal
	sb.CompleteRecoveries++
	return SaveSuperBlock(deps.SuperBlockDevice, *sb)
}

// fullnessHint derives a 0-63 slab-summary fullness hint from a slab's free
// blocks, the same coarse scale internal/summary's packed entry carries.
func fullnessHint(s *slab.Slab) uint8 {
	if s.BlockCount == 0 {
		return 0
	}
	used := s.BlockCount - uint64(s.RefCounts.FreeBlocks())
	hint := used * 63 / s.BlockCount
	if hint > 63 {
		hint = 63
	}
	return uint8(hint)
}

// Rebuild runs the FORCE_REBUILD procedure: walk every page in the block-
// map region, treating a page that fails validation as UNMAPPED rather than
// halting, and increment the owning slab's refcount for every mapping found
// (spec §4.6 "Rebuild procedure (FORCE)"). The block map is authoritative:
// this never consults the recovery journal. Height-1 (single-level) block
// maps only: every page in the region is a leaf; a taller tree would need a
// root-down walk instead of this flat scan (see DESIGN.md's Open-question
// decisions).
func Rebuild(cache *blockmap.Cache, blockMapStart layout.PBN, blockMapBlockCount uint64, slabs []*slab.Slab, summ *summary.Summary, summaryWrite func(layout.SummaryEntry) error, sbDevice physio.Device, sb *SuperBlock) error {
	for _, s := range slabs {
		if s.RefCounts == nil {
			if err := s.RebuildRefCounts(); err != nil {
				return err
			}
		}
	}

	for i := uint64(0); i < blockMapBlockCount; i++ {
		pbn := blockMapStart + layout.PBN(i)
		pi, err := cache.GetPage(pbn, false)
		if err != nil {
			// Invalid or corrupt leaf: treated as entirely UNMAPPED.
			continue
		}
		for slot := 0; slot < layout.EntriesPerPage; slot++ {
			m := pi.Entry(slot)
			if !m.IsMapped() {
				continue
			}
			s := findOwningSlab(slabs, m.PBN)
			if s == nil {
				continue
			}
			sbn := layout.SBN(uint64(m.PBN - s.Start))
			if err := s.RefCounts.Increment(sbn, layout.JournalPoint{}, false); err != nil {
				cache.ReleasePage(pi)
				return errors.Wrap(err, "recovery: rebuild refcount increment")
			}
		}
		cache.ReleasePage(pi)
	}

	sb.RecoveryStage = StageBlockMapDone
	if err := SaveSuperBlock(sbDevice, *sb); err != nil {
		return err
	}

	for _, s := range slabs {
		if s.State() == slab.StateUnrecovered {
			if err := s.BeginScrubbing(); err != nil {
				return err
			}
		}
		if s.State() == slab.StateScrubbing {
			if err := s.FinishScrubbing(); err != nil {
				return err
			}
		}
		if summ != nil && summaryWrite != nil {
			entry := layout.SummaryEntry{FullnessHint: fullnessHint(s), LoadRefCounts: true}
			if err := summ.Update(s.Number, entry, summaryWrite); err != nil {
				return errors.Wrap(err, "recovery: persist slab summary")
			}
		}
	}

	sb.RecoveryStage = StageComplete
	sb.State = StateNormal
	sb.ReadOnlyRecoveries++
	return SaveSuperBlock(sbDevice, *sb)
}

// RebuildDeps bundles Rebuild's block-map-region and slab-summary
// dependencies, mirroring JournalDeps for the DIRTY path.
type RebuildDeps struct {
	BlockMapStart      layout.PBN
	BlockMapBlockCount uint64
	Summary            *summary.Summary
	SummaryWrite       func(layout.SummaryEntry) error
}

// Run loads the super block from sbDevice and dispatches to Recover,
// Rebuild, or a no-op according to its persisted VDOState (spec §4.6
// "Triggering states"). A super block found in StateReplaying (a second
// crash during a prior recovery) restarts at refcount recovery only if its
// RecoveryStage already shows the block map stage complete; otherwise the
// whole recovery restarts from the top (spec §4.6 "Crash-during-recovery").
func Run(sbDevice physio.Device, journalDeps JournalDeps, cache *blockmap.Cache, rebuildDeps RebuildDeps, slabs []*slab.Slab) error {
	sb, err := LoadSuperBlock(sbDevice)
	if err != nil {
		return err
	}

	switch sb.State {
	case StateDirty:
		sb.State = StateReplaying
		if err := SaveSuperBlock(sbDevice, sb); err != nil {
			return err
		}
		journalDeps.SuperBlockDevice = sbDevice
		return Recover(journalDeps, cache, slabs, &sb)

	case StateReplaying:
		if sb.RecoveryStage == StageBlockMapDone {
			return finishSlabScrubbing(sbDevice, slabs, &sb)
		}
		journalDeps.SuperBlockDevice = sbDevice
		return Recover(journalDeps, cache, slabs, &sb)

	case StateForceRebuild:
		return Rebuild(cache, rebuildDeps.BlockMapStart, rebuildDeps.BlockMapBlockCount, slabs, rebuildDeps.Summary, rebuildDeps.SummaryWrite, sbDevice, &sb)

	default:
		return nil
	}
}

// finishSlabScrubbing resumes a DIRTY recovery that crashed after the
// block-map replay stage completed, redoing only the slab-scrubbing stage.
func finishSlabScrubbing(sbDevice physio.Device, slabs []*slab.Slab, sb *SuperBlock) error {
	for _, s := range slabs {
		if s.State() == slab.StateUnrecovered {
			if err := s.BeginScrubbing(); err != nil {
				return err
			}
		}
		if s.State() == slab.StateScrubbing {
			if err := s.FinishScrubbing(); err != nil {
				return err
			}
		}
	}
	sb.RecoveryStage = StageComplete
	sb.State = StateNormal
	sb.CompleteRecoveries++
	return SaveSuperBlock(sbDevice, *sb)
}
