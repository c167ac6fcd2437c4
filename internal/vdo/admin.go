package vdo

import (
	"github.com/pkg/errors"

	"vdo/internal/blockmap"
	"vdo/internal/depot"
	"vdo/internal/journal"
	"vdo/internal/slab"
	"vdo/internal/vdoerr"
)

// AdminState is the aggregate Vdo's own lifecycle position, one level above
// the per-component admin states (blockmap.AdminState, slab.State) it
// drives in lockstep (spec §6 "Admin messages": Resume/Suspend/Save/
// GrowPhysical/EnableCompression/DisableCompression).
type AdminState int

const (
	AdminNormal AdminState = iota
	AdminSuspending
	AdminSuspended
	AdminSaving
	AdminResuming
	AdminReadOnly
)

func (s AdminState) String() string {
	switch s {
	case AdminNormal:
		return "NORMAL"
	case AdminSuspending:
		return "SUSPENDING"
	case AdminSuspended:
		return "SUSPENDED"
	case AdminSaving:
		return "SAVING"
	case AdminResuming:
		return "RESUMING"
	case AdminReadOnly:
		return "READ_ONLY"
	default:
		return "UNKNOWN"
	}
}

// adminState returns the current lifecycle state, reflecting a prior
// read-only notification even if Suspend/Save haven't themselves observed
// it yet.
func (v *Vdo) adminState() AdminState {
	if v.readOnly.ReadOnly() {
		return AdminReadOnly
	}
	return v.state
}

// Suspend quiesces every component for a later Resume or process exit: the
// block map drains its dirty pages and every slab drains its journal,
// mirroring blockmap.BlockMap.Drain/slab.Slab.BeginDrain one level up.
func (v *Vdo) Suspend() error {
	v.mu.Lock()
	if v.state != AdminNormal {
		v.mu.Unlock()
		return errors.Wrapf(vdoerr.ErrInvalidAdminState, "vdo: cannot suspend from %s", v.state)
	}
	v.state = AdminSuspending
	v.mu.Unlock()

	if err := v.blockMap.Drain(blockmap.AdminSuspended); err != nil {
		return err
	}
	for _, s := range v.slabs {
		if s.State() == slab.StateClean {
			if err := s.BeginDrain(); err != nil {
				return err
			}
		}
	}

	v.mu.Lock()
	v.state = AdminSuspended
	v.mu.Unlock()
	return nil
}

// Save is identical to Suspend but leaves every slab in SAVING rather than
// DRAINING, per spec §6's distinct Save admin message (a save additionally
// implies the volume may be safely detached without a subsequent recovery).
func (v *Vdo) Save() error {
	v.mu.Lock()
	if v.state != AdminNormal {
		v.mu.Unlock()
		return errors.Wrapf(vdoerr.ErrInvalidAdminState, "vdo: cannot save from %s", v.state)
	}
	v.state = AdminSaving
	v.mu.Unlock()

	if err := v.blockMap.Drain(blockmap.AdminSaving); err != nil {
		return err
	}
	for _, s := range v.slabs {
		if s.State() == slab.StateClean {
			if err := s.BeginSave(); err != nil {
				return err
			}
		}
	}

	v.mu.Lock()
	v.state = AdminSuspended
	v.mu.Unlock()
	return nil
}

// Resume brings a suspended or saved Vdo back to normal operation.
func (v *Vdo) Resume() error {
	v.mu.Lock()
	if v.state != AdminSuspended {
		v.mu.Unlock()
		return errors.Wrapf(vdoerr.ErrInvalidAdminState, "vdo: cannot resume from %s", v.state)
	}
	v.state = AdminResuming
	v.mu.Unlock()

	if err := v.blockMap.Resume(); err != nil {
		return err
	}
	for _, s := range v.slabs {
		switch s.State() {
		case slab.StateDraining, slab.StateSaving:
			if err := s.BeginResume(); err != nil {
				return err
			}
			if err := s.FinishResume(); err != nil {
				return err
			}
		}
	}

	v.mu.Lock()
	v.state = AdminNormal
	v.mu.Unlock()
	return nil
}

// EnableCompression turns on the Compressor consultation in the write path.
func (v *Vdo) EnableCompression() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.compressionEnabled = true
}

// DisableCompression turns off the Compressor consultation; previously
// compressed blocks remain readable (Decompress is unaffected).
func (v *Vdo) DisableCompression() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.compressionEnabled = false
}

// GrowPhysical extends the volume by appending newSlabs to the fleet and
// registering them with the zone allocator and slab summary, the way
// spec §6 describes online physical growth: existing data is untouched,
// and the new slabs start UNRECOVERED until rebuilt or scrubbed the same
// as any slab loaded at start-of-day.
func (v *Vdo) GrowPhysical(newSlabs []*slab.Slab) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state != AdminNormal {
		return errors.Wrapf(vdoerr.ErrInvalidAdminState, "vdo: cannot grow from %s", v.state)
	}
	for _, s := range newSlabs {
		v.slabs = append(v.slabs, s)
		v.allocator.AddSlab(s)
	}
	return nil
}

// MetricsSources exposes the allocator, journal and block-map cache so a
// caller can wire internal/metrics.NewCollector without reaching into the
// aggregate's private fields.
func (v *Vdo) MetricsSources() (*depot.ZoneAllocator, *journal.RecoveryJournal, *blockmap.BlockMap) {
	return v.allocator, v.journal, v.blockMap
}

// State reports the aggregate's current admin state, for a status readout.
func (v *Vdo) State() AdminState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.adminState()
}
