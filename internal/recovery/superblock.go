// Package recovery implements the Recovery & Rebuild procedures (spec §4.6):
// DIRTY replay of the recovery journal into the block map and slab
// refcounts, and a FORCE_REBUILD walk of the block map that reconstructs
// refcounts from scratch when the journal itself cannot be trusted.
//
// Grounded on biscuit/src/ufs/ufs.go's log-replay-then-mount sequencing
// (apply the log, then bring the filesystem up) and
// biscuit/src/mkfs/mkfs.go's super-block stamping for the persisted
// completion counters.
package recovery

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"vdo/internal/layout"
	"vdo/internal/physio"
)

// VDOState is the on-load trigger recorded in the super block (spec §4.6
// "Triggering states").
type VDOState uint8

const (
	StateNew VDOState = iota
	StateNormal
	StateDirty
	StateForceRebuild
	StateReplaying
)

// Stage marks how far a Recovery or Rebuild has progressed, so a second
// crash mid-recovery knows where to resume (spec §4.6 "Crash-during-
// recovery").
type Stage uint8

const (
	StageNotStarted Stage = iota
	StageBlockMapDone
	StageRefcountsDone
	StageComplete
)

// SuperBlockBytes is the encoded size of a SuperBlock.
const SuperBlockBytes = layout.ComponentHeaderBytes + 1 + 1 + 8 + 8 + 8

// componentSuperBlock is this implementation's component ID for the super
// block itself, distinct from internal/layout's component-state IDs (2-5).
// The super block holds none of those states; besides its header it
// carries the volume state, the recovery stage reached, the recovery
// counters and the nonce.
const componentSuperBlock = 1

// SuperBlock is the volume's persisted root record: the state that decides
// whether to recover, rebuild, or start clean, plus the restart-point and
// lifetime recovery counters.
type SuperBlock struct {
	State              VDOState
	RecoveryStage      Stage
	CompleteRecoveries uint64
	ReadOnlyRecoveries uint64
	// Nonce is the value mkvdo stamped into every block-map page and
	// journal block at format time (spec §6's per-page nonce check);
	// persisted here so a later load knows what to validate pages
	// against without a separate geometry record.
	Nonce uint64
}

// Encode packs sb into its on-disk wire form.
func (sb SuperBlock) Encode() [SuperBlockBytes]byte {
	var buf [SuperBlockBytes]byte
	binary.LittleEndian.PutUint32(buf[0:4], componentSuperBlock)
	binary.LittleEndian.PutUint32(buf[4:8], 1) // major
	binary.LittleEndian.PutUint32(buf[8:12], 0) // minor
	buf[12] = byte(sb.State)
	buf[13] = byte(sb.RecoveryStage)
	binary.LittleEndian.PutUint64(buf[14:22], sb.CompleteRecoveries)
	binary.LittleEndian.PutUint64(buf[22:30], sb.ReadOnlyRecoveries)
	binary.LittleEndian.PutUint64(buf[30:38], sb.Nonce)
	return buf
}

// DecodeSuperBlock unpacks a buffer produced by Encode.
func DecodeSuperBlock(buf [SuperBlockBytes]byte) SuperBlock {
	return SuperBlock{
		State:              VDOState(buf[12]),
		RecoveryStage:      Stage(buf[13]),
		CompleteRecoveries: binary.LittleEndian.Uint64(buf[14:22]),
		ReadOnlyRecoveries: binary.LittleEndian.Uint64(buf[22:30]),
		Nonce:              binary.LittleEndian.Uint64(buf[30:38]),
	}
}

// LoadSuperBlock reads and decodes the super block from dev.
func LoadSuperBlock(dev physio.Device) (SuperBlock, error) {
	var buf [layout.B]byte
	if err := dev.ReadAt(0, buf[:]); err != nil {
		return SuperBlock{}, errors.Wrap(err, "recovery: read super block")
	}
	var sbuf [SuperBlockBytes]byte
	copy(sbuf[:], buf[:SuperBlockBytes])
	return DecodeSuperBlock(sbuf), nil
}

// SaveSuperBlock persists sb to dev's fixed super-block PBN, flushing so the
// write is durable before any caller treats the recorded stage as complete
// (spec §4.6: "every stage persists its completion to the super block
// before moving on").
func SaveSuperBlock(dev physio.Device, sb SuperBlock) error {
	var buf [layout.B]byte
	encoded := sb.Encode()
	copy(buf[:], encoded[:])
	if err := dev.WriteAt(0, buf[:]); err != nil {
		return errors.Wrap(err, "recovery: write super block")
	}
	return dev.Flush()
}
