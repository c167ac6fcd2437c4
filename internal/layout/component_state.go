package layout

import "encoding/binary"

// Component IDs distinguish the four versioned on-disk component states
// (spec §6, generalized per SPEC_FULL.md
// "Component-state versioning" from just the recovery journal to every
// component).
const (
	ComponentRecoveryJournal = 2
	ComponentSlabDepot       = 3
	ComponentBlockMap        = 4
	ComponentLayout          = 5
)

// ComponentHeaderBytes is the size of the {id, major, minor} prefix shared by
// every component state (spec §6 "Component-state 7.0 encoding").
const ComponentHeaderBytes = 12

// ComponentHeader identifies a component state's type and encoding version.
type ComponentHeader struct {
	ID    uint32
	Major uint32
	Minor uint32
}

func putHeader(buf []byte, h ComponentHeader) {
	binary.LittleEndian.PutUint32(buf[0:4], h.ID)
	binary.LittleEndian.PutUint32(buf[4:8], h.Major)
	binary.LittleEndian.PutUint32(buf[8:12], h.Minor)
}

func getHeader(buf []byte) ComponentHeader {
	return ComponentHeader{
		ID:    binary.LittleEndian.Uint32(buf[0:4]),
		Major: binary.LittleEndian.Uint32(buf[4:8]),
		Minor: binary.LittleEndian.Uint32(buf[8:12]),
	}
}

// RecoveryJournalStateBytes is the size of the encoded recovery-journal
// component state (spec §8 testable-property #3 fixture): a 12-byte header,
// an 8-byte body size, 4 bytes of alignment padding (reserved, always zero),
// and three 8-byte body fields.
const RecoveryJournalStateBytes = 48

// recoveryJournalBodySize is the literal "size" field value recorded in the
// encoding (spec fixture: size=24, i.e. the three trailing u64 fields, not
// counting the header/size/padding preamble).
const recoveryJournalBodySize = 24

// RecoveryJournalState is the recovery journal's persisted component state
// (spec §6 "Component-state 7.0 encoding (recovery journal)").
type RecoveryJournalState struct {
	Start                 uint64 // oldest journal sequence number still needed
	LogicalBlocksUsed     uint64
	BlockMapDataBlocks    uint64
}

// PackRecoveryJournalState encodes s as the exact byte-for-byte layout
// validated by spec §8 testable-property #3.
func PackRecoveryJournalState(s RecoveryJournalState) [RecoveryJournalStateBytes]byte {
	var buf [RecoveryJournalStateBytes]byte
	putHeader(buf[:12], ComponentHeader{ID: ComponentRecoveryJournal, Major: 7, Minor: 0})
	binary.LittleEndian.PutUint64(buf[12:20], recoveryJournalBodySize)
	// buf[20:24] is reserved alignment padding, left zero.
	binary.LittleEndian.PutUint64(buf[24:32], s.Start)
	binary.LittleEndian.PutUint64(buf[32:40], s.LogicalBlocksUsed)
	binary.LittleEndian.PutUint64(buf[40:48], s.BlockMapDataBlocks)
	return buf
}

// UnpackRecoveryJournalState decodes a buffer produced by
// PackRecoveryJournalState. It does not validate the header; callers that
// need to reject foreign/corrupt state should check ID/Major/Minor first via
// DecodeComponentHeader.
func UnpackRecoveryJournalState(buf [RecoveryJournalStateBytes]byte) RecoveryJournalState {
	return RecoveryJournalState{
		Start:              binary.LittleEndian.Uint64(buf[24:32]),
		LogicalBlocksUsed:  binary.LittleEndian.Uint64(buf[32:40]),
		BlockMapDataBlocks: binary.LittleEndian.Uint64(buf[40:48]),
	}
}

// DecodeComponentHeader reads just the {id, major, minor} prefix of an
// encoded component state, for version-gating before decoding the body.
func DecodeComponentHeader(buf []byte) ComponentHeader {
	return getHeader(buf)
}
