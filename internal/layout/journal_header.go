package layout

import "encoding/binary"

// Metadata types recorded in journal block headers, distinguishing a
// recovery-journal block from a slab-journal block.
const (
	MetadataRecoveryJournal = 1
	MetadataSlabJournal     = 2
)

// RecoveryBlockHeaderBytes is the encoded size of a RecoveryBlockHeader.
const RecoveryBlockHeaderBytes = 8 * 6 /* u64 fields */ + 1 + 2 + 1 + 1

// RecoveryBlockHeader is the header of one recovery-journal block (spec §3
// "Recovery-journal block header"). All integers are little-endian.
type RecoveryBlockHeader struct {
	BlockMapHead        uint64
	SlabJournalHead     uint64
	SequenceNumber      uint64
	Nonce               uint64
	MetadataType        uint8
	EntryCount          uint16
	LogicalBlocksUsed   uint64
	BlockMapDataBlocks  uint64
	CheckByte           uint8
	RecoveryCount       uint8
}

// Encode writes h's wire form to buf, which must be at least
// RecoveryBlockHeaderBytes long.
func (h RecoveryBlockHeader) Encode(buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], h.BlockMapHead)
	binary.LittleEndian.PutUint64(buf[8:16], h.SlabJournalHead)
	binary.LittleEndian.PutUint64(buf[16:24], h.SequenceNumber)
	binary.LittleEndian.PutUint64(buf[24:32], h.Nonce)
	buf[32] = h.MetadataType
	binary.LittleEndian.PutUint16(buf[33:35], h.EntryCount)
	binary.LittleEndian.PutUint64(buf[35:43], h.LogicalBlocksUsed)
	binary.LittleEndian.PutUint64(buf[43:51], h.BlockMapDataBlocks)
	buf[51] = h.CheckByte
	buf[52] = h.RecoveryCount
}

// DecodeRecoveryBlockHeader reads a RecoveryBlockHeader out of buf.
func DecodeRecoveryBlockHeader(buf []byte) RecoveryBlockHeader {
	return RecoveryBlockHeader{
		BlockMapHead:       binary.LittleEndian.Uint64(buf[0:8]),
		SlabJournalHead:    binary.LittleEndian.Uint64(buf[8:16]),
		SequenceNumber:     binary.LittleEndian.Uint64(buf[16:24]),
		Nonce:              binary.LittleEndian.Uint64(buf[24:32]),
		MetadataType:       buf[32],
		EntryCount:         binary.LittleEndian.Uint16(buf[33:35]),
		LogicalBlocksUsed:  binary.LittleEndian.Uint64(buf[35:43]),
		BlockMapDataBlocks: binary.LittleEndian.Uint64(buf[43:51]),
		CheckByte:          buf[51],
		RecoveryCount:      buf[52],
	}
}

// SlabJournalBlockHeaderBytes is the encoded size of a SlabJournalBlockHeader.
const SlabJournalBlockHeaderBytes = 8 + 8 + JournalPointBytes + 8 + 1 + 1 + 2

// SlabJournalBlockHeader is the header of one slab-journal block (spec §3
// "Slab-journal block header").
type SlabJournalBlockHeader struct {
	Head                   uint64
	SequenceNumber         uint64
	RecoveryPoint          JournalPoint
	Nonce                  uint64
	MetadataType           uint8
	HasBlockMapIncrements  bool
	EntryCount             uint16
}

// Encode writes h's wire form to buf, which must be at least
// SlabJournalBlockHeaderBytes long.
func (h SlabJournalBlockHeader) Encode(buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], h.Head)
	binary.LittleEndian.PutUint64(buf[8:16], h.SequenceNumber)
	PutJournalPoint(buf[16:26], h.RecoveryPoint)
	binary.LittleEndian.PutUint64(buf[26:34], h.Nonce)
	buf[34] = h.MetadataType
	if h.HasBlockMapIncrements {
		buf[35] = 1
	} else {
		buf[35] = 0
	}
	binary.LittleEndian.PutUint16(buf[36:38], h.EntryCount)
}

// DecodeSlabJournalBlockHeader reads a SlabJournalBlockHeader out of buf.
func DecodeSlabJournalBlockHeader(buf []byte) SlabJournalBlockHeader {
	return SlabJournalBlockHeader{
		Head:                  binary.LittleEndian.Uint64(buf[0:8]),
		SequenceNumber:        binary.LittleEndian.Uint64(buf[8:16]),
		RecoveryPoint:         GetJournalPoint(buf[16:26]),
		Nonce:                 binary.LittleEndian.Uint64(buf[26:34]),
		MetadataType:          buf[34],
		HasBlockMapIncrements: buf[35] != 0,
		EntryCount:            binary.LittleEndian.Uint16(buf[36:38]),
	}
}
