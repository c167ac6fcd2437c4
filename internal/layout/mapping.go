package layout

// Mapping states (spec §3 "Block-map entry").
const (
	// MappingStateUnmapped: LBN has no mapping; read returns zeros.
	MappingStateUnmapped = 0
	// MappingStateUncompressed: PBN refers to a full data block.
	MappingStateUncompressed = 1
	// CompressedBase is the first of the compressed-fragment-slot states.
	CompressedBase = 2
	// CompressedSlots is the number of distinct compressed fragment slots
	// (states CompressedBase .. CompressedBase+CompressedSlots-1).
	CompressedSlots = 14
)

// mappingPBNBits is the width of the physical block number field packed into
// a Mapping (spec: "pbn: 36 bits"). mappingStateBits is the paired state
// field's width (spec: "state: 4 bits").
const (
	mappingPBNBits   = 36
	mappingStateBits = 4
	// MappingPackedBits is the total width of a packed block-map entry
	// (spec §3: "packed 40 bits").
	MappingPackedBits = mappingPBNBits + mappingStateBits
	// MappingPackedSize is MappingPackedBits rounded up to whole bytes.
	MappingPackedSize = (MappingPackedBits + 7) / 8
)

// Mapping is the in-memory, unpacked form of a block-map entry: a physical
// block number plus its state (spec I-BM2: state encodes exactly one of
// unmapped/uncompressed/compressed-slot-N).
type Mapping struct {
	PBN   PBN
	State uint8
}

// IsMapped reports whether m refers to any physical block.
func (m Mapping) IsMapped() bool { return m.State != MappingStateUnmapped }

// IsCompressed reports whether m refers to a compressed fragment slot.
func (m Mapping) IsCompressed() bool { return m.State >= CompressedBase }

// CompressedSlot returns the fragment slot selected by m's state. Only valid
// when IsCompressed(m) is true.
func (m Mapping) CompressedSlot() int { return int(m.State) - CompressedBase }

// Valid checks invariant I-BM1: a mapping's PBN lies in range, and is zero
// when unmapped.
func (m Mapping) Valid() bool {
	if m.State == MappingStateUnmapped {
		return m.PBN == 0
	}
	return uint64(m.PBN) < (1 << mappingPBNBits)
}

// PackMapping encodes m into a MappingPackedSize-byte little-endian field.
func PackMapping(m Mapping) [MappingPackedSize]byte {
	var buf [MappingPackedSize]byte
	setBits(buf[:], 0, mappingPBNBits, uint64(m.PBN))
	setBits(buf[:], mappingPBNBits, mappingStateBits, uint64(m.State))
	return buf
}

// UnpackMapping decodes a packed block-map entry produced by PackMapping.
func UnpackMapping(buf [MappingPackedSize]byte) Mapping {
	return Mapping{
		PBN:   PBN(getBits(buf[:], 0, mappingPBNBits)),
		State: uint8(getBits(buf[:], mappingPBNBits, mappingStateBits)),
	}
}
