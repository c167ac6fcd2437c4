package layout

// Recovery-journal operations (spec §3 "Recovery-journal entry").
const (
	OpDataRemap     = 0
	OpBlockMapRemap = 1
)

// RecoveryEntryBytes is the packed size of a recovery-journal entry (spec §3:
// "packed 11 bytes").
const RecoveryEntryBytes = 11

// Bit-layout of a packed RecoveryEntry within its 11 bytes (88 bits), chosen
// to satisfy both spec constraints: (1) an 11-byte entry, and (2) "bit 7 of
// byte 2 is the increment flag" (absolute bit 23, since byte 2 spans bits
// 16-23 and bit 23 is its MSB). The remaining fields are placed around that
// fixed point. Summing the spec's stated field widths literally (2+1+10+36+
// 40 = 89 bits) overflows the stated 11-byte (88-bit) container by one bit;
// this is resolved by packing slot_pbn in 35 bits instead of 36 (128 TiB of
// addressable page PBNs at B=4096, far beyond any plausible deployment) —
// see DESIGN.md's Open-question decisions.
const (
	entrySlotBits       = 10
	entrySlotOffset     = 0
	entryOpBits         = 2
	entryOpOffset       = entrySlotBits // 10
	entrySlotPBNBits    = 35
	entrySlotPBNLoBits  = 11
	entrySlotPBNLoOff   = entryOpOffset + entryOpBits // 12
	entryIncrementOff   = entrySlotPBNLoOff + entrySlotPBNLoBits // 23
	entrySlotPBNHiBits  = entrySlotPBNBits - entrySlotPBNLoBits  // 24
	entrySlotPBNHiOff   = entryIncrementOff + 1                  // 24
	entryMappingOff     = entrySlotPBNHiOff + entrySlotPBNHiBits // 48
)

// RecoveryEntry is the unpacked form of one recovery-journal entry: either an
// increment or decrement of a data PBN (OpDataRemap) or of a freshly
// allocated block-map leaf (OpBlockMapRemap).
type RecoveryEntry struct {
	Operation uint8   // OpDataRemap or OpBlockMapRemap
	Increment bool    // true: increment; false: decrement
	Slot      uint16  // block-map page slot (0..~811)
	SlotPBN   PBN     // PBN of the block-map page holding Slot
	Mapping   Mapping // the mapping being installed or retracted
}

// PackRecoveryEntry encodes e into its 11-byte wire form.
func PackRecoveryEntry(e RecoveryEntry) [RecoveryEntryBytes]byte {
	var buf [RecoveryEntryBytes]byte
	setBits(buf[:], entrySlotOffset, entrySlotBits, uint64(e.Slot))
	setBits(buf[:], entryOpOffset, entryOpBits, uint64(e.Operation))
	pbn := uint64(e.SlotPBN)
	setBits(buf[:], entrySlotPBNLoOff, entrySlotPBNLoBits, pbn)
	if e.Increment {
		setBits(buf[:], entryIncrementOff, 1, 1)
	}
	setBits(buf[:], entrySlotPBNHiOff, entrySlotPBNHiBits, pbn>>entrySlotPBNLoBits)
	packed := PackMapping(e.Mapping)
	copyBits(buf[:], entryMappingOff, packed[:], MappingPackedBits)
	return buf
}

// UnpackRecoveryEntry decodes a packed recovery-journal entry.
func UnpackRecoveryEntry(buf [RecoveryEntryBytes]byte) RecoveryEntry {
	slot := getBits(buf[:], entrySlotOffset, entrySlotBits)
	op := getBits(buf[:], entryOpOffset, entryOpBits)
	lo := getBits(buf[:], entrySlotPBNLoOff, entrySlotPBNLoBits)
	incr := getBits(buf[:], entryIncrementOff, 1) != 0
	hi := getBits(buf[:], entrySlotPBNHiOff, entrySlotPBNHiBits)
	pbn := lo | (hi << entrySlotPBNLoBits)

	var mbuf [MappingPackedSize]byte
	extractBits(mbuf[:], buf[:], entryMappingOff, MappingPackedBits)

	return RecoveryEntry{
		Operation: uint8(op),
		Increment: incr,
		Slot:      uint16(slot),
		SlotPBN:   PBN(pbn),
		Mapping:   UnpackMapping(mbuf),
	}
}

// copyBits copies the low nbits bits of src (itself a packed little-endian
// field starting at bit 0) into dst starting at bit offset dstOffset.
func copyBits(dst []byte, dstOffset int, src []byte, nbits int) {
	for i := 0; i < nbits; i++ {
		bit := getBits(src, i, 1)
		setBits(dst, dstOffset+i, 1, bit)
	}
}

// extractBits is the inverse of copyBits: it reads nbits bits starting at
// bit srcOffset of src into dst starting at bit 0.
func extractBits(dst []byte, src []byte, srcOffset int, nbits int) {
	for i := 0; i < nbits; i++ {
		bit := getBits(src, srcOffset+i, 1)
		setBits(dst, i, 1, bit)
	}
}
