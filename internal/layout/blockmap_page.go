package layout

import "encoding/binary"

// BlockMapPageHeaderBytes is the encoded size of a BlockMapPageHeader; it is
// the same constant EntriesPerPage's capacity is computed from.
const BlockMapPageHeaderBytes = blockMapPageHeaderBytes

// BlockMapPageHeader frames every block-map page (root, interior, and leaf
// alike). A page whose Nonce does not match the volume's current nonce on
// read-back failed validation (spec §4.1: "a leaf allocated but never filled
// must read back as BLOCK_MAP_PAGE_INVALID").
type BlockMapPageHeader struct {
	Nonce          uint64
	PBN            PBN
	RecoveryLock   uint64
	Initialized    bool
	EntriesWritten uint16
}

// Encode writes h's wire form to buf, which must be at least
// BlockMapPageHeaderBytes long.
func (h BlockMapPageHeader) Encode(buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], h.Nonce)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(h.PBN))
	binary.LittleEndian.PutUint64(buf[16:24], h.RecoveryLock)
	if h.Initialized {
		buf[24] = 1
	} else {
		buf[24] = 0
	}
	binary.LittleEndian.PutUint16(buf[25:27], h.EntriesWritten)
}

// DecodeBlockMapPageHeader reads a BlockMapPageHeader out of buf.
func DecodeBlockMapPageHeader(buf []byte) BlockMapPageHeader {
	return BlockMapPageHeader{
		Nonce:          binary.LittleEndian.Uint64(buf[0:8]),
		PBN:            PBN(binary.LittleEndian.Uint64(buf[8:16])),
		RecoveryLock:   binary.LittleEndian.Uint64(buf[16:24]),
		Initialized:    buf[24] != 0,
		EntriesWritten: binary.LittleEndian.Uint16(buf[25:27]),
	}
}

// EncodePage packs h and up to EntriesPerPage entries into one B-sized page.
func EncodePage(h BlockMapPageHeader, entries []Mapping) [B]byte {
	var buf [B]byte
	h.Encode(buf[:BlockMapPageHeaderBytes])
	n := len(entries)
	if n > EntriesPerPage {
		n = EntriesPerPage
	}
	for i := 0; i < n; i++ {
		packed := PackMapping(entries[i])
		off := BlockMapPageHeaderBytes + i*MappingPackedSize
		copy(buf[off:], packed[:])
	}
	return buf
}

// DecodePage unpacks a page's header and EntriesPerPage entries.
func DecodePage(buf [B]byte) (BlockMapPageHeader, []Mapping) {
	h := DecodeBlockMapPageHeader(buf[:BlockMapPageHeaderBytes])
	entries := make([]Mapping, EntriesPerPage)
	for i := 0; i < EntriesPerPage; i++ {
		var e [MappingPackedSize]byte
		off := BlockMapPageHeaderBytes + i*MappingPackedSize
		copy(e[:], buf[off:off+MappingPackedSize])
		entries[i] = UnpackMapping(e)
	}
	return h, entries
}
