// Package refcount implements the per-slab reference-count array (spec §3
// "Reference count", §4.2 "Slab Depot & Slabs"): one byte per physical
// block number in a slab, an octet-accelerated free-block scan for
// allocation, and the on-disk refcount-block encoding with a per-sector
// recovery-journal journal_point stamp for partial-sector replay.
//
// Grounded on biscuit/src/fs/super.go's fixed-width field packing, reused
// here at byte (not bit) granularity since refcount bytes are already
// byte-aligned, plus biscuit/src/fs/blk.go's Bdev_block_t for the notion of
// a fixed-size on-disk unit addressed by block number.
package refcount

import (
	"encoding/binary"

	"vdo/internal/layout"
)

// Counter values (spec §3 "Reference count").
const (
	Empty       uint8 = 0
	Max         uint8 = 254
	Provisional uint8 = 255
)

// refCountBlockHeaderBytes reserves one full sector for block metadata
// (currently just a nonce, mirroring the nonce every other VDO on-disk
// structure is stamped with for stale-data detection).
const refCountBlockHeaderBytes = layout.SectorSize

// CountersPerSector is the number of reference-count bytes that fit in one
// 512-byte sector alongside its journal_point stamp.
const CountersPerSector = layout.SectorSize - layout.JournalPointBytes

// SectorsPerRefCountBlock is the number of counter-carrying sectors
// following the header sector in one B-sized refcount block.
const SectorsPerRefCountBlock = (layout.B - refCountBlockHeaderBytes) / layout.SectorSize

// CountersPerBlock is the total number of reference counts persisted in one
// on-disk refcount block.
const CountersPerBlock = SectorsPerRefCountBlock * CountersPerSector

// EncodeBlock packs up to CountersPerBlock counters (padded with Empty) and
// their per-sector journal_point stamps into one B-sized block.
func EncodeBlock(nonce uint64, counters []uint8, stamps []layout.JournalPoint) [layout.B]byte {
	var buf [layout.B]byte
	binary.LittleEndian.PutUint64(buf[0:8], nonce)

	for s := 0; s < SectorsPerRefCountBlock; s++ {
		sectorOff := refCountBlockHeaderBytes + s*layout.SectorSize
		lo := s * CountersPerSector
		hi := lo + CountersPerSector
		if lo < len(counters) {
			end := hi
			if end > len(counters) {
				end = len(counters)
			}
			copy(buf[sectorOff:sectorOff+(end-lo)], counters[lo:end])
		}
		var stamp layout.JournalPoint
		if s < len(stamps) {
			stamp = stamps[s]
		}
		layout.PutJournalPoint(buf[sectorOff+CountersPerSector:sectorOff+layout.SectorSize], stamp)
	}
	return buf
}

// DecodeBlock unpacks a block produced by EncodeBlock back into its counters
// and per-sector stamps.
func DecodeBlock(buf [layout.B]byte) (nonce uint64, counters [CountersPerBlock]uint8, stamps [SectorsPerRefCountBlock]layout.JournalPoint) {
	nonce = binary.LittleEndian.Uint64(buf[0:8])
	for s := 0; s < SectorsPerRefCountBlock; s++ {
		sectorOff := refCountBlockHeaderBytes + s*layout.SectorSize
		lo := s * CountersPerSector
		copy(counters[lo:lo+CountersPerSector], buf[sectorOff:sectorOff+CountersPerSector])
		stamps[s] = layout.GetJournalPoint(buf[sectorOff+CountersPerSector : sectorOff+layout.SectorSize])
	}
	return
}
