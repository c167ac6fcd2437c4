// Package layout implements the on-disk address types and the little-endian,
// fixed-width packed encodings spec §3 and §6 describe: block-map entries,
// recovery-journal entries and block headers, slab-journal entries and block
// headers, slab-summary entries, and the versioned component-state header.
//
// It is grounded on biscuit/src/fs/super.go, whose fieldr/fieldw helpers pack
// and unpack fixed-width integer fields out of a raw block; this package
// generalizes that word-granularity scheme to bit-granularity packing (needed
// for sub-byte fields like the 4-bit mapping state and the 10-bit page slot)
// while keeping the same "plain functions over a byte slice" shape rather
// than reflection-based (de)serialization.
package layout

// B is the fixed logical and physical block size in bytes (spec §2).
const B = 4096

// SectorSize is the unit of atomicity the physical layer guarantees (spec §2).
const SectorSize = 512

// SectorsPerBlock is the number of SectorSize sectors in one B-sized block.
const SectorsPerBlock = B / SectorSize

// addrBits is the width of the LBN/PBN/SBN address space (spec §3).
const addrBits = 48
const addrMask = (uint64(1) << addrBits) - 1

// LBN is a logical block number: 0 <= L < logical_blocks.
type LBN uint64

// PBN is a physical block number: 0 <= P < physical_blocks.
type PBN uint64

// SBN is a slab block number: the offset of a block within its slab.
type SBN uint32

// Valid reports whether l fits the 48-bit address space.
func (l LBN) Valid() bool { return uint64(l)&addrMask == uint64(l) }

// Valid reports whether p fits the 48-bit address space.
func (p PBN) Valid() bool { return uint64(p)&addrMask == uint64(p) }
