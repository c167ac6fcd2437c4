// Package physio is the physical-block-device boundary: everything above it
// (block map, slab depot, recovery journal) addresses physical blocks
// through the Device interface and never touches a file descriptor or raw
// disk directly.
//
// Grounded on biscuit/src/fs/blk.go's Disk_i interface (Start(*Bdev_req_t)
// bool / Stats() string) and its Bdevcmd_t request-type enum
// (BDEV_WRITE/BDEV_READ/BDEV_FLUSH); this package keeps the same "opaque
// interface in front of a request object" shape but exposes a synchronous
// ReadAt/WriteAt surface instead of the teacher's async request-and-AckCh
// pattern, since every VDO zone already serializes its own device access
// through a single owning goroutine (see internal/zone) and has no need for
// blk.go's separate request queue.
package physio

import "vdo/internal/layout"

// Device is the physical block device VDO is transforming. All addresses
// are physical block numbers (layout.PBN), each B bytes.
type Device interface {
	// ReadAt reads exactly one B-sized block at pbn into buf.
	ReadAt(pbn layout.PBN, buf []byte) error
	// WriteAt writes exactly one B-sized block from buf at pbn.
	WriteAt(pbn layout.PBN, buf []byte) error
	// Flush forces all previously acknowledged writes to stable storage
	// (spec §2: "a write is acknowledged only once ... durable").
	Flush() error
	// Discard informs the device that the given block range no longer
	// holds meaningful data.
	Discard(pbn layout.PBN, count uint64) error
	// Size reports the device capacity in B-sized blocks.
	Size() uint64
}
