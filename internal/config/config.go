// Package config holds the format-time and run-time parameters shared by
// cmd/mkvdo and cmd/vdoctl: no file format of its own (the teacher's mkfs
// utility takes its layout sizing straight from positional arguments and
// package constants rather than a config file — see
// biscuit/src/mkfs/mkfs.go's nlogblks/ninodeblks/ndatablks), so this
// package is a plain struct plus the defaults, not a parser.
package config

import "vdo/internal/layout"

// Defaults for a freshly formatted volume, mirroring mkfs.go's own
// const-block-of-sizes style (nlogblks/ninodeblks/ndatablks) generalized to
// this module's layout.
const (
	DefaultJournalBlocks    = 4096
	DefaultSlabBlocks       = 1 << 15 // 32768 physical blocks per slab
	DefaultFlushingThresh   = DefaultSlabBlocks * 2 / 3
	DefaultBlockingThresh   = DefaultSlabBlocks * 5 / 6
	DefaultCacheCapacity    = 16384 // resident block-map page slots
	DefaultCacheMaxAge      = 256   // dirty periods before forced write-back
	DefaultSummaryZoneCount = 1
)

// FormatParams describes a volume's on-disk shape at mkvdo time: how many
// physical blocks the underlying device offers, and the nonce stamped into
// every page and journal block this format writes (distinguishing one
// formatted volume's pages from another's, per layout.DecodePage's nonce
// check).
type FormatParams struct {
	PhysicalBlocks uint64
	Nonce          uint64
}

// Layout builds the region layout this package's defaults imply for a
// device of PhysicalBlocks, reserving a fixed DefaultSlabBlocks blocks for
// the block-map region up front. The reservation does not grow; block-map
// pages that internal/blockmap's tree allocates lazily come from the slab
// fleet instead.
func (p FormatParams) Layout() layout.Layout {
	return layout.Layout{
		PhysicalBlocks:         p.PhysicalBlocks,
		RecoveryJournalSize:    DefaultJournalBlocks,
		SlabSize:               DefaultSlabBlocks,
		ZoneCount:              DefaultSummaryZoneCount,
		BlockMapLeavesReserved: DefaultSlabBlocks,
	}
}

// RuntimeParams describes a volume's in-memory tuning at vdoctl/daemon
// start time: cache sizing and whether compression/dedupe start enabled.
type RuntimeParams struct {
	CacheCapacity      int
	CacheMaxAge        uint64
	CompressionEnabled bool
	DedupeEnabled      bool
	LogLevel           string
}

// DefaultRuntimeParams returns the out-of-the-box daemon tuning.
func DefaultRuntimeParams() RuntimeParams {
	return RuntimeParams{
		CacheCapacity:      DefaultCacheCapacity,
		CacheMaxAge:        DefaultCacheMaxAge,
		CompressionEnabled: false,
		DedupeEnabled:      true,
		LogLevel:           "info",
	}
}
