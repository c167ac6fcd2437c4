// Package compress provides the Compressor implementations internal/vdo's
// write path calls through (packing/compression itself is an out-of-scope
// collaborator; this package is where a concrete one lives).
package compress

import (
	"github.com/pierrec/lz4/v4"

	"vdo/internal/layout"
)

// LZ4Compressor packs a data block with LZ4 block-format compression,
// declining (ok=false) whenever the packed form would not fit in a single
// compressed fragment slot (spec's CompressedSlots-sized packing region) or
// whenever LZ4 itself reports no gain.
type LZ4Compressor struct {
	// MaxPackedSize bounds how small the compressed form must be to be
	// worth using the packer's slot; zero uses layout.B (never pack a
	// block into something no smaller than itself).
	MaxPackedSize int
}

// NewLZ4Compressor returns an LZ4Compressor capping packed output at limit
// bytes (the size of the packer bin fragment this block would occupy).
func NewLZ4Compressor(limit int) *LZ4Compressor {
	return &LZ4Compressor{MaxPackedSize: limit}
}

func (c *LZ4Compressor) maxPackedSize() int {
	if c.MaxPackedSize > 0 {
		return c.MaxPackedSize
	}
	return layout.B
}

// Compress implements vdo.Compressor.
func (c *LZ4Compressor) Compress(data []byte) ([]byte, bool) {
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	var compressor lz4.Compressor
	n, err := compressor.CompressBlock(data, dst)
	if err != nil || n == 0 || n >= c.maxPackedSize() {
		return nil, false
	}
	return dst[:n], true
}

// Decompress implements vdo.Compressor.
func (c *LZ4Compressor) Decompress(packed []byte, size int) ([]byte, error) {
	dst := make([]byte, size)
	n, err := lz4.UncompressBlock(packed, dst)
	if err != nil {
		return nil, err
	}
	return dst[:n], nil
}

// NoopCompressor never compresses; used when compression is disabled at
// format time or in tests that don't want packing noise.
type NoopCompressor struct{}

func (NoopCompressor) Compress(data []byte) ([]byte, bool) { return nil, false }

func (NoopCompressor) Decompress(packed []byte, size int) ([]byte, error) {
	out := make([]byte, size)
	copy(out, packed)
	return out, nil
}
