package compress

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLZ4RoundTripsCompressibleData(t *testing.T) {
	c := NewLZ4Compressor(0)
	data := make([]byte, 4096)
	for i := range data {
		data[i] = byte(i % 4)
	}

	packed, ok := c.Compress(data)
	require.True(t, ok)
	require.Less(t, len(packed), len(data))

	back, err := c.Decompress(packed, len(data))
	require.NoError(t, err)
	require.Equal(t, data, back)
}

func TestLZ4DeclinesWhenOverLimit(t *testing.T) {
	c := NewLZ4Compressor(1)
	data := make([]byte, 4096)
	for i := range data {
		data[i] = byte(i % 4)
	}
	_, ok := c.Compress(data)
	require.False(t, ok)
}

func TestNoopCompressorNeverCompresses(t *testing.T) {
	n := NoopCompressor{}
	_, ok := n.Compress([]byte("hello"))
	require.False(t, ok)
}
