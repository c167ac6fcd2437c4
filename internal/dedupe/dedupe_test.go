package dedupe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryIndexQueryAfterUpdate(t *testing.T) {
	idx := NewMemoryIndex()
	_, found := idx.Query([]byte("abc"))
	require.False(t, found)

	idx.Update([]byte("abc"), 42)
	pbn, found := idx.Query([]byte("abc"))
	require.True(t, found)
	assert.Equal(t, uint64(42), pbn)
	assert.Equal(t, 1, idx.Len())
}

func TestNoIndexNeverHits(t *testing.T) {
	var n NoIndex
	n.Update([]byte("abc"), 1)
	_, found := n.Query([]byte("abc"))
	require.False(t, found)
}
