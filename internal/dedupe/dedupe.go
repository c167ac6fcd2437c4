// Package dedupe provides the DedupeIndex implementations internal/vdo's
// write path consults (the dedup index itself — its chunk-size trade-offs,
// sparse/dense index format, UDS-style resident/sparse chapters — is out of
// scope; this package gives the Compressor-style external collaborator a
// concrete, swappable home).
package dedupe

import "sync"

// MemoryIndex is an in-memory exact-match index keyed by caller-supplied
// digest, suitable for a single-host volume's working set or for tests; it
// never evicts, trading memory for always-hit recall.
type MemoryIndex struct {
	mu  sync.Mutex
	idx map[string]uint64
}

// NewMemoryIndex creates an empty index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{idx: make(map[string]uint64)}
}

// Query implements vdo.DedupeIndex.
func (m *MemoryIndex) Query(digest []byte) (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pbn, ok := m.idx[string(digest)]
	return pbn, ok
}

// Update implements vdo.DedupeIndex.
func (m *MemoryIndex) Update(digest []byte, pbn uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.idx[string(digest)] = pbn
}

// Len reports how many digests the index currently tracks.
func (m *MemoryIndex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.idx)
}

// NoIndex never reports a dedupe hit and discards every update; the
// deliberate choice for a volume formatted with dedup disabled.
type NoIndex struct{}

func (NoIndex) Query(digest []byte) (uint64, bool) { return 0, false }
func (NoIndex) Update(digest []byte, pbn uint64)   {}
