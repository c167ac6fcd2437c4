package vdo

// Compressor is the external packer/compressor collaborator the write path
// consults before allocation (spec §1: out of scope as an owned component,
// but a live collaborator the core must call through). Compress returns the
// data unchanged with ok=false when it declines (already small, incompressible,
// or compression is currently disabled).
type Compressor interface {
	Compress(data []byte) (packed []byte, ok bool)
	Decompress(packed []byte, size int) ([]byte, error)
}

// DedupeIndex is the external dedup-index collaborator (spec §1: out of
// scope as an owned component). Per-block hashing is also out of scope
// (spec §1); callers that want a dedupe lookup supply their own digest — an
// empty digest means "no dedupe advice available" and the write path
// allocates fresh space unconditionally.
type DedupeIndex interface {
	// Query reports the physical block already storing digest's data, if
	// the index has one on record.
	Query(digest []byte) (pbn uint64, found bool)
	// Update records that digest's data now lives at pbn.
	Update(digest []byte, pbn uint64)
}
