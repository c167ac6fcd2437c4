// Package summary implements the Slab Summary (spec §4.3): a compact
// two-byte-per-slab persistent index read at startup to plan scrubbing and
// allocation, partitioned across zones by slab_number mod zone_count, with
// a serialized per-zone write contract that propagates failures to
// read-only.
//
// Grounded on biscuit/src/hashtable/hashtable.go's bucket_t for the
// "one lock serializes one logical shard" shape, here applied per zone
// instead of per hash bucket, and internal/waiter for parking concurrent
// updaters instead of blocking a zone goroutine.
package summary

import (
	"sync"

	"github.com/pkg/errors"

	"vdo/internal/layout"
	"vdo/internal/vdoerr"
	"vdo/internal/waiter"
)

// EntriesPerBlock is the number of packed slab-summary entries in one
// B-sized summary block.
const EntriesPerBlock = layout.B / layout.SummaryEntryBytes

// EncodeBlock packs up to EntriesPerBlock entries into one summary block.
func EncodeBlock(entries []layout.SummaryEntry) [layout.B]byte {
	var buf [layout.B]byte
	n := len(entries)
	if n > EntriesPerBlock {
		n = EntriesPerBlock
	}
	for i := 0; i < n; i++ {
		packed := layout.PackSummaryEntry(entries[i])
		copy(buf[i*layout.SummaryEntryBytes:], packed[:])
	}
	return buf
}

// DecodeBlock unpacks the first count entries from a summary block.
func DecodeBlock(buf [layout.B]byte, count int) []layout.SummaryEntry {
	if count > EntriesPerBlock {
		count = EntriesPerBlock
	}
	out := make([]layout.SummaryEntry, count)
	for i := 0; i < count; i++ {
		var e [layout.SummaryEntryBytes]byte
		copy(e[:], buf[i*layout.SummaryEntryBytes:(i+1)*layout.SummaryEntryBytes])
		out[i] = layout.UnpackSummaryEntry(e)
	}
	return out
}

// zoneState serializes writes to one zone's summary blocks.
type zoneState struct {
	mu      sync.Mutex
	writing bool
	failed  bool
	waiters waiter.Queue
}

// Summary holds every slab's current in-memory entry plus the per-zone
// write-serialization state.
type Summary struct {
	entries   []layout.SummaryEntry
	zones     []*zoneState
	zoneCount int
}

// New creates a Summary for slabCount slabs split across zoneCount zones.
func New(slabCount uint64, zoneCount int) *Summary {
	zones := make([]*zoneState, zoneCount)
	for i := range zones {
		zones[i] = &zoneState{}
	}
	return &Summary{
		entries:   make([]layout.SummaryEntry, slabCount),
		zones:     zones,
		zoneCount: zoneCount,
	}
}

// ZoneFor returns the zone index owning slabNumber's summary entry.
func (s *Summary) ZoneFor(slabNumber uint64) int {
	return int(slabNumber % uint64(s.zoneCount))
}

// Get returns slabNumber's current in-memory entry.
func (s *Summary) Get(slabNumber uint64) layout.SummaryEntry {
	return s.entries[slabNumber]
}

// Update writes slabNumber's new entry via writeFn, calling it on the
// caller's goroutine and returning once it returns, and serializes
// concurrent updates to the same zone. A failed write marks the
// whole zone read-only: this call and every other caller currently waiting
// on the zone receive vdoerr.ErrReadOnly, and every subsequent Update on
// that zone fails the same way until the process restarts.
func (s *Summary) Update(slabNumber uint64, e layout.SummaryEntry, writeFn func(layout.SummaryEntry) error) error {
	z := s.zones[s.ZoneFor(slabNumber)]

	z.mu.Lock()
	for z.writing && !z.failed {
		w := z.waiters.Enqueue()
		z.mu.Unlock()
		w.Wait()
		z.mu.Lock()
	}
	if z.failed {
		z.mu.Unlock()
		return vdoerr.ErrReadOnly
	}
	z.writing = true
	z.mu.Unlock()

	writeErr := writeFn(e)

	z.mu.Lock()
	z.writing = false
	if writeErr != nil {
		z.failed = true
		z.waiters.NotifyAll()
		z.mu.Unlock()
		return errors.Wrapf(vdoerr.ErrReadOnly, "summary: write failed for slab %d: %v", slabNumber, writeErr)
	}
	s.entries[slabNumber] = e
	z.waiters.NotifyNext()
	z.mu.Unlock()
	return nil
}

// Drain blocks until zoneIndex has no write in flight (spec: "Draining a
// zone's summary blocks the ring until the pending write retires").
func (s *Summary) Drain(zoneIndex int) {
	z := s.zones[zoneIndex]
	z.mu.Lock()
	for z.writing {
		w := z.waiters.Enqueue()
		z.mu.Unlock()
		w.Wait()
		z.mu.Lock()
	}
	z.mu.Unlock()
}

// ZoneFailed reports whether zoneIndex has seen a write failure.
func (s *Summary) ZoneFailed(zoneIndex int) bool {
	z := s.zones[zoneIndex]
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.failed
}
