package depot

import (
	"sort"
	"sync"

	"vdo/internal/layout"
	"vdo/internal/slab"
	"vdo/internal/summary"
	"vdo/internal/vdoerr"
)

// ZoneAllocator is one zone's partition of the slab fleet: a priority queue
// over its slabs keyed by the slab-summary fullness hint (emptier first),
// biased towards whichever slab is currently open for allocation.
type ZoneAllocator struct {
	mu      sync.Mutex
	slabs   []*slab.Slab
	summary *summary.Summary
	pool    *VIOPool

	openIndex int // index into slabs of the currently open slab, -1 if none
}

// NewZoneAllocator creates a ZoneAllocator over slabs, consulting summary for
// fullness hints and pool for refcount/slab-journal write-back VIOs.
func NewZoneAllocator(slabs []*slab.Slab, summ *summary.Summary, pool *VIOPool) *ZoneAllocator {
	return &ZoneAllocator{slabs: slabs, summary: summ, pool: pool, openIndex: -1}
}

// candidateOrderLocked returns slab indices in allocation-attempt order:
// the open slab first (if any), then the rest ascending by fullness hint
// (emptiest first). Caller must hold z.mu.
func (z *ZoneAllocator) candidateOrderLocked() []int {
	idx := make([]int, 0, len(z.slabs))
	for i := range z.slabs {
		if i != z.openIndex {
			idx = append(idx, i)
		}
	}
	sort.Slice(idx, func(a, b int) bool {
		fa := z.summary.Get(z.slabs[idx[a]].Number).FullnessHint
		fb := z.summary.Get(z.slabs[idx[b]].Number).FullnessHint
		return fa < fb
	})
	if z.openIndex >= 0 {
		idx = append([]int{z.openIndex}, idx...)
	}
	return idx
}

// Allocate picks a slab (preferring the currently open one) and allocates
// one physical block from it. If no slab in this zone has free space, it
// returns vdoerr.ErrNoSpace directly: cross-zone hand-off to a less-full
// zone is out of scope here (see DESIGN.md's Open-question decisions).
func (z *ZoneAllocator) Allocate() (layout.PBN, layout.SBN, *slab.Slab, error) {
	z.mu.Lock()
	defer z.mu.Unlock()
	for _, i := range z.candidateOrderLocked() {
		s := z.slabs[i]
		if !s.CanIssueRefcountIO() {
			continue
		}
		sbn, err := s.AllocateBlock()
		if err != nil {
			continue
		}
		z.openIndex = i
		return s.Start + layout.PBN(sbn), sbn, s, nil
	}
	return 0, 0, nil, vdoerr.ErrNoSpace
}

// AllocateBlockMapPage satisfies internal/blockmap.Allocator, letting the
// block map's tree lazily allocate interior and leaf pages straight from
// this zone's slab fleet.
func (z *ZoneAllocator) AllocateBlockMapPage() (layout.PBN, error) {
	pbn, _, _, err := z.Allocate()
	return pbn, err
}

// Pool returns the zone's VIO pool.
func (z *ZoneAllocator) Pool() *VIOPool { return z.pool }

// AddSlab registers a newly formatted slab with this zone's fleet, for
// online physical growth (spec §6 "GrowPhysical"). The new slab joins the
// fullness-ordered candidate pool on its next Allocate call; it does not
// become the open slab automatically.
func (z *ZoneAllocator) AddSlab(s *slab.Slab) {
	z.mu.Lock()
	defer z.mu.Unlock()
	z.slabs = append(z.slabs, s)
}

// Slabs returns the zone's current slab fleet, for callers (such as
// recovery/rebuild or metrics) that need to enumerate it directly.
func (z *ZoneAllocator) Slabs() []*slab.Slab {
	z.mu.Lock()
	defer z.mu.Unlock()
	return append([]*slab.Slab(nil), z.slabs...)
}

// SlabStateCounts satisfies internal/metrics.SlabSource, tallying how many
// of this zone's slabs currently sit in each admin state.
func (z *ZoneAllocator) SlabStateCounts() map[string]int {
	z.mu.Lock()
	defer z.mu.Unlock()
	counts := make(map[string]int)
	for _, s := range z.slabs {
		counts[s.State().String()]++
	}
	return counts
}

// FreeBlocks sums the free-block count across every slab in this zone.
func (z *ZoneAllocator) FreeBlocks() int {
	z.mu.Lock()
	defer z.mu.Unlock()
	total := 0
	for _, s := range z.slabs {
		total += s.RefCounts.FreeBlocks()
	}
	return total
}
