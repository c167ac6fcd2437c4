// Package depot implements the Slab Depot (spec §4.2): the zone-partitioned
// fleet of slabs, the priority-queue allocation policy over them, and the
// per-zone VIO pool used for refcount and slab-journal write-back.
//
// Grounded on biscuit/src/mem/mem.go's per-CPU reserve-then-shared-pool
// scheme (pcpuphys_t's freelen/pmaplen caps, falling back to the global free
// list once exhausted) generalized from physical pages to VIO buffers.
package depot

import (
	"sync"

	"vdo/internal/layout"
	"vdo/internal/waiter"
)

// ReservedVIOCount picks the fixed VIO-pool reserve for one slab allocator.
// Spec §5 requires "a drain path flushes without requiring fresh pool
// entries beyond the pool's reserved count"; this repo pins that reserve at
// max(4, blockingThreshold/4), grounded on mem.go's per-CPU caps
// (freelen >= 100 / pmaplen >= 20) before falling back to a shared pool —
// here there is no shared pool to fall back to, so the reserve must be large
// enough that a drain never blocks on fresh allocation.
func ReservedVIOCount(blockingThreshold int) int {
	n := blockingThreshold / 4
	if n < 4 {
		n = 4
	}
	return n
}

// VIO is one pre-allocated, bio-bearing buffer from a VIOPool.
type VIO struct {
	Data  [layout.B]byte
	inUse bool
}

// VIOPool is a fixed-size ring of pre-allocated VIOs. Acquire blocks (via a
// waiter) when the pool is empty rather than allocating fresh; this is what
// makes drain safe without needing more than the reserved count.
type VIOPool struct {
	mu       sync.Mutex
	free     []*VIO
	waiters  waiter.Queue
	reserved int
}

// NewVIOPool creates a VIOPool with reserved pre-allocated VIOs.
func NewVIOPool(reserved int) *VIOPool {
	p := &VIOPool{reserved: reserved}
	for i := 0; i < reserved; i++ {
		p.free = append(p.free, &VIO{})
	}
	return p
}

// Acquire blocks until a VIO is free and returns it.
func (p *VIOPool) Acquire() *VIO {
	p.mu.Lock()
	for len(p.free) == 0 {
		w := p.waiters.Enqueue()
		p.mu.Unlock()
		w.Wait()
		p.mu.Lock()
	}
	v := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	v.inUse = true
	p.mu.Unlock()
	return v
}

// TryAcquire returns a free VIO without blocking, or nil if none is free.
func (p *VIOPool) TryAcquire() *VIO {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) == 0 {
		return nil
	}
	v := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	v.inUse = true
	return v
}

// Release returns v to the pool and wakes one waiter, if any.
func (p *VIOPool) Release(v *VIO) {
	p.mu.Lock()
	v.inUse = false
	p.free = append(p.free, v)
	p.mu.Unlock()
	p.waiters.NotifyNext()
}

// Reserved returns the pool's fixed reserve size.
func (p *VIOPool) Reserved() int { return p.reserved }

// Available returns the number of VIOs currently free.
func (p *VIOPool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}
