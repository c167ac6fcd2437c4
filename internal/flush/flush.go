// Package flush implements the Flush & Generation Manager (spec §4.5): a
// monotonic generation counter that every in-flight VIO joins on entry, and
// that a flush request advances before waiting for the vacated generation to
// fully land in the recovery journal, giving torn-write protection for
// metadata pages that must never be overwritten in place without an
// intervening flush.
//
// Grounded on biscuit/src/accnt/accnt.go's monotonic tick counter (advance,
// then wait for consumers of the prior tick to finish) and internal/waiter
// for parking flush callers instead of busy-polling a count.
package flush

import (
	"sync"

	"vdo/internal/waiter"
)

// Generation is a monotonically increasing flush epoch. VIOs record which
// generation they joined; a flush never completes until every VIO that
// joined the generation it is flushing has left (i.e. committed to the
// recovery journal).
type Generation uint64

// Manager is the generation counter and per-generation membership tracker.
type Manager struct {
	mu sync.Mutex

	current Generation
	pending map[Generation]int
	waiters map[Generation]*waiter.Queue

	flushing     bool
	flushWaiters waiter.Queue

	hasFlushed     bool
	flushedThrough Generation
}

// New creates a Manager starting at generation 0.
func New() *Manager {
	return &Manager{
		pending: make(map[Generation]int),
		waiters: make(map[Generation]*waiter.Queue),
	}
}

// Join records that a VIO is beginning work in the current generation and
// returns that generation; the caller must call Leave(gen) once the VIO's
// recovery-journal entry has committed.
func (m *Manager) Join() Generation {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := m.current
	m.pending[g]++
	return g
}

// Leave records that a VIO which joined generation g has committed. If this
// was the last outstanding VIO for g, any flush waiting on g is woken.
func (m *Manager) Leave(g Generation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[g]--
	if m.pending[g] > 0 {
		return
	}
	delete(m.pending, g)
	if q, ok := m.waiters[g]; ok {
		q.NotifyAll()
		delete(m.waiters, g)
	}
}

// Current returns the generation new VIOs would join right now.
func (m *Manager) Current() Generation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// FlushedThrough returns the highest generation guaranteed fully committed
// to the recovery journal by a completed flush.
func (m *Manager) FlushedThrough() Generation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushedThrough
}

// RequiresFlushBeforeOverwrite reports whether a second in-place write to a
// page last written in lastWriteGeneration must wait for a flush first: true
// whenever no flush has landed since that write, which is exactly the
// torn-write hazard spec §4.5 forbids.
func (m *Manager) RequiresFlushBeforeOverwrite(lastWriteGeneration Generation) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasFlushed {
		return true
	}
	return lastWriteGeneration > m.flushedThrough
}

// Flush advances the current generation so new VIOs join the next one, then
// blocks until every VIO that had already joined the vacated generation has
// committed, and returns that generation. Overlapping Flush calls serialize
// on the same generation counter: only one flush advances the counter and
// drains at a time.
func (m *Manager) Flush() Generation {
	m.mu.Lock()
	for m.flushing {
		w := m.flushWaiters.Enqueue()
		m.mu.Unlock()
		w.Wait()
		m.mu.Lock()
	}
	m.flushing = true
	target := m.current
	m.current++

	for m.pending[target] > 0 {
		q, ok := m.waiters[target]
		if !ok {
			q = &waiter.Queue{}
			m.waiters[target] = q
		}
		w := q.Enqueue()
		m.mu.Unlock()
		w.Wait()
		m.mu.Lock()
	}

	if !m.hasFlushed || target >= m.flushedThrough {
		m.flushedThrough = target
		m.hasFlushed = true
	}
	m.flushing = false
	m.mu.Unlock()
	m.flushWaiters.NotifyAll()
	return target
}
