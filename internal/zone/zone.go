// Package zone implements the single-owner-goroutine-per-zone concurrency
// model (spec §5): each zone (a logical zone, a physical zone, the recovery
// journal, the admin zone, and — though owned by components outside this
// module's scope — hash zones, the packer, the bio-ack and bio-submission
// threads) runs its work on exactly one dedicated goroutine. Cross-zone
// communication is always a message hand-off onto the target zone's
// goroutine, never a mutex shared between zones.
//
// Grounded on biscuit/src/fs/blk.go's Bdev_req_t/AckCh request-and-callback
// pattern, generalized from one outstanding disk request into a persistent
// per-zone worker loop that drains an arbitrary stream of hand-off
// callbacks.
package zone

import "sync"

// Type names the kind of zone, matching spec §5's thread list for the
// components this module owns (logical, physical, journal, admin). Hash
// zones and the packer/bio-ack/bio-submission threads are external
// collaborators per spec Non-goals and are represented only as the
// interfaces those components would call into, not as zone.Type values.
type Type int

const (
	TypeLogical Type = iota
	TypePhysical
	TypeJournal
	TypeAdmin
)

func (t Type) String() string {
	switch t {
	case TypeLogical:
		return "logical"
	case TypePhysical:
		return "physical"
	case TypeJournal:
		return "journal"
	case TypeAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// ID identifies one zone instance: its type plus an index among zones of
// that type (e.g. physical zone 3 of N physical zones).
type ID struct {
	Type  Type
	Index int
}

// Zone is one single-owner-goroutine work queue. Every mutation of state
// the zone owns must happen inside a callback run on this goroutine.
type Zone struct {
	id      ID
	work    chan func()
	stopped chan struct{}
}

// New starts a zone's worker goroutine with a hand-off queue of the given
// depth and returns it running.
func New(id ID, queueDepth int) *Zone {
	if queueDepth < 1 {
		queueDepth = 1
	}
	z := &Zone{
		id:      id,
		work:    make(chan func(), queueDepth),
		stopped: make(chan struct{}),
	}
	go z.run()
	return z
}

func (z *Zone) run() {
	defer close(z.stopped)
	for fn := range z.work {
		fn()
	}
}

// ID returns the zone's identity.
func (z *Zone) ID() ID { return z.id }

// Send enqueues fn to run on the zone's goroutine, blocking if the queue is
// full. It must never be called from the zone's own goroutine (that would
// deadlock a full queue); a zone that needs to act on itself should just
// call the logic directly instead of hand-off through Send.
func (z *Zone) Send(fn func()) {
	z.work <- fn
}

// TrySend enqueues fn without blocking, reporting whether there was room.
func (z *Zone) TrySend(fn func()) bool {
	select {
	case z.work <- fn:
		return true
	default:
		return false
	}
}

// Stop closes the zone's queue and waits for its goroutine to drain and
// exit. No further Send/TrySend may be called once Stop returns.
func (z *Zone) Stop() {
	close(z.work)
	<-z.stopped
}

// Set is a collection of zones addressable by ID, used to compose
// cross-zone hand-offs (e.g. "enqueue the logical-zone completion onto the
// physical zone that owns the allocation").
type Set struct {
	mu    sync.RWMutex
	zones map[ID]*Zone
	order []ID
}

// NewSet creates an empty zone set.
func NewSet() *Set {
	return &Set{zones: make(map[ID]*Zone)}
}

// Add starts a new zone with the given ID and queue depth and registers it
// in the set.
func (s *Set) Add(id ID, queueDepth int) *Zone {
	z := New(id, queueDepth)
	s.mu.Lock()
	s.zones[id] = z
	s.order = append(s.order, id)
	s.mu.Unlock()
	return z
}

// Get returns the zone registered under id, if any.
func (s *Set) Get(id ID) (*Zone, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	z, ok := s.zones[id]
	return z, ok
}

// Send hands fn off to the zone registered under id. It reports false if no
// such zone is registered.
func (s *Set) Send(id ID, fn func()) bool {
	z, ok := s.Get(id)
	if !ok {
		return false
	}
	z.Send(fn)
	return true
}

// Broadcast hands a callback off to every registered zone, used for
// operations that must touch every zone's state — most notably the
// read-only transition, which every zone must observe on its own goroutine.
func (s *Set) Broadcast(fn func(id ID)) {
	s.mu.RLock()
	ids := append([]ID(nil), s.order...)
	s.mu.RUnlock()
	for _, id := range ids {
		id := id
		s.Send(id, func() { fn(id) })
	}
}

// StopAll stops every zone in the set, waiting for each to drain.
func (s *Set) StopAll() {
	s.mu.RLock()
	ids := append([]ID(nil), s.order...)
	s.mu.RUnlock()
	for _, id := range ids {
		if z, ok := s.Get(id); ok {
			z.Stop()
		}
	}
}
