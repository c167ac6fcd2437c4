package vdo

import "sync"

// ReadOnlyNotifier broadcasts the transition into read-only mode to every
// interested listener, generalizing biscuit/src/oommsg's single global
// OomCh/Oommsg_t broadcast (one channel, closed to wake every waiter) to an
// arbitrary number of registered channels, since a VDO instance's read-only
// transition has more than one listener (admin zone, metrics, logging) where
// oommsg's OOM notification has exactly one (the allocator retry loop).
type ReadOnlyNotifier struct {
	mu        sync.Mutex
	readOnly  bool
	listeners []chan struct{}
}

// NewReadOnlyNotifier creates a notifier in the normal (not read-only) state.
func NewReadOnlyNotifier() *ReadOnlyNotifier {
	return &ReadOnlyNotifier{}
}

// Listen registers and returns a channel that is closed exactly once, the
// moment the system enters read-only mode. Calling Listen after the
// transition already happened returns an already-closed channel.
func (n *ReadOnlyNotifier) Listen() <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	ch := make(chan struct{})
	if n.readOnly {
		close(ch)
		return ch
	}
	n.listeners = append(n.listeners, ch)
	return ch
}

// Notify transitions into read-only mode and wakes every registered
// listener. A second call is a no-op.
func (n *ReadOnlyNotifier) Notify() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.readOnly {
		return
	}
	n.readOnly = true
	for _, ch := range n.listeners {
		close(ch)
	}
	n.listeners = nil
}

// ReadOnly reports whether Notify has fired.
func (n *ReadOnlyNotifier) ReadOnly() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.readOnly
}
