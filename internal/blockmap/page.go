// Package blockmap implements the Block Map & Page Cache (spec §4.1): a
// radix tree translating LBN to (PBN, state), backed by a bounded page
// cache with aged-dirty write-back and lazy leaf/interior-page allocation.
//
// Grounded on biscuit/src/hashtable/hashtable.go's bucket_t chains for the
// "one owner per slot, waiters park on the slot" shape, generalized from a
// hash bucket to a cached block-map page; and biscuit/src/fs/blk.go's
// read/write-through request path for the miss path's read and the
// aged-dirty path's write.
package blockmap

import (
	"vdo/internal/layout"
	"vdo/internal/waiter"
)

// State is a page_info's position in the spec's page-cache state machine:
// FREE -> INCOMING -> RESIDENT -> {DIRTY, OUTGOING} -> RESIDENT | DISCARDED.
type State int

const (
	StateFree State = iota
	StateIncoming
	StateResident
	StateDirty
	StateOutgoing
	StateDiscarded
)

func (s State) String() string {
	switch s {
	case StateFree:
		return "FREE"
	case StateIncoming:
		return "INCOMING"
	case StateResident:
		return "RESIDENT"
	case StateDirty:
		return "DIRTY"
	case StateOutgoing:
		return "OUTGOING"
	case StateDiscarded:
		return "DISCARDED"
	default:
		return "UNKNOWN"
	}
}

// WriteStatus distinguishes a page whose single in-flight write will settle
// it back to RESIDENT from one dirtied again while OUTGOING, which must be
// rewritten the instant the pending write returns (spec §4.1).
type WriteStatus int

const (
	WriteNormal WriteStatus = iota
	WriteDeferred
)

// PageInfo is one cache slot. All field access must happen under the
// owning Cache's mutex.
type PageInfo struct {
	pbn         layout.PBN
	state       State
	writeStatus WriteStatus
	dirtyPeriod uint64
	busy        int
	waiters     waiter.Queue
	entries     []layout.Mapping
	lastWriteGen uint64
	recoveryLock uint64
}

// PBN returns the page's physical block number.
func (p *PageInfo) PBN() layout.PBN { return p.pbn }

// State returns the page's current cache state.
func (p *PageInfo) State() State { return p.state }

// Entry returns the mapping at slot, one of layout.EntriesPerPage entries.
func (p *PageInfo) Entry(slot int) layout.Mapping { return p.entries[slot] }

// SetEntry installs a new mapping at slot.
func (p *PageInfo) SetEntry(slot int, m layout.Mapping) { p.entries[slot] = m }

// RecoveryLock returns the recovery-journal sequence number this page's
// on-disk content already incorporates (spec §4.1 header field), used by
// recovery replay to skip entries the page already reflects.
func (p *PageInfo) RecoveryLock() uint64 { return p.recoveryLock }

// SetRecoveryLock updates the recovery-journal sequence number this page
// reflects. It does not mark the page dirty.
func (p *PageInfo) SetRecoveryLock(v uint64) { p.recoveryLock = v }
