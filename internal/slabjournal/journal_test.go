package slabjournal

import (
	"errors"
	"testing"

	"vdo/internal/layout"
)

func decEntry(sbn layout.SBN) Entry {
	return Entry{SlabJournalEntry: layout.SlabJournalEntry{SBN: sbn, Increment: false}}
}

func incEntry(sbn layout.SBN) Entry {
	return Entry{SlabJournalEntry: layout.SlabJournalEntry{SBN: sbn, Increment: true}}
}

func TestAppendPairNormal(t *testing.T) {
	j := New(100, 200)
	deferred, err := j.AppendPair(decEntry(1), incEntry(2))
	if err != nil {
		t.Fatalf("AppendPair: %v", err)
	}
	if deferred {
		t.Fatal("expected increment not deferred when space available")
	}
	block := j.currentBlock()
	if len(block.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(block.Entries))
	}
}

func TestAppendPairDefersIncrementWhenNearlyFull(t *testing.T) {
	j := New(100, 200)
	b := j.ensureOpenBlock()
	// Fill the block to exactly one slot remaining.
	for len(b.Entries) < b.Capacity()-1 {
		b.Add(decEntry(0))
	}
	deferred, err := j.AppendPair(decEntry(9), incEntry(10))
	if err != nil {
		t.Fatalf("AppendPair: %v", err)
	}
	if !deferred {
		t.Fatal("expected increment to be deferred with only one slot free")
	}
	if b.Entries[len(b.Entries)-1].SBN != 9 {
		t.Error("expected the decrement to be the one admitted")
	}
}

func TestAppendPairBlockedAtThreshold(t *testing.T) {
	j := New(100, 1)
	j.openBlock().Sealed = true // one unreaped sealed block reaches blockingThreshold=1
	_, err := j.AppendPair(decEntry(1), incEntry(2))
	if !errors.Is(err, ErrBlocked) {
		t.Errorf("expected ErrBlocked, got %v", err)
	}
}

func TestNeedsRefcountFlush(t *testing.T) {
	j := New(2, 100)
	if j.NeedsRefcountFlush() {
		t.Fatal("should not need flush yet")
	}
	j.openBlock().Sealed = true
	j.openBlock().Sealed = true
	if !j.NeedsRefcountFlush() {
		t.Error("expected flush needed once unreaped count reaches flushingThreshold")
	}
}

func TestReapOnlyRemovesSealedUpToSequence(t *testing.T) {
	j := New(100, 100)
	b1 := j.openBlock()
	b1.Sealed = true
	b2 := j.openBlock()
	b2.Sealed = true
	j.openBlock() // b3, left open

	reaped := j.Reap(b2.SequenceNumber)
	if len(reaped) != 2 {
		t.Fatalf("expected 2 reaped blocks, got %d", len(reaped))
	}
	if j.UnreapedCount() != 1 {
		t.Errorf("expected 1 block left, got %d", j.UnreapedCount())
	}
}

func TestBlockCapacityShrinksWithBlockMapIncrement(t *testing.T) {
	var b Block
	if b.Capacity() != EntriesPerBlock {
		t.Fatalf("expected default capacity %d, got %d", EntriesPerBlock, b.Capacity())
	}
	b.Add(Entry{SlabJournalEntry: layout.SlabJournalEntry{SBN: 1}, BlockMapRemap: true})
	if b.Capacity() != FullEntriesPerBlock {
		t.Errorf("expected shrunk capacity %d, got %d", FullEntriesPerBlock, b.Capacity())
	}
	if !b.HasBlockMapIncrements {
		t.Error("expected HasBlockMapIncrements to be set")
	}
}

func TestSealCurrentThenReopen(t *testing.T) {
	j := New(100, 100)
	j.ensureOpenBlock()
	sealed := j.SealCurrent()
	if sealed == nil || !sealed.Sealed {
		t.Fatal("expected current block sealed")
	}
	next := j.ensureOpenBlock()
	if next == sealed {
		t.Error("expected a fresh block after sealing")
	}
}
