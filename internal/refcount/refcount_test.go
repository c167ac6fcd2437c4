package refcount

import (
	"errors"
	"testing"

	"vdo/internal/layout"
	"vdo/internal/vdoerr"
)

func TestAllocateSetsProvisionalAndDecrementsFree(t *testing.T) {
	r := New(8)
	if r.FreeBlocks() != 8 {
		t.Fatalf("FreeBlocks() = %d, want 8", r.FreeBlocks())
	}
	sbn, err := r.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if r.Get(sbn) != Provisional {
		t.Errorf("expected PROVISIONAL after allocate, got %d", r.Get(sbn))
	}
	if r.FreeBlocks() != 7 {
		t.Errorf("FreeBlocks() = %d, want 7", r.FreeBlocks())
	}
}

func TestAllocateExhaustion(t *testing.T) {
	r := New(2)
	for i := 0; i < 2; i++ {
		if _, err := r.Allocate(); err != nil {
			t.Fatalf("Allocate %d: %v", i, err)
		}
	}
	if _, err := r.Allocate(); !errors.Is(err, vdoerr.ErrNoSpace) {
		t.Errorf("expected ErrNoSpace once exhausted, got %v", err)
	}
}

func TestCommitAndAbortProvisional(t *testing.T) {
	r := New(4)
	sbn, _ := r.Allocate()
	if err := r.CommitProvisional(sbn, layout.JournalPoint{Sequence: 1}); err != nil {
		t.Fatalf("CommitProvisional: %v", err)
	}
	if r.Get(sbn) != 1 {
		t.Errorf("expected counter 1 after commit, got %d", r.Get(sbn))
	}

	sbn2, _ := r.Allocate()
	if err := r.AbortProvisional(sbn2); err != nil {
		t.Fatalf("AbortProvisional: %v", err)
	}
	if r.Get(sbn2) != Empty {
		t.Errorf("expected EMPTY after abort, got %d", r.Get(sbn2))
	}
	if r.FreeBlocks() != 3 {
		t.Errorf("FreeBlocks() = %d, want 3 (one committed, one empty again, two untouched)", r.FreeBlocks())
	}
}

func TestIncrementSequence(t *testing.T) {
	r := New(1)
	p := layout.JournalPoint{Sequence: 1}
	if err := r.Increment(0, p, false); err != nil {
		t.Fatalf("Increment from EMPTY: %v", err)
	}
	if r.Get(0) != 1 {
		t.Errorf("got %d, want 1", r.Get(0))
	}
	if err := r.Increment(0, p, false); err != nil {
		t.Fatalf("Increment from 1: %v", err)
	}
	if r.Get(0) != 2 {
		t.Errorf("got %d, want 2", r.Get(0))
	}
}

func TestIncrementSaturatesAtMax(t *testing.T) {
	r := New(1)
	r.counts[0] = Max
	if err := r.Increment(0, layout.JournalPoint{}, false); err != nil {
		t.Fatalf("Increment at Max: %v", err)
	}
	if r.Get(0) != Max {
		t.Errorf("expected Max to saturate, got %d", r.Get(0))
	}
}

func TestBlockMapRemapIncrementJumpsToMax(t *testing.T) {
	r := New(1)
	if err := r.Increment(0, layout.JournalPoint{}, true); err != nil {
		t.Fatalf("Increment block-map-remap: %v", err)
	}
	if r.Get(0) != Max {
		t.Errorf("expected Max, got %d", r.Get(0))
	}
	if r.FreeBlocks() != 0 {
		t.Errorf("expected free blocks to drop, got %d", r.FreeBlocks())
	}
}

func TestDecrementToEmptyFreesBlock(t *testing.T) {
	r := New(1)
	r.Increment(0, layout.JournalPoint{}, false)
	if err := r.Decrement(0, layout.JournalPoint{}); err != nil {
		t.Fatalf("Decrement: %v", err)
	}
	if r.Get(0) != Empty {
		t.Errorf("got %d, want EMPTY", r.Get(0))
	}
	if r.FreeBlocks() != 1 {
		t.Errorf("FreeBlocks() = %d, want 1", r.FreeBlocks())
	}
}

func TestDecrementOfEmptyIsError(t *testing.T) {
	r := New(1)
	if err := r.Decrement(0, layout.JournalPoint{}); !errors.Is(err, vdoerr.ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange decrementing EMPTY, got %v", err)
	}
}

func TestStampRoundTrip(t *testing.T) {
	r := New(CountersPerSector + 1)
	p1 := layout.JournalPoint{Sequence: 10, EntryOffset: 3}
	p2 := layout.JournalPoint{Sequence: 20, EntryOffset: 7}
	r.Increment(0, p1, false)
	r.Increment(layout.SBN(CountersPerSector), p2, false)

	if got := r.Stamp(0); got != p1 {
		t.Errorf("sector 0 stamp = %+v, want %+v", got, p1)
	}
	if got := r.Stamp(layout.SBN(CountersPerSector)); got != p2 {
		t.Errorf("sector 1 stamp = %+v, want %+v", got, p2)
	}
}

func TestEncodeDecodeBlockRoundTrip(t *testing.T) {
	counters := make([]uint8, CountersPerBlock)
	for i := range counters {
		counters[i] = uint8(i % 250)
	}
	stamps := make([]layout.JournalPoint, SectorsPerRefCountBlock)
	for i := range stamps {
		stamps[i] = layout.JournalPoint{Sequence: uint64(i + 1), EntryOffset: uint16(i)}
	}

	buf := EncodeBlock(0xdeadbeef, counters, stamps)
	nonce, gotCounters, gotStamps := DecodeBlock(buf)

	if nonce != 0xdeadbeef {
		t.Errorf("nonce = %x, want deadbeef", nonce)
	}
	for i := range counters {
		if gotCounters[i] != counters[i] {
			t.Fatalf("counter %d mismatch: got %d want %d", i, gotCounters[i], counters[i])
		}
	}
	for i := range stamps {
		if gotStamps[i] != stamps[i] {
			t.Fatalf("stamp %d mismatch: got %+v want %+v", i, gotStamps[i], stamps[i])
		}
	}
}

func TestNewFromCountersRecomputesFreeBlocks(t *testing.T) {
	counts := []uint8{Empty, 1, Empty, Max}
	r := NewFromCounters(counts, nil)
	if r.FreeBlocks() != 2 {
		t.Errorf("FreeBlocks() = %d, want 2", r.FreeBlocks())
	}
}
