package depot

import (
	"errors"
	"testing"

	"vdo/internal/layout"
	"vdo/internal/slab"
	"vdo/internal/summary"
	"vdo/internal/vdoerr"
)

func newCleanSlab(t *testing.T, number uint64, start layout.PBN, blockCount uint64) *slab.Slab {
	t.Helper()
	s := slab.New(number, start, blockCount, 100, 200, 0xabc)
	if err := s.RebuildRefCounts(); err != nil {
		t.Fatalf("RebuildRefCounts: %v", err)
	}
	if err := s.BeginScrubbing(); err != nil {
		t.Fatalf("BeginScrubbing: %v", err)
	}
	if err := s.FinishScrubbing(); err != nil {
		t.Fatalf("FinishScrubbing: %v", err)
	}
	return s
}

func TestAllocateChoosesEmptiestSlabFirst(t *testing.T) {
	s0 := newCleanSlab(t, 0, 0, 4)
	s1 := newCleanSlab(t, 1, 100, 4)
	summ := summary.New(2, 1)
	summ.Update(0, layout.SummaryEntry{FullnessHint: 63}, func(layout.SummaryEntry) error { return nil })
	summ.Update(1, layout.SummaryEntry{FullnessHint: 1}, func(layout.SummaryEntry) error { return nil })

	z := NewZoneAllocator([]*slab.Slab{s0, s1}, summ, NewVIOPool(4))
	pbn, _, chosen, err := z.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if chosen != s1 {
		t.Errorf("expected the emptier slab 1 chosen first, got slab %d", chosen.Number)
	}
	if pbn != s1.Start {
		t.Errorf("expected pbn %d, got %d", s1.Start, pbn)
	}
}

func TestAllocateBiasesTowardsOpenSlab(t *testing.T) {
	s0 := newCleanSlab(t, 0, 0, 4)
	s1 := newCleanSlab(t, 1, 100, 4)
	summ := summary.New(2, 1)
	summ.Update(0, layout.SummaryEntry{FullnessHint: 1}, func(layout.SummaryEntry) error { return nil })
	summ.Update(1, layout.SummaryEntry{FullnessHint: 63}, func(layout.SummaryEntry) error { return nil })

	z := NewZoneAllocator([]*slab.Slab{s0, s1}, summ, NewVIOPool(4))
	_, _, chosen, err := z.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if chosen != s0 {
		t.Fatalf("expected slab 0 (emptier) chosen first, got slab %d", chosen.Number)
	}

	// Make slab 1 look emptier than slab 0; slab 0 is now open, so it
	// should be tried again first regardless of fullness ordering.
	summ.Update(1, layout.SummaryEntry{FullnessHint: 0}, func(layout.SummaryEntry) error { return nil })
	_, _, chosen2, err := z.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if chosen2 != s0 {
		t.Errorf("expected the currently open slab 0 biased to the front, got slab %d", chosen2.Number)
	}
}

func TestAllocateSkipsScrubbingSlab(t *testing.T) {
	scrubbing := slab.New(0, 0, 4, 100, 200, 0xabc)
	if err := scrubbing.RebuildRefCounts(); err != nil {
		t.Fatalf("RebuildRefCounts: %v", err)
	}
	if err := scrubbing.BeginScrubbing(); err != nil {
		t.Fatalf("BeginScrubbing: %v", err)
	}
	clean := newCleanSlab(t, 1, 100, 4)

	summ := summary.New(2, 1)
	summ.Update(0, layout.SummaryEntry{FullnessHint: 0}, func(layout.SummaryEntry) error { return nil })
	summ.Update(1, layout.SummaryEntry{FullnessHint: 0}, func(layout.SummaryEntry) error { return nil })

	z := NewZoneAllocator([]*slab.Slab{scrubbing, clean}, summ, NewVIOPool(4))
	_, _, chosen, err := z.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if chosen != clean {
		t.Errorf("expected the scrubbing slab skipped, got slab %d", chosen.Number)
	}
}

func TestAllocateFallsThroughFullSlab(t *testing.T) {
	full := newCleanSlab(t, 0, 0, 1)
	if _, err := full.AllocateBlock(); err != nil {
		t.Fatalf("priming allocate: %v", err)
	}
	spare := newCleanSlab(t, 1, 100, 4)

	summ := summary.New(2, 1)
	summ.Update(0, layout.SummaryEntry{FullnessHint: 0}, func(layout.SummaryEntry) error { return nil })
	summ.Update(1, layout.SummaryEntry{FullnessHint: 0}, func(layout.SummaryEntry) error { return nil })

	z := NewZoneAllocator([]*slab.Slab{full, spare}, summ, NewVIOPool(4))
	_, _, chosen, err := z.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if chosen != spare {
		t.Errorf("expected fallthrough to the non-full slab, got slab %d", chosen.Number)
	}
}

func TestAllocateReturnsNoSpaceWhenEveryFleetMemberIsFull(t *testing.T) {
	s0 := newCleanSlab(t, 0, 0, 1)
	s1 := newCleanSlab(t, 1, 100, 1)
	if _, err := s0.AllocateBlock(); err != nil {
		t.Fatalf("priming allocate s0: %v", err)
	}
	if _, err := s1.AllocateBlock(); err != nil {
		t.Fatalf("priming allocate s1: %v", err)
	}

	summ := summary.New(2, 1)
	z := NewZoneAllocator([]*slab.Slab{s0, s1}, summ, NewVIOPool(4))
	_, _, _, err := z.Allocate()
	if !errors.Is(err, vdoerr.ErrNoSpace) {
		t.Fatalf("expected ErrNoSpace, got %v", err)
	}
}

func TestAllocateBlockMapPageSatisfiesAllocatorInterface(t *testing.T) {
	s0 := newCleanSlab(t, 0, 0, 4)
	summ := summary.New(1, 1)
	z := NewZoneAllocator([]*slab.Slab{s0}, summ, NewVIOPool(4))

	pbn, err := z.AllocateBlockMapPage()
	if err != nil {
		t.Fatalf("AllocateBlockMapPage: %v", err)
	}
	if pbn != s0.Start {
		t.Errorf("expected pbn %d, got %d", s0.Start, pbn)
	}
}

func TestFreeBlocksSumsAcrossSlabs(t *testing.T) {
	s0 := newCleanSlab(t, 0, 0, 4)
	s1 := newCleanSlab(t, 1, 100, 6)
	summ := summary.New(2, 1)
	z := NewZoneAllocator([]*slab.Slab{s0, s1}, summ, NewVIOPool(4))

	if got := z.FreeBlocks(); got != 10 {
		t.Errorf("expected 10 free blocks, got %d", got)
	}
	if _, _, _, err := z.Allocate(); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if got := z.FreeBlocks(); got != 9 {
		t.Errorf("expected 9 free blocks after one allocation, got %d", got)
	}
}
