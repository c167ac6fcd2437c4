package blockmap

import (
	"errors"
	"testing"

	"vdo/internal/flush"
	"vdo/internal/layout"
	"vdo/internal/physio"
	"vdo/internal/vdoerr"
)

const nonce = 0xfeed

func newTestCache(dev physio.Device, capacity int, maxAge uint64) *Cache {
	return NewCache(dev, flush.New(), nonce, capacity, maxAge)
}

func formatPage(dev *physio.MemoryDevice, pbn layout.PBN, entries []layout.Mapping) {
	header := layout.BlockMapPageHeader{Nonce: nonce, PBN: pbn, Initialized: true, EntriesWritten: uint16(len(entries))}
	buf := layout.EncodePage(header, entries)
	if err := dev.WriteAt(pbn, buf[:]); err != nil {
		panic(err)
	}
}

func TestGetPageReadsThroughOnMiss(t *testing.T) {
	dev := physio.NewMemoryDevice(16)
	entries := make([]layout.Mapping, layout.EntriesPerPage)
	entries[0] = layout.Mapping{PBN: 55, State: layout.MappingStateUncompressed}
	formatPage(dev, 3, entries)

	c := newTestCache(dev, 4, 10)
	pi, err := c.GetPage(3, false)
	if err != nil {
		t.Fatalf("GetPage: %v", err)
	}
	if pi.State() != StateResident {
		t.Errorf("expected RESIDENT, got %s", pi.State())
	}
	if got := pi.Entry(0); got != entries[0] {
		t.Errorf("entry 0 = %+v, want %+v", got, entries[0])
	}
	c.ReleasePage(pi)
}

func TestGetPageUnformattedTreatedAsUnmapped(t *testing.T) {
	dev := physio.NewMemoryDevice(16)
	c := newTestCache(dev, 4, 10)
	pi, err := c.GetPage(5, false)
	if err != nil {
		t.Fatalf("GetPage: %v", err)
	}
	for i := 0; i < 3; i++ {
		if pi.Entry(i).IsMapped() {
			t.Errorf("expected unformatted page entry %d unmapped", i)
		}
	}
	c.ReleasePage(pi)
}

func TestGetPageNonceMismatchIsOutOfRange(t *testing.T) {
	dev := physio.NewMemoryDevice(16)
	header := layout.BlockMapPageHeader{Nonce: 0x1111, PBN: 2, Initialized: true}
	buf := layout.EncodePage(header, make([]layout.Mapping, layout.EntriesPerPage))
	dev.WriteAt(2, buf[:])

	c := newTestCache(dev, 4, 10)
	_, err := c.GetPage(2, false)
	if !errors.Is(err, vdoerr.ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
	if _, cached := c.pages[2]; cached {
		t.Error("expected invalid page not to remain cached")
	}
}

func TestMarkDirtyAndAdvanceEraWritesBack(t *testing.T) {
	dev := physio.NewMemoryDevice(16)
	c := newTestCache(dev, 4, 2)
	pi, _ := c.GetPage(1, true)
	pi.SetEntry(0, layout.Mapping{PBN: 77, State: layout.MappingStateUncompressed})
	c.MarkDirty(pi, 10)
	c.ReleasePage(pi)

	if err := c.AdvanceEra(11); err != nil {
		t.Fatalf("AdvanceEra (too soon): %v", err)
	}
	if pi.State() != StateDirty {
		t.Errorf("expected page still DIRTY before max age elapses, got %s", pi.State())
	}

	if err := c.AdvanceEra(12); err != nil {
		t.Fatalf("AdvanceEra: %v", err)
	}
	if pi.State() != StateResident {
		t.Errorf("expected RESIDENT after write-back, got %s", pi.State())
	}

	var buf [layout.B]byte
	dev.ReadAt(1, buf[:])
	_, entries := layout.DecodePage(buf)
	if entries[0].PBN != 77 {
		t.Errorf("expected write-back to persist entry, got %+v", entries[0])
	}
}

// blockingDevice lets a test hold a write in flight so it can exercise the
// WRITE_STATUS_DEFERRED path: dirtying a page while its write is OUTGOING.
type blockingDevice struct {
	inner        *physio.MemoryDevice
	writeStarted chan struct{}
	proceed      chan struct{}
}

func (d *blockingDevice) ReadAt(pbn layout.PBN, buf []byte) error { return d.inner.ReadAt(pbn, buf) }
func (d *blockingDevice) WriteAt(pbn layout.PBN, buf []byte) error {
	select {
	case d.writeStarted <- struct{}{}:
	default:
	}
	<-d.proceed
	return d.inner.WriteAt(pbn, buf)
}
func (d *blockingDevice) Flush() error                             { return d.inner.Flush() }
func (d *blockingDevice) Discard(pbn layout.PBN, count uint64) error { return d.inner.Discard(pbn, count) }
func (d *blockingDevice) Size() uint64                             { return d.inner.Size() }

func TestWriteDeferredRewritesImmediately(t *testing.T) {
	bd := &blockingDevice{
		inner:        physio.NewMemoryDevice(16),
		writeStarted: make(chan struct{}, 1),
		proceed:      make(chan struct{}),
	}
	c := newTestCache(bd, 4, 0)
	pi, _ := c.GetPage(1, true)
	c.ReleasePage(pi)
	c.MarkDirty(pi, 0)

	done := make(chan error, 1)
	go func() { done <- c.AdvanceEra(1) }()

	<-bd.writeStarted // the write-back is now OUTGOING, mid-flight
	c.MarkDirty(pi, 0) // must flag WRITE_STATUS_DEFERRED, not re-enter DIRTY queue
	close(bd.proceed)

	if err := <-done; err != nil {
		t.Fatalf("AdvanceEra: %v", err)
	}
	if pi.State() != StateResident {
		t.Errorf("expected RESIDENT once the deferred rewrite settles, got %s", pi.State())
	}
}

func TestWriteFailurePropagatesReadOnly(t *testing.T) {
	inner := physio.NewMemoryDevice(16)
	faulty := physio.NewFaultInjectingDevice(inner, physio.FaultPlan{FailWrites: 1})
	c := newTestCache(faulty, 4, 0)

	pi, _ := c.GetPage(1, true)
	c.ReleasePage(pi)
	c.MarkDirty(pi, 0)

	if err := c.AdvanceEra(1); !errors.Is(err, vdoerr.ErrReadOnly) {
		t.Fatalf("expected ErrReadOnly, got %v", err)
	}
	if !c.ReadOnly() {
		t.Error("expected cache to be read-only after a failed write-back")
	}
}

func TestEvictsLeastRecentlyUsedCleanPage(t *testing.T) {
	dev := physio.NewMemoryDevice(16)
	c := newTestCache(dev, 2, 10)

	p1, _ := c.GetPage(1, false)
	c.ReleasePage(p1)
	p2, _ := c.GetPage(2, false)
	c.ReleasePage(p2)

	// Cache at capacity 2; fetching a third page must evict page 1 (LRU).
	p3, err := c.GetPage(3, false)
	if err != nil {
		t.Fatalf("GetPage 3: %v", err)
	}
	c.ReleasePage(p3)

	if _, cached := c.pages[1]; cached {
		t.Error("expected page 1 evicted as least-recently-used")
	}
	if _, cached := c.pages[2]; !cached {
		t.Error("expected page 2 to remain cached")
	}
}

func TestBusyPageNeverEvicted(t *testing.T) {
	dev := physio.NewMemoryDevice(16)
	c := newTestCache(dev, 1, 10)

	p1, _ := c.GetPage(1, false) // held, busy
	_, err := c.GetPage(2, false)
	if err == nil {
		t.Fatal("expected no room to evict a busy sole slot")
	}
	c.ReleasePage(p1)
}

type fakeAllocator struct {
	next layout.PBN
}

func (a *fakeAllocator) AllocateBlockMapPage() (layout.PBN, error) {
	a.next++
	return 1000 + a.next, nil
}

type fakeAppender struct {
	entries []layout.RecoveryEntry
}

func (a *fakeAppender) AppendBlockMapRemap(e layout.RecoveryEntry) error {
	a.entries = append(a.entries, e)
	return nil
}

func TestTreeLookupUnmappedWhenLeafAbsent(t *testing.T) {
	dev := physio.NewMemoryDevice(16)
	c := newTestCache(dev, 8, 10)
	tree := NewTree(c, 0, 1, &fakeAllocator{}, &fakeAppender{})

	m, err := tree.Lookup(5)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if m.IsMapped() {
		t.Errorf("expected unmapped for an untouched leaf, got %+v", m)
	}
}

func TestTreeUpdateThenLookupRoundTrips(t *testing.T) {
	dev := physio.NewMemoryDevice(16)
	c := newTestCache(dev, 8, 10)
	tree := NewTree(c, 0, 1, &fakeAllocator{}, &fakeAppender{})

	mapping := layout.Mapping{PBN: 42, State: layout.MappingStateUncompressed}
	if err := tree.Update(7, mapping, 1); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, err := tree.Lookup(7)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got != mapping {
		t.Errorf("got %+v, want %+v", got, mapping)
	}
}

func TestTreeUpdateAllocatesMissingInteriorPage(t *testing.T) {
	dev := physio.NewMemoryDevice(16)
	c := newTestCache(dev, 8, 10)
	alloc := &fakeAllocator{}
	appender := &fakeAppender{}
	// height 2: root is an interior page whose children are leaves.
	tree := NewTree(c, 0, 2, alloc, appender)

	mapping := layout.Mapping{PBN: 99, State: layout.MappingStateUncompressed}
	lbn := layout.LBN(layout.EntriesPerPage + 3) // forces a non-zero interior slot
	if err := tree.Update(lbn, mapping, 1); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(appender.entries) != 1 {
		t.Fatalf("expected one BLOCK_MAP_REMAP entry for the lazily allocated leaf, got %d", len(appender.entries))
	}
	if appender.entries[0].Operation != layout.OpBlockMapRemap {
		t.Errorf("expected OpBlockMapRemap, got %d", appender.entries[0].Operation)
	}

	got, err := tree.Lookup(lbn)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got != mapping {
		t.Errorf("got %+v, want %+v", got, mapping)
	}
}

func TestBlockMapDrainResumeGatesOperations(t *testing.T) {
	dev := physio.NewMemoryDevice(16)
	c := newTestCache(dev, 8, 10)
	tree := NewTree(c, 0, 1, &fakeAllocator{}, &fakeAppender{})
	bm := New(c, tree)

	if err := bm.Drain(AdminDraining); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if _, err := bm.Lookup(0); !errors.Is(err, vdoerr.ErrInvalidAdminState) {
		t.Errorf("expected Lookup blocked while draining, got %v", err)
	}
	if err := bm.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if _, err := bm.Lookup(0); err != nil {
		t.Errorf("expected Lookup to succeed after resume, got %v", err)
	}
}
