package main

import (
	"fmt"

	"vdo/internal/blockmap"
	"vdo/internal/compress"
	"vdo/internal/config"
	"vdo/internal/dedupe"
	"vdo/internal/depot"
	"vdo/internal/flush"
	"vdo/internal/journal"
	"vdo/internal/layout"
	"vdo/internal/physio"
	"vdo/internal/recovery"
	"vdo/internal/slab"
	"vdo/internal/summary"
	"vdo/internal/vdo"
	"vdo/internal/vdolog"
)

// handle bundles a live *vdo.Vdo with the layout facts vdoctl's grow
// subcommand needs to format and number additional slabs, and the func to
// release the backing file.
type handle struct {
	vdo       *vdo.Vdo
	lay       layout.Layout
	slabCount uint64
	nonce     uint64
	close     func() error
}

// openVolume reopens an already-formatted image, running whatever recovery
// or rebuild its persisted super block calls for before handing back a live
// *vdo.Vdo, mirroring biscuit/src/ufs/ufs.go's BootFS: load the on-disk
// state, replay what's needed, then return a ready-to-use handle.
func openVolume(imagePath string) (*handle, error) {
	dev, err := physio.OpenFileDevice(imagePath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", imagePath, err)
	}

	sb, err := recovery.LoadSuperBlock(dev)
	if err != nil {
		dev.Close()
		return nil, fmt.Errorf("load super block: %w", err)
	}

	params := config.FormatParams{PhysicalBlocks: dev.Size(), Nonce: sb.Nonce}
	lay := params.Layout()
	slabCount := lay.SlabCount()

	slabs := make([]*slab.Slab, slabCount)
	for n := uint64(0); n < slabCount; n++ {
		slabs[n] = slab.New(n, lay.SlabStart(n), lay.SlabSize, config.DefaultFlushingThresh, config.DefaultBlockingThresh, sb.Nonce)
	}

	summ := summary.New(slabCount, lay.ZoneCount)
	pool := depot.NewVIOPool(depot.ReservedVIOCount(config.DefaultBlockingThresh))
	allocator := depot.NewZoneAllocator(slabs, summ, pool)

	flusher := flush.New()
	rtp := config.DefaultRuntimeParams()
	cache := blockmap.NewCache(dev, flusher, sb.Nonce, rtp.CacheCapacity, rtp.CacheMaxAge)
	j := journal.New(lay.RecoveryJournalSize, sb.Nonce)
	tree := blockmap.NewTree(cache, lay.BlockMapStart(), 1, allocator, j)
	bm := blockmap.New(cache, tree)

	journalDeps := recovery.JournalDeps{
		Device: dev,
		Origin: lay.RecoveryJournalStart(),
		Size:   lay.RecoveryJournalSize,
		Nonce:  sb.Nonce,
	}
	rebuildDeps := recovery.RebuildDeps{
		BlockMapStart:      lay.BlockMapStart(),
		BlockMapBlockCount: lay.BlockMapLeavesReserved,
		Summary:            summ,
		SummaryWrite:       func(layout.SummaryEntry) error { return nil },
	}
	if err := recovery.Run(dev, journalDeps, cache, rebuildDeps, slabs); err != nil {
		dev.Close()
		return nil, fmt.Errorf("recovery: %w", err)
	}

	for _, s := range slabs {
		if s.State() == slab.StateUnrecovered {
			if err := s.BeginScrubbing(); err != nil {
				dev.Close()
				return nil, fmt.Errorf("scrub slab %d: %w", s.Number, err)
			}
			if err := s.FinishScrubbing(); err != nil {
				dev.Close()
				return nil, fmt.Errorf("scrub slab %d: %w", s.Number, err)
			}
		}
	}

	logger := vdolog.New(imagePath)
	v := vdo.New(vdo.Params{
		Device:     dev,
		BlockMap:   bm,
		Journal:    j,
		Flusher:    flusher,
		Allocator:  allocator,
		Summary:    summ,
		Slabs:      slabs,
		Compressor: compress.NoopCompressor{},
		Dedupe:     dedupe.NoIndex{},
		Logger:     logger,
	})

	return &handle{vdo: v, lay: lay, slabCount: slabCount, nonce: sb.Nonce, close: dev.Close}, nil
}

// formatGrownSlab builds the (i+1)-th additional slab for a grow operation,
// numbered after every slab the volume already carries and laid out
// contiguously from startPBN at the volume's standard slab size.
func (h *handle) formatGrownSlab(i uint64, startPBN layout.PBN) (*slab.Slab, error) {
	number := h.slabCount + i
	start := startPBN + layout.PBN(i*h.lay.SlabSize)
	s := slab.New(number, start, h.lay.SlabSize, config.DefaultFlushingThresh, config.DefaultBlockingThresh, h.nonce)
	if err := s.RebuildRefCounts(); err != nil {
		return nil, fmt.Errorf("init slab %d refcounts: %w", number, err)
	}
	if err := s.BeginScrubbing(); err != nil {
		return nil, fmt.Errorf("scrub slab %d: %w", number, err)
	}
	if err := s.FinishScrubbing(); err != nil {
		return nil, fmt.Errorf("scrub slab %d: %w", number, err)
	}
	return s, nil
}
