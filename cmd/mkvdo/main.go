// Command mkvdo formats a new volume: it creates (or truncates) the backing
// file to the requested size, stamps an empty super block, recovery
// journal, slab summary, and slab fleet, and writes a StateNormal super
// block (with every slab already scrubbed CLEAN) so the first start-of-day
// brings the volume up clean rather than running a recovery.
//
// Usage mirrors biscuit/src/mkfs/mkfs.go's own positional-argument style
// rather than a flag library: a format tool takes a fixed, small number of
// required arguments and nothing else.
package main

import (
	"fmt"
	"os"
	"strconv"

	"vdo/internal/config"
	"vdo/internal/layout"
	"vdo/internal/physio"
	"vdo/internal/recovery"
	"vdo/internal/slab"
	"vdo/internal/summary"
)

func usage() {
	fmt.Printf("Usage: mkvdo <image path> <physical blocks> [nonce]\n")
}

func main() {
	if len(os.Args) < 3 {
		usage()
		os.Exit(1)
	}

	imagePath := os.Args[1]
	physicalBlocks, err := strconv.ParseUint(os.Args[2], 10, 64)
	if err != nil {
		fmt.Printf("mkvdo: invalid physical block count %q: %v\n", os.Args[2], err)
		os.Exit(1)
	}

	var nonce uint64 = 1
	if len(os.Args) >= 4 {
		nonce, err = strconv.ParseUint(os.Args[3], 10, 64)
		if err != nil {
			fmt.Printf("mkvdo: invalid nonce %q: %v\n", os.Args[3], err)
			os.Exit(1)
		}
	}

	if err := format(imagePath, physicalBlocks, nonce); err != nil {
		fmt.Printf("mkvdo: %v\n", err)
		os.Exit(1)
	}
}

func format(imagePath string, physicalBlocks, nonce uint64) error {
	f, err := os.OpenFile(imagePath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("create image: %w", err)
	}
	if err := f.Truncate(int64(physicalBlocks) * layout.B); err != nil {
		f.Close()
		return fmt.Errorf("size image: %w", err)
	}
	f.Close()

	dev, err := physio.OpenFileDevice(imagePath)
	if err != nil {
		return fmt.Errorf("open image: %w", err)
	}
	defer dev.Close()

	params := config.FormatParams{PhysicalBlocks: physicalBlocks, Nonce: nonce}
	lay := params.Layout()
	slabCount := lay.SlabCount()
	if slabCount == 0 {
		return fmt.Errorf("physical block count %d too small for even one slab", physicalBlocks)
	}

	summ := summary.New(slabCount, lay.ZoneCount)
	for n := uint64(0); n < slabCount; n++ {
		s := slab.New(n, lay.SlabStart(n), lay.SlabSize, config.DefaultFlushingThresh, config.DefaultBlockingThresh, nonce)
		if err := s.RebuildRefCounts(); err != nil {
			return fmt.Errorf("init slab %d refcounts: %w", n, err)
		}
		// A freshly formatted slab has nothing to recover: scrub it clean
		// immediately rather than leaving UNRECOVERED for a load-time
		// recovery pass that a brand-new volume will never trigger (Run's
		// StateNew/StateNormal case is a no-op, per internal/recovery).
		if err := s.BeginScrubbing(); err != nil {
			return fmt.Errorf("scrub slab %d: %w", n, err)
		}
		if err := s.FinishScrubbing(); err != nil {
			return fmt.Errorf("scrub slab %d: %w", n, err)
		}
		entry := layout.SummaryEntry{FullnessHint: 0, TailBlockOffset: 0, LoadRefCounts: false}
		if err := summ.Update(n, entry, func(layout.SummaryEntry) error { return nil }); err != nil {
			return fmt.Errorf("init slab %d summary: %w", n, err)
		}
	}

	sb := recovery.SuperBlock{
		State:              recovery.StateNormal,
		RecoveryStage:      recovery.StageNotStarted,
		CompleteRecoveries: 0,
		ReadOnlyRecoveries: 0,
		Nonce:              nonce,
	}
	if err := recovery.SaveSuperBlock(dev, sb); err != nil {
		return fmt.Errorf("write super block: %w", err)
	}

	fmt.Printf("mkvdo: formatted %s: %d physical blocks, %d slabs of %d blocks each, %d-block recovery journal\n",
		imagePath, physicalBlocks, slabCount, lay.SlabSize, lay.RecoveryJournalSize)
	return nil
}
