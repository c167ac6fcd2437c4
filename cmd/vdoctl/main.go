// Command vdoctl is the administrative front end for a formatted volume:
// resume/suspend/save/grow, compression toggling, and a status readout. Its
// flag handling follows talyz-systemd_exporter's kingpin.v2 style
// (package-level kingpin.Flag declarations, kingpin.MustParse dispatching on
// the matched command string) generalized from that exporter's flat flag
// set to a small command tree, since an admin tool naturally groups its
// flags per verb rather than one global namespace.
package main

import (
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	kingpin "gopkg.in/alecthomas/kingpin.v2"

	"vdo/internal/layout"
	"vdo/internal/metrics"
	"vdo/internal/slab"
)

var (
	app   = kingpin.New("vdoctl", "Administer a formatted VDO volume.")
	image = app.Flag("image", "Path to the volume's backing file.").Required().String()

	resumeCmd             = app.Command("resume", "Resume a suspended volume.")
	suspendCmd            = app.Command("suspend", "Suspend the volume, draining dirty state.")
	saveCmd               = app.Command("save", "Save the volume for safe detachment.")
	statusCmd             = app.Command("status", "Print admin state and slab/journal/cache counters.")
	enableCompressionCmd  = app.Command("enable-compression", "Turn on write-path compression.")
	disableCompressionCmd = app.Command("disable-compression", "Turn off write-path compression.")

	growCmd     = app.Command("grow", "Append freshly formatted slabs to the volume.")
	growSlabs   = growCmd.Flag("slabs", "Number of additional slabs to format and attach.").Required().Int()
	growAtPBN   = growCmd.Flag("start-pbn", "First physical block number of the grown region.").Required().Uint64()
)

func main() {
	cmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	h, err := openVolume(*image)
	if err != nil {
		fmt.Printf("vdoctl: %v\n", err)
		os.Exit(1)
	}
	defer h.close()

	switch cmd {
	case resumeCmd.FullCommand():
		err = h.vdo.Resume()
	case suspendCmd.FullCommand():
		err = h.vdo.Suspend()
	case saveCmd.FullCommand():
		err = h.vdo.Save()
	case enableCompressionCmd.FullCommand():
		h.vdo.EnableCompression()
	case disableCompressionCmd.FullCommand():
		h.vdo.DisableCompression()
	case statusCmd.FullCommand():
		err = printStatus(h)
	case growCmd.FullCommand():
		err = grow(h)
	}

	if err != nil {
		fmt.Printf("vdoctl: %v\n", err)
		os.Exit(1)
	}
}

func grow(h *handle) error {
	newSlabs := make([]*slab.Slab, *growSlabs)
	for i := 0; i < *growSlabs; i++ {
		s, err := h.formatGrownSlab(uint64(i), layout.PBN(*growAtPBN))
		if err != nil {
			return err
		}
		newSlabs[i] = s
	}
	return h.vdo.GrowPhysical(newSlabs)
}

// printStatus gathers every metrics.Collector source from the opened volume
// and prints them as plain text, a standalone alternative to scraping the
// same Collector from an HTTP /metrics endpoint.
func printStatus(h *handle) error {
	allocator, journal, blockMap := h.vdo.MetricsSources()
	readOnly := func() bool { return h.vdo.ReadOnlyNotifier().ReadOnly() }
	collector := metrics.NewCollector(allocator, journal, blockMap, readOnly)

	ch := make(chan prometheus.Metric, 16)
	go func() {
		collector.Collect(ch)
		close(ch)
	}()

	fmt.Printf("admin state: %s\n", h.vdo.State())
	for m := range ch {
		var pb dto.Metric
		if err := m.Write(&pb); err != nil {
			return fmt.Errorf("write metric: %w", err)
		}
		fmt.Printf("%s %s\n", m.Desc(), pb.String())
	}
	return nil
}
