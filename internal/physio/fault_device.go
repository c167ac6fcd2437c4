package physio

import (
	"sync"

	"github.com/pkg/errors"

	"vdo/internal/layout"
	"vdo/internal/vdoerr"
)

// FaultPlan describes which operations a FaultInjectingDevice should fail,
// and how many times before reverting to passing the call through.
type FaultPlan struct {
	FailReads    int
	FailWrites   int
	FailFlushes  int
	FailDiscards int
}

// FaultInjectingDevice wraps another Device and synthesizes vdoerr.ErrInjected
// failures per FaultPlan, used by recovery-path tests that must exercise a
// crash mid-write without an actual power failure (spec §5: "recovery must
// tolerate a crash at any point between the journal commit and the block-map
// write-back").
type FaultInjectingDevice struct {
	inner Device
	mu    sync.Mutex
	plan  FaultPlan
}

// NewFaultInjectingDevice wraps inner with the given fault plan.
func NewFaultInjectingDevice(inner Device, plan FaultPlan) *FaultInjectingDevice {
	return &FaultInjectingDevice{inner: inner, plan: plan}
}

func (d *FaultInjectingDevice) consume(n *int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if *n > 0 {
		*n--
		return true
	}
	return false
}

func (d *FaultInjectingDevice) ReadAt(pbn layout.PBN, buf []byte) error {
	if d.consume(&d.plan.FailReads) {
		return errors.Wrapf(vdoerr.ErrInjected, "physio: injected read failure at pbn %d", pbn)
	}
	return d.inner.ReadAt(pbn, buf)
}

func (d *FaultInjectingDevice) WriteAt(pbn layout.PBN, buf []byte) error {
	if d.consume(&d.plan.FailWrites) {
		return errors.Wrapf(vdoerr.ErrInjected, "physio: injected write failure at pbn %d", pbn)
	}
	return d.inner.WriteAt(pbn, buf)
}

func (d *FaultInjectingDevice) Flush() error {
	if d.consume(&d.plan.FailFlushes) {
		return errors.Wrap(vdoerr.ErrInjected, "physio: injected flush failure")
	}
	return d.inner.Flush()
}

func (d *FaultInjectingDevice) Discard(pbn layout.PBN, count uint64) error {
	if d.consume(&d.plan.FailDiscards) {
		return errors.Wrapf(vdoerr.ErrInjected, "physio: injected discard failure at pbn %d", pbn)
	}
	return d.inner.Discard(pbn, count)
}

func (d *FaultInjectingDevice) Size() uint64 { return d.inner.Size() }
