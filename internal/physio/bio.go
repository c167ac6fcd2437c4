package physio

import "vdo/internal/layout"

// Op identifies the kind of operation a Bio carries, generalizing
// biscuit/src/fs/blk.go's Bdevcmd_t (BDEV_WRITE/BDEV_READ/BDEV_FLUSH) with a
// Discard op the teacher's block device never needed.
type Op int

const (
	OpRead Op = iota
	OpWrite
	OpFlush
	OpDiscard
)

// Bio is a single block I/O request flowing from a zone down to a Device.
// FUA and Preflush are mutually exclusive durability modifiers: FUA asks
// that this write itself be durable before EndIO fires; Preflush asks that
// everything written before this Bio be durable before it is issued.
type Bio struct {
	Op        Op
	PBN       layout.PBN
	Data      []byte
	FUA       bool
	Preflush  bool
	EndIO     func(error)
}

// Valid reports whether the Bio's modifiers are self-consistent.
func (b *Bio) Valid() bool {
	if b.FUA && b.Preflush {
		return false
	}
	if b.Op == OpWrite && len(b.Data) != layout.B {
		return false
	}
	return true
}

// Submit runs the Bio against dev synchronously and invokes EndIO (if set)
// with the result.
func Submit(dev Device, b *Bio) error {
	var err error
	switch b.Op {
	case OpRead:
		err = dev.ReadAt(b.PBN, b.Data)
	case OpWrite:
		if b.Preflush {
			if ferr := dev.Flush(); ferr != nil {
				err = ferr
				break
			}
		}
		err = dev.WriteAt(b.PBN, b.Data)
		if err == nil && b.FUA {
			err = dev.Flush()
		}
	case OpFlush:
		err = dev.Flush()
	case OpDiscard:
		err = dev.Discard(b.PBN, 1)
	}
	if b.EndIO != nil {
		b.EndIO(err)
	}
	return err
}
