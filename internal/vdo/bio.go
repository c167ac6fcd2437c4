package vdo

import (
	"github.com/pkg/errors"

	"vdo/internal/layout"
)

// Op names the kind of request a Bio carries (spec §6 "Block device
// contract (above)").
type Op int

const (
	OpRead Op = iota
	OpWrite
	OpDiscard
	OpFlush
)

func (o Op) String() string {
	switch o {
	case OpRead:
		return "READ"
	case OpWrite:
		return "WRITE"
	case OpDiscard:
		return "DISCARD"
	case OpFlush:
		return "FLUSH"
	default:
		return "UNKNOWN"
	}
}

// Bio is one request crossing the boundary above the device (the
// filesystem/consumer side), the generalization of the kernel's struct bio
// that this module accepts without the kernel bio/request-queue machinery
// itself (out of scope per spec §1). FUA and Preflush are mutually
// exclusive: a caller that needs both must submit a Flush bio first,
// resolving the §9 Open Question on REQ_FUA|REQ_PREFLUSH splitting.
type Bio struct {
	Op        Op
	LBNSector uint64
	LenBytes  uint32
	Data      []byte
	FUA       bool
	Preflush  bool
	EndIO     func(error)

	// Digest is an optional caller-supplied content digest used to consult
	// the dedupe index. Per-block hashing is out of scope for this module
	// (spec §1); a nil or empty Digest simply skips the dedupe lookup.
	Digest []byte
}

// Validate rejects a malformed Bio before it's handed to a zone.
func (b *Bio) Validate() error {
	if b.FUA && b.Preflush {
		return errors.New("vdo: bio carries both FUA and Preflush; caller must split a combined REQ_FUA|REQ_PREFLUSH request")
	}
	if b.Op != OpFlush && b.LenBytes == 0 {
		return errors.New("vdo: non-flush bio carries zero length")
	}
	if b.LBNSector%layout.SectorsPerBlock != 0 {
		return errors.New("vdo: bio sector offset not block-aligned")
	}
	return nil
}

// LBN is the logical block this bio addresses.
func (b *Bio) LBN() layout.LBN {
	return layout.LBN(b.LBNSector / layout.SectorsPerBlock)
}

// done invokes the caller's completion callback, if any.
func (b *Bio) done(err error) {
	if b.EndIO != nil {
		b.EndIO(err)
	}
}
