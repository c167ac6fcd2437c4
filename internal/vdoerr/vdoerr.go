// Package vdoerr defines the VDO error taxonomy (spec §7).
//
// Errors are small sentinel values, the same shape as the teacher's
// defs.Err_t codes, rather than ad-hoc per-package error types. Call sites add
// context with github.com/pkg/errors.Wrapf rather than inventing new error
// types, so every propagation path still resolves with errors.Is against one
// of the sentinels below.
package vdoerr

import "errors"

// Err_t-equivalent sentinels. Names match spec §7's taxonomy.
var (
	// ErrNoSpace: no free physical block available; caller may retry after
	// decrements land.
	ErrNoSpace = errors.New("vdo: no space")

	// ErrReadOnly: a prior fatal error has placed the system in read-only
	// mode; no writes are accepted.
	ErrReadOnly = errors.New("vdo: read-only")

	// ErrOutOfRange: a persistent structure failed validation
	// (nonce/checksum/bounds).
	ErrOutOfRange = errors.New("vdo: out of range")

	// ErrInvalidFragment: a compressed block header failed validation at
	// read time.
	ErrInvalidFragment = errors.New("vdo: invalid fragment")

	// ErrInvalidAdminState: operation requested against a quiescent or
	// otherwise unsuitable lifecycle state.
	ErrInvalidAdminState = errors.New("vdo: invalid admin state")

	// ErrIncrementTooSmall: grow operation below the minimum step.
	ErrIncrementTooSmall = errors.New("vdo: increment too small")

	// ErrInjected: test-only synthetic failure; treated as a layer I/O
	// error.
	ErrInjected = errors.New("vdo: injected failure")
)
