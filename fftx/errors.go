package fftx

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/go-errors/errors"
)

var (
	// ErrNoMatchingOutputs is returned when none of the supplied funding
	// transactions pays the contract's funding script.
	ErrNoMatchingOutputs = errors.New("no outputs match the funding script")

	// ErrOverflow is returned when offsetting a sequence lock overflows
	// its lock-type range.
	ErrOverflow = errors.New("sequence lock offset overflows")

	// ErrNotLocked is returned when a relative delay is applied to a
	// sequence that carries no relative lock at all.
	ErrNotLocked = errors.New("sequence carries no relative lock")

	// ErrUnitMismatch is returned when a height delay is applied to a
	// time-locked sequence or vice versa.
	ErrUnitMismatch = errors.New("relative delay unit does not match sequence lock")

	// ErrInvalidSignature is returned when a Schnorr signature fails
	// verification against its expected key and sighash.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrMissingSignature is returned when fewer per-input signatures
	// were supplied than contract-funded inputs exist.
	ErrMissingSignature = errors.New("missing per-input signature")
)

// UnderfundedError is returned when the funding outputs don't cover the
// escrow amount plus the cost of moving it.
type UnderfundedError struct {
	Required  btcutil.Amount
	Available btcutil.Amount
}

// Error returns a human readable string describing the error.
func (e *UnderfundedError) Error() string {
	return fmt.Sprintf("insufficient funding: required %v, available %v",
		e.Required, e.Available)
}
