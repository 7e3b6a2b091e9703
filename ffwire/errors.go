package ffwire

import (
	"fmt"

	"github.com/btcsuite/btcd/wire"
	"github.com/go-errors/errors"
)

var (
	// ErrUnexpectedEnd is returned when the input ends in the middle of
	// an encoded element.
	ErrUnexpectedEnd = errors.New("unexpected end of input")

	// ErrContractPositionOob is returned by BorrowerInfo.Validate if the
	// contract output position points past the extra outputs.
	ErrContractPositionOob = errors.New("contract output position out of bounds")

	// ErrUndercollateralized is returned by BorrowerInfo.Validate if
	// either collateral amount is below the offer's minimum.
	ErrUndercollateralized = errors.New("collateral below offer minimum")

	// ErrTrailingBytes is returned when a buffer contains data after a
	// complete message. Suffix garbage invalidates the whole buffer.
	ErrTrailingBytes = errors.New("trailing bytes after message")
)

// InvalidMessageIdError is returned when a buffer carries a message id byte
// that is unknown, or known but not valid in the context it appeared in.
type InvalidMessageIdError struct {
	Id uint8
}

// Error returns a human readable string describing the error.
func (e *InvalidMessageIdError) Error() string {
	return fmt.Sprintf("invalid message id: %d", e.Id)
}

// InvalidStateIdError is returned when a persisted state carries an
// unknown, or contextually wrong, state id byte.
type InvalidStateIdError struct {
	Id uint8
}

// Error returns a human readable string describing the error.
func (e *InvalidStateIdError) Error() string {
	return fmt.Sprintf("invalid state id: %d", e.Id)
}

// InvalidParticipantError is returned when a persisted state carries a
// participant id byte that doesn't name the expected participant.
type InvalidParticipantError struct {
	Id uint8
}

// Error returns a human readable string describing the error.
func (e *InvalidParticipantError) Error() string {
	return fmt.Sprintf("invalid participant id: %d", e.Id)
}

// UnsupportedVersionError is returned when a state version header names a
// version newer than this implementation understands.
type UnsupportedVersionError struct {
	Version uint32
}

// Error returns a human readable string describing the error.
func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("unsupported state version: %d", e.Version)
}

// UnknownNetworkError is returned when a 4-byte network magic doesn't match
// any known Bitcoin network.
type UnknownNetworkError struct {
	Magic wire.BitcoinNet
}

// Error returns a human readable string describing the error.
func (e *UnknownNetworkError) Error() string {
	return fmt.Sprintf("unknown network magic: %s", e.Magic)
}

// TooManyInputsError is returned when a decoded input count exceeds
// MaxInputCount.
type TooManyInputsError struct {
	Count uint32
}

// Error returns a human readable string describing the error.
func (e *TooManyInputsError) Error() string {
	return fmt.Sprintf("too many inputs: %d", e.Count)
}

// TooManyExtraOutputsError is returned when a decoded extra output count
// exceeds MaxExtraOutputs.
type TooManyExtraOutputsError struct {
	Count uint32
}

// Error returns a human readable string describing the error.
func (e *TooManyExtraOutputsError) Error() string {
	return fmt.Sprintf("too many extra outputs: %d", e.Count)
}

// LiquidatorIndexError is returned when an offer's liquidator output index
// points past its extra termination outputs.
type LiquidatorIndexError struct {
	Index uint32
	Count uint32
}

// Error returns a human readable string describing the error.
func (e *LiquidatorIndexError) Error() string {
	return fmt.Sprintf("liquidator output index %d out of range for %d "+
		"extra outputs", e.Index, e.Count)
}
