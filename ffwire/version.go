package ffwire

import (
	"bytes"
	"io"
)

// StateVersion is the version of the persisted state format.
type StateVersion uint32

const (
	// StateV0 is the initial, implicitly versioned format. It stored the
	// offer parameters in the legacy single-liquidator-output layout.
	StateV0 StateVersion = 0

	// StateV1 added the second liquidator script and the minimum
	// collateral amount to the offer parameters.
	StateV1 StateVersion = 1

	// StateVersionCurrent is the version written by this implementation.
	StateVersionCurrent = StateV1
)

// versionSentinel flags the presence of an explicit version number. The
// initial release had no version header and started with the participant id,
// which never uses the full byte range, so the highest value was picked to
// mark the new format.
const versionSentinel = 0xFF

// WriteStateVersion writes the version header: the sentinel byte followed by
// the big-endian version number.
func WriteStateVersion(w io.Writer, v StateVersion) error {
	if err := WriteElement(w, uint8(versionSentinel)); err != nil {
		return err
	}
	return WriteElement(w, uint32(v))
}

// ReadStateVersion reads the version header. If the first byte is not the
// sentinel the cursor is left in place and version 0 is assumed, so legacy
// states keep deserializing.
func ReadStateVersion(r *bytes.Reader) (StateVersion, error) {
	first, err := r.ReadByte()
	if err != nil {
		return 0, ErrUnexpectedEnd
	}
	if first != versionSentinel {
		if err := r.UnreadByte(); err != nil {
			return 0, err
		}
		return StateV0, nil
	}

	var num uint32
	if err := ReadElement(r, &num); err != nil {
		return 0, err
	}
	if StateVersion(num) > StateVersionCurrent {
		return 0, &UnsupportedVersionError{Version: num}
	}
	return StateVersion(num), nil
}
