package ffwire

import (
	"bytes"
	"io"
)

// MessageId is the one byte tag that starts every message exchanged between
// the participants.
type MessageId uint8

// The currently defined message ids.
const (
	MsgOffer                MessageId = 0
	MsgPrefundHints         MessageId = 1
	MsgPrefundBorrowerInfo  MessageId = 2
	MsgEscrowHints          MessageId = 3
	MsgEscrowBorrowerInfo   MessageId = 4
	MsgStateSigsFromBorrower MessageId = 5
	MsgStateSigsFromTedO    MessageId = 6
	MsgStateSigsFromTedP    MessageId = 7
	MsgEscrowSigsFromBorrower MessageId = 8
)

// Message is the interface satisfied by every self-tagged wire message. The
// encoded form starts with the message id byte and Decode verifies it.
type Message interface {
	// Encode serializes the message, including its id byte, into the
	// passed writer.
	Encode(w io.Writer) error

	// Decode deserializes the message from the passed reader, verifying
	// the leading id byte.
	Decode(r io.Reader) error

	// MsgId returns the message's id byte.
	MsgId() MessageId
}

// makeEmptyMessage creates a new empty message of the proper concrete type
// based on the passed message id.
func makeEmptyMessage(id MessageId) (Message, error) {
	var msg Message

	switch id {
	case MsgPrefundHints:
		msg = &PrefundHints{}
	case MsgPrefundBorrowerInfo:
		msg = &BorrowerSpendInfo{}
	case MsgEscrowHints:
		msg = &EscrowHints{}
	case MsgEscrowBorrowerInfo:
		msg = &BorrowerInfo{}
	case MsgStateSigsFromBorrower:
		msg = &BorrowerSignatures{}
	case MsgStateSigsFromTedO:
		msg = &TedOSignatures{}
	case MsgStateSigsFromTedP:
		msg = &TedPSignatures{}
	case MsgEscrowSigsFromBorrower:
		msg = &BroadcastRequest{}
	default:
		return nil, &InvalidMessageIdError{Id: uint8(id)}
	}

	return msg, nil
}

// ParseMessage parses a single self-tagged message out of the passed buffer.
// Trailing bytes after the message are rejected: a valid buffer contains
// exactly one message.
//
// Offers are not dispatched here. Unlike the other messages an offer is
// versioned rather than self-tagged, so it travels either bare (see
// ParseOffer) or behind an explicit MsgOffer byte stripped by the caller.
func ParseMessage(b []byte) (Message, error) {
	if len(b) == 0 {
		return nil, ErrUnexpectedEnd
	}

	msg, err := makeEmptyMessage(MessageId(b[0]))
	if err != nil {
		return nil, err
	}

	r := bytes.NewReader(b)
	if err := msg.Decode(r); err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, ErrTrailingBytes
	}

	return msg, nil
}

// readMessageId reads the leading id byte and checks it against the
// expected id for the concrete message type.
func readMessageId(r io.Reader, want MessageId) error {
	var id MessageId
	if err := ReadElement(r, &id); err != nil {
		return err
	}
	if id != want {
		return &InvalidMessageIdError{Id: uint8(id)}
	}
	return nil
}
