package ffwire

import (
	"bytes"
)

// IncomingMessage is the sum of the messages an escrow agent can receive.
// Exactly one field is set.
type IncomingMessage struct {
	// Offer is set when the buffer carried an explicitly tagged offer.
	Offer *Offer

	// PrefundInfo is set for the borrower's prefund spending conditions.
	PrefundInfo *BorrowerSpendInfo

	// EscrowInfo is set for the borrower's escrow funding plan with
	// signatures.
	EscrowInfo *BorrowerInfoMessage
}

// ParseIncomingMessage dispatches an agent-bound buffer on its leading
// message id. Trailing bytes are rejected.
func ParseIncomingMessage(b []byte) (*IncomingMessage, error) {
	if len(b) == 0 {
		return nil, ErrUnexpectedEnd
	}

	switch MessageId(b[0]) {
	case MsgOffer:
		// Offers are versioned rather than self-tagged; strip the tag
		// and parse the bare offer.
		offer, err := ParseOffer(b[1:])
		if err != nil {
			return nil, err
		}
		return &IncomingMessage{Offer: offer}, nil

	case MsgPrefundBorrowerInfo:
		r := bytes.NewReader(b)
		info := &BorrowerSpendInfo{}
		if err := info.Decode(r); err != nil {
			return nil, err
		}
		if r.Len() != 0 {
			return nil, ErrTrailingBytes
		}
		return &IncomingMessage{PrefundInfo: info}, nil

	case MsgEscrowBorrowerInfo:
		msg, err := ParseBorrowerInfoMessage(b)
		if err != nil {
			return nil, err
		}
		return &IncomingMessage{EscrowInfo: msg}, nil

	default:
		return nil, &InvalidMessageIdError{Id: b[0]}
	}
}
