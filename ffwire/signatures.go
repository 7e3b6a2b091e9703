package ffwire

import (
	"bytes"
	"io"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// BorrowerSignatures are the borrower's Schnorr signatures over the four
// transactions spending the escrow contract output.
//
// The field order is also the wire order and must stay fixed forever.
type BorrowerSignatures struct {
	Recover     *schnorr.Signature
	Repayment   *schnorr.Signature
	Default     *schnorr.Signature
	Liquidation *schnorr.Signature
}

// A compile time check to ensure BorrowerSignatures implements the Message
// interface.
var _ Message = (*BorrowerSignatures)(nil)

// Encode serializes the message, including its id.
//
// This is part of the Message interface.
func (s *BorrowerSignatures) Encode(w io.Writer) error {
	return WriteElements(w,
		MsgStateSigsFromBorrower,
		s.Recover, s.Repayment, s.Default, s.Liquidation,
	)
}

// Decode deserializes the message, verifying its id.
//
// This is part of the Message interface.
func (s *BorrowerSignatures) Decode(r io.Reader) error {
	if err := readMessageId(r, MsgStateSigsFromBorrower); err != nil {
		return err
	}
	return ReadElements(r,
		&s.Recover, &s.Repayment, &s.Default, &s.Liquidation,
	)
}

// MsgId returns the message's id byte.
//
// This is part of the Message interface.
func (s *BorrowerSignatures) MsgId() MessageId {
	return MsgStateSigsFromBorrower
}

// TedOSignatures are the operational agent's signatures: the three
// termination paths it co-signs plus one signature per contract-funded
// escrow input, which it can produce because it holds a hot prefund key.
type TedOSignatures struct {
	Recover   *schnorr.Signature
	Repayment *schnorr.Signature
	Default   *schnorr.Signature
	Escrow    []*schnorr.Signature
}

// A compile time check to ensure TedOSignatures implements the Message
// interface.
var _ Message = (*TedOSignatures)(nil)

// Encode serializes the message, including its id.
//
// This is part of the Message interface.
func (s *TedOSignatures) Encode(w io.Writer) error {
	err := WriteElements(w,
		MsgStateSigsFromTedO,
		s.Recover, s.Repayment, s.Default,
	)
	if err != nil {
		return err
	}
	return writeSigList(w, s.Escrow)
}

// Decode deserializes the message, verifying its id.
//
// This is part of the Message interface.
func (s *TedOSignatures) Decode(r io.Reader) error {
	if err := readMessageId(r, MsgStateSigsFromTedO); err != nil {
		return err
	}
	err := ReadElements(r, &s.Recover, &s.Repayment, &s.Default)
	if err != nil {
		return err
	}
	s.Escrow, err = readSigList(r)
	return err
}

// MsgId returns the message's id byte.
//
// This is part of the Message interface.
func (s *TedOSignatures) MsgId() MessageId {
	return MsgStateSigsFromTedO
}

// TedPSignatures are the passive agent's signatures. TED-P co-signs recover
// and the contract-funded escrow inputs up front; it contributes its
// termination signatures on demand when finalizing.
type TedPSignatures struct {
	Recover *schnorr.Signature
	Escrow  []*schnorr.Signature
}

// A compile time check to ensure TedPSignatures implements the Message
// interface.
var _ Message = (*TedPSignatures)(nil)

// Encode serializes the message, including its id.
//
// This is part of the Message interface.
func (s *TedPSignatures) Encode(w io.Writer) error {
	if err := WriteElements(w, MsgStateSigsFromTedP, s.Recover); err != nil {
		return err
	}
	return writeSigList(w, s.Escrow)
}

// Decode deserializes the message, verifying its id.
//
// This is part of the Message interface.
func (s *TedPSignatures) Decode(r io.Reader) error {
	if err := readMessageId(r, MsgStateSigsFromTedP); err != nil {
		return err
	}
	if err := ReadElement(r, &s.Recover); err != nil {
		return err
	}
	var err error
	s.Escrow, err = readSigList(r)
	return err
}

// MsgId returns the message's id byte.
//
// This is part of the Message interface.
func (s *TedPSignatures) MsgId() MessageId {
	return MsgStateSigsFromTedP
}

// TedSignatures is the sum of the two agents' signature messages, whichever
// arrived.
type TedSignatures struct {
	// TedO is set when the message came from TED-O.
	TedO *TedOSignatures

	// TedP is set when the message came from TED-P.
	TedP *TedPSignatures
}

// Encode serializes whichever variant is present.
func (s *TedSignatures) Encode(w io.Writer) error {
	if s.TedO != nil {
		return s.TedO.Encode(w)
	}
	return s.TedP.Encode(w)
}

// ParseTedSignatures parses either agent's signature message out of a
// buffer, dispatching on the message id. An empty buffer yields nil, which
// callers treat as "nothing received yet".
func ParseTedSignatures(b []byte) (*TedSignatures, error) {
	if len(b) == 0 {
		return nil, nil
	}

	r := bytes.NewReader(b)
	return readTedSignatures(r)
}

// ReadTedSignatures reads either agent's signature message from the reader.
// A reader with no bytes left yields nil: persisted states append the
// received message only when one arrived.
func ReadTedSignatures(r *bytes.Reader) (*TedSignatures, error) {
	if r.Len() == 0 {
		return nil, nil
	}
	return readTedSignatures(r)
}

// readTedSignatures reads one agent signature message from the reader.
func readTedSignatures(r io.Reader) (*TedSignatures, error) {
	var peek [1]byte
	if _, err := io.ReadFull(r, peek[:]); err != nil {
		return nil, mapReadErr(err)
	}

	// The concrete decoders re-verify the id, so hand them a reader that
	// replays the peeked byte.
	full := io.MultiReader(bytes.NewReader(peek[:]), r)

	switch MessageId(peek[0]) {
	case MsgStateSigsFromTedO:
		sigs := &TedOSignatures{}
		if err := sigs.Decode(full); err != nil {
			return nil, err
		}
		return &TedSignatures{TedO: sigs}, nil

	case MsgStateSigsFromTedP:
		sigs := &TedPSignatures{}
		if err := sigs.Decode(full); err != nil {
			return nil, err
		}
		return &TedSignatures{TedP: sigs}, nil

	default:
		return nil, &InvalidMessageIdError{Id: peek[0]}
	}
}

// BroadcastRequest carries the borrower's per-input escrow signatures,
// extracted from the finalized witnesses, so a counterparty can
// re-assemble and broadcast the escrow transaction.
type BroadcastRequest struct {
	Signatures []*schnorr.Signature
}

// A compile time check to ensure BroadcastRequest implements the Message
// interface.
var _ Message = (*BroadcastRequest)(nil)

// Encode serializes the message, including its id.
//
// This is part of the Message interface.
func (b *BroadcastRequest) Encode(w io.Writer) error {
	if err := WriteElement(w, MsgEscrowSigsFromBorrower); err != nil {
		return err
	}
	return writeSigList(w, b.Signatures)
}

// Decode deserializes the message, verifying its id.
//
// This is part of the Message interface.
func (b *BroadcastRequest) Decode(r io.Reader) error {
	if err := readMessageId(r, MsgEscrowSigsFromBorrower); err != nil {
		return err
	}
	var err error
	b.Signatures, err = readSigList(r)
	return err
}

// MsgId returns the message's id byte.
//
// This is part of the Message interface.
func (b *BroadcastRequest) MsgId() MessageId {
	return MsgEscrowSigsFromBorrower
}

// writeSigList writes a big-endian count followed by the raw signatures.
func writeSigList(w io.Writer, sigs []*schnorr.Signature) error {
	if err := WriteElement(w, uint32(len(sigs))); err != nil {
		return err
	}
	for _, sig := range sigs {
		if err := WriteElement(w, sig); err != nil {
			return err
		}
	}
	return nil
}

// readSigList reads a big-endian count followed by that many signatures.
// The count is bounded by MaxInputCount since there is one signature per
// input.
func readSigList(r io.Reader) ([]*schnorr.Signature, error) {
	var count uint32
	if err := ReadElement(r, &count); err != nil {
		return nil, err
	}
	if count > MaxInputCount {
		return nil, &TooManyInputsError{Count: count}
	}

	sigs := make([]*schnorr.Signature, 0, count)
	for i := uint32(0); i < count; i++ {
		var sig *schnorr.Signature
		if err := ReadElement(r, &sig); err != nil {
			return nil, err
		}
		sigs = append(sigs, sig)
	}
	return sigs, nil
}
