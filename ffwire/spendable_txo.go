package ffwire

import (
	"io"

	"github.com/btcsuite/btcd/wire"
)

// SpendableTxo carries everything required to spend an output except the
// signatures: the outpoint, the output itself, and the sequence the
// spending input will use.
type SpendableTxo struct {
	OutPoint wire.OutPoint
	TxOut    *wire.TxOut
	Sequence Sequence
}

// Encode serializes the txo in consensus encoding: outpoint, output,
// sequence.
func (s *SpendableTxo) Encode(w io.Writer) error {
	return WriteElements(w, s.OutPoint, s.TxOut, s.Sequence)
}

// Decode deserializes the txo.
func (s *SpendableTxo) Decode(r io.Reader) error {
	return ReadElements(r, &s.OutPoint, &s.TxOut, &s.Sequence)
}

// TxIn converts the txo into the input that spends it, with empty signature
// data.
func (s *SpendableTxo) TxIn() *wire.TxIn {
	return &wire.TxIn{
		PreviousOutPoint: s.OutPoint,
		Sequence:         uint32(s.Sequence),
	}
}
