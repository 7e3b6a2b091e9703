package ffwire

import (
	"io"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

// PrefundHints carries the suggested fee reserve to add on top of the
// collateral when funding the prefund address.
type PrefundHints struct {
	// FeeReserve is the amount suggested for future miner fees, computed
	// as expected_fee_rate * expected_transaction_size.
	FeeReserve btcutil.Amount
}

// A compile time check to ensure PrefundHints implements the Message
// interface.
var _ Message = (*PrefundHints)(nil)

// Encode serializes the hints, including the message id.
//
// This is part of the Message interface.
func (h *PrefundHints) Encode(w io.Writer) error {
	return WriteElements(w, MsgPrefundHints, h.FeeReserve)
}

// Decode deserializes the hints, verifying the message id.
//
// This is part of the Message interface.
func (h *PrefundHints) Decode(r io.Reader) error {
	if err := readMessageId(r, MsgPrefundHints); err != nil {
		return err
	}
	return ReadElement(r, &h.FeeReserve)
}

// MsgId returns the message's id byte.
//
// This is part of the Message interface.
func (h *PrefundHints) MsgId() MessageId {
	return MsgPrefundHints
}

// EscrowHints is sent to the borrower once funding is observed. It carries
// the fee rate to fund the escrow with, the fee bump outputs, and the
// transactions paying the prefund address.
type EscrowHints struct {
	// FeeRate is the rate to use for the escrow transaction.
	FeeRate FeeRate

	// EscrowFeeBumpTxOut is the anchor output added to the escrow
	// transaction.
	EscrowFeeBumpTxOut *wire.TxOut

	// FinalizationFeeBumpTxOut is the anchor output added to the
	// repayment and recover transactions.
	FinalizationFeeBumpTxOut *wire.TxOut

	// Transactions pay the prefund script in at least one output. The
	// borrower filters them by exact script match.
	Transactions []*wire.MsgTx
}

// A compile time check to ensure EscrowHints implements the Message
// interface.
var _ Message = (*EscrowHints)(nil)

// Encode serializes the hints, including the message id.
//
// This is part of the Message interface.
func (h *EscrowHints) Encode(w io.Writer) error {
	err := WriteElements(w,
		MsgEscrowHints,
		h.FeeRate,
		h.EscrowFeeBumpTxOut,
		h.FinalizationFeeBumpTxOut,
		uint32(len(h.Transactions)),
	)
	if err != nil {
		return err
	}
	for _, tx := range h.Transactions {
		if err := WriteElement(w, tx); err != nil {
			return err
		}
	}
	return nil
}

// Decode deserializes the hints, verifying the message id.
//
// This is part of the Message interface.
func (h *EscrowHints) Decode(r io.Reader) error {
	if err := readMessageId(r, MsgEscrowHints); err != nil {
		return err
	}

	var count uint32
	err := ReadElements(r,
		&h.FeeRate,
		&h.EscrowFeeBumpTxOut,
		&h.FinalizationFeeBumpTxOut,
		&count,
	)
	if err != nil {
		return err
	}

	// No preallocation here: the count is attacker controlled and each
	// entry has to parse as a full transaction anyway.
	h.Transactions = nil
	for i := uint32(0); i < count; i++ {
		var tx *wire.MsgTx
		if err := ReadElement(r, &tx); err != nil {
			return err
		}
		h.Transactions = append(h.Transactions, tx)
	}
	return nil
}

// MsgId returns the message's id byte.
//
// This is part of the Message interface.
func (h *EscrowHints) MsgId() MessageId {
	return MsgEscrowHints
}
