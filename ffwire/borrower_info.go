package ffwire

import (
	"bytes"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// BorrowerSpendInfo announces the borrower's prefund spending conditions:
// the ephemeral prefund key and the hash of the taproot leaf hiding the
// borrower's refund script. The escrow agents only ever learn the hash.
type BorrowerSpendInfo struct {
	// Key is the borrower's ephemeral prefund public key.
	Key *btcec.PublicKey

	// ReturnHash is the tap leaf hash of the borrower's refund script.
	ReturnHash chainhash.Hash
}

// A compile time check to ensure BorrowerSpendInfo implements the Message
// interface.
var _ Message = (*BorrowerSpendInfo)(nil)

// Encode serializes the message, including its id.
//
// This is part of the Message interface.
func (b *BorrowerSpendInfo) Encode(w io.Writer) error {
	return WriteElements(w, MsgPrefundBorrowerInfo, b.Key, b.ReturnHash)
}

// Decode deserializes the message, verifying its id.
//
// This is part of the Message interface.
func (b *BorrowerSpendInfo) Decode(r io.Reader) error {
	if err := readMessageId(r, MsgPrefundBorrowerInfo); err != nil {
		return err
	}
	return ReadElements(r, &b.Key, &b.ReturnHash)
}

// MsgId returns the message's id byte.
//
// This is part of the Message interface.
func (b *BorrowerSpendInfo) MsgId() MessageId {
	return MsgPrefundBorrowerInfo
}

// BorrowerInfo is the borrower's escrow funding plan: the ephemeral escrow
// key, the inputs to spend, the output layout of the escrow transaction and
// the amounts of every downstream transaction.
//
// A freshly decoded BorrowerInfo is untrusted. Validate must be called
// before the info is used to construct transactions; ValidatedBorrowerInfo
// is the proof that it was.
type BorrowerInfo struct {
	// EscrowEphKey is the borrower's ephemeral escrow public key.
	EscrowEphKey *btcec.PublicKey

	// Inputs are the prefund outputs funding the escrow.
	Inputs []*SpendableTxo

	// TxHeight is the escrow transaction's lock time, the largest block
	// lock time observed across the funding transactions.
	TxHeight BlockHeight

	// EscrowExtraOutputs are the escrow transaction outputs besides the
	// contract output.
	EscrowExtraOutputs []*wire.TxOut

	// EscrowContractOutputPosition is where the contract output is
	// inserted among the extra outputs.
	EscrowContractOutputPosition uint32

	// EscrowAmount is the value of the contract output.
	EscrowAmount btcutil.Amount

	// CollateralAmountDefault is the liquidator output value in the
	// default transaction.
	CollateralAmountDefault btcutil.Amount

	// CollateralAmountLiquidation is the liquidator output value in the
	// liquidation transaction.
	CollateralAmountLiquidation btcutil.Amount

	// RepaymentOutputs are the outputs of the repayment transaction.
	RepaymentOutputs []*wire.TxOut

	// RecoverOutputs are the outputs of the recover transaction.
	RecoverOutputs []*wire.TxOut
}

// A compile time check to ensure BorrowerInfo implements the Message
// interface.
var _ Message = (*BorrowerInfo)(nil)

// Encode serializes the message, including its id.
//
// This is part of the Message interface.
func (b *BorrowerInfo) Encode(w io.Writer) error {
	err := WriteElements(w,
		MsgEscrowBorrowerInfo,
		b.EscrowEphKey,
		b.TxHeight,
		b.EscrowContractOutputPosition,
		b.EscrowAmount,
		b.CollateralAmountDefault,
		b.CollateralAmountLiquidation,
		uint32(len(b.Inputs)),
	)
	if err != nil {
		return err
	}
	for _, input := range b.Inputs {
		if err := input.Encode(w); err != nil {
			return err
		}
	}

	if err := writeTxOuts(w, b.EscrowExtraOutputs); err != nil {
		return err
	}
	if err := writeTxOuts(w, b.RepaymentOutputs); err != nil {
		return err
	}
	return writeTxOuts(w, b.RecoverOutputs)
}

// Decode deserializes the message, verifying its id and enforcing the input
// count bound.
//
// This is part of the Message interface.
func (b *BorrowerInfo) Decode(r io.Reader) error {
	if err := readMessageId(r, MsgEscrowBorrowerInfo); err != nil {
		return err
	}

	var inputCount uint32
	err := ReadElements(r,
		&b.EscrowEphKey,
		&b.TxHeight,
		&b.EscrowContractOutputPosition,
		&b.EscrowAmount,
		&b.CollateralAmountDefault,
		&b.CollateralAmountLiquidation,
		&inputCount,
	)
	if err != nil {
		return err
	}
	if inputCount > MaxInputCount {
		return &TooManyInputsError{Count: inputCount}
	}

	b.Inputs = make([]*SpendableTxo, 0, inputCount)
	for i := uint32(0); i < inputCount; i++ {
		txo := &SpendableTxo{}
		if err := txo.Decode(r); err != nil {
			return err
		}
		b.Inputs = append(b.Inputs, txo)
	}

	if b.EscrowExtraOutputs, err = readTxOuts(r); err != nil {
		return err
	}
	if b.RepaymentOutputs, err = readTxOuts(r); err != nil {
		return err
	}
	if b.RecoverOutputs, err = readTxOuts(r); err != nil {
		return err
	}
	return nil
}

// MsgId returns the message's id byte.
//
// This is part of the Message interface.
func (b *BorrowerInfo) MsgId() MessageId {
	return MsgEscrowBorrowerInfo
}

// ValidatedBorrowerInfo is a BorrowerInfo whose bounds and collateral
// amounts were checked against the offer. Only this type can enter
// transaction construction.
type ValidatedBorrowerInfo struct {
	BorrowerInfo
}

// Validate checks the info against the offer parameters: the contract
// output position must be within bounds and both collateral amounts must
// meet the minimum. Checks like collateral <= escrow amount are left out on
// purpose: a lying borrower only produces transactions that can't be
// broadcast, and can't invalidate default or liquidation for anyone else.
func (b *BorrowerInfo) Validate(
	params *EscrowParams) (*ValidatedBorrowerInfo, error) {

	if b.EscrowContractOutputPosition > uint32(len(b.EscrowExtraOutputs)) {
		return nil, ErrContractPositionOob
	}
	if b.CollateralAmountDefault < params.MinCollateral ||
		b.CollateralAmountLiquidation < params.MinCollateral {

		return nil, ErrUndercollateralized
	}

	return &ValidatedBorrowerInfo{BorrowerInfo: *b}, nil
}

// BorrowerInfoMessage is the composite message the borrower sends to the
// escrow agents: the funding plan followed by the borrower's four
// signatures over the transactions derived from it.
type BorrowerInfoMessage struct {
	Info       *BorrowerInfo
	Signatures *BorrowerSignatures
}

// Encode serializes both parts back to back.
func (m *BorrowerInfoMessage) Encode(w io.Writer) error {
	if err := m.Info.Encode(w); err != nil {
		return err
	}
	return m.Signatures.Encode(w)
}

// Decode deserializes both parts.
func (m *BorrowerInfoMessage) Decode(r io.Reader) error {
	m.Info = &BorrowerInfo{}
	if err := m.Info.Decode(r); err != nil {
		return err
	}
	m.Signatures = &BorrowerSignatures{}
	return m.Signatures.Decode(r)
}

// ParseBorrowerInfoMessage parses the composite message from a buffer,
// rejecting trailing bytes.
func ParseBorrowerInfoMessage(b []byte) (*BorrowerInfoMessage, error) {
	r := bytes.NewReader(b)
	msg := &BorrowerInfoMessage{}
	if err := msg.Decode(r); err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, ErrTrailingBytes
	}
	return msg, nil
}
