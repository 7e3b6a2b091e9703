package fftx

import (
	"bytes"
	"encoding/hex"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/firefish-io/firefish-go/ffscript"
	"github.com/firefish-io/firefish-go/ffwire"
)

// TxVersion is the version of every transaction the factory produces.
// Version 2 enables relative time locks.
const TxVersion = 2

// UnsignedTransactions is the deterministic transaction bundle every
// participant derives independently from the offer and the borrower's
// funding plan: the escrow transaction and the four transactions spending
// its contract output.
type UnsignedTransactions struct {
	// BorrowerEph is the borrower's ephemeral escrow key.
	BorrowerEph *btcec.PublicKey

	// ContractIndex is the position of the contract output within the
	// escrow transaction.
	ContractIndex uint32

	// EscrowPrevOuts are the outputs the escrow transaction spends.
	// Invariant: len(EscrowPrevOuts) == len(Escrow.TxIn).
	EscrowPrevOuts []*wire.TxOut

	// Escrow moves the funding into the contract output.
	Escrow *wire.MsgTx

	// Repayment returns the collateral to the borrower on repayment.
	Repayment *wire.MsgTx

	// Default pays the liquidator after the default lock time.
	Default *wire.MsgTx

	// Liquidation pays the liquidator's liquidation script immediately.
	Liquidation *wire.MsgTx

	// Recover returns the collateral to the borrower after the recover
	// lock time.
	Recover *wire.MsgTx

	// keys is the full escrow key bundle, cached for script and witness
	// derivation.
	keys *ffscript.KeyBundle

	// escrowOutput caches the taproot parameters of the contract output.
	escrowOutput *ffscript.TaprootOutput
}

// NewUnsignedTransactions derives the bundle from validated borrower info.
func NewUnsignedTransactions(params *ffwire.EscrowParams,
	tedKeys ffwire.EscrowTedKeys,
	info *ffwire.ValidatedBorrowerInfo) (*UnsignedTransactions, error) {

	keys, err := ffscript.NewKeyBundle(
		info.EscrowEphKey, tedKeys.TedO, tedKeys.TedP,
	)
	if err != nil {
		return nil, err
	}
	escrowOutput, err := ffscript.NewEscrowOutput(keys)
	if err != nil {
		return nil, err
	}
	escrowPkScript, err := escrowOutput.PkScript()
	if err != nil {
		return nil, err
	}

	contractTxOut := wire.NewTxOut(int64(info.EscrowAmount), escrowPkScript)
	escrowTxOuts := insertTxOut(
		info.EscrowExtraOutputs, contractTxOut,
		int(info.EscrowContractOutputPosition),
	)

	escrowTx := &wire.MsgTx{
		Version:  TxVersion,
		LockTime: uint32(info.TxHeight),
	}
	var escrowPrevOuts []*wire.TxOut
	for _, input := range info.Inputs {
		escrowTx.AddTxIn(input.TxIn())
		escrowPrevOuts = append(escrowPrevOuts, input.TxOut)
	}
	for _, txOut := range escrowTxOuts {
		escrowTx.AddTxOut(txOut)
	}

	contractOutPoint := wire.OutPoint{
		Hash:  escrowTx.TxHash(),
		Index: info.EscrowContractOutputPosition,
	}

	// The spenders' lock times come from the contract alone (zero for
	// repayment and liquidation), never from the escrow height: their
	// broadcast time is unpredictable, so committing to the escrow
	// height would create an identifiable footprint. Some wallets don't
	// implement anti-fee-sniping at all; better to hide among those than
	// to implement it broken.
	spendTxIn := func(sequence uint32) *wire.TxIn {
		return &wire.TxIn{
			PreviousOutPoint: contractOutPoint,
			Sequence:         sequence,
		}
	}

	liquidatorDefault := wire.NewTxOut(
		int64(info.CollateralAmountDefault),
		params.LiquidatorScriptDefault,
	)
	liquidatorLiquidation := wire.NewTxOut(
		int64(info.CollateralAmountLiquidation),
		params.LiquidatorScriptLiquidation,
	)

	repaymentTx := &wire.MsgTx{
		Version:  TxVersion,
		TxIn:     []*wire.TxIn{spendTxIn(SequenceEnableRbfNoLocktime)},
		TxOut:    info.RepaymentOutputs,
		LockTime: 0,
	}
	defaultTx := &wire.MsgTx{
		Version: TxVersion,
		TxIn:    []*wire.TxIn{spendTxIn(SequenceEnableRbfNoLocktime)},
		TxOut: insertTxOut(
			params.ExtraTerminationOutputs, liquidatorDefault,
			int(params.LiquidatorOutputIndex),
		),
		LockTime: uint32(params.DefaultLockTime),
	}
	liquidationTx := &wire.MsgTx{
		Version: TxVersion,
		TxIn:    []*wire.TxIn{spendTxIn(SequenceEnableRbfNoLocktime)},
		TxOut: insertTxOut(
			params.ExtraTerminationOutputs, liquidatorLiquidation,
			int(params.LiquidatorOutputIndex),
		),
		LockTime: 0,
	}

	// Recover's sequence is 0, which signals RBF and keeps its absolute
	// lock time enforced.
	recoverTx := &wire.MsgTx{
		Version:  TxVersion,
		TxIn:     []*wire.TxIn{spendTxIn(0)},
		TxOut:    info.RecoverOutputs,
		LockTime: uint32(params.RecoverLockTime),
	}

	return &UnsignedTransactions{
		BorrowerEph:    info.EscrowEphKey,
		ContractIndex:  info.EscrowContractOutputPosition,
		EscrowPrevOuts: escrowPrevOuts,
		Escrow:         escrowTx,
		Repayment:      repaymentTx,
		Default:        defaultTx,
		Liquidation:    liquidationTx,
		Recover:        recoverTx,
		keys:           keys,
		escrowOutput:   escrowOutput,
	}, nil
}

// insertTxOut clones base with the extra output inserted at index. The
// originals are copied so later witness or value edits never alias.
func insertTxOut(base []*wire.TxOut, inserted *wire.TxOut,
	index int) []*wire.TxOut {

	result := make([]*wire.TxOut, 0, len(base)+1)
	for _, txOut := range base[:index] {
		result = append(result, wire.NewTxOut(txOut.Value, txOut.PkScript))
	}
	result = append(result, inserted)
	for _, txOut := range base[index:] {
		result = append(result, wire.NewTxOut(txOut.Value, txOut.PkScript))
	}
	return result
}

// Keys returns the full escrow key bundle.
func (t *UnsignedTransactions) Keys() *ffscript.KeyBundle {
	return t.keys
}

// EscrowTxOut returns the contract output of the escrow transaction.
func (t *UnsignedTransactions) EscrowTxOut() *wire.TxOut {
	return t.Escrow.TxOut[t.ContractIndex]
}

// MultisigLeafHash returns the tap leaf hash of the escrow multisig script.
func (t *UnsignedTransactions) MultisigLeafHash() chainhash.Hash {
	return t.escrowOutput.LeafHash
}

// Encode serializes the bundle: ephemeral key, contract index, prevouts,
// then the five transactions in consensus encoding.
func (t *UnsignedTransactions) Encode(w io.Writer) error {
	err := ffwire.WriteElements(w,
		t.BorrowerEph,
		t.ContractIndex,
		uint32(len(t.EscrowPrevOuts)),
	)
	if err != nil {
		return err
	}
	for _, prevOut := range t.EscrowPrevOuts {
		if err := ffwire.WriteElement(w, prevOut); err != nil {
			return err
		}
	}
	return ffwire.WriteElements(w,
		t.Escrow, t.Repayment, t.Default, t.Liquidation, t.Recover,
	)
}

// DecodeUnsignedTransactions deserializes a bundle. The agents' escrow keys
// are needed to rebuild the multisig script caches.
func DecodeUnsignedTransactions(r io.Reader,
	tedKeys ffwire.EscrowTedKeys) (*UnsignedTransactions, error) {

	t := &UnsignedTransactions{}

	var prevOutCount uint32
	err := ffwire.ReadElements(r,
		&t.BorrowerEph,
		&t.ContractIndex,
		&prevOutCount,
	)
	if err != nil {
		return nil, err
	}
	if prevOutCount > ffwire.MaxInputCount {
		return nil, &ffwire.TooManyInputsError{Count: prevOutCount}
	}
	for i := uint32(0); i < prevOutCount; i++ {
		var prevOut *wire.TxOut
		if err := ffwire.ReadElement(r, &prevOut); err != nil {
			return nil, err
		}
		t.EscrowPrevOuts = append(t.EscrowPrevOuts, prevOut)
	}

	err = ffwire.ReadElements(r,
		&t.Escrow, &t.Repayment, &t.Default, &t.Liquidation, &t.Recover,
	)
	if err != nil {
		return nil, err
	}

	t.keys, err = ffscript.NewKeyBundle(
		t.BorrowerEph, tedKeys.TedO, tedKeys.TedP,
	)
	if err != nil {
		return nil, err
	}
	t.escrowOutput, err = ffscript.NewEscrowOutput(t.keys)
	if err != nil {
		return nil, err
	}

	return t, nil
}

// SerializeHex returns the consensus hex encoding of a transaction, the
// form broadcasters accept.
func SerializeHex(tx *wire.MsgTx) (string, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf.Bytes()), nil
}
