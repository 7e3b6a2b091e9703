package contract

import (
	"bytes"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/firefish-io/firefish-go/ffscript"
	"github.com/firefish-io/firefish-go/fftx"
	"github.com/firefish-io/firefish-go/ffwire"
)

// Prefund is the refundable first stage of the contract. It exists because
// the escrow's funding outpoints aren't known up front: the borrower pays
// an address all participants can reconstruct, and the contract proper is
// funded from whatever lands there.
//
// Its taproot tree has two leaves: the borrower's refund script, known to
// the agents only by its hash, and the 3-of-3 multisig leaf.
type Prefund struct {
	// Net is the network magic this contract operates on.
	Net wire.BitcoinNet

	// Keys are the prefund-context keys of all three participants.
	Keys *ffscript.KeyBundle

	// BorrowerReturnHash is the tap leaf hash of the borrower's refund
	// script.
	BorrowerReturnHash chainhash.Hash

	// output caches the derived taproot output parameters.
	output *ffscript.TaprootOutput
}

// NewPrefund merges the borrower's announced spending conditions with the
// agents' keys from the offer into the complete prefund contract.
func NewPrefund(net wire.BitcoinNet, tedKeys ffwire.PrefundTedKeys,
	info *ffwire.BorrowerSpendInfo) (*Prefund, error) {

	keys, err := ffscript.NewKeyBundle(info.Key, tedKeys.TedO, tedKeys.TedP)
	if err != nil {
		return nil, err
	}
	output, err := ffscript.NewPrefundOutput(keys, info.ReturnHash)
	if err != nil {
		return nil, err
	}

	return &Prefund{
		Net:                net,
		Keys:               keys,
		BorrowerReturnHash: info.ReturnHash,
		output:             output,
	}, nil
}

// Output returns the prefund's taproot output parameters.
func (p *Prefund) Output() *ffscript.TaprootOutput {
	return p.output
}

// FundingScript returns the script satoshis need to be sent to.
func (p *Prefund) FundingScript() ([]byte, error) {
	return p.output.PkScript()
}

// FundingAddress returns the address satoshis need to be sent to.
func (p *Prefund) FundingAddress() (btcutil.Address, error) {
	params, err := ffwire.NetParams(p.Net)
	if err != nil {
		return nil, err
	}
	return p.output.Address(params)
}

// BorrowerInfo reconstructs the announcement message this prefund was built
// from, for re-sending.
func (p *Prefund) BorrowerInfo() *ffwire.BorrowerSpendInfo {
	return &ffwire.BorrowerSpendInfo{
		Key:        p.Keys.BorrowerEph,
		ReturnHash: p.BorrowerReturnHash,
	}
}

// SpendBorrower builds and signs the borrower's unilateral refund spend of
// the given prefund outputs through the CSV leaf. The caller is responsible
// for sequences that satisfy the relative lock; the absolute lock time is
// set to the current height as a fee sniping deterrent.
func (p *Prefund) SpendBorrower(borrowerKey *btcec.PrivateKey,
	backupScript []byte, inputs []*ffwire.SpendableTxo,
	outputs []*wire.TxOut, currentHeight uint32) (*wire.MsgTx, error) {

	fundingScript, err := p.FundingScript()
	if err != nil {
		return nil, err
	}

	// The refund leaf's control block proves it against the multisig
	// sibling.
	controlBlock, err := ffscript.ControlBlockBytes(
		p.output.InternalKey, p.output.OutputKeyYIsOdd,
		p.output.LeafHash[:],
	)
	if err != nil {
		return nil, err
	}

	tx := &wire.MsgTx{
		Version:  fftx.TxVersion,
		LockTime: currentHeight,
		TxOut:    outputs,
	}
	var prevOuts []*wire.TxOut
	for _, input := range inputs {
		tx.AddTxIn(input.TxIn())
		prevOuts = append(prevOuts, input.TxOut)
	}

	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for i, txIn := range tx.TxIn {
		fetcher.AddPrevOut(txIn.PreviousOutPoint, prevOuts[i])
	}
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	leaf := txscript.NewBaseTapLeaf(backupScript)

	for i, prevOut := range prevOuts {
		if !bytes.Equal(prevOut.PkScript, fundingScript) {
			continue
		}

		sigHash, err := txscript.CalcTapscriptSignaturehash(
			sigHashes, txscript.SigHashDefault, tx, i, fetcher,
			leaf,
		)
		if err != nil {
			return nil, err
		}
		sig, err := schnorr.Sign(borrowerKey, sigHash)
		if err != nil {
			return nil, err
		}

		tx.TxIn[i].Witness = wire.TxWitness{
			sig.Serialize(), backupScript, controlBlock,
		}
	}

	return tx, nil
}
