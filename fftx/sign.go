package fftx

import (
	"bytes"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/firefish-io/firefish-go/ffwire"
)

// spendSigHash computes the taproot script-spend sighash of a transaction
// spending the escrow contract output at input 0, committing to the escrow
// multisig leaf with SIGHASH_DEFAULT.
func (t *UnsignedTransactions) spendSigHash(tx *wire.MsgTx) ([]byte, error) {
	escrowTxOut := t.EscrowTxOut()
	fetcher := txscript.NewCannedPrevOutputFetcher(
		escrowTxOut.PkScript, escrowTxOut.Value,
	)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)

	return txscript.CalcTapscriptSignaturehash(
		sigHashes, txscript.SigHashDefault, tx, 0, fetcher,
		txscript.NewBaseTapLeaf(t.escrowOutput.LeafScript),
	)
}

// RecoverSigHash returns the signing digest of the recover transaction.
func (t *UnsignedTransactions) RecoverSigHash() ([]byte, error) {
	return t.spendSigHash(t.Recover)
}

// RepaymentSigHash returns the signing digest of the repayment transaction.
func (t *UnsignedTransactions) RepaymentSigHash() ([]byte, error) {
	return t.spendSigHash(t.Repayment)
}

// DefaultSigHash returns the signing digest of the default transaction.
func (t *UnsignedTransactions) DefaultSigHash() ([]byte, error) {
	return t.spendSigHash(t.Default)
}

// LiquidationSigHash returns the signing digest of the liquidation
// transaction.
func (t *UnsignedTransactions) LiquidationSigHash() ([]byte, error) {
	return t.spendSigHash(t.Liquidation)
}

// InputSigHash pairs an escrow input index with its signing digest.
type InputSigHash struct {
	Index   int
	SigHash []byte
}

// EscrowSigHashes computes the script-spend sighashes of the escrow
// transaction's contract-funded inputs, committing to the prefund multisig
// leaf. Inputs whose previous output doesn't pay fundingScript belong to
// the borrower's own wallet and are skipped.
func (t *UnsignedTransactions) EscrowSigHashes(fundingScript,
	prefundLeafScript []byte) ([]InputSigHash, error) {

	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for i, txIn := range t.Escrow.TxIn {
		fetcher.AddPrevOut(txIn.PreviousOutPoint, t.EscrowPrevOuts[i])
	}
	sigHashes := txscript.NewTxSigHashes(t.Escrow, fetcher)
	leaf := txscript.NewBaseTapLeaf(prefundLeafScript)

	var hashes []InputSigHash
	for i := range t.Escrow.TxIn {
		if !bytes.Equal(t.EscrowPrevOuts[i].PkScript, fundingScript) {
			continue
		}

		sigHash, err := txscript.CalcTapscriptSignaturehash(
			sigHashes, txscript.SigHashDefault, t.Escrow, i,
			fetcher, leaf,
		)
		if err != nil {
			return nil, err
		}
		hashes = append(hashes, InputSigHash{Index: i, SigHash: sigHash})
	}
	return hashes, nil
}

// SignBorrower produces the borrower's four signatures over the spending
// transactions.
func (t *UnsignedTransactions) SignBorrower(
	key *btcec.PrivateKey) (*ffwire.BorrowerSignatures, error) {

	recover, err := t.signSpend(t.Recover, key)
	if err != nil {
		return nil, err
	}
	repayment, err := t.signSpend(t.Repayment, key)
	if err != nil {
		return nil, err
	}
	defaultSig, err := t.signSpend(t.Default, key)
	if err != nil {
		return nil, err
	}
	liquidation, err := t.signSpend(t.Liquidation, key)
	if err != nil {
		return nil, err
	}

	return &ffwire.BorrowerSignatures{
		Recover:     recover,
		Repayment:   repayment,
		Default:     defaultSig,
		Liquidation: liquidation,
	}, nil
}

// SignTedO produces TED-O's signature message: recover, repayment and
// default plus the supplied per-input escrow signatures. The escrow list
// may be nil when TED-O hasn't learned the prefund yet.
func (t *UnsignedTransactions) SignTedO(escrowKey *btcec.PrivateKey,
	escrowInputSigs []*schnorr.Signature) (*ffwire.TedOSignatures, error) {

	recover, err := t.signSpend(t.Recover, escrowKey)
	if err != nil {
		return nil, err
	}
	repayment, err := t.signSpend(t.Repayment, escrowKey)
	if err != nil {
		return nil, err
	}
	defaultSig, err := t.signSpend(t.Default, escrowKey)
	if err != nil {
		return nil, err
	}

	return &ffwire.TedOSignatures{
		Recover:   recover,
		Repayment: repayment,
		Default:   defaultSig,
		Escrow:    escrowInputSigs,
	}, nil
}

// SignTedP produces TED-P's signature message: recover plus the supplied
// per-input escrow signatures.
func (t *UnsignedTransactions) SignTedP(escrowKey *btcec.PrivateKey,
	escrowInputSigs []*schnorr.Signature) (*ffwire.TedPSignatures, error) {

	recover, err := t.signSpend(t.Recover, escrowKey)
	if err != nil {
		return nil, err
	}

	return &ffwire.TedPSignatures{
		Recover: recover,
		Escrow:  escrowInputSigs,
	}, nil
}

// SignEscrowInputs signs every contract-funded escrow input with the given
// prefund key.
func (t *UnsignedTransactions) SignEscrowInputs(prefundKey *btcec.PrivateKey,
	fundingScript, prefundLeafScript []byte) ([]*schnorr.Signature, error) {

	hashes, err := t.EscrowSigHashes(fundingScript, prefundLeafScript)
	if err != nil {
		return nil, err
	}

	sigs := make([]*schnorr.Signature, 0, len(hashes))
	for _, h := range hashes {
		sig, err := schnorr.Sign(prefundKey, h.SigHash)
		if err != nil {
			return nil, err
		}
		sigs = append(sigs, sig)
	}
	return sigs, nil
}

// SignRepayment signs the repayment transaction with the given key.
func (t *UnsignedTransactions) SignRepayment(
	key *btcec.PrivateKey) (*schnorr.Signature, error) {

	return t.signSpend(t.Repayment, key)
}

// SignDefault signs the default transaction with the given key.
func (t *UnsignedTransactions) SignDefault(
	key *btcec.PrivateKey) (*schnorr.Signature, error) {

	return t.signSpend(t.Default, key)
}

// SignLiquidation signs the liquidation transaction with the given key.
func (t *UnsignedTransactions) SignLiquidation(
	key *btcec.PrivateKey) (*schnorr.Signature, error) {

	return t.signSpend(t.Liquidation, key)
}

func (t *UnsignedTransactions) signSpend(tx *wire.MsgTx,
	key *btcec.PrivateKey) (*schnorr.Signature, error) {

	sigHash, err := t.spendSigHash(tx)
	if err != nil {
		return nil, err
	}
	return schnorr.Sign(key, sigHash)
}

// VerifyBorrower verifies all four borrower signatures against the given
// key.
func (t *UnsignedTransactions) VerifyBorrower(key *btcec.PublicKey,
	sigs *ffwire.BorrowerSignatures) error {

	if err := t.verifySpend(t.Recover, sigs.Recover, key); err != nil {
		return err
	}
	if err := t.verifySpend(t.Repayment, sigs.Repayment, key); err != nil {
		return err
	}
	if err := t.verifySpend(t.Default, sigs.Default, key); err != nil {
		return err
	}
	return t.verifySpend(t.Liquidation, sigs.Liquidation, key)
}

// VerifyTedO verifies TED-O's recover, repayment and default signatures
// against the given key. The per-input escrow signatures are verified
// separately during witness assembly where the prefund context is at hand.
func (t *UnsignedTransactions) VerifyTedO(key *btcec.PublicKey,
	sigs *ffwire.TedOSignatures) error {

	if err := t.verifySpend(t.Recover, sigs.Recover, key); err != nil {
		return err
	}
	if err := t.verifySpend(t.Repayment, sigs.Repayment, key); err != nil {
		return err
	}
	return t.verifySpend(t.Default, sigs.Default, key)
}

// VerifyTedP verifies TED-P's recover signature against the given key.
func (t *UnsignedTransactions) VerifyTedP(key *btcec.PublicKey,
	sigs *ffwire.TedPSignatures) error {

	return t.verifySpend(t.Recover, sigs.Recover, key)
}

func (t *UnsignedTransactions) verifySpend(tx *wire.MsgTx,
	sig *schnorr.Signature, key *btcec.PublicKey) error {

	sigHash, err := t.spendSigHash(tx)
	if err != nil {
		return err
	}
	if !sig.Verify(sigHash, key) {
		return ErrInvalidSignature
	}
	return nil
}
