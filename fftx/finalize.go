package fftx

import (
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/wire"

	"github.com/firefish-io/firefish-go/ffscript"
	"github.com/firefish-io/firefish-go/ffwire"
)

// FinalizeSpend fills in the witness of a transaction spending the escrow
// contract output: the three signatures in canonical key order, the
// multisig leaf and its bare control block. The transaction must be one of
// the bundle's spenders.
func (t *UnsignedTransactions) FinalizeSpend(tx *wire.MsgTx,
	borrowerSig, tedOSig, tedPSig *schnorr.Signature) error {

	controlBlock, err := t.escrowOutput.ControlBlock()
	if err != nil {
		return err
	}

	tx.TxIn[0].Witness = ffscript.AssembleMultisigWitness(
		borrowerSig, tedOSig, tedPSig, t.keys.Permutation(),
		t.escrowOutput.LeafScript, controlBlock,
	)
	return nil
}

// AssembleEscrow verifies both agents' per-input signatures, obtains the
// borrower's through the sign callback, and fills in the witness of every
// contract-funded escrow input. The assembled copy is returned; the bundle
// itself stays untouched so a failure changes nothing.
//
// Both agents must supply at least one signature per contract-funded input;
// any surplus signatures are ignored since everything needed is in hand.
func (t *UnsignedTransactions) AssembleEscrow(prefund *ffscript.TaprootOutput,
	prefundKeys *ffscript.KeyBundle, tedO *ffwire.TedOSignatures,
	tedP *ffwire.TedPSignatures,
	sign func(sigHash []byte) (*schnorr.Signature, error)) (*wire.MsgTx, error) {

	fundingScript, err := prefund.PkScript()
	if err != nil {
		return nil, err
	}
	hashes, err := t.EscrowSigHashes(fundingScript, prefund.LeafScript)
	if err != nil {
		return nil, err
	}
	if len(tedO.Escrow) < len(hashes) || len(tedP.Escrow) < len(hashes) {
		return nil, ErrMissingSignature
	}

	controlBlock, err := prefund.ControlBlock()
	if err != nil {
		return nil, err
	}
	permutation := prefundKeys.Permutation()

	log.Tracef("Assembling escrow witnesses for %d contract inputs",
		len(hashes))

	result := t.Escrow.Copy()
	for i, h := range hashes {
		tedOSig, tedPSig := tedO.Escrow[i], tedP.Escrow[i]

		if !tedOSig.Verify(h.SigHash, prefundKeys.TedO) {
			return nil, ErrInvalidSignature
		}
		if !tedPSig.Verify(h.SigHash, prefundKeys.TedP) {
			return nil, ErrInvalidSignature
		}

		borrowerSig, err := sign(h.SigHash)
		if err != nil {
			return nil, err
		}

		result.TxIn[h.Index].Witness = ffscript.AssembleMultisigWitness(
			borrowerSig, tedOSig, tedPSig, permutation,
			prefund.LeafScript, controlBlock,
		)
	}

	return result, nil
}

// ExtractBorrowerSignatures pulls the borrower's signature out of every
// signed witness of the assembled escrow transaction, producing the
// broadcast request message. The borrower's stack position follows from the
// canonical key order.
func ExtractBorrowerSignatures(tx *wire.MsgTx,
	prefundKeys *ffscript.KeyBundle) (*ffwire.BroadcastRequest, error) {

	// Witness lists run bottom of stack first, with the first sorted key's
	// signature last among the signatures, so the element index is the
	// reverse of the borrower's position among the sorted keys.
	permutation := prefundKeys.Permutation()
	var position int
	for i, participant := range permutation {
		if participant == 0 {
			position = 2 - i
		}
	}

	req := &ffwire.BroadcastRequest{}
	for _, txIn := range tx.TxIn {
		if len(txIn.Witness) == 0 {
			continue
		}

		sig, err := schnorr.ParseSignature(txIn.Witness[position])
		if err != nil {
			return nil, err
		}
		req.Signatures = append(req.Signatures, sig)
	}
	return req, nil
}
