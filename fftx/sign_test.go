package fftx

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/firefish-io/firefish-go/ffscript"
	"github.com/firefish-io/firefish-go/ffwire"
)

// testContract builds a complete signable setup: a prefund output, a
// funding transaction paying it, and the derived transaction bundle.
type testContract struct {
	borrowerPrefundKey *btcec.PrivateKey
	borrowerEscrowKey  *btcec.PrivateKey
	tedOPrefundKey     *btcec.PrivateKey
	tedOEscrowKey      *btcec.PrivateKey
	tedPPrefundKey     *btcec.PrivateKey
	tedPEscrowKey      *btcec.PrivateKey

	prefund       *ffscript.TaprootOutput
	prefundKeys   *ffscript.KeyBundle
	fundingScript []byte
	txes          *UnsignedTransactions
}

func newTestContract(t *testing.T) *testContract {
	t.Helper()

	c := &testContract{
		borrowerPrefundKey: testPrivKey(0x01),
		borrowerEscrowKey:  testPrivKey(0x02),
		tedOPrefundKey:     testPrivKey(0x03),
		tedOEscrowKey:      testPrivKey(0x04),
		tedPPrefundKey:     testPrivKey(0x05),
		tedPEscrowKey:      testPrivKey(0x06),
	}

	var err error
	c.prefundKeys, err = ffscript.NewKeyBundle(
		c.borrowerPrefundKey.PubKey(),
		c.tedOPrefundKey.PubKey(),
		c.tedPPrefundKey.PubKey(),
	)
	require.NoError(t, err)

	backupScript, err := ffscript.BorrowerBackupScript(
		1008, c.borrowerPrefundKey.PubKey(),
	)
	require.NoError(t, err)

	c.prefund, err = ffscript.NewPrefundOutput(
		c.prefundKeys, ffscript.TapLeafHash(backupScript),
	)
	require.NoError(t, err)
	c.fundingScript, err = c.prefund.PkScript()
	require.NoError(t, err)

	// Funding transaction paying the prefund twice.
	fundingTx := wire.NewMsgTx(TxVersion)
	fundingTx.AddTxIn(&wire.TxIn{Sequence: wire.MaxTxInSequenceNum})
	fundingTx.AddTxOut(wire.NewTxOut(90_000, c.fundingScript))
	fundingTx.AddTxOut(wire.NewTxOut(60_000, c.fundingScript))

	txos, height := ExtractSpendableOutputs(
		[]*wire.MsgTx{fundingTx}, c.fundingScript,
	)
	require.Len(t, txos, 2)

	info := &ffwire.BorrowerInfo{
		EscrowEphKey:                 c.borrowerEscrowKey.PubKey(),
		Inputs:                       txos,
		TxHeight:                     height,
		EscrowContractOutputPosition: 0,
		EscrowAmount:                 148_000,
		CollateralAmountDefault:      146_000,
		CollateralAmountLiquidation:  146_500,
		RepaymentOutputs: []*wire.TxOut{
			wire.NewTxOut(147_000, testP2WPKHScript(0x05)),
		},
		RecoverOutputs: []*wire.TxOut{
			wire.NewTxOut(147_100, testP2WPKHScript(0x06)),
		},
	}
	validated, err := info.Validate(testParams())
	require.NoError(t, err)

	c.txes, err = NewUnsignedTransactions(
		testParams(), ffwire.EscrowTedKeys{TedKeys: ffwire.TedKeys{
			TedO: c.tedOEscrowKey.PubKey(),
			TedP: c.tedPEscrowKey.PubKey(),
		}}, validated,
	)
	require.NoError(t, err)

	return c
}

// executeSpend runs a transaction input through the script engine against
// its previous outputs, enforcing full consensus validation.
func executeSpend(t *testing.T, tx *wire.MsgTx, idx int,
	prevOuts []*wire.TxOut) {

	t.Helper()

	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for i, txIn := range tx.TxIn {
		fetcher.AddPrevOut(txIn.PreviousOutPoint, prevOuts[i])
	}
	hashCache := txscript.NewTxSigHashes(tx, fetcher)

	vm, err := txscript.NewEngine(
		prevOuts[idx].PkScript, tx, idx,
		txscript.StandardVerifyFlags, nil, hashCache,
		prevOuts[idx].Value, fetcher,
	)
	require.NoError(t, err)
	require.NoError(t, vm.Execute())
}

// TestSignVerifyRoundTrip checks every participant's signatures verify
// under their key, and that the borrower's and TED-P's fail under a foreign
// key.
func TestSignVerifyRoundTrip(t *testing.T) {
	t.Parallel()

	c := newTestContract(t)

	borrowerSigs, err := c.txes.SignBorrower(c.borrowerEscrowKey)
	require.NoError(t, err)
	require.NoError(t, c.txes.VerifyBorrower(
		c.borrowerEscrowKey.PubKey(), borrowerSigs,
	))
	require.ErrorIs(t, c.txes.VerifyBorrower(
		c.tedOEscrowKey.PubKey(), borrowerSigs,
	), ErrInvalidSignature)

	escrowSigsO, err := c.txes.SignEscrowInputs(
		c.tedOPrefundKey, c.fundingScript, c.prefund.LeafScript,
	)
	require.NoError(t, err)
	require.Len(t, escrowSigsO, 2)

	tedOSigs, err := c.txes.SignTedO(c.tedOEscrowKey, escrowSigsO)
	require.NoError(t, err)
	require.NoError(t, c.txes.VerifyTedO(
		c.tedOEscrowKey.PubKey(), tedOSigs,
	))

	tedPSigs, err := c.txes.SignTedP(c.tedPEscrowKey, nil)
	require.NoError(t, err)
	require.NoError(t, c.txes.VerifyTedP(
		c.tedPEscrowKey.PubKey(), tedPSigs,
	))
	require.ErrorIs(t, c.txes.VerifyTedP(
		c.tedOEscrowKey.PubKey(), tedPSigs,
	), ErrInvalidSignature)
}

// TestFinalizeSpendConsensus finalizes every escrow spender and validates
// it against the script engine.
func TestFinalizeSpendConsensus(t *testing.T) {
	t.Parallel()

	c := newTestContract(t)

	type spend struct {
		name string
		tx   *wire.MsgTx
		sign func(*btcec.PrivateKey) (*schnorr.Signature, error)
	}
	spends := []spend{
		{"repayment", c.txes.Repayment, c.txes.SignRepayment},
		{"default", c.txes.Default, c.txes.SignDefault},
		{"liquidation", c.txes.Liquidation, c.txes.SignLiquidation},
	}

	for _, s := range spends {
		s := s
		t.Run(s.name, func(t *testing.T) {
			borrowerSig, err := s.sign(c.borrowerEscrowKey)
			require.NoError(t, err)
			tedOSig, err := s.sign(c.tedOEscrowKey)
			require.NoError(t, err)
			tedPSig, err := s.sign(c.tedPEscrowKey)
			require.NoError(t, err)

			require.NoError(t, c.txes.FinalizeSpend(
				s.tx, borrowerSig, tedOSig, tedPSig,
			))
			require.Len(t, s.tx.TxIn[0].Witness, 5)

			executeSpend(t, s.tx, 0, []*wire.TxOut{
				c.txes.EscrowTxOut(),
			})
		})
	}
}

// TestAssembleEscrowConsensus assembles the escrow transaction and runs
// every input through the script engine.
func TestAssembleEscrowConsensus(t *testing.T) {
	t.Parallel()

	c := newTestContract(t)

	tedOEscrowSigs, err := c.txes.SignEscrowInputs(
		c.tedOPrefundKey, c.fundingScript, c.prefund.LeafScript,
	)
	require.NoError(t, err)
	tedPEscrowSigs, err := c.txes.SignEscrowInputs(
		c.tedPPrefundKey, c.fundingScript, c.prefund.LeafScript,
	)
	require.NoError(t, err)

	tedOSigs, err := c.txes.SignTedO(c.tedOEscrowKey, tedOEscrowSigs)
	require.NoError(t, err)
	tedPSigs, err := c.txes.SignTedP(c.tedPEscrowKey, tedPEscrowSigs)
	require.NoError(t, err)

	escrowTx, err := c.txes.AssembleEscrow(
		c.prefund, c.prefundKeys, tedOSigs, tedPSigs,
		func(sigHash []byte) (*schnorr.Signature, error) {
			return schnorr.Sign(c.borrowerPrefundKey, sigHash)
		},
	)
	require.NoError(t, err)

	// The bundle's own escrow transaction stays unsigned.
	require.Empty(t, c.txes.Escrow.TxIn[0].Witness)

	for i := range escrowTx.TxIn {
		require.Len(t, escrowTx.TxIn[i].Witness, 5)
		executeSpend(t, escrowTx, i, c.txes.EscrowPrevOuts)
	}

	// The broadcast request extracts one valid borrower signature per
	// input.
	req, err := ExtractBorrowerSignatures(escrowTx, c.prefundKeys)
	require.NoError(t, err)
	require.Len(t, req.Signatures, len(escrowTx.TxIn))

	hashes, err := c.txes.EscrowSigHashes(
		c.fundingScript, c.prefund.LeafScript,
	)
	require.NoError(t, err)
	for i, h := range hashes {
		require.True(t, req.Signatures[i].Verify(
			h.SigHash, c.borrowerPrefundKey.PubKey(),
		))
	}
}

// TestAssembleEscrowMissingSignature checks the missing-signature error.
func TestAssembleEscrowMissingSignature(t *testing.T) {
	t.Parallel()

	c := newTestContract(t)

	tedOEscrowSigs, err := c.txes.SignEscrowInputs(
		c.tedOPrefundKey, c.fundingScript, c.prefund.LeafScript,
	)
	require.NoError(t, err)

	tedOSigs, err := c.txes.SignTedO(c.tedOEscrowKey, tedOEscrowSigs)
	require.NoError(t, err)
	// TED-P contributes one signature too few.
	tedPSigs, err := c.txes.SignTedP(c.tedPEscrowKey, tedOEscrowSigs[:1])
	require.NoError(t, err)

	_, err = c.txes.AssembleEscrow(
		c.prefund, c.prefundKeys, tedOSigs, tedPSigs,
		func(sigHash []byte) (*schnorr.Signature, error) {
			return schnorr.Sign(c.borrowerPrefundKey, sigHash)
		},
	)
	require.ErrorIs(t, err, ErrMissingSignature)
}

// TestAssembleEscrowBadSignature checks cross-key verification failure.
func TestAssembleEscrowBadSignature(t *testing.T) {
	t.Parallel()

	c := newTestContract(t)

	// TED-P's prefund signatures handed off as TED-O's.
	wrongSigs, err := c.txes.SignEscrowInputs(
		c.tedPPrefundKey, c.fundingScript, c.prefund.LeafScript,
	)
	require.NoError(t, err)

	tedOSigs, err := c.txes.SignTedO(c.tedOEscrowKey, wrongSigs)
	require.NoError(t, err)
	tedPSigs, err := c.txes.SignTedP(c.tedPEscrowKey, wrongSigs)
	require.NoError(t, err)

	_, err = c.txes.AssembleEscrow(
		c.prefund, c.prefundKeys, tedOSigs, tedPSigs,
		func(sigHash []byte) (*schnorr.Signature, error) {
			return schnorr.Sign(c.borrowerPrefundKey, sigHash)
		},
	)
	require.ErrorIs(t, err, ErrInvalidSignature)
}
