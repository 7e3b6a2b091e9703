package fftx

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/firefish-io/firefish-go/ffscript"
	"github.com/firefish-io/firefish-go/ffwire"
)

func testPrivKey(seed byte) *btcec.PrivateKey {
	var keyBytes [32]byte
	keyBytes[31] = seed
	priv, _ := btcec.PrivKeyFromBytes(keyBytes[:])
	return priv
}

func testP2WPKHScript(seed byte) []byte {
	script := make([]byte, 22)
	script[0] = 0x00
	script[1] = 0x14
	for i := 2; i < 22; i++ {
		script[i] = seed
	}
	return script
}

func testParams() *ffwire.EscrowParams {
	return &ffwire.EscrowParams{
		Net:                         wire.TestNet,
		LiquidatorScriptDefault:     testP2WPKHScript(0xaa),
		LiquidatorScriptLiquidation: testP2WPKHScript(0xbb),
		MinCollateral:               100_000,
		ExtraTerminationOutputs: []*wire.TxOut{
			wire.NewTxOut(1_000, testP2WPKHScript(0xcc)),
		},
		LiquidatorOutputIndex: 1,
		RecoverLockTime:       1008,
		DefaultLockTime:       720,
	}
}

func testTedKeys() ffwire.EscrowTedKeys {
	return ffwire.EscrowTedKeys{TedKeys: ffwire.TedKeys{
		TedO: testPrivKey(0x13).PubKey(),
		TedP: testPrivKey(0x14).PubKey(),
	}}
}

func testValidatedInfo(t *testing.T) *ffwire.ValidatedBorrowerInfo {
	t.Helper()

	info := &ffwire.BorrowerInfo{
		EscrowEphKey: testPrivKey(0x71).PubKey(),
		Inputs: []*ffwire.SpendableTxo{{
			OutPoint: wire.OutPoint{
				Hash:  chainhash.Hash{0x01},
				Index: 0,
			},
			TxOut: wire.NewTxOut(
				150_000, testP2WPKHScript(0x02),
			),
			Sequence: ffwire.Sequence(SequenceEnableRbfNoLocktime),
		}},
		TxHeight: 0,
		EscrowExtraOutputs: []*wire.TxOut{
			wire.NewTxOut(600, testP2WPKHScript(0x03)),
		},
		EscrowContractOutputPosition: 0,
		EscrowAmount:                 148_000,
		CollateralAmountDefault:      146_000,
		CollateralAmountLiquidation:  146_500,
		RepaymentOutputs: []*wire.TxOut{
			wire.NewTxOut(700, testP2WPKHScript(0x04)),
			wire.NewTxOut(147_000, testP2WPKHScript(0x05)),
		},
		RecoverOutputs: []*wire.TxOut{
			wire.NewTxOut(147_100, testP2WPKHScript(0x06)),
		},
	}

	validated, err := info.Validate(testParams())
	require.NoError(t, err)
	return validated
}

// TestTransactionBundleShape pins the structure of the five derived
// transactions: versions, lock times, sequences and output composition.
func TestTransactionBundleShape(t *testing.T) {
	t.Parallel()

	params := testParams()
	txes, err := NewUnsignedTransactions(params, testTedKeys(),
		testValidatedInfo(t))
	require.NoError(t, err)

	// Escrow: input per txo, contract output inserted at position 0.
	require.Len(t, txes.Escrow.TxIn, 1)
	require.Len(t, txes.Escrow.TxOut, 2)
	require.EqualValues(t, TxVersion, txes.Escrow.Version)
	require.Zero(t, txes.Escrow.LockTime)
	require.EqualValues(t, 148_000, txes.EscrowTxOut().Value)

	escrowScript, err := ffscript.NewEscrowOutput(txes.Keys())
	require.NoError(t, err)
	wantPkScript, err := escrowScript.PkScript()
	require.NoError(t, err)
	require.Equal(t, wantPkScript, txes.EscrowTxOut().PkScript)

	// All four spenders consume the contract outpoint at index 0.
	contractOutPoint := wire.OutPoint{Hash: txes.Escrow.TxHash(), Index: 0}
	for _, tx := range []*wire.MsgTx{
		txes.Repayment, txes.Default, txes.Liquidation, txes.Recover,
	} {
		require.Len(t, tx.TxIn, 1)
		require.Equal(t, contractOutPoint, tx.TxIn[0].PreviousOutPoint)
		require.EqualValues(t, TxVersion, tx.Version)
	}

	require.EqualValues(t, SequenceEnableRbfNoLocktime,
		txes.Repayment.TxIn[0].Sequence)
	require.Zero(t, txes.Repayment.LockTime)
	require.EqualValues(t, 720, txes.Default.LockTime)
	require.Zero(t, txes.Liquidation.LockTime)

	require.Zero(t, txes.Recover.TxIn[0].Sequence)
	require.EqualValues(t, 1008, txes.Recover.LockTime)

	// Termination outputs: extra output first, liquidator inserted at
	// index 1 with the path-specific script and amount.
	require.Len(t, txes.Default.TxOut, 2)
	require.EqualValues(t, 1_000, txes.Default.TxOut[0].Value)
	require.EqualValues(t, 146_000, txes.Default.TxOut[1].Value)
	require.Equal(t, []byte(params.LiquidatorScriptDefault),
		txes.Default.TxOut[1].PkScript)

	require.Len(t, txes.Liquidation.TxOut, 2)
	require.EqualValues(t, 146_500, txes.Liquidation.TxOut[1].Value)
	require.Equal(t, []byte(params.LiquidatorScriptLiquidation),
		txes.Liquidation.TxOut[1].PkScript)
}

// TestBundleRoundTrip checks the bundle codec is byte exact.
func TestBundleRoundTrip(t *testing.T) {
	t.Parallel()

	tedKeys := testTedKeys()
	txes, err := NewUnsignedTransactions(testParams(), tedKeys,
		testValidatedInfo(t))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, txes.Encode(&buf))

	parsed, err := DecodeUnsignedTransactions(
		bytes.NewReader(buf.Bytes()), tedKeys,
	)
	require.NoError(t, err)
	require.Equal(t, txes.MultisigLeafHash(), parsed.MultisigLeafHash())
	require.Equal(t, txes.Escrow.TxHash(), parsed.Escrow.TxHash())

	var buf2 bytes.Buffer
	require.NoError(t, parsed.Encode(&buf2))
	require.Equal(t, buf.Bytes(), buf2.Bytes())
}

// TestWeightEstimator compares the estimator against an assembled
// transaction of the same shape.
func TestWeightEstimator(t *testing.T) {
	t.Parallel()

	// Build a transaction with one taproot script spend input of the
	// escrow shape and two outputs.
	tx := wire.NewMsgTx(TxVersion)
	tx.AddTxIn(&wire.TxIn{
		Witness: wire.TxWitness{
			make([]byte, 64), make([]byte, 64), make([]byte, 64),
			make([]byte, MultisigScriptSize),
			make([]byte, ControlBlockBaseSize),
		},
	})
	tx.AddTxOut(wire.NewTxOut(0, make([]byte, 34)))
	tx.AddTxOut(wire.NewTxOut(0, make([]byte, 22)))

	var base, full bytes.Buffer
	require.NoError(t, tx.SerializeNoWitness(&base))
	require.NoError(t, tx.Serialize(&full))
	actualWeight := int64(4*base.Len() + (full.Len() - base.Len()))

	predicted := PredictTxWeight(1, EscrowSpendWitnessSizes(), []int{34, 22})
	require.Equal(t, actualWeight, predicted)
}

// TestOffsetSequence exercises the delay offsetting error taxonomy.
func TestOffsetSequence(t *testing.T) {
	t.Parallel()

	// Height lock offset by height.
	seq, err := OffsetSequence(100, RelativeDelay{DelayHeight, 44})
	require.NoError(t, err)
	require.EqualValues(t, 144, seq)

	// Zero delay accepts anything.
	seq, err = OffsetSequence(wire.MaxTxInSequenceNum,
		RelativeDelay{Unit: DelayZero})
	require.NoError(t, err)
	require.EqualValues(t, wire.MaxTxInSequenceNum, seq)

	// Disabled lock rejects non-zero delays.
	_, err = OffsetSequence(SequenceLockTimeDisabled|100,
		RelativeDelay{DelayHeight, 1})
	require.ErrorIs(t, err, ErrNotLocked)

	// Unit mismatches both ways.
	_, err = OffsetSequence(100, RelativeDelay{DelayTimeUnits, 1})
	require.ErrorIs(t, err, ErrUnitMismatch)
	_, err = OffsetSequence(SequenceLockTimeIsSeconds|100,
		RelativeDelay{DelayHeight, 1})
	require.ErrorIs(t, err, ErrUnitMismatch)

	// Time lock offset by time.
	seq, err = OffsetSequence(SequenceLockTimeIsSeconds|100,
		RelativeDelay{DelayTimeUnits, 10})
	require.NoError(t, err)
	require.EqualValues(t, SequenceLockTimeIsSeconds|110, seq)

	// Overflow out of the height-lock range.
	_, err = OffsetSequence(0xffff, RelativeDelay{DelayHeight, 1 << 22})
	require.ErrorIs(t, err, ErrOverflow)
}

// TestExtractSpendableOutputs checks script filtering and the
// anti-fee-sniping sequence normalization.
func TestExtractSpendableOutputs(t *testing.T) {
	t.Parallel()

	ownedScript := testP2WPKHScript(0x99)

	fundingTx := wire.NewMsgTx(TxVersion)
	fundingTx.AddTxIn(&wire.TxIn{Sequence: wire.MaxTxInSequenceNum - 1})
	fundingTx.AddTxOut(wire.NewTxOut(50_000, ownedScript))
	fundingTx.AddTxOut(wire.NewTxOut(1_000, testP2WPKHScript(0x98)))
	fundingTx.AddTxOut(wire.NewTxOut(60_000, ownedScript))

	// No lock time: sequences opt into RBF without lock time.
	txos, height := ExtractSpendableOutputs(
		[]*wire.MsgTx{fundingTx}, ownedScript,
	)
	require.Len(t, txos, 2)
	require.Zero(t, height)
	require.EqualValues(t, 0, txos[0].OutPoint.Index)
	require.EqualValues(t, 2, txos[1].OutPoint.Index)
	for _, txo := range txos {
		require.EqualValues(t, SequenceEnableRbfNoLocktime,
			txo.Sequence)
	}

	// A block lock time on a funding transaction flips every sequence
	// to zero and surfaces the height.
	lockedTx := wire.NewMsgTx(TxVersion)
	lockedTx.LockTime = 815_000
	lockedTx.AddTxIn(&wire.TxIn{Sequence: 0xfffffffd})
	lockedTx.AddTxOut(wire.NewTxOut(40_000, ownedScript))

	txos, height = ExtractSpendableOutputs(
		[]*wire.MsgTx{fundingTx, lockedTx}, ownedScript,
	)
	require.Len(t, txos, 3)
	require.EqualValues(t, 815_000, height)
	for _, txo := range txos {
		require.Zero(t, txo.Sequence)
	}

	// A unix-time lock time is ignored for fee sniping purposes.
	timeTx := wire.NewMsgTx(TxVersion)
	timeTx.LockTime = 1_700_000_000
	timeTx.AddTxIn(&wire.TxIn{Sequence: 0xfffffffd})
	timeTx.AddTxOut(wire.NewTxOut(40_000, ownedScript))

	_, height = ExtractSpendableOutputs([]*wire.MsgTx{timeTx}, ownedScript)
	require.Zero(t, height)

	// A disabled lock time (all sequences final) is ignored too.
	finalTx := wire.NewMsgTx(TxVersion)
	finalTx.LockTime = 900_000
	finalTx.AddTxIn(&wire.TxIn{Sequence: wire.MaxTxInSequenceNum})
	finalTx.AddTxOut(wire.NewTxOut(40_000, ownedScript))

	_, height = ExtractSpendableOutputs([]*wire.MsgTx{finalTx}, ownedScript)
	require.Zero(t, height)
}

// TestExtractPanicsOnNonWitness ensures the malleability sanity check
// fires on a legacy funding script.
func TestExtractPanicsOnNonWitness(t *testing.T) {
	t.Parallel()

	p2pkhScript, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).AddOp(txscript.OP_HASH160).
		AddData(make([]byte, 20)).
		AddOp(txscript.OP_EQUALVERIFY).AddOp(txscript.OP_CHECKSIG).
		Script()
	require.NoError(t, err)

	tx := wire.NewMsgTx(TxVersion)
	tx.AddTxIn(&wire.TxIn{})
	tx.AddTxOut(wire.NewTxOut(10_000, p2pkhScript))

	require.Panics(t, func() {
		ExtractSpendableOutputs([]*wire.MsgTx{tx}, p2pkhScript)
	})
}
