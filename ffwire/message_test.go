package ffwire

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/require"
)

func testSignature(t *testing.T, seed byte) *schnorr.Signature {
	t.Helper()

	var digest [32]byte
	for i := range digest {
		digest[i] = seed
	}
	var keyBytes [32]byte
	keyBytes[31] = 0x42
	priv, _ := btcec.PrivKeyFromBytes(keyBytes[:])

	sig, err := schnorr.Sign(priv, digest[:])
	require.NoError(t, err)
	return sig
}

func testTx(value int64, script []byte) *wire.MsgTx {
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Index: 1},
		Sequence:         wire.MaxTxInSequenceNum,
	})
	tx.AddTxOut(wire.NewTxOut(value, script))
	return tx
}

// roundTrip encodes a message, parses it back through the dispatcher and
// checks the re-encoding is byte exact. It also checks suffix garbage and
// truncation are rejected.
func roundTrip(t *testing.T, msg Message) Message {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, msg.Encode(&buf))

	parsed, err := ParseMessage(buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, msg.MsgId(), parsed.MsgId())

	var buf2 bytes.Buffer
	require.NoError(t, parsed.Encode(&buf2))
	require.Equal(t, buf.Bytes(), buf2.Bytes(),
		"re-encoding mismatch for %v", spew.Sdump(parsed))

	_, err = ParseMessage(append(buf.Bytes(), 0xff))
	require.ErrorIs(t, err, ErrTrailingBytes)

	_, err = ParseMessage(buf.Bytes()[:buf.Len()-1])
	require.Error(t, err)

	return parsed
}

func TestPrefundHintsRoundTrip(t *testing.T) {
	t.Parallel()

	parsed := roundTrip(t, &PrefundHints{FeeReserve: 12_345})
	require.EqualValues(t, 12_345, parsed.(*PrefundHints).FeeReserve)
}

func TestBorrowerSpendInfoRoundTrip(t *testing.T) {
	t.Parallel()

	info := &BorrowerSpendInfo{
		Key:        testPubKey(t, 0x51),
		ReturnHash: chainhash.Hash{0x01, 0x02, 0x03},
	}
	parsed := roundTrip(t, info).(*BorrowerSpendInfo)
	require.Equal(t, info.ReturnHash, parsed.ReturnHash)
	require.Equal(
		t, schnorr.SerializePubKey(info.Key),
		schnorr.SerializePubKey(parsed.Key),
	)
}

func TestEscrowHintsRoundTrip(t *testing.T) {
	t.Parallel()

	hints := &EscrowHints{
		FeeRate:                  1_500,
		EscrowFeeBumpTxOut:       wire.NewTxOut(600, testP2WPKHScript(0x61)),
		FinalizationFeeBumpTxOut: wire.NewTxOut(700, testP2WPKHScript(0x62)),
		Transactions: []*wire.MsgTx{
			testTx(10_000, testP2WPKHScript(0x63)),
			testTx(20_000, testP2WPKHScript(0x64)),
		},
	}
	parsed := roundTrip(t, hints).(*EscrowHints)
	require.EqualValues(t, 1_500, parsed.FeeRate)
	require.Len(t, parsed.Transactions, 2)
	require.Equal(
		t, hints.Transactions[1].TxHash(), parsed.Transactions[1].TxHash(),
	)
}

func TestBorrowerInfoRoundTrip(t *testing.T) {
	t.Parallel()

	info := &BorrowerInfo{
		EscrowEphKey: testPubKey(t, 0x71),
		Inputs: []*SpendableTxo{{
			OutPoint: wire.OutPoint{
				Hash:  chainhash.Hash{0xab},
				Index: 3,
			},
			TxOut:    wire.NewTxOut(150_000, testP2WPKHScript(0x72)),
			Sequence: 0xfffffffd,
		}},
		TxHeight:                     815_000,
		EscrowExtraOutputs:           []*wire.TxOut{wire.NewTxOut(600, testP2WPKHScript(0x73))},
		EscrowContractOutputPosition: 1,
		EscrowAmount:                 140_000,
		CollateralAmountDefault:      120_000,
		CollateralAmountLiquidation:  121_000,
		RepaymentOutputs:             []*wire.TxOut{wire.NewTxOut(130_000, testP2WPKHScript(0x74))},
		RecoverOutputs:               []*wire.TxOut{wire.NewTxOut(131_000, testP2WPKHScript(0x75))},
	}
	parsed := roundTrip(t, info).(*BorrowerInfo)
	require.Equal(t, info.Inputs[0].OutPoint, parsed.Inputs[0].OutPoint)
	require.Equal(t, info.EscrowAmount, parsed.EscrowAmount)
	require.Equal(t, info.TxHeight, parsed.TxHeight)
}

// TestBorrowerInfoEndianness pins the mixed endianness: the contract
// output position is big-endian while the height and amounts are
// little-endian.
func TestBorrowerInfoEndianness(t *testing.T) {
	t.Parallel()

	info := &BorrowerInfo{
		EscrowEphKey:                 testPubKey(t, 0x71),
		TxHeight:                     0x01020304,
		EscrowContractOutputPosition: 0x0a0b0c0d,
		EscrowAmount:                 0x1122334455667788,
	}

	var buf bytes.Buffer
	require.NoError(t, info.Encode(&buf))
	raw := buf.Bytes()

	// id byte + 32-byte key, then height LE, position BE, amount LE.
	require.Equal(t, uint32(0x01020304),
		binary.LittleEndian.Uint32(raw[33:37]))
	require.Equal(t, uint32(0x0a0b0c0d),
		binary.BigEndian.Uint32(raw[37:41]))
	require.Equal(t, uint64(0x1122334455667788),
		binary.LittleEndian.Uint64(raw[41:49]))
}

func TestBorrowerInfoValidate(t *testing.T) {
	t.Parallel()

	params := testOffer(t).Escrow

	info := &BorrowerInfo{
		EscrowEphKey:                 testPubKey(t, 0x71),
		EscrowContractOutputPosition: 1,
		CollateralAmountDefault:      params.MinCollateral,
		CollateralAmountLiquidation:  params.MinCollateral,
	}

	// Position 1 with no extra outputs is out of bounds.
	_, err := info.Validate(params)
	require.ErrorIs(t, err, ErrContractPositionOob)

	info.EscrowContractOutputPosition = 0
	_, err = info.Validate(params)
	require.NoError(t, err)

	info.CollateralAmountDefault = params.MinCollateral - 1
	_, err = info.Validate(params)
	require.ErrorIs(t, err, ErrUndercollateralized)
}

func TestBorrowerSignaturesRoundTrip(t *testing.T) {
	t.Parallel()

	sigs := &BorrowerSignatures{
		Recover:     testSignature(t, 0x01),
		Repayment:   testSignature(t, 0x02),
		Default:     testSignature(t, 0x03),
		Liquidation: testSignature(t, 0x04),
	}
	parsed := roundTrip(t, sigs).(*BorrowerSignatures)
	require.Equal(
		t, sigs.Liquidation.Serialize(), parsed.Liquidation.Serialize(),
	)
}

func TestTedSignaturesRoundTrip(t *testing.T) {
	t.Parallel()

	tedO := &TedOSignatures{
		Recover:   testSignature(t, 0x05),
		Repayment: testSignature(t, 0x06),
		Default:   testSignature(t, 0x07),
		Escrow: []*schnorr.Signature{
			testSignature(t, 0x08), testSignature(t, 0x09),
		},
	}
	parsedO := roundTrip(t, tedO).(*TedOSignatures)
	require.Len(t, parsedO.Escrow, 2)

	tedP := &TedPSignatures{
		Recover: testSignature(t, 0x0a),
		Escrow:  []*schnorr.Signature{testSignature(t, 0x0b)},
	}
	parsedP := roundTrip(t, tedP).(*TedPSignatures)
	require.Len(t, parsedP.Escrow, 1)

	// The sum parser dispatches on the id byte.
	var buf bytes.Buffer
	require.NoError(t, tedO.Encode(&buf))
	sum, err := ParseTedSignatures(buf.Bytes())
	require.NoError(t, err)
	require.NotNil(t, sum.TedO)
	require.Nil(t, sum.TedP)

	// Empty input means nothing received.
	sum, err = ParseTedSignatures(nil)
	require.NoError(t, err)
	require.Nil(t, sum)
}

func TestBroadcastRequestRoundTrip(t *testing.T) {
	t.Parallel()

	req := &BroadcastRequest{
		Signatures: []*schnorr.Signature{
			testSignature(t, 0x0c),
			testSignature(t, 0x0d),
			testSignature(t, 0x0e),
		},
	}
	parsed := roundTrip(t, req).(*BroadcastRequest)
	require.Len(t, parsed.Signatures, 3)
}

// TestSignatureCountLimit checks the DoS bound on signature lists.
func TestSignatureCountLimit(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WriteElements(&buf,
		MsgEscrowSigsFromBorrower,
		uint32(MaxInputCount+1),
	))

	_, err := ParseMessage(buf.Bytes())
	require.IsType(t, &TooManyInputsError{}, err)
}

// TestUnknownMessageId checks dispatch failure on an unknown tag.
func TestUnknownMessageId(t *testing.T) {
	t.Parallel()

	_, err := ParseMessage([]byte{0x7f})
	require.IsType(t, &InvalidMessageIdError{}, err)

	_, err = ParseMessage(nil)
	require.ErrorIs(t, err, ErrUnexpectedEnd)
}

// TestSpendableTxoRoundTrip checks the consensus encoding of a txo.
func TestSpendableTxoRoundTrip(t *testing.T) {
	t.Parallel()

	txo := &SpendableTxo{
		OutPoint: wire.OutPoint{Hash: chainhash.Hash{0x11}, Index: 7},
		TxOut:    wire.NewTxOut(42_000, testP2WPKHScript(0x81)),
		Sequence: 0,
	}

	var buf bytes.Buffer
	require.NoError(t, txo.Encode(&buf))

	parsed := &SpendableTxo{}
	r := bytes.NewReader(buf.Bytes())
	require.NoError(t, parsed.Decode(r))
	require.Zero(t, r.Len())
	require.Equal(t, txo.OutPoint, parsed.OutPoint)
	require.Equal(t, txo.TxOut.Value, parsed.TxOut.Value)
	require.Equal(t, txo.Sequence, parsed.Sequence)

	txIn := parsed.TxIn()
	require.Equal(t, txo.OutPoint, txIn.PreviousOutPoint)
	require.Empty(t, txIn.Witness)
	require.Empty(t, txIn.SignatureScript)
}
