package ffwire

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

func testPubKey(t *testing.T, seed byte) *btcec.PublicKey {
	t.Helper()

	var keyBytes [32]byte
	keyBytes[31] = seed
	priv, _ := btcec.PrivKeyFromBytes(keyBytes[:])
	return priv.PubKey()
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

func testOffer(t *testing.T) *Offer {
	t.Helper()

	return &Offer{
		Escrow: &EscrowParams{
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
		},
		PrefundKeys: PrefundTedKeys{TedKeys{
			TedO: testPubKey(t, 0x11),
			TedP: testPubKey(t, 0x12),
		}},
		EscrowKeys: EscrowTedKeys{TedKeys{
			TedO: testPubKey(t, 0x13),
			TedP: testPubKey(t, 0x14),
		}},
	}
}

// TestOfferRoundTrip checks serialize→parse is the identity and that a
// garbage suffix invalidates the buffer.
func TestOfferRoundTrip(t *testing.T) {
	t.Parallel()

	offer := testOffer(t)

	var buf bytes.Buffer
	require.NoError(t, offer.Encode(&buf))

	parsed, err := ParseOffer(buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, offer.Escrow, parsed.Escrow)
	require.Equal(
		t, schnorr.SerializePubKey(offer.PrefundKeys.TedO),
		schnorr.SerializePubKey(parsed.PrefundKeys.TedO),
	)
	require.Equal(
		t, schnorr.SerializePubKey(offer.EscrowKeys.TedP),
		schnorr.SerializePubKey(parsed.EscrowKeys.TedP),
	)

	// Re-encoding must be byte exact.
	var buf2 bytes.Buffer
	require.NoError(t, parsed.Encode(&buf2))
	require.Equal(t, buf.Bytes(), buf2.Bytes())

	// A trailing byte is rejected.
	_, err = ParseOffer(append(buf.Bytes(), 0x00))
	require.ErrorIs(t, err, ErrTrailingBytes)

	// A truncated buffer is rejected.
	_, err = ParseOffer(buf.Bytes()[:buf.Len()-1])
	require.Error(t, err)
}

// TestEscrowParamsLegacyLayout checks that the V0 layout maps the single
// liquidator output onto both script slots and the collateral minimum.
func TestEscrowParamsLegacyLayout(t *testing.T) {
	t.Parallel()

	liquidatorScript := testP2WPKHScript(0xaa)

	var buf bytes.Buffer
	require.NoError(t, WriteElements(&buf,
		wire.TestNet,
		uint32(0),        // liquidator output index
		LockTime(1008),   // recover
		LockTime(720),    // default
		wire.NewTxOut(55_000, liquidatorScript),
		uint32(0), // no extra outputs
	))

	params := &EscrowParams{}
	require.NoError(t, params.Decode(bytes.NewReader(buf.Bytes()), StateV0))

	require.Equal(t, PkScript(liquidatorScript), params.LiquidatorScriptDefault)
	require.Equal(t, params.LiquidatorScriptDefault,
		params.LiquidatorScriptLiquidation)
	require.Equal(t, btcutil.Amount(55_000), params.MinCollateral)
}

// TestEscrowParamsBadLiquidatorIndex checks that an out-of-range index is
// rejected.
func TestEscrowParamsBadLiquidatorIndex(t *testing.T) {
	t.Parallel()

	params := *testOffer(t).Escrow
	params.LiquidatorOutputIndex = 2

	var buf bytes.Buffer
	require.NoError(t, params.Encode(&buf))

	err := (&EscrowParams{}).Decode(bytes.NewReader(buf.Bytes()), StateV1)
	require.Error(t, err)
	require.IsType(t, &LiquidatorIndexError{}, err)
}

// TestUnknownNetworkRejected checks that a bogus magic fails decoding.
func TestUnknownNetworkRejected(t *testing.T) {
	t.Parallel()

	params := *testOffer(t).Escrow
	params.Net = wire.BitcoinNet(0xdeadbeef)

	var buf bytes.Buffer
	require.NoError(t, params.Encode(&buf))

	err := (&EscrowParams{}).Decode(bytes.NewReader(buf.Bytes()), StateV1)
	require.IsType(t, &UnknownNetworkError{}, err)
}

// TestTedKeyString round-trips the out-of-band key exchange string and
// pins its shape.
func TestTedKeyString(t *testing.T) {
	t.Parallel()

	keys := &AllParticipantKeys{
		Prefund: testPubKey(t, 0x21),
		Escrow:  testPubKey(t, 0x22),
	}

	encoded := FormatTedKeyString('o', keys)
	require.Len(t, encoded, 5+64+64)
	require.Equal(t, "ffaok", encoded[:5])
	require.Equal(
		t, hex.EncodeToString(schnorr.SerializePubKey(keys.Prefund)),
		encoded[5:5+64],
	)

	tag, parsed, err := ParseTedKeyString(encoded)
	require.NoError(t, err)
	require.EqualValues(t, 'o', tag)
	require.Equal(
		t, schnorr.SerializePubKey(keys.Escrow),
		schnorr.SerializePubKey(parsed.Escrow),
	)

	_, _, err = ParseTedKeyString("ffaxk" + encoded[5:])
	require.Error(t, err)
	_, _, err = ParseTedKeyString(encoded[:100])
	require.Error(t, err)
}

// TestOfferConstruction checks the liquidator index draw stays in bounds.
func TestOfferConstruction(t *testing.T) {
	t.Parallel()

	mandatory := &MandatoryOfferFields{
		Net:                         wire.TestNet,
		LiquidatorScriptDefault:     testP2WPKHScript(0x01),
		LiquidatorScriptLiquidation: testP2WPKHScript(0x02),
		MinCollateral:               50_000,
		RecoverLockTime:             900,
		DefaultLockTime:             600,
		TedOKeys: AllParticipantKeys{
			Prefund: testPubKey(t, 0x31),
			Escrow:  testPubKey(t, 0x32),
		},
		TedPKeys: AllParticipantKeys{
			Prefund: testPubKey(t, 0x33),
			Escrow:  testPubKey(t, 0x34),
		},
	}

	for i := 0; i < 16; i++ {
		offer, err := mandatory.IntoOffer(&OptionalOfferFields{
			ExtraTerminationOutputs: []*wire.TxOut{
				wire.NewTxOut(500, testP2WPKHScript(0x41)),
				wire.NewTxOut(600, testP2WPKHScript(0x42)),
			},
		})
		require.NoError(t, err)
		require.LessOrEqual(t, offer.Escrow.LiquidatorOutputIndex,
			uint32(2))
	}

	offer, err := mandatory.IntoOffer(nil)
	require.NoError(t, err)
	require.Zero(t, offer.Escrow.LiquidatorOutputIndex)
}
