package ffscript

import (
	"encoding/hex"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/txscript"
)

// TaprootNUMSHex is the x-only encoding of the internal key used for all
// contract outputs. It is the hash of the string
// "Firefish NUMS 79BE667E F9DCBBAC 55A06295 CE870B07 029BFCDB 2DCE28D9
// 59F2815B 16F81798\n" lifted to a curve point, so no party knows its
// discrete log and the key-path spend is provably unusable.
const TaprootNUMSHex = "42bd12e5ccca5b830e755b1e9d7104bdf89819276746d7b5d42cb2a227bff08d"

var numsKey *btcec.PublicKey

func init() {
	keyBytes, err := hex.DecodeString(TaprootNUMSHex)
	if err != nil {
		panic("invalid NUMS hex: " + err.Error())
	}
	numsKey, err = schnorr.ParsePubKey(keyBytes)
	if err != nil {
		panic("invalid NUMS point: " + err.Error())
	}
}

// InternalKey returns the fixed NUMS point used as the taproot internal key
// of every contract output.
func InternalKey() *btcec.PublicKey {
	return numsKey
}

// MultisigScript generates the 3-of-3 tapscript spending leaf for the
// bundle. With the keys in canonical order as k0, k1, k2 the script reads:
//
//	<k0> OP_CHECKSIGVERIFY <k1> OP_CHECKSIGVERIFY <k2> OP_CHECKSIG
//
// All three signatures are required; the witness must present them in the
// same order as the keys (see AssembleMultisigWitness).
func (k *KeyBundle) MultisigScript() ([]byte, error) {
	keys := k.SortedKeys()

	bldr := txscript.NewScriptBuilder()
	bldr.AddData(schnorr.SerializePubKey(keys[0]))
	bldr.AddOp(txscript.OP_CHECKSIGVERIFY)
	bldr.AddData(schnorr.SerializePubKey(keys[1]))
	bldr.AddOp(txscript.OP_CHECKSIGVERIFY)
	bldr.AddData(schnorr.SerializePubKey(keys[2]))
	bldr.AddOp(txscript.OP_CHECKSIG)
	return bldr.Script()
}

// BorrowerBackupScript generates the borrower's unilateral refund leaf used
// in the prefund tree:
//
//	<lock_time> OP_CHECKSEQUENCEVERIFY OP_DROP <borrower_key> OP_CHECKSIG
//
// The lock time is a raw relative sequence value in consensus encoding. CSV
// leaves its argument on the stack even under tapscript rules, hence the
// OP_DROP.
func BorrowerBackupScript(lockTime uint32,
	borrowerKey *btcec.PublicKey) ([]byte, error) {

	bldr := txscript.NewScriptBuilder()
	bldr.AddInt64(int64(lockTime))
	bldr.AddOp(txscript.OP_CHECKSEQUENCEVERIFY)
	bldr.AddOp(txscript.OP_DROP)
	bldr.AddData(schnorr.SerializePubKey(borrowerKey))
	bldr.AddOp(txscript.OP_CHECKSIG)
	return bldr.Script()
}
