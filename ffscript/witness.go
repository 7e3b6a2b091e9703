package ffscript

import (
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/wire"
)

// AssembleMultisigWitness generates the witness stack that spends a
// multisig leaf. The signatures are supplied per participant and reordered
// with the bundle's permutation so each signature lands next to the key that
// verifies it. The stack is consumed top first, so the signature for the
// first key in the script is the last stack argument:
//
//	[sig_k2, sig_k1, sig_k0, script, control_block]
func AssembleMultisigWitness(borrowerSig, tedOSig, tedPSig *schnorr.Signature,
	perm Permutation, script, controlBlock []byte) wire.TxWitness {

	sigs := perm.Permute([3][]byte{
		borrowerSig.Serialize(),
		tedOSig.Serialize(),
		tedPSig.Serialize(),
	})

	return wire.TxWitness{sigs[2], sigs[1], sigs[0], script, controlBlock}
}
