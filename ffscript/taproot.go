package ffscript

import (
	"bytes"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// TapLeafHash returns the BIP-341 leaf hash of a script under the base leaf
// version.
func TapLeafHash(script []byte) chainhash.Hash {
	return txscript.NewBaseTapLeaf(script).TapHash()
}

// TapBranchHash combines two node hashes into their parent branch hash. The
// children are sorted before hashing as required by BIP-341, so the call is
// symmetric in its arguments.
func TapBranchHash(l, r chainhash.Hash) chainhash.Hash {
	if bytes.Compare(l[:], r[:]) > 0 {
		l, r = r, l
	}
	return *chainhash.TaggedHash(chainhash.TagTapBranch, l[:], r[:])
}

// TaprootOutput bundles everything needed to pay to, and later spend from,
// one of the contract's taproot outputs: the tweaked output key with its
// parity, and the multisig leaf revealed on the spending path.
type TaprootOutput struct {
	// InternalKey is the NUMS internal key the output key is tweaked
	// from.
	InternalKey *btcec.PublicKey

	// OutputKey is the tweaked key committed to in the output script.
	OutputKey *btcec.PublicKey

	// OutputKeyYIsOdd is the parity of OutputKey, required in control
	// blocks.
	OutputKeyYIsOdd bool

	// LeafScript is the multisig tapscript revealed when spending.
	LeafScript []byte

	// LeafHash is the tap leaf hash of LeafScript.
	LeafHash chainhash.Hash

	// RootHash is the merkle root the internal key was tweaked with. For
	// the escrow output this equals LeafHash, for the prefund output it
	// is the branch over the borrower's hidden refund leaf and LeafHash.
	RootHash chainhash.Hash

	// inclusionProof is the merkle proof placed into the multisig leaf's
	// control block: empty for a single-leaf tree, the sibling hash for
	// the two-leaf prefund tree.
	inclusionProof []byte
}

// NewPrefundOutput computes the taproot output of the prefund contract. Its
// script tree has two leaves: the borrower's refund leaf, known here only by
// its hash, and the 3-of-3 multisig leaf.
func NewPrefundOutput(keys *KeyBundle,
	borrowerReturnHash chainhash.Hash) (*TaprootOutput, error) {

	script, err := keys.MultisigScript()
	if err != nil {
		return nil, err
	}
	leafHash := TapLeafHash(script)
	root := TapBranchHash(borrowerReturnHash, leafHash)

	out := newTaprootOutput(script, leafHash, root)
	out.inclusionProof = borrowerReturnHash[:]
	return out, nil
}

// NewEscrowOutput computes the taproot output of the escrow contract. The
// tree consists of the multisig leaf alone, so the leaf hash is also the
// merkle root.
func NewEscrowOutput(keys *KeyBundle) (*TaprootOutput, error) {
	script, err := keys.MultisigScript()
	if err != nil {
		return nil, err
	}
	leafHash := TapLeafHash(script)

	return newTaprootOutput(script, leafHash, leafHash), nil
}

func newTaprootOutput(leafScript []byte, leafHash,
	root chainhash.Hash) *TaprootOutput {

	outputKey := txscript.ComputeTaprootOutputKey(numsKey, root[:])
	isOdd := outputKey.SerializeCompressed()[0] ==
		secp256k1.PubKeyFormatCompressedOdd

	return &TaprootOutput{
		InternalKey:     numsKey,
		OutputKey:       outputKey,
		OutputKeyYIsOdd: isOdd,
		LeafScript:      leafScript,
		LeafHash:        leafHash,
		RootHash:        root,
	}
}

// PkScript returns the witness v1 output script paying to the tweaked key.
func (t *TaprootOutput) PkScript() ([]byte, error) {
	return txscript.PayToTaprootScript(t.OutputKey)
}

// Address returns the bech32m address of the output on the given network.
func (t *TaprootOutput) Address(
	params *chaincfg.Params) (*btcutil.AddressTaproot, error) {

	return btcutil.NewAddressTaproot(
		schnorr.SerializePubKey(t.OutputKey), params,
	)
}

// ControlBlock serializes the control block proving the multisig leaf's
// inclusion in the output's script tree.
func (t *TaprootOutput) ControlBlock() ([]byte, error) {
	return ControlBlockBytes(
		t.InternalKey, t.OutputKeyYIsOdd, t.inclusionProof,
	)
}

// ControlBlockBytes serializes a base-version control block with the given
// internal key, output parity and inclusion proof.
func ControlBlockBytes(internalKey *btcec.PublicKey, outputKeyYIsOdd bool,
	inclusionProof []byte) ([]byte, error) {

	ctrlBlock := txscript.ControlBlock{
		InternalKey:     internalKey,
		OutputKeyYIsOdd: outputKeyYIsOdd,
		LeafVersion:     txscript.BaseLeafVersion,
		InclusionProof:  inclusionProof,
	}
	return ctrlBlock.ToBytes()
}
