package fftx

import (
	"github.com/btcsuite/btcd/wire"
)

// The weight, which is different from the !size! (see BIP-141), is
// calculated as:
// Weight = 4 * BaseSize + WitnessSize.
// BaseSize - size of the transaction without witness data (bytes).
// WitnessSize - witness size (bytes).
const (
	// TaprootSignatureSize 64 bytes
	//	- sig: 64 bytes (SIGHASH_DEFAULT appends no hash-type byte)
	TaprootSignatureSize = 64

	// MultisigScriptSize 102 bytes
	//	- OP_DATA: 1 byte (x-only key length)
	//	- key0: 32 bytes
	//	- OP_CHECKSIGVERIFY: 1 byte
	//	- OP_DATA: 1 byte
	//	- key1: 32 bytes
	//	- OP_CHECKSIGVERIFY: 1 byte
	//	- OP_DATA: 1 byte
	//	- key2: 32 bytes
	//	- OP_CHECKSIG: 1 byte
	MultisigScriptSize = 1 + 32 + 1 + 1 + 32 + 1 + 1 + 32 + 1

	// ControlBlockBaseSize 33 bytes
	//	- leaf version and parity: 1 byte
	//	- internal key: 32 bytes
	ControlBlockBaseSize = 1 + 32

	// TaprootMerkleNodeSize is one inclusion-proof step in a control
	// block.
	TaprootMerkleNodeSize = 32

	// P2TRSize 34 bytes
	//	- OP_1: 1 byte
	//	- OP_DATA: 1 byte (x-only key length)
	//	- x-only key: 32 bytes
	P2TRSize = 1 + 1 + 32

	// InputBaseSize 41 bytes
	//	- PreviousOutPoint:
	//		- Hash: 32 bytes
	//		- Index: 4 bytes
	//	- var_int: 1 byte (empty ScriptSig)
	//	- Sequence: 4 bytes
	InputBaseSize = 32 + 4 + 1 + 4

	// baseTxOverhead 8 bytes
	//	- Version: 4 bytes
	//	- LockTime: 4 bytes
	baseTxOverhead = 4 + 4

	// witnessHeaderSize 2 bytes
	//	- Flag: 1 byte
	//	- Marker: 1 byte
	witnessHeaderSize = 2

	// witnessScaleFactor determines the level of "discount" witness data
	// receives compared to the base transaction data.
	witnessScaleFactor = 4
)

// PrefundSpendWitnessSizes are the witness element sizes of a taproot
// script-path spend of the prefund output: three signatures, the multisig
// leaf, and a control block with the single-node proof of the hidden refund
// leaf.
func PrefundSpendWitnessSizes() []int {
	return []int{
		TaprootSignatureSize,
		TaprootSignatureSize,
		TaprootSignatureSize,
		MultisigScriptSize,
		ControlBlockBaseSize + TaprootMerkleNodeSize,
	}
}

// EscrowSpendWitnessSizes are the witness element sizes of a script-path
// spend of the escrow output. Its tree has a single leaf, so the control
// block is bare.
func EscrowSpendWitnessSizes() []int {
	return []int{
		TaprootSignatureSize,
		TaprootSignatureSize,
		TaprootSignatureSize,
		MultisigScriptSize,
		ControlBlockBaseSize,
	}
}

// TxWeightEstimator is able to calculate weight estimates for transactions
// before they are fully assembled, based on the predicted sizes of their
// inputs' witnesses and their outputs' scripts.
type TxWeightEstimator struct {
	inputCount  int
	outputCount int
	inputSize   int
	outputSize  int
	witnessSize int
}

// AddWitnessInput adds an input whose witness will consist of elements with
// the given sizes.
func (e *TxWeightEstimator) AddWitnessInput(elemSizes ...int) *TxWeightEstimator {
	e.inputSize += InputBaseSize

	witness := wire.VarIntSerializeSize(uint64(len(elemSizes)))
	for _, size := range elemSizes {
		witness += wire.VarIntSerializeSize(uint64(size)) + size
	}
	e.witnessSize += witness
	e.inputCount++

	return e
}

// AddOutput adds an output with a script of the given size.
func (e *TxWeightEstimator) AddOutput(pkScriptSize int) *TxWeightEstimator {
	e.outputSize += 8 + wire.VarIntSerializeSize(uint64(pkScriptSize)) +
		pkScriptSize
	e.outputCount++

	return e
}

// Weight returns the predicted weight of the assembled transaction.
func (e *TxWeightEstimator) Weight() int64 {
	baseSize := baseTxOverhead +
		wire.VarIntSerializeSize(uint64(e.inputCount)) + e.inputSize +
		wire.VarIntSerializeSize(uint64(e.outputCount)) + e.outputSize

	witnessSize := 0
	if e.witnessSize > 0 {
		witnessSize = witnessHeaderSize + e.witnessSize
	}

	return int64(witnessScaleFactor*baseSize + witnessSize)
}

// PredictTxWeight predicts the weight of a transaction with inputCount
// inputs that all share the same witness shape and outputs with the given
// script sizes.
func PredictTxWeight(inputCount int, witnessElemSizes []int,
	outputScriptSizes []int) int64 {

	var estimator TxWeightEstimator
	for i := 0; i < inputCount; i++ {
		estimator.AddWitnessInput(witnessElemSizes...)
	}
	for _, size := range outputScriptSizes {
		estimator.AddOutput(size)
	}
	return estimator.Weight()
}
