package fftx

import (
	"bytes"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/firefish-io/firefish-go/ffwire"
)

const (
	// SequenceEnableRbfNoLocktime opts an input into replace-by-fee with
	// relative lock time disabled; the transaction's absolute lock time
	// stays enforced.
	SequenceEnableRbfNoLocktime = wire.MaxTxInSequenceNum - 2

	// SequenceLockTimeDisabled is the bit that switches off relative
	// lock-time consensus meaning for a sequence.
	SequenceLockTimeDisabled = 1 << 31

	// SequenceLockTimeIsSeconds flags a relative lock measured in
	// 512-second units rather than blocks.
	SequenceLockTimeIsSeconds = 1 << 22
)

// sequenceIsHeightLocked reports whether the sequence carries a
// block-denominated relative lock.
func sequenceIsHeightLocked(seq uint32) bool {
	return seq&SequenceLockTimeDisabled == 0 &&
		seq&SequenceLockTimeIsSeconds == 0
}

// sequenceIsTimeLocked reports whether the sequence carries a
// time-denominated relative lock.
func sequenceIsTimeLocked(seq uint32) bool {
	return seq&SequenceLockTimeDisabled == 0 &&
		seq&SequenceLockTimeIsSeconds != 0
}

// RelativeDelayUnit names the unit of a relative delay.
type RelativeDelayUnit uint8

const (
	// DelayZero applies no offset and accepts any sequence.
	DelayZero RelativeDelayUnit = iota

	// DelayHeight offsets a block-denominated lock.
	DelayHeight

	// DelayTimeUnits offsets a time-denominated lock (512s units).
	DelayTimeUnits
)

// RelativeDelay is an additional relative delay applied on top of an
// existing sequence lock, used when re-planning a cancel spend.
type RelativeDelay struct {
	Unit  RelativeDelayUnit
	Value uint32
}

// OffsetSequence adds the delay to the sequence's existing lock. The
// sequence must already carry a lock of the matching unit; the result must
// still be a lock of that unit.
func OffsetSequence(seq uint32, delay RelativeDelay) (uint32, error) {
	heightLocked := sequenceIsHeightLocked(seq)
	timeLocked := sequenceIsTimeLocked(seq)

	switch {
	case delay.Unit == DelayZero:
		return seq, nil

	case !heightLocked && !timeLocked:
		return 0, ErrNotLocked

	case delay.Unit == DelayHeight && heightLocked:
		offset := uint64(seq) + uint64(delay.Value)
		if offset > 0xffffffff {
			return 0, ErrOverflow
		}
		if !sequenceIsHeightLocked(uint32(offset)) {
			return 0, ErrOverflow
		}
		return uint32(offset), nil

	case delay.Unit == DelayTimeUnits && timeLocked:
		offset := uint64(seq) + uint64(delay.Value)
		if offset > 0xffffffff {
			return 0, ErrOverflow
		}
		if !sequenceIsTimeLocked(uint32(offset)) {
			return 0, ErrOverflow
		}
		return uint32(offset), nil

	default:
		return 0, ErrUnitMismatch
	}
}

// Funding collects everything the borrower contributes when moving funds
// from the prefund to the escrow: the candidate funding transactions, the
// fee rates, and the extra output layout of the derived transactions.
type Funding struct {
	// Transactions are candidate transactions paying the prefund script.
	Transactions []*wire.MsgTx

	// EscrowFeeRate pays for the escrow transaction itself.
	EscrowFeeRate ffwire.FeeRate

	// FinalizationFeeRate pays for the transactions that later spend the
	// escrow output.
	FinalizationFeeRate ffwire.FeeRate

	// EscrowExtraOutputs are added to the escrow transaction next to the
	// contract output.
	EscrowExtraOutputs []*wire.TxOut

	// EscrowContractOutputPosition is where the contract output is
	// inserted among the extra outputs.
	EscrowContractOutputPosition uint32

	// RepaymentExtraOutputs are added to the repayment transaction ahead
	// of the borrower's return output.
	RepaymentExtraOutputs []*wire.TxOut

	// RecoverExtraOutputs are added to the recover transaction ahead of
	// the borrower's return output.
	RecoverExtraOutputs []*wire.TxOut
}

// FundingFromHints derives the funding plan a non-power-user follows from
// the received hints: the fee bump outputs are adopted as-is and the
// finalization transactions pay the floor rate, relying on fee bumping.
func FundingFromHints(hints *ffwire.EscrowHints) *Funding {
	return &Funding{
		Transactions:        hints.Transactions,
		EscrowFeeRate:       hints.FeeRate,
		FinalizationFeeRate: ffwire.FeeRateBroadcastMin,
		EscrowExtraOutputs: []*wire.TxOut{
			hints.EscrowFeeBumpTxOut,
		},
		EscrowContractOutputPosition: 0,
		RepaymentExtraOutputs: []*wire.TxOut{
			hints.FinalizationFeeBumpTxOut,
		},
		RecoverExtraOutputs: []*wire.TxOut{
			hints.FinalizationFeeBumpTxOut,
		},
	}
}

// ExtractSpendableOutputs filters the outputs paying ownedScript out of the
// transactions and prepares them as inputs. The returned height is the
// largest block lock time observed across transactions that have their lock
// time enabled; when non-zero, every returned sequence is 0 so the escrow
// transaction can commit to that height (anti-fee-sniping), otherwise the
// sequences opt into RBF with relative lock time disabled.
func ExtractSpendableOutputs(transactions []*wire.MsgTx,
	ownedScript []byte) ([]*ffwire.SpendableTxo, ffwire.BlockHeight) {

	var (
		txos          []*ffwire.SpendableTxo
		maxLockHeight uint32
	)

	for _, tx := range transactions {
		// Non-block lock times are not used for fee sniping
		// prevention, ignore them.
		if tx.LockTime < 500_000_000 && tx.LockTime > maxLockHeight &&
			lockTimeEnabled(tx) {

			maxLockHeight = tx.LockTime
		}

		txid := tx.TxHash()
		for vout, txOut := range tx.TxOut {
			if !bytes.Equal(txOut.PkScript, ownedScript) {
				continue
			}

			// This is a sanity check that protects future
			// changes extending this code from accidentally
			// introducing a malleability-caused vulnerability:
			// any non-witness input would make the downstream
			// transaction ids malleable.
			if !txscript.IsWitnessProgram(txOut.PkScript) {
				panic("danger: the input is not SegWit")
			}

			txos = append(txos, &ffwire.SpendableTxo{
				OutPoint: wire.OutPoint{
					Hash:  txid,
					Index: uint32(vout),
				},
				TxOut:    txOut,
				Sequence: ffwire.Sequence(SequenceEnableRbfNoLocktime),
			})
		}
	}

	if maxLockHeight != 0 {
		for _, txo := range txos {
			// Activate both RBF and lock time.
			txo.Sequence = 0
		}
	}

	return txos, ffwire.BlockHeight(maxLockHeight)
}

// lockTimeEnabled reports whether the transaction's lock time has consensus
// meaning, i.e. at least one input's sequence is below the maximum.
func lockTimeEnabled(tx *wire.MsgTx) bool {
	for _, txIn := range tx.TxIn {
		if txIn.Sequence != wire.MaxTxInSequenceNum {
			return true
		}
	}
	return false
}

// SumTxOuts adds up the output values.
func SumTxOuts(txOuts []*wire.TxOut) int64 {
	var sum int64
	for _, txOut := range txOuts {
		sum += txOut.Value
	}
	return sum
}
