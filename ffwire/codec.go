package ffwire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

const (
	// MaxInputCount is the upper bound on decoded input (and per-input
	// signature) counts. More inputs than this cannot fit into a block,
	// so anything above it is garbage and is rejected before allocating.
	MaxInputCount = 4_000_000 / (32 + 4 + 4 + 1)

	// MaxExtraOutputs is the upper bound on decoded extra output counts,
	// derived from the block size and the minimum output size.
	MaxExtraOutputs = 4_000_000 / 9

	// maxScriptLen bounds variable length scripts read off the wire.
	maxScriptLen = 4_000_000
)

// BlockHeight is an absolute block height. It appears on the wire in its
// consensus form, a little-endian 32-bit integer, unlike counts and indices
// which are big-endian.
type BlockHeight uint32

// Sequence is a transaction input sequence number, encoded in consensus
// (little-endian) byte order.
type Sequence uint32

// LockTime is an absolute transaction lock time, either a block height or a
// unix timestamp, encoded in consensus (little-endian) byte order.
type LockTime uint32

// PkScript is a raw output script, encoded with a leading compact-size
// length as in Bitcoin's consensus format.
type PkScript []byte

// FeeRate is a fee rate in satoshis per kilo-weight-unit.
type FeeRate uint64

// FeeRateBroadcastMin is the lowest rate at which nodes relay transactions.
// Finalization transactions default to it and rely on fee bumping instead.
const FeeRateBroadcastMin FeeRate = 253

// FeeForWeight computes the fee for a transaction of the given weight,
// rounding down.
func (f FeeRate) FeeForWeight(weight int64) btcutil.Amount {
	return btcutil.Amount(int64(f) * weight / 1000)
}

// WriteElement serializes a single element into the passed writer. Counts,
// indices and protocol tags are big-endian; satoshi amounts, block heights,
// sequences and anything Bitcoin consensus defines keep their consensus
// little-endian form. Public keys are 32-byte x-only, signatures raw
// 64-byte Schnorr.
func WriteElement(w io.Writer, element interface{}) error {
	switch e := element.(type) {
	case uint8:
		var b [1]byte
		b[0] = e
		_, err := w.Write(b[:])
		return err

	case MessageId:
		var b [1]byte
		b[0] = uint8(e)
		_, err := w.Write(b[:])
		return err

	case uint16:
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], e)
		_, err := w.Write(b[:])
		return err

	case uint32:
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], e)
		_, err := w.Write(b[:])
		return err

	case uint64:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], e)
		_, err := w.Write(b[:])
		return err

	case FeeRate:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(e))
		_, err := w.Write(b[:])
		return err

	case btcutil.Amount:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(e))
		_, err := w.Write(b[:])
		return err

	case BlockHeight:
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(e))
		_, err := w.Write(b[:])
		return err

	case Sequence:
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(e))
		_, err := w.Write(b[:])
		return err

	case LockTime:
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(e))
		_, err := w.Write(b[:])
		return err

	case wire.BitcoinNet:
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(e))
		_, err := w.Write(b[:])
		return err

	case *btcec.PublicKey:
		_, err := w.Write(schnorr.SerializePubKey(e))
		return err

	case *schnorr.Signature:
		_, err := w.Write(e.Serialize())
		return err

	case chainhash.Hash:
		_, err := w.Write(e[:])
		return err

	case wire.OutPoint:
		if err := WriteElement(w, e.Hash); err != nil {
			return err
		}
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], e.Index)
		_, err := w.Write(b[:])
		return err

	case PkScript:
		return wire.WriteVarBytes(w, 0, e)

	case *wire.TxOut:
		if err := WriteElement(w, btcutil.Amount(e.Value)); err != nil {
			return err
		}
		return wire.WriteVarBytes(w, 0, e.PkScript)

	case *wire.MsgTx:
		return e.Serialize(w)

	default:
		return fmt.Errorf("unknown type in WriteElement: %T", e)
	}
}

// WriteElements serializes a variable number of elements into the passed
// writer.
func WriteElements(w io.Writer, elements ...interface{}) error {
	for _, element := range elements {
		if err := WriteElement(w, element); err != nil {
			return err
		}
	}
	return nil
}

// ReadElement deserializes a single element from the passed reader,
// mirroring WriteElement.
func ReadElement(r io.Reader, element interface{}) error {
	switch e := element.(type) {
	case *uint8:
		var b [1]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return mapReadErr(err)
		}
		*e = b[0]

	case *MessageId:
		var b [1]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return mapReadErr(err)
		}
		*e = MessageId(b[0])

	case *uint16:
		var b [2]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return mapReadErr(err)
		}
		*e = binary.BigEndian.Uint16(b[:])

	case *uint32:
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return mapReadErr(err)
		}
		*e = binary.BigEndian.Uint32(b[:])

	case *uint64:
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return mapReadErr(err)
		}
		*e = binary.BigEndian.Uint64(b[:])

	case *FeeRate:
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return mapReadErr(err)
		}
		*e = FeeRate(binary.BigEndian.Uint64(b[:]))

	case *btcutil.Amount:
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return mapReadErr(err)
		}
		*e = btcutil.Amount(binary.LittleEndian.Uint64(b[:]))

	case *BlockHeight:
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return mapReadErr(err)
		}
		*e = BlockHeight(binary.LittleEndian.Uint32(b[:]))

	case *Sequence:
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return mapReadErr(err)
		}
		*e = Sequence(binary.LittleEndian.Uint32(b[:]))

	case *LockTime:
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return mapReadErr(err)
		}
		*e = LockTime(binary.LittleEndian.Uint32(b[:]))

	case *wire.BitcoinNet:
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return mapReadErr(err)
		}
		*e = wire.BitcoinNet(binary.LittleEndian.Uint32(b[:]))

	case **btcec.PublicKey:
		var b [32]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return mapReadErr(err)
		}
		key, err := schnorr.ParsePubKey(b[:])
		if err != nil {
			return err
		}
		*e = key

	case **schnorr.Signature:
		var b [64]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return mapReadErr(err)
		}
		sig, err := schnorr.ParseSignature(b[:])
		if err != nil {
			return err
		}
		*e = sig

	case *chainhash.Hash:
		if _, err := io.ReadFull(r, e[:]); err != nil {
			return mapReadErr(err)
		}

	case *wire.OutPoint:
		if err := ReadElement(r, &e.Hash); err != nil {
			return err
		}
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return mapReadErr(err)
		}
		e.Index = binary.LittleEndian.Uint32(b[:])

	case *PkScript:
		script, err := wire.ReadVarBytes(r, 0, maxScriptLen, "script")
		if err != nil {
			return mapReadErr(err)
		}
		*e = script

	case **wire.TxOut:
		var value btcutil.Amount
		if err := ReadElement(r, &value); err != nil {
			return err
		}
		script, err := wire.ReadVarBytes(r, 0, maxScriptLen, "script")
		if err != nil {
			return mapReadErr(err)
		}
		*e = wire.NewTxOut(int64(value), script)

	case **wire.MsgTx:
		tx := &wire.MsgTx{}
		if err := tx.Deserialize(r); err != nil {
			return mapReadErr(err)
		}
		*e = tx

	default:
		return fmt.Errorf("unknown type in ReadElement: %T", e)
	}

	return nil
}

// ReadElements deserializes a variable number of elements from the passed
// reader.
func ReadElements(r io.Reader, elements ...interface{}) error {
	for _, element := range elements {
		if err := ReadElement(r, element); err != nil {
			return err
		}
	}
	return nil
}

// readTxOuts reads a big-endian count followed by that many consensus
// encoded outputs, enforcing the extra-output bound.
func readTxOuts(r io.Reader) ([]*wire.TxOut, error) {
	var count uint32
	if err := ReadElement(r, &count); err != nil {
		return nil, err
	}
	if count > MaxExtraOutputs {
		return nil, &TooManyExtraOutputsError{Count: count}
	}

	txOuts := make([]*wire.TxOut, 0, count)
	for i := uint32(0); i < count; i++ {
		var txOut *wire.TxOut
		if err := ReadElement(r, &txOut); err != nil {
			return nil, err
		}
		txOuts = append(txOuts, txOut)
	}
	return txOuts, nil
}

// writeTxOuts writes a big-endian count followed by the consensus encoded
// outputs.
func writeTxOuts(w io.Writer, txOuts []*wire.TxOut) error {
	if err := WriteElement(w, uint32(len(txOuts))); err != nil {
		return err
	}
	for _, txOut := range txOuts {
		if err := WriteElement(w, txOut); err != nil {
			return err
		}
	}
	return nil
}

func mapReadErr(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return ErrUnexpectedEnd
	}
	return err
}
