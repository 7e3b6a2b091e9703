package ffwire

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
)

// OfferVersion is the version byte leading a serialized offer. It doubles
// as the escrow-params layout version for freshly serialized offers.
const OfferVersion uint8 = 1

// TedKeys holds the public keys of the two escrow agents within one key
// context.
type TedKeys struct {
	// TedO is the key of the operational escrow agent.
	TedO *btcec.PublicKey

	// TedP is the key of the passive escrow agent.
	TedP *btcec.PublicKey
}

// PrefundTedKeys are the escrow agents' keys for the prefund contract. The
// distinct type keeps prefund keys from being spliced into escrow scripts
// and vice versa.
type PrefundTedKeys struct {
	TedKeys
}

// EscrowTedKeys are the escrow agents' keys for the escrow contract.
type EscrowTedKeys struct {
	TedKeys
}

func (k *TedKeys) encode(w io.Writer) error {
	return WriteElements(w, k.TedO, k.TedP)
}

func (k *TedKeys) decode(r io.Reader) error {
	return ReadElements(r, &k.TedO, &k.TedP)
}

// EscrowParams carries the offer fields that describe the escrow contract,
// everything except the participant keys.
type EscrowParams struct {
	// Net is the magic of the Bitcoin network this contract operates on.
	Net wire.BitcoinNet

	// LiquidatorScriptDefault receives the collateral when the contract
	// terminates because the loan was not repaid.
	LiquidatorScriptDefault PkScript

	// LiquidatorScriptLiquidation receives the collateral when the
	// contract terminates because the collateral price fell too far.
	LiquidatorScriptLiquidation PkScript

	// MinCollateral is the smallest collateral amount acceptable for the
	// loan.
	MinCollateral btcutil.Amount

	// ExtraTerminationOutputs are cloned into every termination
	// transaction. There's usually just one, an anchor used for fee
	// bumping.
	ExtraTerminationOutputs []*wire.TxOut

	// LiquidatorOutputIndex is the position at which the liquidator
	// output is inserted among the extra termination outputs. It is
	// randomized to deny chain analysts a fixed footprint.
	LiquidatorOutputIndex uint32

	// RecoverLockTime is the absolute lock time of the recover
	// transaction.
	RecoverLockTime LockTime

	// DefaultLockTime is the absolute lock time of the default
	// transaction. It always precedes RecoverLockTime.
	DefaultLockTime LockTime
}

// NetParams maps a network magic to its chain parameters, rejecting magics
// that name no known network.
func NetParams(net wire.BitcoinNet) (*chaincfg.Params, error) {
	switch net {
	case wire.MainNet:
		return &chaincfg.MainNetParams, nil
	case wire.TestNet3:
		return &chaincfg.TestNet3Params, nil
	case wire.TestNet:
		return &chaincfg.RegressionNetParams, nil
	case wire.SimNet:
		return &chaincfg.SimNetParams, nil
	case wire.SigNet:
		return &chaincfg.SigNetParams, nil
	default:
		return nil, &UnknownNetworkError{Magic: net}
	}
}

// Encode serializes the params in the current (V1) layout.
func (p *EscrowParams) Encode(w io.Writer) error {
	err := WriteElements(w,
		p.Net,
		p.LiquidatorOutputIndex,
		p.RecoverLockTime,
		p.DefaultLockTime,
		p.LiquidatorScriptDefault,
		p.LiquidatorScriptLiquidation,
		p.MinCollateral,
	)
	if err != nil {
		return err
	}
	return writeTxOuts(w, p.ExtraTerminationOutputs)
}

// Decode deserializes params written in the given layout version. The V0
// layout carried a single liquidator output whose script served both
// termination paths and whose value was the collateral minimum.
func (p *EscrowParams) Decode(r io.Reader, version StateVersion) error {
	err := ReadElements(r,
		&p.Net,
		&p.LiquidatorOutputIndex,
		&p.RecoverLockTime,
		&p.DefaultLockTime,
	)
	if err != nil {
		return err
	}
	if _, err := NetParams(p.Net); err != nil {
		return err
	}

	switch version {
	case StateV0:
		var liquidatorOut *wire.TxOut
		if err := ReadElement(r, &liquidatorOut); err != nil {
			return err
		}
		p.LiquidatorScriptDefault = liquidatorOut.PkScript
		p.LiquidatorScriptLiquidation = liquidatorOut.PkScript
		p.MinCollateral = btcutil.Amount(liquidatorOut.Value)

	case StateV1:
		err := ReadElements(r,
			&p.LiquidatorScriptDefault,
			&p.LiquidatorScriptLiquidation,
			&p.MinCollateral,
		)
		if err != nil {
			return err
		}

	default:
		return &UnsupportedVersionError{Version: uint32(version)}
	}

	outs, err := readTxOuts(r)
	if err != nil {
		return err
	}
	if p.LiquidatorOutputIndex > uint32(len(outs)) {
		return &LiquidatorIndexError{
			Index: p.LiquidatorOutputIndex,
			Count: uint32(len(outs)),
		}
	}
	p.ExtraTerminationOutputs = outs

	return nil
}

// Offer is the contract initialization data published by the lender. It is
// immutable once created and consumed read-only by every participant.
type Offer struct {
	// Escrow are the escrow contract parameters.
	Escrow *EscrowParams

	// EscrowKeys are the agents' keys for the escrow context.
	EscrowKeys EscrowTedKeys

	// PrefundKeys are the agents' keys for the prefund context.
	PrefundKeys PrefundTedKeys
}

// Encode serializes the offer: version byte, prefund keys, escrow keys,
// escrow params.
func (o *Offer) Encode(w io.Writer) error {
	if err := WriteElement(w, OfferVersion); err != nil {
		return err
	}
	if err := o.PrefundKeys.encode(w); err != nil {
		return err
	}
	if err := o.EscrowKeys.encode(w); err != nil {
		return err
	}
	return o.Escrow.Encode(w)
}

// Decode deserializes an offer.
func (o *Offer) Decode(r io.Reader) error {
	var version uint8
	if err := ReadElement(r, &version); err != nil {
		return err
	}
	if version != OfferVersion {
		return &UnsupportedVersionError{Version: uint32(version)}
	}

	if err := o.PrefundKeys.decode(r); err != nil {
		return err
	}
	if err := o.EscrowKeys.decode(r); err != nil {
		return err
	}

	o.Escrow = &EscrowParams{}
	return o.Escrow.Decode(r, StateVersion(version))
}

// ParseOffer parses a bare serialized offer, rejecting trailing bytes.
func ParseOffer(b []byte) (*Offer, error) {
	r := bytes.NewReader(b)
	offer := &Offer{}
	if err := offer.Decode(r); err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, ErrTrailingBytes
	}
	return offer, nil
}

// AllParticipantKeys holds one participant's keys for both contract
// contexts, the form they travel in before an offer exists.
type AllParticipantKeys struct {
	// Prefund is the key used in the prefund context.
	Prefund *btcec.PublicKey

	// Escrow is the key used in the escrow context.
	Escrow *btcec.PublicKey
}

// MandatoryOfferFields are the fields a lender must fill in to produce an
// offer.
type MandatoryOfferFields struct {
	Net                         wire.BitcoinNet
	LiquidatorScriptDefault     PkScript
	LiquidatorScriptLiquidation PkScript
	MinCollateral               btcutil.Amount
	RecoverLockTime             LockTime
	DefaultLockTime             LockTime
	TedOKeys                    AllParticipantKeys
	TedPKeys                    AllParticipantKeys
}

// OptionalOfferFields are the fields a lender may fill in.
type OptionalOfferFields struct {
	ExtraTerminationOutputs []*wire.TxOut
}

// IntoOffer builds the offer, drawing the liquidator output position
// uniformly from [0, len(extra outputs)].
func (m *MandatoryOfferFields) IntoOffer(opt *OptionalOfferFields) (*Offer, error) {
	var extraOuts []*wire.TxOut
	if opt != nil {
		extraOuts = opt.ExtraTerminationOutputs
	}

	idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(extraOuts))+1))
	if err != nil {
		return nil, err
	}

	return &Offer{
		Escrow: &EscrowParams{
			Net:                         m.Net,
			LiquidatorScriptDefault:     m.LiquidatorScriptDefault,
			LiquidatorScriptLiquidation: m.LiquidatorScriptLiquidation,
			MinCollateral:               m.MinCollateral,
			ExtraTerminationOutputs:     extraOuts,
			LiquidatorOutputIndex:       uint32(idx.Uint64()),
			RecoverLockTime:             m.RecoverLockTime,
			DefaultLockTime:             m.DefaultLockTime,
		},
		PrefundKeys: PrefundTedKeys{TedKeys{
			TedO: m.TedOKeys.Prefund,
			TedP: m.TedPKeys.Prefund,
		}},
		EscrowKeys: EscrowTedKeys{TedKeys{
			TedO: m.TedOKeys.Escrow,
			TedP: m.TedPKeys.Escrow,
		}},
	}, nil
}

// tedKeyStringLen is the length of the string encoding of a participant's
// key pair: the "ffa?k" prefix plus two 32-byte keys in hex.
const tedKeyStringLen = 5 + 64 + 64

// FormatTedKeyString encodes a participant's key pair as the out-of-band
// exchange string "ffa<tag>k<prefund-hex><escrow-hex>". The tag is 'o' for
// TED-O and 'p' for TED-P.
func FormatTedKeyString(tag byte, keys *AllParticipantKeys) string {
	return fmt.Sprintf("ffa%ck%x%x", tag,
		schnorr.SerializePubKey(keys.Prefund),
		schnorr.SerializePubKey(keys.Escrow))
}

// ParseTedKeyString decodes a key exchange string, returning the
// participant tag and the two keys.
func ParseTedKeyString(s string) (byte, *AllParticipantKeys, error) {
	if len(s) != tedKeyStringLen {
		return 0, nil, fmt.Errorf("invalid key string length: %d",
			len(s))
	}
	if s[:3] != "ffa" || s[4] != 'k' {
		return 0, nil, fmt.Errorf("invalid key string prefix: %q",
			s[:5])
	}

	tag := s[3]
	if tag != 'o' && tag != 'p' {
		return 0, nil, fmt.Errorf("invalid participant tag: %q", tag)
	}

	prefundBytes, err := hex.DecodeString(s[5 : 5+64])
	if err != nil {
		return 0, nil, err
	}
	escrowBytes, err := hex.DecodeString(s[5+64:])
	if err != nil {
		return 0, nil, err
	}

	prefund, err := schnorr.ParsePubKey(prefundBytes)
	if err != nil {
		return 0, nil, err
	}
	escrow, err := schnorr.ParsePubKey(escrowBytes)
	if err != nil {
		return 0, nil, err
	}

	return tag, &AllParticipantKeys{Prefund: prefund, Escrow: escrow}, nil
}
