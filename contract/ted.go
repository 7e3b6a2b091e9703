package contract

import (
	"bytes"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/wire"
	"github.com/go-errors/errors"

	"github.com/firefish-io/firefish-go/fftx"
	"github.com/firefish-io/firefish-go/ffwire"
)

// ErrKeyMismatch is returned when the supplied key pairs match neither
// agent slot of the offer.
var ErrKeyMismatch = errors.New("keys match no agent slot in the offer")

// TedRole names which of the two escrow agents a machine acts as.
type TedRole uint8

const (
	// RoleTedO is the operational agent. It holds a hot prefund key and
	// co-signs the escrow inputs in addition to recover, repayment and
	// default.
	RoleTedO TedRole = iota

	// RoleTedP is the passive agent. It co-signs recover and the escrow
	// inputs up front and owns the post-confirmation finalization of the
	// termination transactions.
	RoleTedP
)

// String returns the agent's human readable name.
func (r TedRole) String() string {
	if r == RoleTedO {
		return "TED-O"
	}
	return "TED-P"
}

// Ted drives one escrow agent's side of the contract. The machine starts
// out collecting borrower information (first the prefund spending
// conditions, then the escrow funding plan) and then waits for the escrow
// to confirm, finalizing termination transactions on demand.
type Ted struct {
	role TedRole

	params         *ffwire.EscrowParams
	escrowTedKeys  ffwire.EscrowTedKeys
	prefundTedKeys ffwire.PrefundTedKeys

	prefundKey *btcec.PrivateKey
	escrowKey  *btcec.PrivateKey

	// prefund is nil until the borrower's prefund info arrives.
	prefund *Prefund

	// txes and borrowerSigs are set once the machine signed the bundle
	// and entered WaitingForEscrowConfirmation.
	txes         *fftx.UnsignedTransactions
	borrowerSigs *ffwire.BorrowerSignatures
}

// InitTed initializes an agent machine from an offer, matching the
// supplied key pairs against both agent slots. Both keys must match the
// same slot.
func InitTed(prefundKey, escrowKey *btcec.PrivateKey,
	offer *ffwire.Offer) (*Ted, error) {

	prefundPub := schnorr.SerializePubKey(prefundKey.PubKey())
	escrowPub := schnorr.SerializePubKey(escrowKey.PubKey())

	matches := func(slotPrefund, slotEscrow *btcec.PublicKey) bool {
		return bytes.Equal(prefundPub, schnorr.SerializePubKey(slotPrefund)) &&
			bytes.Equal(escrowPub, schnorr.SerializePubKey(slotEscrow))
	}

	var role TedRole
	switch {
	case matches(offer.PrefundKeys.TedO, offer.EscrowKeys.TedO):
		role = RoleTedO
	case matches(offer.PrefundKeys.TedP, offer.EscrowKeys.TedP):
		role = RoleTedP
	default:
		return nil, ErrKeyMismatch
	}

	log.Infof("Initialized %v for offer on network %v", role,
		offer.Escrow.Net)

	return &Ted{
		role:           role,
		params:         offer.Escrow,
		escrowTedKeys:  offer.EscrowKeys,
		prefundTedKeys: offer.PrefundKeys,
		prefundKey:     prefundKey,
		escrowKey:      escrowKey,
	}, nil
}

// Role returns which agent this machine acts as.
func (t *Ted) Role() TedRole {
	return t.role
}

// WaitingForEscrowConfirmation reports whether the machine already signed
// the bundle and waits for the escrow to confirm.
func (t *Ted) WaitingForEscrowConfirmation() bool {
	return t.txes != nil
}

// PrefundBorrowerInfo merges the borrower's prefund spending conditions
// into the machine. A second announcement is rejected; the state stays as
// it was on any error.
func (t *Ted) PrefundBorrowerInfo(info *ffwire.BorrowerSpendInfo) error {
	if t.WaitingForEscrowConfirmation() {
		return ErrNoMessageExpected
	}
	if t.prefund != nil {
		return ErrAlreadyReceived
	}

	prefund, err := NewPrefund(t.params.Net, t.prefundTedKeys, info)
	if err != nil {
		return err
	}

	t.prefund = prefund
	return nil
}

// EscrowBorrowerInfo validates the borrower's funding plan, derives the
// transaction bundle, co-signs it according to the agent's role and
// advances to WaitingForEscrowConfirmation. The returned message carries
// this agent's signatures back to the borrower.
func (t *Ted) EscrowBorrowerInfo(
	msg *ffwire.BorrowerInfoMessage) (*ffwire.TedSignatures, error) {

	if t.WaitingForEscrowConfirmation() {
		return nil, ErrNoMessageExpected
	}

	validated, err := msg.Info.Validate(t.params)
	if err != nil {
		return nil, err
	}

	txes, err := fftx.NewUnsignedTransactions(
		t.params, t.escrowTedKeys, validated,
	)
	if err != nil {
		return nil, err
	}

	// The escrow inputs can only be co-signed once the prefund is known;
	// without it the agent contributes termination signatures alone.
	var escrowSigs []*schnorr.Signature
	if t.prefund != nil {
		fundingScript, err := t.prefund.FundingScript()
		if err != nil {
			return nil, err
		}
		escrowSigs, err = txes.SignEscrowInputs(
			t.prefundKey, fundingScript,
			t.prefund.Output().LeafScript,
		)
		if err != nil {
			return nil, err
		}
	}

	var sigs *ffwire.TedSignatures
	switch t.role {
	case RoleTedO:
		tedOSigs, err := txes.SignTedO(t.escrowKey, escrowSigs)
		if err != nil {
			return nil, err
		}
		sigs = &ffwire.TedSignatures{TedO: tedOSigs}

	case RoleTedP:
		tedPSigs, err := txes.SignTedP(t.escrowKey, escrowSigs)
		if err != nil {
			return nil, err
		}
		sigs = &ffwire.TedSignatures{TedP: tedPSigs}
	}

	log.Infof("%v signed escrow bundle, escrow txid %v", t.role,
		txes.Escrow.TxHash())

	t.txes = txes
	t.borrowerSigs = msg.Signatures
	return sigs, nil
}

// MessageReceived dispatches a raw incoming buffer into the machine and
// returns the response to send back, if any.
func (t *Ted) MessageReceived(msg []byte) ([]byte, error) {
	incoming, err := ffwire.ParseIncomingMessage(msg)
	if err != nil {
		return nil, err
	}

	switch {
	case incoming.PrefundInfo != nil:
		return nil, t.PrefundBorrowerInfo(incoming.PrefundInfo)

	case incoming.EscrowInfo != nil:
		sigs, err := t.EscrowBorrowerInfo(incoming.EscrowInfo)
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if err := sigs.Encode(&buf); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil

	default:
		return nil, &ffwire.InvalidMessageIdError{Id: msg[0]}
	}
}

// EscrowTxid returns the escrow transaction id once the bundle is known.
func (t *Ted) EscrowTxid() (wire.OutPoint, error) {
	if !t.WaitingForEscrowConfirmation() {
		return wire.OutPoint{}, ErrNoMessageExpected
	}
	return wire.OutPoint{
		Hash:  t.txes.Escrow.TxHash(),
		Index: t.txes.ContractIndex,
	}, nil
}

// FinalizeRepayment completes the repayment transaction with the supplied
// TED-O signature and this agent's own. Only TED-P performs finalization;
// calling this on TED-O, or before the bundle exists, is API misuse.
func (t *Ted) FinalizeRepayment(
	tedOSig *schnorr.Signature) (*wire.MsgTx, error) {

	t.checkFinalize()

	ownSig, err := t.txes.SignRepayment(t.escrowKey)
	if err != nil {
		return nil, err
	}
	err = t.txes.FinalizeSpend(
		t.txes.Repayment, t.borrowerSigs.Repayment, tedOSig, ownSig,
	)
	if err != nil {
		return nil, err
	}
	return t.txes.Repayment, nil
}

// FinalizeDefault completes the default transaction with the supplied
// TED-O signature and this agent's own.
func (t *Ted) FinalizeDefault(
	tedOSig *schnorr.Signature) (*wire.MsgTx, error) {

	t.checkFinalize()

	ownSig, err := t.txes.SignDefault(t.escrowKey)
	if err != nil {
		return nil, err
	}
	err = t.txes.FinalizeSpend(
		t.txes.Default, t.borrowerSigs.Default, tedOSig, ownSig,
	)
	if err != nil {
		return nil, err
	}
	return t.txes.Default, nil
}

// FinalizeLiquidation completes the liquidation transaction with the
// supplied TED-O signature and this agent's own.
func (t *Ted) FinalizeLiquidation(
	tedOSig *schnorr.Signature) (*wire.MsgTx, error) {

	t.checkFinalize()

	ownSig, err := t.txes.SignLiquidation(t.escrowKey)
	if err != nil {
		return nil, err
	}
	err = t.txes.FinalizeSpend(
		t.txes.Liquidation, t.borrowerSigs.Liquidation, tedOSig, ownSig,
	)
	if err != nil {
		return nil, err
	}
	return t.txes.Liquidation, nil
}

func (t *Ted) checkFinalize() {
	if t.role != RoleTedP {
		panic("termination finalization is TED-P's job")
	}
	if !t.WaitingForEscrowConfirmation() {
		panic("finalization before the bundle was signed")
	}
}
