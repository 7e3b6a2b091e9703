package contract

import (
	"bytes"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/firefish-io/firefish-go/ffscript"
	"github.com/firefish-io/firefish-go/fftx"
	"github.com/firefish-io/firefish-go/ffwire"
)

// The persisted state format is byte-exact and versioned:
//
//	state          := version_header participant_id state_id payload
//	version_header := 0xFF be32(version)                    (V1)
//	               |  <any non-0xFF byte: participant, V0>  (V0)
//
// Payload fields follow in declaration order using the wire codec. Nested
// prefund states inside agent data omit the version header (the outer one
// applies) but still carry participant and state id bytes.

// Encode serializes the borrower machine.
func (b *Borrower) Encode(w io.Writer) error {
	err := ffwire.WriteStateVersion(w, ffwire.StateVersionCurrent)
	if err != nil {
		return err
	}
	if err := ffwire.WriteElement(w, uint8(ParticipantBorrower)); err != nil {
		return err
	}

	switch state := b.state.(type) {
	case *waitingForFunding:
		err := ffwire.WriteElement(
			w, uint8(StateIdWaitingForFunding),
		)
		if err != nil {
			return err
		}
		return writeBorrowerCommon(w, state.keys, state.params, state.data)

	case *receivingEscrowSignature:
		err := ffwire.WriteElement(
			w, uint8(StateIdEscrowReceivingEscrowSigs),
		)
		if err != nil {
			return err
		}
		if err := writeBorrowerSigning(w, state); err != nil {
			return err
		}
		if state.received != nil {
			return state.received.Encode(w)
		}
		return nil

	case *signaturesVerified:
		err := ffwire.WriteElement(
			w, uint8(StateIdEscrowSignaturesVerified),
		)
		if err != nil {
			return err
		}
		err = writeBorrowerSigning(w, &state.receivingEscrowSignature)
		if err != nil {
			return err
		}
		if err := state.tedOSigs.Encode(w); err != nil {
			return err
		}
		return state.tedPSigs.Encode(w)

	case *escrowSigned:
		// The terminal state shares WaitingForEscrowConfirmation's id;
		// the participant byte disambiguates.
		err := ffwire.WriteElement(
			w, uint8(StateIdWaitingForEscrowConfirmation),
		)
		if err != nil {
			return err
		}
		err = ffwire.WriteElements(w, state.escrowTx, state.recoverTx)
		if err != nil {
			return err
		}
		return writeBorrowerEscrowData(w, state.data)

	default:
		panic("unreachable borrower state")
	}
}

// ParseBorrower deserializes a borrower machine. Trailing bytes are
// rejected.
func ParseBorrower(b []byte) (*Borrower, error) {
	r := bytes.NewReader(b)

	version, err := ffwire.ReadStateVersion(r)
	if err != nil {
		return nil, err
	}

	var participant, stateId uint8
	if err := ffwire.ReadElements(r, &participant, &stateId); err != nil {
		return nil, err
	}
	if ParticipantId(participant) != ParticipantBorrower {
		return nil, &ffwire.InvalidParticipantError{Id: participant}
	}

	borrower := &Borrower{}
	switch StateId(stateId) {
	case StateIdWaitingForFunding:
		keys, params, data, err := readBorrowerCommon(r, version)
		if err != nil {
			return nil, err
		}
		borrower.state = &waitingForFunding{
			params: params,
			keys:   keys,
			data:   data,
		}

	case StateIdEscrowReceivingEscrowSigs:
		state, err := readBorrowerSigning(r, version)
		if err != nil {
			return nil, err
		}
		state.received, err = ffwire.ReadTedSignatures(r)
		if err != nil {
			return nil, err
		}
		borrower.state = state

	case StateIdEscrowSignaturesVerified:
		state, err := readBorrowerSigning(r, version)
		if err != nil {
			return nil, err
		}
		tedOSigs := &ffwire.TedOSignatures{}
		if err := tedOSigs.Decode(r); err != nil {
			return nil, err
		}
		tedPSigs := &ffwire.TedPSignatures{}
		if err := tedPSigs.Decode(r); err != nil {
			return nil, err
		}
		borrower.state = &signaturesVerified{
			receivingEscrowSignature: *state,
			tedOSigs:                 tedOSigs,
			tedPSigs:                 tedPSigs,
		}

	case StateIdWaitingForEscrowConfirmation:
		var escrowTx, recoverTx *wire.MsgTx
		err := ffwire.ReadElements(r, &escrowTx, &recoverTx)
		if err != nil {
			return nil, err
		}
		data, err := readBorrowerEscrowData(r, version)
		if err != nil {
			return nil, err
		}
		borrower.state = &escrowSigned{
			escrowTx:  escrowTx,
			recoverTx: recoverTx,
			data:      data,
		}

	default:
		return nil, &ffwire.InvalidStateIdError{Id: stateId}
	}

	if r.Len() != 0 {
		return nil, ffwire.ErrTrailingBytes
	}
	return borrower, nil
}

// writeBorrowerCommon writes the escrow keys, params and borrower data
// shared by the pre-signing states.
func writeBorrowerCommon(w io.Writer, keys ffwire.EscrowTedKeys,
	params *ffwire.EscrowParams, data *BorrowerEscrowData) error {

	if err := ffwire.WriteElements(w, keys.TedO, keys.TedP); err != nil {
		return err
	}
	if err := params.Encode(w); err != nil {
		return err
	}
	return writeBorrowerEscrowData(w, data)
}

func readBorrowerCommon(r *bytes.Reader,
	version ffwire.StateVersion) (ffwire.EscrowTedKeys,
	*ffwire.EscrowParams, *BorrowerEscrowData, error) {

	var keys ffwire.EscrowTedKeys
	err := ffwire.ReadElements(r, &keys.TedO, &keys.TedP)
	if err != nil {
		return keys, nil, nil, err
	}

	params := &ffwire.EscrowParams{}
	if err := params.Decode(r, version); err != nil {
		return keys, nil, nil, err
	}

	data, err := readBorrowerEscrowData(r, version)
	if err != nil {
		return keys, nil, nil, err
	}
	return keys, params, data, nil
}

// writeBorrowerSigning writes the payload shared by the states holding the
// signed transaction bundle.
func writeBorrowerSigning(w io.Writer,
	state *receivingEscrowSignature) error {

	err := ffwire.WriteElements(w, state.recoverSig, state.repaymentSig)
	if err != nil {
		return err
	}
	err = ffwire.WriteElements(w, state.keys.TedO, state.keys.TedP)
	if err != nil {
		return err
	}
	if err := state.params.Encode(w); err != nil {
		return err
	}
	if err := state.txes.Encode(w); err != nil {
		return err
	}
	return writeBorrowerEscrowData(w, state.data)
}

func readBorrowerSigning(r *bytes.Reader,
	version ffwire.StateVersion) (*receivingEscrowSignature, error) {

	state := &receivingEscrowSignature{}
	err := ffwire.ReadElements(r, &state.recoverSig, &state.repaymentSig)
	if err != nil {
		return nil, err
	}

	var keys ffwire.EscrowTedKeys
	if err := ffwire.ReadElements(r, &keys.TedO, &keys.TedP); err != nil {
		return nil, err
	}
	state.keys = keys

	state.params = &ffwire.EscrowParams{}
	if err := state.params.Decode(r, version); err != nil {
		return nil, err
	}

	state.txes, err = fftx.DecodeUnsignedTransactions(r, keys)
	if err != nil {
		return nil, err
	}

	state.data, err = readBorrowerEscrowData(r, version)
	if err != nil {
		return nil, err
	}
	return state, nil
}

// writeBorrowerEscrowData writes the borrower's preserved data blob: the
// marker byte, the return script and the prefund with the borrower's
// prefund secret.
func writeBorrowerEscrowData(w io.Writer, d *BorrowerEscrowData) error {
	err := ffwire.WriteElements(w,
		borrowerEscrowDataMarker,
		ffwire.PkScript(d.ReturnScript),
	)
	if err != nil {
		return err
	}
	if err := writePrefundCore(w, d.Prefund); err != nil {
		return err
	}
	return writePrivateKey(w, d.PrefundKey, ffwire.Sequence(d.PrefundLockTime))
}

func readBorrowerEscrowData(r *bytes.Reader,
	version ffwire.StateVersion) (*BorrowerEscrowData, error) {

	var (
		marker uint8
		script ffwire.PkScript
	)
	if err := ffwire.ReadElements(r, &marker, &script); err != nil {
		return nil, err
	}
	if marker != borrowerEscrowDataMarker {
		return nil, &ffwire.InvalidStateIdError{Id: marker}
	}

	prefund, err := readPrefundCore(r)
	if err != nil {
		return nil, err
	}

	key, lockTime, err := readPrivateKeyWithLock(r)
	if err != nil {
		return nil, err
	}

	return &BorrowerEscrowData{
		Prefund:         prefund,
		PrefundKey:      key,
		PrefundLockTime: lockTime,
		ReturnScript:    script,
	}, nil
}

// writePrefundCore writes the participant-independent prefund fields:
// network, the three keys, and the borrower's return hash.
func writePrefundCore(w io.Writer, p *Prefund) error {
	return ffwire.WriteElements(w,
		p.Net,
		p.Keys.BorrowerEph, p.Keys.TedO, p.Keys.TedP,
		p.BorrowerReturnHash,
	)
}

func readPrefundCore(r *bytes.Reader) (*Prefund, error) {
	var (
		net                 wire.BitcoinNet
		borrowerEph, oK, pK *btcec.PublicKey
		returnHash          chainhash.Hash
	)
	err := ffwire.ReadElements(r, &net, &borrowerEph, &oK, &pK, &returnHash)
	if err != nil {
		return nil, err
	}
	if _, err := ffwire.NetParams(net); err != nil {
		return nil, err
	}

	keys, err := ffscript.NewKeyBundle(borrowerEph, oK, pK)
	if err != nil {
		return nil, err
	}
	output, err := ffscript.NewPrefundOutput(keys, returnHash)
	if err != nil {
		return nil, err
	}

	return &Prefund{
		Net:                net,
		Keys:               keys,
		BorrowerReturnHash: returnHash,
		output:             output,
	}, nil
}

func writePrivateKey(w io.Writer, key *btcec.PrivateKey,
	lockTime ffwire.Sequence) error {

	if _, err := w.Write(key.Serialize()); err != nil {
		return err
	}
	return ffwire.WriteElement(w, lockTime)
}

func readPrivateKeyWithLock(r *bytes.Reader) (*btcec.PrivateKey, uint32,
	error) {

	key, err := readPrivateKey(r)
	if err != nil {
		return nil, 0, err
	}
	var lockTime ffwire.Sequence
	if err := ffwire.ReadElement(r, &lockTime); err != nil {
		return nil, 0, err
	}
	return key, uint32(lockTime), nil
}

func readPrivateKey(r *bytes.Reader) (*btcec.PrivateKey, error) {
	var b [32]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return nil, ffwire.ErrUnexpectedEnd
	}
	key, _ := btcec.PrivKeyFromBytes(b[:])
	return key, nil
}

// Encode serializes the agent machine.
func (t *Ted) Encode(w io.Writer) error {
	err := ffwire.WriteStateVersion(w, ffwire.StateVersionCurrent)
	if err != nil {
		return err
	}

	participant := ParticipantTedO
	if t.role == RoleTedP {
		participant = ParticipantTedP
	}
	if err := ffwire.WriteElement(w, uint8(participant)); err != nil {
		return err
	}

	if !t.WaitingForEscrowConfirmation() {
		err := ffwire.WriteElement(
			w, uint8(StateIdEscrowReceivingBorrowerInfo),
		)
		if err != nil {
			return err
		}
		err = ffwire.WriteElements(
			w, t.escrowTedKeys.TedO, t.escrowTedKeys.TedP,
		)
		if err != nil {
			return err
		}
		if err := t.params.Encode(w); err != nil {
			return err
		}
		return t.writeData(w, participant)
	}

	err = ffwire.WriteElement(
		w, uint8(StateIdWaitingForEscrowConfirmation),
	)
	if err != nil {
		return err
	}
	err = ffwire.WriteElements(w, t.escrowTedKeys.TedO, t.escrowTedKeys.TedP)
	if err != nil {
		return err
	}
	if err := t.borrowerSigs.Encode(w); err != nil {
		return err
	}
	if err := t.params.Encode(w); err != nil {
		return err
	}
	if err := t.txes.Encode(w); err != nil {
		return err
	}
	return t.writeData(w, participant)
}

// writeData writes the agent's secret data: the escrow key followed by the
// nested prefund state. The nested state repeats the participant and state
// id but not the version header.
func (t *Ted) writeData(w io.Writer, participant ParticipantId) error {
	if _, err := w.Write(t.escrowKey.Serialize()); err != nil {
		return err
	}

	if t.prefund == nil {
		err := ffwire.WriteElements(w,
			uint8(participant),
			uint8(StateIdPrefundReceivingBorrowerData),
			t.params.Net,
			t.prefundTedKeys.TedO, t.prefundTedKeys.TedP,
		)
		if err != nil {
			return err
		}
	} else {
		err := ffwire.WriteElements(w,
			uint8(participant),
			uint8(StateIdPrefund),
		)
		if err != nil {
			return err
		}
		if err := writePrefundCore(w, t.prefund); err != nil {
			return err
		}
	}

	_, err := w.Write(t.prefundKey.Serialize())
	return err
}

// ParseTed deserializes an agent machine. Trailing bytes are rejected.
func ParseTed(b []byte) (*Ted, error) {
	r := bytes.NewReader(b)

	version, err := ffwire.ReadStateVersion(r)
	if err != nil {
		return nil, err
	}

	var participant, stateId uint8
	if err := ffwire.ReadElements(r, &participant, &stateId); err != nil {
		return nil, err
	}

	var role TedRole
	switch ParticipantId(participant) {
	case ParticipantTedO:
		role = RoleTedO
	case ParticipantTedP:
		role = RoleTedP
	default:
		return nil, &ffwire.InvalidParticipantError{Id: participant}
	}

	ted := &Ted{role: role}

	switch StateId(stateId) {
	case StateIdEscrowReceivingBorrowerInfo:
		var keys ffwire.EscrowTedKeys
		err := ffwire.ReadElements(r, &keys.TedO, &keys.TedP)
		if err != nil {
			return nil, err
		}
		ted.escrowTedKeys = keys

		ted.params = &ffwire.EscrowParams{}
		if err := ted.params.Decode(r, version); err != nil {
			return nil, err
		}
		if err := ted.readData(r, participant); err != nil {
			return nil, err
		}

	case StateIdWaitingForEscrowConfirmation:
		var keys ffwire.EscrowTedKeys
		err := ffwire.ReadElements(r, &keys.TedO, &keys.TedP)
		if err != nil {
			return nil, err
		}
		ted.escrowTedKeys = keys

		ted.borrowerSigs = &ffwire.BorrowerSignatures{}
		if err := ted.borrowerSigs.Decode(r); err != nil {
			return nil, err
		}

		ted.params = &ffwire.EscrowParams{}
		if err := ted.params.Decode(r, version); err != nil {
			return nil, err
		}

		ted.txes, err = fftx.DecodeUnsignedTransactions(r, keys)
		if err != nil {
			return nil, err
		}
		if err := ted.readData(r, participant); err != nil {
			return nil, err
		}

	default:
		return nil, &ffwire.InvalidStateIdError{Id: stateId}
	}

	if r.Len() != 0 {
		return nil, ffwire.ErrTrailingBytes
	}
	return ted, nil
}

func (t *Ted) readData(r *bytes.Reader, wantParticipant uint8) error {
	escrowKey, err := readPrivateKey(r)
	if err != nil {
		return err
	}
	t.escrowKey = escrowKey

	var participant, stateId uint8
	if err := ffwire.ReadElements(r, &participant, &stateId); err != nil {
		return err
	}
	if participant != wantParticipant {
		return &ffwire.InvalidParticipantError{Id: participant}
	}

	switch StateId(stateId) {
	case StateIdPrefundReceivingBorrowerData:
		var (
			net  wire.BitcoinNet
			keys ffwire.PrefundTedKeys
		)
		err := ffwire.ReadElements(r, &net, &keys.TedO, &keys.TedP)
		if err != nil {
			return err
		}
		if _, err := ffwire.NetParams(net); err != nil {
			return err
		}
		t.prefundTedKeys = keys

	case StateIdPrefund:
		prefund, err := readPrefundCore(r)
		if err != nil {
			return err
		}
		t.prefund = prefund
		t.prefundTedKeys = ffwire.PrefundTedKeys{TedKeys: ffwire.TedKeys{
			TedO: prefund.Keys.TedO,
			TedP: prefund.Keys.TedP,
		}}

	default:
		return &ffwire.InvalidStateIdError{Id: stateId}
	}

	t.prefundKey, err = readPrivateKey(r)
	return err
}
