package contract

import (
	"bytes"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/go-errors/errors"

	"github.com/firefish-io/firefish-go/ffscript"
	"github.com/firefish-io/firefish-go/fftx"
	"github.com/firefish-io/firefish-go/ffwire"
	"github.com/firefish-io/firefish-go/invoice"
)

var (
	// ErrMessageAlreadyReceived is returned when the same agent's
	// signatures arrive a second time.
	ErrMessageAlreadyReceived = errors.New("message already received")

	// ErrAlreadyReceived is returned when a piece of borrower
	// information arrives a second time.
	ErrAlreadyReceived = errors.New("borrower info already received")

	// ErrNoMessageExpected is returned when a message arrives in a state
	// that accepts none.
	ErrNoMessageExpected = errors.New("no message expected in this state")

	// ErrEmptyMessage is returned when an empty buffer is handed to the
	// machine.
	ErrEmptyMessage = errors.New("empty message")
)

// BorrowerPhase is the caller-visible phase of the borrower machine.
type BorrowerPhase uint8

const (
	// PhasePrefundReady means the funding invoice can be computed and
	// the machine waits for on-chain funding plus escrow hints.
	PhasePrefundReady BorrowerPhase = iota

	// PhaseAwaitingTxSignatures means the funding plan went out and the
	// machine waits for both agents' signatures.
	PhaseAwaitingTxSignatures

	// PhaseRecoverTxSigned means all signatures verified and the
	// recover transaction awaits backup confirmation.
	PhaseRecoverTxSigned

	// PhaseEscrowTxSigned means the escrow witness is assembled; the
	// machine is in its terminal state.
	PhaseEscrowTxSigned
)

// BorrowerEscrowData is the borrower's long-lived secret material and
// refund plan, preserved across every state of the machine.
type BorrowerEscrowData struct {
	// Prefund is the derived prefund contract.
	Prefund *Prefund

	// PrefundKey is the borrower's ephemeral prefund private key.
	PrefundKey *btcec.PrivateKey

	// PrefundLockTime is the CSV sequence of the borrower's refund leaf.
	PrefundLockTime uint32

	// ReturnScript receives the collateral on repayment, recover, and
	// prefund cancel.
	ReturnScript []byte
}

// backupScript rebuilds the borrower's refund leaf script.
func (d *BorrowerEscrowData) backupScript() ([]byte, error) {
	return ffscript.BorrowerBackupScript(
		d.PrefundLockTime, d.PrefundKey.PubKey(),
	)
}

// The concrete borrower states. Each transition builds its successor in
// full before the machine commits to it, so a failed transition leaves the
// caller-visible state untouched.
type (
	waitingForFunding struct {
		params *ffwire.EscrowParams
		keys   ffwire.EscrowTedKeys
		data   *BorrowerEscrowData
	}

	receivingEscrowSignature struct {
		params       *ffwire.EscrowParams
		keys         ffwire.EscrowTedKeys
		data         *BorrowerEscrowData
		txes         *fftx.UnsignedTransactions
		recoverSig   *schnorr.Signature
		repaymentSig *schnorr.Signature
		received     *ffwire.TedSignatures
	}

	signaturesVerified struct {
		receivingEscrowSignature

		tedOSigs *ffwire.TedOSignatures
		tedPSigs *ffwire.TedPSignatures
	}

	escrowSigned struct {
		escrowTx  *wire.MsgTx
		recoverTx *wire.MsgTx
		data      *BorrowerEscrowData
	}
)

// Borrower drives the borrower's side of the contract. Transitions are fed
// through MessageReceived and RecoverTxBackedUp; after each call
// MessageToSend yields the response to deliver, if any. No message is ever
// produced out of thin air.
type Borrower struct {
	state   interface{}
	message []byte
}

// PrefundParams are the borrower's inputs to accepting an offer.
type PrefundParams struct {
	// Key is the ephemeral prefund key pair.
	Key *btcec.PrivateKey

	// LockTime is the relative CSV delay of the refund leaf.
	LockTime uint32

	// ReturnScript receives refunded collateral.
	ReturnScript []byte
}

// AcceptOffer initializes the borrower machine from a lender's offer. The
// initial outbound message announces the borrower's prefund spending
// conditions to both agents.
func AcceptOffer(offer *ffwire.Offer, params *PrefundParams) (*Borrower, error) {
	backupScript, err := ffscript.BorrowerBackupScript(
		params.LockTime, params.Key.PubKey(),
	)
	if err != nil {
		return nil, err
	}

	info := &ffwire.BorrowerSpendInfo{
		Key:        params.Key.PubKey(),
		ReturnHash: ffscript.TapLeafHash(backupScript),
	}
	prefund, err := NewPrefund(offer.Escrow.Net, offer.PrefundKeys, info)
	if err != nil {
		return nil, err
	}

	var msg bytes.Buffer
	if err := info.Encode(&msg); err != nil {
		return nil, err
	}

	return &Borrower{
		state: &waitingForFunding{
			params: offer.Escrow,
			keys:   offer.EscrowKeys,
			data: &BorrowerEscrowData{
				Prefund:         prefund,
				PrefundKey:      params.Key,
				PrefundLockTime: params.LockTime,
				ReturnScript:    params.ReturnScript,
			},
		},
		message: msg.Bytes(),
	}, nil
}

// Phase returns the machine's caller-visible phase.
func (b *Borrower) Phase() BorrowerPhase {
	switch b.state.(type) {
	case *waitingForFunding:
		return PhasePrefundReady
	case *receivingEscrowSignature:
		return PhaseAwaitingTxSignatures
	case *signaturesVerified:
		return PhaseRecoverTxSigned
	case *escrowSigned:
		return PhaseEscrowTxSigned
	default:
		panic("unreachable borrower state")
	}
}

// MessageToSend returns the message produced by the last successful
// transition. It stays available for re-sending until the next transition.
// A nil result means there is nothing to send.
func (b *Borrower) MessageToSend() []byte {
	return b.message
}

// MessageReceived feeds an incoming message into the machine. On any error
// the state is exactly what it was before the call.
func (b *Borrower) MessageReceived(msg []byte) error {
	if len(msg) == 0 {
		return ErrEmptyMessage
	}

	switch state := b.state.(type) {
	case *waitingForFunding:
		hints := &ffwire.EscrowHints{}
		if err := hints.Decode(bytes.NewReader(msg)); err != nil {
			return err
		}
		return b.fundingReceived(state, fftx.FundingFromHints(hints))

	case *receivingEscrowSignature:
		sigs, err := ffwire.ParseTedSignatures(msg)
		if err != nil {
			return err
		}
		if sigs == nil {
			return ErrEmptyMessage
		}
		return b.tedSignaturesReceived(state, sigs)

	default:
		return ErrNoMessageExpected
	}
}

// FundingReceived runs the funding transition with an explicit funding
// plan, the power user path around the hints message.
func (b *Borrower) FundingReceived(funding *fftx.Funding) error {
	state, ok := b.state.(*waitingForFunding)
	if !ok {
		return ErrNoMessageExpected
	}
	return b.fundingReceived(state, funding)
}

// fundingReceived filters the funding transactions, predicts fees, derives
// the transaction bundle, signs it and emits the funding plan message.
func (b *Borrower) fundingReceived(state *waitingForFunding,
	funding *fftx.Funding) error {

	data := state.data
	fundingScript, err := data.Prefund.FundingScript()
	if err != nil {
		return err
	}

	txos, maxLockHeight := fftx.ExtractSpendableOutputs(
		funding.Transactions, fundingScript,
	)
	if len(txos) == 0 {
		return fftx.ErrNoMatchingOutputs
	}

	ephKey, err := btcec.NewPrivateKey()
	if err != nil {
		return err
	}

	// The transactions don't exist yet, so their fees are predicted from
	// the known witness shapes and the requested output scripts.
	escrowOutSizes := []int{fftx.P2TRSize}
	for _, txOut := range funding.EscrowExtraOutputs {
		escrowOutSizes = append(escrowOutSizes, len(txOut.PkScript))
	}
	repaymentOutSizes := []int{len(data.ReturnScript)}
	for _, txOut := range funding.RepaymentExtraOutputs {
		repaymentOutSizes = append(repaymentOutSizes, len(txOut.PkScript))
	}
	recoverOutSizes := []int{len(data.ReturnScript)}
	for _, txOut := range funding.RecoverExtraOutputs {
		recoverOutSizes = append(recoverOutSizes, len(txOut.PkScript))
	}
	var terminationOutSizes []int
	for _, txOut := range state.params.ExtraTerminationOutputs {
		terminationOutSizes = append(
			terminationOutSizes, len(txOut.PkScript),
		)
	}
	defaultOutSizes := append(
		terminationOutSizes[:len(terminationOutSizes):len(terminationOutSizes)],
		len(state.params.LiquidatorScriptDefault),
	)
	liquidationOutSizes := append(
		terminationOutSizes[:len(terminationOutSizes):len(terminationOutSizes)],
		len(state.params.LiquidatorScriptLiquidation),
	)

	prefundSpend := fftx.PrefundSpendWitnessSizes()
	escrowSpend := fftx.EscrowSpendWitnessSizes()

	escrowFee := funding.EscrowFeeRate.FeeForWeight(
		fftx.PredictTxWeight(len(txos), prefundSpend, escrowOutSizes),
	)
	repaymentFee := funding.FinalizationFeeRate.FeeForWeight(
		fftx.PredictTxWeight(1, escrowSpend, repaymentOutSizes),
	)
	recoverFee := funding.FinalizationFeeRate.FeeForWeight(
		fftx.PredictTxWeight(1, escrowSpend, recoverOutSizes),
	)
	defaultFee := funding.FinalizationFeeRate.FeeForWeight(
		fftx.PredictTxWeight(1, escrowSpend, defaultOutSizes),
	)
	liquidationFee := funding.FinalizationFeeRate.FeeForWeight(
		fftx.PredictTxWeight(1, escrowSpend, liquidationOutSizes),
	)

	var fundingAmount btcutil.Amount
	for _, txo := range txos {
		fundingAmount += btcutil.Amount(txo.TxOut.Value)
	}
	escrowExtra := btcutil.Amount(fftx.SumTxOuts(funding.EscrowExtraOutputs))
	repaymentExtra := btcutil.Amount(
		fftx.SumTxOuts(funding.RepaymentExtraOutputs),
	)
	recoverExtra := btcutil.Amount(
		fftx.SumTxOuts(funding.RecoverExtraOutputs),
	)
	terminationExtra := btcutil.Amount(
		fftx.SumTxOuts(state.params.ExtraTerminationOutputs),
	)
	collateral := terminationExtra + state.params.MinCollateral

	// Every spender of the escrow output must be payable from it, so the
	// escrow amount has to cover the most expensive one.
	required := maxAmount(
		repaymentFee+repaymentExtra,
		recoverFee+recoverExtra,
		defaultFee+collateral,
		liquidationFee+collateral,
	)
	escrowCost := escrowFee + escrowExtra
	if fundingAmount < required+escrowCost {
		return &fftx.UnderfundedError{
			Required:  required + escrowCost,
			Available: fundingAmount,
		}
	}
	escrowAmount := fundingAmount - escrowCost

	recoverOutputs := append(
		cloneTxOuts(funding.RecoverExtraOutputs),
		wire.NewTxOut(
			int64(escrowAmount-recoverFee-recoverExtra),
			data.ReturnScript,
		),
	)
	repaymentOutputs := append(
		cloneTxOuts(funding.RepaymentExtraOutputs),
		wire.NewTxOut(
			int64(escrowAmount-repaymentFee-repaymentExtra),
			data.ReturnScript,
		),
	)

	// Borrower info created by the borrower is valid by construction.
	info := &ffwire.ValidatedBorrowerInfo{
		BorrowerInfo: ffwire.BorrowerInfo{
			EscrowEphKey:                 ephKey.PubKey(),
			Inputs:                       txos,
			TxHeight:                     maxLockHeight,
			EscrowExtraOutputs:           funding.EscrowExtraOutputs,
			EscrowContractOutputPosition: funding.EscrowContractOutputPosition,
			EscrowAmount:                 escrowAmount,
			CollateralAmountDefault:      escrowAmount - defaultFee - terminationExtra,
			CollateralAmountLiquidation:  escrowAmount - liquidationFee - terminationExtra,
			RepaymentOutputs:             repaymentOutputs,
			RecoverOutputs:               recoverOutputs,
		},
	}

	txes, err := fftx.NewUnsignedTransactions(state.params, state.keys, info)
	if err != nil {
		return err
	}
	sigs, err := txes.SignBorrower(ephKey)
	if err != nil {
		return err
	}

	var msg bytes.Buffer
	outMsg := &ffwire.BorrowerInfoMessage{
		Info:       &info.BorrowerInfo,
		Signatures: sigs,
	}
	if err := outMsg.Encode(&msg); err != nil {
		return err
	}

	log.Infof("Borrower funding plan ready: %d inputs, escrow amount %v",
		len(txos), escrowAmount)

	b.state = &receivingEscrowSignature{
		params:       state.params,
		keys:         state.keys,
		data:         data,
		txes:         txes,
		recoverSig:   sigs.Recover,
		repaymentSig: sigs.Repayment,
	}
	b.message = msg.Bytes()
	return nil
}

// tedSignaturesReceived stores the first agent message and, once both
// distinct agents answered, verifies everything and finalizes the recover
// transaction.
func (b *Borrower) tedSignaturesReceived(state *receivingEscrowSignature,
	sigs *ffwire.TedSignatures) error {

	if state.received == nil {
		state.received = sigs
		b.message = nil
		return nil
	}

	var (
		tedO *ffwire.TedOSignatures
		tedP *ffwire.TedPSignatures
	)
	switch {
	case state.received.TedO != nil && sigs.TedP != nil:
		tedO, tedP = state.received.TedO, sigs.TedP
	case state.received.TedP != nil && sigs.TedO != nil:
		tedO, tedP = sigs.TedO, state.received.TedP
	default:
		return ErrMessageAlreadyReceived
	}

	if err := state.txes.VerifyTedO(state.keys.TedO, tedO); err != nil {
		return err
	}
	if err := state.txes.VerifyTedP(state.keys.TedP, tedP); err != nil {
		return err
	}

	err := state.txes.FinalizeSpend(
		state.txes.Recover, state.recoverSig, tedO.Recover, tedP.Recover,
	)
	if err != nil {
		return err
	}

	next := &signaturesVerified{
		receivingEscrowSignature: *state,
		tedOSigs:                 tedO,
		tedPSigs:                 tedP,
	}
	next.received = nil

	b.state = next
	b.message = nil
	return nil
}

// RecoverTxBackedUp is called once the user confirmed the recover
// transaction backup. It assembles the escrow witnesses and emits the
// broadcast request. Calling it in any state but PhaseRecoverTxSigned is
// API misuse and panics.
func (b *Borrower) RecoverTxBackedUp() error {
	state, ok := b.state.(*signaturesVerified)
	if !ok {
		panic("RecoverTxBackedUp called outside PhaseRecoverTxSigned")
	}

	data := state.data
	escrowTx, err := state.txes.AssembleEscrow(
		data.Prefund.Output(), data.Prefund.Keys,
		state.tedOSigs, state.tedPSigs,
		func(sigHash []byte) (*schnorr.Signature, error) {
			return schnorr.Sign(data.PrefundKey, sigHash)
		},
	)
	if err != nil {
		return err
	}

	req, err := fftx.ExtractBorrowerSignatures(escrowTx, data.Prefund.Keys)
	if err != nil {
		return err
	}
	var msg bytes.Buffer
	if err := req.Encode(&msg); err != nil {
		return err
	}

	log.Infof("Escrow transaction %v assembled", escrowTx.TxHash())

	b.state = &escrowSigned{
		escrowTx:  escrowTx,
		recoverTx: state.txes.Recover,
		data:      data,
	}
	b.message = msg.Bytes()
	return nil
}

// Reset returns the machine to PhasePrefundReady, forgetting every step
// since. The offer must be the one the machine was created from; the
// behavior with any other offer is unspecified.
func (b *Borrower) Reset(offer *ffwire.Offer) {
	b.state = &waitingForFunding{
		params: offer.Escrow,
		keys:   offer.EscrowKeys,
		data:   b.escrowData(),
	}
	b.message = nil
}

// escrowData returns the preserved data of whatever state the machine is
// in.
func (b *Borrower) escrowData() *BorrowerEscrowData {
	switch state := b.state.(type) {
	case *waitingForFunding:
		return state.data
	case *receivingEscrowSignature:
		return state.data
	case *signaturesVerified:
		return state.data
	case *escrowSigned:
		return state.data
	default:
		panic("unreachable borrower state")
	}
}

// FundingAddress returns the prefund address to display to the user.
func (b *Borrower) FundingAddress() (btcutil.Address, error) {
	return b.escrowData().Prefund.FundingAddress()
}

// LiquidatorAmount returns the pessimistic liquidator payout: before
// funding it is the offer minimum, afterwards the smaller of the two
// termination values.
func (b *Borrower) LiquidatorAmount() btcutil.Amount {
	switch state := b.state.(type) {
	case *waitingForFunding:
		return state.params.MinCollateral
	case *receivingEscrowSignature:
		return liquidatorAmount(state.params, state.txes)
	case *signaturesVerified:
		return liquidatorAmount(state.params, state.txes)
	default:
		panic("LiquidatorAmount called in terminal state")
	}
}

func liquidatorAmount(params *ffwire.EscrowParams,
	txes *fftx.UnsignedTransactions) btcutil.Amount {

	idx := params.LiquidatorOutputIndex
	defaultValue := txes.Default.TxOut[idx].Value
	liquidationValue := txes.Liquidation.TxOut[idx].Value
	if liquidationValue < defaultValue {
		return btcutil.Amount(liquidationValue)
	}
	return btcutil.Amount(defaultValue)
}

// FundingInvoice builds the BIP-21 invoice for the user to pay, adding the
// given reserve for miner fees on top of the liquidator amount. It may only
// be called in PhasePrefundReady.
func (b *Borrower) FundingInvoice(
	feeReserve btcutil.Amount) (*invoice.Invoice, error) {

	state, ok := b.state.(*waitingForFunding)
	if !ok {
		panic("FundingInvoice called outside PhasePrefundReady")
	}

	addr, err := state.data.Prefund.FundingAddress()
	if err != nil {
		return nil, err
	}
	return invoice.New(
		addr, state.params.MinCollateral+feeReserve,
		"Firefish smart contract", "Deposit for a loan from Firefish",
	), nil
}

// RecoverTransaction returns the signed recover transaction for backup. It
// is available from PhaseRecoverTxSigned on.
func (b *Borrower) RecoverTransaction() (*wire.MsgTx, error) {
	switch state := b.state.(type) {
	case *signaturesVerified:
		return state.txes.Recover, nil
	case *escrowSigned:
		return state.recoverTx, nil
	default:
		return nil, ErrNoMessageExpected
	}
}

// EscrowTransaction returns the fully signed escrow transaction in the
// terminal state.
func (b *Borrower) EscrowTransaction() (*wire.MsgTx, error) {
	state, ok := b.state.(*escrowSigned)
	if !ok {
		return nil, ErrNoMessageExpected
	}
	return state.escrowTx, nil
}

// FundingCancel builds the borrower's unilateral refund of the prefund
// outputs found in the given transactions. The delay is added on top of the
// refund leaf's CSV lock, the remaining value after the fee pays the return
// script.
func (b *Borrower) FundingCancel(transactions []*wire.MsgTx,
	feeRate ffwire.FeeRate, currentHeight uint32,
	delay fftx.RelativeDelay) (*wire.MsgTx, error) {

	data := b.escrowData()

	fundingScript, err := data.Prefund.FundingScript()
	if err != nil {
		return nil, err
	}
	txos, _ := fftx.ExtractSpendableOutputs(transactions, fundingScript)
	if len(txos) == 0 {
		return nil, fftx.ErrNoMatchingOutputs
	}

	sequence, err := fftx.OffsetSequence(data.PrefundLockTime, delay)
	if err != nil {
		return nil, err
	}
	for _, txo := range txos {
		txo.Sequence = ffwire.Sequence(sequence)
	}

	backupScript, err := data.backupScript()
	if err != nil {
		return nil, err
	}

	witnessSizes := []int{
		fftx.TaprootSignatureSize,
		len(backupScript),
		fftx.ControlBlockBaseSize + fftx.TaprootMerkleNodeSize,
	}
	weight := fftx.PredictTxWeight(
		len(txos), witnessSizes, []int{len(data.ReturnScript)},
	)
	fee := feeRate.FeeForWeight(weight)

	var total btcutil.Amount
	for _, txo := range txos {
		total += btcutil.Amount(txo.TxOut.Value)
	}
	if fee > total {
		return nil, &fftx.UnderfundedError{
			Required:  fee,
			Available: total,
		}
	}

	txOut := wire.NewTxOut(int64(total-fee), data.ReturnScript)
	return data.Prefund.SpendBorrower(
		data.PrefundKey, backupScript, txos, []*wire.TxOut{txOut},
		currentHeight,
	)
}

func maxAmount(amounts ...btcutil.Amount) btcutil.Amount {
	max := amounts[0]
	for _, a := range amounts[1:] {
		if a > max {
			max = a
		}
	}
	return max
}

func cloneTxOuts(txOuts []*wire.TxOut) []*wire.TxOut {
	clones := make([]*wire.TxOut, 0, len(txOuts))
	for _, txOut := range txOuts {
		clones = append(clones, wire.NewTxOut(txOut.Value, txOut.PkScript))
	}
	return clones
}
