package contract

// ParticipantId identifies a participant in persisted state headers.
type ParticipantId uint8

// The defined participant ids. Only the borrower and the two agents are
// ever persisted; the verifier id exists for completeness and is rejected
// on decode. None of these may ever be 0xFF, which flags a versioned state
// header.
const (
	ParticipantVerifier ParticipantId = 0
	ParticipantBorrower ParticipantId = 1
	ParticipantTedO     ParticipantId = 2
	ParticipantTedP     ParticipantId = 3
)

// StateId identifies a persisted machine state.
type StateId uint8

// The defined state ids.
const (
	StateIdPrefundReceivingBorrowerData StateId = 0
	StateIdPrefund                      StateId = 1
	StateIdWaitingForFunding            StateId = 2
	StateIdEscrowReceivingBorrowerInfo  StateId = 3
	StateIdEscrowReceivingStateSigs     StateId = 4
	StateIdEscrowReceivingEscrowSigs    StateId = 5
	StateIdEscrowSignaturesVerified     StateId = 6
	StateIdWaitingForEscrowConfirmation StateId = 7
)

// borrowerEscrowDataMarker tags the borrower's escrow data blob inside
// persisted states.
const borrowerEscrowDataMarker uint8 = 0x06
