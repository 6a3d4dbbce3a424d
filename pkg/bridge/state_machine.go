package bridge

import (
	"fmt"
)

// State is a claim's position in its processing lifecycle.
type State uint8

const (
	StateReceived State = iota
	StateVerifying
	StateScoring
	StateSubmitting
	StateConfirmed
	StateRejected
	StateFailed
	StateDiscarded
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case StateReceived:
		return "Received"
	case StateVerifying:
		return "Verifying"
	case StateScoring:
		return "Scoring"
	case StateSubmitting:
		return "Submitting"
	case StateConfirmed:
		return "Confirmed"
	case StateRejected:
		return "Rejected"
	case StateFailed:
		return "Failed"
	case StateDiscarded:
		return "Discarded"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	switch s {
	case StateConfirmed, StateRejected, StateFailed, StateDiscarded:
		return true
	default:
		return false
	}
}

// Event is something that happened to a claim.
type Event uint8

const (
	// EventDuplicate fires when the de-duplication check matches a key
	// already seen.
	EventDuplicate Event = iota
	// EventDequeued fires when a worker picks the claim up.
	EventDequeued
	// EventSubjectNotFound fires when the external entity does not
	// exist.
	EventSubjectNotFound
	// EventVerificationFailed fires when verification retries are
	// exhausted.
	EventVerificationFailed
	// EventIneligible fires when a precondition rejects the claim
	// (self-claim, unmerged PR, stale merge).
	EventIneligible
	// EventEligible fires for verified claims that go straight to
	// submission.
	EventEligible
	// EventScoreRequired fires for verified claims that need a trust
	// score first.
	EventScoreRequired
	// EventNoSubmissionRequired fires for verified claims with no
	// on-chain entry point.
	EventNoSubmissionRequired
	// EventScored fires once the trust score is computed.
	EventScored
	// EventAlreadyConfirmed fires when the ledger already holds a
	// confirmation for this claim.
	EventAlreadyConfirmed
	// EventTxMined fires when the confirmation transaction succeeded.
	EventTxMined
	// EventSubmitFailed fires when submission retries are exhausted.
	EventSubmitFailed
)

// String returns the string representation of Event.
func (e Event) String() string {
	switch e {
	case EventDuplicate:
		return "Duplicate"
	case EventDequeued:
		return "Dequeued"
	case EventSubjectNotFound:
		return "SubjectNotFound"
	case EventVerificationFailed:
		return "VerificationFailed"
	case EventIneligible:
		return "Ineligible"
	case EventEligible:
		return "Eligible"
	case EventScoreRequired:
		return "ScoreRequired"
	case EventNoSubmissionRequired:
		return "NoSubmissionRequired"
	case EventScored:
		return "Scored"
	case EventAlreadyConfirmed:
		return "AlreadyConfirmed"
	case EventTxMined:
		return "TxMined"
	case EventSubmitFailed:
		return "SubmitFailed"
	default:
		return fmt.Sprintf("Event(%d)", uint8(e))
	}
}

// Effect is the side effect the processor performs after a transition.
type Effect uint8

const (
	EffectNone Effect = iota
	// EffectDiscard drops a duplicate without any external calls.
	EffectDiscard
	// EffectVerify fetches the verification snapshot and evaluates
	// eligibility.
	EffectVerify
	// EffectScore computes the trust score.
	EffectScore
	// EffectSubmit writes the confirmation to the ledger.
	EffectSubmit
	// EffectRecordRejection logs the rejection with its reason. Nothing
	// is written on-chain for rejected claims.
	EffectRecordRejection
	// EffectRecordNotice records an informational claim, such as a
	// deposit, that terminates without submission.
	EffectRecordNotice
	// EffectAlert emits the structured failure log operators page on.
	EffectAlert
)

type transitionKey struct {
	state State
	event Event
}

type transitionResult struct {
	next   State
	effect Effect
}

// transitions is the complete lifecycle. Anything not listed is an
// invalid transition.
var transitions = map[transitionKey]transitionResult{
	{StateReceived, EventDuplicate}: {StateDiscarded, EffectDiscard},
	{StateReceived, EventDequeued}:  {StateVerifying, EffectVerify},

	{StateVerifying, EventSubjectNotFound}:      {StateRejected, EffectRecordRejection},
	{StateVerifying, EventIneligible}:           {StateRejected, EffectRecordRejection},
	{StateVerifying, EventVerificationFailed}:   {StateFailed, EffectAlert},
	{StateVerifying, EventEligible}:             {StateSubmitting, EffectSubmit},
	{StateVerifying, EventScoreRequired}:        {StateScoring, EffectScore},
	{StateVerifying, EventNoSubmissionRequired}: {StateConfirmed, EffectRecordNotice},

	{StateScoring, EventScored}: {StateSubmitting, EffectSubmit},

	{StateSubmitting, EventAlreadyConfirmed}: {StateConfirmed, EffectNone},
	{StateSubmitting, EventTxMined}:          {StateConfirmed, EffectNone},
	{StateSubmitting, EventSubmitFailed}:     {StateFailed, EffectAlert},
}

// Transition applies an event to a state. It is a pure function; all
// side effects are returned as an Effect for the caller to perform.
func Transition(state State, event Event) (State, Effect, error) {
	result, ok := transitions[transitionKey{state, event}]
	if !ok {
		return state, EffectNone, fmt.Errorf("invalid transition: %s event in %s state", event, state)
	}
	return result.next, result.effect, nil
}
