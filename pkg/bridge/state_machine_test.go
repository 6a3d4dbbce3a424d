package bridge_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/claimbridge/claimbridge/pkg/bridge"
)

func TestTransition(t *testing.T) {
	tests := []struct {
		name       string
		state      bridge.State
		event      bridge.Event
		wantState  bridge.State
		wantEffect bridge.Effect
	}{
		{"duplicate discarded", bridge.StateReceived, bridge.EventDuplicate, bridge.StateDiscarded, bridge.EffectDiscard},
		{"dequeued starts verification", bridge.StateReceived, bridge.EventDequeued, bridge.StateVerifying, bridge.EffectVerify},
		{"missing subject rejects", bridge.StateVerifying, bridge.EventSubjectNotFound, bridge.StateRejected, bridge.EffectRecordRejection},
		{"precondition failure rejects", bridge.StateVerifying, bridge.EventIneligible, bridge.StateRejected, bridge.EffectRecordRejection},
		{"exhausted verification fails", bridge.StateVerifying, bridge.EventVerificationFailed, bridge.StateFailed, bridge.EffectAlert},
		{"eligible claims submit", bridge.StateVerifying, bridge.EventEligible, bridge.StateSubmitting, bridge.EffectSubmit},
		{"pull requests score first", bridge.StateVerifying, bridge.EventScoreRequired, bridge.StateScoring, bridge.EffectScore},
		{"notices confirm without submission", bridge.StateVerifying, bridge.EventNoSubmissionRequired, bridge.StateConfirmed, bridge.EffectRecordNotice},
		{"scored claims submit", bridge.StateScoring, bridge.EventScored, bridge.StateSubmitting, bridge.EffectSubmit},
		{"already confirmed is terminal", bridge.StateSubmitting, bridge.EventAlreadyConfirmed, bridge.StateConfirmed, bridge.EffectNone},
		{"mined tx confirms", bridge.StateSubmitting, bridge.EventTxMined, bridge.StateConfirmed, bridge.EffectNone},
		{"exhausted submission fails", bridge.StateSubmitting, bridge.EventSubmitFailed, bridge.StateFailed, bridge.EffectAlert},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			next, effect, err := bridge.Transition(tc.state, tc.event)
			require.NoError(t, err)
			require.Equal(t, tc.wantState, next)
			require.Equal(t, tc.wantEffect, effect)
		})
	}
}

func TestTransitionRejectsInvalid(t *testing.T) {
	invalid := []struct {
		state bridge.State
		event bridge.Event
	}{
		{bridge.StateConfirmed, bridge.EventDequeued},
		{bridge.StateRejected, bridge.EventEligible},
		{bridge.StateFailed, bridge.EventTxMined},
		{bridge.StateDiscarded, bridge.EventDequeued},
		{bridge.StateReceived, bridge.EventTxMined},
		{bridge.StateScoring, bridge.EventEligible},
		{bridge.StateSubmitting, bridge.EventScored},
	}

	for _, tc := range invalid {
		next, effect, err := bridge.Transition(tc.state, tc.event)
		require.Error(t, err, "%s + %s", tc.state, tc.event)
		require.Equal(t, tc.state, next, "state must not move on invalid transition")
		require.Equal(t, bridge.EffectNone, effect)
	}
}

func TestTerminalStatesHaveNoOutgoingTransitions(t *testing.T) {
	terminal := []bridge.State{bridge.StateConfirmed, bridge.StateRejected, bridge.StateFailed, bridge.StateDiscarded}
	allEvents := []bridge.Event{
		bridge.EventDuplicate, bridge.EventDequeued, bridge.EventSubjectNotFound,
		bridge.EventVerificationFailed, bridge.EventIneligible, bridge.EventEligible,
		bridge.EventScoreRequired, bridge.EventNoSubmissionRequired, bridge.EventScored,
		bridge.EventAlreadyConfirmed, bridge.EventTxMined, bridge.EventSubmitFailed,
	}

	for _, state := range terminal {
		require.True(t, state.Terminal())
		for _, event := range allEvents {
			_, _, err := bridge.Transition(state, event)
			require.Error(t, err, "terminal state %s must reject %s", state, event)
		}
	}
}
