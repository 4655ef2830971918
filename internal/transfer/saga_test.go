package transfer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSagaLinearPipeline(t *testing.T) {
	s := NewSaga("tx-1")
	assert.Equal(t, StateValidating, s.State())

	for _, next := range []State{
		StateDebitingSender,
		StateCreditingRecipient,
		StateCreditingCommission,
		StateRecording,
		StateCompleted,
	} {
		require.NoError(t, s.Advance(next))
		assert.Equal(t, next, s.State())
	}
}

func TestSagaRejectsSkippedSteps(t *testing.T) {
	s := NewSaga("tx-2")

	err := s.Advance(StateCreditingRecipient)
	require.Error(t, err)

	var transition *InvalidStateTransitionError
	require.True(t, errors.As(err, &transition))
	assert.Equal(t, StateValidating, transition.FromState)
	assert.Equal(t, StateCreditingRecipient, transition.ToState)
	assert.Equal(t, "tx-2", transition.TransferID)
	assert.Equal(t, StateValidating, s.State())
}

func TestSagaFailFromAnyNonTerminalState(t *testing.T) {
	s := NewSaga("tx-3")
	require.NoError(t, s.Advance(StateDebitingSender))
	s.Fail()
	assert.Equal(t, StateFailed, s.State())

	// terminal states stay put
	require.Error(t, s.Advance(StateCreditingRecipient))
}

func TestSagaCompletedIsTerminal(t *testing.T) {
	s := NewSaga("tx-4")
	for _, next := range []State{
		StateDebitingSender, StateCreditingRecipient,
		StateCreditingCommission, StateRecording, StateCompleted,
	} {
		require.NoError(t, s.Advance(next))
	}
	s.Fail()
	assert.Equal(t, StateCompleted, s.State())
}
