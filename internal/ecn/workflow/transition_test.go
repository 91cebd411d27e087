package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitfantasy/nimo-ecn/internal/shared/apperr"
)

func TestTransitionHappyPath(t *testing.T) {
	steps := []struct {
		action Action
		want   Status
	}{
		{ActionSubmit, StatusSubmitted},
		{ActionBeginEvaluation, StatusEvaluating},
		{ActionCompleteEvaluation, StatusEvaluated},
		{ActionApprove, StatusApproved},
		{ActionStartExecution, StatusExecuting},
		{ActionVerifyPass, StatusCompleted},
		{ActionClose, StatusClosed},
	}

	current := StatusDraft
	for _, s := range steps {
		next, err := Transition(current, s.action)
		require.NoError(t, err, "action %s from %s", s.action, current)
		assert.Equal(t, s.want, next)
		current = next
	}
}

func TestTransitionGuards(t *testing.T) {
	tests := []struct {
		name    string
		current Status
		action  Action
	}{
		{"submit twice", StatusSubmitted, ActionSubmit},
		{"approve before evaluation", StatusEvaluating, ActionApprove},
		{"start execution before approval", StatusEvaluated, ActionStartExecution},
		{"verify outside execution", StatusApproved, ActionVerifyPass},
		{"close unfinished", StatusExecuting, ActionClose},
		{"cancel approved", StatusApproved, ActionCancel},
		{"cancel executing", StatusExecuting, ActionCancel},
		{"cancel completed", StatusCompleted, ActionCancel},
		{"cancel cancelled", StatusCancelled, ActionCancel},
		{"rework outside verification", StatusExecuting, ActionRework},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Transition(tt.current, tt.action)
			require.Error(t, err)
			assert.True(t, apperr.IsPrecondition(err))
		})
	}
}

func TestTransitionGuardNamesRequiredState(t *testing.T) {
	_, err := Transition(StatusDraft, ActionClose)
	require.Error(t, err)
	assert.Contains(t, err.Error(), string(StatusCompleted))
}

func TestCancelAllowedStates(t *testing.T) {
	for _, s := range []Status{StatusDraft, StatusSubmitted, StatusEvaluating, StatusEvaluated, StatusRejected, StatusPendingVerify, StatusClosed} {
		next, err := Transition(s, ActionCancel)
		require.NoError(t, err, "cancel from %s", s)
		assert.Equal(t, StatusCancelled, next)
	}
}

func TestVerifyFailAndRework(t *testing.T) {
	next, err := Transition(StatusExecuting, ActionVerifyFail)
	require.NoError(t, err)
	assert.Equal(t, StatusPendingVerify, next)

	next, err = Transition(next, ActionRework)
	require.NoError(t, err)
	assert.Equal(t, StatusExecuting, next)
}

func TestUnknownStatusAndAction(t *testing.T) {
	_, err := Transition(Status("bogus"), ActionSubmit)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, err = Transition(StatusDraft, Action("teleport"))
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, err = Transition(StatusInApproval, ActionApprove)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

func TestEffectiveAndStep(t *testing.T) {
	assert.Equal(t, StatusInApproval, Effective(StatusEvaluated, 2))
	assert.Equal(t, StatusEvaluated, Effective(StatusEvaluated, 0))
	assert.Equal(t, StatusExecuting, Effective(StatusExecuting, 1))

	step, ok := StepFor(StatusApproved)
	assert.True(t, ok)
	assert.Equal(t, StepExecution, step)

	_, ok = StepFor(StatusRejected)
	assert.False(t, ok)
}

func TestAllowed(t *testing.T) {
	assert.ElementsMatch(t, []Action{ActionSubmit, ActionCancel}, Allowed(StatusDraft))
	assert.ElementsMatch(t, []Action{ActionClose}, Allowed(StatusCompleted))
	assert.Empty(t, Allowed(StatusCancelled))
}
