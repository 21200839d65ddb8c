package workflows

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCreditLifecycle(t *testing.T) {
	sm := NewStateMachine()

	assert.True(t, sm.CanTransition(CreditActive, CreditRetired))
	assert.False(t, sm.CanTransition(CreditRetired, CreditActive))
	assert.NoError(t, sm.Transition(CreditActive, CreditRetired))
	assert.Error(t, sm.Transition(CreditRetired, CreditRetired))
	assert.Empty(t, sm.GetAllowedTransitions(CreditRetired))
	assert.Empty(t, sm.GetAllowedTransitions("unknown"))
}
