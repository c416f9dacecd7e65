package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionTable(t *testing.T) {
	legal := [][2]State{
		{StatePending, StateBlockSender},
		{StatePending, StateRequeue},
		{StatePending, StateValidate},
		{StateValidate, StateEnqueue},
		{StateValidate, StateBlock},
		{StateBlockSender, StateUnlock},
		{StateEnqueue, StateUnlock},
		{StateBlock, StateUnlock},
		{StateUnlock, StatePending},
		{StateRequeue, StatePending},
	}
	for _, tr := range legal {
		assert.True(t, canTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}

	illegal := [][2]State{
		{StatePending, StateEnqueue},
		{StatePending, StateUnlock},
		{StateValidate, StateUnlock},
		{StateBlockSender, StatePending},
		{StateRequeue, StateValidate},
		{StateEnqueue, StateBlock},
	}
	for _, tr := range illegal {
		assert.False(t, canTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}
}

func TestMachineRecordsTrail(t *testing.T) {
	m := newMachine()
	require.NoError(t, m.to(StateValidate))
	require.ErrorIs(t, m.to(StateUnlock), ErrIllegalTransition)
	require.NoError(t, m.to(StateBlock))
	assert.Equal(t, []State{StatePending, StateValidate, StateBlock}, m.trail)
	assert.Panics(t, func() { m.mustTo(StateEnqueue) })
}
