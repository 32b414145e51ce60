package lifecycle

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allStates = []State{StateNone, StateInitial, StateStarted, StateEnabled, StateDisabled, StateClosed}

func TestValidateTable(t *testing.T) {
	legal := map[[2]State]bool{
		{StateNone, StateInitial}:      true,
		{StateInitial, StateStarted}:   true,
		{StateInitial, StateDisabled}:  true,
		{StateInitial, StateClosed}:    true,
		{StateStarted, StateEnabled}:   true,
		{StateStarted, StateDisabled}:  true,
		{StateStarted, StateClosed}:    true,
		{StateEnabled, StateEnabled}:   true,
		{StateEnabled, StateDisabled}:  true,
		{StateEnabled, StateClosed}:    true,
		{StateDisabled, StateEnabled}:  true,
		{StateDisabled, StateDisabled}: true,
		{StateDisabled, StateClosed}:   true,
	}

	for _, from := range allStates {
		for _, to := range allStates {
			err := Validate(from, to)
			if legal[[2]State{from, to}] {
				assert.NoError(t, err, "%s -> %s", from, to)
				continue
			}
			var ise *IllegalStateError
			require.Error(t, err, "%s -> %s", from, to)
			assert.True(t, errors.As(err, &ise))
			assert.Equal(t, from, ise.From)
			assert.Equal(t, to, ise.To)
		}
	}
}

// TestIllegalTransitionLeavesStateUnchanged walks every state and tries
// every illegal target from it.
func TestIllegalTransitionLeavesStateUnchanged(t *testing.T) {
	paths := map[State][]State{
		StateNone:     nil,
		StateInitial:  {StateInitial},
		StateStarted:  {StateInitial, StateStarted},
		StateEnabled:  {StateInitial, StateStarted, StateEnabled},
		StateDisabled: {StateInitial, StateDisabled},
		StateClosed:   {StateInitial, StateClosed},
	}

	for target, path := range paths {
		for _, next := range allStates {
			if Validate(target, next) == nil {
				continue
			}
			t.Run(target.String()+"->"+next.String(), func(t *testing.T) {
				f := New("test")
				for _, s := range path {
					require.NoError(t, f.Transition(s))
				}
				require.Equal(t, target, f.State())

				err := f.Transition(next)
				var ise *IllegalStateError
				require.True(t, errors.As(err, &ise))
				assert.Equal(t, "test", ise.Component)
				assert.Equal(t, target, f.State())
			})
		}
	}
}

func TestFullLifecycle(t *testing.T) {
	f := New("roam")
	require.NoError(t, f.Initial())
	require.NoError(t, f.Start())
	require.NoError(t, f.Enable())
	require.NoError(t, f.Disable())
	require.NoError(t, f.Enable())
	require.NoError(t, f.Enable(), "self-loop on enabled is legal")
	require.NoError(t, f.Close())
	assert.True(t, f.Is(StateClosed))

	assert.Error(t, f.Enable())
	assert.Error(t, f.Close())
}

func TestEnableBeforeStartFails(t *testing.T) {
	f := New("avoid")
	require.NoError(t, f.Initial())
	assert.Error(t, f.Enable())
	assert.Equal(t, StateInitial, f.State())
}

func TestSuspect(t *testing.T) {
	assert.True(t, Suspect(StateEnabled, StateEnabled))
	assert.True(t, Suspect(StateDisabled, StateDisabled))
	assert.False(t, Suspect(StateStarted, StateEnabled))
	assert.False(t, Suspect(StateInitial, StateInitial))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "enabled", StateEnabled.String())
	assert.Equal(t, "unknown", State(42).String())
}
