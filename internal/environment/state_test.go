package environment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycleAllowsHappyPath(t *testing.T) {
	path := []State{StateAbsent, StateBuilding, StateStarting, StateReady, StateProvisioning, StateRunning, StateStopped, StateStarting, StateRunning}
	for i := 0; i < len(path)-1; i++ {
		require.NoError(t, path[i].CanTransitionTo(path[i+1]),
			"%s -> %s should be allowed", path[i], path[i+1])
	}
}

func TestLifecycleRejectsSkips(t *testing.T) {
	cases := []struct {
		from, to State
	}{
		{StateAbsent, StateRunning},
		{StateBuilding, StateReady},
		{StateStopped, StateRunning},
		{StateFailed, StateBuilding},
		{StateRunning, StateReady},
	}
	for _, tc := range cases {
		assert.Error(t, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestLifecycleRejectsUnknownState(t *testing.T) {
	assert.Error(t, State("bogus").CanTransitionTo(StateRunning))
}

func TestTerminalStates(t *testing.T) {
	assert.True(t, StateAbsent.IsTerminal())
	assert.True(t, StateFailed.IsTerminal())
	assert.False(t, StateRunning.IsTerminal())
	assert.False(t, StateStopped.IsTerminal())
}
