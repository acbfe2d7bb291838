package environment

import "fmt"

// State is a node of the environment lifecycle state machine.
type State string

const (
	StateAbsent       State = "absent"
	StateBuilding     State = "building"
	StateStarting     State = "starting"
	StateReady        State = "ready"
	StateProvisioning State = "provisioning"
	StateRunning      State = "running"
	StateStopped      State = "stopped"
	StateFailed       State = "failed"
)

// validTransitions defines the allowed single-hop transitions. Destroy
// is not listed: it is valid from any state and returns the record to
// Absent.
var validTransitions = map[State][]State{
	StateAbsent:   {StateBuilding},
	StateBuilding: {StateStarting, StateFailed},
	StateStarting: {
		StateReady,   // fresh create, provisioning follows
		StateRunning, // restart of an existing environment
		StateFailed,
	},
	StateReady: {
		StateProvisioning,
		StateRunning, // nothing to provision
	},
	StateProvisioning: {
		StateRunning, // provisioning outcome is reported separately
		StateFailed,  // the container itself died mid-provision
	},
	StateRunning: {
		StateStopped,
		StateProvisioning, // provision re-run
	},
	StateStopped: {StateStarting},
	StateFailed:  {},
}

// CanTransitionTo checks whether moving from s to target is a valid
// single hop.
func (s State) CanTransitionTo(target State) error {
	allowed, ok := validTransitions[s]
	if !ok {
		return fmt.Errorf("unknown lifecycle state %q", s)
	}
	for _, valid := range allowed {
		if valid == target {
			return nil
		}
	}
	return fmt.Errorf("cannot transition from %s to %s", s, target)
}

// IsTerminal reports whether the state ends a lifecycle: Absent after
// destroy, Failed after exhausted rollback.
func (s State) IsTerminal() bool {
	return s == StateAbsent || s == StateFailed
}

func (s State) String() string {
	return string(s)
}
