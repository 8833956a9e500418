// Package runtime is the Agent Runtime component of spec.md §4.3: the
// closed state machine common to every role, step-budget enforcement,
// per-step timing/logging/error-wrapping, and persistence of progress to
// the Store. Grounded on internal/types/types.go's AgentStatus enum and
// internal/memory/agent_control.go's heartbeat/status upsert idiom.
package runtime

import "github.com/orchestrator-core/orchestrator/internal/types"

// transitions is the closed state machine from spec.md §4.3. Transitions are
// pure functions of (current state, trigger); anything not listed here is
// rejected.
type trigger string

const (
	triggerStart       trigger = "start"
	triggerPause       trigger = "pause"
	triggerResume      trigger = "resume"
	triggerAwaitInput  trigger = "await-input"
	triggerComplete    trigger = "complete"
	triggerFail        trigger = "fail"
	triggerAbort       trigger = "abort"
)

var transitions = map[types.AgentState]map[trigger]types.AgentState{
	types.AgentIdle: {
		triggerStart: types.AgentRunning,
		triggerAbort: types.AgentFailed,
	},
	types.AgentRunning: {
		triggerPause:      types.AgentPaused,
		triggerAwaitInput: types.AgentAwaitingInput,
		triggerComplete:   types.AgentCompleted,
		triggerFail:       types.AgentFailed,
		triggerAbort:      types.AgentFailed,
	},
	types.AgentPaused: {
		triggerResume: types.AgentRunning,
		triggerAbort:  types.AgentFailed,
	},
	types.AgentAwaitingInput: {
		triggerResume: types.AgentRunning,
		triggerAbort:  types.AgentFailed,
	},
}

// applyTransition returns the next state for (current, trigger), or an error
// if the transition is undefined — "the runtime rejects undefined
// transitions" (spec.md §4.3).
func applyTransition(current types.AgentState, t trigger) (types.AgentState, error) {
	if current.Terminal() {
		return "", &types.OrchestratorError{
			Kind:    types.ErrStateViolation,
			Message: "cannot transition a terminal agent state",
		}
	}
	next, ok := transitions[current][t]
	if !ok {
		return "", &types.OrchestratorError{
			Kind:    types.ErrStateViolation,
			Message: "undefined state transition",
		}
	}
	return next, nil
}
