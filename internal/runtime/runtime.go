package runtime

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/orchestrator-core/orchestrator/internal/contextmgr"
	"github.com/orchestrator-core/orchestrator/internal/store"
	"github.com/orchestrator-core/orchestrator/internal/types"
)

// Step is a unit of work with a name, an optional guard precondition, and an
// action producing a result payload (spec.md §4.3).
type Step struct {
	Name   string
	Guard  func(*types.AgentInstance) bool
	Action func(ctx context.Context, instance *types.AgentInstance, in map[string]interface{}) (map[string]interface{}, error)
}

// Runtime wraps every step execution with a state check, a step-budget
// check, timing instrumentation, persistence, and compact error wrapping.
// No pattern/learning hook runs around a step: lessons are neither loaded
// nor recorded by the Runtime.
type Runtime struct {
	st  *store.Store
	cm  *contextmgr.Manager
}

// New builds a Runtime bound to the Store and Context Manager it persists
// through.
func New(st *store.Store, cm *contextmgr.Manager) *Runtime {
	return &Runtime{st: st, cm: cm}
}

// NewAgent constructs an agent instance for role under session/context,
// rejecting at construction if stepPlan exceeds the hard 8-step cap
// (spec.md §4.3).
func (r *Runtime) NewAgent(role types.RoleName, sessionID, contextID string, stepPlan []Step, config map[string]interface{}) (*types.AgentInstance, error) {
	if len(stepPlan) > types.MaxSteps {
		return nil, types.NewError(types.ErrStateViolation,
			fmt.Sprintf("role %s declares %d steps, exceeds hard cap of %d", role, len(stepPlan), types.MaxSteps))
	}
	now := time.Now()
	a := &types.AgentInstance{
		ID:         uuid.New().String(),
		Role:       role,
		SessionID:  sessionID,
		ContextID:  contextID,
		State:      types.AgentIdle,
		ConfigSnap: config,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := r.st.CreateAgent(a); err != nil {
		return nil, fmt.Errorf("failed to create agent instance: %w", err)
	}
	return a, nil
}

// RunSteps transitions the agent to running and executes stepPlan in order,
// the contract every role's executeWorkflow implements by calling this with
// its own declared steps. ctx cancellation is observed between steps; a
// cancelled agent transitions to failed with cause "cancelled" (spec.md §5).
func (r *Runtime) RunSteps(ctx context.Context, instance *types.AgentInstance, stepPlan []Step, in map[string]interface{}) error {
	if err := r.transition(instance, triggerStart); err != nil {
		return err
	}

	data := in
	for _, step := range stepPlan {
		select {
		case <-ctx.Done():
			instance.Error = types.Wrap(types.ErrCancelled, instance.CurrentStep, string(instance.Role), ctx.Err())
			instance.State = types.AgentFailed
			r.persist(instance)
			return instance.Error
		default:
		}

		if instance.State != types.AgentRunning {
			err := types.NewError(types.ErrStateViolation, "step execution attempted outside running state")
			instance.Error = err
			instance.State = types.AgentFailed
			r.persist(instance)
			return err
		}

		if instance.StepIndex+1 > types.MaxSteps {
			err := types.NewError(types.ErrStateViolation, "step budget exceeded")
			instance.Error = err
			instance.State = types.AgentFailed
			r.persist(instance)
			return err
		}

		if step.Guard != nil && !step.Guard(instance) {
			instance.StepIndex++
			continue
		}

		instance.CurrentStep = step.Name
		start := time.Now()
		out, err := step.Action(ctx, instance, data)
		elapsed := time.Since(start)

		if err != nil {
			wrapped := types.Wrap(classifyStepError(err), step.Name, string(instance.Role), err)
			instance.Error = wrapped
			instance.State = types.AgentFailed
			r.recordStepEvent(instance, step.Name, false, elapsed, out)
			r.persist(instance)
			return wrapped
		}

		data = mergeResult(data, out)
		instance.Result = data
		instance.StepIndex++
		instance.Progress = (instance.StepIndex * 100) / max(len(stepPlan), 1)
		r.recordStepEvent(instance, step.Name, true, elapsed, out)
		r.persist(instance)
	}

	instance.State = types.AgentCompleted
	instance.Progress = 100
	r.persist(instance)
	return nil
}

// classifyStepError maps an unwrapped action error to a taxonomy kind when
// the action did not already produce an *types.OrchestratorError.
func classifyStepError(err error) types.ErrorKind {
	if oe, ok := err.(*types.OrchestratorError); ok {
		return oe.Kind
	}
	return types.ErrStateViolation
}

func mergeResult(base, delta map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(delta))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range delta {
		out[k] = v
	}
	return out
}

func (r *Runtime) recordStepEvent(instance *types.AgentInstance, step string, ok bool, elapsed time.Duration, out map[string]interface{}) {
	kind := types.EventKindAgentStep
	importance := 4
	if !ok {
		kind = types.EventKindError
		importance = 7
	}
	payload := map[string]interface{}{
		"agent_id":    instance.ID,
		"role":        instance.Role,
		"step":        step,
		"ok":          ok,
		"elapsed_ms":  elapsed.Milliseconds(),
		"result":      out,
	}
	if err := r.cm.Append(instance.ContextID, kind, importance, payload); err != nil {
		log.Printf("[RUNTIME] WARNING: failed to append step event for agent %s: %v", instance.ID, err)
	}
}

func (r *Runtime) persist(instance *types.AgentInstance) {
	if err := r.st.UpdateAgent(instance); err != nil {
		log.Printf("[RUNTIME] WARNING: failed to persist agent %s: %v", instance.ID, err)
	}
}

func (r *Runtime) transition(instance *types.AgentInstance, t trigger) error {
	next, err := applyTransition(instance.State, t)
	if err != nil {
		instance.State = types.AgentFailed
		instance.Error = err.(*types.OrchestratorError)
		r.persist(instance)
		return err
	}
	instance.State = next
	r.persist(instance)
	return nil
}

// Pause, Resume, AwaitInput and Abort expose the remaining non-step-loop
// transitions for external callers (the Workflow Engine's cancellation
// propagation, a human-input hook, etc).
func (r *Runtime) Pause(instance *types.AgentInstance) error      { return r.transition(instance, triggerPause) }
func (r *Runtime) Resume(instance *types.AgentInstance) error     { return r.transition(instance, triggerResume) }
func (r *Runtime) AwaitInput(instance *types.AgentInstance) error { return r.transition(instance, triggerAwaitInput) }
func (r *Runtime) Abort(instance *types.AgentInstance) error      { return r.transition(instance, triggerAbort) }

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
