// Package workflow is the Workflow Engine of spec.md §4.5: resolves a
// declarative workflow type's role list to agent instances via a registry,
// executes them sequentially or via bounded-concurrency parallel fan-out,
// propagates a handoff context between roles, detects cross-agent
// conflicts, and applies a configured failure policy. Grounded on
// internal/captain/captain.go's ExecuteMission/ExecuteMissionsParallel
// (WaitGroup fan-out over a fixed-size result slice) and
// internal/supervisor/dispatcher.go's context.WithCancel-per-run,
// mutex-guarded in-flight map.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/orchestrator-core/orchestrator/internal/contextmgr"
	"github.com/orchestrator-core/orchestrator/internal/runtime"
	"github.com/orchestrator-core/orchestrator/internal/store"
	"github.com/orchestrator-core/orchestrator/internal/types"
)

// RoleFactory builds the step plan for one role invocation. Role packages
// (internal/roles/*) expose this shape via their own StepPlan() method;
// callers register a closure capturing the already-wired Role value.
type RoleFactory func() []runtime.Step

// Registry resolves a role name to its step-plan factory. The set of keys
// is closed at wiring time by main — an unregistered role name is a
// config-invalid error, not a panic.
type Registry map[types.RoleName]RoleFactory

// Conflict records one cross-agent collision detected during a parallel
// workflow run (spec.md §4.5 point 5).
type Conflict struct {
	Resource string   // e.g. "file:internal/api/handler.go"
	Holders  []string // branch/agent identities that collided
}

// Engine drives workflow execution.
type Engine struct {
	st       *store.Store
	cm       *contextmgr.Manager
	rt       *runtime.Runtime
	registry Registry
}

// New builds a workflow Engine.
func New(st *store.Store, cm *contextmgr.Manager, rt *runtime.Runtime, registry Registry) *Engine {
	return &Engine{st: st, cm: cm, rt: rt, registry: registry}
}

// Run executes def against contextID, returning the committed
// WorkflowSession. A sequential workflow runs def.Roles in declared order,
// passing each agent's handoff context into the next; a parallel workflow
// fans out across branches with concurrency bounded by def.MaxConcurrency
// (with no branches declared, the role list runs as one sequential branch).
func (e *Engine) Run(ctx context.Context, def types.WorkflowDefinition, contextID, sessionID string, input map[string]interface{}) (*types.WorkflowSession, error) {
	session := &types.WorkflowSession{
		ID:           uuid.New().String(),
		ContextID:    contextID,
		WorkflowType: def.Name,
		Status:       types.WorkflowRunning,
		StartedAt:    time.Now(),
	}
	if err := e.st.CreateWorkflowSession(session); err != nil {
		return nil, fmt.Errorf("failed to create workflow session: %w", err)
	}

	var err error
	if def.Mode == types.ExecutionParallel {
		err = e.runParallel(ctx, def, session, input)
	} else {
		err = e.runSequential(ctx, def, session, input)
	}

	now := time.Now()
	session.EndedAt = &now
	eventName := "workflow-completed"
	if err != nil {
		session.Status = types.WorkflowFailed
		eventName = "workflow-failed"
	} else {
		session.Status = types.WorkflowCompleted
	}
	if uerr := e.st.UpdateSession(session); uerr != nil {
		log.Printf("[WORKFLOW] WARNING: failed to persist terminal workflow state for %s: %v", session.ID, uerr)
	}
	_ = e.cm.Append(contextID, types.EventKindMilestone, 9, map[string]interface{}{
		"event": eventName, "workflow": def.Name, "session_id": session.ID,
	})
	return session, err
}

// runSequential executes def.Roles in order; role N begins only after role
// N-1 has persisted its terminal event (spec.md §4.5 ordering guarantee —
// satisfied here simply by not starting N until RunSteps for N-1 returns).
func (e *Engine) runSequential(ctx context.Context, def types.WorkflowDefinition, session *types.WorkflowSession, input map[string]interface{}) error {
	data := input
	for _, role := range def.Roles {
		agent, err := e.runRole(ctx, role, session, data)
		if err != nil {
			if handled := e.applyFailurePolicy(ctx, def, role, session, data, err); handled != nil {
				return handled
			}
			continue
		}
		session.AgentIDs = append(session.AgentIDs, agent.ID)
		data = handoff(agent, data)
	}
	return nil
}

// runParallel runs one branch per entry in input["branches"] ([]string), or
// if absent, treats the whole role list as a single branch of concurrency
// 1. Concurrency is bounded by def.MaxConcurrency (defaulting to the
// branch count). Ordering between branches is undefined; within a branch
// it is sequential, matching spec.md §4.5.
func (e *Engine) runParallel(ctx context.Context, def types.WorkflowDefinition, session *types.WorkflowSession, input map[string]interface{}) error {
	branches, _ := input["branches"].([]string)
	if len(branches) == 0 {
		branches = []string{""}
	}

	maxConc := def.MaxConcurrency
	if maxConc <= 0 {
		maxConc = len(branches)
	}
	sem := make(chan struct{}, maxConc)

	var mu sync.Mutex
	var wg sync.WaitGroup
	var firstErr error
	var conflicts []Conflict
	cancelCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, branch := range branches {
		wg.Add(1)
		sem <- struct{}{}
		go func(branch string) {
			defer wg.Done()
			defer func() { <-sem }()

			branchInput := cloneInput(input)
			branchInput["branch"] = branch

			data := branchInput
			var agentIDs []string
			for _, role := range def.Roles {
				select {
				case <-cancelCtx.Done():
					return
				default:
				}
				agent, err := e.runRole(cancelCtx, role, session, data)
				if err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					if def.OnFailure == types.PolicyStop {
						cancel()
					}
					return
				}
				agentIDs = append(agentIDs, agent.ID)
				data = handoff(agent, data)
			}

			if touched, ok := data["modified_files"].([]string); ok && branch != "" {
				conflict := e.detectConflict(branch, touched)
				if conflict != nil {
					mu.Lock()
					conflicts = append(conflicts, *conflict)
					if def.OnFailure == types.PolicyStop {
						if firstErr == nil {
							firstErr = types.NewError(types.ErrConflictDetected,
								fmt.Sprintf("branch %q conflicts with %v over %s", branch, conflict.Holders, conflict.Resource))
						}
						cancel()
					}
					mu.Unlock()
				}
			}

			mu.Lock()
			session.AgentIDs = append(session.AgentIDs, agentIDs...)
			mu.Unlock()
		}(branch)
	}
	wg.Wait()

	if len(conflicts) > 0 {
		for _, c := range conflicts {
			_ = e.cm.Append(session.ContextID, types.EventKindError, 6, map[string]interface{}{
				"event": "conflict-detected", "resource": c.Resource, "holders": c.Holders,
			})
		}
	}
	return firstErr
}

// detectConflict uses the Store's advisory resource locks as the conflict
// detector (spec.md §4.5 point 5: "queries the Store"): each touched
// resource is locked under the branch's name; a lock already held by a
// different branch is a same-file/schema/endpoint collision, and Holders
// names both the caller's branch and the branch already holding the lock.
func (e *Engine) detectConflict(branch string, touched []string) *Conflict {
	for _, path := range touched {
		resource := "file:" + path
		if err := e.st.AcquireResourceLock(resource, branch, 10*time.Minute); err != nil {
			var held *store.LockHeldError
			if errors.As(err, &held) {
				return &Conflict{Resource: resource, Holders: []string{held.Holder, branch}}
			}
			log.Printf("[WORKFLOW] WARNING: conflict check failed for %s: %v", resource, err)
		}
	}
	return nil
}

// runRole resolves role via the registry, constructs an agent instance, and
// runs its declared step plan to completion or failure.
func (e *Engine) runRole(ctx context.Context, role types.RoleName, session *types.WorkflowSession, input map[string]interface{}) (*types.AgentInstance, error) {
	factory, ok := e.registry[role]
	if !ok {
		return nil, types.NewError(types.ErrConfigInvalid, fmt.Sprintf("no registered role %q", role))
	}
	steps := factory()
	agent, err := e.rt.NewAgent(role, session.ID, session.ContextID, steps, input)
	if err != nil {
		return nil, err
	}
	if err := e.rt.RunSteps(ctx, agent, steps, input); err != nil {
		return agent, err
	}
	return agent, nil
}

// applyFailurePolicy implements spec.md §4.5 point 7. It returns a non-nil
// error only when the workflow should stop; "continue" and an exhausted
// "retry" both return nil after recording the failure as an event.
func (e *Engine) applyFailurePolicy(ctx context.Context, def types.WorkflowDefinition, role types.RoleName, session *types.WorkflowSession, data map[string]interface{}, roleErr error) error {
	_ = e.cm.Append(session.ContextID, types.EventKindError, 6, map[string]interface{}{
		"event": "role-failed", "role": role, "error": roleErr.Error(),
	})

	switch def.OnFailure {
	case types.PolicyStop:
		return roleErr
	case types.PolicyRetry:
		attempts := def.RetryAttempts
		if attempts <= 0 {
			attempts = 1
		}
		base := def.RetryBaseDelay
		if base <= 0 {
			base = 500 * time.Millisecond
		}
		for attempt := 1; attempt <= attempts; attempt++ {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoffWithJitter(base, attempt)):
			}
			if _, err := e.runRole(ctx, role, session, data); err == nil {
				return nil
			}
		}
		return nil // retries exhausted: record-and-continue, per spec.md §7's external-timeout recovery
	default: // PolicyContinue
		return nil
	}
}

// backoffWithJitter is exponential backoff (base * 2^(attempt-1)) with up
// to 50% jitter, matching spec.md §4.5's "bounded re-execution with
// exponential backoff and jitter".
func backoffWithJitter(base time.Duration, attempt int) time.Duration {
	exp := base << uint(attempt-1)
	jitter := time.Duration(rand.Int63n(int64(exp) / 2))
	return exp + jitter
}

// handoff extracts a compact, XML-tagged digest of agent's result and key
// events and merges it into the next role's input under handoff_context,
// alongside the raw result map so typed fields survive too (spec.md §4.5
// point 4).
func handoff(agent *types.AgentInstance, prior map[string]interface{}) map[string]interface{} {
	next := make(map[string]interface{}, len(agent.Result)+1)
	for k, v := range agent.Result {
		next[k] = v
	}
	next["handoff_context"] = fmt.Sprintf("<handoff role=%q agent=%q><result>%v</result></handoff>",
		agent.Role, agent.ID, agent.Result)
	if branch, ok := prior["branch"]; ok {
		next["branch"] = branch
	}
	return next
}

func cloneInput(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
