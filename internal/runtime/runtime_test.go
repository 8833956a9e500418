package runtime

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/orchestrator-core/orchestrator/internal/contextmgr"
	"github.com/orchestrator-core/orchestrator/internal/store"
	"github.com/orchestrator-core/orchestrator/internal/types"
)

func newTestRuntime(t *testing.T) (*Runtime, *contextmgr.Manager) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "orchestrator.db"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })
	cm := contextmgr.New(st, types.DefaultCompressionConfig())
	return New(st, cm), cm
}

func TestNewAgentRejectsStepPlanOverCap(t *testing.T) {
	rt, cm := newTestRuntime(t)
	ctx, err := cm.Create(types.ScopeSession, "test", 8000)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	steps := make([]Step, types.MaxSteps+1)
	for i := range steps {
		steps[i] = Step{Name: "step", Action: func(context.Context, *types.AgentInstance, map[string]interface{}) (map[string]interface{}, error) {
			return nil, nil
		}}
	}

	if _, err := rt.NewAgent(types.RoleCode, "session-1", ctx.ID, steps, nil); err == nil {
		t.Fatal("NewAgent() with 9 steps succeeded, want rejection at construction")
	}
}

func TestRunStepsCompletesInOrder(t *testing.T) {
	rt, cm := newTestRuntime(t)
	ctx, err := cm.Create(types.ScopeSession, "test", 8000)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	var order []string
	steps := []Step{
		{Name: "plan", Action: func(_ context.Context, _ *types.AgentInstance, in map[string]interface{}) (map[string]interface{}, error) {
			order = append(order, "plan")
			return map[string]interface{}{"planned": true}, nil
		}},
		{Name: "generate", Action: func(_ context.Context, _ *types.AgentInstance, in map[string]interface{}) (map[string]interface{}, error) {
			order = append(order, "generate")
			return map[string]interface{}{"generated": true}, nil
		}},
	}

	agent, err := rt.NewAgent(types.RoleCode, "session-1", ctx.ID, steps, nil)
	if err != nil {
		t.Fatalf("NewAgent() error = %v", err)
	}

	if err := rt.RunSteps(context.Background(), agent, steps, nil); err != nil {
		t.Fatalf("RunSteps() error = %v", err)
	}

	if agent.State != types.AgentCompleted {
		t.Fatalf("State = %q, want %q", agent.State, types.AgentCompleted)
	}
	if agent.StepIndex != len(steps) {
		t.Fatalf("StepIndex = %d, want %d", agent.StepIndex, len(steps))
	}
	want := []string{"plan", "generate"}
	if len(order) != len(want) || order[0] != want[0] || order[1] != want[1] {
		t.Fatalf("execution order = %v, want %v", order, want)
	}
}

func TestRunStepsCancellationFailsWithCancelledCause(t *testing.T) {
	rt, cm := newTestRuntime(t)
	ctx, err := cm.Create(types.ScopeSession, "test", 8000)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	cancel()

	steps := []Step{
		{Name: "plan", Action: func(context.Context, *types.AgentInstance, map[string]interface{}) (map[string]interface{}, error) {
			return nil, nil
		}},
	}
	agent, err := rt.NewAgent(types.RoleCode, "session-1", ctx.ID, steps, nil)
	if err != nil {
		t.Fatalf("NewAgent() error = %v", err)
	}

	err = rt.RunSteps(cancelCtx, agent, steps, nil)
	if err == nil {
		t.Fatal("RunSteps() with cancelled context succeeded, want error")
	}
	oe, ok := err.(*types.OrchestratorError)
	if !ok || oe.Kind != types.ErrCancelled {
		t.Fatalf("error = %v, want kind %q", err, types.ErrCancelled)
	}
	if agent.State != types.AgentFailed {
		t.Fatalf("State = %q, want %q", agent.State, types.AgentFailed)
	}
}
