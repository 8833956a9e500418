package deploy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/orchestrator-core/orchestrator/internal/auth"
	"github.com/orchestrator-core/orchestrator/internal/contextmgr"
	orchruntime "github.com/orchestrator-core/orchestrator/internal/runtime"
	"github.com/orchestrator-core/orchestrator/internal/store"
	"github.com/orchestrator-core/orchestrator/internal/types"
)

type fakeRuntime struct {
	healthy bool
}

func (f *fakeRuntime) BuildImage(context.Context, string, string) error { return nil }
func (f *fakeRuntime) CreateNetwork(context.Context, string) (string, error) {
	return "net-1", nil
}
func (f *fakeRuntime) RunContainer(context.Context, string, string, string, []string) (string, error) {
	return "container-1", nil
}
func (f *fakeRuntime) HealthCheck(ctx context.Context, containerID string, timeout time.Duration) error {
	if !f.healthy {
		return context.DeadlineExceeded
	}
	return nil
}
func (f *fakeRuntime) StopContainer(context.Context, string) error { return nil }

func TestDeployRoleCompletesOnHealthyContainer(t *testing.T) {
	os.Setenv("ORCHESTRATOR_CONTAINER_RUNTIME_TOKEN", "tok")
	defer os.Unsetenv("ORCHESTRATOR_CONTAINER_RUNTIME_TOKEN")

	st, err := store.Open(filepath.Join(t.TempDir(), "orchestrator.db"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	defer st.Close()
	cm := contextmgr.New(st, types.DefaultCompressionConfig())
	rt := orchruntime.New(st, cm)

	ctx, err := cm.Create(types.ScopeSession, "deploy service", 8000)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	role := New(&fakeRuntime{healthy: true}, auth.New(nil), time.Second)
	steps := role.StepPlan()
	agent, err := rt.NewAgent(types.RoleDeploy, "session-1", ctx.ID, steps, map[string]interface{}{
		"context_dir": ".", "image_tag": "svc:latest", "network_name": "svc-net", "container_name": "svc-1",
	})
	if err != nil {
		t.Fatalf("NewAgent() error = %v", err)
	}
	if err := rt.RunSteps(context.Background(), agent, steps, agent.ConfigSnap); err != nil {
		t.Fatalf("RunSteps() error = %v", err)
	}
	if agent.State != types.AgentCompleted {
		t.Fatalf("State = %q, want %q", agent.State, types.AgentCompleted)
	}
}

func TestDeployRoleFailsWithTimeoutKindOnUnhealthyContainer(t *testing.T) {
	os.Setenv("ORCHESTRATOR_CONTAINER_RUNTIME_TOKEN", "tok")
	defer os.Unsetenv("ORCHESTRATOR_CONTAINER_RUNTIME_TOKEN")

	st, err := store.Open(filepath.Join(t.TempDir(), "orchestrator.db"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	defer st.Close()
	cm := contextmgr.New(st, types.DefaultCompressionConfig())
	rt := orchruntime.New(st, cm)

	ctx, err := cm.Create(types.ScopeSession, "deploy service", 8000)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	role := New(&fakeRuntime{healthy: false}, auth.New(nil), time.Second)
	steps := role.StepPlan()
	agent, err := rt.NewAgent(types.RoleDeploy, "session-1", ctx.ID, steps, map[string]interface{}{
		"context_dir": ".", "image_tag": "svc:latest", "container_name": "svc-1",
	})
	if err != nil {
		t.Fatalf("NewAgent() error = %v", err)
	}
	err = rt.RunSteps(context.Background(), agent, steps, agent.ConfigSnap)
	if err == nil {
		t.Fatal("RunSteps() succeeded, want failure on unhealthy container")
	}
	oe, ok := err.(*types.OrchestratorError)
	if !ok || oe.Kind != types.ErrExternalTimeout {
		t.Fatalf("error = %v, want kind %q", err, types.ErrExternalTimeout)
	}
}
