package code

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/orchestrator-core/orchestrator/internal/contextmgr"
	orchruntime "github.com/orchestrator-core/orchestrator/internal/runtime"
	"github.com/orchestrator-core/orchestrator/internal/store"
	"github.com/orchestrator-core/orchestrator/internal/types"
)

type fakeGenerator struct{}

func (fakeGenerator) Plan(context.Context, string) ([]string, error) {
	return []string{"add handler", "add test"}, nil
}
func (fakeGenerator) Generate(_ context.Context, task, framework string) (Artifact, error) {
	return Artifact{Path: task + ".go", Framework: framework, Content: "package main"}, nil
}

type fakeValidator struct{}

func (fakeValidator) Validate(context.Context, Artifact) error { return nil }

type fakeTester struct{ pass bool }

func (f fakeTester) Test(context.Context, []Artifact) (bool, string, error) {
	return f.pass, "ok", nil
}

func TestCodeRoleCompletesWhenTestsPass(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "orchestrator.db"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	defer st.Close()
	cm := contextmgr.New(st, types.DefaultCompressionConfig())
	rt := orchruntime.New(st, cm)

	ctx, err := cm.Create(types.ScopeSession, "ship feature", 8000)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	role := New(fakeGenerator{}, fakeValidator{}, fakeTester{pass: true})
	steps := role.StepPlan()
	agent, err := rt.NewAgent(types.RoleCode, "session-1", ctx.ID, steps, map[string]interface{}{"goal": "add login", "framework": "net/http"})
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

func TestCodeRoleFailsWhenTestsFail(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "orchestrator.db"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	defer st.Close()
	cm := contextmgr.New(st, types.DefaultCompressionConfig())
	rt := orchruntime.New(st, cm)

	ctx, err := cm.Create(types.ScopeSession, "ship feature", 8000)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	role := New(fakeGenerator{}, fakeValidator{}, fakeTester{pass: false})
	steps := role.StepPlan()
	agent, err := rt.NewAgent(types.RoleCode, "session-1", ctx.ID, steps, map[string]interface{}{"goal": "add login", "framework": "net/http"})
	if err != nil {
		t.Fatalf("NewAgent() error = %v", err)
	}
	if err := rt.RunSteps(context.Background(), agent, steps, agent.ConfigSnap); err == nil {
		t.Fatal("RunSteps() succeeded, want failure when tests fail")
	}
	if agent.State != types.AgentFailed {
		t.Fatalf("State = %q, want %q", agent.State, types.AgentFailed)
	}
}
