package sourcecontrol

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/orchestrator-core/orchestrator/internal/auth"
	"github.com/orchestrator-core/orchestrator/internal/contextmgr"
	"github.com/orchestrator-core/orchestrator/internal/runtime"
	"github.com/orchestrator-core/orchestrator/internal/store"
	"github.com/orchestrator-core/orchestrator/internal/types"
)

type fakeHost struct {
	branchCreated string
}

func (f *fakeHost) Identity(context.Context, string) (string, error) { return "bot-user", nil }
func (f *fakeHost) CreateBranch(_ context.Context, _, _, _, branch, _ string) error {
	f.branchCreated = branch
	return nil
}
func (f *fakeHost) CreatePullRequest(context.Context, string, string, string, string, string, string, string, []string) (string, string, error) {
	return "pr-1", "https://example.test/pr/1", nil
}
func (f *fakeHost) Comment(context.Context, string, string, string, string, string) error { return nil }
func (f *fakeHost) StatusCheck(context.Context, string, string, string, string) (string, int, error) {
	return "success", 4999, nil
}

func TestSourceControlCreateBranchCompletesSteps(t *testing.T) {
	os.Setenv("ORCHESTRATOR_SOURCE_CONTROL_TOKEN", "tok")
	defer os.Unsetenv("ORCHESTRATOR_SOURCE_CONTROL_TOKEN")

	st, err := store.Open(filepath.Join(t.TempDir(), "orchestrator.db"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	defer st.Close()
	cm := contextmgr.New(st, types.DefaultCompressionConfig())
	rt := runtime.New(st, cm)

	ctx, err := cm.Create(types.ScopeSession, "open a branch", 8000)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	host := &fakeHost{}
	role := New(host, auth.New(nil))
	steps := role.StepPlan()

	agent, err := rt.NewAgent(types.RoleSourceControl, "session-1", ctx.ID, steps, map[string]interface{}{
		"owner": "acme", "repository": "widgets", "action": string(ActionCreateBranch), "branch": "feature/x", "base_sha": "deadbeef",
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
	if host.branchCreated != "feature/x" {
		t.Fatalf("branch created = %q, want %q", host.branchCreated, "feature/x")
	}
}
