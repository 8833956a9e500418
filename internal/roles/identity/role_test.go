package identity

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/orchestrator-core/orchestrator/internal/contextmgr"
	orchruntime "github.com/orchestrator-core/orchestrator/internal/runtime"
	"github.com/orchestrator-core/orchestrator/internal/store"
	"github.com/orchestrator-core/orchestrator/internal/types"
)

func TestProjectIdentityRoleWritesDocument(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "orchestrator.db"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	defer st.Close()
	cm := contextmgr.New(st, types.DefaultCompressionConfig())
	rt := orchruntime.New(st, cm)

	ctx, err := cm.Create(types.ScopeProject, "ship widgets", 32000)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	projectsDir := t.TempDir()
	role := New(projectsDir)
	steps := role.StepPlan()

	agent, err := rt.NewAgent(types.RoleProjectIdentity, "session-1", ctx.ID, steps, map[string]interface{}{
		"project_name": "Widgets API",
		"session_id":   "session-1",
		"document": Document{
			Goal: "Ship the widgets API", Vision: "reliable widget delivery",
			Context: "greenfield service", Requirements: []string{"REST endpoints"},
			SuccessCriteria: []string{"p99 < 200ms"}, SessionID: "session-1", ContextID: ctx.ID,
		},
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

	path := filepath.Join(projectsDir, "Widgets-API", "IDENTITY.md")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("identity document not written at %s: %v", path, err)
	}
}

// TestWriteIdentitySatisfiesContextmgrContract exercises the method the
// Context Manager calls directly (outside the step-plan machinery) to
// satisfy its IdentityWriter contract.
func TestWriteIdentitySatisfiesContextmgrContract(t *testing.T) {
	role := New(t.TempDir())
	ctxObj := &types.Context{ID: "ctx-123", Goal: "ship widgets", Scope: types.ScopeProject}

	path, hash, err := role.WriteIdentity(ctxObj)
	if err != nil {
		t.Fatalf("WriteIdentity() error = %v", err)
	}
	if hash == "" {
		t.Fatal("WriteIdentity() returned an empty hash")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("identity document not written at %s: %v", path, err)
	}
	if !strings.Contains(string(content), ctxObj.Goal) {
		t.Fatalf("identity document content = %q, want it to mention goal %q", content, ctxObj.Goal)
	}

	// Calling again with a different goal changes both path contents and hash.
	ctxObj.Goal = "ship widgets v2"
	_, hash2, err := role.WriteIdentity(ctxObj)
	if err != nil {
		t.Fatalf("second WriteIdentity() error = %v", err)
	}
	if hash2 == hash {
		t.Fatal("hash unchanged after document content changed")
	}
}
