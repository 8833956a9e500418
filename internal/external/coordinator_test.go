package external

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/orchestrator-core/orchestrator/internal/auth"
	"github.com/orchestrator-core/orchestrator/internal/contextmgr"
	"github.com/orchestrator-core/orchestrator/internal/store"
	"github.com/orchestrator-core/orchestrator/internal/types"
)

type fakeHost struct {
	branches []string
	failPR   bool
}

func (f *fakeHost) Identity(ctx context.Context, token string) (string, error) { return "bot", nil }
func (f *fakeHost) CreateBranch(ctx context.Context, token, owner, repo, branch, baseSHA string) error {
	f.branches = append(f.branches, branch)
	return nil
}
func (f *fakeHost) CreatePullRequest(ctx context.Context, token, owner, repo, branch, base, title, body string, labels []string) (string, string, error) {
	if f.failPR {
		return "", "", types.NewError(types.ErrExternalRejected, "pr rejected")
	}
	return "pr-1", "https://example.com/pr/1", nil
}
func (f *fakeHost) Comment(ctx context.Context, token, owner, repo, targetID, body string) error {
	return nil
}
func (f *fakeHost) StatusCheck(ctx context.Context, token, owner, repo, ref string) (string, int, error) {
	return "success", 5000, nil
}

type fakePlatform struct {
	sent []string
}

func (f *fakePlatform) ListChannels(ctx context.Context, token string) ([]string, error) {
	return []string{"general"}, nil
}
func (f *fakePlatform) Send(ctx context.Context, token, channel, text string, blocks map[string]interface{}) (string, error) {
	f.sent = append(f.sent, text)
	return "msg-1", nil
}
func (f *fakePlatform) SendThreaded(ctx context.Context, token, channel, threadID, text string) error {
	f.sent = append(f.sent, text)
	return nil
}

func newTestCoordinator(t *testing.T, cfg types.ExternalCoordinatorConfig, sc *fakeHost, chat *fakePlatform) (*Coordinator, *contextmgr.Manager) {
	t.Helper()
	t.Setenv("ORCHESTRATOR_SOURCE_CONTROL_TOKEN", "sc-token")
	t.Setenv("ORCHESTRATOR_CHAT_TOKEN", "chat-token")

	st, err := store.Open(filepath.Join(t.TempDir(), "orchestrator.db"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cm := contextmgr.New(st, types.DefaultCompressionConfig())
	creds := auth.New(nil)
	return New(cfg, sc, chat, creds, st, cm), cm
}

func TestCoordinatorOnContextCreatedRecordsBranchAndMessage(t *testing.T) {
	sc := &fakeHost{}
	chat := &fakePlatform{}
	cfg := types.ExternalCoordinatorConfig{
		EnableSourceControl: true,
		EnableChat:          true,
		RepoOwner:           "acme",
		RepoName:            "widgets",
		DefaultChannel:      "general",
	}
	coord, cm := newTestCoordinator(t, cfg, sc, chat)

	ctxObj, err := cm.Create(types.ScopeSession, "ship widgets", 8000)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	coord.OnContextCreated(context.Background(), ctxObj)

	if len(sc.branches) != 1 {
		t.Fatalf("branches created = %v, want 1", sc.branches)
	}
	if len(chat.sent) != 1 {
		t.Fatalf("messages sent = %v, want 1", chat.sent)
	}

	resources, err := cm2Resources(coord, ctxObj.ID)
	if err != nil {
		t.Fatalf("ExternalResourcesForContext() error = %v", err)
	}
	if len(resources) != 2 {
		t.Fatalf("recorded resources = %d, want 2", len(resources))
	}
}

func TestCoordinatorFailureNeverBlocksAndRecordsErrorEvent(t *testing.T) {
	sc := &fakeHost{failPR: true}
	cfg := types.ExternalCoordinatorConfig{EnableSourceControl: true, RepoOwner: "acme", RepoName: "widgets"}
	coord, cm := newTestCoordinator(t, cfg, sc, nil)

	ctxObj, err := cm.Create(types.ScopeProject, "ship widgets", 8000)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// OnContextCompleted returns nothing — it must not panic or block even
	// though CreatePullRequest always fails for this fake host.
	coord.OnContextCompleted(context.Background(), ctxObj, "done")

	events, err := cm.ReplayEvents(ctxObj.ID)
	if err != nil {
		t.Fatalf("ReplayEvents() error = %v", err)
	}
	found := false
	for _, e := range events {
		if e.Kind == types.EventKindError {
			if name, ok := e.Payload["event"].(string); ok && name == "external-fanout-failed" {
				found = true
			}
		}
	}
	if !found {
		t.Fatal("no external-fanout-failed error event recorded")
	}
}

func cm2Resources(coord *Coordinator, contextID string) ([]*types.ExternalResource, error) {
	return coord.st.ExternalResourcesForContext(contextID)
}
