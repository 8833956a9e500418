package api

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/orchestrator-core/orchestrator/internal/contextmgr"
	"github.com/orchestrator-core/orchestrator/internal/events"
	"github.com/orchestrator-core/orchestrator/internal/runtime"
	"github.com/orchestrator-core/orchestrator/internal/store"
	"github.com/orchestrator-core/orchestrator/internal/types"
	"github.com/orchestrator-core/orchestrator/internal/verify"
	"github.com/orchestrator-core/orchestrator/internal/workflow"
)

// fakeIdentityWriter stands in for internal/roles/identity.Role, writing a
// minimal identity document into a temp directory so this package's tests
// can exercise the HTTP path without the real project-identity role.
type fakeIdentityWriter struct{ dir string }

func (f *fakeIdentityWriter) WriteIdentity(ctxObj *types.Context) (string, string, error) {
	path := filepath.Join(f.dir, ctxObj.ID+".md")
	content := fmt.Sprintf("# %s\n", ctxObj.Goal)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", "", err
	}
	sum := sha256.Sum256([]byte(content))
	return path, fmt.Sprintf("%x", sum), nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "orchestrator.db"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cm := contextmgr.New(st, types.DefaultCompressionConfig())
	bus := events.NewBus()
	cm.SetBus(bus)
	cm.SetIdentityWriter(&fakeIdentityWriter{dir: t.TempDir()})
	rt := runtime.New(st, cm)
	wf := workflow.New(st, cm, rt, workflow.Registry{})
	verifier := verify.New(st, cm, 0)

	return New("127.0.0.1:0", st, cm, bus, wf, verifier, nil)
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestHandleStartAndList(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(startRequest{Scope: types.ScopeSession, Goal: "ship widgets", Budget: 8000})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/contexts", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d, body=%s", rec.Code, http.StatusCreated, rec.Body.String())
	}

	var created types.Context
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if created.Goal != "ship widgets" {
		t.Fatalf("Goal = %q, want %q", created.Goal, "ship widgets")
	}

	listReq := httptest.NewRequest(http.MethodGet, "/api/v1/contexts", nil)
	listRec := httptest.NewRecorder()
	s.router.ServeHTTP(listRec, listReq)
	if listRec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", listRec.Code, http.StatusOK)
	}
	var contexts []*types.Context
	if err := json.Unmarshal(listRec.Body.Bytes(), &contexts); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(contexts) != 1 {
		t.Fatalf("contexts = %d, want 1", len(contexts))
	}
}

// TestHandleStartWritesIdentityDocumentForProjectScope covers spec.md §4.2's
// "writes a project-identity document to persistent storage iff
// scope=project" through the documented HTTP API, not just the Context
// Manager directly.
func TestHandleStartWritesIdentityDocumentForProjectScope(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(startRequest{Scope: types.ScopeProject, Goal: "ship widgets", Budget: 32000})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/contexts", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d, body=%s", rec.Code, http.StatusCreated, rec.Body.String())
	}

	var created types.Context
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	doc, err := s.st.GetIdentityDocument(created.ID)
	if err != nil {
		t.Fatalf("GetIdentityDocument() error = %v", err)
	}
	if doc == nil {
		t.Fatal("GetIdentityDocument() = nil, want an indexed entry for a project context created via the API")
	}
	if _, err := os.Stat(doc.Path); err != nil {
		t.Fatalf("identity document not written to disk: %v", err)
	}
}

func TestHandleRunWorkflowUnknownName(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/workflows/does-not-exist/run", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}
