package verify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/orchestrator-core/orchestrator/internal/contextmgr"
	"github.com/orchestrator-core/orchestrator/internal/store"
	"github.com/orchestrator-core/orchestrator/internal/types"
)

func newTestVerifier(t *testing.T) (*Verifier, *contextmgr.Manager) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "orchestrator.db"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })
	cm := contextmgr.New(st, types.DefaultCompressionConfig())
	return New(st, cm, 0), cm
}

func TestRegisterRejectsBlankTaskID(t *testing.T) {
	v, _ := newTestVerifier(t)
	if err := v.Register(Probe{TaskID: "  ", Kind: ProbeShell, Command: "echo ok"}); err == nil {
		t.Fatal("Register() error = nil, want error for blank task ID")
	}
}

func TestRegisterRejectsBlankShellCommand(t *testing.T) {
	v, _ := newTestVerifier(t)
	if err := v.Register(Probe{TaskID: "build", Kind: ProbeShell, Command: ""}); err == nil {
		t.Fatal("Register() error = nil, want error for blank shell command")
	}
}

func TestVerifyTaskShellProbeMatchesClaim(t *testing.T) {
	v, cm := newTestVerifier(t)
	ctxObj, err := cm.Create(types.ScopeSession, "migration", 8000)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	v.Register(Probe{TaskID: "build", Kind: ProbeShell, Command: "echo build-ok"})

	record, err := v.VerifyTask(context.Background(), "build", types.TaskCompleted, "agent-1", "sess-1", ctxObj.ID)
	if err != nil {
		t.Fatalf("VerifyTask() error = %v", err)
	}
	if record.VerifiedStatus != types.TaskCompleted {
		t.Fatalf("VerifiedStatus = %q, want %q", record.VerifiedStatus, types.TaskCompleted)
	}
	if record.Discrepancy {
		t.Fatal("Discrepancy = true, want false for a matching claim")
	}
}

func TestVerifyTaskDiscrepancyRecordsMistakeLesson(t *testing.T) {
	v, cm := newTestVerifier(t)
	ctxObj, err := cm.Create(types.ScopeSession, "migration", 8000)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	v.Register(Probe{TaskID: "deploy", Kind: ProbeShell, Command: "echo deploy FAILED; exit 1"})

	record, err := v.VerifyTask(context.Background(), "deploy", types.TaskCompleted, "agent-1", "sess-1", ctxObj.ID)
	if err != nil {
		t.Fatalf("VerifyTask() error = %v", err)
	}
	if !record.Discrepancy {
		t.Fatal("Discrepancy = false, want true for a claimed-completed/actually-failed task")
	}
	if record.VerifiedStatus != types.TaskFailed {
		t.Fatalf("VerifiedStatus = %q, want %q", record.VerifiedStatus, types.TaskFailed)
	}

	lessons, err := v.st.LessonsForTag("agent-1")
	if err != nil {
		t.Fatalf("LessonsForTag() error = %v", err)
	}
	if len(lessons) != 1 || lessons[0].Kind != types.LessonMistake {
		t.Fatalf("lessons = %+v, want exactly one mistake lesson", lessons)
	}

	events, err := cm.ReplayEvents(ctxObj.ID)
	if err != nil {
		t.Fatalf("ReplayEvents() error = %v", err)
	}
	found := false
	for _, e := range events {
		if e.Kind == types.EventKindError {
			if name, ok := e.Payload["event"].(string); ok && name == "verification-discrepancy" {
				found = true
			}
		}
	}
	if !found {
		t.Fatal("no verification-discrepancy event recorded on the context")
	}
}

func TestVerifyTaskHTTPProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	v, cm := newTestVerifier(t)
	ctxObj, err := cm.Create(types.ScopeSession, "health check", 8000)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	v.Register(Probe{TaskID: "health", Kind: ProbeHTTP, URL: srv.URL, WantStatus: http.StatusOK})

	record, err := v.VerifyTask(context.Background(), "health", types.TaskCompleted, "agent-1", "sess-1", ctxObj.ID)
	if err != nil {
		t.Fatalf("VerifyTask() error = %v", err)
	}
	if record.VerifiedStatus != types.TaskCompleted {
		t.Fatalf("VerifiedStatus = %q, want %q", record.VerifiedStatus, types.TaskCompleted)
	}
}

func TestVerifyTaskPredicateProbe(t *testing.T) {
	v, cm := newTestVerifier(t)
	ctxObj, err := cm.Create(types.ScopeSession, "predicate", 8000)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	v.Register(Probe{TaskID: "flag", Kind: ProbePredicate, Predicate: func(ctx context.Context) (bool, string, error) {
		return true, "flag set", nil
	}})

	record, err := v.VerifyTask(context.Background(), "flag", types.TaskCompleted, "agent-1", "sess-1", ctxObj.ID)
	if err != nil {
		t.Fatalf("VerifyTask() error = %v", err)
	}
	if record.VerifiedStatus != types.TaskCompleted {
		t.Fatalf("VerifiedStatus = %q, want %q", record.VerifiedStatus, types.TaskCompleted)
	}
}

func TestVerifyProgressDocumentBatchMode(t *testing.T) {
	v, cm := newTestVerifier(t)
	ctxObj, err := cm.Create(types.ScopeSession, "batch", 8000)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	v.Register(Probe{TaskID: "build", Kind: ProbeShell, Command: "echo ok"})
	v.Register(Probe{TaskID: "deploy", Kind: ProbeShell, Command: "echo fail; exit 1"})

	dir := t.TempDir()
	doc := filepath.Join(dir, "progress.md")
	content := "# Progress\n\n- [x] build: compile the binary\n- [ ] lint: not done yet\n- [x] deploy: ship it\n"
	if err := os.WriteFile(doc, []byte(content), 0o644); err != nil {
		t.Fatalf("os.WriteFile() error = %v", err)
	}

	report, err := v.VerifyProgressDocument(context.Background(), doc, "agent-1", "sess-1", ctxObj.ID)
	if err != nil {
		t.Fatalf("VerifyProgressDocument() error = %v", err)
	}
	if report.Total != 2 {
		t.Fatalf("Total = %d, want 2", report.Total)
	}
	if report.Verified != 1 {
		t.Fatalf("Verified = %d, want 1", report.Verified)
	}
	if len(report.Discrepant) != 1 {
		t.Fatalf("Discrepant = %v, want 1 entry", report.Discrepant)
	}
	if report.Accuracy() != 0.5 {
		t.Fatalf("Accuracy() = %v, want 0.5", report.Accuracy())
	}
}
