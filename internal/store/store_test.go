package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/orchestrator-core/orchestrator/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "orchestrator.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestContext() *types.Context {
	now := time.Now()
	return &types.Context{
		ID:           uuid.New().String(),
		Scope:        types.ScopeSession,
		Goal:         "fix login bug",
		CreatedAt:    now,
		LastActiveAt: now,
		Compression:  types.CompressionActive,
		TokenBudget:  8000,
		NextSeq:      1,
	}
}

func TestCreateAndGetContext(t *testing.T) {
	s := newTestStore(t)
	ctx := newTestContext()

	if err := s.CreateContext(ctx); err != nil {
		t.Fatalf("CreateContext() error = %v", err)
	}

	got, err := s.GetContext(ctx.ID)
	if err != nil {
		t.Fatalf("GetContext() error = %v", err)
	}
	if got == nil {
		t.Fatal("GetContext() returned nil, want context")
	}
	if got.Goal != ctx.Goal || got.Scope != ctx.Scope {
		t.Fatalf("GetContext() = %+v, want goal=%q scope=%q", got, ctx.Goal, ctx.Scope)
	}
}

func TestAppendEventSequenceIsMonotonic(t *testing.T) {
	s := newTestStore(t)
	ctx := newTestContext()
	if err := s.CreateContext(ctx); err != nil {
		t.Fatalf("CreateContext() error = %v", err)
	}

	var lastSeq int64
	for i := 0; i < 12; i++ {
		e := &types.ContextEvent{
			ContextID:  ctx.ID,
			Timestamp:  time.Now(),
			Kind:       types.EventKindMessage,
			Importance: 3,
			Payload:    map[string]interface{}{"i": i},
		}
		if err := s.AppendEvent(e); err != nil {
			t.Fatalf("AppendEvent() error = %v", err)
		}
		if e.Seq <= lastSeq {
			t.Fatalf("event %d: seq %d not strictly greater than previous %d", i, e.Seq, lastSeq)
		}
		lastSeq = e.Seq
	}

	events, err := s.QueryEvents(ctx.ID, EventQuery{})
	if err != nil {
		t.Fatalf("QueryEvents() error = %v", err)
	}
	if len(events) != 12 {
		t.Fatalf("QueryEvents() returned %d events, want 12", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].Seq <= events[i-1].Seq {
			t.Fatalf("events not strictly increasing at index %d", i)
		}
	}
}

func TestAcquireResourceLockRejectsConcurrentHolder(t *testing.T) {
	s := newTestStore(t)

	if err := s.AcquireResourceLock("branch:feature-x", "workflow-1", time.Minute); err != nil {
		t.Fatalf("AcquireResourceLock() error = %v", err)
	}

	err := s.AcquireResourceLock("branch:feature-x", "workflow-2", time.Minute)
	var held *LockHeldError
	if !errors.As(err, &held) {
		t.Fatalf("AcquireResourceLock() by second holder error = %v, want *LockHeldError", err)
	}
	if held.Holder != "workflow-1" {
		t.Fatalf("LockHeldError.Holder = %q, want %q", held.Holder, "workflow-1")
	}

	if err := s.ReleaseResourceLock("branch:feature-x", "workflow-1"); err != nil {
		t.Fatalf("ReleaseResourceLock() error = %v", err)
	}

	if err := s.AcquireResourceLock("branch:feature-x", "workflow-2", time.Minute); err != nil {
		t.Fatalf("AcquireResourceLock() after release error = %v", err)
	}
}

func TestAcquireResourceLockReclaimsExpired(t *testing.T) {
	s := newTestStore(t)

	if err := s.AcquireResourceLock("branch:feature-y", "workflow-1", -time.Second); err != nil {
		t.Fatalf("AcquireResourceLock() error = %v", err)
	}

	if err := s.AcquireResourceLock("branch:feature-y", "workflow-2", time.Minute); err != nil {
		t.Fatalf("AcquireResourceLock() over expired lock error = %v", err)
	}
}

func TestVerificationDiscrepancyRecordedOnce(t *testing.T) {
	s := newTestStore(t)
	rec := &types.VerificationRecord{
		ID:             uuid.New().String(),
		TaskID:         "task-X",
		ClaimedStatus:  types.TaskCompleted,
		VerifiedStatus: types.TaskFailed,
		ProbeCommand:   "exit 1",
		Discrepancy:    true,
		CreatedAt:      time.Now(),
	}
	if err := s.RecordVerification(rec); err != nil {
		t.Fatalf("RecordVerification() error = %v", err)
	}

	recs, err := s.VerificationsForTask("task-X")
	if err != nil {
		t.Fatalf("VerificationsForTask() error = %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("VerificationsForTask() returned %d records, want 1", len(recs))
	}
	if !recs[0].Discrepancy {
		t.Fatalf("VerificationsForTask()[0].Discrepancy = false, want true")
	}
}

func TestOpenRejectsSecondWriter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orchestrator.db")

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open() error = %v", err)
	}
	defer s1.Close()

	if _, err := Open(path); err == nil {
		t.Fatal("second Open() succeeded, want single-writer rejection")
	}
}
