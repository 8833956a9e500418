// Package verify is the Verifier component of spec.md §4.7: maps task
// identifiers to verification probes (shell commands, HTTP health checks,
// or internal predicate functions), executes a probe under a hard timeout,
// interprets its result against a claimed status, and auto-records a
// `mistake` Lesson on discrepancy. Grounded on
// internal/supervisor/decision.go's RequiresEscalation — the same
// interpret-a-signal/decide-an-outcome/record-it shape, here applied to
// probe output instead of recon findings.
package verify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/orchestrator-core/orchestrator/internal/contextmgr"
	"github.com/orchestrator-core/orchestrator/internal/store"
	"github.com/orchestrator-core/orchestrator/internal/stringutils"
	"github.com/orchestrator-core/orchestrator/internal/types"
)

// ProbeKind is the closed set of probe mechanisms.
type ProbeKind string

const (
	ProbeShell     ProbeKind = "shell"
	ProbeHTTP      ProbeKind = "http"
	ProbePredicate ProbeKind = "predicate"
)

// negativeSentinels are substrings that mark a probe's output as failed
// even when its exit/status code looks successful.
var negativeSentinels = []string{"fail", "error", "panic", "traceback", "not found", "exception"}

// Probe describes how to check one task's actual state.
type Probe struct {
	TaskID       string
	Kind         ProbeKind
	Command      string                                          // shell: command run via "sh -c"
	URL          string                                           // http: endpoint polled with GET
	WantStatus   int                                              // http: expected status code, default 200
	Predicate    func(ctx context.Context) (ok bool, output string, err error) // predicate probes
}

// DefaultTimeout is the probe execution deadline per spec.md §5.
const DefaultTimeout = 30 * time.Second

// Verifier holds the closed task->probe registry and runs verifications
// against it.
type Verifier struct {
	probes  map[string]Probe
	st      *store.Store
	cm      *contextmgr.Manager
	timeout time.Duration
	client  *http.Client
}

// New builds a Verifier. timeout<=0 defaults to DefaultTimeout.
func New(st *store.Store, cm *contextmgr.Manager, timeout time.Duration) *Verifier {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Verifier{probes: make(map[string]Probe), st: st, cm: cm, timeout: timeout, client: &http.Client{Timeout: timeout}}
}

// Register associates a probe with a task identifier. A blank TaskID, or a
// blank Command on a shell probe, is rejected rather than silently stored
// under an empty key.
func (v *Verifier) Register(p Probe) error {
	if stringutils.IsEmpty(p.TaskID) {
		return types.NewError(types.ErrConfigInvalid, "probe has no task ID")
	}
	if p.Kind == ProbeShell && stringutils.IsEmpty(p.Command) {
		return types.NewError(types.ErrConfigInvalid, fmt.Sprintf("shell probe for task %q has no command", p.TaskID))
	}
	v.probes[p.TaskID] = p
	return nil
}

// VerifyTask looks up taskID's probe, runs it under the hard timeout,
// interprets the result, and — on a claimed/verified mismatch — records a
// discrepancy and auto-inserts a mistake Lesson whose prevention rule is
// the probe itself.
func (v *Verifier) VerifyTask(ctx context.Context, taskID string, claimed types.TaskStatus, agentID, sessionID, contextID string) (*types.VerificationRecord, error) {
	probe, ok := v.probes[taskID]
	if !ok {
		return nil, types.NewError(types.ErrConfigInvalid, fmt.Sprintf("no verification probe registered for task %q", taskID))
	}

	probeCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	ok2, output, probeErr := v.runProbe(probeCtx, probe)

	verified := types.TaskFailed
	if probeErr == nil && ok2 && !containsNegativeSentinel(output) {
		verified = types.TaskCompleted
	}

	record := &types.VerificationRecord{
		ID:             uuid.New().String(),
		TaskID:         taskID,
		ClaimedStatus:  claimed,
		VerifiedStatus: verified,
		ProbeCommand:   probeDescription(probe),
		ProbeOutput:    output,
		Discrepancy:    claimed != verified,
		AgentID:        agentID,
		SessionID:      sessionID,
		CreatedAt:      time.Now(),
	}
	if probeErr != nil {
		record.ProbeOutput = output + "\n" + probeErr.Error()
	}

	if err := v.st.RecordVerification(record); err != nil {
		return nil, fmt.Errorf("failed to persist verification record: %w", err)
	}

	if record.Discrepancy {
		if err := v.recordDiscrepancy(contextID, agentID, record); err != nil {
			return record, err
		}
	}
	return record, nil
}

func (v *Verifier) recordDiscrepancy(contextID, agentID string, record *types.VerificationRecord) error {
	lesson := &types.Lesson{
		ID:                uuid.New().String(),
		Kind:              types.LessonMistake,
		AgentContextTag:   agentID,
		Description:       fmt.Sprintf("task %s claimed %s but verified %s", record.TaskID, record.ClaimedStatus, record.VerifiedStatus),
		PreventionRule:    record.ProbeCommand,
		VerificationProbe: record.ProbeCommand,
		CreatedAt:         time.Now(),
	}
	if err := v.st.RecordLesson(lesson); err != nil {
		return fmt.Errorf("failed to record mistake lesson: %w", err)
	}
	if contextID != "" {
		if err := v.cm.Append(contextID, types.EventKindError, 7, map[string]interface{}{
			"event": "verification-discrepancy", "task_id": record.TaskID,
			"claimed": record.ClaimedStatus, "verified": record.VerifiedStatus,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (v *Verifier) runProbe(ctx context.Context, p Probe) (bool, string, error) {
	switch p.Kind {
	case ProbeShell:
		return v.runShell(ctx, p.Command)
	case ProbeHTTP:
		return v.runHTTP(ctx, p)
	case ProbePredicate:
		if p.Predicate == nil {
			return false, "", types.NewError(types.ErrStateViolation, fmt.Sprintf("predicate probe %q has no function", p.TaskID))
		}
		ok, out, err := p.Predicate(ctx)
		return ok, out, err
	default:
		return false, "", types.NewError(types.ErrConfigInvalid, fmt.Sprintf("unknown probe kind %q", p.Kind))
	}
}

func (v *Verifier) runShell(ctx context.Context, command string) (bool, string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	output := buf.String()
	if err != nil {
		return false, output, nil // non-zero exit is a failed verification, not a Verifier bug
	}
	return true, output, nil
}

func (v *Verifier) runHTTP(ctx context.Context, p Probe) (bool, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return false, "", fmt.Errorf("build probe request: %w", err)
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return false, err.Error(), nil
	}
	defer resp.Body.Close()
	want := p.WantStatus
	if want == 0 {
		want = http.StatusOK
	}
	output := fmt.Sprintf("status=%d", resp.StatusCode)
	return resp.StatusCode == want, output, nil
}

func containsNegativeSentinel(output string) bool {
	lower := strings.ToLower(output)
	for _, s := range negativeSentinels {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

func probeDescription(p Probe) string {
	switch p.Kind {
	case ProbeShell:
		return p.Command
	case ProbeHTTP:
		return fmt.Sprintf("GET %s", p.URL)
	default:
		return fmt.Sprintf("predicate:%s", p.TaskID)
	}
}
