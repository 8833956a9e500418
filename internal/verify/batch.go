package verify

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"regexp"

	"github.com/orchestrator-core/orchestrator/internal/types"
)

// completedTaskLine matches a Markdown checkbox line marked complete, e.g.
// "- [x] migrate-users: backfill tenant_id column", capturing the task
// identifier before the first colon.
var completedTaskLine = regexp.MustCompile(`^\s*-\s*\[[xX]\]\s*([^:\s]+)`)

// BatchReport is the aggregate accuracy result of verifying every task a
// progress document marks complete.
type BatchReport struct {
	Document   string
	Total      int
	Verified   int
	Discrepant []*types.VerificationRecord
}

// Accuracy returns the fraction of scanned tasks whose claimed status
// matched their verified status.
func (r BatchReport) Accuracy() float64 {
	if r.Total == 0 {
		return 1.0
	}
	return float64(r.Verified) / float64(r.Total)
}

// VerifyProgressDocument scans path for Markdown checkbox lines marked
// complete, verifies each against its registered probe, and returns the
// aggregate report (spec.md §4.7's batch mode).
func (v *Verifier) VerifyProgressDocument(ctx context.Context, path, agentID, sessionID, contextID string) (*BatchReport, error) {
	taskIDs, err := extractCompletedTasks(path)
	if err != nil {
		return nil, err
	}

	report := &BatchReport{Document: path}
	for _, taskID := range taskIDs {
		report.Total++
		record, err := v.VerifyTask(ctx, taskID, types.TaskCompleted, agentID, sessionID, contextID)
		if err != nil {
			return report, fmt.Errorf("failed to verify task %q from %s: %w", taskID, path, err)
		}
		if record.Discrepancy {
			report.Discrepant = append(report.Discrepant, record)
		} else {
			report.Verified++
		}
	}
	return report, nil
}

func extractCompletedTasks(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open progress document %s: %w", path, err)
	}
	defer f.Close()

	var tasks []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if m := completedTaskLine.FindStringSubmatch(scanner.Text()); m != nil {
			tasks = append(tasks, m[1])
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan progress document %s: %w", path, err)
	}
	return tasks, nil
}
