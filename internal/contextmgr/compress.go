package contextmgr

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/orchestrator-core/orchestrator/internal/store"
	"github.com/orchestrator-core/orchestrator/internal/types"
)

// Compress produces a compressed view of a handle's current context: keep
// the most recent keepVerbatimWindow events verbatim, fold everything older
// into a single summary event that preserves every event with importance >=
// PreservationThreshold losslessly (spec.md §4.2). Data integrity is
// non-negotiable; the reduction-ratio target is best-effort — if it cannot
// be reached without dropping a preserved event, the context is flagged
// over-budget and a warning event is recorded, per the failure model.
func (m *Manager) Compress(handleID string, level types.CompressionLevel) error {
	h, err := m.handleFor(handleID)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.current.Compression = level
	return m.compressLocked(h.current)
}

func (m *Manager) compressLocked(ctx *types.Context) error {
	events, err := m.st.QueryEvents(ctx.ID, store.EventQuery{})
	if err != nil {
		return fmt.Errorf("failed to read events for compression: %w", err)
	}

	window := m.cfg.KeepVerbatimWindow
	if len(events) <= window {
		return nil // nothing to compress yet
	}

	cut := len(events) - window
	older := events[:cut]

	preserved := make([]*types.ContextEvent, 0)
	droppable := make([]*types.ContextEvent, 0, len(older))
	for _, e := range older {
		if e.Preserved() {
			preserved = append(preserved, e)
		} else {
			droppable = append(droppable, e)
		}
	}

	target := m.cfg.SessionReductionTarget
	if ctx.Scope == types.ScopeProject {
		target = m.cfg.ProjectReductionTarget
	}

	summaryPayload := map[string]interface{}{
		"event":           "compression-summary",
		"folded_count":    len(older),
		"preserved_count": len(preserved),
		"preserved":       preserved,
	}
	summary := &types.ContextEvent{
		ContextID:  ctx.ID,
		Timestamp:  older[len(older)-1].Timestamp,
		Kind:       types.EventKindMilestone,
		Importance: types.PreservationThreshold,
		Payload:    summaryPayload,
	}
	raw, _ := json.Marshal(summaryPayload)
	summary.TokenCount = CountTokensString(string(raw))

	achievedReduction := 1.0 - float64(len(preserved)+1)/float64(len(older))
	if achievedReduction < target {
		ctx.OverBudget = true
		log.Printf("[CTXMGR] WARNING: context %s could not reach compression target %.0f%% while preserving all importance>=%d events (achieved %.0f%%)",
			ctx.ID, target*100, types.PreservationThreshold, achievedReduction*100)
	}

	if err := m.st.DeleteEventsInRange(ctx.ID, 0, older[len(older)-1].Seq); err != nil {
		return fmt.Errorf("failed to drop compressed events: %w", err)
	}
	// Re-append every preserved event so it remains retrievable verbatim, then
	// the summary. Each gets a new sequence number after the kept-verbatim
	// window, so they sit at the end of the log, not in their old positions.
	for _, e := range preserved {
		if err := m.st.AppendEvent(e); err != nil {
			return fmt.Errorf("failed to re-persist preserved event: %w", err)
		}
	}
	if err := m.st.AppendEvent(summary); err != nil {
		return fmt.Errorf("failed to persist compression summary: %w", err)
	}
	ctx.NextSeq = summary.Seq + 1

	ctx.TokenUsage = recomputeTokenUsage(preserved, summary, events[cut:])
	if err := m.st.UpdateContext(ctx); err != nil {
		return fmt.Errorf("failed to persist context after compression: %w", err)
	}
	return nil
}

func recomputeTokenUsage(preserved []*types.ContextEvent, summary *types.ContextEvent, keptVerbatim []*types.ContextEvent) int {
	total := summary.TokenCount
	for _, e := range preserved {
		total += e.TokenCount
	}
	for _, e := range keptVerbatim {
		total += e.TokenCount
	}
	return total
}

// summarizeEvents renders a compact textual digest of a tangent's events for
// use as the parent's single summary event payload (PopTangent).
func summarizeEvents(goal string, events []*types.ContextEvent) string {
	milestones := 0
	for _, e := range events {
		if e.Kind == types.EventKindMilestone || e.Importance >= types.PreservationThreshold {
			milestones++
		}
	}
	return fmt.Sprintf("tangent %q: %d events (%d significant)", goal, len(events), milestones)
}
