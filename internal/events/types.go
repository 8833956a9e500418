// Package events is the live, in-process progress-stream bus: a typed
// channel/stream of Context Events, with back-pressure handled by dropping
// low-importance updates (spec.md §9, "Callback-driven progress reporting"
// redesign flag). It broadcasts what internal/store already persists
// durably — the bus itself owns no storage of its own.
package events

import (
	"time"

	"github.com/orchestrator-core/orchestrator/internal/types"
)

// StreamEvent is one broadcast unit: a Context Event plus the target a
// subscriber filters on (typically a context ID or workflow session ID).
type StreamEvent struct {
	Target    string
	Event     *types.ContextEvent
	CreatedAt time.Time
}

// NewStreamEvent wraps a persisted Context Event for broadcast to target.
func NewStreamEvent(target string, e *types.ContextEvent) StreamEvent {
	return StreamEvent{Target: target, Event: e, CreatedAt: time.Now()}
}

// Importance mirrors the event's own importance so the bus can apply
// back-pressure without reaching into the payload.
func (s StreamEvent) Importance() int {
	if s.Event == nil {
		return 0
	}
	return s.Event.Importance
}
