// Package contextmgr is the Context Manager component of spec.md §4.2: the
// in-memory registry of live contexts (root + tangent stack), scope
// upgrade, token-aware compression, and serialization to the Store.
// Grounded on internal/bootstrap/state.go's PortableState/Mode-tier
// save-resume pattern and internal/memory/captain_context.go's auxiliary
// key/value note store.
package contextmgr

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/orchestrator-core/orchestrator/internal/events"
	"github.com/orchestrator-core/orchestrator/internal/store"
	"github.com/orchestrator-core/orchestrator/internal/types"
)

// IdentityWriter persists a project-identity document (the noumenon) for a
// context and returns its path plus a content hash, so the Store can index
// it for later reconciliation (spec.md §9). Satisfied by
// internal/roles/identity.Role without the Manager importing that package
// (which imports internal/runtime, which imports this package).
type IdentityWriter interface {
	WriteIdentity(ctxObj *types.Context) (path, hash string, err error)
}

// handle tracks one top-level context's current focus and parked ancestors.
// The handle ID is always the root context's ID.
type handle struct {
	mu      sync.Mutex
	current *types.Context
	stack   []*types.Context // parked ancestors; stack[len-1] is immediate parent of current
}

// Manager owns the live registry; all persistent state is delegated to the Store.
type Manager struct {
	st       *store.Store
	cfg      types.CompressionConfig
	bus      *events.Bus
	identity IdentityWriter
	mu       sync.RWMutex
	byID     map[string]*handle // handleID (root context ID) -> handle
	rootOf   map[string]string  // any context ID reachable via this manager -> its handle/root ID
}

// New creates a Context Manager bound to a Store.
func New(st *store.Store, cfg types.CompressionConfig) *Manager {
	return &Manager{
		st:     st,
		cfg:    cfg,
		byID:   make(map[string]*handle),
		rootOf: make(map[string]string),
	}
}

// SetBus attaches a live progress-stream Bus; every Append broadcasts the
// persisted event to it. Optional — a Manager with no Bus persists exactly
// as before.
func (m *Manager) SetBus(b *events.Bus) {
	m.bus = b
}

// SetIdentityWriter attaches the writer used to produce project-identity
// documents on Create/Upgrade. Optional — with none set, a project-scoped
// context is simply never given a document (matching the Manager's
// pre-existing behavior when run without the identity role wired).
func (m *Manager) SetIdentityWriter(w IdentityWriter) {
	m.identity = w
}

// Create starts a new root context. Emits a milestone event with importance
// 9 per spec.md §4.2.
func (m *Manager) Create(scope types.Scope, goal string, budget int) (*types.Context, error) {
	now := time.Now()
	ctx := &types.Context{
		ID:           uuid.New().String(),
		Scope:        scope,
		Goal:         goal,
		CreatedAt:    now,
		LastActiveAt: now,
		Compression:  types.CompressionActive,
		TokenBudget:  budget,
		NextSeq:      1,
	}
	if err := m.st.CreateContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to create context: %w", err)
	}

	m.mu.Lock()
	m.byID[ctx.ID] = &handle{current: ctx}
	m.rootOf[ctx.ID] = ctx.ID
	m.mu.Unlock()

	if err := m.writeIdentityIfProject(ctx); err != nil {
		return nil, err
	}

	if err := m.Append(ctx.ID, types.EventKindMilestone, 9, map[string]interface{}{
		"event": "context-created", "scope": scope, "goal": goal,
	}); err != nil {
		return nil, err
	}
	return ctx, nil
}

// writeIdentityIfProject writes and indexes ctx's identity document when its
// scope is project and an IdentityWriter is wired; a no-op otherwise
// (spec.md §4.2: "writes a project-identity document to persistent storage
// iff scope=project").
func (m *Manager) writeIdentityIfProject(ctx *types.Context) error {
	if ctx.Scope != types.ScopeProject || m.identity == nil {
		return nil
	}
	path, hash, err := m.identity.WriteIdentity(ctx)
	if err != nil {
		return fmt.Errorf("failed to write identity document: %w", err)
	}
	if err := m.st.RecordIdentityDocument(ctx.ID, path, hash); err != nil {
		return fmt.Errorf("failed to index identity document: %w", err)
	}
	return nil
}

// Upgrade irreversibly moves a session context to project scope, recomputes
// thresholds, and emits a milestone event. Downgrade is never offered.
func (m *Manager) Upgrade(handleID string) error {
	h, err := m.handleFor(handleID)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.current.Scope == types.ScopeProject {
		return nil // idempotent
	}
	h.current.Scope = types.ScopeProject
	h.current.TokenBudget = m.cfg.ProjectThresholdTokens
	if err := m.st.UpdateContext(h.current); err != nil {
		return fmt.Errorf("failed to persist scope upgrade: %w", err)
	}
	if err := m.writeIdentityIfProject(h.current); err != nil {
		return err
	}
	return m.appendLocked(h.current, types.EventKindMilestone, 9, map[string]interface{}{
		"event": "scope-upgraded", "to": types.ScopeProject,
	})
}

// Append records a Context Event against the context currently focused by
// handleID, accounts its tokens, and triggers compression if the
// scope-specific threshold is crossed.
func (m *Manager) Append(handleID string, kind types.EventKind, importance int, payload map[string]interface{}) error {
	h, err := m.handleFor(handleID)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return m.appendLocked(h.current, kind, importance, payload)
}

func (m *Manager) appendLocked(ctx *types.Context, kind types.EventKind, importance int, payload map[string]interface{}) error {
	tokens := CountTokens(payload)
	e := &types.ContextEvent{
		ContextID:  ctx.ID,
		Timestamp:  time.Now(),
		Kind:       kind,
		Importance: importance,
		Payload:    payload,
		TokenCount: tokens,
	}
	if err := m.st.AppendEvent(e); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	ctx.NextSeq = e.Seq + 1
	ctx.TokenUsage += tokens
	ctx.LastActiveAt = e.Timestamp
	if err := m.st.UpdateContext(ctx); err != nil {
		return fmt.Errorf("failed to persist token accounting: %w", err)
	}
	if m.bus != nil {
		m.bus.Publish(events.NewStreamEvent(ctx.ID, e))
	}

	threshold := m.cfg.SessionThresholdTokens
	if ctx.Scope == types.ScopeProject {
		threshold = m.cfg.ProjectThresholdTokens
	}
	if ctx.TokenUsage >= threshold {
		return m.compressLocked(ctx)
	}
	return nil
}

// PushTangent parks the handle's current focus and creates a child context
// for a sub-investigation, returning the new handle-local focus.
func (m *Manager) PushTangent(handleID, goal string, budget int) (*types.Context, error) {
	h, err := m.handleFor(handleID)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	parent := h.current
	now := time.Now()
	child := &types.Context{
		ID:           uuid.New().String(),
		Scope:        parent.Scope,
		Goal:         goal,
		CreatedAt:    now,
		LastActiveAt: now,
		Compression:  types.CompressionActive,
		TokenBudget:  budget,
		ParentID:     parent.ID,
		NextSeq:      1,
	}
	if err := m.st.CreateContext(child); err != nil {
		return nil, fmt.Errorf("failed to create tangent: %w", err)
	}

	h.stack = append(h.stack, parent)
	h.current = child

	m.mu.Lock()
	m.rootOf[child.ID] = m.rootOf[parent.ID]
	m.mu.Unlock()

	return child, nil
}

// PopTangent merges a single summary event of the current tangent into its
// parent and restores the parent as the handle's current focus.
func (m *Manager) PopTangent(handleID string) error {
	h, err := m.handleFor(handleID)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.stack) == 0 {
		return fmt.Errorf("no tangent to pop for %s", handleID)
	}
	child := h.current
	parent := h.stack[len(h.stack)-1]
	h.stack = h.stack[:len(h.stack)-1]

	events, err := m.st.QueryEvents(child.ID, store.EventQuery{})
	if err != nil {
		return fmt.Errorf("failed to read tangent events: %w", err)
	}
	summary := summarizeEvents(child.Goal, events)

	if err := m.appendLocked(parent, types.EventKindMilestone, 9, map[string]interface{}{
		"event":   "tangent-summary",
		"tangent": child.ID,
		"summary": summary,
	}); err != nil {
		return fmt.Errorf("failed to append tangent summary: %w", err)
	}

	h.current = parent
	return nil
}

// handleFor resolves the handle owning a context ID (root or tangent).
func (m *Manager) handleFor(contextID string) (*handle, error) {
	m.mu.RLock()
	rootID, ok := m.rootOf[contextID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown context: %s", contextID)
	}
	m.mu.RLock()
	h, ok := m.byID[rootID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no live handle for context: %s", contextID)
	}
	return h, nil
}

// Current returns the context currently focused by a handle (its root or an
// active tangent).
func (m *Manager) Current(handleID string) (*types.Context, error) {
	h, err := m.handleFor(handleID)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	cp := *h.current
	return &cp, nil
}

// ArchiveTick upgrades active -> dormant -> sleeping -> deep-sleep by
// last-active age and triggers deeper compression on each transition,
// adapted from internal/bootstrap/scaleup.go's tiered scale-up triggers.
func (m *Manager) ArchiveTick() error {
	m.mu.RLock()
	handles := make([]*handle, 0, len(m.byID))
	for _, h := range m.byID {
		handles = append(handles, h)
	}
	m.mu.RUnlock()

	now := time.Now()
	for _, h := range handles {
		h.mu.Lock()
		ctx := h.current
		age := now.Sub(ctx.LastActiveAt)
		next := nextCompressionLevel(ctx.Compression, age, m.cfg)
		if next != ctx.Compression {
			ctx.Compression = next
			if err := m.st.UpdateContext(ctx); err != nil {
				h.mu.Unlock()
				return fmt.Errorf("failed to persist archive tick for %s: %w", ctx.ID, err)
			}
			log.Printf("[CTXMGR] context %s archived to %s (age=%s)", ctx.ID, next, age)
			if err := m.compressLocked(ctx); err != nil {
				h.mu.Unlock()
				return err
			}
		}
		h.mu.Unlock()
	}
	return nil
}

func nextCompressionLevel(current types.CompressionLevel, age time.Duration, cfg types.CompressionConfig) types.CompressionLevel {
	switch {
	case age >= cfg.DeepSleepAfter:
		return types.CompressionDeepSleep
	case age >= cfg.SleepingAfter:
		return types.CompressionSleeping
	case age >= cfg.DormantAfter:
		return types.CompressionDormant
	default:
		return current
	}
}
