package contextmgr

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/orchestrator-core/orchestrator/internal/store"
	"github.com/orchestrator-core/orchestrator/internal/types"
)

// portableSnapshot is the opaque payload SaveSnapshot/LoadSnapshot carry —
// a point-in-time copy of the handle's current focus and parked stack,
// adapted from internal/bootstrap/state.go's PortableState.
type portableSnapshot struct {
	Current *types.Context   `json:"current"`
	Stack   []*types.Context `json:"stack"`
}

// Save serializes the handle's live state as a snapshot. Calling Save twice
// with no intervening events produces no new Context Events (spec.md §8
// idempotency property) — it only ever writes to the snapshot table, never
// the event log.
func (m *Manager) Save(handleID string) error {
	h, err := m.handleFor(handleID)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	snap := portableSnapshot{Current: h.current, Stack: h.stack}
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return m.st.SaveSnapshot(h.current.ID, raw, h.current.NextSeq-1)
}

// Resume reconstructs a handle from the Store: it fast-paths from the last
// snapshot when available (and still current — no events appended to the
// root since the snapshot's last_seq), otherwise replays the full event
// stream. Resuming a context that is already completed/live and unchanged
// is a no-op, per spec.md §8.
func (m *Manager) Resume(rootID string) (*types.Context, error) {
	m.mu.RLock()
	_, alreadyLive := m.byID[rootID]
	m.mu.RUnlock()
	if alreadyLive {
		return m.Current(rootID)
	}

	root, err := m.st.GetContext(rootID)
	if err != nil {
		return nil, fmt.Errorf("failed to load context %s: %w", rootID, err)
	}
	if root == nil {
		return nil, fmt.Errorf("context not found: %s", rootID)
	}

	h := &handle{current: root}

	if snapRaw, lastSeq, err := m.st.LoadSnapshot(rootID); err == nil && snapRaw != nil && lastSeq == root.NextSeq-1 {
		var snap portableSnapshot
		if err := json.Unmarshal(snapRaw, &snap); err == nil {
			h.current = snap.Current
			h.stack = snap.Stack
		}
	}

	m.mu.Lock()
	m.byID[rootID] = h
	m.rootOf[rootID] = rootID
	for _, parked := range h.stack {
		m.rootOf[parked.ID] = rootID
	}
	m.rootOf[h.current.ID] = rootID
	m.mu.Unlock()

	if err := m.reconcileIdentity(root); err != nil {
		return nil, err
	}

	return h.current, nil
}

// reconcileIdentity checks a resumed project context's on-disk identity
// document against the Store's identity index (spec.md §9: "A
// reconciliation pass on resume checks that identity documents match the
// Store's identity index"). A mismatch or missing file is recorded as an
// error event rather than failing the resume — the document is
// human-editable and semi-permanent by design, so drift is reported, not
// corrected.
func (m *Manager) reconcileIdentity(root *types.Context) error {
	if root.Scope != types.ScopeProject {
		return nil
	}
	indexed, err := m.st.GetIdentityDocument(root.ID)
	if err != nil {
		return fmt.Errorf("failed to load identity index for %s: %w", root.ID, err)
	}
	if indexed == nil {
		return nil // project predates identity-document indexing, or none was ever written
	}

	content, err := os.ReadFile(indexed.Path)
	if err != nil {
		log.Printf("[CTXMGR] WARNING: identity document for %s missing at %s: %v", root.ID, indexed.Path, err)
		return m.appendLocked(root, types.EventKindError, 6, map[string]interface{}{
			"event": "identity-reconciliation-failed", "path": indexed.Path, "reason": "unreadable",
		})
	}
	actual := fmt.Sprintf("%x", sha256.Sum256(content))
	if actual != indexed.Hash {
		log.Printf("[CTXMGR] WARNING: identity document for %s diverged from Store index at %s", root.ID, indexed.Path)
		return m.appendLocked(root, types.EventKindError, 6, map[string]interface{}{
			"event": "identity-reconciliation-failed", "path": indexed.Path, "reason": "hash-mismatch",
		})
	}
	return nil
}

// ReplayEvents returns the full, ordered event stream persisted for a
// context — used by callers that want the round-trip identity guarantee
// from spec.md §8 directly rather than through a snapshot fast-path.
func (m *Manager) ReplayEvents(contextID string) ([]*types.ContextEvent, error) {
	return m.st.QueryEvents(contextID, store.EventQuery{})
}
