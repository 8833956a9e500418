// Package sourcecontrol implements the source-control agent role
// (spec.md §4.4): steps {authenticate, validate-repo, execute-action,
// update-progress}, actions {create-branch, create-pull-request, comment,
// status-check}. Grounded on internal/bootstrap/phonehome.go's Bearer-token
// HTTPS client shape and internal/notifications/router.go's dispatch-by-kind
// pattern.
package sourcecontrol

import (
	"context"
	"fmt"

	"github.com/orchestrator-core/orchestrator/internal/auth"
	"github.com/orchestrator-core/orchestrator/internal/runtime"
	"github.com/orchestrator-core/orchestrator/internal/types"
)

// Action is the closed set of source-control operations this role performs.
type Action string

const (
	ActionCreateBranch       Action = "create-branch"
	ActionCreatePullRequest  Action = "create-pull-request"
	ActionComment            Action = "comment"
	ActionStatusCheck        Action = "status-check"
)

// Host is the narrow source-control API contract (spec.md §6: "authenticated
// user identity, branch creation from base SHA, pull-request creation with
// labels and body, comment posting, rate-limit headers inspection").
type Host interface {
	Identity(ctx context.Context, token string) (string, error)
	CreateBranch(ctx context.Context, token, owner, repo, branch, baseSHA string) error
	CreatePullRequest(ctx context.Context, token, owner, repo, branch, base, title, body string, labels []string) (id string, url string, err error)
	Comment(ctx context.Context, token, owner, repo, targetID, body string) error
	StatusCheck(ctx context.Context, token, owner, repo, ref string) (state string, rateRemaining int, err error)
}

// Role wires the Host client and credential store into a ≤8-step plan.
type Role struct {
	host  Host
	creds *auth.Store
}

// New builds a source-control Role.
func New(host Host, creds *auth.Store) *Role {
	return &Role{host: host, creds: creds}
}

// StepPlan is the role's declared 4-step plan. in carries: action, owner,
// repository, branch, base_branch, base_sha, title, body, labels, target_id,
// ref.
func (r *Role) StepPlan() []runtime.Step {
	return []runtime.Step{
		r.authenticate(),
		r.validateRepo(),
		r.executeAction(),
		r.updateProgress(),
	}
}

func (r *Role) authenticate() runtime.Step {
	return runtime.Step{
		Name: "authenticate",
		Action: func(ctx context.Context, _ *types.AgentInstance, in map[string]interface{}) (map[string]interface{}, error) {
			token, err := r.creds.Credential(auth.ServiceSourceControl)
			if err != nil {
				return nil, err
			}
			identity, err := r.host.Identity(ctx, token)
			if err != nil {
				return nil, types.Wrap(types.ErrExternalRejected, "authenticate", "source-control", err)
			}
			return map[string]interface{}{"token": token, "identity": identity}, nil
		},
	}
}

func (r *Role) validateRepo() runtime.Step {
	return runtime.Step{
		Name: "validate-repo",
		Action: func(_ context.Context, _ *types.AgentInstance, in map[string]interface{}) (map[string]interface{}, error) {
			owner, _ := in["owner"].(string)
			repo, _ := in["repository"].(string)
			if owner == "" || repo == "" {
				return nil, types.NewError(types.ErrConfigInvalid, "owner and repository are required")
			}
			return nil, nil
		},
	}
}

func (r *Role) executeAction() runtime.Step {
	return runtime.Step{
		Name: "execute-action",
		Action: func(ctx context.Context, _ *types.AgentInstance, in map[string]interface{}) (map[string]interface{}, error) {
			token, _ := in["token"].(string)
			owner, _ := in["owner"].(string)
			repo, _ := in["repository"].(string)
			action, _ := in["action"].(string)

			switch Action(action) {
			case ActionCreateBranch:
				branch, _ := in["branch"].(string)
				baseSHA, _ := in["base_sha"].(string)
				if err := r.host.CreateBranch(ctx, token, owner, repo, branch, baseSHA); err != nil {
					return nil, classifyRemoteError(err)
				}
				return map[string]interface{}{"identity": branch}, nil

			case ActionCreatePullRequest:
				branch, _ := in["branch"].(string)
				base, _ := in["base_branch"].(string)
				title, _ := in["title"].(string)
				body, _ := in["body"].(string)
				labels, _ := in["labels"].([]string)
				id, url, err := r.host.CreatePullRequest(ctx, token, owner, repo, branch, base, title, body, labels)
				if err != nil {
					return nil, classifyRemoteError(err)
				}
				return map[string]interface{}{"identity": id, "url": url}, nil

			case ActionComment:
				targetID, _ := in["target_id"].(string)
				body, _ := in["body"].(string)
				if err := r.host.Comment(ctx, token, owner, repo, targetID, body); err != nil {
					return nil, classifyRemoteError(err)
				}
				return map[string]interface{}{"identity": targetID}, nil

			case ActionStatusCheck:
				ref, _ := in["ref"].(string)
				state, remaining, err := r.host.StatusCheck(ctx, token, owner, repo, ref)
				if err != nil {
					return nil, classifyRemoteError(err)
				}
				return map[string]interface{}{"state": state, "rate_limit_remaining": remaining}, nil

			default:
				return nil, types.NewError(types.ErrConfigInvalid, fmt.Sprintf("unknown source-control action %q", action))
			}
		},
	}
}

func (r *Role) updateProgress() runtime.Step {
	return runtime.Step{
		Name: "update-progress",
		Action: func(_ context.Context, _ *types.AgentInstance, in map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{"progress_updated": true}, nil
		},
	}
}

// classifyRemoteError maps the role's own "remote-error" failure mode
// (spec.md §4.4) onto the closed error taxonomy's external-rejected kind;
// the taxonomy in spec.md §7 has no separate remote-error entry.
func classifyRemoteError(err error) error {
	if oe, ok := err.(*types.OrchestratorError); ok {
		return oe
	}
	return types.Wrap(types.ErrExternalRejected, "execute-action", "source-control", err)
}
