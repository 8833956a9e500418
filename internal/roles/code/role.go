// Package code implements the code agent role (spec.md §4.4): steps
// {plan, generate, validate, test}, producing structured, framework-tagged
// code artifacts. Grounded on internal/captain/captain.go's ExecuteMission
// step-sequencing style, generalized from mission orchestration to a single
// role's internal step plan.
package code

import (
	"context"

	"github.com/orchestrator-core/orchestrator/internal/runtime"
	"github.com/orchestrator-core/orchestrator/internal/types"
)

// Artifact is one generated, framework-tagged code unit.
type Artifact struct {
	Path      string `json:"path"`
	Framework string `json:"framework"`
	Content   string `json:"content"`
}

// Generator produces code from a plan — the seam a concrete LLM-backed or
// template-backed implementation fills in.
type Generator interface {
	Plan(ctx context.Context, goal string) ([]string, error)
	Generate(ctx context.Context, task string, framework string) (Artifact, error)
}

// Validator checks generated artifacts for structural correctness (syntax,
// import resolution) before the test step runs.
type Validator interface {
	Validate(ctx context.Context, a Artifact) error
}

// Tester runs the project's test suite against generated artifacts and
// reports pass/fail.
type Tester interface {
	Test(ctx context.Context, artifacts []Artifact) (passed bool, output string, err error)
}

// Role drives the code role's 4-step plan.
type Role struct {
	gen  Generator
	val  Validator
	test Tester
}

// New builds a code Role.
func New(gen Generator, val Validator, test Tester) *Role {
	return &Role{gen: gen, val: val, test: test}
}

// StepPlan is the role's declared 4-step plan. in carries: goal, framework.
func (r *Role) StepPlan() []runtime.Step {
	return []runtime.Step{
		r.plan(),
		r.generate(),
		r.validate(),
		r.test_(),
	}
}

func (r *Role) plan() runtime.Step {
	return runtime.Step{
		Name: "plan",
		Action: func(ctx context.Context, _ *types.AgentInstance, in map[string]interface{}) (map[string]interface{}, error) {
			goal, _ := in["goal"].(string)
			if goal == "" {
				return nil, types.NewError(types.ErrConfigInvalid, "goal is required")
			}
			tasks, err := r.gen.Plan(ctx, goal)
			if err != nil {
				return nil, types.Wrap(types.ErrExternalRejected, "plan", "code", err)
			}
			return map[string]interface{}{"tasks": tasks}, nil
		},
	}
}

func (r *Role) generate() runtime.Step {
	return runtime.Step{
		Name: "generate",
		Action: func(ctx context.Context, _ *types.AgentInstance, in map[string]interface{}) (map[string]interface{}, error) {
			tasks, _ := in["tasks"].([]string)
			framework, _ := in["framework"].(string)
			artifacts := make([]Artifact, 0, len(tasks))
			for _, task := range tasks {
				a, err := r.gen.Generate(ctx, task, framework)
				if err != nil {
					return nil, types.Wrap(types.ErrExternalRejected, "generate", "code", err)
				}
				artifacts = append(artifacts, a)
			}
			return map[string]interface{}{"artifacts": artifacts}, nil
		},
	}
}

func (r *Role) validate() runtime.Step {
	return runtime.Step{
		Name: "validate",
		Action: func(ctx context.Context, _ *types.AgentInstance, in map[string]interface{}) (map[string]interface{}, error) {
			artifacts, _ := in["artifacts"].([]Artifact)
			for _, a := range artifacts {
				if err := r.val.Validate(ctx, a); err != nil {
					return nil, types.Wrap(types.ErrStateViolation, "validate", "code", err)
				}
			}
			return map[string]interface{}{"validated": true}, nil
		},
	}
}

func (r *Role) test_() runtime.Step {
	return runtime.Step{
		Name: "test",
		Action: func(ctx context.Context, _ *types.AgentInstance, in map[string]interface{}) (map[string]interface{}, error) {
			artifacts, _ := in["artifacts"].([]Artifact)
			passed, output, err := r.test.Test(ctx, artifacts)
			if err != nil {
				return nil, types.Wrap(types.ErrExternalRejected, "test", "code", err)
			}
			if !passed {
				return nil, types.NewError(types.ErrStateViolation, "generated code failed its test suite: "+output)
			}
			return map[string]interface{}{"tests_passed": true, "output": output}, nil
		},
	}
}
