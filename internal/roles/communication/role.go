// Package communication implements the communication agent role
// (spec.md §4.4): steps {authenticate, resolve-channel, template, send,
// confirm}. Enumerated message categories {start, progress, complete,
// error, alert} each carry a typed template. Grounded on
// internal/notifications/external/slack.go's webhook-notifier shape,
// generalized to a channel-platform client interface.
package communication

import (
	"context"
	"fmt"

	"github.com/orchestrator-core/orchestrator/internal/auth"
	"github.com/orchestrator-core/orchestrator/internal/runtime"
	"github.com/orchestrator-core/orchestrator/internal/types"
)

// Category is the closed set of message categories.
type Category string

const (
	CategoryStart    Category = "start"
	CategoryProgress Category = "progress"
	CategoryComplete Category = "complete"
	CategoryError    Category = "error"
	CategoryAlert    Category = "alert"
)

// Platform is the narrow chat-platform contract (spec.md §6: "authenticated
// token; send message to channel, send threaded reply, list channels, send
// rich formatted blocks").
type Platform interface {
	ListChannels(ctx context.Context, token string) ([]string, error)
	Send(ctx context.Context, token, channel, text string, blocks map[string]interface{}) (messageID string, err error)
	SendThreaded(ctx context.Context, token, channel, threadID, text string) error
}

// Templates maps category to a rendering function producing (text, rich
// blocks) from a payload.
type Templates map[Category]func(payload map[string]interface{}) (string, map[string]interface{})

// Role drives the communication role's 5-step plan.
type Role struct {
	platform  Platform
	creds     *auth.Store
	templates Templates
}

// New builds a communication Role. If templates is nil, DefaultTemplates is
// used.
func New(platform Platform, creds *auth.Store, templates Templates) *Role {
	if templates == nil {
		templates = DefaultTemplates()
	}
	return &Role{platform: platform, creds: creds, templates: templates}
}

// StepPlan is the role's declared 5-step plan. in carries: category,
// channel_name, thread_id, payload.
func (r *Role) StepPlan() []runtime.Step {
	return []runtime.Step{
		r.authenticate(),
		r.resolveChannel(),
		r.template(),
		r.send(),
		r.confirm(),
	}
}

func (r *Role) authenticate() runtime.Step {
	return runtime.Step{
		Name: "authenticate",
		Action: func(context.Context, *types.AgentInstance, map[string]interface{}) (map[string]interface{}, error) {
			token, err := r.creds.Credential(auth.ServiceChat)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"token": token}, nil
		},
	}
}

func (r *Role) resolveChannel() runtime.Step {
	return runtime.Step{
		Name: "resolve-channel",
		Action: func(ctx context.Context, _ *types.AgentInstance, in map[string]interface{}) (map[string]interface{}, error) {
			token, _ := in["token"].(string)
			wanted, _ := in["channel_name"].(string)
			if wanted == "" {
				return nil, types.NewError(types.ErrConfigInvalid, "channel_name is required")
			}
			channels, err := r.platform.ListChannels(ctx, token)
			if err != nil {
				return nil, types.Wrap(types.ErrExternalRejected, "resolve-channel", "communication", err)
			}
			for _, c := range channels {
				if c == wanted {
					return map[string]interface{}{"channel": c}, nil
				}
			}
			return nil, types.NewError(types.ErrConfigInvalid, fmt.Sprintf("channel %q not found and auto-create is disabled", wanted))
		},
	}
}

func (r *Role) template() runtime.Step {
	return runtime.Step{
		Name: "template",
		Action: func(_ context.Context, _ *types.AgentInstance, in map[string]interface{}) (map[string]interface{}, error) {
			category, _ := in["category"].(string)
			render, ok := r.templates[Category(category)]
			if !ok {
				return nil, types.NewError(types.ErrConfigInvalid, fmt.Sprintf("unknown message category %q", category))
			}
			payload, _ := in["payload"].(map[string]interface{})
			text, blocks := render(payload)
			return map[string]interface{}{"text": text, "blocks": blocks}, nil
		},
	}
}

func (r *Role) send() runtime.Step {
	return runtime.Step{
		Name: "send",
		Action: func(ctx context.Context, _ *types.AgentInstance, in map[string]interface{}) (map[string]interface{}, error) {
			token, _ := in["token"].(string)
			channel, _ := in["channel"].(string)
			text, _ := in["text"].(string)
			blocks, _ := in["blocks"].(map[string]interface{})
			threadID, _ := in["thread_id"].(string)

			if threadID != "" {
				if err := r.platform.SendThreaded(ctx, token, channel, threadID, text); err != nil {
					return nil, types.Wrap(types.ErrExternalRejected, "send", "communication", err)
				}
				return map[string]interface{}{"message_id": threadID}, nil
			}
			id, err := r.platform.Send(ctx, token, channel, text, blocks)
			if err != nil {
				return nil, types.Wrap(types.ErrExternalRejected, "send", "communication", err)
			}
			return map[string]interface{}{"message_id": id}, nil
		},
	}
}

func (r *Role) confirm() runtime.Step {
	return runtime.Step{
		Name: "confirm",
		Action: func(_ context.Context, _ *types.AgentInstance, in map[string]interface{}) (map[string]interface{}, error) {
			id, _ := in["message_id"].(string)
			if id == "" {
				return nil, types.NewError(types.ErrStateViolation, "send produced no message id to confirm")
			}
			return map[string]interface{}{"confirmed": true}, nil
		},
	}
}

// DefaultTemplates renders a minimal text-only message per category;
// operators may supply richer block layouts.
func DefaultTemplates() Templates {
	render := func(label string) func(map[string]interface{}) (string, map[string]interface{}) {
		return func(payload map[string]interface{}) (string, map[string]interface{}) {
			goal, _ := payload["goal"].(string)
			return fmt.Sprintf("[%s] %s", label, goal), map[string]interface{}{"category": label, "payload": payload}
		}
	}
	return Templates{
		CategoryStart:    render("start"),
		CategoryProgress: render("progress"),
		CategoryComplete: render("complete"),
		CategoryError:    render("error"),
		CategoryAlert:    render("alert"),
	}
}
