// Package external is the External Coordinator of spec.md §4.6: on context
// creation/completion it fans out to the configured external systems
// (source-control, chat), recording whatever resources they create against
// the owning context. Grounded on internal/notifications/router.go's
// Route/RouteWithWait fire-and-forget-vs-wait-for-all fan-out and
// internal/bootstrap/phonehome.go's Bearer-token HTTPS client + Mock test
// double pattern. It reuses the source-control and communication roles'
// own client contracts (Host, Platform) rather than declaring a second set
// of interfaces for the same external systems.
package external

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/orchestrator-core/orchestrator/internal/auth"
	"github.com/orchestrator-core/orchestrator/internal/contextmgr"
	"github.com/orchestrator-core/orchestrator/internal/git"
	"github.com/orchestrator-core/orchestrator/internal/roles/communication"
	"github.com/orchestrator-core/orchestrator/internal/roles/sourcecontrol"
	"github.com/orchestrator-core/orchestrator/internal/store"
	"github.com/orchestrator-core/orchestrator/internal/types"
)

// Coordinator fans context lifecycle events out to external systems.
type Coordinator struct {
	cfg   types.ExternalCoordinatorConfig
	sc    sourcecontrol.Host
	chat  communication.Platform
	creds *auth.Store
	st    *store.Store
	cm    *contextmgr.Manager
}

// New builds a Coordinator. sc or chat may be nil when the matching
// EnableSourceControl/EnableChat switch is off.
func New(cfg types.ExternalCoordinatorConfig, sc sourcecontrol.Host, chat communication.Platform, creds *auth.Store, st *store.Store, cm *contextmgr.Manager) *Coordinator {
	return &Coordinator{cfg: cfg, sc: sc, chat: chat, creds: creds, st: st, cm: cm}
}

// fanoutTask is one external-system action the coordinator dispatches.
type fanoutTask struct {
	system types.ExternalSystem
	run    func(ctx context.Context) (*types.ExternalResource, error)
}

// OnContextCreated fans out "creation" notifications: a new branch on
// source-control (if enabled) and a rich creation message on chat (if
// enabled). External-system failures never block context creation — per
// spec.md §4.6 they are recorded as importance<=6 error events and
// swallowed here.
func (c *Coordinator) OnContextCreated(ctx context.Context, ctxObj *types.Context) {
	var tasks []fanoutTask
	if c.cfg.EnableSourceControl && c.sc != nil {
		tasks = append(tasks, fanoutTask{system: types.ExternalSourceControl, run: func(ctx context.Context) (*types.ExternalResource, error) {
			return c.createBranch(ctx, ctxObj)
		}})
	}
	if c.cfg.EnableChat && c.chat != nil {
		tasks = append(tasks, fanoutTask{system: types.ExternalChat, run: func(ctx context.Context) (*types.ExternalResource, error) {
			text, blocks := communication.DefaultTemplates()[communication.CategoryStart](map[string]interface{}{"goal": ctxObj.Goal})
			return c.postMessage(ctx, ctxObj, text, blocks)
		}})
	}
	c.fanOut(ctx, ctxObj.ID, tasks)
}

// OnContextCompleted fans out "completion" notifications: a pull request
// (whenever source control is enabled; with resource-linking on, its body
// also cross-references the resources already recorded for this context)
// and a summary chat message.
func (c *Coordinator) OnContextCompleted(ctx context.Context, ctxObj *types.Context, summary string) {
	var tasks []fanoutTask
	if c.cfg.EnableSourceControl && c.sc != nil {
		tasks = append(tasks, fanoutTask{system: types.ExternalSourceControl, run: func(ctx context.Context) (*types.ExternalResource, error) {
			return c.createPullRequest(ctx, ctxObj, summary)
		}})
	}
	if c.cfg.EnableChat && c.chat != nil {
		tasks = append(tasks, fanoutTask{system: types.ExternalChat, run: func(ctx context.Context) (*types.ExternalResource, error) {
			text, blocks := communication.DefaultTemplates()[communication.CategoryComplete](map[string]interface{}{"goal": summary})
			return c.postMessage(ctx, ctxObj, text, blocks)
		}})
	}
	c.fanOut(ctx, ctxObj.ID, tasks)
}

// fanOut runs tasks per cfg.ParallelExecution, applying cfg.FailureHandling
// uniformly, and recording every success as an ExternalResource plus an
// importance<=6 error event on every failure (never returning an error —
// external-system failures never propagate to the caller).
func (c *Coordinator) fanOut(ctx context.Context, contextID string, tasks []fanoutTask) {
	run := func(t fanoutTask) {
		res, err := c.runWithRetry(ctx, t)
		if err != nil {
			log.Printf("[COORDINATOR] %s fan-out failed for context %s: %v", t.system, contextID, err)
			_ = c.cm.Append(contextID, types.EventKindError, 6, map[string]interface{}{
				"event": "external-fanout-failed", "system": t.system, "error": err.Error(),
			})
			return
		}
		if res == nil {
			return
		}
		res.ID = uuid.New().String()
		res.ContextID = contextID
		res.CreatedAt = time.Now()
		if err := c.st.RecordExternalResource(res); err != nil {
			log.Printf("[COORDINATOR] WARNING: failed to record external resource: %v", err)
			return
		}
		_ = c.cm.Append(contextID, types.EventKindExternalResource, 5, map[string]interface{}{
			"system": res.System, "kind": res.Kind, "external_id": res.ExternalID, "url": res.URL,
		})
	}

	if c.cfg.ParallelExecution {
		var wg sync.WaitGroup
		for _, t := range tasks {
			t := t
			wg.Add(1)
			go func() { defer wg.Done(); run(t) }()
		}
		wg.Wait()
		return
	}
	for _, t := range tasks {
		run(t)
	}
}

// runWithRetry applies cfg.FailureHandling's "retry" option; "continue" and
// "stop" both mean "try once" at the fan-out level since a stopped
// coordinator still must not block context creation — only the retry
// policy changes behavior here.
func (c *Coordinator) runWithRetry(ctx context.Context, t fanoutTask) (*types.ExternalResource, error) {
	attempts := 1
	if c.cfg.FailureHandling == types.PolicyRetry && c.cfg.RetryAttempts > 0 {
		attempts = c.cfg.RetryAttempts
	}
	delay := c.cfg.RetryDelay
	if delay <= 0 {
		delay = 2 * time.Second
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		res, err := t.run(ctx)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if attempt < attempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return nil, lastErr
}

func (c *Coordinator) createBranch(ctx context.Context, ctxObj *types.Context) (*types.ExternalResource, error) {
	token, err := c.creds.Credential(auth.ServiceSourceControl)
	if err != nil {
		return nil, err
	}
	branch := expandBranchPattern(c.cfg.BranchNamePattern, ctxObj)
	if err := c.sc.CreateBranch(ctx, token, c.cfg.RepoOwner, c.cfg.RepoName, branch, ""); err != nil {
		return nil, fmt.Errorf("create branch: %w", err)
	}
	return &types.ExternalResource{
		System: types.ExternalSourceControl, Kind: types.ExternalResourceBranch, ExternalID: branch,
	}, nil
}

func (c *Coordinator) createPullRequest(ctx context.Context, ctxObj *types.Context, summary string) (*types.ExternalResource, error) {
	token, err := c.creds.Credential(auth.ServiceSourceControl)
	if err != nil {
		return nil, err
	}
	branch := expandBranchPattern(c.cfg.BranchNamePattern, ctxObj)
	body := summary
	if c.cfg.ResourceLinking {
		if resources, rerr := c.st.ExternalResourcesForContext(ctxObj.ID); rerr == nil {
			body += "\n\n" + crossReference(resources)
		}
	}
	id, url, err := c.sc.CreatePullRequest(ctx, token, c.cfg.RepoOwner, c.cfg.RepoName, branch, "main", ctxObj.Goal, body, nil)
	if err != nil {
		return nil, fmt.Errorf("create pull request: %w", err)
	}
	return &types.ExternalResource{
		System: types.ExternalSourceControl, Kind: types.ExternalResourcePullRequest, ExternalID: id, URL: url,
	}, nil
}

func (c *Coordinator) postMessage(ctx context.Context, ctxObj *types.Context, text string, blocks map[string]interface{}) (*types.ExternalResource, error) {
	token, err := c.creds.Credential(auth.ServiceChat)
	if err != nil {
		return nil, err
	}
	channel := c.cfg.DefaultChannel
	if channel == "" {
		return nil, types.NewError(types.ErrConfigInvalid, "external_coordinator.default_channel is not configured")
	}

	// resource-linking: thread completion messages under the channel post
	// already recorded for this context, per spec.md §4.6.
	threadID := ""
	if c.cfg.ResourceLinking {
		if resources, rerr := c.st.ExternalResourcesForContext(ctxObj.ID); rerr == nil {
			for _, r := range resources {
				if r.System == types.ExternalChat && r.Kind == types.ExternalResourceMessage {
					threadID = r.ExternalID
					break
				}
			}
		}
	}

	if threadID != "" {
		if err := c.chat.SendThreaded(ctx, token, channel, threadID, text); err != nil {
			return nil, fmt.Errorf("send threaded message: %w", err)
		}
		return &types.ExternalResource{System: types.ExternalChat, Kind: types.ExternalResourceMessage, ExternalID: threadID}, nil
	}

	messageID, err := c.chat.Send(ctx, token, channel, text, blocks)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	return &types.ExternalResource{System: types.ExternalChat, Kind: types.ExternalResourceMessage, ExternalID: messageID}, nil
}

// expandBranchPattern substitutes {scope}, {id}, and {goal} into cfg's
// branch-name-pattern; falls back to "{scope}/{id}" if unset. {goal} is
// rendered via git.Slugify so a free-text goal produces a valid branch
// name component.
func expandBranchPattern(pattern string, ctxObj *types.Context) string {
	if pattern == "" {
		pattern = "{scope}/{id}"
	}
	shortID := ctxObj.ID
	if len(shortID) > 8 {
		shortID = shortID[:8]
	}
	r := strings.NewReplacer("{scope}", string(ctxObj.Scope), "{id}", shortID, "{goal}", git.Slugify(ctxObj.Goal, 30))
	return r.Replace(pattern)
}

func crossReference(resources []*types.ExternalResource) string {
	var b strings.Builder
	b.WriteString("Linked resources:\n")
	for _, r := range resources {
		b.WriteString(fmt.Sprintf("- %s %s: %s\n", r.System, r.Kind, r.ExternalID))
	}
	return b.String()
}
