// Package types holds the shared domain model for the orchestration core:
// contexts, context events, agent instances, workflow sessions, lessons,
// verification records and external resources. These are plain data types;
// behaviour lives in the package that owns the corresponding component
// (contextmgr, runtime, workflow, verify, external).
package types

import "time"

// Scope distinguishes a short-lived session context from a long-lived,
// identity-bearing project context. Scope only ever upgrades.
type Scope string

const (
	ScopeSession Scope = "session"
	ScopeProject Scope = "project"
)

// CompressionLevel is the archival tier of a context, driven by last-active age.
type CompressionLevel string

const (
	CompressionActive     CompressionLevel = "active"
	CompressionDormant    CompressionLevel = "dormant"
	CompressionSleeping   CompressionLevel = "sleeping"
	CompressionDeepSleep  CompressionLevel = "deep-sleep"
)

// Context is the primary handle for a unit of persistent work.
type Context struct {
	ID               string           `json:"id"`
	Scope            Scope            `json:"scope"`
	Goal             string           `json:"goal"`
	CreatedAt        time.Time        `json:"created_at"`
	LastActiveAt     time.Time        `json:"last_active_at"`
	Compression      CompressionLevel `json:"compression"`
	TokenBudget      int              `json:"token_budget"`
	TokenUsage       int              `json:"token_usage"`
	ParentID         string           `json:"parent_id,omitempty"`
	OverBudget       bool             `json:"over_budget"`
	NextSeq          int64            `json:"next_seq"`
}

// EventKind enumerates the closed set of Context Event kinds.
type EventKind string

const (
	EventKindMessage         EventKind = "message"
	EventKindDecision        EventKind = "decision"
	EventKindMilestone       EventKind = "milestone"
	EventKindExternalResource EventKind = "external-resource"
	EventKindAgentStep       EventKind = "agent-step"
	EventKindError           EventKind = "error"
)

// PreservationThreshold is the importance level at or above which an event
// is exempt from compression drop (spec.md §3).
const PreservationThreshold = 8

// ContextEvent is an append-only record attached to a context.
type ContextEvent struct {
	ContextID  string                 `json:"context_id"`
	Seq        int64                  `json:"seq"`
	Timestamp  time.Time              `json:"timestamp"`
	Kind       EventKind              `json:"kind"`
	Importance int                    `json:"importance"`
	Payload    map[string]interface{} `json:"payload"`
	TokenCount int                    `json:"token_count"`
}

// Preserved reports whether this event is exempt from compression drop.
func (e ContextEvent) Preserved() bool {
	return e.Importance >= PreservationThreshold
}

// AgentState is the closed state machine every agent instance obeys.
type AgentState string

const (
	AgentIdle           AgentState = "idle"
	AgentRunning        AgentState = "running"
	AgentPaused         AgentState = "paused"
	AgentAwaitingInput  AgentState = "awaiting-input"
	AgentCompleted      AgentState = "completed"
	AgentFailed         AgentState = "failed"
)

// Terminal reports whether the state accepts no further transitions.
func (s AgentState) Terminal() bool {
	return s == AgentCompleted || s == AgentFailed
}

// RoleName is the closed set of agent roles.
type RoleName string

const (
	RoleSourceControl    RoleName = "source-control"
	RoleSecurity         RoleName = "security"
	RoleCode             RoleName = "code"
	RoleDeploy           RoleName = "deploy"
	RoleCommunication    RoleName = "communication"
	RoleProjectIdentity  RoleName = "project-identity"
)

// MaxSteps is the hard, per-agent-instance step-plan cap (spec.md §4.3).
const MaxSteps = 8

// AgentInstance is one execution of one role under a workflow session.
type AgentInstance struct {
	ID            string                 `json:"id"`
	Role          RoleName               `json:"role"`
	SessionID     string                 `json:"session_id"`
	ContextID     string                 `json:"context_id"`
	State         AgentState             `json:"state"`
	Progress      int                    `json:"progress"` // 0-100, monotonic until terminal
	CurrentStep   string                 `json:"current_step"`
	StepIndex     int                    `json:"step_index"`
	Result        map[string]interface{} `json:"result,omitempty"`
	Error         *OrchestratorError     `json:"error,omitempty"`
	ConfigSnap    map[string]interface{} `json:"config_snapshot,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

// WorkflowStatus mirrors the agent-state shape at workflow granularity.
type WorkflowStatus string

const (
	WorkflowPending   WorkflowStatus = "pending"
	WorkflowRunning   WorkflowStatus = "running"
	WorkflowCompleted WorkflowStatus = "completed"
	WorkflowFailed    WorkflowStatus = "failed"
)

// WorkflowSession is a named execution of a workflow type against a context.
type WorkflowSession struct {
	ID              string          `json:"id"`
	ContextID       string          `json:"context_id"`
	WorkflowType    string          `json:"workflow_type"`
	Status          WorkflowStatus  `json:"status"`
	StartedAt       time.Time       `json:"started_at"`
	EndedAt         *time.Time      `json:"ended_at,omitempty"`
	AgentIDs        []string        `json:"agent_ids"`
	HandoffContext  string          `json:"handoff_context"`
}

// LessonKind enumerates the closed set of Lesson kinds.
type LessonKind string

const (
	LessonMistake LessonKind = "mistake"
	LessonSuccess LessonKind = "success"
	LessonPattern LessonKind = "pattern"
)

// Lesson is a durable rule learned from a mistake, success or pattern.
type Lesson struct {
	ID              string     `json:"id"`
	Kind            LessonKind `json:"kind"`
	AgentContextTag string     `json:"agent_context_tag"`
	Description     string     `json:"description"`
	PreventionRule  string     `json:"prevention_rule"`
	VerificationProbe string   `json:"verification_probe,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// TaskStatus is the claimed/verified status a Verification Record carries.
type TaskStatus string

const (
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// VerificationRecord is the result of running one probe against one task.
type VerificationRecord struct {
	ID             string     `json:"id"`
	TaskID         string     `json:"task_id"`
	ClaimedStatus  TaskStatus `json:"claimed_status"`
	VerifiedStatus TaskStatus `json:"verified_status"`
	ProbeCommand   string     `json:"probe_command"`
	ProbeOutput    string     `json:"probe_output"`
	Discrepancy    bool       `json:"discrepancy"`
	AgentID        string     `json:"agent_id,omitempty"`
	SessionID      string     `json:"session_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// ExternalSystem is the closed set of collaborators the coordinator fans out to.
type ExternalSystem string

const (
	ExternalSourceControl ExternalSystem = "source-control"
	ExternalChat          ExternalSystem = "chat"
)

// ExternalResourceKind enumerates the kinds of resource an external system creates.
type ExternalResourceKind string

const (
	ExternalResourceBranch      ExternalResourceKind = "branch"
	ExternalResourcePullRequest ExternalResourceKind = "pull-request"
	ExternalResourceChannel     ExternalResourceKind = "channel"
	ExternalResourceMessage     ExternalResourceKind = "message"
)

// ExternalResource is soft-owned by the context that created it.
type ExternalResource struct {
	ID         string               `json:"id"`
	ContextID  string               `json:"context_id"`
	System     ExternalSystem       `json:"system"`
	Kind       ExternalResourceKind `json:"kind"`
	ExternalID string               `json:"external_id"`
	URL        string               `json:"url"`
	CreatedAt  time.Time            `json:"created_at"`
}

// ResourceLock is an advisory, TTL-backed named lock guarding cross-agent
// critical sections (same-branch operations, etc).
type ResourceLock struct {
	Name      string    `json:"name"`
	Holder    string    `json:"holder"`
	ExpiresAt time.Time `json:"expires_at"`
}
