package types

import "time"

// FailurePolicy is how a workflow or the external coordinator reacts to a
// single role/system failing.
type FailurePolicy string

const (
	PolicyContinue FailurePolicy = "continue"
	PolicyStop     FailurePolicy = "stop"
	PolicyRetry    FailurePolicy = "retry"
)

// ExecutionMode is how a workflow's declared roles are run.
type ExecutionMode string

const (
	ExecutionSequential ExecutionMode = "sequential"
	ExecutionParallel   ExecutionMode = "parallel"
)

// WorkflowDefinition is one entry of the closed, declarative workflow-type
// registry (spec.md §4.5). Loaded from config.yaml.
type WorkflowDefinition struct {
	Name            string        `yaml:"name" json:"name"`
	Roles           []RoleName    `yaml:"roles" json:"roles"`
	Mode            ExecutionMode `yaml:"mode" json:"mode"`
	MaxConcurrency  int           `yaml:"max_concurrency" json:"max_concurrency"`
	OnFailure       FailurePolicy `yaml:"on_failure" json:"on_failure"`
	RetryAttempts   int           `yaml:"retry_attempts" json:"retry_attempts"`
	RetryBaseDelay  time.Duration `yaml:"retry_base_delay" json:"retry_base_delay"`
	BranchScoped    bool          `yaml:"branch_scoped" json:"branch_scoped"`
}

// CompressionConfig holds per-scope compression thresholds and windows.
type CompressionConfig struct {
	SessionThresholdTokens int     `yaml:"session_threshold_tokens"`
	ProjectThresholdTokens int     `yaml:"project_threshold_tokens"`
	SessionReductionTarget float64 `yaml:"session_reduction_target"` // 0.70
	ProjectReductionTarget float64 `yaml:"project_reduction_target"` // 0.50
	KeepVerbatimWindow     int     `yaml:"keep_verbatim_window"`
	DormantAfter           time.Duration `yaml:"dormant_after"`
	SleepingAfter          time.Duration `yaml:"sleeping_after"`
	DeepSleepAfter         time.Duration `yaml:"deep_sleep_after"`
}

// DefaultCompressionConfig mirrors spec.md §4.2's defaults (hours/days/weeks/months).
func DefaultCompressionConfig() CompressionConfig {
	return CompressionConfig{
		SessionThresholdTokens: 8000,
		ProjectThresholdTokens: 32000,
		SessionReductionTarget: 0.70,
		ProjectReductionTarget: 0.50,
		KeepVerbatimWindow:     20,
		DormantAfter:           6 * time.Hour,
		SleepingAfter:          7 * 24 * time.Hour,
		DeepSleepAfter:         30 * 24 * time.Hour,
	}
}

// ExternalCoordinatorConfig carries the switches from spec.md §4.6.
type ExternalCoordinatorConfig struct {
	EnableSourceControl bool          `yaml:"enable_source_control"`
	EnableChat          bool          `yaml:"enable_chat"`
	ParallelExecution   bool          `yaml:"parallel_execution"`
	FailureHandling     FailurePolicy `yaml:"failure_handling"`
	RetryAttempts       int           `yaml:"retry_attempts"`
	RetryDelay          time.Duration `yaml:"retry_delay"`
	ResourceLinking     bool          `yaml:"resource_linking"`
	AutoCreateChannel   bool          `yaml:"auto_create_channel"` // open question, default false (DESIGN.md)
	BranchNamePattern   string        `yaml:"branch_name_pattern"` // e.g. "{scope}/{id}"
	RepoOwner           string        `yaml:"repo_owner"`
	RepoName            string        `yaml:"repo_name"`
	DefaultChannel      string        `yaml:"default_channel"`
}

// Config is the root configuration loaded from config.yaml.
type Config struct {
	StorePath          string                    `yaml:"store_path"`
	ProjectsDir         string                    `yaml:"projects_dir"`
	NATSURL             string                    `yaml:"nats_url"`
	CredentialFilePath  string                    `yaml:"credential_file_path"`
	Compression         CompressionConfig         `yaml:"compression"`
	Workflows           []WorkflowDefinition      `yaml:"workflows"`
	ExternalCoordinator ExternalCoordinatorConfig `yaml:"external_coordinator"`
	ProbeTimeout        time.Duration             `yaml:"probe_timeout"`
	APIAddr             string                    `yaml:"api_addr"`
}
