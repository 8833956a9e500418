package types

import "fmt"

// ErrorKind is the closed error taxonomy from spec.md §7.
type ErrorKind string

const (
	ErrAuthMissing           ErrorKind = "auth-missing"
	ErrConfigInvalid         ErrorKind = "config-invalid"
	ErrExternalTimeout       ErrorKind = "external-timeout"
	ErrExternalRejected      ErrorKind = "external-rejected"
	ErrConflictDetected      ErrorKind = "conflict-detected"
	ErrStateViolation        ErrorKind = "state-violation"
	ErrBudgetExceeded        ErrorKind = "budget-exceeded"
	ErrVerificationDiscrepancy ErrorKind = "verification-discrepancy"
	ErrCancelled             ErrorKind = "cancelled"
)

// OrchestratorError is the compact wrapper every agent/runtime error takes,
// per spec.md §4.3 step 6 and §7's propagation rule: agents wrap raw errors
// into {kind, message, step, agent, cause}; nothing is swallowed silently.
type OrchestratorError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Step    string    `json:"step,omitempty"`
	Agent   string    `json:"agent,omitempty"`
	Cause   error     `json:"-"`
}

func (e *OrchestratorError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (step=%s agent=%s): %v", e.Kind, e.Message, e.Step, e.Agent, e.Cause)
	}
	return fmt.Sprintf("%s: %s (step=%s agent=%s)", e.Kind, e.Message, e.Step, e.Agent)
}

func (e *OrchestratorError) Unwrap() error {
	return e.Cause
}

// Wrap builds an OrchestratorError tagging the step and agent that raised it.
func Wrap(kind ErrorKind, step, agent string, cause error) *OrchestratorError {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return &OrchestratorError{Kind: kind, Message: msg, Step: step, Agent: agent, Cause: cause}
}

// NewError builds an OrchestratorError without an underlying cause.
func NewError(kind ErrorKind, message string) *OrchestratorError {
	return &OrchestratorError{Kind: kind, Message: message}
}
