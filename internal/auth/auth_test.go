package auth

import (
	"os"
	"testing"

	"github.com/orchestrator-core/orchestrator/internal/types"
)

func TestCredentialFromEnvironment(t *testing.T) {
	os.Setenv("ORCHESTRATOR_CHAT_TOKEN", "xoxb-test")
	defer os.Unsetenv("ORCHESTRATOR_CHAT_TOKEN")

	s := New(nil)
	got, err := s.Credential(ServiceChat)
	if err != nil {
		t.Fatalf("Credential() error = %v", err)
	}
	if got != "xoxb-test" {
		t.Fatalf("Credential() = %q, want %q", got, "xoxb-test")
	}
}

func TestCredentialMissingFailsFastNamingEnvVar(t *testing.T) {
	os.Unsetenv("ORCHESTRATOR_SOURCE_CONTROL_TOKEN")

	s := New(nil)
	_, err := s.Credential(ServiceSourceControl)
	if err == nil {
		t.Fatal("Credential() succeeded, want auth-missing error")
	}
	oe, ok := err.(*types.OrchestratorError)
	if !ok || oe.Kind != types.ErrAuthMissing {
		t.Fatalf("error = %v, want kind %q", err, types.ErrAuthMissing)
	}
	if !contains(oe.Message, "ORCHESTRATOR_SOURCE_CONTROL_TOKEN") {
		t.Fatalf("error message %q does not name the missing env var", oe.Message)
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
