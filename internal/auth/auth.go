// Package auth loads per-external-service credentials: environment variable
// first, encrypted credential file as fallback (spec.md §6). Grounded on
// internal/bootstrap/phonehome.go's apiKeyEnv lookup, generalized to more
// than one service and given a file fallback using golang.org/x/crypto.
package auth

import (
	"fmt"
	"os"

	"github.com/orchestrator-core/orchestrator/internal/types"
)

// Service names the external systems the core authenticates against.
type Service string

const (
	ServiceSourceControl Service = "source-control"
	ServiceChat          Service = "chat"
	ServiceContainerRt   Service = "container-runtime"
)

// envNames are the documented environment variable names per service
// (spec.md §6 "Credentials ... documented names per external service").
var envNames = map[Service]string{
	ServiceSourceControl: "ORCHESTRATOR_SOURCE_CONTROL_TOKEN",
	ServiceChat:          "ORCHESTRATOR_CHAT_TOKEN",
	ServiceContainerRt:   "ORCHESTRATOR_CONTAINER_RUNTIME_TOKEN",
}

// Store resolves credentials, preferring the environment and falling back
// to an encrypted credential file opened once at construction.
type Store struct {
	file *CredentialFile
}

// New builds a Store. file may be nil if no encrypted credential file is
// configured; in that case resolution relies entirely on the environment.
func New(file *CredentialFile) *Store {
	return &Store{file: file}
}

// Credential resolves the secret for svc, failing fast with auth-missing and
// naming the missing environment variable (spec.md §7's auth-missing
// recovery contract: "surface which credential is missing and how to set
// it").
func (s *Store) Credential(svc Service) (string, error) {
	name, ok := envNames[svc]
	if !ok {
		return "", types.NewError(types.ErrConfigInvalid, fmt.Sprintf("unknown credential service %q", svc))
	}
	if v := os.Getenv(name); v != "" {
		return v, nil
	}
	if s.file != nil {
		if v, ok := s.file.secrets[string(svc)]; ok && v != "" {
			return v, nil
		}
	}
	return "", types.NewError(types.ErrAuthMissing,
		fmt.Sprintf("credential for %s not found: set %s or add it to the encrypted credential file", svc, name))
}
