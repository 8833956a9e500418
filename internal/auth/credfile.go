package auth

import (
	"encoding/json"
	"fmt"
	"os"

	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

// CredentialFile is the optional encrypted credential file fallback
// (spec.md §6: "optional encrypted credential file at a known path").
// The file on disk is nonce || secretbox-sealed JSON object of
// service-name -> secret, keyed by a 32-byte key supplied out of band
// (e.g. from a KMS-backed environment variable, never logged).
type CredentialFile struct {
	secrets map[string]string
}

// LoadCredentialFile decrypts path with key and parses the resulting JSON
// object of service name to secret.
func LoadCredentialFile(path string, key *[32]byte) (*CredentialFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credential file: %w", err)
	}
	if len(raw) < nonceSize {
		return nil, fmt.Errorf("credential file %s is truncated", path)
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])

	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, key)
	if !ok {
		return nil, fmt.Errorf("credential file %s failed to decrypt (wrong key or corrupted)", path)
	}

	var secrets map[string]string
	if err := json.Unmarshal(plain, &secrets); err != nil {
		return nil, fmt.Errorf("failed to parse decrypted credential file: %w", err)
	}
	return &CredentialFile{secrets: secrets}, nil
}

// SealCredentialFile is the inverse of LoadCredentialFile — used by
// operator tooling (not the daemon's hot path) to produce the encrypted
// file from a plaintext secret map.
func SealCredentialFile(path string, key *[32]byte, secrets map[string]string, nonce *[nonceSize]byte) error {
	plain, err := json.Marshal(secrets)
	if err != nil {
		return fmt.Errorf("failed to marshal secrets: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], plain, nonce, key)
	return os.WriteFile(path, sealed, 0o600)
}
