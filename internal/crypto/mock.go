package crypto

import (
	"context"
	"fmt"
	"strings"
)

// MockEncryptor implements Encryptor for local development and tests (no KMS).
// Ciphertexts look like "mock:<owner>:<plaintext>".
type MockEncryptor struct{}

func NewMockEncryptor() *MockEncryptor {
	return &MockEncryptor{}
}

func (m *MockEncryptor) Encrypt(_ context.Context, owner, plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	return "mock:" + owner + ":" + plaintext, nil
}

func (m *MockEncryptor) Decrypt(_ context.Context, owner, ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	prefix := "mock:" + owner + ":"
	if !strings.HasPrefix(ciphertext, prefix) {
		return "", fmt.Errorf("ciphertext not sealed for %q", owner)
	}
	return strings.TrimPrefix(ciphertext, prefix), nil
}
