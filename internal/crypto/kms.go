package crypto

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
)

// contextKey is the KMS encryption context key binding a ciphertext to its owner.
const contextKey = "user_id"

// Encryptor seals credential material at rest. The owner is mixed into the
// ciphertext so a token copied onto another user's record fails to decrypt.
type Encryptor interface {
	Encrypt(ctx context.Context, owner, plaintext string) (string, error)
	Decrypt(ctx context.Context, owner, ciphertext string) (string, error)
}

// KMSAPI is the subset of *kms.Client used by KMSService.
type KMSAPI interface {
	Encrypt(ctx context.Context, params *kms.EncryptInput, optFns ...func(*kms.Options)) (*kms.EncryptOutput, error)
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// KMSService implements Encryptor using AWS KMS.
type KMSService struct {
	client KMSAPI
	keyID  string
}

// NewKMSService creates a new KMSService.
// keyID can be a key ID, key ARN, or alias name (e.g., "alias/drivechat-token-key").
func NewKMSService(client KMSAPI, keyID string) *KMSService {
	return &KMSService{
		client: client,
		keyID:  keyID,
	}
}

// Encrypt returns the base64 encoded KMS ciphertext of plaintext. Empty input stays empty.
func (s *KMSService) Encrypt(ctx context.Context, owner, plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	result, err := s.client.Encrypt(ctx, &kms.EncryptInput{
		KeyId:             aws.String(s.keyID),
		Plaintext:         []byte(plaintext),
		EncryptionContext: map[string]string{contextKey: owner},
	})
	if err != nil {
		return "", fmt.Errorf("failed to encrypt data: %w", err)
	}

	return base64.StdEncoding.EncodeToString(result.CiphertextBlob), nil
}

// Decrypt reverses Encrypt. The owner must match the one used at encryption time.
func (s *KMSService) Decrypt(ctx context.Context, owner, ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	decoded, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	result, err := s.client.Decrypt(ctx, &kms.DecryptInput{
		CiphertextBlob:    decoded,
		KeyId:             aws.String(s.keyID),
		EncryptionContext: map[string]string{contextKey: owner},
	})
	if err != nil {
		return "", fmt.Errorf("failed to decrypt data: %w", err)
	}

	return string(result.Plaintext), nil
}
