// Package credential persists the per-user OAuth tokens of the linked drive.
package credential

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/jun/drivechat/internal/crypto"
	"github.com/jun/drivechat/internal/model"
)

// ErrNotFound is returned when a user has no linked drive credentials.
var ErrNotFound = errors.New("credentials not found")

// Store reads and writes CredentialRecords keyed by user id.
type Store interface {
	Get(ctx context.Context, userID string) (*model.CredentialRecord, error)
	Put(ctx context.Context, rec *model.CredentialRecord) error
	Delete(ctx context.Context, userID string) error
}

// DynamoAPI is the subset of *dynamodb.Client used by DynamoStore.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// credentialItem is the DynamoDB representation. Tokens are stored encrypted.
type credentialItem struct {
	UserID                string     `dynamodbav:"user_id"`
	EncryptedAccessToken  string     `dynamodbav:"encrypted_access_token"`
	EncryptedRefreshToken string     `dynamodbav:"encrypted_refresh_token"`
	ExpiresAt             *time.Time `dynamodbav:"expires_at,omitempty"`
	UpdatedAt             time.Time  `dynamodbav:"updated_at"`
}

// DynamoStore implements Store on a DynamoDB table keyed by "user_id".
// With a nil client it keeps sealed items in memory, which is what tests and
// DEV_MODE without LocalStack use.
type DynamoStore struct {
	client    DynamoAPI
	tableName string
	enc       crypto.Encryptor
	now       func() time.Time

	// In-memory fallback
	items map[string]credentialItem
	mu    sync.RWMutex
}

// NewDynamoStore creates a DynamoStore. client may be nil.
func NewDynamoStore(client DynamoAPI, tableName string, enc crypto.Encryptor) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		enc:       enc,
		now:       time.Now,
		items:     make(map[string]credentialItem),
	}
}

// Get loads and decrypts the record for userID.
func (s *DynamoStore) Get(ctx context.Context, userID string) (*model.CredentialRecord, error) {
	item, err := s.getItem(ctx, userID)
	if err != nil {
		return nil, err
	}

	access, err := s.enc.Decrypt(ctx, userID, item.EncryptedAccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt access token: %w", err)
	}
	refresh, err := s.enc.Decrypt(ctx, userID, item.EncryptedRefreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
	}

	return &model.CredentialRecord{
		UserID:       item.UserID,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    item.ExpiresAt,
		UpdatedAt:    item.UpdatedAt,
	}, nil
}

func (s *DynamoStore) getItem(ctx context.Context, userID string) (*credentialItem, error) {
	if s.client == nil {
		s.mu.RLock()
		item, ok := s.items[userID]
		s.mu.RUnlock()
		if !ok {
			return nil, ErrNotFound
		}
		return &item, nil
	}

	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"user_id": &types.AttributeValueMemberS{Value: userID},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get item from DynamoDB: %w", err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}

	var item credentialItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal credentials: %w", err)
	}
	return &item, nil
}

// Put encrypts and writes rec, replacing any previous record for the user.
// Concurrent writers for the same user resolve as last-writer-wins.
func (s *DynamoStore) Put(ctx context.Context, rec *model.CredentialRecord) error {
	if rec.UserID == "" {
		return fmt.Errorf("credential record has no user id")
	}

	access, err := s.enc.Encrypt(ctx, rec.UserID, rec.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}
	refresh, err := s.enc.Encrypt(ctx, rec.UserID, rec.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	item := credentialItem{
		UserID:                rec.UserID,
		EncryptedAccessToken:  access,
		EncryptedRefreshToken: refresh,
		ExpiresAt:             rec.ExpiresAt,
		UpdatedAt:             s.now().UTC(),
	}

	if s.client == nil {
		s.mu.Lock()
		s.items[rec.UserID] = item
		s.mu.Unlock()
		rec.UpdatedAt = item.UpdatedAt
		return nil
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("failed to save credentials to DynamoDB: %w", err)
	}
	rec.UpdatedAt = item.UpdatedAt
	return nil
}

// Delete removes the user's record. Deleting a missing record is not an error.
func (s *DynamoStore) Delete(ctx context.Context, userID string) error {
	if s.client == nil {
		s.mu.Lock()
		delete(s.items, userID)
		s.mu.Unlock()
		return nil
	}

	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"user_id": &types.AttributeValueMemberS{Value: userID},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete credentials: %w", err)
	}
	return nil
}
