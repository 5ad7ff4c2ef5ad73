package credential

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/jun/drivechat/internal/crypto"
	"github.com/jun/drivechat/internal/model"
)

// fakeDynamo keeps items keyed by the "user_id" string attribute.
type fakeDynamo struct {
	items map[string]map[string]types.AttributeValue
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func keyOf(m map[string]types.AttributeValue) string {
	if s, ok := m["user_id"].(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return &dynamodb.GetItemOutput{Item: f.items[keyOf(in.Key)]}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.items[keyOf(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	delete(f.items, keyOf(in.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func expiry(d time.Duration) *time.Time {
	t := time.Now().Add(d).UTC().Truncate(time.Second)
	return &t
}

func TestDynamoStore_InMemory_PutAndGet(t *testing.T) {
	s := NewDynamoStore(nil, "creds", crypto.NewMockEncryptor())
	ctx := context.Background()

	rec := &model.CredentialRecord{
		UserID:       "user1",
		AccessToken:  "access-123",
		RefreshToken: "refresh-456",
		ExpiresAt:    expiry(time.Hour),
	}
	if err := s.Put(ctx, rec); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if rec.UpdatedAt.IsZero() {
		t.Error("Expected Put to stamp UpdatedAt")
	}

	got, err := s.Get(ctx, "user1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.AccessToken != "access-123" || got.RefreshToken != "refresh-456" {
		t.Errorf("Unexpected tokens: %+v", got)
	}
	if got.ExpiresAt == nil || !got.ExpiresAt.Equal(*rec.ExpiresAt) {
		t.Errorf("Expected expiry %v, got %v", rec.ExpiresAt, got.ExpiresAt)
	}

	// Tokens are sealed at rest
	s.mu.RLock()
	item := s.items["user1"]
	s.mu.RUnlock()
	if item.EncryptedRefreshToken != "mock:user1:refresh-456" {
		t.Errorf("Expected sealed refresh token, got '%s'", item.EncryptedRefreshToken)
	}
}

func TestDynamoStore_GetNotFound(t *testing.T) {
	s := NewDynamoStore(nil, "creds", crypto.NewMockEncryptor())

	_, err := s.Get(context.Background(), "nobody")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestDynamoStore_PutRequiresUserID(t *testing.T) {
	s := NewDynamoStore(nil, "creds", crypto.NewMockEncryptor())
	if err := s.Put(context.Background(), &model.CredentialRecord{AccessToken: "a"}); err == nil {
		t.Error("Expected error for record without user id")
	}
}

func TestDynamoStore_Dynamo_RoundTrip(t *testing.T) {
	fake := newFakeDynamo()
	s := NewDynamoStore(fake, "creds", crypto.NewMockEncryptor())
	ctx := context.Background()

	rec := &model.CredentialRecord{
		UserID:       "user1",
		AccessToken:  "a1",
		RefreshToken: "r1",
		ExpiresAt:    expiry(30 * time.Minute),
	}
	if err := s.Put(ctx, rec); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	raw := fake.items["user1"]
	if raw == nil {
		t.Fatal("Expected item in table")
	}
	if v, ok := raw["encrypted_access_token"].(*types.AttributeValueMemberS); !ok || !strings.HasPrefix(v.Value, "mock:") {
		t.Errorf("Expected sealed access token attribute, got %#v", raw["encrypted_access_token"])
	}

	got, err := s.Get(ctx, "user1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.AccessToken != "a1" || got.RefreshToken != "r1" {
		t.Errorf("Unexpected tokens: %+v", got)
	}
	if got.ExpiresAt == nil || !got.ExpiresAt.Equal(*rec.ExpiresAt) {
		t.Errorf("Expected expiry %v, got %v", rec.ExpiresAt, got.ExpiresAt)
	}
}

func TestDynamoStore_Dynamo_AbsentExpiryOmitted(t *testing.T) {
	fake := newFakeDynamo()
	s := NewDynamoStore(fake, "creds", crypto.NewMockEncryptor())
	ctx := context.Background()

	if err := s.Put(ctx, &model.CredentialRecord{UserID: "u", AccessToken: "a", RefreshToken: "r"}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, ok := fake.items["u"]["expires_at"]; ok {
		t.Error("Expected expires_at to be omitted")
	}

	got, err := s.Get(ctx, "u")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ExpiresAt != nil {
		t.Errorf("Expected nil expiry, got %v", got.ExpiresAt)
	}
}

func TestDynamoStore_Delete(t *testing.T) {
	for name, client := range map[string]DynamoAPI{"memory": nil, "dynamo": newFakeDynamo()} {
		t.Run(name, func(t *testing.T) {
			s := NewDynamoStore(client, "creds", crypto.NewMockEncryptor())
			ctx := context.Background()

			s.Put(ctx, &model.CredentialRecord{UserID: "u", AccessToken: "a", RefreshToken: "r"})
			if err := s.Delete(ctx, "u"); err != nil {
				t.Fatalf("Delete failed: %v", err)
			}
			if _, err := s.Get(ctx, "u"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Expected ErrNotFound after delete, got %v", err)
			}
			if err := s.Delete(ctx, "u"); err != nil {
				t.Errorf("Deleting a missing record should succeed, got %v", err)
			}
		})
	}
}

func TestDynamoStore_LastWriterWins(t *testing.T) {
	s := NewDynamoStore(nil, "creds", crypto.NewMockEncryptor())
	ctx := context.Background()

	s.Put(ctx, &model.CredentialRecord{UserID: "u", AccessToken: "first", RefreshToken: "r1"})
	s.Put(ctx, &model.CredentialRecord{UserID: "u", AccessToken: "second", RefreshToken: "r2"})

	got, _ := s.Get(ctx, "u")
	if got.AccessToken != "second" || got.RefreshToken != "r2" {
		t.Errorf("Expected last write to win, got %+v", got)
	}
}
