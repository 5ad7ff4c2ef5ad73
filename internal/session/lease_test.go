package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLocker_AcquireAndRelease(t *testing.T) {
	m := NewMemoryLocker()
	ctx := context.Background()

	l, err := m.Acquire(ctx, "refresh:user1", "owner-a")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if l.Key != "refresh:user1" || l.Owner != "owner-a" {
		t.Errorf("Lease mismatch: got %+v", l)
	}

	if err := m.Release(ctx, "refresh:user1", "owner-a"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	if _, err := m.Acquire(ctx, "refresh:user1", "owner-b"); err != nil {
		t.Errorf("Expected lease to be free after release, got %v", err)
	}
}

func TestMemoryLocker_Contention(t *testing.T) {
	m := NewMemoryLocker()
	ctx := context.Background()

	if _, err := m.Acquire(ctx, "k", "owner-a"); err != nil {
		t.Fatalf("First acquire failed: %v", err)
	}
	if _, err := m.Acquire(ctx, "k", "owner-a"); err != nil {
		t.Errorf("Same owner should be able to re-acquire: %v", err)
	}
	if _, err := m.Acquire(ctx, "k", "owner-b"); !errors.Is(err, ErrLocked) {
		t.Errorf("Expected ErrLocked, got %v", err)
	}
	if err := m.Release(ctx, "k", "owner-b"); !errors.Is(err, ErrNotOwner) {
		t.Errorf("Expected ErrNotOwner, got %v", err)
	}
}

func TestMemoryLocker_ExpiredLeaseIsTakenOver(t *testing.T) {
	m := NewMemoryLocker()
	now := time.Unix(1_700_000_000, 0)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	if _, err := m.Acquire(ctx, "k", "owner-a"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	now = now.Add(DefaultTTL + time.Second)
	l, err := m.Acquire(ctx, "k", "owner-b")
	if err != nil {
		t.Fatalf("Expected takeover of expired lease, got %v", err)
	}
	if l.Owner != "owner-b" {
		t.Errorf("Expected owner-b, got %s", l.Owner)
	}
}

// fakeLeaseTable records the last request and fails conditional writes on demand.
type fakeLeaseTable struct {
	put      *dynamodb.PutItemInput
	del      *dynamodb.DeleteItemInput
	conflict bool
	err      error
}

func (f *fakeLeaseTable) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.put = in
	if f.err != nil {
		return nil, f.err
	}
	if f.conflict {
		return nil, &types.ConditionalCheckFailedException{Message: new(string)}
	}
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeLeaseTable) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.del = in
	if f.conflict {
		return nil, &types.ConditionalCheckFailedException{Message: new(string)}
	}
	return &dynamodb.DeleteItemOutput{}, nil
}

func TestDynamoLocker_Acquire(t *testing.T) {
	fake := &fakeLeaseTable{}
	m := NewDynamoLocker(fake, "leases")
	m.now = func() time.Time { return time.Unix(1000, 0) }

	l, err := m.Acquire(context.Background(), "refresh:u1", "owner-a")
	require.NoError(t, err)
	assert.Equal(t, int64(1030), l.ExpiresAt)

	require.NotNil(t, fake.put)
	assert.Equal(t, "leases", *fake.put.TableName)
	assert.Contains(t, *fake.put.ConditionExpression, "attribute_not_exists(lease_key)")
	key, ok := fake.put.Item["lease_key"].(*types.AttributeValueMemberS)
	require.True(t, ok)
	assert.Equal(t, "refresh:u1", key.Value)
	now, ok := fake.put.ExpressionAttributeValues[":now"].(*types.AttributeValueMemberN)
	require.True(t, ok)
	assert.Equal(t, "1000", now.Value)
}

func TestDynamoLocker_AcquireConflict(t *testing.T) {
	m := NewDynamoLocker(&fakeLeaseTable{conflict: true}, "leases")

	_, err := m.Acquire(context.Background(), "k", "owner-b")
	assert.ErrorIs(t, err, ErrLocked)
}

func TestDynamoLocker_AcquireBackendError(t *testing.T) {
	m := NewDynamoLocker(&fakeLeaseTable{err: errors.New("throttled")}, "leases")

	_, err := m.Acquire(context.Background(), "k", "owner-a")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrLocked)
}

func TestDynamoLocker_Release(t *testing.T) {
	fake := &fakeLeaseTable{}
	m := NewDynamoLocker(fake, "leases")

	require.NoError(t, m.Release(context.Background(), "k", "owner-a"))
	owner, ok := fake.del.ExpressionAttributeValues[":owner"].(*types.AttributeValueMemberS)
	require.True(t, ok)
	assert.Equal(t, "owner-a", owner.Value)

	fake.conflict = true
	assert.ErrorIs(t, m.Release(context.Background(), "k", "owner-b"), ErrNotOwner)
}
