package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoAPI is the subset of *dynamodb.Client used by DynamoLocker.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoLocker implements Locker with conditional writes on a DynamoDB table
// keyed by "lease_key". The table's TTL attribute should be "expires_at".
type DynamoLocker struct {
	client    DynamoAPI
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

// NewDynamoLocker creates a DynamoLocker with DefaultTTL.
func NewDynamoLocker(client DynamoAPI, tableName string) *DynamoLocker {
	return &DynamoLocker{
		client:    client,
		tableName: tableName,
		ttl:       DefaultTTL,
		now:       time.Now,
	}
}

func (m *DynamoLocker) Acquire(ctx context.Context, key, owner string) (*Lease, error) {
	now := m.now().Unix()
	lease := Lease{
		Key:       key,
		Owner:     owner,
		ExpiresAt: now + int64(m.ttl.Seconds()),
	}

	item, err := attributevalue.MarshalMap(lease)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lease: %w", err)
	}

	_, err = m.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(m.tableName),
		Item:      item,
		ConditionExpression: aws.String(
			"attribute_not_exists(lease_key) OR expires_at < :now OR #owner = :owner",
		),
		ExpressionAttributeNames: map[string]string{"#owner": "owner"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now":   &types.AttributeValueMemberN{Value: strconv.FormatInt(now, 10)},
			":owner": &types.AttributeValueMemberS{Value: owner},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("failed to acquire lease: %w", err)
	}

	return &lease, nil
}

func (m *DynamoLocker) Release(ctx context.Context, key, owner string) error {
	_, err := m.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(m.tableName),
		Key: map[string]types.AttributeValue{
			"lease_key": &types.AttributeValueMemberS{Value: key},
		},
		ConditionExpression:      aws.String("#owner = :owner"),
		ExpressionAttributeNames: map[string]string{"#owner": "owner"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: owner},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrNotOwner
		}
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}
