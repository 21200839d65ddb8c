package idempotency

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

// DynamoAPI is the subset of the DynamoDB client used by DynamoStore.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// item is the table layout. expiresAt is the table's TTL attribute.
type item struct {
	Key       string `dynamodbav:"key"`
	State     string `dynamodbav:"state"`
	Status    int    `dynamodbav:"status,omitempty"`
	Body      []byte `dynamodbav:"body,omitempty"`
	ExpiresAt int64  `dynamodbav:"expiresAt"`
}

// DynamoStore shares idempotency keys across API instances
type DynamoStore struct {
	client DynamoAPI
	table  string
	now    func() time.Time
}

// NewDynamoStore creates a store backed by table.
func NewDynamoStore(client DynamoAPI, table string) *DynamoStore {
	return &DynamoStore{client: client, table: table, now: time.Now}
}

func (s *DynamoStore) keyAttr(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"key": &types.AttributeValueMemberS{Value: key}}
}

// Begin writes a pending item unless a live one already exists.
func (s *DynamoStore) Begin(ctx context.Context, key string, ttl time.Duration) (*Record, error) {
	now := s.now()
	av, err := attributevalue.MarshalMap(item{
		Key:       key,
		State:     string(StatePending),
		ExpiresAt: now.Add(ttl).Unix(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode idempotency item: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(s.table),
		Item:                     av,
		ConditionExpression:      aws.String("attribute_not_exists(#k) OR expiresAt < :now"),
		ExpressionAttributeNames: map[string]string{"#k": "key"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
		},
	})
	if err == nil {
		return nil, nil
	}

	var conflict *types.ConditionalCheckFailedException
	if !errors.As(err, &conflict) {
		return nil, fmt.Errorf("failed to reserve idempotency key: %w", err)
	}

	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            s.keyAttr(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read idempotency key: %w", err)
	}
	if out.Item == nil {
		// Released between the two calls; treat as still in flight.
		return &Record{Key: key, State: StatePending}, nil
	}

	var existing item
	if err := attributevalue.UnmarshalMap(out.Item, &existing); err != nil {
		return nil, fmt.Errorf("failed to decode idempotency item: %w", err)
	}
	return &Record{
		Key:       existing.Key,
		State:     State(existing.State),
		Status:    existing.Status,
		Body:      existing.Body,
		ExpiresAt: time.Unix(existing.ExpiresAt, 0),
	}, nil
}

func (s *DynamoStore) Complete(ctx context.Context, key string, status int, body []byte, ttl time.Duration) error {
	av, err := attributevalue.MarshalMap(item{
		Key:       key,
		State:     string(StateComplete),
		Status:    status,
		Body:      body,
		ExpiresAt: s.now().Add(ttl).Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode idempotency item: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      av,
	}); err != nil {
		return fmt.Errorf("failed to store idempotent response: %w", err)
	}
	return nil
}

func (s *DynamoStore) Release(ctx context.Context, key string) error {
	if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       s.keyAttr(key),
	}); err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}
