package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"ai-tutor/internal/domain"
)

const (
	skThread           = "THREAD#"
	defaultTTLDuration = 30 * 24 * time.Hour
)

// dynamodbAPI is the minimal DynamoDB interface required by DynamoStore.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// DynamoStore keeps one item per thread in a single table.
type DynamoStore struct {
	api       dynamodbAPI
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

type DynamoOption func(*DynamoStore)

// WithTTL sets how long an untouched thread is kept before DynamoDB expires it.
func WithTTL(d time.Duration) DynamoOption {
	return func(s *DynamoStore) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// NewDynamoStore creates a new DynamoStore.
func NewDynamoStore(api dynamodbAPI, tableName string, opts ...DynamoOption) (*DynamoStore, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	s := &DynamoStore{api: api, tableName: tableName, ttl: defaultTTLDuration, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// threadPK returns the DynamoDB partition key for a thread.
func threadPK(threadID string) string {
	return "THREAD#" + threadID
}

func (s *DynamoStore) ttlValue() int64 {
	return s.now().Add(s.ttl).Unix()
}

// Create writes a new thread; it fails with domain.ErrThreadExists if the id is taken.
func (s *DynamoStore) Create(ctx context.Context, thread domain.Thread) error {
	item, err := s.threadItem(thread)
	if err != nil {
		return err
	}
	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return alreadyExists(thread.ID)
		}
		return fmt.Errorf("repository: Create: %w", err)
	}
	return nil
}

// Load reads a thread with a consistent read.
func (s *DynamoStore) Load(ctx context.Context, id string) (domain.Thread, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: threadPK(id)},
			"SK": &types.AttributeValueMemberS{Value: skThread},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Thread{}, fmt.Errorf("repository: Load get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Thread{}, notFound(id)
	}

	doc, err := strAttr(out.Item, "document")
	if err != nil {
		return domain.Thread{}, fmt.Errorf("repository: Load decode: %w", err)
	}
	return decodeThread(id, []byte(doc))
}

// Save replaces an existing thread and refreshes its TTL. Saving a thread that
// was never created fails with domain.ErrThreadNotFound.
func (s *DynamoStore) Save(ctx context.Context, thread domain.Thread) error {
	item, err := s.threadItem(thread)
	if err != nil {
		return err
	}
	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_exists(PK)"),
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return notFound(thread.ID)
		}
		return fmt.Errorf("repository: Save: %w", err)
	}
	return nil
}

func (s *DynamoStore) threadItem(thread domain.Thread) (map[string]types.AttributeValue, error) {
	doc, err := encodeThread(thread)
	if err != nil {
		return nil, err
	}
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: threadPK(thread.ID)},
		"SK":        &types.AttributeValueMemberS{Value: skThread},
		"threadId":  &types.AttributeValueMemberS{Value: thread.ID},
		"studentId": &types.AttributeValueMemberS{Value: thread.StudentID},
		"messages":  &types.AttributeValueMemberN{Value: strconv.Itoa(len(thread.Messages))},
		"updatedAt": &types.AttributeValueMemberS{Value: thread.UpdatedAt.UTC().Format(time.RFC3339Nano)},
		"document":  &types.AttributeValueMemberS{Value: string(doc)},
		"ttl":       &types.AttributeValueMemberN{Value: strconv.FormatInt(s.ttlValue(), 10)},
	}, nil
}

func isConditionalCheckFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}
