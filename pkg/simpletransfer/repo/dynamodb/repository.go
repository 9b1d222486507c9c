package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/tendant/simple-transfer/pkg/simpletransfer"
)

// DefaultObjectKeyIndex is the global secondary index used for key lookups.
const DefaultObjectKeyIndex = "object_key-index"

// API is the subset of the DynamoDB client the repository uses
type API interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

type item struct {
	ShortID   string    `dynamodbav:"short_id"`
	ObjectKey string    `dynamodbav:"object_key"`
	CreatedAt time.Time `dynamodbav:"created_at"`
}

// Repository implements simpletransfer.MappingStore on a DynamoDB table keyed by short_id
type Repository struct {
	client         API
	tableName      string
	objectKeyIndex string
}

// Option configures the repository
type Option func(*Repository)

// WithObjectKeyIndex sets the GSI on object_key; an empty name disables key lookups
func WithObjectKeyIndex(name string) Option {
	return func(r *Repository) {
		r.objectKeyIndex = name
	}
}

// New creates a repository for tableName
func New(client API, tableName string, opts ...Option) *Repository {
	r := &Repository{
		client:         client,
		tableName:      tableName,
		objectKeyIndex: DefaultObjectKeyIndex,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create writes the record unless the short id already exists
func (r *Repository) Create(ctx context.Context, record *simpletransfer.MappingRecord) error {
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	av, err := attributevalue.MarshalMap(item{
		ShortID:   record.ShortID,
		ObjectKey: record.ObjectKey,
		CreatedAt: createdAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal mapping: %w", err)
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(short_id)"),
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return simpletransfer.ErrDuplicateShortID
		}
		return fmt.Errorf("failed to put mapping: %w", err)
	}
	return nil
}

// FindByShortID reads the record with a strongly consistent read
func (r *Repository) FindByShortID(ctx context.Context, shortID string) (*simpletransfer.MappingRecord, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"short_id": &types.AttributeValueMemberS{Value: shortID},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get mapping: %w", err)
	}
	if out.Item == nil {
		return nil, simpletransfer.ErrMappingNotFound
	}
	return unmarshal(out.Item)
}

// FindByObjectKey queries the object key index
func (r *Repository) FindByObjectKey(ctx context.Context, objectKey string) (*simpletransfer.MappingRecord, error) {
	if r.objectKeyIndex == "" {
		return nil, simpletransfer.ErrMappingNotFound
	}

	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String(r.objectKeyIndex),
		KeyConditionExpression: aws.String("object_key = :key"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":key": &types.AttributeValueMemberS{Value: objectKey},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query mapping by object key: %w", err)
	}
	if len(out.Items) == 0 {
		return nil, simpletransfer.ErrMappingNotFound
	}
	return unmarshal(out.Items[0])
}

// Ping describes the table
func (r *Repository) Ping(ctx context.Context) error {
	_, err := r.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(r.tableName),
	})
	if err != nil {
		return fmt.Errorf("failed to describe table %s: %w", r.tableName, err)
	}
	return nil
}

func unmarshal(av map[string]types.AttributeValue) (*simpletransfer.MappingRecord, error) {
	var it item
	if err := attributevalue.UnmarshalMap(av, &it); err != nil {
		return nil, fmt.Errorf("failed to unmarshal mapping: %w", err)
	}
	return &simpletransfer.MappingRecord{
		ShortID:   it.ShortID,
		ObjectKey: it.ObjectKey,
		CreatedAt: it.CreatedAt.UTC(),
	}, nil
}
