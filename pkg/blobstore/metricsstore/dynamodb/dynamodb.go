// Package dynamodb persists blob store metrics as one DynamoDB item per
// bucket, updated with atomic ADD expressions so several processes can share
// a bucket.
//
// Table schema:
//   - Partition key: bucket (string)
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name blobstore-metrics \
//	  --attribute-definitions AttributeName=bucket,AttributeType=S \
//	  --key-schema AttributeName=bucket,KeyType=HASH \
//	  --billing-mode PAY_PER_REQUEST
package dynamodb

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/tendant/simple-blobstore/pkg/blobstore/metricsstore"
)

const (
	bucketAttr    = "bucket"
	blobCountAttr = "blob_count"
	totalSizeAttr = "total_size"
)

// Client is the subset of *dynamodb.Client used by Backend.
type Client interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Backend implements metricsstore.Backend over a DynamoDB table.
type Backend struct {
	client Client
	table  string
}

var _ metricsstore.Backend = (*Backend)(nil)

// New creates a backend writing to table.
func New(client Client, table string) *Backend {
	return &Backend{client: client, table: table}
}

func (b *Backend) key(scope metricsstore.Scope) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		bucketAttr: &types.AttributeValueMemberS{Value: scope.Bucket},
	}
}

func (b *Backend) Load(ctx context.Context, scope metricsstore.Scope) (metricsstore.Totals, error) {
	out, err := b.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(b.table),
		Key:            b.key(scope),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return metricsstore.Totals{}, fmt.Errorf("failed to load metrics for %s: %w", scope.Bucket, err)
	}
	if out.Item == nil {
		return metricsstore.Totals{}, nil
	}

	var totals metricsstore.Totals
	if totals.BlobCount, err = number(out.Item, blobCountAttr); err != nil {
		return metricsstore.Totals{}, err
	}
	if totals.TotalSize, err = number(out.Item, totalSizeAttr); err != nil {
		return metricsstore.Totals{}, err
	}
	return totals, nil
}

func (b *Backend) Add(ctx context.Context, scope metricsstore.Scope, delta metricsstore.Totals) error {
	_, err := b.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(b.table),
		Key:              b.key(scope),
		UpdateExpression: aws.String("ADD #count :count, #size :size"),
		ExpressionAttributeNames: map[string]string{
			"#count": blobCountAttr,
			"#size":  totalSizeAttr,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":count": &types.AttributeValueMemberN{Value: strconv.FormatInt(delta.BlobCount, 10)},
			":size":  &types.AttributeValueMemberN{Value: strconv.FormatInt(delta.TotalSize, 10)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to update metrics for %s: %w", scope.Bucket, err)
	}
	return nil
}

func (b *Backend) Remove(ctx context.Context, scope metricsstore.Scope) error {
	_, err := b.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(b.table),
		Key:       b.key(scope),
	})
	if err != nil {
		return fmt.Errorf("failed to remove metrics for %s: %w", scope.Bucket, err)
	}
	return nil
}

func number(item map[string]types.AttributeValue, name string) (int64, error) {
	av, ok := item[name]
	if !ok {
		return 0, nil
	}
	n, ok := av.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("attribute %s is not a number", name)
	}
	v, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return v, nil
}
