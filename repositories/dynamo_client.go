package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"
)

type DynamoDBAPI interface {
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// DynamoDBClient tracks recognition job status keyed by correlation id.
type DynamoDBClient struct {
	client    DynamoDBAPI
	tableName string
	now       func() time.Time
}

func NewDynamoDBClient(client DynamoDBAPI, tableName string) *DynamoDBClient {
	return &DynamoDBClient{
		client:    client,
		tableName: tableName,
		now:       time.Now,
	}
}

// UpdateJobStatus sets the status and its timestamp. Without a table it is a
// no-op.
func (d *DynamoDBClient) UpdateJobStatus(ctx context.Context, correlationID, status string) error {
	if d.tableName == "" {
		log.Debug().Str("correlation_id", correlationID).Msg("DYNAMODB_TABLE not configured, skipping status update")
		return nil
	}

	_, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			"correlation_id": &types.AttributeValueMemberS{Value: correlationID},
		},
		UpdateExpression: aws.String("SET #s = :status, updated_at = :uat"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status": &types.AttributeValueMemberS{Value: status},
			":uat":    &types.AttributeValueMemberS{Value: d.now().UTC().Format(time.RFC3339)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to update job status in DynamoDB for %s: %w", correlationID, err)
	}

	log.Debug().Str("correlation_id", correlationID).Str("status", status).Str("table", d.tableName).Msg("job status updated")
	return nil
}
