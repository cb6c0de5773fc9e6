package activity

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/google/uuid"
)

// retention is how long activity items live before DynamoDB TTL expires them.
const retention = 90 * 24 * time.Hour

// PutItemAPI is the slice of the DynamoDB client the logger needs.
type PutItemAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

type dynamoItem struct {
	ID        string         `dynamodbav:"id"`
	UserID    string         `dynamodbav:"user_id"`
	Action    string         `dynamodbav:"action"`
	Details   map[string]any `dynamodbav:"details,omitempty"`
	Timestamp int64          `dynamodbav:"timestamp"`
	ExpiresAt int64          `dynamodbav:"expires_at"`
}

type DynamoLogger struct {
	client    PutItemAPI
	tableName string
	now       func() time.Time
}

// NewDynamoLogger loads the default AWS configuration (environment,
// shared config, instance role) and returns a logger for tableName.
func NewDynamoLogger(ctx context.Context, tableName string) (*DynamoLogger, error) {
	if tableName == "" {
		return nil, fmt.Errorf("dynamodb activity table is not set")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS SDK config: %w", err)
	}
	return NewDynamoLoggerWithClient(dynamodb.NewFromConfig(cfg), tableName), nil
}

func NewDynamoLoggerWithClient(client PutItemAPI, tableName string) *DynamoLogger {
	return &DynamoLogger{client: client, tableName: tableName, now: time.Now}
}

func (l *DynamoLogger) LogActivity(ctx context.Context, userID, action string, details map[string]any) error {
	now := l.now()
	item, err := attributevalue.MarshalMap(dynamoItem{
		ID:        uuid.NewString(),
		UserID:    userID,
		Action:    action,
		Details:   details,
		Timestamp: now.Unix(),
		ExpiresAt: now.Add(retention).Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}

	_, err = l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(l.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to store activity in dynamodb: %w", err)
	}
	return nil
}
