package cloud

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoDBClient wraps the AWS SDK v2 DynamoDB client, adapted from its
// energy-meter PutReading/BatchPutReadings shape into a generic telemetry
// item keyed on (factory_id, device_id, timestamp).
type DynamoDBClient struct {
	svc   *dynamodb.Client
	table string
}

func NewDynamoDBClient(ctx context.Context, region, table string) (*DynamoDBClient, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("cloud: load AWS config: %w", err)
	}
	return &DynamoDBClient{svc: dynamodb.NewFromConfig(cfg), table: table}, nil
}

// telemetryItem is the DynamoDB item shape for one time-series point: a
// partition key combining factory and device, a sort key of the sample's
// nanosecond timestamp, and the metric fields as a flat numeric map.
type telemetryItem struct {
	FactoryDevice string             `dynamodbav:"factoryDevice"`
	Timestamp     int64              `dynamodbav:"timestamp"`
	FactoryID     int64              `dynamodbav:"factoryId"`
	DeviceID      int64              `dynamodbav:"deviceId"`
	Fields        map[string]float64 `dynamodbav:"fields"`
}

// PutPoint stores one time-series point.
func (c *DynamoDBClient) PutPoint(ctx context.Context, factoryID, deviceID int64, fields map[string]float64, timestampNano int64) error {
	item, err := attributevalue.MarshalMap(telemetryItem{
		FactoryDevice: partitionKey(factoryID, deviceID),
		Timestamp:     timestampNano,
		FactoryID:     factoryID,
		DeviceID:      deviceID,
		Fields:        fields,
	})
	if err != nil {
		return fmt.Errorf("cloud: marshal telemetry item: %w", err)
	}
	_, err = c.svc.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(c.table), Item: item})
	if err != nil {
		return fmt.Errorf("cloud: put telemetry item: %w", err)
	}
	return nil
}

// BatchPutPoints writes a batch of points, splitting into DynamoDB's
// 25-item BatchWriteItem limit the same way the teacher's
// BatchPutReadings did.
func (c *DynamoDBClient) BatchPutPoints(ctx context.Context, items []struct {
	FactoryID int64
	DeviceID  int64
	Fields    map[string]float64
	Timestamp int64
}) error {
	const batchSize = 25

	for i := 0; i < len(items); i += batchSize {
		end := i + batchSize
		if end > len(items) {
			end = len(items)
		}
		batch := items[i:end]
		writeRequests := make([]types.WriteRequest, 0, len(batch))

		for _, it := range batch {
			av, err := attributevalue.MarshalMap(telemetryItem{
				FactoryDevice: partitionKey(it.FactoryID, it.DeviceID),
				Timestamp:     it.Timestamp,
				FactoryID:     it.FactoryID,
				DeviceID:      it.DeviceID,
				Fields:        it.Fields,
			})
			if err != nil {
				return fmt.Errorf("cloud: marshal batch item: %w", err)
			}
			writeRequests = append(writeRequests, types.WriteRequest{PutRequest: &types.PutRequest{Item: av}})
		}

		_, err := c.svc.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{c.table: writeRequests},
		})
		if err != nil {
			return fmt.Errorf("cloud: batch write telemetry items: %w", err)
		}
	}
	return nil
}

func partitionKey(factoryID, deviceID int64) string {
	return strconv.FormatInt(factoryID, 10) + "#" + strconv.FormatInt(deviceID, 10)
}
