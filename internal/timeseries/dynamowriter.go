package timeseries

import (
	"context"
	"fmt"

	"github.com/factoryops/core/internal/cloud"
)

// DynamoWriter adapts the teacher's DynamoDB client into a second
// TimeSeriesStore backend (spec.md §4.3'), selected via TSDB_BACKEND=dynamodb.
type DynamoWriter struct {
	client *cloud.DynamoDBClient
}

func NewDynamoWriter(client *cloud.DynamoDBClient) *DynamoWriter {
	return &DynamoWriter{client: client}
}

func (w *DynamoWriter) WriteBatch(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	items := make([]struct {
		FactoryID int64
		DeviceID  int64
		Fields    map[string]float64
		Timestamp int64
	}, len(points))
	for i, p := range points {
		items[i] = struct {
			FactoryID int64
			DeviceID  int64
			Fields    map[string]float64
			Timestamp int64
		}{p.FactoryID, p.DeviceID, p.Fields, p.Timestamp.UnixNano()}
	}
	if err := w.client.BatchPutPoints(ctx, items); err != nil {
		return fmt.Errorf("timeseries: dynamodb batch write: %w", err)
	}
	return nil
}
