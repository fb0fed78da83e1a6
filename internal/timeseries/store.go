// Package timeseries implements the Time-Series Writer (C3): a
// store-agnostic buffering/batching/retry/overflow pipeline in front of a
// pluggable TimeSeriesStore backend.
package timeseries

import (
	"context"
	"time"
)

// Point is one sample: tags identify the (factory, device); Fields holds
// the metric values for that instant.
type Point struct {
	FactoryID int64
	DeviceID  int64
	Fields    map[string]float64
	Timestamp time.Time
}

// TimeSeriesStore is the narrow interface spec.md §1 describes the time-
// series store as being reached through. Two backends implement it: the
// HTTP line-protocol writer (httpwriter.go) and the DynamoDB writer
// (dynamowriter.go).
type TimeSeriesStore interface {
	WriteBatch(ctx context.Context, points []Point) error
}
