package queue

import (
	"context"
	"errors"

	"github.com/factoryops/core/internal/cloud"
	"github.com/factoryops/core/internal/config"
)

// ErrConsumeUnsupported is returned by SNSQueue.Consume: SNS is a fan-out
// push transport, not a pollable queue, so nothing in this process reads
// it back. It exists so the notifications queue can hand delivery off to
// an external subscriber (spec.md §9's "workers/notifications.py") instead
// of the alerting worker having to poll Redis for that one queue.
var ErrConsumeUnsupported = errors.New("queue: sns backend does not support Consume")

// SNSQueue is the alternate notifications-queue backend: Submit publishes
// straight to an SNS topic instead of appending to a Redis Stream.
type SNSQueue struct {
	client *cloud.SNSClient
}

func NewSNSQueue(client *cloud.SNSClient) *SNSQueue {
	return &SNSQueue{client: client}
}

func (q *SNSQueue) Submit(ctx context.Context, payload []byte) (string, error) {
	if len(payload) > config.QueueMaxPayloadBytes() {
		return "", ErrPayloadTooLarge
	}
	return q.client.Publish(ctx, "factoryops notification", payload)
}

func (q *SNSQueue) Consume(ctx context.Context, maxInFlight int, handler Handler) error {
	return ErrConsumeUnsupported
}
