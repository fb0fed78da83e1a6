// Package queue implements the Work Queue Abstraction (C7): named FIFO
// queues with concurrency caps, redelivery of unacknowledged tasks after a
// fixed visibility timeout (no backoff between attempts), and
// dead-lettering.
package queue

import (
	"context"
	"errors"
)

var ErrPayloadTooLarge = errors.New("queue: payload exceeds size bound")

// Task is one unit of work read back from a queue.
type Task struct {
	Ticket  string
	Payload []byte
	// Retries is how many times this task has been redelivered.
	Retries int
}

// Handler processes one task; returning an error nacks it (and requeues,
// subject to the retry cap), returning nil acks it.
type Handler func(ctx context.Context, task Task) error

// Queue is the narrow interface spec.md §4.7 describes: submit/consume
// with ack/nack, backed by Redis Streams by default (redis.go) or, for the
// notifications queue, optionally by SNS (sns.go).
type Queue interface {
	// Submit enqueues an opaque payload, returning a ticket identifying it.
	Submit(ctx context.Context, payload []byte) (ticket string, err error)
	// Consume runs handler for each task delivered, blocking until ctx is
	// canceled. maxInFlight bounds concurrent handler invocations.
	Consume(ctx context.Context, maxInFlight int, handler Handler) error
}

const (
	NameRuleEngine    = "rule_engine"
	NameAnalytics     = "analytics"
	NameReporting     = "reporting"
	NameNotifications = "notifications"
)
