package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/factoryops/core/internal/config"
)

// RedisQueue backs one named queue with a Redis Stream and a single
// consumer group, grounded on owl-common/redis/streams.go's
// XAdd/XReadGroup/XGroupCreate consumer-group pattern, extended here with
// XPending/XClaim-based redelivery and a dead-letter stream.
type RedisQueue struct {
	client            *redis.Client
	name              string
	group             string
	consumer          string
	visibilityTimeout time.Duration
	maxRetries        int
	maxPayloadBytes   int
}

func NewRedisQueue(client *redis.Client, name, consumer string) *RedisQueue {
	return &RedisQueue{
		client:            client,
		name:              name,
		group:             name + "-workers",
		consumer:          consumer,
		visibilityTimeout: config.QueueVisibilityTimeout(),
		maxRetries:        config.QueueMaxRetries(),
		maxPayloadBytes:   config.QueueMaxPayloadBytes(),
	}
}

func (q *RedisQueue) deadLetterStream() string { return "dead-letter:" + q.name }

// ensureGroup creates the consumer group starting from the stream's
// beginning, tolerating the "already exists" case the same way
// owl-common/redis/streams.go's CreateConsumerGroup does.
func (q *RedisQueue) ensureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.name, q.group, "0").Err()
	if err != nil && !isBusyGroupErr(err) {
		return fmt.Errorf("queue: create consumer group: %w", err)
	}
	return nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}

func (q *RedisQueue) Submit(ctx context.Context, payload []byte) (string, error) {
	if len(payload) > q.maxPayloadBytes {
		return "", ErrPayloadTooLarge
	}
	if err := q.ensureGroup(ctx); err != nil {
		return "", err
	}
	id, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.name,
		Values: map[string]interface{}{"payload": payload},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("queue: xadd: %w", err)
	}
	return id, nil
}

func (q *RedisQueue) Consume(ctx context.Context, maxInFlight int, handler Handler) error {
	if err := q.ensureGroup(ctx); err != nil {
		return err
	}

	reclaimTicker := time.NewTicker(q.visibilityTimeout)
	defer reclaimTicker.Stop()

	sem := make(chan struct{}, maxInFlight)
	for {
		select {
		case <-ctx.Done():
			// Wait for in-flight handlers so their acks land before returning.
			for i := 0; i < cap(sem); i++ {
				sem <- struct{}{}
			}
			return nil
		case <-reclaimTicker.C:
			q.reclaimStale(ctx, handler, sem)
		default:
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: q.consumer,
			Streams:  []string{q.name, ">"},
			Count:    int64(maxInFlight),
			Block:    2 * time.Second,
		}).Result()
		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			log.Error().Err(err).Str("queue", q.name).Msg("queue.read_failed")
			continue
		}

		for _, s := range streams {
			for _, msg := range s.Messages {
				sem <- struct{}{}
				go func(msg redis.XMessage) {
					defer func() { <-sem }()
					q.handle(ctx, handler, msg, 0)
				}(msg)
			}
		}
	}
}

func (q *RedisQueue) handle(ctx context.Context, handler Handler, msg redis.XMessage, retries int) {
	payload, _ := msg.Values["payload"].(string)
	task := Task{Ticket: msg.ID, Payload: []byte(payload), Retries: retries}

	if err := handler(ctx, task); err != nil {
		log.Warn().Err(err).Str("queue", q.name).Str("ticket", msg.ID).Msg("queue.task_nacked")
		return // left pending; reclaimStale redelivers or dead-letters it
	}
	q.client.XAck(context.WithoutCancel(ctx), q.name, q.group, msg.ID)
}

// reclaimStale claims pending entries idle past the visibility timeout,
// moving ones that have exceeded max_retries to the dead-letter stream
// and redelivering the rest.
func (q *RedisQueue) reclaimStale(ctx context.Context, handler Handler, sem chan struct{}) {
	pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: q.name,
		Group:  q.group,
		Idle:   q.visibilityTimeout,
		Start:  "-",
		End:    "+",
		Count:  100,
	}).Result()
	if err != nil {
		return
	}

	for _, p := range pending {
		if int(p.RetryCount) > q.maxRetries {
			q.deadLetter(ctx, p.ID)
			continue
		}
		claimed, err := q.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   q.name,
			Group:    q.group,
			Consumer: q.consumer,
			MinIdle:  q.visibilityTimeout,
			Messages: []string{p.ID},
		}).Result()
		if err != nil {
			continue
		}
		for _, msg := range claimed {
			sem <- struct{}{}
			go func(msg redis.XMessage, retries int) {
				defer func() { <-sem }()
				q.handle(ctx, handler, msg, retries)
			}(msg, int(p.RetryCount))
		}
	}
}

func (q *RedisQueue) deadLetter(ctx context.Context, id string) {
	msgs, err := q.client.XRange(ctx, q.name, id, id).Result()
	if err != nil || len(msgs) == 0 {
		return
	}
	q.client.XAdd(ctx, &redis.XAddArgs{Stream: q.deadLetterStream(), Values: msgs[0].Values})
	q.client.XAck(ctx, q.name, q.group, id)
	log.Error().Str("queue", q.name).Str("ticket", id).Msg("queue.dead_lettered")
}
