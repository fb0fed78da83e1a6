package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/factoryops/core/internal/alerting"
	"github.com/factoryops/core/internal/cloud"
	"github.com/factoryops/core/internal/config"
	"github.com/factoryops/core/internal/logging"
	"github.com/factoryops/core/internal/queue"
	"github.com/factoryops/core/internal/repository"
	"github.com/factoryops/core/internal/rulecache"
)

func main() {
	if err := config.Load(); err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	logging.Init(config.LogLevel())

	db, err := repository.Connect()
	if err != nil {
		log.Fatal().Err(err).Msg("db connect failed")
	}
	defer db.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     config.RedisAddr(),
		Password: config.RedisPassword(),
		DB:       config.RedisDB(),
	})
	defer redisClient.Close()

	rules := repository.NewRuleRepo(db)
	factories := repository.NewFactoryRepo(db)
	alerts := repository.NewAlertRepo(db)

	ruleCache := rulecache.New(redisClient, rules)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go ruleCache.Subscribe(ctx)

	notifyQueue, err := buildNotificationQueue(ctx, redisClient)
	if err != nil {
		log.Fatal().Err(err).Msg("notification queue init failed")
	}
	ruleQueue := queue.NewRedisQueue(redisClient, "rule_engine", "alertworker")

	worker := alerting.NewWorker(ruleQueue, notifyQueue, ruleCache, factories, alerts)

	log.Info().Msg("alertworker running; Ctrl+C to stop")
	if err := worker.Run(ctx, config.QueueConcurrency("rule_engine")); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("alertworker exited")
	}
}

func buildNotificationQueue(ctx context.Context, client *redis.Client) (queue.Queue, error) {
	switch config.QueueBackend() {
	case "sns":
		snsClient, err := cloud.NewSNSClient(ctx, config.AWSRegion(), config.AWSSNSTopicArn())
		if err != nil {
			return nil, err
		}
		return queue.NewSNSQueue(snsClient), nil
	default:
		return queue.NewRedisQueue(client, "notifications", "alertworker"), nil
	}
}
