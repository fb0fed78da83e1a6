package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/factoryops/core/internal/cloud"
	"github.com/factoryops/core/internal/config"
	"github.com/factoryops/core/internal/identity"
	"github.com/factoryops/core/internal/ingest"
	"github.com/factoryops/core/internal/logging"
	"github.com/factoryops/core/internal/parameter"
	"github.com/factoryops/core/internal/queue"
	"github.com/factoryops/core/internal/repository"
	"github.com/factoryops/core/internal/timeseries"
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

	factories := repository.NewFactoryRepo(db)
	devices := repository.NewDeviceRepo(db)
	params := repository.NewParameterRepo(db)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	identityCache := identity.New(redisClient, factories, devices, params)
	go identityCache.Subscribe(ctx)
	discoverer := parameter.NewDiscoverer(identityCache, params)

	tsStore, err := buildTimeSeriesStore()
	if err != nil {
		log.Fatal().Err(err).Msg("timeseries store init failed")
	}
	tsWriter := timeseries.NewWriter(tsStore, timeseries.NewOverflow())
	defer tsWriter.Close()

	ruleQueue, err := buildRuleQueue(redisClient)
	if err != nil {
		log.Fatal().Err(err).Msg("rule queue init failed")
	}

	coordinator := ingest.New(identityCache, discoverer, devices, tsWriter, ruleQueue)
	coordinator.Start()
	defer coordinator.Stop()

	opts := mqtt.NewClientOptions().
		AddBroker(config.MQTTBroker()).
		SetClientID(config.MQTTClientID()).
		SetUsername(config.MQTTUsername()).
		SetPassword(config.MQTTPassword()).
		SetAutoReconnect(true)
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Fatal().Err(token.Error()).Msg("mqtt connect failed")
	}
	defer client.Disconnect(250)

	handler := func(_ mqtt.Client, m mqtt.Message) {
		coordinator.Dispatch(ingest.Message{
			Topic:   m.Topic(),
			Payload: m.Payload(),
			Ack:     func() { m.Ack() },
			Nack:    func() {}, // MQTT QoS redelivers on its own; nothing to do here
		})
	}

	topicFilter := config.MQTTTopicFilter()
	if token := client.Subscribe(topicFilter, 1, handler); token.Wait() && token.Error() != nil {
		log.Fatal().Err(token.Error()).Msg("mqtt subscribe failed")
	}

	log.Info().Str("topic_filter", topicFilter).Msg("ingestor running; Ctrl+C to stop")
	<-ctx.Done()
	log.Info().Msg("ingestor shutting down")
}

func buildTimeSeriesStore() (timeseries.TimeSeriesStore, error) {
	switch config.TSDBBackend() {
	case "dynamodb":
		client, err := cloud.NewDynamoDBClient(context.Background(), config.AWSRegion(), config.AWSDynamoDBTable())
		if err != nil {
			return nil, err
		}
		return timeseries.NewDynamoWriter(client), nil
	default:
		return timeseries.NewHTTPWriter(), nil
	}
}

func buildRuleQueue(client *redis.Client) (queue.Queue, error) {
	return queue.NewRedisQueue(client, "rule_engine", config.MQTTClientID()), nil
}
