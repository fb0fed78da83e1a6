package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/factoryops/core/internal/config"
	"github.com/factoryops/core/internal/httpapi"
	"github.com/factoryops/core/internal/identity"
	"github.com/factoryops/core/internal/logging"
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

	factories := repository.NewFactoryRepo(db)
	devices := repository.NewDeviceRepo(db)
	params := repository.NewParameterRepo(db)
	alerts := repository.NewAlertRepo(db)
	rules := repository.NewRuleRepo(db)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	identityCache := identity.New(redisClient, factories, devices, params)
	go identityCache.Subscribe(ctx)

	app := httpapi.New(httpapi.Deps{
		Identity:  identityCache,
		RuleCache: rulecache.New(redisClient, rules),
		Factories: factories,
		Devices:   devices,
		Alerts:    alerts,
	})

	addr := config.APIAddr()
	if addr == "" {
		addr = ":8080"
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("api listening")
		serveErr <- app.Listen(addr)
	}()

	select {
	case err := <-serveErr:
		log.Fatal().Err(err).Msg("server exit")
	case <-ctx.Done():
		log.Info().Msg("api shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownGracePeriod())
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("api shutdown error")
		}
	}
}
