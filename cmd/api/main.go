package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"feedback-sync/internal/adapters/api"
	"feedback-sync/internal/adapters/repo"
	"feedback-sync/internal/domain"
	"feedback-sync/internal/infra/config"
	"feedback-sync/internal/infra/db"
	httpinfra "feedback-sync/internal/infra/http"
	logpkg "feedback-sync/internal/infra/log"
	"feedback-sync/internal/infra/metrics"
	"feedback-sync/internal/infra/queue"
	"feedback-sync/internal/usecase/feedback"
)

func main() {
	cfg := config.Load()
	logger := logpkg.NewLogger(cfg.AppEnv, cfg.LogLevel, cfg.LogFormat)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: нет подключения к БД")
	}
	defer store.Close()

	publisher, closePublisher, err := openPublisher(cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("sink", cfg.Events.Sink).Msg("api: не удалось подключить издателя событий")
	}
	defer closePublisher()

	svc := feedback.NewService(store, logpkg.Component(logger, "feedback"), feedback.WithPublisher(publisher))

	server := httpinfra.NewServer(logpkg.Component(logger, "http"))
	api.NewHandler(svc, logpkg.Component(logger, "api"), api.WithBatchBodyLimit(cfg.BatchMaxBytes)).RegisterRoutes(server.Router)

	if cfg.MetricsAddr != "" {
		metrics.StartServer(ctx, logpkg.Component(logger, "metrics"), cfg.MetricsAddr)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Int("port", cfg.Port).Msg("api: старт")
		errCh <- server.Start(fmt.Sprintf(":%d", cfg.Port))
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("api: сервер остановлен")
		}
	}
	logger.Info().Msg("api: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api: graceful shutdown failed")
	}
}

func openStore(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger) (domain.FeedbackRepo, error) {
	repoLogger := logpkg.Component(logger, "repo")
	if cfg.PGDSN == "" {
		logger.Info().Str("path", cfg.DBPath).Msg("api: хранилище sqlite")
		store, err := repo.OpenSQLite(ctx, cfg.DBPath, repoLogger)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		return nil, err
	}
	if err := repo.MigratePostgres(ctx, pool, repoLogger); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info().Msg("api: хранилище postgres")
	return repo.NewPostgres(pool), nil
}

func openPublisher(cfg config.AppConfig) (domain.EventPublisher, func(), error) {
	switch cfg.Events.Sink {
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, nil, fmt.Errorf("EVENTS_SINK=redis требует REDIS_ADDR")
		}
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		return queue.NewRedisPublisher(client, cfg.Events.RedisKey), func() { _ = client.Close() }, nil
	case "amqp":
		pub, err := queue.NewRabbitPublisher(cfg.Events.AMQPURL, cfg.Events.AMQPQueue)
		if err != nil {
			return nil, nil, err
		}
		return pub, func() { _ = pub.Close() }, nil
	default:
		return queue.Noop{}, func() {}, nil
	}
}
