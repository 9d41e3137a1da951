package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"feedback-sync/internal/adapters/feedbackclient"
	"feedback-sync/internal/domain"
	"feedback-sync/internal/infra/cache"
	"feedback-sync/internal/infra/config"
	logpkg "feedback-sync/internal/infra/log"
	"feedback-sync/internal/usecase/localcache"
	"feedback-sync/internal/usecase/syncer"
)

// Env собирает зависимости, общие для всех команд.
type Env struct {
	Cache     *localcache.Store
	Transport domain.Transport
	Engine    *syncer.Engine
	Logger    zerolog.Logger
}

// Factory строит окружение и функцию освобождения ресурсов.
type Factory func(ctx context.Context, opts *RootOptions) (*Env, func(), error)

// DefaultFactory читает конфигурацию из окружения и .env.
func DefaultFactory(ctx context.Context, opts *RootOptions) (*Env, func(), error) {
	cfg, err := config.Parse()
	if err != nil {
		return nil, nil, err
	}
	level := cfg.LogLevel
	if level == "" {
		level = "warn"
	}
	if opts.Verbose {
		level = "debug"
	}
	logger := logpkg.NewLoggerTo(os.Stderr, cfg.AppEnv, level, "console")

	var (
		backend cache.Backend
		closers []func()
	)
	switch cfg.Cache.Backend {
	case "memory":
		backend = cache.NewMemory(cfg.Cache.QuotaBytes)
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, nil, fmt.Errorf("CACHE_BACKEND=redis требует REDIS_ADDR")
		}
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		closers = append(closers, func() { _ = client.Close() })
		backend = cache.NewRedis(client, cfg.Cache.RedisKey)
	default:
		backend = cache.NewFile(cfg.Cache.Dir, cfg.Cache.QuotaBytes)
	}

	client, err := feedbackclient.New(cfg.Sync.APIURL, feedbackclient.WithTimeout(cfg.Sync.RequestTimeout))
	if err != nil {
		return nil, nil, err
	}
	store := localcache.New(backend, logpkg.Component(logger, "localcache"))
	engine := syncer.New(store, client, syncer.Config{
		Interval:      cfg.Sync.Interval,
		MaxAttempts:   cfg.Sync.RetryAttempts,
		RetryDelay:    cfg.Sync.RetryDelay,
		BatchSize:     cfg.Sync.BatchSize,
		BatchMaxBytes: cfg.Sync.BatchMaxBytes,
	}, logpkg.Component(logger, "syncer"))

	cleanup := func() {
		for _, c := range closers {
			c()
		}
	}
	return &Env{Cache: store, Transport: client, Engine: engine, Logger: logger}, cleanup, nil
}
