package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"feedback-sync/internal/infra/metrics"
)

// Redis реализует Backend через Redis.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis создаёт хранилище с префиксом ключей.
func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

// Probe проверяет соединение.
func (c *Redis) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	start := time.Now()
	err := c.client.Ping(ctx).Err()
	metrics.ObserveNetworkRequest("redis", "ping", "cache", start, err)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Get возвращает значение.
func (c *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	metrics.ObserveNetworkRequest("redis", "get", "cache", start, ignoreNil(err))
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return data, err
}

// Set задаёт значение без TTL.
func (c *Redis) Set(ctx context.Context, key string, value []byte) error {
	start := time.Now()
	err := c.client.Set(ctx, c.prefix+key, value, 0).Err()
	metrics.ObserveNetworkRequest("redis", "set", "cache", start, err)
	if err != nil && isOOM(err) {
		return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
	}
	return err
}

// Delete удаляет значение.
func (c *Redis) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := c.client.Del(ctx, c.prefix+key).Err()
	metrics.ObserveNetworkRequest("redis", "del", "cache", start, err)
	return err
}

func isOOM(err error) bool {
	var redisErr redis.Error
	if errors.As(err, &redisErr) {
		return strings.HasPrefix(redisErr.Error(), "OOM")
	}
	return false
}

func ignoreNil(err error) error {
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}
