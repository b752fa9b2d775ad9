// Package redis: персистентное key-value хранилище релея поверх Redis.
package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/xela07ax/cors-relay/internal/infra"
)

type KV struct {
	client *redis.Client
}

func NewKV(client *redis.Client) *KV {
	return &KV{client: client}
}

// NewClient создает клиента по секции redis конфигурации.
func NewClient(cfg infra.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func (s *KV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, infra.RedisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis: get %s: %w", key, err)
	}
	return val, true, nil
}

func (s *KV) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, infra.RedisKey(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", key, err)
	}
	return nil
}

// Ping проверяет доступность Redis при старте
func (s *KV) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
