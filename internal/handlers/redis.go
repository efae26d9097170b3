package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nodiggity/zonewatch/internal/config"
	"github.com/nodiggity/zonewatch/pkg/model"
)

// RedisHandler pushes alert JSON onto a capped Redis list, giving external
// consumers a bounded feed of recent alerts that survives a process
// restart.
type RedisHandler struct {
	client *redis.Client
	key    string
	max    int64
}

// NewRedisHandler connects to Redis and verifies the connection.
func NewRedisHandler(cfg config.RedisHandlerConfig) (*RedisHandler, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisHandler{
		client: client,
		key:    cfg.Key,
		max:    cfg.MaxEntries,
	}, nil
}

func (h *RedisHandler) Name() string { return "redis" }

func (h *RedisHandler) Trigger(ctx context.Context, alert *model.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	pipe := h.client.Pipeline()
	pipe.LPush(ctx, h.key, data)
	pipe.LTrim(ctx, h.key, 0, h.max-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis push: %w", err)
	}
	return nil
}

func (h *RedisHandler) Close() error {
	return h.client.Close()
}
