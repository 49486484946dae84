package redis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/voicecoach/coach/internal/config"
)

// NewClient connects to the Redis instance described by cfg. The name is
// only used in logs, since the client talks to two instances (preferences
// and remote documents).
func NewClient(ctx context.Context, name string, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging %s redis: %w", name, err)
	}

	slog.Info("connected to Redis", "store", name, "addr", cfg.Addr())
	return client, nil
}
