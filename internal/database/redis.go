package database

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/familyfund/backend/internal/config"
)

// InitRedis connects to Redis. It returns nil when Redis is disabled or
// unreachable; callers fall back to in-process locking.
func InitRedis(ctx context.Context, cfg config.RedisConfig) *redis.Client {
	if !cfg.Enabled {
		slog.Info("redis disabled, using in-process attempt locks")
		return nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		slog.Warn("redis connection failed, continuing without redis", "addr", cfg.Addr(), "error", err)
		rdb.Close()
		return nil
	}

	slog.Info("redis connection established", "addr", cfg.Addr())
	return rdb
}
