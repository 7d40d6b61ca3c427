package infrastructure

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"dsr.gov.ph/registry/internal/config"
	"dsr.gov.ph/registry/internal/pkg/logger"
)

// NewRedisClient connects the blocking-key lock backend.
// Returns nil when no address is configured.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	logger.Info("Redis client connected", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))
	return client, nil
}
