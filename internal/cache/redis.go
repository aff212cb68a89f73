// Package cache holds the Redis-backed stores whose operations must be
// atomic across workers: lockout counters, the refresh-token blacklist and
// the TOTP replay guard.
package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BradenHooton/warden/internal/config"
)

// Connect creates a client from a redis:// URL or a bare host:port and pings it.
// Transient failures are retried once by the client; nothing above it retries.
func Connect(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	var opt *redis.Options
	if strings.HasPrefix(cfg.URL, "redis://") || strings.HasPrefix(cfg.URL, "rediss://") {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opt = parsed
	} else {
		opt = &redis.Options{Addr: cfg.URL}
	}

	opt.MaxRetries = 1
	if cfg.Timeout > 0 {
		opt.DialTimeout = cfg.Timeout
		opt.ReadTimeout = cfg.Timeout
		opt.WriteTimeout = cfg.Timeout
	}
	if cfg.PoolSize > 0 {
		opt.PoolSize = cfg.PoolSize
	}

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
