package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const otpReplayPrefix = "auth:otp:used:"

// RedisReplayGuard remembers accepted TOTP codes so each can be used once
// within its validity window.
type RedisReplayGuard struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisReplayGuard(client *redis.Client, ttl time.Duration) *RedisReplayGuard {
	return &RedisReplayGuard{client: client, ttl: ttl}
}

// MarkUsed returns true for the first caller presenting code for userID.
func (g *RedisReplayGuard) MarkUsed(ctx context.Context, userID, code string) (bool, error) {
	ok, err := g.client.SetNX(ctx, otpReplayPrefix+userID+":"+code, 1, g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("mark otp used: %w", err)
	}
	return ok, nil
}
