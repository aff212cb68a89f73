package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const blacklistPrefix = "auth:blacklist:"

// RedisBlacklist records refresh tokens that must never be accepted again.
// Entries expire with the token they describe.
type RedisBlacklist struct {
	client *redis.Client
}

func NewRedisBlacklist(client *redis.Client) *RedisBlacklist {
	return &RedisBlacklist{client: client}
}

// Add blacklists tokenHash for ttl. It returns false when the entry already
// existed, which means another caller got there first.
func (b *RedisBlacklist) Add(ctx context.Context, tokenHash, userID string, ttl time.Duration) (bool, error) {
	if ttl < time.Second {
		ttl = time.Second
	}
	added, err := b.client.SetNX(ctx, blacklistPrefix+tokenHash, userID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("blacklist token: %w", err)
	}
	return added, nil
}

func (b *RedisBlacklist) Contains(ctx context.Context, tokenHash string) (bool, error) {
	n, err := b.client.Exists(ctx, blacklistPrefix+tokenHash).Result()
	if err != nil {
		return false, fmt.Errorf("check blacklist: %w", err)
	}
	return n > 0, nil
}
