package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/BradenHooton/warden/internal/models"
)

const (
	lockoutFailuresPrefix = "auth:lockout:failures:"
	lockoutLockPrefix     = "auth:lockout:lock:"
)

// Failures are kept as a sorted set scored by time, so the window slides
// with each attempt instead of restarting at the first one.
//
// KEYS[1] lock key, KEYS[2] failures key
// ARGV[1] threshold, ARGV[2] window ms, ARGV[3] lockout ms, ARGV[4] now ms,
// ARGV[5] oldest score still inside the window, ARGV[6] unique member
// Returns {locked, count, lockedUntilMs}.
const recordFailureScript = `
local existing = redis.call("GET", KEYS[1])
if existing then
  return {1, 0, tonumber(existing)}
end
redis.call("ZREMRANGEBYSCORE", KEYS[2], "-inf", "(" .. ARGV[5])
redis.call("ZADD", KEYS[2], ARGV[4], ARGV[6])
redis.call("PEXPIRE", KEYS[2], ARGV[2])
local count = redis.call("ZCARD", KEYS[2])
if count >= tonumber(ARGV[1]) then
  local untilMs = tonumber(ARGV[4]) + tonumber(ARGV[3])
  redis.call("SET", KEYS[1], untilMs, "PX", ARGV[3])
  redis.call("DEL", KEYS[2])
  return {1, count, untilMs}
end
return {0, count, 0}
`

var recordFailureLua = redis.NewScript(recordFailureScript)

// windowStart is the lowest score that still counts: failures older than the
// window are out.
func windowStart(now time.Time, window time.Duration) string {
	return strconv.FormatInt(now.Add(-window).UnixMilli()+1, 10)
}

// LockoutPolicy configures the lockout thresholds.
type LockoutPolicy struct {
	Threshold int
	Window    time.Duration
	Duration  time.Duration
}

// RedisLockoutStore keeps failed-attempt counters and lockout records in Redis.
type RedisLockoutStore struct {
	client *redis.Client
	policy LockoutPolicy
	now    func() time.Time
}

func NewRedisLockoutStore(client *redis.Client, policy LockoutPolicy) *RedisLockoutStore {
	return &RedisLockoutStore{client: client, policy: policy, now: time.Now}
}

// RecordFailure counts one failed attempt for identity against the failures
// of the trailing window. The threshold-crossing failure writes the lock
// record inside the same script, so the next check already sees it.
func (s *RedisLockoutStore) RecordFailure(ctx context.Context, identity string) (models.LockoutStatus, error) {
	now := s.now()
	res, err := recordFailureLua.Run(ctx, s.client,
		[]string{lockoutLockPrefix + identity, lockoutFailuresPrefix + identity},
		s.policy.Threshold,
		s.policy.Window.Milliseconds(),
		s.policy.Duration.Milliseconds(),
		now.UnixMilli(),
		windowStart(now, s.policy.Window),
		uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return models.LockoutStatus{}, fmt.Errorf("record failed attempt: %w", err)
	}
	if len(res) != 3 {
		return models.LockoutStatus{}, fmt.Errorf("record failed attempt: unexpected reply %v", res)
	}

	if res[0] == 1 {
		until := time.UnixMilli(res[2]).UTC()
		return models.LockoutStatus{Locked: true, LockoutEndsAt: &until}, nil
	}

	remaining := s.policy.Threshold - int(res[1])
	if remaining < 0 {
		remaining = 0
	}
	return models.LockoutStatus{AttemptsRemaining: remaining}, nil
}

// Status reports whether identity is currently locked.
func (s *RedisLockoutStore) Status(ctx context.Context, identity string) (models.LockoutStatus, error) {
	pipe := s.client.Pipeline()
	lockCmd := pipe.Get(ctx, lockoutLockPrefix+identity)
	countCmd := pipe.ZCount(ctx, lockoutFailuresPrefix+identity, windowStart(s.now(), s.policy.Window), "+inf")
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return models.LockoutStatus{}, fmt.Errorf("read lockout state: %w", err)
	}

	if raw, err := lockCmd.Result(); err == nil {
		ms, convErr := strconv.ParseInt(raw, 10, 64)
		if convErr != nil {
			return models.LockoutStatus{}, fmt.Errorf("corrupt lockout record: %w", convErr)
		}
		until := time.UnixMilli(ms).UTC()
		return models.LockoutStatus{Locked: true, LockoutEndsAt: &until}, nil
	}

	count, err := countCmd.Result()
	if err != nil {
		return models.LockoutStatus{}, fmt.Errorf("read failed attempts: %w", err)
	}
	remaining := s.policy.Threshold - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return models.LockoutStatus{AttemptsRemaining: remaining}, nil
}

// Clear resets the failure counter. An active lock is left to expire.
func (s *RedisLockoutStore) Clear(ctx context.Context, identity string) error {
	if err := s.client.Del(ctx, lockoutFailuresPrefix+identity).Err(); err != nil {
		return fmt.Errorf("clear failed attempts: %w", err)
	}
	return nil
}
