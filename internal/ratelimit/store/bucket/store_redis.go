package bucket

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"parley/internal/ratelimit/models"
	"parley/internal/ratelimit/ports"
	"parley/pkg/platform/sentinel"
)

var (
	_ ports.BucketStore = (*InMemoryBucketStore)(nil)
	_ ports.BucketStore = (*RedisBucketStore)(nil)
)

// slidingWindowScript prunes, decides and records in one server-side step.
//
// KEYS[1] bucket key
// ARGV[1] now (unix ms), ARGV[2] period (ms), ARGV[3] limit, ARGV[4] member
//
// Returns {allowed, count, oldest_ms}.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local period = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - period)
local count = redis.call('ZCARD', key)

if count >= limit then
  local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  local oldestScore = now
  if #oldest > 0 then
    oldestScore = tonumber(oldest[2])
  end
  return {0, count, oldestScore}
end

redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, period)
local first = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
return {1, count + 1, tonumber(first[2])}
`)

// RedisBucketStore is a sorted-set sliding window shared by every instance.
// Scores are unix milliseconds.
type RedisBucketStore struct {
	client redis.UniversalClient
}

// NewRedisBucketStore wraps an existing client; the caller owns its lifecycle.
func NewRedisBucketStore(client redis.UniversalClient) *RedisBucketStore {
	return &RedisBucketStore{client: client}
}

// Allow runs the sliding window script for key.
func (s *RedisBucketStore) Allow(ctx context.Context, key string, limit int, period time.Duration, now time.Time) (*models.RateLimitResult, error) {
	nowMs := now.UnixMilli()
	periodMs := period.Milliseconds()
	member := strconv.FormatInt(nowMs, 10) + "-" + uuid.NewString()

	res, err := slidingWindowScript.Run(ctx, s.client, []string{key}, nowMs, periodMs, limit, member).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("%w: sliding window script: %w", sentinel.ErrUnavailable, err)
	}
	if len(res) != 3 {
		return nil, fmt.Errorf("%w: sliding window script returned %d values", sentinel.ErrUnavailable, len(res))
	}

	allowed, count, oldestMs := res[0] == 1, int(res[1]), res[2]
	resetAt := time.UnixMilli(oldestMs + periodMs)

	if !allowed {
		return &models.RateLimitResult{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: time.Duration(oldestMs+periodMs-nowMs) * time.Millisecond,
		}, nil
	}
	return &models.RateLimitResult{
		Allowed:   true,
		Limit:     limit,
		Remaining: max(limit-count, 0),
		ResetAt:   resetAt,
	}, nil
}

// Reset clears the rate limit counter for a key.
func (s *RedisBucketStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: reset bucket: %w", sentinel.ErrUnavailable, err)
	}
	return nil
}

// GetCurrentCount counts members newer than now-period without pruning.
func (s *RedisBucketStore) GetCurrentCount(ctx context.Context, key string, period time.Duration, now time.Time) (int, error) {
	minScore := "(" + strconv.FormatInt(now.Add(-period).UnixMilli(), 10)
	n, err := s.client.ZCount(ctx, key, minScore, "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("%w: count bucket: %w", sentinel.ErrUnavailable, err)
	}
	return int(n), nil
}
