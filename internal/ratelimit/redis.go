package ratelimit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Trims the sorted set to the window, then admits and records the member only when fewer
// than max entries remain. Returns {allowed, count, oldestScoreMs}.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= max then
  local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  local score = now
  if oldest[2] then
    score = tonumber(oldest[2])
  end
  return {0, count, score}
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return {1, count + 1, 0}
`)

// RedisStore shares the log across replicas through a sorted set per key.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "resqflow:sos-rate:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) CheckAndRecord(ctx context.Context, key string, now time.Time, window time.Duration, max int) (Decision, error) {
	nowMs := now.UnixMilli()
	member := uuid.NewString()
	res, err := slidingWindow.Run(ctx, s.client, []string{s.prefix + key},
		nowMs, window.Milliseconds(), max, member).Int64Slice()
	if err != nil {
		return Decision{}, err
	}
	d := Decision{Allowed: res[0] == 1, Count: int(res[1])}
	if !d.Allowed {
		d.RetryAfter = time.Duration(res[2]+window.Milliseconds()-nowMs) * time.Millisecond
	} else {
		d.Token = member
	}
	return d, nil
}

func (s *RedisStore) Forget(ctx context.Context, key, token string) error {
	return s.client.ZRem(ctx, s.prefix+key, token).Err()
}
