package ratelimit

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const tokenBucketScript = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local nowData = redis.call("TIME")
local now = (nowData[1] * 1000) + math.floor(nowData[2] / 1000)

local data = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(data[1])
local ts = tonumber(data[2])

if tokens == nil then
  tokens = burst
  ts = now
else
  local delta = now - ts
  if delta < 0 then
    delta = 0
  end
  tokens = math.min(burst, tokens + (delta / 1000) * rate)
  ts = now
end

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call("HMSET", KEYS[1], "tokens", tokens, "ts", ts)
redis.call("PEXPIRE", KEYS[1], ttl)

return {allowed, tostring(tokens)}
`

// Result is the outcome of taking one token.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Store takes tokens from named buckets.
type Store interface {
	Take(ctx context.Context, key string, rate float64, burst int) (Result, error)
}

// RedisStore keeps buckets in redis so every replica shares them.
type RedisStore struct {
	client *redis.Client
	script *redis.Script
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		script: redis.NewScript(tokenBucketScript),
	}
}

func (s *RedisStore) Take(ctx context.Context, key string, rate float64, burst int) (Result, error) {
	if err := validate(key, rate, burst); err != nil {
		return Result{}, err
	}

	res, err := s.script.Run(ctx, s.client, []string{key}, rate, burst, bucketTTL(rate, burst).Milliseconds()).Slice()
	if err != nil {
		return Result{}, err
	}
	if len(res) < 2 {
		return Result{}, errors.New("invalid rate limit script response")
	}

	allowed, _ := res[0].(int64)
	var remaining float64
	if raw, ok := res[1].(string); ok {
		remaining, _ = strconv.ParseFloat(raw, 64)
	}
	return result(allowed == 1, remaining, rate, burst), nil
}

func validate(key string, rate float64, burst int) error {
	switch {
	case key == "":
		return errors.New("rate limiter key is empty")
	case rate <= 0:
		return errors.New("rate limiter rate must be positive")
	case burst <= 0:
		return errors.New("rate limiter burst must be positive")
	}
	return nil
}

func result(allowed bool, remaining, rate float64, burst int) Result {
	res := Result{
		Allowed:   allowed,
		Limit:     burst,
		Remaining: int(math.Floor(remaining)),
	}
	if !allowed {
		seconds := (1 - remaining) / rate
		res.RetryAfter = time.Duration(math.Ceil(seconds)) * time.Second
	}
	return res
}

// bucketTTL lets an idle bucket expire once it would have refilled twice over.
func bucketTTL(rate float64, burst int) time.Duration {
	seconds := math.Ceil((float64(burst) / rate) * 2)
	if seconds < 1 {
		seconds = 1
	}
	return time.Duration(seconds) * time.Second
}
