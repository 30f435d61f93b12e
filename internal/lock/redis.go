package lock

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

const retryInterval = 50 * time.Millisecond

type RedisLocker struct {
	client *redis.Client
	script *redis.Script
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{
		client: client,
		script: redis.NewScript(releaseScript),
	}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl, wait time.Duration) (Release, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, ErrInvalidKey
	}
	if ttl <= 0 {
		return nil, errors.New("lock ttl must be positive")
	}

	deadline := time.Now().Add(wait)
	for {
		token, ok, err := l.tryLock(ctx, key, ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			return func(ctx context.Context) error {
				return l.script.Run(ctx, l.client, []string{key}, token).Err()
			}, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrTimeout
		}
		timer := time.NewTimer(min(retryInterval, remaining))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *RedisLocker) tryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}
