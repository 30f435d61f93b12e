package lock

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/fieldops/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("lock",
	fx.Provide(NewRedisClient),
	fx.Provide(New),
)

// NewRedisClient returns nil when REDIS_ADDR is not configured.
func NewRedisClient(lc fx.Lifecycle, cfg config.Config) *redis.Client {
	if !cfg.Redis.Enabled() {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client
}

func New(client *redis.Client, log *zap.Logger) Locker {
	if client == nil {
		log.Named("lock").Warn("redis not configured, using in-process locks")
		return NewMemoryLocker()
	}
	return NewRedisLocker(client)
}
