// Package ratelimit throttles unauthenticated endpoints per client.
package ratelimit

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/fieldops/internal/clock"
	"github.com/smallbiznis/fieldops/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	PolicyAuth   = "auth"
	PolicyInvite = "invite"
)

type Policy struct {
	Rate  float64
	Burst int
}

type Params struct {
	fx.In

	Config config.Config
	Log    *zap.Logger
	Redis  *redis.Client `optional:"true"`
	Clock  clock.Clock   `optional:"true"`
}

// Limiter applies named policies to a subject such as a client IP.
type Limiter struct {
	enabled  bool
	store    Store
	policies map[string]Policy
	log      *zap.Logger
}

func New(p Params) *Limiter {
	cfg := p.Config.RateLimit
	log := p.Log.Named("ratelimit")

	var store Store
	if p.Redis != nil {
		store = NewRedisStore(p.Redis)
	} else {
		store = NewMemoryStore(p.Clock)
	}
	return NewWithStore(cfg, store, log)
}

func NewWithStore(cfg config.RateLimitConfig, store Store, log *zap.Logger) *Limiter {
	return &Limiter{
		enabled: cfg.Enabled,
		store:   store,
		policies: map[string]Policy{
			PolicyAuth:   {Rate: cfg.AuthRate, Burst: cfg.AuthBurst},
			PolicyInvite: {Rate: cfg.InviteRate, Burst: cfg.InviteBurst},
		},
		log: log,
	}
}

// Allow takes a token for subject under policy. Store failures let the
// request through.
func (l *Limiter) Allow(ctx context.Context, policy, subject string) Result {
	if l == nil || !l.enabled {
		return Result{Allowed: true}
	}
	p, ok := l.policies[policy]
	if !ok || p.Rate <= 0 || p.Burst <= 0 {
		return Result{Allowed: true}
	}

	key := fmt.Sprintf("fieldops:ratelimit:%s:%s", policy, strings.TrimSpace(subject))
	res, err := l.store.Take(ctx, key, p.Rate, p.Burst)
	if err != nil {
		l.log.Warn("rate limiter unavailable", zap.String("policy", policy), zap.Error(err))
		return Result{Allowed: true}
	}
	return res
}
