package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/smallbiznis/fieldops/internal/clock"
)

type bucket struct {
	tokens float64
	last   time.Time
}

// MemoryStore keeps buckets in process. Limits are per replica.
type MemoryStore struct {
	mu      sync.Mutex
	clock   clock.Clock
	buckets map[string]*bucket
}

func NewMemoryStore(clk clock.Clock) *MemoryStore {
	if clk == nil {
		clk = clock.New()
	}
	return &MemoryStore{clock: clk, buckets: make(map[string]*bucket)}
}

func (s *MemoryStore) Take(_ context.Context, key string, rate float64, burst int) (Result, error) {
	if err := validate(key, rate, burst); err != nil {
		return Result{}, err
	}

	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evict(now, rate, burst)

	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(burst), last: now}
		s.buckets[key] = b
	} else if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens = math.Min(float64(burst), b.tokens+elapsed*rate)
		b.last = now
	}

	allowed := b.tokens >= 1
	if allowed {
		b.tokens--
	}
	return result(allowed, b.tokens, rate, burst), nil
}

// evict drops buckets idle long enough to be full again.
func (s *MemoryStore) evict(now time.Time, rate float64, burst int) {
	if len(s.buckets) < 1024 {
		return
	}
	ttl := bucketTTL(rate, burst)
	for key, b := range s.buckets {
		if now.Sub(b.last) > ttl {
			delete(s.buckets, key)
		}
	}
}
