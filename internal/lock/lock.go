// Package lock serializes work per key across requests. The redis locker
// coordinates every replica; the in-process locker covers single-node
// deployments and tests.
package lock

import (
	"context"
	"errors"
	"time"
)

var (
	ErrTimeout    = errors.New("lock_timeout")
	ErrInvalidKey = errors.New("lock_invalid_key")
)

// Release gives the lock back. It is safe to call once.
type Release func(ctx context.Context) error

type Locker interface {
	// Acquire blocks until key is held, wait elapses (ErrTimeout) or ctx is
	// done. ttl bounds how long a crashed holder can keep the key.
	Acquire(ctx context.Context, key string, ttl, wait time.Duration) (Release, error)
}
