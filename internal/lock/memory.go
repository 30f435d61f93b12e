package lock

import (
	"context"
	"strings"
	"sync"
	"time"
)

type entry struct {
	sem  chan struct{}
	refs int
}

// MemoryLocker is a keyed mutex. ttl is ignored: a holder cannot outlive the
// process that owns the lock.
type MemoryLocker struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{entries: make(map[string]*entry)}
}

func (l *MemoryLocker) Acquire(ctx context.Context, key string, _ time.Duration, wait time.Duration) (Release, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, ErrInvalidKey
	}

	e := l.ref(key)
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		l.unref(key)
		return nil, ctx.Err()
	case <-timer.C:
		l.unref(key)
		return nil, ErrTimeout
	}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			<-e.sem
			l.unref(key)
		})
		return nil
	}, nil
}

func (l *MemoryLocker) ref(key string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	return e
}

func (l *MemoryLocker) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(l.entries, key)
	}
}
