package redisclient

import (
	"context"
	"sync"
)

// LocalLocker is an in-process Locker for single-instance deployments and
// tests. Waiters block until the holder releases or their context ends.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]chan struct{})}
}

func (l *LocalLocker) WithSubjectLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	for {
		l.mu.Lock()
		held, busy := l.locks[key]
		if !busy {
			l.locks[key] = make(chan struct{})
			l.mu.Unlock()
			break
		}
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-held:
		}
	}

	defer func() {
		l.mu.Lock()
		close(l.locks[key])
		delete(l.locks, key)
		l.mu.Unlock()
	}()

	return fn(ctx)
}
