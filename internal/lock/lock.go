// Package lock provides the per-config single-flight guard that keeps two
// curation runs for the same config from overlapping.
package lock

import (
	"context"
	"sync"
)

// Release frees a held lock. It is safe to call more than once.
type Release func()

// Locker acquires named locks without blocking. When the lock is already
// held, TryAcquire returns ok=false so the caller can skip rather than queue.
type Locker interface {
	TryAcquire(ctx context.Context, key string) (Release, bool, error)
}

// LocalLocker is an in-process Locker.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocal creates a LocalLocker.
func NewLocal() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

// TryAcquire takes key if no one holds it.
func (l *LocalLocker) TryAcquire(_ context.Context, key string) (Release, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[key]; busy {
		return nil, false, nil
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, true, nil
}

// Held reports whether key is currently locked.
func (l *LocalLocker) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[key]
	return ok
}
