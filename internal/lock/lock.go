// Package lock provides per-key mutual exclusion for sync workers. Two
// workers must never process the same sale at the same time; the key is
// the sale number.
package lock

import (
	"context"
	"sync"
	"time"
)

// Locker acquires and releases named locks. Acquire does not block: it
// reports false when the key is already held. The TTL bounds how long a
// crashed holder can wedge a key; the in-process driver ignores it because
// the lock dies with the process.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// KeyedMutex is the in-process Locker used when no Redis address is
// configured. Correct for a single-process deployment.
type KeyedMutex struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewKeyedMutex creates an in-process locker
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{held: make(map[string]struct{})}
}

// Acquire takes the lock for key if it is free
func (k *KeyedMutex) Acquire(_ context.Context, key string, _ time.Duration) (bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if _, ok := k.held[key]; ok {
		return false, nil
	}
	k.held[key] = struct{}{}
	return true, nil
}

// Release frees the lock for key. Releasing a free key is a no-op.
func (k *KeyedMutex) Release(_ context.Context, key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	delete(k.held, key)
	return nil
}
