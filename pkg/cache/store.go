package cache

import (
	"context"
	"time"
)

// Store is the shared key-value boundary of the cache. It may be backed by a
// process-local map or by a store shared between processes.
type Store interface {
	// Get returns the value for key; ok is false when the key is absent or expired.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// CompareAndSet replaces the value of key with value when the current
	// value equals old. A nil old means "set only if absent".
	CompareAndSet(ctx context.Context, key string, old, value []byte, ttl time.Duration) (bool, error)
	// CompareAndDelete removes key when its current value equals old.
	CompareAndDelete(ctx context.Context, key string, old []byte) (bool, error)
	Close() error
}

// EvictionGuard reports whether key must not be evicted right now.
type EvictionGuard func(key string) bool

// guardable is implemented by stores that evict under memory pressure.
type guardable interface {
	SetEvictionGuard(guard EvictionGuard)
}
