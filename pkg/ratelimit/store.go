// Package ratelimit implements fixed-window request counting per client.
// The service is a pure predicate over a pluggable counter store, so a
// single process can run against an in-memory map while a multi-process
// deployment shares counters through Redis.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces rate-limit counters in shared stores.
const KeyPrefix = "apicache:ratelimit:"

// CounterStore is the storage backend for window counters. Increment must
// be atomic: two concurrent callers incrementing the same key must never
// lose an update.
type CounterStore interface {
	// Increment adds amount to the key's counter and starts the window on
	// first use. Returns the new count.
	Increment(ctx context.Context, key string, amount int64, window time.Duration) (int64, error)

	// Count returns the current counter value, 0 if the window expired or
	// the key was never incremented.
	Count(ctx context.Context, key string) (int64, error)

	// TTL returns the time until the key's window resets, 0 if no window
	// is active.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Clear removes the counter and its window.
	Clear(ctx context.Context, key string) error
}

// RedisStore backs counters with Redis. INCRBY is atomic server-side, so
// counters are safe across processes sharing one Redis.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed counter store.
func NewRedisStore(client *redis.Client) *RedisStore {
	if client == nil {
		panic("redis client cannot be nil")
	}
	return &RedisStore{client: client}
}

// Increment implements CounterStore. The expiry is only set when the key
// has none, so the window is anchored at the first increment.
func (s *RedisStore) Increment(ctx context.Context, key string, amount int64, window time.Duration) (int64, error) {
	k := KeyPrefix + key

	pipe := s.client.TxPipeline()
	incr := pipe.IncrBy(ctx, k, amount)
	pipe.ExpireNX(ctx, k, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}

	return incr.Val(), nil
}

// Count implements CounterStore.
func (s *RedisStore) Count(ctx context.Context, key string) (int64, error) {
	count, err := s.client.Get(ctx, KeyPrefix+key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return count, nil
}

// TTL implements CounterStore.
func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := s.client.TTL(ctx, KeyPrefix+key).Result()
	if err != nil {
		return 0, err
	}
	if ttl < 0 {
		// -1 no expiry, -2 missing key
		return 0, nil
	}
	return ttl, nil
}

// Clear implements CounterStore.
func (s *RedisStore) Clear(ctx context.Context, key string) error {
	return s.client.Del(ctx, KeyPrefix+key).Err()
}

// memoryCounter is one in-process window counter.
type memoryCounter struct {
	count     int64
	windowEnd time.Time
}

// MemoryStore backs counters with a mutex-guarded map. Suitable for
// single-process deployments and tests.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*memoryCounter
}

// NewMemoryStore creates an in-memory counter store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counters: make(map[string]*memoryCounter)}
}

// Increment implements CounterStore.
func (s *MemoryStore) Increment(ctx context.Context, key string, amount int64, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	c, ok := s.counters[key]
	if !ok || now.After(c.windowEnd) {
		c = &memoryCounter{windowEnd: now.Add(window)}
		s.counters[key] = c
	}

	c.count += amount
	return c.count, nil
}

// Count implements CounterStore.
func (s *MemoryStore) Count(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok || time.Now().After(c.windowEnd) {
		return 0, nil
	}
	return c.count, nil
}

// TTL implements CounterStore.
func (s *MemoryStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok {
		return 0, nil
	}
	ttl := time.Until(c.windowEnd)
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// Clear implements CounterStore.
func (s *MemoryStore) Clear(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.counters, key)
	return nil
}
