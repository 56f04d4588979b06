package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseReservation frees a key after its effect failed. Best effort; when
// the release itself errors the key still expires with its TTL.
func releaseReservation(ctx context.Context, store IdempotencyStore, key string, logger *slog.Logger) {
	if err := store.Release(ctx, key); err != nil {
		logger.WarnContext(ctx, "Failed to release idempotency key", "key", key, "error", err)
	}
}

// MemoryIdempotencyStore keeps reservations in process memory. Suitable for
// tests and single-instance deployments.
type MemoryIdempotencyStore struct {
	mu       sync.Mutex
	reserved map[string]time.Time
}

// NewMemoryIdempotencyStore creates an empty in-memory store.
func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{reserved: make(map[string]time.Time)}
}

// Reserve claims the key, returning false when it is already held and its TTL
// has not elapsed.
func (s *MemoryIdempotencyStore) Reserve(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()

	expiry, held := s.reserved[key]
	if held && expiry.After(now) {
		return false, nil
	}

	s.reserved[key] = now.Add(ttl)

	return true, nil
}

// Release frees the key so it can be reserved again.
func (s *MemoryIdempotencyStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.reserved, key)

	return nil
}

// RedisIdempotencyStore backs reservations with Redis SET NX so multiple
// engine instances share one dedup space.
type RedisIdempotencyStore struct {
	client *redis.Client
	prefix string
}

// NewRedisIdempotencyStore creates a store over an existing Redis client.
func NewRedisIdempotencyStore(client *redis.Client, prefix string) *RedisIdempotencyStore {
	if prefix == "" {
		prefix = "cadence:idem:"
	}

	return &RedisIdempotencyStore{client: client, prefix: prefix}
}

// Reserve claims the key atomically across instances.
func (s *RedisIdempotencyStore) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.prefix+key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to reserve idempotency key %s: %w", key, err)
	}

	return ok, nil
}

// Release drops the key across all instances.
func (s *RedisIdempotencyStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("failed to release idempotency key %s: %w", key, err)
	}

	return nil
}
