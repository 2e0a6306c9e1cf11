// Package cache is the sole owner of Redis operations: the content-hash
// cache (content-hash -> memory id), the embedding cache (content-hash ->
// vector), a short-lived idempotency lock guarding concurrent writers of
// the same fingerprint, and the pub/sub event bus components publish
// enrichment/retry/task lifecycle events on.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store wraps go-redis with key namespacing so components never need to
// know the underlying key layout.
type Store struct {
	client    *redis.Client
	namespace string
}

// New dials Redis at the given URL ("redis://host:port/db").
func New(url, namespace string) (*Store, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("cache: invalid redis url: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("cache: connect: %w", err)
	}
	return &Store{client: client, namespace: namespace}, nil
}

// NewWithClient wraps an already-constructed client, for tests and for
// sharing one connection pool across multiple Store instances.
func NewWithClient(client *redis.Client, namespace string) *Store {
	return &Store{client: client, namespace: namespace}
}

func (s *Store) key(parts ...string) string {
	k := s.namespace
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

// Close closes the underlying connection pool.
func (s *Store) Close() error { return s.client.Close() }

// HealthCheck verifies Redis connectivity.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// GetMemoryIDByContentHash resolves a tenant-scoped content hash to an
// already-stored memory id, short-circuiting the router's write path.
func (s *Store) GetMemoryIDByContentHash(ctx context.Context, tenantKey, contentHash string) (string, bool, error) {
	v, err := s.client.Get(ctx, s.key("contenthash", tenantKey, contentHash)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache: get content hash: %w", err)
	}
	return v, true, nil
}

// PutMemoryIDByContentHash records the mapping with a TTL so the cache
// self-heals if the relational record behind it is ever deleted out of band.
func (s *Store) PutMemoryIDByContentHash(ctx context.Context, tenantKey, contentHash, memoryID string, ttl time.Duration) error {
	err := s.client.Set(ctx, s.key("contenthash", tenantKey, contentHash), memoryID, ttl).Err()
	if err != nil {
		return fmt.Errorf("cache: put content hash: %w", err)
	}
	return nil
}

// GetEmbedding returns a cached embedding for a content hash, avoiding a
// redundant call into the embedding capability.
func (s *Store) GetEmbedding(ctx context.Context, contentHash string) ([]float32, bool, error) {
	raw, err := s.client.Get(ctx, s.key("embedding", contentHash)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: get embedding: %w", err)
	}
	var vec []float32
	if err := json.Unmarshal(raw, &vec); err != nil {
		return nil, false, fmt.Errorf("cache: decode embedding: %w", err)
	}
	return vec, true, nil
}

// PutEmbedding caches an embedding vector for a content hash.
func (s *Store) PutEmbedding(ctx context.Context, contentHash string, vec []float32, ttl time.Duration) error {
	raw, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("cache: encode embedding: %w", err)
	}
	if err := s.client.Set(ctx, s.key("embedding", contentHash), raw, ttl).Err(); err != nil {
		return fmt.Errorf("cache: put embedding: %w", err)
	}
	return nil
}

// AcquireIdempotencyLock takes a short-lived SET NX PX lock keyed on the
// tenant-scoped content fingerprint, so two concurrent requests for the
// same content don't both win the "create" path in the router.
func (s *Store) AcquireIdempotencyLock(ctx context.Context, tenantKey, contentHash string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.key("lock", tenantKey, contentHash), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("cache: acquire lock: %w", err)
	}
	return ok, nil
}

// ReleaseIdempotencyLock drops the lock early once the write completes,
// rather than waiting out the full TTL.
func (s *Store) ReleaseIdempotencyLock(ctx context.Context, tenantKey, contentHash string) error {
	if err := s.client.Del(ctx, s.key("lock", tenantKey, contentHash)).Err(); err != nil {
		return fmt.Errorf("cache: release lock: %w", err)
	}
	return nil
}
