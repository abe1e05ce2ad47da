// Package seen implements the non-authoritative source URL cache consulted
// before the content store.
package seen

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces Redis keys.
const DefaultKeyPrefix = "jobcrawler:seen:"

// Redis records seen source URLs as expiring keys.
type Redis struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedis builds a Redis-backed cache. A zero ttl keeps keys forever.
func NewRedis(client redis.Cmdable, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

// Connect parses redisURL and verifies connectivity.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis.ParseURL(%q): %w", redisURL, err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// Seen reports whether sourceURL was marked.
func (r *Redis) Seen(ctx context.Context, sourceURL string) (bool, error) {
	n, err := r.client.Exists(ctx, r.prefix+sourceURL).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

// MarkSeen records sourceURL.
func (r *Redis) MarkSeen(ctx context.Context, sourceURL string) error {
	if err := r.client.Set(ctx, r.prefix+sourceURL, "1", r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Memory is a process-local cache.
type Memory struct {
	mu   sync.RWMutex
	urls map[string]struct{}
}

// NewMemory returns an empty Memory cache.
func NewMemory() *Memory {
	return &Memory{urls: make(map[string]struct{})}
}

// Seen reports whether sourceURL was marked.
func (m *Memory) Seen(_ context.Context, sourceURL string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.urls[sourceURL]
	return ok, nil
}

// MarkSeen records sourceURL.
func (m *Memory) MarkSeen(_ context.Context, sourceURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.urls[sourceURL] = struct{}{}
	return nil
}
