// Package localstore keeps per-device data in a key-value namespace.
//
// Each browser gets a device id cookie; everything stored here is scoped to
// that id and survives sign-out. Redis backs the namespace in production and
// MemoryKV stands in for it in development and tests.
package localstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Ehm-Ehs/project-nexus/internal/config"
)

// ErrNotFound is returned by KV.Get for missing or expired keys.
var ErrNotFound = errors.New("key not found")

// KV is a byte-oriented key-value store.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value under key. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// RedisKV implements KV on a Redis client.
type RedisKV struct {
	client *redis.Client
}

// NewRedisKV wraps an existing Redis client.
func NewRedisKV(client *redis.Client) *RedisKV {
	return &RedisKV{client: client}
}

// DialRedis connects to Redis and verifies the connection.
func DialRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	slog.Info("connected to redis", "addr", cfg.Addr)
	return client, nil
}

// Get implements KV.
func (r *RedisKV) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}

// Set implements KV.
func (r *RedisKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete implements KV.
func (r *RedisKV) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryKV is an in-process KV. Expired entries are dropped lazily on read.
type MemoryKV struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryKV creates an empty MemoryKV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get implements KV.
func (m *MemoryKV) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	if now := m.now(); e.expired(now) {
		m.mu.Lock()
		// A Set may have replaced the entry since the read lock was released.
		if cur, ok := m.entries[key]; ok && cur.expired(now) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}

// Set implements KV.
func (m *MemoryKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	e := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}

	m.mu.Lock()
	m.entries[key] = e
	m.mu.Unlock()
	return nil
}

// Delete implements KV.
func (m *MemoryKV) Delete(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	for _, k := range keys {
		delete(m.entries, k)
	}
	m.mu.Unlock()
	return nil
}
