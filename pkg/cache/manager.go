package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss is returned when no fresh page is stored under a key.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry is returned when the stored value cannot be decoded.
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Manager stores pages in Redis as JSON with a TTL matching the page expiry.
type Manager struct {
	redis *redis.Client
}

// NewManager panics on a nil client.
func NewManager(redisClient *redis.Client) *Manager {
	if redisClient == nil {
		panic("cache: nil redis client")
	}
	return &Manager{redis: redisClient}
}

// Ping checks that Redis is reachable.
func (m *Manager) Ping(ctx context.Context) error {
	if err := m.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Get returns the page stored under key, or ErrCacheMiss when there is none or
// it is no longer fresh.
func (m *Manager) Get(ctx context.Context, key CacheKey) (*Page, error) {
	raw, err := m.redis.Get(ctx, key.String()).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	case err != nil:
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}

	var page Page
	if err := json.Unmarshal(raw, &page); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	// Redis expiry has second granularity; Expires is authoritative
	if !page.Fresh() {
		_ = m.Delete(ctx, key)
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	CacheHits.Inc()
	return &page, nil
}

// Set stores page until its Expires time. Stale pages are silently skipped.
func (m *Manager) Set(ctx context.Context, key CacheKey, page *Page) error {
	if page == nil {
		return errors.New("cache: nil page")
	}

	ttl := page.TTL()
	if ttl <= 0 {
		return nil
	}

	raw, err := json.Marshal(page)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("encode page: %w", err)
	}
	if err := m.redis.Set(ctx, key.String(), raw, ttl).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set %s: %w", key, err)
	}

	CacheStoredBytes.Add(float64(len(raw)))
	return nil
}

// Delete removes the page stored under key.
func (m *Manager) Delete(ctx context.Context, key CacheKey) error {
	if err := m.redis.Del(ctx, key.String()).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}
