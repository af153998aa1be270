package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Cache stores serialized provider results.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RedisCache is a Cache backed by Redis.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache connects a cache to the given Redis server.
func NewRedisCache(addr, password string, db int) *RedisCache {
	return &RedisCache{
		client: redis.NewClient(&redis.Options{
			Addr:        addr,
			Password:    password,
			DB:          db,
			DialTimeout: 2 * time.Second,
		}),
		prefix: "screening:search:",
	}
}

// Get returns the cached value for key. A missing key is not an error.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "search: redis get")
	}
	return val, true, nil
}

// Set stores value under key with a TTL.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.prefix+key, value, ttl).Err(); err != nil {
		return eris.Wrap(err, "search: redis set")
	}
	return nil
}

// Close releases the Redis connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// CachingProvider serves repeated queries from a Cache. Cache failures are
// logged and fall through to the wrapped provider.
type CachingProvider struct {
	next  Provider
	cache Cache
	ttl   time.Duration
}

// NewCachingProvider wraps next with a result cache.
func NewCachingProvider(next Provider, cache Cache, ttl time.Duration) *CachingProvider {
	return &CachingProvider{next: next, cache: cache, ttl: ttl}
}

// Name returns the wrapped provider name.
func (p *CachingProvider) Name() string { return p.next.Name() }

// Search returns cached results when present, otherwise queries and caches.
func (p *CachingProvider) Search(ctx context.Context, req Request) ([]Result, error) {
	key := CacheKey(p.next.Name(), req)

	if raw, ok, err := p.cache.Get(ctx, key); err != nil {
		zap.L().Debug("search: cache get failed", zap.Error(err))
	} else if ok {
		var cached []Result
		if err := json.Unmarshal(raw, &cached); err == nil {
			return cached, nil
		}
	}

	res, err := p.next.Search(ctx, req)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(res); err == nil {
		if err := p.cache.Set(ctx, key, raw, p.ttl); err != nil {
			zap.L().Debug("search: cache set failed", zap.Error(err))
		}
	}
	return res, nil
}

// CacheKey derives the cache key for a provider request.
func CacheKey(provider string, req Request) string {
	raw, _ := json.Marshal(req)
	sum := sha256.Sum256(append([]byte(provider+"\x00"), raw...))
	return provider + ":" + hex.EncodeToString(sum[:])
}
