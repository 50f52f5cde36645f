package external

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/denticheck-screening-server/internal/domain"
)

const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"

	defaultCacheTTL      = 10 * time.Minute
	defaultCacheMaxItems = 1024
)

// ContextCache stores retrieval results keyed by query.
type ContextCache interface {
	Get(ctx context.Context, key string) (*domain.RagSummary, bool, error)
	Set(ctx context.Context, key string, summary *domain.RagSummary, ttl time.Duration) error
}

// CachedRagSummary represents a cached retrieval result with metadata
type CachedRagSummary struct {
	Data      *domain.RagSummary `json:"data"`
	CachedAt  time.Time          `json:"cached_at"`
	ExpiresAt time.Time          `json:"expires_at"`
}

// NewContextCache builds the configured cache. An unreachable redis degrades to the
// in-process cache.
func NewContextCache(config domain.CacheConfig, logger *logrus.Logger) ContextCache {
	switch strings.ToLower(strings.TrimSpace(config.Backend)) {
	case CacheBackendRedis:
		cache, err := NewRedisContextCache(config)
		if err == nil {
			return cache
		}
		logger.WithError(err).Warn("Redis cache unavailable, using in-memory cache")
	case "", CacheBackendMemory:
	default:
		logger.WithField("backend", config.Backend).Warn("Unknown cache backend, using in-memory cache")
	}
	return NewMemoryContextCache(config.MaxItems, config.DefaultTTL)
}

// RedisContextCache wraps a Redis client for retrieval results shared across instances.
type RedisContextCache struct {
	redis      *redis.Client
	defaultTTL time.Duration
}

// NewRedisContextCache connects to redis and verifies the connection.
func NewRedisContextCache(config domain.CacheConfig) (*RedisContextCache, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	if config.PoolTimeout > 0 {
		opts.PoolTimeout = config.PoolTimeout
	}
	opts.MaxRetries = config.MaxRetries

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return newRedisContextCache(client, config.DefaultTTL), nil
}

func newRedisContextCache(client *redis.Client, ttl time.Duration) *RedisContextCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &RedisContextCache{redis: client, defaultTTL: ttl}
}

// Get retrieves a cached retrieval result. Corrupted entries are removed and reported as a miss.
func (c *RedisContextCache) Get(ctx context.Context, key string) (*domain.RagSummary, bool, error) {
	val, err := c.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get retrieval cache: %w", err)
	}

	var cached CachedRagSummary
	if err := json.Unmarshal([]byte(val), &cached); err != nil {
		c.redis.Del(ctx, key)
		return nil, false, nil
	}
	if cached.Data == nil {
		return nil, false, nil
	}
	return cached.Data, true, nil
}

// Set stores a retrieval result. A zero ttl uses the configured default.
func (c *RedisContextCache) Set(ctx context.Context, key string, summary *domain.RagSummary, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	now := time.Now()
	jsonData, err := json.Marshal(CachedRagSummary{
		Data:      summary,
		CachedAt:  now,
		ExpiresAt: now.Add(ttl),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal retrieval cache data: %w", err)
	}

	return c.redis.Set(ctx, key, jsonData, ttl).Err()
}

// Ping checks if Redis connection is alive
func (c *RedisContextCache) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *RedisContextCache) Close() error {
	return c.redis.Close()
}

// MemoryContextCache keeps retrieval results in a bounded, expiring LRU.
type MemoryContextCache struct {
	lru *expirable.LRU[string, domain.RagSummary]
}

// NewMemoryContextCache creates an LRU of maxItems entries. Entries expire after ttl; the
// ttl passed to Set is ignored.
func NewMemoryContextCache(maxItems int, ttl time.Duration) *MemoryContextCache {
	if maxItems <= 0 {
		maxItems = defaultCacheMaxItems
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &MemoryContextCache{
		lru: expirable.NewLRU[string, domain.RagSummary](maxItems, nil, ttl),
	}
}

func (c *MemoryContextCache) Get(_ context.Context, key string) (*domain.RagSummary, bool, error) {
	summary, ok := c.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	return cloneSummary(&summary), true, nil
}

func (c *MemoryContextCache) Set(_ context.Context, key string, summary *domain.RagSummary, _ time.Duration) error {
	if summary == nil {
		return nil
	}
	c.lru.Add(key, *cloneSummary(summary))
	return nil
}

// Len returns the number of live entries.
func (c *MemoryContextCache) Len() int {
	return c.lru.Len()
}

// retrievalKey creates a stable cache key for a query
func retrievalKey(query string, topK int) string {
	hash := sha256.Sum256([]byte(fmt.Sprintf("%d:%s", topK, strings.TrimSpace(query))))
	return fmt.Sprintf("rag:context:%x", hash[:12])
}

func cloneSummary(s *domain.RagSummary) *domain.RagSummary {
	out := *s
	out.Sources = append([]domain.RagSource(nil), s.Sources...)
	return &out
}
