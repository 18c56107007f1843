package artifacts

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/aiteam/mindbus/core"
)

// DefaultManifestCacheTTL bounds how long a cached manifest is trusted
// before a get_artifact call re-reads the catalog row.
const DefaultManifestCacheTTL = 1 * time.Hour

// DefaultManifestCachePrefix namespaces manifest cache keys in a shared
// Redis instance.
const DefaultManifestCachePrefix = "mindbus:artifact-manifest:"

// ManifestCache caches artifact catalog rows (the Manifest type, not the
// blob content) keyed by artifact ID, to keep get_artifact's hot path off
// the catalog for repeat lookups of the same artifact.
type ManifestCache interface {
	Get(ctx context.Context, artifactID string) (*core.Manifest, bool)
	Set(ctx context.Context, manifest *core.Manifest) error
	Invalidate(ctx context.Context, artifactID string) error
	Stats() map[string]interface{}
}

// RedisManifestCache is a Redis-backed ManifestCache with atomic hit/miss
// counters for Stats().
type RedisManifestCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string

	hits   int64
	misses int64
}

// ManifestCacheOption customizes a RedisManifestCache.
type ManifestCacheOption func(*RedisManifestCache)

// WithManifestCacheTTL overrides DefaultManifestCacheTTL.
func WithManifestCacheTTL(ttl time.Duration) ManifestCacheOption {
	return func(c *RedisManifestCache) { c.ttl = ttl }
}

// WithManifestCachePrefix overrides DefaultManifestCachePrefix.
func WithManifestCachePrefix(prefix string) ManifestCacheOption {
	return func(c *RedisManifestCache) { c.prefix = prefix }
}

// NewManifestCache builds a RedisManifestCache over an existing client.
func NewManifestCache(client *redis.Client, opts ...ManifestCacheOption) ManifestCache {
	c := &RedisManifestCache{
		client: client,
		ttl:    DefaultManifestCacheTTL,
		prefix: DefaultManifestCachePrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *RedisManifestCache) key(artifactID string) string {
	return fmt.Sprintf("%s%s", c.prefix, artifactID)
}

// Get returns the cached manifest, if present and not corrupt.
func (c *RedisManifestCache) Get(ctx context.Context, artifactID string) (*core.Manifest, bool) {
	val, err := c.client.Get(ctx, c.key(artifactID)).Result()
	if err != nil {
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}

	var manifest core.Manifest
	if err := json.Unmarshal([]byte(val), &manifest); err != nil {
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}

	atomic.AddInt64(&c.hits, 1)
	return &manifest, true
}

// Set stores manifest under its own ID with the cache's configured TTL.
func (c *RedisManifestCache) Set(ctx context.Context, manifest *core.Manifest) error {
	data, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}
	return c.client.Set(ctx, c.key(manifest.ID), data, c.ttl).Err()
}

// Invalidate removes a cached manifest, used on delete_artifact.
func (c *RedisManifestCache) Invalidate(ctx context.Context, artifactID string) error {
	return c.client.Del(ctx, c.key(artifactID)).Err()
}

// Stats reports hit/miss counters for monitoring.
func (c *RedisManifestCache) Stats() map[string]interface{} {
	hits := atomic.LoadInt64(&c.hits)
	misses := atomic.LoadInt64(&c.misses)
	total := hits + misses

	stats := map[string]interface{}{
		"hits":          hits,
		"misses":        misses,
		"total_lookups": total,
	}
	if total > 0 {
		stats["hit_rate"] = float64(hits) / float64(total)
	}
	return stats
}
