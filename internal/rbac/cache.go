package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// Cache stores resolved permission sets under generation-scoped keys.
// Bumping the generation orphans every entry written before it.
type Cache interface {
	Generation(ctx context.Context) (int64, error)
	Bump(ctx context.Context) (int64, error)
	Get(ctx context.Context, key string) ([]Permission, bool, error)
	Set(ctx context.Context, key string, perms []Permission) error
}

// Invalidator drops every cached permission set.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// NopInvalidator is used when caching is disabled.
type NopInvalidator struct{}

// Invalidate does nothing.
func (NopInvalidator) Invalidate(context.Context) error { return nil }

// CacheObserver records hit and miss outcomes.
type CacheObserver func(hit bool)

// CachedResolver memoizes another resolver.
type CachedResolver struct {
	next     PermissionResolver
	cache    Cache
	logger   *slog.Logger
	observe  CacheObserver
	inflight singleflight.Group
}

// NewCachedResolver wraps next with cache. observe may be nil.
func NewCachedResolver(next PermissionResolver, cache Cache, logger *slog.Logger, observe CacheObserver) *CachedResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedResolver{next: next, cache: cache, logger: logger, observe: observe}
}

// Resolve serves from cache when possible. Cache failures fall back to the
// underlying resolver so authorization never depends on cache health.
func (c *CachedResolver) Resolve(ctx context.Context, p Principal) (PermissionSet, error) {
	if p.IsZero() {
		return NewPermissionSet(), nil
	}
	gen, err := c.cache.Generation(ctx)
	if err != nil {
		c.logger.Warn("rbac cache generation", slog.Any("error", err))
		return c.next.Resolve(ctx, p)
	}
	key := cacheKey(gen, p)
	if perms, ok, err := c.cache.Get(ctx, key); err == nil && ok {
		c.record(true)
		return NewPermissionSet(perms...), nil
	} else if err != nil {
		c.logger.Warn("rbac cache get", slog.String("key", key), slog.Any("error", err))
	}
	c.record(false)

	v, err, _ := c.inflight.Do(key, func() (any, error) {
		set, err := c.next.Resolve(ctx, p)
		if err != nil {
			return nil, err
		}
		if err := c.cache.Set(ctx, key, set.Sorted()); err != nil {
			c.logger.Warn("rbac cache set", slog.String("key", key), slog.Any("error", err))
		}
		return set.Sorted(), nil
	})
	if err != nil {
		return PermissionSet{}, err
	}
	return NewPermissionSet(v.([]Permission)...), nil
}

// Invalidate bumps the generation.
func (c *CachedResolver) Invalidate(ctx context.Context) error {
	if _, err := c.cache.Bump(ctx); err != nil {
		return fmt.Errorf("rbac: invalidate cache: %w", err)
	}
	return nil
}

func (c *CachedResolver) record(hit bool) {
	if c.observe != nil {
		c.observe(hit)
	}
}

// cacheKey embeds the assignments so a principal whose roles changed between
// loads never reads another assignment's entry.
func cacheKey(gen int64, p Principal) string {
	payload, _ := json.Marshal(struct {
		R []GuardedName `json:"r"`
		D []GuardedName `json:"d"`
	}{p.Roles, p.DirectPermissions})
	return strconv.FormatInt(gen, 10) + ":" + p.Guard + ":" + strconv.FormatInt(p.ID, 10) + ":" + string(payload)
}

const (
	redisGenerationKey = "rbac:perm:gen"
	redisEntryPrefix   = "rbac:perm:"
)

// RedisCache stores entries in Redis with a shared generation counter so all
// API instances observe invalidation together.
type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisCache constructs a RedisCache.
func NewRedisCache(client redis.UniversalClient, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

// Generation returns the current generation, zero when never bumped.
func (c *RedisCache) Generation(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, redisGenerationKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// Bump advances the generation.
func (c *RedisCache) Bump(ctx context.Context) (int64, error) {
	return c.client.Incr(ctx, redisGenerationKey).Result()
}

// Get loads an entry.
func (c *RedisCache) Get(ctx context.Context, key string) ([]Permission, bool, error) {
	raw, err := c.client.Get(ctx, redisEntryPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var perms []Permission
	if err := json.Unmarshal(raw, &perms); err != nil {
		return nil, false, err
	}
	return perms, true, nil
}

// Set stores an entry with the configured TTL.
func (c *RedisCache) Set(ctx context.Context, key string, perms []Permission) error {
	raw, err := json.Marshal(perms)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, redisEntryPrefix+key, raw, c.ttl).Err()
}

// MemoryCache keeps entries in process. Suitable for single-instance setups.
type MemoryCache struct {
	items *gocache.Cache
	gen   atomic.Int64
}

// NewMemoryCache constructs a MemoryCache whose entries expire after ttl.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{items: gocache.New(ttl, 2*ttl)}
}

// Generation returns the current generation.
func (c *MemoryCache) Generation(context.Context) (int64, error) {
	return c.gen.Load(), nil
}

// Bump advances the generation and drops existing entries.
func (c *MemoryCache) Bump(context.Context) (int64, error) {
	gen := c.gen.Add(1)
	c.items.Flush()
	return gen, nil
}

// Get loads an entry.
func (c *MemoryCache) Get(_ context.Context, key string) ([]Permission, bool, error) {
	v, ok := c.items.Get(key)
	if !ok {
		return nil, false, nil
	}
	perms, _ := v.([]Permission)
	return append([]Permission(nil), perms...), true, nil
}

// Set stores a copy of perms.
func (c *MemoryCache) Set(_ context.Context, key string, perms []Permission) error {
	c.items.SetDefault(key, append([]Permission(nil), perms...))
	return nil
}

var (
	_ PermissionResolver = (*CachedResolver)(nil)
	_ Invalidator        = (*CachedResolver)(nil)
	_ Invalidator        = NopInvalidator{}
	_ Cache              = (*RedisCache)(nil)
	_ Cache              = (*MemoryCache)(nil)
)
