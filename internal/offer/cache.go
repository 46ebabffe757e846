package offer

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/microsoft/Partner-Smart-Office-sub000/internal/partner/domain"
)

// DefaultCacheTTL is how long a resolved offer stays cached.
const DefaultCacheTTL = 24 * time.Hour

// Cache stores JSON-encodable values by key.
type Cache interface {
	// GetObject decodes the value at key into dest and reports whether it was present.
	GetObject(ctx context.Context, key string, dest any) (bool, error)
	SetObject(ctx context.Context, key string, v any, ttl time.Duration) error
}

// RedisCache is a Cache on a Redis client. A nil client disables caching.
type RedisCache struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisCache returns a cache storing keys under prefix.
func NewRedisCache(rdb *redis.Client, prefix string) *RedisCache {
	return &RedisCache{rdb: rdb, prefix: prefix}
}

// GetObject implements Cache.
func (c *RedisCache) GetObject(ctx context.Context, key string, dest any) (bool, error) {
	if c.rdb == nil {
		return false, nil
	}
	val, err := c.rdb.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(val, dest); err != nil {
		return false, err
	}
	return true, nil
}

// SetObject implements Cache.
func (c *RedisCache) SetObject(ctx context.Context, key string, v any, ttl time.Duration) error {
	if c.rdb == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.prefix+key, b, ttl).Err()
}

// CachedLookup serves offers from a cache, falling back to the wrapped Lookup on a miss.
// Cache failures are logged and never fail a lookup.
type CachedLookup struct {
	next  Lookup
	cache Cache
	ttl   time.Duration
	log   *zap.Logger
}

// NewCachedLookup wraps next with cache. A non-positive ttl selects DefaultCacheTTL.
func NewCachedLookup(next Lookup, cache Cache, ttl time.Duration, log *zap.Logger) *CachedLookup {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &CachedLookup{next: next, cache: cache, ttl: ttl, log: log}
}

// GetOffer implements Lookup.
func (c *CachedLookup) GetOffer(ctx context.Context, country, offerID string) (*domain.Offer, error) {
	k := "offer:" + key(country, offerID)
	var o domain.Offer
	hit, err := c.cache.GetObject(ctx, k, &o)
	if err != nil {
		c.log.Warn("offer cache read failed", zap.String("key", k), zap.Error(err))
	}
	if hit {
		return &o, nil
	}
	offer, err := c.next.GetOffer(ctx, country, offerID)
	if err != nil {
		return nil, err
	}
	if offer == nil {
		return nil, ErrOfferNotFound
	}
	if err := c.cache.SetObject(ctx, k, offer, c.ttl); err != nil {
		c.log.Warn("offer cache write failed", zap.String("key", k), zap.Error(err))
	}
	return offer, nil
}
