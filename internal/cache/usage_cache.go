package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	usagedomain "github.com/smallbiznis/callquota/internal/usage/domain"
	"go.uber.org/zap"
)

const (
	DriverMemory = "memory"
	DriverRedis  = "redis"

	defaultUsageTTL = 30 * time.Second
	redisKeyPrefix  = "callquota:usage:"
	redisTimeout    = 250 * time.Millisecond
)

// UsageCache holds usage summaries keyed by organization id. Entries are
// advisory: every write path invalidates, and quota decisions never trust them.
type UsageCache interface {
	Get(orgID string) (usagedomain.UsageSummary, bool)
	Set(orgID string, summary usagedomain.UsageSummary)
	Invalidate(orgID string)
}

type memoryUsageCache struct {
	entries Cache[string, usagedomain.UsageSummary]
	ttl     time.Duration
}

// NewMemoryUsageCache returns a per-process usage cache.
func NewMemoryUsageCache(ttl time.Duration) UsageCache {
	if ttl <= 0 {
		ttl = defaultUsageTTL
	}
	return &memoryUsageCache{
		entries: NewTTLCache[string, usagedomain.UsageSummary](),
		ttl:     ttl,
	}
}

func (c *memoryUsageCache) Get(orgID string) (usagedomain.UsageSummary, bool) {
	return c.entries.Get(normalizeKey(orgID))
}

func (c *memoryUsageCache) Set(orgID string, summary usagedomain.UsageSummary) {
	key := normalizeKey(orgID)
	if key == "" {
		return
	}
	c.entries.Set(key, summary, c.ttl)
}

func (c *memoryUsageCache) Invalidate(orgID string) {
	c.entries.Delete(normalizeKey(orgID))
}

type redisUsageCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	log    *zap.Logger
}

// NewRedisUsageCache shares summaries across replicas. Redis errors degrade to
// cache misses.
func NewRedisUsageCache(client redis.UniversalClient, ttl time.Duration, log *zap.Logger) UsageCache {
	if ttl <= 0 {
		ttl = defaultUsageTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &redisUsageCache{client: client, ttl: ttl, log: log.Named("usage.cache")}
}

func (c *redisUsageCache) Get(orgID string) (usagedomain.UsageSummary, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	raw, err := c.client.Get(ctx, RedisKey(orgID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("usage cache read failed", zap.String("org_id", orgID), zap.Error(err))
		}
		return usagedomain.UsageSummary{}, false
	}

	var summary usagedomain.UsageSummary
	if err := json.Unmarshal(raw, &summary); err != nil {
		c.log.Warn("usage cache entry corrupt", zap.String("org_id", orgID), zap.Error(err))
		return usagedomain.UsageSummary{}, false
	}
	return summary, true
}

func (c *redisUsageCache) Set(orgID string, summary usagedomain.UsageSummary) {
	raw, err := json.Marshal(summary)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	if err := c.client.Set(ctx, RedisKey(orgID), raw, c.ttl).Err(); err != nil {
		c.log.Warn("usage cache write failed", zap.String("org_id", orgID), zap.Error(err))
	}
}

func (c *redisUsageCache) Invalidate(orgID string) {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	if err := c.client.Del(ctx, RedisKey(orgID)).Err(); err != nil {
		c.log.Warn("usage cache invalidate failed", zap.String("org_id", orgID), zap.Error(err))
	}
}

// RedisKey is the key a summary is stored under.
func RedisKey(orgID string) string {
	return redisKeyPrefix + normalizeKey(orgID)
}

func normalizeKey(orgID string) string {
	return strings.ToLower(strings.TrimSpace(orgID))
}
