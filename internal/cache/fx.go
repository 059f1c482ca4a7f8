package cache

import (
	"fmt"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/callquota/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("usage.cache",
	fx.Provide(NewUsageCache),
)

type Params struct {
	fx.In

	Config config.Config
	Log    *zap.Logger
	Redis  *redis.Client `optional:"true"`
}

// NewUsageCache selects the cache implementation from CACHE_DRIVER.
func NewUsageCache(p Params) (UsageCache, error) {
	switch p.Config.Cache.Driver {
	case "", DriverMemory:
		return NewMemoryUsageCache(p.Config.Cache.TTL), nil
	case DriverRedis:
		if p.Redis == nil {
			return nil, fmt.Errorf("cache driver %q requires REDIS_ADDR", DriverRedis)
		}
		return NewRedisUsageCache(p.Redis, p.Config.Cache.TTL, p.Log), nil
	default:
		return nil, fmt.Errorf("unsupported cache driver %q", p.Config.Cache.Driver)
	}
}
