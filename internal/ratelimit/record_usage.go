package ratelimit

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/callquota/internal/config"
	"go.uber.org/zap"
)

const keyRecordUsageOrg = "callquota:ratelimit:record_usage:%s"

// RecordUsageLimiter throttles usage writes per account. It is a no-op when
// rate limiting is disabled or redis is not configured.
type RecordUsageLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewRecordUsageLimiter(cfg config.Config, client *redis.Client, log *zap.Logger) (*RecordUsageLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return &RecordUsageLimiter{}, nil
	}
	if client == nil {
		log.Warn("rate limiting enabled without redis; record usage is not throttled")
		return &RecordUsageLimiter{}, nil
	}
	if limitCfg.RecordUsageRate <= 0 || limitCfg.RecordUsageBurst <= 0 {
		return nil, fmt.Errorf("record usage rate limit must be positive")
	}
	return &RecordUsageLimiter{
		bucket: NewTokenBucket(client),
		rate:   limitCfg.RecordUsageRate,
		burst:  limitCfg.RecordUsageBurst,
	}, nil
}

func (l *RecordUsageLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *RecordUsageLimiter) Allow(ctx context.Context, orgID string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyRecordUsageOrg, strings.TrimSpace(orgID)), l.rate, l.burst)
}
