package ratelimit

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// tokenBucketScript refills KEYS[1] at ARGV[1] tokens/s up to ARGV[2] and
// takes ARGV[4] tokens when enough are available. Redis TIME keeps replicas
// of the API from disagreeing about the clock.
const tokenBucketScript = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])

local nowData = redis.call("TIME")
local now = (nowData[1] * 1000) + math.floor(nowData[2] / 1000)

local data = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(data[1])
local ts = tonumber(data[2])

if tokens == nil then
  tokens = burst
else
  local delta = math.max(0, now - ts)
  tokens = math.min(burst, tokens + (delta / 1000) * rate)
end

local allowed = 0
if tokens >= cost then
  allowed = 1
  tokens = tokens - cost
end

redis.call("HSET", KEYS[1], "tokens", tokens, "ts", now)
redis.call("PEXPIRE", KEYS[1], ttl)

return {allowed, tostring(tokens), now}
`

var (
	ErrLimiterNotConfigured = errors.New("rate limiter not configured")
	errEmptyKey             = errors.New("rate limiter key is empty")
	errInvalidRate          = errors.New("rate limiter rate and burst must be positive")
)

type TokenBucket struct {
	client *redis.Client
	script *redis.Script
}

type RateLimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration
}

func NewTokenBucket(client *redis.Client) *TokenBucket {
	if client == nil {
		return nil
	}
	return &TokenBucket{
		client: client,
		script: redis.NewScript(tokenBucketScript),
	}
}

func (t *TokenBucket) Allow(ctx context.Context, key string, rate float64, burst int) (*RateLimitResult, error) {
	return t.AllowN(ctx, key, rate, burst, 1)
}

// AllowN takes cost tokens from the bucket at key.
func (t *TokenBucket) AllowN(ctx context.Context, key string, rate float64, burst int, cost float64) (*RateLimitResult, error) {
	if t == nil || t.client == nil {
		return &RateLimitResult{}, ErrLimiterNotConfigured
	}
	if key == "" {
		return &RateLimitResult{}, errEmptyKey
	}
	if rate <= 0 || burst <= 0 || cost <= 0 {
		return &RateLimitResult{}, errInvalidRate
	}

	ttl := bucketTTL(rate, burst)
	res, err := t.script.Run(ctx, t.client, []string{key},
		rate,
		burst,
		ttl.Milliseconds(),
		cost,
	).Slice()
	if err != nil {
		return &RateLimitResult{}, err
	}
	if len(res) < 3 {
		return &RateLimitResult{}, errors.New("invalid rate limit script response")
	}

	return buildResult(castToInt(res[0]) == 1, castToFloat(res[1]), castToInt(res[2]), rate, burst, cost), nil
}

func buildResult(allowed bool, tokens float64, nowMillis int64, rate float64, burst int, cost float64) *RateLimitResult {
	result := &RateLimitResult{
		Allowed:   allowed,
		Limit:     burst,
		Remaining: int(math.Floor(tokens)),
		ResetTime: time.UnixMilli(nowMillis),
	}
	if !allowed {
		if missing := cost - tokens; missing > 0 {
			result.RetryAfter = time.Duration(missing / rate * float64(time.Second))
			result.ResetTime = result.ResetTime.Add(result.RetryAfter)
		}
	}
	return result
}

// bucketTTL keeps an idle bucket around for twice the time it takes to refill.
func bucketTTL(rate float64, burst int) time.Duration {
	if rate <= 0 || burst <= 0 {
		return time.Second
	}
	seconds := math.Ceil((float64(burst) / rate) * 2)
	if seconds < 1 {
		seconds = 1
	}
	return time.Duration(seconds) * time.Second
}

func castToInt(v interface{}) int64 {
	switch val := v.(type) {
	case int64:
		return val
	case int:
		return int64(val)
	case float64:
		return int64(val)
	case string:
		n, _ := strconv.ParseInt(val, 10, 64)
		return n
	default:
		return 0
	}
}

func castToFloat(v interface{}) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case int64:
		return float64(val)
	case string:
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}
