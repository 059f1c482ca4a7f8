package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/callquota/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBucketTTL(t *testing.T) {
	assert.Equal(t, 4*time.Second, bucketTTL(20, 40))
	assert.Equal(t, time.Second, bucketTTL(1000, 1))
	assert.Equal(t, time.Second, bucketTTL(0, 10))
}

func TestBuildResultRetryAfter(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	denied := buildResult(false, 0.5, now.UnixMilli(), 2, 10, 1)
	assert.False(t, denied.Allowed)
	assert.Equal(t, 250*time.Millisecond, denied.RetryAfter)
	assert.Equal(t, now.Add(250*time.Millisecond), denied.ResetTime.UTC())

	allowed := buildResult(true, 7.9, now.UnixMilli(), 2, 10, 1)
	assert.True(t, allowed.Allowed)
	assert.Equal(t, 7, allowed.Remaining)
	assert.Zero(t, allowed.RetryAfter)
}

func TestCasts(t *testing.T) {
	assert.Equal(t, int64(3), castToInt("3"))
	assert.Equal(t, int64(1), castToInt(int64(1)))
	assert.Equal(t, 2.5, castToFloat("2.5"))
	assert.Equal(t, 0.0, castToFloat(struct{}{}))
}

func TestNilBucketReportsNotConfigured(t *testing.T) {
	var bucket *TokenBucket
	_, err := bucket.Allow(context.Background(), "k", 1, 1)
	assert.ErrorIs(t, err, ErrLimiterNotConfigured)
}

func TestRecordUsageLimiterDisabledAllows(t *testing.T) {
	limiter, err := NewRecordUsageLimiter(config.Config{}, nil, zap.NewNop())
	require.NoError(t, err)
	assert.False(t, limiter.Enabled())

	res, err := limiter.Allow(context.Background(), "1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestDisabledLockerRunsUnlocked(t *testing.T) {
	var locker *Locker
	called := false
	err := locker.WithLock(context.Background(), "k", time.Second, func(context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)

	boom := errors.New("boom")
	assert.ErrorIs(t, locker.WithLock(context.Background(), "k", time.Second, func(context.Context) error { return boom }), boom)
}
