package server

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/callquota/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/callquota/internal/observability/metrics"
	"go.uber.org/zap"
)

const rateLimitReasonOrgRate = "org-rate"

// RecordUsageRateLimit throttles usage writes per account with the redis
// token bucket. Limiter failures fail open so a redis outage never blocks
// metering.
func (s *Server) RecordUsageRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		orgID := strings.TrimSpace(c.Param("id"))
		endpoint := normalizeRateLimitEndpoint(c)

		result, err := s.limiter.Allow(ctx, orgID)
		if err != nil {
			logger.FromContext(ctx).Warn("record usage rate limit check failed", zap.Error(err))
			c.Next()
			return
		}
		if !result.Allowed {
			c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(result.RetryAfter.Seconds()))))
			denyRecordUsage(c, endpoint, s.obsMetrics)
			return
		}

		c.Next()
	}
}

func denyRecordUsage(c *gin.Context, endpoint string, metrics *obsmetrics.Metrics) {
	ctx := c.Request.Context()
	logger.FromContext(ctx).Warn("record usage rate limit exceeded",
		zap.String("reason", rateLimitReasonOrgRate),
		zap.String("endpoint", endpoint),
	)
	recordRateLimitDenied(ctx, endpoint, metrics)

	c.Header("X-Rate-Limited-Reason", rateLimitReasonOrgRate)
	AbortWithError(c, ErrRateLimited)
}

func recordRateLimitDenied(ctx context.Context, endpoint string, metrics *obsmetrics.Metrics) {
	metrics.RecordRateLimitDenied(ctx, endpoint)
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
