package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/callquota/internal/observability/logger"
	"go.uber.org/zap"
)

const HeaderCronSecret = "X-Cron-Secret"

// RequireCronSecret guards internal routes. An unset CRON_SECRET disables them.
func (s *Server) RequireCronSecret() gin.HandlerFunc {
	return func(c *gin.Context) {
		expected := strings.TrimSpace(s.cfg.CronSecret)
		provided := strings.TrimSpace(c.GetHeader(HeaderCronSecret))
		if expected == "" || subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}

func (s *Server) RunRetentionCleanup(c *gin.Context) {
	result, err := s.retentionSvc.RunRetentionCleanup(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	logger.FromContext(c.Request.Context()).Info("retention cleanup triggered",
		zap.String("run_id", result.RunID),
		zap.Int("processed", result.Processed),
		zap.Int("errors", len(result.Errors)),
	)
	c.JSON(http.StatusOK, result)
}

func (s *Server) CleanupAccount(c *gin.Context) {
	result, err := s.retentionSvc.CleanupAccount(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
