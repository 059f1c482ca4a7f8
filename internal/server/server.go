package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/callquota/internal/config"
	"github.com/smallbiznis/callquota/internal/observability"
	obsmiddleware "github.com/smallbiznis/callquota/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/callquota/internal/observability/metrics"
	obstracing "github.com/smallbiznis/callquota/internal/observability/tracing"
	orgdomain "github.com/smallbiznis/callquota/internal/organization/domain"
	"github.com/smallbiznis/callquota/internal/ratelimit"
	retentiondomain "github.com/smallbiznis/callquota/internal/retention/domain"
	usagedomain "github.com/smallbiznis/callquota/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(registerRoutes),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	if httpMetrics != nil {
		r.Use(httpMetrics.Middleware())
	}
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET(obsCfg.MetricsRoute(), gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	addr := cfg.HTTPAddr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type ServerParams struct {
	fx.In

	Config       config.Config
	Log          *zap.Logger
	UsageSvc     usagedomain.Service
	AccountSvc   orgdomain.Service
	RetentionSvc retentiondomain.Service
	Limiter      *ratelimit.RecordUsageLimiter `optional:"true"`
	Metrics      *obsmetrics.Metrics           `optional:"true"`
}

type Server struct {
	cfg          config.Config
	log          *zap.Logger
	usageSvc     usagedomain.Service
	accountSvc   orgdomain.Service
	retentionSvc retentiondomain.Service
	limiter      *ratelimit.RecordUsageLimiter
	obsMetrics   *obsmetrics.Metrics
}

func NewServer(p ServerParams) *Server {
	return &Server{
		cfg:          p.Config,
		log:          p.Log.Named("http"),
		usageSvc:     p.UsageSvc,
		accountSvc:   p.AccountSvc,
		retentionSvc: p.RetentionSvc,
		limiter:      p.Limiter,
		obsMetrics:   p.Metrics,
	}
}

func registerRoutes(r *gin.Engine, s *Server) {
	s.RegisterRoutes(r)
}

// RegisterRoutes mounts the public API and the internal cron routes.
func (s *Server) RegisterRoutes(r *gin.Engine) {
	v1 := r.Group("/v1")

	v1.POST("/accounts", s.CreateAccount)
	v1.GET("/accounts", s.ListAccounts)
	v1.GET("/accounts/:id", s.GetAccount)
	v1.POST("/accounts/:id/plan", s.ChangePlan)
	v1.POST("/accounts/:id/archive", s.ArchiveAccount)

	v1.GET("/accounts/:id/usage", s.GetUsage)
	v1.POST("/accounts/:id/usage/check", s.CheckUsage)
	v1.POST("/accounts/:id/usage", s.RecordUsageRateLimit(), s.RecordUsage)
	v1.GET("/accounts/:id/usage/events", s.ListUsageEvents)
	v1.POST("/accounts/:id/usage/reconcile", s.ReconcileUsage)
	v1.POST("/accounts/:id/overage", s.AddOverage)

	internal := r.Group("/internal", s.RequireCronSecret())
	internal.POST("/retention/cleanup", s.RunRetentionCleanup)
	internal.POST("/retention/cleanup/:id", s.CleanupAccount)
}
