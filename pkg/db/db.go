package db

import (
	"context"
	"fmt"

	"github.com/smallbiznis/callquota/internal/config"
	obslogger "github.com/smallbiznis/callquota/internal/observability/logger"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormprom "gorm.io/plugin/prometheus"
)

var Module = fx.Module("db",
	fx.Provide(New),
)

type Params struct {
	fx.In

	Lifecycle  fx.Lifecycle
	Config     config.Config
	Log        *zap.Logger
	GormLogger *obslogger.GormLogger `optional:"true"`
}

// New opens the configured database, applies the pool limits and installs the
// tracing and prometheus plugins.
func New(p Params) (*gorm.DB, error) {
	dialector, err := Dialect(p.Config)
	if err != nil {
		return nil, err
	}

	gormCfg := &gorm.Config{
		// duplicate keys surface as gorm.ErrDuplicatedKey
		TranslateError: true,
	}
	if p.GormLogger != nil {
		gormCfg.Logger = p.GormLogger
	}

	conn, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", p.Config.DBType, err)
	}

	if err := conn.Use(otelgorm.NewPlugin(
		otelgorm.WithDBName(p.Config.DBName),
		otelgorm.WithoutQueryVariables(),
	)); err != nil {
		return nil, fmt.Errorf("register otelgorm: %w", err)
	}

	if p.Config.DBMetricsEnabled {
		if err := conn.Use(gormprom.New(gormprom.Config{
			DBName:          p.Config.DBName,
			RefreshInterval: 15,
		})); err != nil {
			return nil, fmt.Errorf("register gorm prometheus: %w", err)
		}
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	pool := PoolConfigFrom(p.Config)
	sqlDB.SetMaxIdleConns(pool.MaxIdleConn)
	sqlDB.SetMaxOpenConns(pool.MaxOpenConn)
	sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return sqlDB.PingContext(ctx)
		},
		OnStop: func(context.Context) error {
			p.Log.Info("closing database pool")
			return sqlDB.Close()
		},
	})

	p.Log.Info("database configured",
		zap.String("type", p.Config.DBType),
		zap.Int("max_open_conn", pool.MaxOpenConn),
	)
	return conn, nil
}

// SupportsRowLocks reports whether the dialect understands SELECT ... FOR UPDATE.
func SupportsRowLocks(conn *gorm.DB) bool {
	if conn == nil || conn.Dialector == nil {
		return false
	}
	switch conn.Dialector.Name() {
	case "postgres", "mysql":
		return true
	default:
		return false
	}
}
