package db

import (
	"time"

	"github.com/smallbiznis/callquota/internal/config"
)

// PoolConfig carries the connection pool limits applied after open.
type PoolConfig struct {
	MaxIdleConn     int
	MaxOpenConn     int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

func PoolConfigFrom(cfg config.Config) PoolConfig {
	pool := PoolConfig{
		MaxIdleConn:     cfg.DBMaxIdleConn,
		MaxOpenConn:     cfg.DBMaxOpenConn,
		ConnMaxLifetime: time.Duration(cfg.DBConnMaxLifetime) * time.Second,
		ConnMaxIdleTime: time.Duration(cfg.DBConnMaxIdleTime) * time.Second,
	}
	// sqlite allows a single writer
	if cfg.DBType == "sqlite" {
		pool.MaxOpenConn = 1
		pool.MaxIdleConn = 1
	}
	return pool
}
