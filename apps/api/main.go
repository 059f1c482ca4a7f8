package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/callquota/internal/cache"
	"github.com/smallbiznis/callquota/internal/clock"
	"github.com/smallbiznis/callquota/internal/config"
	"github.com/smallbiznis/callquota/internal/migration"
	"github.com/smallbiznis/callquota/internal/observability"
	"github.com/smallbiznis/callquota/internal/organization"
	"github.com/smallbiznis/callquota/internal/ratelimit"
	"github.com/smallbiznis/callquota/internal/retention"
	"github.com/smallbiznis/callquota/internal/server"
	"github.com/smallbiznis/callquota/internal/usage"
	"github.com/smallbiznis/callquota/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		ratelimit.Module,
		cache.Module,
		organization.Module,
		usage.Module,
		retention.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
