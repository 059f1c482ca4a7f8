package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/callquota/internal/cache"
	"github.com/smallbiznis/callquota/internal/clock"
	"github.com/smallbiznis/callquota/internal/config"
	"github.com/smallbiznis/callquota/internal/observability"
	"github.com/smallbiznis/callquota/internal/organization"
	"github.com/smallbiznis/callquota/internal/ratelimit"
	"github.com/smallbiznis/callquota/internal/retention"
	"github.com/smallbiznis/callquota/internal/scheduler"
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

		// Domain services required by scheduler
		ratelimit.Module,
		cache.Module,
		organization.Module,
		usage.Module,
		retention.Module,

		// No server module!
		scheduler.Module,
		fx.Invoke(scheduler.Run),
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}
