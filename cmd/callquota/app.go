package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/callquota/internal/cache"
	"github.com/smallbiznis/callquota/internal/clock"
	"github.com/smallbiznis/callquota/internal/config"
	"github.com/smallbiznis/callquota/internal/observability"
	"github.com/smallbiznis/callquota/internal/organization"
	"github.com/smallbiznis/callquota/internal/ratelimit"
	"github.com/smallbiznis/callquota/internal/retention"
	"github.com/smallbiznis/callquota/internal/usage"
	"github.com/smallbiznis/callquota/pkg/db"
	"go.uber.org/fx"
)

var nodeID int64

func init() {
	rootCmd.PersistentFlags().Int64Var(&nodeID, "node-id", 1, "snowflake node id for generated ids")
}

func registerSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(nodeID)
}

// infrastructure is shared by every process and one-shot command.
func infrastructure() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		fx.Provide(registerSnowflake),
		db.Module,
		clock.Module,
	)
}

func domains() fx.Option {
	return fx.Options(
		ratelimit.Module,
		cache.Module,
		organization.Module,
		usage.Module,
		retention.Module,
	)
}

// runOnce starts a short-lived app, populates targets, runs fn and stops.
func runOnce(ctx context.Context, targets []any, fn func(ctx context.Context) error, opts ...fx.Option) error {
	options := []fx.Option{
		infrastructure(),
		domains(),
		fx.NopLogger,
		fx.Populate(targets...),
	}
	app := fx.New(append(options, opts...)...)
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = app.Stop(stopCtx)
	}()

	return fn(ctx)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
