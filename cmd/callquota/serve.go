package main

import (
	"github.com/smallbiznis/callquota/internal/migration"
	"github.com/smallbiznis/callquota/internal/scheduler"
	"github.com/smallbiznis/callquota/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var withScheduler bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the HTTP API.

Configuration comes from the environment (and .env when present):
  HTTP_ADDR            listen address (default :8080)
  DATABASE_*           database connection
  REDIS_ADDR           enables the redis cache, rate limiter and sweep lock
  CRON_SECRET          enables POST /internal/retention/cleanup
  POLICY_FILE          plan tiers, thresholds and retention policies

Use --with-scheduler to run the background jobs in the same process.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		options := []fx.Option{
			infrastructure(),
			domains(),
			migration.Module,
			server.Module,
		}
		if withScheduler {
			options = append(options, scheduler.Module, fx.Invoke(scheduler.Run))
		}
		fx.New(options...).Run()
		return nil
	},
}

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Run period rollover, reconciliation and retention jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		fx.New(
			infrastructure(),
			domains(),
			scheduler.Module,
			fx.Invoke(scheduler.Run),
		).Run()
		return nil
	},
}

func init() {
	serveCmd.Flags().BoolVar(&withScheduler, "with-scheduler", false, "run the scheduler in the API process")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(schedulerCmd)
}
