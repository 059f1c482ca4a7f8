package main

import (
	"context"

	retentiondomain "github.com/smallbiznis/callquota/internal/retention/domain"
	"github.com/spf13/cobra"
)

var retentionAccount string

var retentionCmd = &cobra.Command{
	Use:   "retention",
	Short: "Apply data retention policies",
}

var retentionRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the retention sweep now",
	Long: `Run the retention sweep now.

Without --account every active account is swept. The sweep takes the same
redis lock as the scheduler, so a concurrent run exits with
retention_sweep_in_progress.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var svc retentiondomain.Service
		return runOnce(cmd.Context(), []any{&svc}, func(ctx context.Context) error {
			if retentionAccount != "" {
				result, err := svc.CleanupAccount(ctx, retentionAccount)
				if err != nil {
					return err
				}
				return printJSON(result)
			}
			result, err := svc.RunRetentionCleanup(ctx)
			if err != nil {
				return err
			}
			return printJSON(result)
		})
	},
}

func init() {
	retentionRunCmd.Flags().StringVar(&retentionAccount, "account", "", "sweep a single account")
	retentionCmd.AddCommand(retentionRunCmd)
	rootCmd.AddCommand(retentionCmd)
}
