package main

import (
	"context"

	usagedomain "github.com/smallbiznis/callquota/internal/usage/domain"
	"github.com/spf13/cobra"
)

var forceReconcile bool

var reconcileCmd = &cobra.Command{
	Use:   "reconcile <account-id>",
	Short: "Recompute an account's usage counter from the ledger",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var svc usagedomain.Service
		return runOnce(cmd.Context(), []any{&svc}, func(ctx context.Context) error {
			result, err := svc.Reconcile(ctx, usagedomain.ReconcileRequest{
				OrganizationID: args[0],
				Force:          forceReconcile,
			})
			if err != nil {
				return err
			}
			return printJSON(result)
		})
	},
}

var rolloverCmd = &cobra.Command{
	Use:   "rollover <account-id>",
	Short: "Move an account into the current billing period",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var svc usagedomain.Service
		return runOnce(cmd.Context(), []any{&svc}, func(ctx context.Context) error {
			result, err := svc.EnsureCurrentPeriod(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(result)
		})
	},
}

func init() {
	reconcileCmd.Flags().BoolVar(&forceReconcile, "force", false, "rewrite the counter even without drift")
	rootCmd.AddCommand(reconcileCmd, rolloverCmd)
}
