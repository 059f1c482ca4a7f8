package main

import (
	"context"
	"fmt"

	"github.com/smallbiznis/callquota/internal/migration"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		var conn *gorm.DB
		return runOnce(cmd.Context(), []any{&conn}, func(context.Context) error {
			if err := migration.Run(conn); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema up to date (%s)\n", conn.Dialector.Name())
			return nil
		})
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the applied migration version (postgres only)",
	RunE: func(cmd *cobra.Command, args []string) error {
		var conn *gorm.DB
		return runOnce(cmd.Context(), []any{&conn}, func(context.Context) error {
			if conn.Dialector.Name() != "postgres" {
				return fmt.Errorf("versioned migrations are only tracked on postgres, have %s", conn.Dialector.Name())
			}
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			version, dirty, err := migration.Version(sqlDB)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version=%d dirty=%t\n", version, dirty)
			return nil
		})
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateVersionCmd)
	rootCmd.AddCommand(migrateCmd)
}
