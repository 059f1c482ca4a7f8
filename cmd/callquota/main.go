package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "callquota",
	Short: "Usage tracking and quota reservation service",
	Long: `callquota meters call minutes against plan allocations.

Processes:
  callquota serve      # HTTP API
  callquota scheduler  # period rollover, reconciliation, retention

Operations:
  callquota migrate up
  callquota reconcile <account-id>
  callquota rollover <account-id>
  callquota retention run`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
