// Command fundctl runs operator tasks against the family fund database:
// migrations, reconcile sweeps, ledger verification, and the manual
// resolution of payments stuck in pending_reconciliation.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	Version = "dev"

	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "fundctl",
		Short:         "Operator tools for the family fund backend",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment")

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(verifyCmd())
	rootCmd.AddCommand(unfreezeCmd())
	rootCmd.AddCommand(retryCmd())
	rootCmd.AddCommand(refundCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
