// Command ledgerctl is the operator tool for the credit ledger: it adjusts plan limits,
// inspects balances, settles addon payments by hand and runs schema migrations.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"genorch/internal/bootstrap"
	"genorch/internal/infra"
	"genorch/internal/ledger"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Administer generation credits and addon purchases",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(limitsCmd(), balanceCmd(), addonCmd(), migrateCmd())
	return root
}

// withLedger loads configuration and hands fn a ledger backed by the configured stores.
func withLedger(cmd *cobra.Command, fn func(*ledger.Service) error) error {
	cfg, err := infra.LoadConfig()
	if err != nil {
		return err
	}
	logger := infra.NewLogger(cfg.AppEnv, "ledgerctl")
	comps, err := bootstrap.Build(cmd.Context(), cfg, logger, bootstrap.Options{Service: "ledgerctl", SkipOrchestrator: true})
	if err != nil {
		return err
	}
	defer comps.Close()
	return fn(comps.Ledger)
}
