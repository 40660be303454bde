package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"genorch/internal/infra"
	"genorch/internal/ledger"
	"genorch/internal/migrations"
)

func limitsCmd() *cobra.Command {
	limits := &cobra.Command{
		Use:   "limits",
		Short: "Manage per-owner credit limits",
	}

	var (
		period   string
		standard int
		premium  int
	)
	set := &cobra.Command{
		Use:   "set <owner-id>",
		Short: "Override the standard and premium limits of one owner for a period",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if standard < 0 || premium < 0 {
				return errors.New("limits must not be negative")
			}
			if period != "" && !ledger.ValidPeriod(period) {
				return fmt.Errorf("invalid period %q (want YYYY-MM or YYYY-Www)", period)
			}
			return withLedger(cmd, func(l *ledger.Service) error {
				if period == "" {
					period = l.CurrentPeriod()
				}
				if err := l.SetLimits(cmd.Context(), args[0], period, standard, premium); err != nil {
					return err
				}
				return printBalance(cmd, l, args[0], period)
			})
		},
	}
	set.Flags().StringVar(&period, "period", "", "period key, defaults to the current period")
	set.Flags().IntVar(&standard, "standard", 0, "standard credit limit")
	set.Flags().IntVar(&premium, "premium", 0, "included premium credit limit")
	_ = set.MarkFlagRequired("standard")
	_ = set.MarkFlagRequired("premium")

	limits.AddCommand(set)
	return limits
}

func balanceCmd() *cobra.Command {
	var period string
	cmd := &cobra.Command{
		Use:   "balance <owner-id>",
		Short: "Show an owner's credit balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, func(l *ledger.Service) error {
				return printBalance(cmd, l, args[0], period)
			})
		},
	}
	cmd.Flags().StringVar(&period, "period", "", "period key, defaults to the current period")
	return cmd
}

func printBalance(cmd *cobra.Command, l *ledger.Service, owner, period string) error {
	acct, err := l.Balance(cmd.Context(), owner, period)
	if err != nil {
		return err
	}
	return printJSON(cmd, map[string]any{
		"owner_id":           acct.OwnerID,
		"period":             acct.Period,
		"standard_limit":     acct.StandardLimit,
		"standard_used":      acct.StandardUsed,
		"standard_remaining": acct.StandardRemaining(),
		"premium_limit":      acct.PremiumLimit,
		"premium_used":       acct.PremiumUsed,
		"premium_remaining":  acct.PremiumRemaining(),
	})
}

func addonCmd() *cobra.Command {
	addon := &cobra.Command{
		Use:   "addon",
		Short: "Inspect and settle pay-per-use addons",
	}

	var owner string
	show := &cobra.Command{
		Use:   "show <addon-id>",
		Short: "Show one addon purchase",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, func(l *ledger.Service) error {
				a, err := l.Addon(cmd.Context(), owner, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, a)
			})
		},
	}
	show.Flags().StringVar(&owner, "owner", "", "owner the addon must belong to")
	_ = show.MarkFlagRequired("owner")

	var (
		chargeID string
		failed   bool
	)
	confirm := &cobra.Command{
		Use:   "confirm <addon-id>",
		Short: "Record a payment outcome the gateway callback never delivered",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(chargeID) == "" {
				return errors.New("--charge is required")
			}
			return withLedger(cmd, func(l *ledger.Service) error {
				a, err := l.ConfirmAddonPayment(cmd.Context(), args[0], chargeID, !failed)
				if err != nil {
					return err
				}
				return printJSON(cmd, a)
			})
		},
	}
	confirm.Flags().StringVar(&chargeID, "charge", "", "gateway charge id")
	confirm.Flags().BoolVar(&failed, "failed", false, "mark the payment as failed instead of paid")

	addon.AddCommand(show, confirm)
	return addon
}

func migrateCmd() *cobra.Command {
	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the PostgreSQL schema",
	}
	run := func(fn func(*migrations.Migrator) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			cfg, err := infra.LoadConfig()
			if err != nil {
				return err
			}
			if cfg.StoreBackend != infra.StoreBackendPostgres {
				return errors.New("migrations require STORE_BACKEND=postgres")
			}
			return fn(migrations.NewMigrator(cfg.DatabaseURL, infra.NewLogger(cfg.AppEnv, "ledgerctl")))
		}
	}
	migrate.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE:  run(func(m *migrations.Migrator) error { return m.Up() }),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back every migration",
			Args:  cobra.NoArgs,
			RunE:  run(func(m *migrations.Migrator) error { return m.Down() }),
		},
	)
	version := &cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		Args:  cobra.NoArgs,
	}
	version.RunE = run(func(m *migrations.Migrator) error {
		v, dirty, err := m.Version()
		if err != nil {
			return err
		}
		fmt.Fprintf(version.OutOrStdout(), "version=%d dirty=%t\n", v, dirty)
		return nil
	})
	migrate.AddCommand(version)
	return migrate
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
