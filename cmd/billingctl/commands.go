package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/user"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dukerupert/parley/internal"
	"github.com/dukerupert/parley/internal/bootstrap"
	"github.com/dukerupert/parley/internal/domain"
	"github.com/dukerupert/parley/internal/service"
)

func newRootCmd(open openFunc) *cobra.Command {
	root := &cobra.Command{
		Use:           "billingctl",
		Short:         "Inspect and repair tenant billing state",
		Long:          `billingctl reconciles tenant billing records against Stripe and manages operator lock overrides.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newReconcileCmd(open),
		newStatusCmd(open),
		newOverrideCmd(open, "lock", "Lock a tenant regardless of billing state", func(s service.BillingService) overrideFunc { return s.Lock }),
		newOverrideCmd(open, "unlock", "Unlock a tenant regardless of billing state", func(s service.BillingService) overrideFunc { return s.Unlock }),
		newClearOverrideCmd(open),
		newProvisionCmd(open),
		newMigrateCmd(),
	)
	return root
}

// withService opens the billing service, tags the context with the CLI
// operator as audit actor, and runs fn.
func withService(open openFunc, cmd *cobra.Command, fn func(ctx context.Context, svc service.BillingService) error) error {
	ctx := domain.NewContextWithActor(cmd.Context(), cliActor())

	svc, closeFn, err := open(ctx, cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	return fn(ctx, svc)
}

func cliActor() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return domain.ActorOperator + ":" + u.Username
	}
	return domain.ActorOperator
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newReconcileCmd(open openFunc) *cobra.Command {
	var (
		tenantKey string
		dryRun    bool
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Pull billing state from Stripe and fold it into local records",
		Example: `  # Reconcile one tenant
  billingctl reconcile --tenant acme

  # Preview a batch of 100 linked tenants without writing
  billingctl reconcile --limit 100 --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 0 {
				return fmt.Errorf("--limit must not be negative")
			}
			return withService(open, cmd, func(ctx context.Context, svc service.BillingService) error {
				report, err := svc.Reconcile(ctx, service.ReconcileRequest{
					TenantKey: tenantKey,
					DryRun:    dryRun,
					Limit:     limit,
					Trigger:   service.TriggerCLI,
				})
				if err != nil {
					return err
				}
				if err := printJSON(cmd, report); err != nil {
					return err
				}
				if n := len(report.Errors); n > 0 {
					return fmt.Errorf("%d of %d tenants failed to reconcile", n, report.TenantsScanned)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&tenantKey, "tenant", "t", "", "tenant key (default: a batch of linked tenants)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "compute changes without writing them")
	cmd.Flags().IntVar(&limit, "limit", 0, "batch size (default: BILLING_RECONCILE_BATCH)")
	return cmd
}

func newStatusCmd(open openFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "status TENANT",
		Short: "Show a tenant's billing record and lock decision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(open, cmd, func(ctx context.Context, svc service.BillingService) error {
				status, err := svc.Status(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, status)
			})
		},
	}
}

type overrideFunc func(ctx context.Context, tenantRef, reason string) (*service.TenantStatus, error)

func newOverrideCmd(open openFunc, use, short string, pick func(service.BillingService) overrideFunc) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   use + " TENANT",
		Short: short,
		Long:  short + ". The override wins over webhook and reconcile updates until cleared.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(reason) > 500 {
				return fmt.Errorf("--reason must be at most 500 characters")
			}
			return withService(open, cmd, func(ctx context.Context, svc service.BillingService) error {
				status, err := pick(svc)(ctx, args[0], reason)
				if err != nil {
					return err
				}
				return printJSON(cmd, status)
			})
		},
	}

	cmd.Flags().StringVarP(&reason, "reason", "r", "", "reason recorded with the override")
	return cmd
}

func newClearOverrideCmd(open openFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-override TENANT",
		Short: "Remove an operator override so computed billing state applies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(open, cmd, func(ctx context.Context, svc service.BillingService) error {
				status, err := svc.ClearOverride(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, status)
			})
		},
	}
}

func newProvisionCmd(open openFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "provision TENANT_ID TENANT_KEY",
		Short: "Create the empty billing record for a new tenant",
		Long:  `Create the empty billing record for a new tenant. Re-running it for an existing tenant prints the stored record unchanged.`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid tenant id %q: %w", args[0], err)
			}
			return withService(open, cmd, func(ctx context.Context, svc service.BillingService) error {
				rec, err := svc.Provision(ctx, id, args[1])
				if err != nil {
					return err
				}
				return printJSON(cmd, rec)
			})
		},
	}
}

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSQL(func(cfg *internal.Config) error {
				db, err := bootstrap.OpenSQL(cfg.DatabaseUrl)
				if err != nil {
					return err
				}
				defer db.Close()
				if err := internal.RunMigrations(db); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return nil
			})
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSQL(func(cfg *internal.Config) error {
				db, err := bootstrap.OpenSQL(cfg.DatabaseUrl)
				if err != nil {
					return err
				}
				defer db.Close()
				return internal.MigrationStatus(db)
			})
		},
	})
	return cmd
}

func withSQL(fn func(cfg *internal.Config) error) error {
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}
	return fn(cfg)
}
