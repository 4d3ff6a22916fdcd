package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/familyfund/backend/internal/audit"
	"github.com/familyfund/backend/internal/config"
	"github.com/familyfund/backend/internal/database"
	"github.com/familyfund/backend/internal/gateway"
	"github.com/familyfund/backend/internal/idempotency"
	"github.com/familyfund/backend/internal/services"
	"github.com/familyfund/backend/internal/storage"
	"github.com/familyfund/backend/pkg/logging"
)

// app is the service graph a command works with.
type app struct {
	store       *storage.Store
	ledger      *services.LedgerService
	reconciler  *services.Reconciler
	gatewayMode string
	close       func()
}

// errSandboxGateway stops commands that would ask a fresh in-process sandbox
// about charges it never made. Every such charge would look not found and be
// released or refunded wrongly.
var errSandboxGateway = errors.New("command needs the processor gateway (GATEWAY_MODE=http); the sandbox holds no charges made by the server")

// requireLiveGateway rejects gateway modes that cannot see real charges.
func requireLiveGateway(mode string) error {
	if mode != "http" {
		return fmt.Errorf("gateway mode %q: %w", mode, errSandboxGateway)
	}
	return nil
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}
	logging.Setup(cfg.LogLevel)

	store, err := database.OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	redisClient := database.InitRedis(ctx, cfg.Redis)
	locker := idempotency.NewLocker(redisClient, cfg.Redis.LockTTL)

	gw := gateway.New(cfg.Gateway, nil)

	auditLogger := audit.NewLogger(slog.Default())
	ledger := services.NewLedgerService(store, auditLogger)
	onboarding := services.NewOnboardingService(store, ledger, gw, locker, auditLogger, services.OnboardingConfig{
		Fee:            cfg.Fund.OnboardingFee,
		Currency:       cfg.Fund.Currency,
		MaxCommitTries: cfg.Reconcile.MaxCommitTries,
	})
	topUp := services.NewTopUpService(store, ledger, gw, locker, auditLogger, cfg.Reconcile.MaxCommitTries)
	reconciler := services.NewReconciler(store, gw, locker, auditLogger, onboarding, topUp, services.ReconcileConfig{
		StaleAfter:   cfg.Reconcile.StaleAfter,
		AbandonAfter: cfg.Reconcile.AbandonAfter,
		BatchSize:    cfg.Reconcile.BatchSize,
	})

	return &app{
		store:       store,
		ledger:      ledger,
		reconciler:  reconciler,
		gatewayMode: cfg.Gateway.Mode,
		close: func() {
			if redisClient != nil {
				redisClient.Close()
			}
			store.Close()
		},
	}, nil
}

func withApp(fn func(ctx context.Context, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()
		return fn(ctx, a, args)
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: withApp(func(ctx context.Context, a *app, _ []string) error {
			// OpenStore already migrated; report what it ran against.
			fmt.Printf("schema up to date (%s)\n", a.store.Dialect())
			return nil
		}),
	}
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run one sweep over stale payment attempts",
		RunE: withApp(func(ctx context.Context, a *app, _ []string) error {
			if err := requireLiveGateway(a.gatewayMode); err != nil {
				return err
			}
			report, err := a.reconciler.RunOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("examined=%d committed=%d released=%d escalated=%d abandoned=%d pending=%d skipped=%d\n",
				report.Examined, report.Committed, report.Released, report.Escalated,
				report.Abandoned, report.Pending, report.Skipped)
			return nil
		}),
	}
}

func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify [fundID]",
		Short: "Check balances against the transaction log; inconsistent funds are frozen",
		Args:  cobra.MaximumNArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			if len(args) == 1 {
				if err := a.ledger.VerifyFund(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("fund %s consistent\n", args[0])
				return nil
			}

			report, err := a.ledger.VerifyAll(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("checked %d funds, %d inconsistent\n", report.Checked, len(report.Inconsistent))
			for _, id := range report.Inconsistent {
				fmt.Printf("  frozen: %s\n", id)
			}
			if len(report.Inconsistent) > 0 {
				return fmt.Errorf("%d funds frozen", len(report.Inconsistent))
			}
			return nil
		}),
	}
}

func unfreezeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unfreeze <fundID>",
		Short: "Reopen a frozen fund whose balance matches its log again",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			if err := a.ledger.UnfreezeFund(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("fund %s active\n", args[0])
			return nil
		}),
	}
}

func retryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <attemptID>",
		Short: "Retry recording a charged attempt in pending_reconciliation",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			attempt, err := a.reconciler.RetryPending(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("attempt %s %s\n", attempt.ID, attempt.State)
			return nil
		}),
	}
}

func refundCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refund <attemptID>",
		Short: "Refund a charge that was never recorded in the ledger",
		Long: `Refund returns the money of an attempt in pending_reconciliation.

The gateway must confirm the charge succeeded, and the ledger must have no
record of it. Prefer retry when the deposit can still be recorded.`,
		Args: cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			if err := requireLiveGateway(a.gatewayMode); err != nil {
				return err
			}
			result, err := a.reconciler.Refund(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("attempt %s refunded (%s)\n", args[0], result.RefundRef)
			return nil
		}),
	}
}
