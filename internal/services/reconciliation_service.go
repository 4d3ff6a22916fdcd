package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/familyfund/backend/internal/audit"
	"github.com/familyfund/backend/internal/gateway"
	"github.com/familyfund/backend/internal/idempotency"
	"github.com/familyfund/backend/internal/metrics"
	"github.com/familyfund/backend/internal/models"
	"github.com/familyfund/backend/internal/storage"
)

// ReconcileConfig tunes the recovery sweep.
type ReconcileConfig struct {
	// StaleAfter must exceed the gateway timeout so a charge still in flight
	// is never mistaken for a lost one.
	StaleAfter   time.Duration
	AbandonAfter time.Duration
	BatchSize    int
}

// ReconcileReport counts what one sweep did.
type ReconcileReport struct {
	Examined  int `json:"examined"`
	Committed int `json:"committed"`
	Released  int `json:"released"`
	Escalated int `json:"escalated"`
	Abandoned int `json:"abandoned"`
	Pending   int `json:"pending"`
	Skipped   int `json:"skipped"`
}

// Reconciler settles attempts that a request left unfinished: charges with an
// unknown outcome, charged attempts whose commit failed, and wizards that were
// never paid. It never refunds on its own.
type Reconciler struct {
	runner     *attemptRunner
	onboarding *OnboardingService
	topUp      *TopUpService
	cfg        ReconcileConfig
}

func NewReconciler(store *storage.Store, gw gateway.Gateway, locker idempotency.Locker, auditLogger *audit.Logger, onboarding *OnboardingService, topUp *TopUpService, cfg ReconcileConfig) *Reconciler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Reconciler{
		runner:     newAttemptRunner(store, gw, locker, auditLogger),
		onboarding: onboarding,
		topUp:      topUp,
		cfg:        cfg,
	}
}

// Run sweeps every interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("reconciler started", "interval", interval, "stale_after", r.cfg.StaleAfter)
	for {
		select {
		case <-ctx.Done():
			slog.Info("reconciler stopped")
			return
		case <-ticker.C:
			report, err := r.RunOnce(ctx)
			if err != nil {
				slog.Error("reconcile sweep failed", "error", err)
				continue
			}
			if report.Examined > 0 {
				slog.Info("reconcile sweep finished",
					"examined", report.Examined, "committed", report.Committed, "released", report.Released,
					"escalated", report.Escalated, "abandoned", report.Abandoned, "pending", report.Pending)
			}
		}
	}
}

// RunOnce makes one pass over stale attempts.
func (r *Reconciler) RunOnce(ctx context.Context) (*ReconcileReport, error) {
	now := r.runner.now()
	report := &ReconcileReport{}

	stale, err := r.runner.store.ListAttemptsByState(ctx,
		[]models.AttemptState{models.AttemptCharging, models.AttemptCommitting},
		now.Add(-r.cfg.StaleAfter), r.cfg.BatchSize)
	if err != nil {
		return nil, err
	}
	for i := range stale {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		r.settle(ctx, stale[i].ID, report)
	}

	if r.cfg.AbandonAfter > 0 {
		idle, err := r.runner.store.ListAttemptsByState(ctx,
			[]models.AttemptState{models.AttemptAwaitingPayment},
			now.Add(-r.cfg.AbandonAfter), r.cfg.BatchSize)
		if err != nil {
			return report, err
		}
		for i := range idle {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			r.abandon(ctx, idle[i].ID, report)
		}
	}
	return report, nil
}

func (r *Reconciler) settle(ctx context.Context, attemptID string, report *ReconcileReport) {
	release, err := r.runner.lock(ctx, attemptID)
	if err != nil {
		report.Skipped++
		return
	}
	defer release()

	// Re-read under the lock; a request may have moved it on.
	attempt, err := r.runner.store.GetAttempt(ctx, attemptID)
	if err != nil {
		slog.Error("reconcile: failed to load attempt", "attempt_id", attemptID, "error", err)
		report.Skipped++
		return
	}
	report.Examined++

	if attempt.State == models.AttemptCharging {
		err := r.runner.resolveCharging(ctx, attempt, true)
		switch {
		case errors.Is(err, ErrGatewayDeclined):
			r.count(report, "released")
			return
		case err != nil:
			slog.Warn("reconcile: charge still unresolved", "attempt_id", attempt.ID, "error", err)
			r.count(report, "pending")
			return
		}
	}
	if attempt.State != models.AttemptCommitting {
		report.Skipped++
		return
	}

	err = r.finish(ctx, attempt)
	switch {
	case err == nil:
		r.count(report, "committed")
	case attempt.State == models.AttemptPendingReconciliation:
		r.count(report, "escalated")
	default:
		r.count(report, "pending")
	}
}

func (r *Reconciler) abandon(ctx context.Context, attemptID string, report *ReconcileReport) {
	release, err := r.runner.lock(ctx, attemptID)
	if err != nil {
		report.Skipped++
		return
	}
	defer release()

	attempt, err := r.runner.store.GetAttempt(ctx, attemptID)
	if err != nil || attempt.State != models.AttemptAwaitingPayment {
		report.Skipped++
		return
	}
	report.Examined++

	attempt.FailureReason = "abandoned before payment"
	if err := r.runner.transition(ctx, attempt, models.AttemptFailed); err != nil {
		slog.Error("reconcile: failed to close abandoned attempt", "attempt_id", attempt.ID, "error", err)
		return
	}
	r.count(report, "abandoned")
}

func (r *Reconciler) count(report *ReconcileReport, outcome string) {
	switch outcome {
	case "committed":
		report.Committed++
	case "released":
		report.Released++
	case "escalated":
		report.Escalated++
	case "abandoned":
		report.Abandoned++
	case "pending":
		report.Pending++
	}
	metrics.ReconcileOutcomes.WithLabelValues(outcome).Inc()
}

// finish commits a charged attempt through the flow that created it.
func (r *Reconciler) finish(ctx context.Context, attempt *models.ChargeAttempt) error {
	switch attempt.Kind {
	case models.AttemptOnboarding:
		_, err := r.onboarding.Resume(ctx, attempt)
		return err
	case models.AttemptTopUp:
		_, err := r.topUp.Resume(ctx, attempt)
		return err
	}
	return fmt.Errorf("attempt %s has unknown kind %q", attempt.ID, attempt.Kind)
}

// RetryPending re-runs the commit of an attempt an operator has looked at.
func (r *Reconciler) RetryPending(ctx context.Context, attemptID string) (*models.ChargeAttempt, error) {
	release, err := r.runner.lock(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	defer release()

	attempt, err := r.load(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.State != models.AttemptPendingReconciliation && attempt.State != models.AttemptCommitting {
		return attempt, fmt.Errorf("attempt %s is %s: %w", attempt.ID, attempt.State, ErrAttemptClosed)
	}
	if err := r.finish(ctx, attempt); err != nil {
		return attempt, err
	}
	metrics.ReconcileOutcomes.WithLabelValues("committed").Inc()
	return attempt, nil
}

// Refund returns the money of an attempt in pending_reconciliation after the
// gateway confirms the charge and the ledger shows no trace of it.
func (r *Reconciler) Refund(ctx context.Context, attemptID string) (*gateway.RefundResult, error) {
	release, err := r.runner.lock(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	defer release()

	attempt, err := r.load(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.State != models.AttemptPendingReconciliation {
		return nil, fmt.Errorf("attempt %s is %s: %w", attempt.ID, attempt.State, ErrNotRefundable)
	}

	status, err := r.runner.gateway.Status(ctx, attempt.IdempotencyKey())
	if err != nil {
		return nil, fmt.Errorf("confirm charge for attempt %s: %w", attempt.ID, err)
	}
	if status.Status != gateway.StatusSucceeded || status.ExternalRef != attempt.ExternalRef {
		return nil, fmt.Errorf("attempt %s: gateway reports %s for %q: %w",
			attempt.ID, status.Status, status.ExternalRef, ErrNotRefundable)
	}
	if err := r.ensureUnrecorded(ctx, attempt); err != nil {
		return nil, err
	}

	result, err := r.runner.gateway.Refund(ctx, attempt.ExternalRef, attempt.Amount, "refund:"+attempt.ID)
	if err != nil {
		r.runner.audit.LogRefund(ctx, attempt.ID, attempt.ExternalRef, attempt.Amount, "FAILED")
		return nil, fmt.Errorf("refund attempt %s: %w", attempt.ID, err)
	}

	attempt.FailureReason = "refunded by operator"
	if err := r.runner.transition(ctx, attempt, models.AttemptRefunded); err != nil {
		// The money is back with the card holder; only our record lags.
		slog.Error("refund issued but attempt not updated", "attempt_id", attempt.ID, "refund_ref", result.RefundRef, "error", err)
		return &result, err
	}
	r.runner.audit.LogRefund(ctx, attempt.ID, attempt.ExternalRef, attempt.Amount, "SUCCESS")
	metrics.ReconcileOutcomes.WithLabelValues("refunded").Inc()
	return &result, nil
}

// ensureUnrecorded fails if the charge already produced ledger rows.
func (r *Reconciler) ensureUnrecorded(ctx context.Context, attempt *models.ChargeAttempt) error {
	store := r.runner.store
	switch attempt.Kind {
	case models.AttemptTopUp:
		_, err := store.FindTransactionByExternalRef(ctx, attempt.FundID, attempt.ExternalRef)
		if err == nil {
			return fmt.Errorf("attempt %s: deposit already recorded: %w", attempt.ID, ErrNotRefundable)
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
	case models.AttemptOnboarding:
		_, err := store.GetGroup(ctx, attempt.GroupID)
		if err == nil {
			return fmt.Errorf("attempt %s: group already created: %w", attempt.ID, ErrNotRefundable)
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
	}
	return nil
}

func (r *Reconciler) load(ctx context.Context, attemptID string) (*models.ChargeAttempt, error) {
	attempt, err := r.runner.store.GetAttempt(ctx, attemptID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("attempt %s: %w", attemptID, ErrNotFound)
	}
	return attempt, err
}
