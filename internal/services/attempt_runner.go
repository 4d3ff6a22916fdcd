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

// attemptRunner drives the charge half of a ChargeAttempt. It is shared by
// onboarding, top-up and the reconciler so the three agree on every state
// change around the gateway call.
type attemptRunner struct {
	store   *storage.Store
	gateway gateway.Gateway
	locker  idempotency.Locker
	audit   *audit.Logger
	now     func() time.Time
}

func newAttemptRunner(store *storage.Store, gw gateway.Gateway, locker idempotency.Locker, auditLogger *audit.Logger) *attemptRunner {
	return &attemptRunner{
		store:   store,
		gateway: gw,
		locker:  locker,
		audit:   auditLogger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// lock takes the in-flight lock for an attempt id.
func (r *attemptRunner) lock(ctx context.Context, attemptID string) (func(), error) {
	release, err := r.locker.Acquire(ctx, attemptID)
	if errors.Is(err, idempotency.ErrInFlight) {
		return nil, fmt.Errorf("attempt %s: %w", attemptID, ErrAttemptInFlight)
	}
	return release, err
}

// loadOrCreate returns the stored attempt with fresh's id, inserting fresh if
// there is none. same decides whether a stored attempt belongs to this request.
func (r *attemptRunner) loadOrCreate(ctx context.Context, fresh *models.ChargeAttempt, same func(*models.ChargeAttempt) bool) (*models.ChargeAttempt, error) {
	existing, err := r.store.GetAttempt(ctx, fresh.ID)
	switch {
	case err == nil:
		if !same(existing) {
			return nil, fmt.Errorf("attempt %s: %w", fresh.ID, ErrAttemptConflict)
		}
		return existing, nil
	case !errors.Is(err, storage.ErrNotFound):
		return nil, err
	}

	now := r.now()
	fresh.State = models.AttemptAwaitingPayment
	fresh.CreatedAt = now
	fresh.UpdatedAt = now
	if err := r.store.InsertAttempt(ctx, fresh); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			// Lost a race with another instance; use its record.
			return r.loadOrCreate(ctx, fresh, same)
		}
		return nil, err
	}
	r.observe(fresh)
	return fresh, nil
}

// observe counts an attempt reaching its current state.
func (r *attemptRunner) observe(a *models.ChargeAttempt) {
	metrics.AttemptTransitions.WithLabelValues(string(a.Kind), string(a.State)).Inc()
}

// transition moves a to next and persists it, guarded by the previous state.
func (r *attemptRunner) transition(ctx context.Context, a *models.ChargeAttempt, next models.AttemptState) error {
	prev := a.State
	if err := a.Transition(next); err != nil {
		return err
	}
	if err := r.store.UpdateAttempt(ctx, a, prev); err != nil {
		a.State = prev
		return err
	}
	r.observe(a)
	slog.Info("attempt transition", "attempt_id", a.ID, "kind", a.Kind, "from", prev, "to", next, "charge_seq", a.ChargeSeq)
	return nil
}

// charge persists the charging state and calls the gateway. On return the
// attempt is in committing (nil error), awaiting_payment (ErrGatewayDeclined)
// or still charging (ErrGatewayIndeterminate).
func (r *attemptRunner) charge(ctx context.Context, a *models.ChargeAttempt, card models.CardToken, description string) error {
	if card.MaskedNumber != "" {
		a.MaskedCard = card.MaskedNumber
	}
	a.FailureReason = ""
	if err := r.transition(ctx, a, models.AttemptCharging); err != nil {
		return err
	}

	key := a.IdempotencyKey()
	result, err := r.gateway.Charge(ctx, gateway.ChargeRequest{
		Token:          card.Token,
		Amount:         a.Amount,
		Currency:       a.Currency,
		IdempotencyKey: key,
		Description:    description,
	})
	if err != nil {
		// Rejected before sending; nothing was charged.
		a.FailureReason = err.Error()
		if terr := r.transition(ctx, a, models.AttemptAwaitingPayment); terr != nil {
			slog.Error("failed to release attempt after local gateway error", "attempt_id", a.ID, "error", terr)
		}
		return fmt.Errorf("charge attempt %s: %w", a.ID, err)
	}

	metrics.GatewayCharges.WithLabelValues(string(a.Kind), string(result.Status)).Inc()
	r.audit.LogCharge(ctx, a.ID, key, result.ExternalRef, a.Amount, string(result.Status))

	if result.Status == gateway.StatusIndeterminate {
		slog.Warn("charge outcome unknown, querying gateway", "attempt_id", a.ID, "idempotency_key", key, "message", result.Message)
		result = r.queryStatus(ctx, key)
	}
	return r.apply(ctx, a, result)
}

// resolveCharging settles an attempt left in charging by asking the gateway
// what happened to its current key. final allows a key the gateway has never
// seen to be released for a new charge.
func (r *attemptRunner) resolveCharging(ctx context.Context, a *models.ChargeAttempt, final bool) error {
	result := r.queryStatus(ctx, a.IdempotencyKey())
	if result.Status == gateway.StatusNotFound {
		if !final {
			return fmt.Errorf("attempt %s: %w", a.ID, ErrGatewayIndeterminate)
		}
		result = gateway.ChargeResult{Status: gateway.StatusDeclined, Message: "charge never reached the processor"}
	}
	return r.apply(ctx, a, result)
}

func (r *attemptRunner) queryStatus(ctx context.Context, key string) gateway.ChargeResult {
	result, err := r.gateway.Status(ctx, key)
	if err != nil {
		slog.Warn("gateway status query failed", "idempotency_key", key, "error", err)
		return gateway.ChargeResult{Status: gateway.StatusIndeterminate}
	}
	return result
}

// apply records a gateway outcome on a charging attempt.
func (r *attemptRunner) apply(ctx context.Context, a *models.ChargeAttempt, result gateway.ChargeResult) error {
	switch result.Status {
	case gateway.StatusSucceeded:
		a.ExternalRef = result.ExternalRef
		if err := r.transition(ctx, a, models.AttemptCommitting); err != nil {
			// The charge is taken; the attempt stays in charging and the
			// reconciler will find the success through Status.
			slog.Error("failed to record succeeded charge", "attempt_id", a.ID, "external_ref", result.ExternalRef, "error", err)
			return fmt.Errorf("attempt %s: %w", a.ID, ErrGatewayIndeterminate)
		}
		return nil

	case gateway.StatusDeclined:
		// A new card must not reuse the declined key.
		a.ChargeSeq++
		a.FailureReason = result.Message
		if err := r.transition(ctx, a, models.AttemptAwaitingPayment); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", ErrGatewayDeclined, result.Message)

	default:
		return fmt.Errorf("attempt %s: %w", a.ID, ErrGatewayIndeterminate)
	}
}

// recordCommitFailure counts a failed commit and escalates once maxTries is
// reached. It returns the state the attempt was left in.
func (r *attemptRunner) recordCommitFailure(ctx context.Context, a *models.ChargeAttempt, cause error, maxTries int) models.AttemptState {
	prev := a.State
	a.CommitTries++
	a.FailureReason = cause.Error()
	r.audit.LogError(ctx, a.ID, a.FundID, cause)

	if a.CommitTries >= maxTries && prev == models.AttemptCommitting {
		if err := r.transition(ctx, a, models.AttemptPendingReconciliation); err != nil {
			slog.Error("failed to escalate attempt", "attempt_id", a.ID, "error", err)
		} else {
			slog.Error("attempt needs operator attention", "attempt_id", a.ID, "external_ref", a.ExternalRef, "tries", a.CommitTries)
		}
		return a.State
	}
	if err := r.store.UpdateAttempt(ctx, a, prev); err != nil {
		slog.Error("failed to record commit failure", "attempt_id", a.ID, "error", err)
	}
	return a.State
}
