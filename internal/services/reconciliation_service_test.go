package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/familyfund/backend/internal/gateway"
	"github.com/familyfund/backend/internal/models"
	"github.com/familyfund/backend/internal/storage"
)

func TestReconciler_RunOnce(t *testing.T) {
	ctx := context.Background()

	t.Run("lost charge is released for a new card", func(t *testing.T) {
		sandbox := gateway.NewSandbox(nil)
		env := newTestEnv(t, sandbox)
		req := groupRequest(droppedCard)

		_, err := env.onboarding.CreateGroupWithPayment(ctx, req)
		require.ErrorIs(t, err, ErrGatewayIndeterminate)

		// Too recent: the request might still be in flight.
		report, err := env.reconciler.RunOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, report.Examined)

		env.age(t, req.AttemptID, 2*time.Minute)
		report, err = env.reconciler.RunOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Released)

		stored := env.attempt(t, req.AttemptID)
		assert.Equal(t, models.AttemptAwaitingPayment, stored.State)
		assert.Equal(t, 1, stored.ChargeSeq)

		req.PaymentToken.Token = goodCard
		result, err := env.onboarding.CreateGroupWithPayment(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, testFee, result.Fund.Balance)
	})

	t.Run("taken charge left in charging is committed", func(t *testing.T) {
		sandbox := gateway.NewSandbox(nil)
		env := newTestEnv(t, sandbox)
		req := groupRequest(goodCard)

		attempt := env.onboarding.newAttempt(req)
		attempt.State = models.AttemptCharging
		attempt.CreatedAt = time.Now().UTC().Add(-time.Hour)
		attempt.UpdatedAt = attempt.CreatedAt
		require.NoError(t, env.store.InsertAttempt(ctx, attempt))
		_, err := sandbox.Charge(ctx, gateway.ChargeRequest{
			Token: goodCard, Amount: testFee, Currency: testCurrency, IdempotencyKey: attempt.IdempotencyKey(),
		})
		require.NoError(t, err)

		report, err := env.reconciler.RunOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Committed)

		group, err := env.store.GetGroup(ctx, attempt.GroupID)
		require.NoError(t, err)
		assert.Equal(t, "Levi family", group.Name)
		assert.Equal(t, 1, sandbox.Calls(attempt.IdempotencyKey()))
	})

	t.Run("commit keeps failing and is escalated", func(t *testing.T) {
		env := newTestEnv(t, gateway.NewSandbox(nil))
		env.onboarding.commitHook = func(*storage.Tx) error { return errors.New("constraint trigger") }
		req := groupRequest(goodCard)

		_, err := env.onboarding.CreateGroupWithPayment(ctx, req)
		require.ErrorIs(t, err, ErrPartialOnboarding)

		var escalated int
		for i := 1; i < testMaxTries; i++ {
			env.age(t, req.AttemptID, 2*time.Minute)
			report, err := env.reconciler.RunOnce(ctx)
			require.NoError(t, err)
			escalated += report.Escalated
		}
		assert.Equal(t, 1, escalated)
		assert.Equal(t, models.AttemptPendingReconciliation, env.attempt(t, req.AttemptID).State)

		// Escalated attempts wait for an operator.
		env.age(t, req.AttemptID, 2*time.Minute)
		report, err := env.reconciler.RunOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, report.Examined)
	})

	t.Run("unpaid attempts are abandoned", func(t *testing.T) {
		env := newTestEnv(t, gateway.NewSandbox(nil))
		req := groupRequest(declinedCard)
		_, err := env.onboarding.CreateGroupWithPayment(ctx, req)
		require.ErrorIs(t, err, ErrGatewayDeclined)

		env.age(t, req.AttemptID, 2*time.Hour)
		report, err := env.reconciler.RunOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Abandoned)
		assert.Equal(t, models.AttemptFailed, env.attempt(t, req.AttemptID).State)

		req.PaymentToken.Token = goodCard
		_, err = env.onboarding.CreateGroupWithPayment(ctx, req)
		assert.ErrorIs(t, err, ErrAttemptClosed)
	})
}

func TestReconciler_Refund(t *testing.T) {
	ctx := context.Background()

	escalate := func(t *testing.T, env *testEnv) CreateGroupRequest {
		t.Helper()
		env.onboarding.commitHook = func(*storage.Tx) error { return errors.New("schema drift") }
		req := groupRequest(goodCard)
		for i := 0; i < testMaxTries; i++ {
			_, err := env.onboarding.CreateGroupWithPayment(ctx, req)
			require.ErrorIs(t, err, ErrPartialOnboarding)
		}
		require.Equal(t, models.AttemptPendingReconciliation, env.attempt(t, req.AttemptID).State)
		return req
	}

	t.Run("confirmed charge is refunded", func(t *testing.T) {
		sandbox := gateway.NewSandbox(nil)
		env := newTestEnv(t, sandbox)
		req := escalate(t, env)
		ref := env.attempt(t, req.AttemptID).ExternalRef

		result, err := env.reconciler.Refund(ctx, req.AttemptID)
		require.NoError(t, err)
		assert.Equal(t, "re_"+ref, result.RefundRef)
		assert.True(t, sandbox.Refunded(ref))
		assert.Equal(t, models.AttemptRefunded, env.attempt(t, req.AttemptID).State)

		_, err = env.onboarding.CreateGroupWithPayment(ctx, req)
		assert.ErrorIs(t, err, ErrAttemptClosed)
	})

	t.Run("only escalated attempts qualify", func(t *testing.T) {
		env := newTestEnv(t, gateway.NewSandbox(nil))
		result := env.onboard(t)

		_, err := env.reconciler.Refund(ctx, result.Attempt.ID)
		assert.ErrorIs(t, err, ErrNotRefundable)

		_, err = env.reconciler.Refund(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("gateway must confirm the charge", func(t *testing.T) {
		gw := &MockGateway{}
		env := newTestEnv(t, gw)
		gw.On("Charge", mock.Anything, mock.Anything).
			Return(gateway.ChargeResult{Status: gateway.StatusSucceeded, ExternalRef: "ch_1"}, nil).Once()
		req := escalate(t, env)

		gw.On("Status", mock.Anything, req.AttemptID+":0").
			Return(gateway.ChargeResult{Status: gateway.StatusNotFound}, nil).Once()

		_, err := env.reconciler.Refund(ctx, req.AttemptID)
		assert.ErrorIs(t, err, ErrNotRefundable)
		gw.AssertNotCalled(t, "Refund", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		assert.Equal(t, models.AttemptPendingReconciliation, env.attempt(t, req.AttemptID).State)
	})
}
