package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/familyfund/backend/internal/gateway"
	"github.com/familyfund/backend/internal/idempotency"
	"github.com/familyfund/backend/internal/models"
	"github.com/familyfund/backend/internal/storage"
)

func TestOnboardingService_CreateGroupWithPayment(t *testing.T) {
	ctx := context.Background()

	t.Run("recipient added later", func(t *testing.T) {
		sandbox := gateway.NewSandbox(nil)
		env := newTestEnv(t, sandbox)
		req := groupRequest(goodCard)
		req.AddRecipientLater = true

		result, err := env.onboarding.CreateGroupWithPayment(ctx, req)
		require.NoError(t, err)

		assert.Equal(t, "Levi family", result.Group.Name)
		assert.Equal(t, testFee, result.Fund.Balance)
		assert.Equal(t, models.AttemptCommitted, result.Attempt.State)
		assert.Equal(t, result.Group.ID, result.Attempt.GroupID)

		page, err := env.ledger.ListTransactions(ctx, result.Fund.ID, "", 10)
		require.NoError(t, err)
		require.Len(t, page.Transactions, 1)
		assert.Equal(t, models.TransactionDeposit, page.Transactions[0].Type)
		assert.Equal(t, testFee, page.Transactions[0].Amount)
		assert.Equal(t, result.Attempt.ExternalRef, page.Transactions[0].ExternalRef)

		assert.Equal(t, 0, env.countRows(t, "recipients"))
		member, err := env.store.GetMember(ctx, result.Group.ID, testOwnerID)
		require.NoError(t, err)
		assert.Equal(t, models.RoleOwner, member.Role)
		assert.NoError(t, env.ledger.VerifyFund(ctx, result.Fund.ID))
	})

	t.Run("recipient created with the group", func(t *testing.T) {
		env := newTestEnv(t, gateway.NewSandbox(nil))
		result := env.onboard(t)

		recipients, err := env.store.ListRecipients(ctx, result.Group.ID)
		require.NoError(t, err)
		require.Len(t, recipients, 1)
		assert.Equal(t, "Haifa", recipients[0].City)

		stored := env.attempt(t, result.Attempt.ID)
		assert.Equal(t, "10.0.0.7", stored.Metadata["ip_address"])
		assert.Equal(t, "**** **** **** 4242", stored.MaskedCard)
	})

	t.Run("invalid requests have no effect", func(t *testing.T) {
		gw := &MockGateway{}
		env := newTestEnv(t, gw)

		noRecipient := groupRequest(goodCard)
		noRecipient.Recipient = nil
		badRecipient := groupRequest(goodCard)
		badRecipient.Recipient.City = ""
		noName := groupRequest(goodCard)
		noName.Group.Name = "  "
		noAttempt := groupRequest(goodCard)
		noAttempt.AttemptID = ""

		for _, req := range []CreateGroupRequest{noRecipient, badRecipient, noName, noAttempt} {
			_, err := env.onboarding.CreateGroupWithPayment(ctx, req)
			assert.ErrorIs(t, err, ErrValidation)
		}
		assert.Equal(t, 0, env.countRows(t, "charge_attempts"))
		gw.AssertNotCalled(t, "Charge", mock.Anything, mock.Anything)
	})

	t.Run("replay returns the stored group without charging", func(t *testing.T) {
		sandbox := gateway.NewSandbox(nil)
		env := newTestEnv(t, sandbox)
		req := groupRequest(goodCard)

		first, err := env.onboarding.CreateGroupWithPayment(ctx, req)
		require.NoError(t, err)
		second, err := env.onboarding.CreateGroupWithPayment(ctx, req)
		assert.ErrorIs(t, err, ErrDuplicateAttempt)
		require.NotNil(t, second)

		assert.Equal(t, first.Group.ID, second.Group.ID)
		assert.Equal(t, first.Fund.ID, second.Fund.ID)
		assert.Equal(t, 1, sandbox.Calls(req.AttemptID+":0"))
		assert.Equal(t, 1, env.countRows(t, "family_groups"))
		assert.Equal(t, 1, env.countRows(t, "fund_transactions"))
	})

	t.Run("decline keeps the attempt open for another card", func(t *testing.T) {
		sandbox := gateway.NewSandbox(nil)
		env := newTestEnv(t, sandbox)
		req := groupRequest(declinedCard)

		_, err := env.onboarding.CreateGroupWithPayment(ctx, req)
		assert.ErrorIs(t, err, ErrGatewayDeclined)

		stored := env.attempt(t, req.AttemptID)
		assert.Equal(t, models.AttemptAwaitingPayment, stored.State)
		assert.Equal(t, 1, stored.ChargeSeq)
		assert.Equal(t, 0, env.countRows(t, "family_groups"))
		assert.Equal(t, 0, env.countRows(t, "funds"))

		req.PaymentToken.Token = otherGoodCard
		result, err := env.onboarding.CreateGroupWithPayment(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, testFee, result.Fund.Balance)
		assert.Equal(t, 1, sandbox.Calls(req.AttemptID+":1"))
	})

	t.Run("retry after decline uses the corrected details", func(t *testing.T) {
		env := newTestEnv(t, gateway.NewSandbox(nil))
		req := groupRequest(declinedCard)

		_, err := env.onboarding.CreateGroupWithPayment(ctx, req)
		assert.ErrorIs(t, err, ErrGatewayDeclined)

		req.PaymentToken.Token = otherGoodCard
		req.Group.Name = "Levi-Cohen family"
		req.Recipient = &models.RecipientData{Name: "Savta Rina", Address: "4 Allenby St", City: "Tel Aviv"}
		result, err := env.onboarding.CreateGroupWithPayment(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, "Levi-Cohen family", result.Group.Name)

		recipients, err := env.store.ListRecipients(ctx, result.Group.ID)
		require.NoError(t, err)
		require.Len(t, recipients, 1)
		assert.Equal(t, "Tel Aviv", recipients[0].City)

		stored := env.attempt(t, req.AttemptID)
		require.NotNil(t, stored.Payload)
		assert.Equal(t, "Levi-Cohen family", stored.Payload.Group.Name)
	})

	t.Run("lost response is confirmed through status", func(t *testing.T) {
		sandbox := gateway.NewSandbox(nil)
		env := newTestEnv(t, sandbox)
		req := groupRequest(timeoutCard)

		result, err := env.onboarding.CreateGroupWithPayment(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, models.AttemptCommitted, result.Attempt.State)
		assert.Equal(t, 1, sandbox.Calls(req.AttemptID+":0"))
	})

	t.Run("unknown outcome stays pending", func(t *testing.T) {
		sandbox := gateway.NewSandbox(nil)
		env := newTestEnv(t, sandbox)
		req := groupRequest(droppedCard)

		_, err := env.onboarding.CreateGroupWithPayment(ctx, req)
		assert.ErrorIs(t, err, ErrGatewayIndeterminate)
		assert.Equal(t, models.AttemptCharging, env.attempt(t, req.AttemptID).State)
		assert.Equal(t, 0, env.countRows(t, "family_groups"))

		// A retry before the reconciler runs still cannot tell.
		_, err = env.onboarding.CreateGroupWithPayment(ctx, req)
		assert.ErrorIs(t, err, ErrGatewayIndeterminate)
	})

	t.Run("attempt id owned by another user", func(t *testing.T) {
		env := newTestEnv(t, gateway.NewSandbox(nil))
		req := groupRequest(goodCard)
		_, err := env.onboarding.CreateGroupWithPayment(ctx, req)
		require.NoError(t, err)

		req.UserID = testOtherMemberID
		_, err = env.onboarding.CreateGroupWithPayment(ctx, req)
		assert.ErrorIs(t, err, ErrAttemptConflict)
	})

	t.Run("attempt in flight elsewhere", func(t *testing.T) {
		gw := &MockGateway{}
		locker := &MockLocker{}
		store := newTestStore(t)
		auditLogger := newTestAudit()
		svc := NewOnboardingService(store, NewLedgerService(store, auditLogger), gw, locker, auditLogger,
			OnboardingConfig{Fee: testFee, Currency: testCurrency, MaxCommitTries: testMaxTries})

		req := groupRequest(goodCard)
		locker.On("Acquire", mock.Anything, req.AttemptID).Return(nil, idempotency.ErrInFlight)

		_, err := svc.CreateGroupWithPayment(ctx, req)
		assert.ErrorIs(t, err, ErrAttemptInFlight)
		gw.AssertNotCalled(t, "Charge", mock.Anything, mock.Anything)
		locker.AssertExpectations(t)
	})

	t.Run("charge is idempotent per key", func(t *testing.T) {
		gw := &MockGateway{}
		env := newTestEnv(t, gw)
		req := groupRequest(goodCard)

		gw.On("Charge", mock.Anything, mock.MatchedBy(func(r gateway.ChargeRequest) bool {
			return r.IdempotencyKey == req.AttemptID+":0" && r.Amount == testFee && r.Currency == testCurrency
		})).Return(gateway.ChargeResult{Status: gateway.StatusSucceeded, ExternalRef: "ch_mock"}, nil).Once()

		result, err := env.onboarding.CreateGroupWithPayment(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, "ch_mock", result.Attempt.ExternalRef)
		gw.AssertExpectations(t)
	})
}

func TestOnboardingService_CommitIsAtomic(t *testing.T) {
	ctx := context.Background()
	diskFull := errors.New("disk full")

	t.Run("failed commit leaves no group rows and is finished without recharging", func(t *testing.T) {
		sandbox := gateway.NewSandbox(nil)
		env := newTestEnv(t, sandbox)
		env.onboarding.commitHook = func(*storage.Tx) error { return diskFull }
		req := groupRequest(goodCard)

		_, err := env.onboarding.CreateGroupWithPayment(ctx, req)
		assert.ErrorIs(t, err, ErrPartialOnboarding)

		for _, table := range []string{"family_groups", "funds", "group_members", "fund_transactions", "recipients"} {
			assert.Equal(t, 0, env.countRows(t, table), table)
		}
		stored := env.attempt(t, req.AttemptID)
		assert.Equal(t, models.AttemptCommitting, stored.State)
		assert.Equal(t, 1, stored.CommitTries)
		assert.NotEmpty(t, stored.ExternalRef)

		env.onboarding.commitHook = nil
		result, err := env.onboarding.CreateGroupWithPayment(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, stored.ExternalRef, result.Attempt.ExternalRef)
		assert.Equal(t, 1, sandbox.Calls(req.AttemptID+":0"))
		assert.Equal(t, 1, env.countRows(t, "family_groups"))
		assert.Equal(t, 1, env.countRows(t, "recipients"))
	})

	t.Run("repeated failures escalate for an operator", func(t *testing.T) {
		env := newTestEnv(t, gateway.NewSandbox(nil))
		env.onboarding.commitHook = func(*storage.Tx) error { return diskFull }
		req := groupRequest(goodCard)

		for i := 0; i < testMaxTries; i++ {
			_, err := env.onboarding.CreateGroupWithPayment(ctx, req)
			assert.ErrorIs(t, err, ErrPartialOnboarding)
		}
		stored := env.attempt(t, req.AttemptID)
		assert.Equal(t, models.AttemptPendingReconciliation, stored.State)
		assert.Equal(t, testMaxTries, stored.CommitTries)

		env.onboarding.commitHook = nil
		attempt, err := env.reconciler.RetryPending(ctx, req.AttemptID)
		require.NoError(t, err)
		assert.Equal(t, models.AttemptCommitted, attempt.State)
		assert.Equal(t, 1, env.countRows(t, "family_groups"))
	})
}

func TestOnboardingService_ResumesAfterCrash(t *testing.T) {
	ctx := context.Background()
	sandbox := gateway.NewSandbox(nil)
	env := newTestEnv(t, sandbox)
	req := groupRequest(goodCard)

	// The process stopped after the charge went out but before its result
	// was written.
	attempt := env.onboarding.newAttempt(req)
	attempt.State = models.AttemptCharging
	attempt.CreatedAt = env.onboarding.runner.now()
	attempt.UpdatedAt = attempt.CreatedAt
	require.NoError(t, env.store.InsertAttempt(ctx, attempt))
	_, err := sandbox.Charge(ctx, gateway.ChargeRequest{
		Token: goodCard, Amount: testFee, Currency: testCurrency, IdempotencyKey: attempt.IdempotencyKey(),
	})
	require.NoError(t, err)

	result, err := env.onboarding.CreateGroupWithPayment(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, attempt.GroupID, result.Group.ID)
	assert.Equal(t, 1, sandbox.Calls(attempt.IdempotencyKey()))
	assert.Equal(t, testFee, result.Fund.Balance)
}
