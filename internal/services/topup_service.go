package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/familyfund/backend/internal/audit"
	"github.com/familyfund/backend/internal/gateway"
	"github.com/familyfund/backend/internal/idempotency"
	"github.com/familyfund/backend/internal/metrics"
	"github.com/familyfund/backend/internal/models"
	"github.com/familyfund/backend/internal/storage"
)

type TopUpRequest struct {
	AttemptID string `json:"attemptId" validate:"required,max=64"`
	UserID    string `json:"-" validate:"required"`
	GroupID   string `json:"groupId" validate:"required"`
	Amount    int64  `json:"amount" validate:"required,gt=0,lte=10000000"` // minor units
	Token     string `json:"token"`
	IPAddress string `json:"-"`
}

type TopUpResult struct {
	Transaction    *models.Transaction   `json:"transaction"`
	AmountFromCard int64                 `json:"amountFromCard"`
	NewBalance     int64                 `json:"newBalance"`
	Attempt        *models.ChargeAttempt `json:"attempt"`
}

// TopUpService charges a member's card and deposits the amount into the
// group's fund.
type TopUpService struct {
	runner     *attemptRunner
	ledger     *LedgerService
	validation *ValidationHelper
	maxTries   int
}

func NewTopUpService(store *storage.Store, ledger *LedgerService, gw gateway.Gateway, locker idempotency.Locker, auditLogger *audit.Logger, maxCommitTries int) *TopUpService {
	if maxCommitTries < 1 {
		maxCommitTries = 1
	}
	return &TopUpService{
		runner:     newAttemptRunner(store, gw, locker, auditLogger),
		ledger:     ledger,
		validation: NewValidationHelper(),
		maxTries:   maxCommitTries,
	}
}

// AddFunds charges req.Amount and appends a deposit. Declines leave the
// ledger untouched. ErrGatewayIndeterminate and ErrTopUpPending mean the
// outcome is still being settled.
func (s *TopUpService) AddFunds(ctx context.Context, req TopUpRequest) (*TopUpResult, error) {
	if err := s.validation.validate(&req); err != nil {
		return nil, err
	}

	store := s.runner.store
	fund, err := store.GetFundByGroup(ctx, req.GroupID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("group %s: %w", req.GroupID, ErrNotFound)
		}
		return nil, err
	}
	if _, err := store.GetMember(ctx, req.GroupID, req.UserID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("group %s: %w", req.GroupID, ErrForbidden)
		}
		return nil, err
	}

	release, err := s.runner.lock(ctx, req.AttemptID)
	if err != nil {
		return nil, err
	}
	defer release()

	fresh := &models.ChargeAttempt{
		ID:           req.AttemptID,
		Kind:         models.AttemptTopUp,
		ActingUserID: req.UserID,
		GroupID:      fund.GroupID,
		FundID:       fund.ID,
		Amount:       req.Amount,
		Currency:     fund.Currency,
	}
	if req.IPAddress != "" {
		fresh.Metadata = models.Metadata{"ip_address": req.IPAddress}
	}
	attempt, err := s.runner.loadOrCreate(ctx, fresh, func(a *models.ChargeAttempt) bool {
		return a.Kind == models.AttemptTopUp && a.ActingUserID == req.UserID &&
			a.FundID == fund.ID && a.Amount == req.Amount
	})
	if err != nil {
		return nil, err
	}

	switch attempt.State {
	case models.AttemptCommitted:
		result, err := s.loadResult(ctx, attempt)
		if err != nil {
			return nil, err
		}
		return result, ErrDuplicateAttempt

	case models.AttemptCommitting, models.AttemptPendingReconciliation:
		return s.finish(ctx, attempt)

	case models.AttemptCharging:
		if err := s.runner.resolveCharging(ctx, attempt, false); err != nil {
			return nil, err
		}
		return s.finish(ctx, attempt)

	case models.AttemptAwaitingPayment:
		if req.Token == "" {
			return nil, fmt.Errorf("%w: token is required", ErrValidation)
		}
		// Do not take money a frozen fund cannot accept.
		if fund.Frozen() {
			return nil, fmt.Errorf("fund %s: %w", fund.ID, ErrFundFrozen)
		}
		description := "Top-up " + models.FormatAmount(attempt.Amount, attempt.Currency)
		if err := s.runner.charge(ctx, attempt, models.CardToken{Token: req.Token}, description); err != nil {
			return nil, err
		}
		return s.finish(ctx, attempt)

	default:
		return nil, fmt.Errorf("attempt %s is %s: %w", attempt.ID, attempt.State, ErrAttemptClosed)
	}
}

// Resume finishes a charged top-up without a client request.
func (s *TopUpService) Resume(ctx context.Context, attempt *models.ChargeAttempt) (*TopUpResult, error) {
	return s.finish(ctx, attempt)
}

func (s *TopUpService) finish(ctx context.Context, attempt *models.ChargeAttempt) (*TopUpResult, error) {
	if attempt.State != models.AttemptCommitting && attempt.State != models.AttemptPendingReconciliation {
		return nil, fmt.Errorf("attempt %s is %s: %w", attempt.ID, attempt.State, ErrGatewayIndeterminate)
	}

	result, err := s.commit(ctx, attempt)
	if err == nil {
		return result, nil
	}

	if stored, gerr := s.runner.store.GetAttempt(ctx, attempt.ID); gerr == nil && stored.State == models.AttemptCommitted {
		*attempt = *stored
		return s.loadResult(ctx, attempt)
	}

	slog.Error("top-up commit failed after charge",
		"attempt_id", attempt.ID, "fund_id", attempt.FundID, "external_ref", attempt.ExternalRef, "error", err)
	state := s.runner.recordCommitFailure(ctx, attempt, err, s.maxTries)
	return nil, fmt.Errorf("attempt %s (%s): %w: %v", attempt.ID, state, ErrTopUpPending, err)
}

// commit appends the deposit and marks the attempt committed in one
// transaction. A deposit already recorded under the charge reference counts
// as done.
func (s *TopUpService) commit(ctx context.Context, attempt *models.ChargeAttempt) (*TopUpResult, error) {
	if attempt.ExternalRef == "" {
		return nil, fmt.Errorf("attempt %s has no charge reference", attempt.ID)
	}

	prevState := attempt.State
	var (
		txn       *models.Transaction
		duplicate bool
	)
	err := s.runner.store.WithTx(ctx, func(tx *storage.Tx) error {
		var err error
		txn, err = s.ledger.appendTx(ctx, tx, AppendInput{
			FundID:       attempt.FundID,
			ActingUserID: attempt.ActingUserID,
			Type:         models.TransactionDeposit,
			Amount:       attempt.Amount,
			Description:  "Card top-up " + models.FormatAmount(attempt.Amount, attempt.Currency),
			ExternalRef:  attempt.ExternalRef,
		})
		if errors.Is(err, ErrDuplicateExternalRef) {
			duplicate = true
		} else if err != nil {
			return err
		}

		if err := attempt.Transition(models.AttemptCommitted); err != nil {
			return err
		}
		return tx.UpdateAttempt(ctx, attempt, prevState)
	})
	if err != nil {
		attempt.State = prevState
		metrics.LedgerAppends.WithLabelValues(string(models.TransactionDeposit), resultLabel(err)).Inc()
		return nil, err
	}

	s.runner.observe(attempt)
	if duplicate {
		metrics.LedgerAppends.WithLabelValues(string(models.TransactionDeposit), "duplicate").Inc()
	} else {
		metrics.LedgerAppends.WithLabelValues(string(models.TransactionDeposit), "ok").Inc()
		s.runner.audit.LogDeposit(ctx, txn.FundID, txn.ID, txn.ExternalRef, txn.Amount, "SUCCESS")
	}
	slog.Info("top-up committed", "attempt_id", attempt.ID, "fund_id", attempt.FundID, "transaction_id", txn.ID)

	return &TopUpResult{
		Transaction:    txn,
		AmountFromCard: attempt.Amount,
		NewBalance:     txn.BalanceAfter,
		Attempt:        attempt,
	}, nil
}

// loadResult rebuilds the answer of a committed top-up. NewBalance is the
// balance right after its deposit, not the fund's current balance.
func (s *TopUpService) loadResult(ctx context.Context, attempt *models.ChargeAttempt) (*TopUpResult, error) {
	txn, err := s.runner.store.FindTransactionByExternalRef(ctx, attempt.FundID, attempt.ExternalRef)
	if err != nil {
		return nil, err
	}
	return &TopUpResult{
		Transaction:    txn,
		AmountFromCard: attempt.Amount,
		NewBalance:     txn.BalanceAfter,
		Attempt:        attempt,
	}, nil
}
