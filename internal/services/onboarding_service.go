package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/familyfund/backend/internal/audit"
	"github.com/familyfund/backend/internal/gateway"
	"github.com/familyfund/backend/internal/idempotency"
	"github.com/familyfund/backend/internal/models"
	"github.com/familyfund/backend/internal/storage"
)

// OnboardingConfig prices the first deposit of a new fund.
type OnboardingConfig struct {
	Fee            int64 // minor units
	Currency       string
	MaxCommitTries int
}

// CreateGroupRequest is the final step of the onboarding wizard.
type CreateGroupRequest struct {
	AttemptID         string                `json:"attemptId" validate:"required,max=64"`
	UserID            string                `json:"-" validate:"required"`
	Group             models.GroupData      `json:"groupData"`
	PaymentToken      models.CardToken      `json:"paymentToken"`
	Recipient         *models.RecipientData `json:"recipientData,omitempty"`
	AddRecipientLater bool                  `json:"addRecipientLater"`
	IPAddress         string                `json:"-"`
}

// OnboardingResult is what a committed onboarding produced.
type OnboardingResult struct {
	Group   *models.Group         `json:"group"`
	Fund    *models.Fund          `json:"fund"`
	Attempt *models.ChargeAttempt `json:"attempt"`
}

// OnboardingService creates a group, its fund and the first deposit once the
// onboarding fee is charged. The charge always happens before any group row
// exists; a charge that cannot be recorded is finished later without charging
// again.
type OnboardingService struct {
	runner     *attemptRunner
	ledger     *LedgerService
	validation *ValidationHelper
	cfg        OnboardingConfig

	// commitHook runs at the end of the commit transaction. Tests use it to
	// fail the commit after every write has been issued.
	commitHook func(tx *storage.Tx) error
}

func NewOnboardingService(store *storage.Store, ledger *LedgerService, gw gateway.Gateway, locker idempotency.Locker, auditLogger *audit.Logger, cfg OnboardingConfig) *OnboardingService {
	if cfg.MaxCommitTries < 1 {
		cfg.MaxCommitTries = 1
	}
	cfg.Currency = strings.ToUpper(cfg.Currency)
	return &OnboardingService{
		runner:     newAttemptRunner(store, gw, locker, auditLogger),
		ledger:     ledger,
		validation: NewValidationHelper(),
		cfg:        cfg,
	}
}

// CreateGroupWithPayment charges the onboarding fee and creates the group.
//
// Replaying a committed attempt returns its result with ErrDuplicateAttempt.
// ErrGatewayDeclined leaves the attempt open for another card.
// ErrGatewayIndeterminate and ErrPartialOnboarding mean the outcome is pending
// and GET /attempts/{id} is authoritative.
func (s *OnboardingService) CreateGroupWithPayment(ctx context.Context, req CreateGroupRequest) (*OnboardingResult, error) {
	if err := s.validateRequest(&req); err != nil {
		return nil, err
	}

	release, err := s.runner.lock(ctx, req.AttemptID)
	if err != nil {
		return nil, err
	}
	defer release()

	fresh := s.newAttempt(req)
	attempt, err := s.runner.loadOrCreate(ctx, fresh, func(a *models.ChargeAttempt) bool {
		return a.Kind == models.AttemptOnboarding && a.ActingUserID == req.UserID
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
		slog.Info("resuming charged onboarding", "attempt_id", attempt.ID, "state", attempt.State)
		return s.finish(ctx, attempt)

	case models.AttemptCharging:
		if err := s.runner.resolveCharging(ctx, attempt, false); err != nil {
			return nil, err
		}
		return s.finish(ctx, attempt)

	case models.AttemptAwaitingPayment:
		if req.PaymentToken.Token == "" {
			return nil, fmt.Errorf("%w: paymentToken is required", ErrValidation)
		}
		// Nothing is charged yet, so this request's group data wins. The
		// charging transition persists it.
		attempt.Payload = fresh.Payload
		description := "Family fund onboarding fee " + models.FormatAmount(attempt.Amount, attempt.Currency)
		if err := s.runner.charge(ctx, attempt, req.PaymentToken, description); err != nil {
			return nil, err
		}
		return s.finish(ctx, attempt)

	default:
		return nil, fmt.Errorf("attempt %s is %s: %w", attempt.ID, attempt.State, ErrAttemptClosed)
	}
}

// Resume finishes a charged attempt without a client request. It is the
// reconciler's entry point.
func (s *OnboardingService) Resume(ctx context.Context, attempt *models.ChargeAttempt) (*OnboardingResult, error) {
	return s.finish(ctx, attempt)
}

func (s *OnboardingService) validateRequest(req *CreateGroupRequest) error {
	req.Group.Name = strings.TrimSpace(req.Group.Name)
	if err := s.validation.validate(req); err != nil {
		return err
	}
	if req.AddRecipientLater {
		req.Recipient = nil
		return nil
	}
	if req.Recipient == nil {
		return fmt.Errorf("%w: recipientData is required unless addRecipientLater is set", ErrValidation)
	}
	return s.validation.validate(req.Recipient)
}

func (s *OnboardingService) newAttempt(req CreateGroupRequest) *models.ChargeAttempt {
	group := req.Group
	a := &models.ChargeAttempt{
		ID:           req.AttemptID,
		Kind:         models.AttemptOnboarding,
		ActingUserID: req.UserID,
		GroupID:      uuid.NewString(),
		Amount:       s.cfg.Fee,
		Currency:     s.cfg.Currency,
		Payload: &models.AttemptPayload{
			Group:             &group,
			Recipient:         req.Recipient,
			AddRecipientLater: req.AddRecipientLater,
		},
	}
	if req.IPAddress != "" {
		a.Metadata = models.Metadata{"ip_address": req.IPAddress}
	}
	return a
}

// finish commits an attempt whose charge succeeded. Any other state is left
// for the caller to report.
func (s *OnboardingService) finish(ctx context.Context, attempt *models.ChargeAttempt) (*OnboardingResult, error) {
	if attempt.State != models.AttemptCommitting && attempt.State != models.AttemptPendingReconciliation {
		return nil, fmt.Errorf("attempt %s is %s: %w", attempt.ID, attempt.State, ErrGatewayIndeterminate)
	}

	result, err := s.commit(ctx, attempt)
	if err == nil {
		return result, nil
	}

	// The commit may have landed even though we saw an error.
	if stored, gerr := s.runner.store.GetAttempt(ctx, attempt.ID); gerr == nil && stored.State == models.AttemptCommitted {
		*attempt = *stored
		return s.loadResult(ctx, attempt)
	}

	slog.Error("onboarding commit failed after charge",
		"attempt_id", attempt.ID, "group_id", attempt.GroupID, "external_ref", attempt.ExternalRef, "error", err)
	state := s.runner.recordCommitFailure(ctx, attempt, err, s.cfg.MaxCommitTries)
	return nil, fmt.Errorf("attempt %s (%s): %w: %v", attempt.ID, state, ErrPartialOnboarding, err)
}

// commit writes the group, fund, owner membership, first deposit and optional
// recipient, and marks the attempt committed, all in one transaction.
func (s *OnboardingService) commit(ctx context.Context, attempt *models.ChargeAttempt) (*OnboardingResult, error) {
	payload := attempt.Payload
	if payload == nil || payload.Group == nil {
		return nil, fmt.Errorf("attempt %s has no group payload", attempt.ID)
	}
	if attempt.ExternalRef == "" {
		return nil, fmt.Errorf("attempt %s has no charge reference", attempt.ID)
	}

	prevState, prevFund := attempt.State, attempt.FundID
	var (
		group *models.Group
		fund  *models.Fund
	)
	err := s.runner.store.WithTx(ctx, func(tx *storage.Tx) error {
		now := s.runner.now()
		group = &models.Group{
			ID:        attempt.GroupID,
			Name:      payload.Group.Name,
			ImageRef:  payload.Group.ImageRef,
			CreatedAt: now,
		}
		if err := tx.InsertGroup(ctx, group); err != nil {
			return err
		}

		var err error
		fund, err = s.ledger.createFundTx(ctx, tx, group.ID, attempt.Currency)
		if err != nil {
			return err
		}

		if err := tx.InsertMember(ctx, &models.GroupMember{
			GroupID:   group.ID,
			UserID:    attempt.ActingUserID,
			Role:      models.RoleOwner,
			CreatedAt: now,
		}); err != nil {
			return err
		}

		if _, err := s.ledger.appendTx(ctx, tx, AppendInput{
			FundID:       fund.ID,
			ActingUserID: attempt.ActingUserID,
			Type:         models.TransactionDeposit,
			Amount:       attempt.Amount,
			Description:  "Onboarding deposit " + models.FormatAmount(attempt.Amount, attempt.Currency),
			ExternalRef:  attempt.ExternalRef,
		}); err != nil {
			return err
		}

		if payload.Recipient != nil && !payload.AddRecipientLater {
			r := payload.Recipient
			if err := tx.InsertRecipient(ctx, &models.Recipient{
				ID:         uuid.NewString(),
				GroupID:    group.ID,
				Name:       r.Name,
				Address:    r.Address,
				City:       r.City,
				PostalCode: r.PostalCode,
				Phone:      r.Phone,
				CreatedAt:  now,
			}); err != nil {
				return err
			}
		}

		attempt.FundID = fund.ID
		if err := attempt.Transition(models.AttemptCommitted); err != nil {
			return err
		}
		if err := tx.UpdateAttempt(ctx, attempt, prevState); err != nil {
			return err
		}

		if s.commitHook != nil {
			return s.commitHook(tx)
		}
		return nil
	})
	if err != nil {
		attempt.State, attempt.FundID = prevState, prevFund
		return nil, err
	}

	s.runner.observe(attempt)
	s.runner.audit.LogOperation(ctx, audit.EventOnboarded, attempt.ID, fund.ID, group.ID)
	slog.Info("group onboarded", "attempt_id", attempt.ID, "group_id", group.ID, "fund_id", fund.ID)

	fund.Balance = attempt.Amount
	fund.Version = 1
	return &OnboardingResult{Group: group, Fund: fund, Attempt: attempt}, nil
}

func (s *OnboardingService) loadResult(ctx context.Context, attempt *models.ChargeAttempt) (*OnboardingResult, error) {
	group, err := s.runner.store.GetGroup(ctx, attempt.GroupID)
	if err != nil {
		return nil, err
	}
	fund, err := s.runner.store.GetFundByGroup(ctx, group.ID)
	if err != nil {
		return nil, err
	}
	return &OnboardingResult{Group: group, Fund: fund, Attempt: attempt}, nil
}
