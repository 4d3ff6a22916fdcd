package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/familyfund/backend/internal/models"
	"github.com/familyfund/backend/internal/storage"
)

// GroupFund is a member's view of their group.
type GroupFund struct {
	Group      *models.Group      `json:"group"`
	Fund       *models.Fund       `json:"fund"`
	Recipients []models.Recipient `json:"recipients"`
	Role       string             `json:"role"`
}

// GroupService serves reads that are only visible to group members.
type GroupService struct {
	store      *storage.Store
	ledger     *LedgerService
	validation *ValidationHelper
}

func NewGroupService(store *storage.Store, ledger *LedgerService) *GroupService {
	return &GroupService{
		store:      store,
		ledger:     ledger,
		validation: NewValidationHelper(),
	}
}

// authorize returns the caller's membership or ErrNotFound / ErrForbidden.
func (s *GroupService) authorize(ctx context.Context, userID, groupID string) (*models.GroupMember, error) {
	if _, err := s.store.GetGroup(ctx, groupID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("group %s: %w", groupID, ErrNotFound)
		}
		return nil, err
	}
	member, err := s.store.GetMember(ctx, groupID, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("group %s: %w", groupID, ErrForbidden)
		}
		return nil, err
	}
	return member, nil
}

func (s *GroupService) GetGroupFund(ctx context.Context, userID, groupID string) (*GroupFund, error) {
	member, err := s.authorize(ctx, userID, groupID)
	if err != nil {
		return nil, err
	}
	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	fund, err := s.store.GetFundByGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	recipients, err := s.store.ListRecipients(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if recipients == nil {
		recipients = []models.Recipient{}
	}
	return &GroupFund{Group: group, Fund: fund, Recipients: recipients, Role: member.Role}, nil
}

// ListTransactions pages through the group's ledger for a member.
func (s *GroupService) ListTransactions(ctx context.Context, userID, groupID, cursor string, limit int) (*models.TransactionPage, error) {
	if _, err := s.authorize(ctx, userID, groupID); err != nil {
		return nil, err
	}
	fund, err := s.store.GetFundByGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	page, err := s.ledger.ListTransactions(ctx, fund.ID, cursor, limit)
	if err != nil {
		return nil, err
	}
	if page.Transactions == nil {
		page.Transactions = []models.Transaction{}
	}
	return page, nil
}

// AddRecipient completes a group created with addRecipientLater.
func (s *GroupService) AddRecipient(ctx context.Context, userID, groupID string, data models.RecipientData) (*models.Recipient, error) {
	if err := s.validation.validate(&data); err != nil {
		return nil, err
	}
	if _, err := s.authorize(ctx, userID, groupID); err != nil {
		return nil, err
	}
	recipient := &models.Recipient{
		ID:         uuid.NewString(),
		GroupID:    groupID,
		Name:       data.Name,
		Address:    data.Address,
		City:       data.City,
		PostalCode: data.PostalCode,
		Phone:      data.Phone,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.InsertRecipient(ctx, recipient); err != nil {
		return nil, err
	}
	return recipient, nil
}

// GetAttempt returns an attempt to the user who started it. Other users get
// ErrNotFound so attempt ids cannot be guessed.
func (s *GroupService) GetAttempt(ctx context.Context, userID, attemptID string) (*models.ChargeAttempt, error) {
	attempt, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("attempt %s: %w", attemptID, ErrNotFound)
		}
		return nil, err
	}
	if attempt.ActingUserID != userID {
		return nil, fmt.Errorf("attempt %s: %w", attemptID, ErrNotFound)
	}
	// The stored payload may carry recipient details; the status view does
	// not need them.
	attempt.Payload = nil
	attempt.Metadata = nil
	return attempt, nil
}
