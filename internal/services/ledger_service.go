package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/familyfund/backend/internal/audit"
	"github.com/familyfund/backend/internal/metrics"
	"github.com/familyfund/backend/internal/models"
	"github.com/familyfund/backend/internal/storage"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// AppendInput describes one ledger entry to add.
type AppendInput struct {
	FundID       string
	ActingUserID string
	Type         models.TransactionType
	Amount       int64
	Description  string
	ExternalRef  string
}

// LedgerService is the only writer of fund balances. Every append runs in one
// storage transaction that holds the fund row.
type LedgerService struct {
	store *storage.Store
	audit *audit.Logger
	now   func() time.Time
}

func NewLedgerService(store *storage.Store, auditLogger *audit.Logger) *LedgerService {
	return &LedgerService{
		store: store,
		audit: auditLogger,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// CreateFund opens an empty fund for a group.
func (s *LedgerService) CreateFund(ctx context.Context, groupID, currency string) (*models.Fund, error) {
	var fund *models.Fund
	err := s.store.WithTx(ctx, func(tx *storage.Tx) error {
		var err error
		fund, err = s.createFundTx(ctx, tx, groupID, currency)
		return err
	})
	if err != nil {
		return nil, err
	}
	return fund, nil
}

func (s *LedgerService) createFundTx(ctx context.Context, tx *storage.Tx, groupID, currency string) (*models.Fund, error) {
	if len(currency) != 3 {
		return nil, fmt.Errorf("%w: currency must be an ISO 4217 code", ErrValidation)
	}
	now := s.now()
	fund := &models.Fund{
		ID:        uuid.NewString(),
		GroupID:   groupID,
		Balance:   0,
		Currency:  strings.ToUpper(currency),
		Version:   0,
		Status:    models.FundStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.InsertFund(ctx, fund); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, fmt.Errorf("group %s: %w", groupID, ErrAlreadyExists)
		}
		return nil, err
	}
	return fund, nil
}

// AppendTransaction adds one entry and moves the balance. When ExternalRef was
// already recorded on the fund it returns the original entry together with
// ErrDuplicateExternalRef and changes nothing.
func (s *LedgerService) AppendTransaction(ctx context.Context, in AppendInput) (*models.Transaction, error) {
	var (
		txn      *models.Transaction
		original *models.Transaction
	)
	err := s.store.WithTx(ctx, func(tx *storage.Tx) error {
		var err error
		txn, err = s.appendTx(ctx, tx, in)
		if errors.Is(err, ErrDuplicateExternalRef) {
			original = txn
		}
		return err
	})
	if original != nil {
		metrics.LedgerAppends.WithLabelValues(string(in.Type), "duplicate").Inc()
		return original, err
	}
	if err != nil {
		metrics.LedgerAppends.WithLabelValues(string(in.Type), resultLabel(err)).Inc()
		return nil, err
	}

	metrics.LedgerAppends.WithLabelValues(string(in.Type), "ok").Inc()
	if txn.Type == models.TransactionDeposit {
		s.audit.LogDeposit(ctx, txn.FundID, txn.ID, txn.ExternalRef, txn.Amount, "SUCCESS")
	} else {
		s.audit.LogOperation(ctx, strings.ToUpper(string(txn.Type)), "", txn.FundID, txn.ID)
	}
	return txn, nil
}

// appendTx does the work of AppendTransaction inside a caller's transaction.
func (s *LedgerService) appendTx(ctx context.Context, tx *storage.Tx, in AppendInput) (*models.Transaction, error) {
	if in.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if !in.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown transaction type %q", ErrValidation, in.Type)
	}
	if in.ActingUserID == "" {
		return nil, fmt.Errorf("%w: acting user is required", ErrValidation)
	}

	fund, err := tx.LockFund(ctx, in.FundID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("fund %s: %w", in.FundID, ErrNotFound)
		}
		return nil, err
	}

	// A replay writes nothing, so it is answered even on a frozen fund.
	if in.ExternalRef != "" {
		existing, err := tx.FindTransactionByExternalRef(ctx, fund.ID, in.ExternalRef)
		switch {
		case err == nil:
			return existing, ErrDuplicateExternalRef
		case !errors.Is(err, storage.ErrNotFound):
			return nil, err
		}
	}

	if fund.Frozen() {
		return nil, fmt.Errorf("fund %s: %w", fund.ID, ErrFundFrozen)
	}

	txn := &models.Transaction{
		ID:           uuid.NewString(),
		FundID:       fund.ID,
		Seq:          fund.Version + 1,
		ActingUserID: in.ActingUserID,
		Type:         in.Type,
		Amount:       in.Amount,
		Description:  in.Description,
		ExternalRef:  in.ExternalRef,
		CreatedAt:    s.now(),
	}
	if txn.Description == "" {
		txn.Description = string(in.Type)
	}

	newBalance := fund.Balance + txn.SignedAmount()
	if newBalance < 0 {
		return nil, fmt.Errorf("fund %s balance %d, requested %d: %w", fund.ID, fund.Balance, in.Amount, ErrInsufficientFunds)
	}
	txn.BalanceAfter = newBalance

	if err := tx.InsertTransaction(ctx, txn); err != nil {
		return nil, err
	}
	if err := tx.UpdateFundBalance(ctx, fund.ID, newBalance, fund.Version, txn.Seq, txn.CreatedAt); err != nil {
		return nil, err
	}
	return txn, nil
}

func (s *LedgerService) GetFund(ctx context.Context, fundID string) (*models.Fund, error) {
	fund, err := s.store.GetFund(ctx, fundID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("fund %s: %w", fundID, ErrNotFound)
	}
	return fund, err
}

// GetBalance returns the current balance in minor units.
func (s *LedgerService) GetBalance(ctx context.Context, fundID string) (int64, error) {
	fund, err := s.GetFund(ctx, fundID)
	if err != nil {
		return 0, err
	}
	return fund.Balance, nil
}

// ListTransactions pages through a fund's history newest first. An empty
// cursor starts at the newest entry; the returned NextCursor is empty on the
// last page.
func (s *LedgerService) ListTransactions(ctx context.Context, fundID, cursor string, limit int) (*models.TransactionPage, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	beforeSeq, err := decodeCursor(cursor)
	if err != nil {
		return nil, err
	}

	// One extra row tells us whether another page exists.
	txns, err := s.store.ListTransactions(ctx, fundID, beforeSeq, limit+1)
	if err != nil {
		return nil, err
	}

	page := &models.TransactionPage{Transactions: txns}
	if len(txns) > limit {
		page.Transactions = txns[:limit]
		page.NextCursor = encodeCursor(page.Transactions[limit-1].Seq)
	}
	return page, nil
}

// VerifyFund recomputes the fund from its log. On mismatch the fund is frozen
// and ErrLedgerInconsistency is returned.
func (s *LedgerService) VerifyFund(ctx context.Context, fundID string) error {
	var (
		fund   *models.Fund
		totals storage.LedgerTotals
		frozen bool
	)
	err := s.store.WithTx(ctx, func(tx *storage.Tx) error {
		var err error
		fund, err = tx.LockFund(ctx, fundID)
		if err != nil {
			return err
		}
		totals, err = tx.SumTransactions(ctx, fundID)
		if err != nil {
			return err
		}
		if totals.Sum == fund.Balance && totals.Count == fund.Version && totals.LastSeq == fund.Version {
			return nil
		}
		frozen = true
		if fund.Frozen() {
			return nil
		}
		return tx.SetFundStatus(ctx, fundID, models.FundStatusFrozen)
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("fund %s: %w", fundID, ErrNotFound)
		}
		return err
	}
	if !frozen {
		return nil
	}

	inconsistency := fmt.Errorf("fund %s: balance %d version %d, log sum %d count %d: %w",
		fundID, fund.Balance, fund.Version, totals.Sum, totals.Count, ErrLedgerInconsistency)
	slog.Error("ledger verification failed, fund frozen", "fund_id", fundID, "error", inconsistency)
	metrics.FundsFrozen.Inc()
	s.audit.LogOperation(ctx, audit.EventFreeze, "", fundID, inconsistency.Error())
	return inconsistency
}

// UnfreezeFund reopens a frozen fund once its balance agrees with the log
// again. It is an operator action; nothing in the request path calls it.
func (s *LedgerService) UnfreezeFund(ctx context.Context, fundID string) error {
	err := s.store.WithTx(ctx, func(tx *storage.Tx) error {
		fund, err := tx.LockFund(ctx, fundID)
		if err != nil {
			return err
		}
		if !fund.Frozen() {
			return nil
		}
		totals, err := tx.SumTransactions(ctx, fundID)
		if err != nil {
			return err
		}
		if totals.Sum != fund.Balance || totals.Count != fund.Version || totals.LastSeq != fund.Version {
			return fmt.Errorf("fund %s: balance %d version %d, log sum %d count %d: %w",
				fundID, fund.Balance, fund.Version, totals.Sum, totals.Count, ErrLedgerInconsistency)
		}
		return tx.SetFundStatus(ctx, fundID, models.FundStatusActive)
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("fund %s: %w", fundID, ErrNotFound)
		}
		return err
	}

	slog.Info("fund unfrozen", "fund_id", fundID)
	s.audit.LogOperation(ctx, audit.EventUnfreeze, "", fundID, "operator unfreeze")
	return nil
}

// VerifyReport summarizes a sweep over all funds.
type VerifyReport struct {
	Checked      int
	Inconsistent []string
}

// VerifyAll runs VerifyFund over every fund and keeps going past
// inconsistencies.
func (s *LedgerService) VerifyAll(ctx context.Context) (*VerifyReport, error) {
	ids, err := s.store.ListFundIDs(ctx)
	if err != nil {
		return nil, err
	}
	report := &VerifyReport{}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		err := s.VerifyFund(ctx, id)
		report.Checked++
		switch {
		case errors.Is(err, ErrLedgerInconsistency):
			report.Inconsistent = append(report.Inconsistent, id)
		case err != nil:
			return report, err
		}
	}
	return report, nil
}

const cursorPrefix = "seq:"

func encodeCursor(seq int64) string {
	return base64.RawURLEncoding.EncodeToString([]byte(cursorPrefix + strconv.FormatInt(seq, 10)))
}

func decodeCursor(cursor string) (int64, error) {
	if cursor == "" {
		return 0, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, fmt.Errorf("%w: malformed cursor", ErrValidation)
	}
	seq, err := strconv.ParseInt(strings.TrimPrefix(string(raw), cursorPrefix), 10, 64)
	if err != nil || !strings.HasPrefix(string(raw), cursorPrefix) || seq <= 0 {
		return 0, fmt.Errorf("%w: malformed cursor", ErrValidation)
	}
	return seq, nil
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrFundFrozen):
		return "frozen"
	case errors.Is(err, ErrValidation):
		return "invalid"
	case errors.Is(err, ErrDuplicateExternalRef):
		return "duplicate"
	default:
		return "error"
	}
}
