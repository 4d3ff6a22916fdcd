package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/familyfund/backend/internal/models"
)

const attemptColumns = `id, kind, state, acting_user_id, group_id, fund_id, amount, currency, charge_seq,
	external_ref, masked_card, payload, metadata, failure_reason, commit_tries, created_at, updated_at`

func scanAttempt(row rowScanner) (*models.ChargeAttempt, error) {
	var (
		a                                                       models.ChargeAttempt
		groupID, fundID, externalRef, maskedCard, failureReason sql.NullString
	)
	err := row.Scan(&a.ID, &a.Kind, &a.State, &a.ActingUserID, &groupID, &fundID, &a.Amount, &a.Currency, &a.ChargeSeq,
		&externalRef, &maskedCard, &a.Payload, &a.Metadata, &failureReason, &a.CommitTries, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.GroupID = groupID.String
	a.FundID = fundID.String
	a.ExternalRef = externalRef.String
	a.MaskedCard = maskedCard.String
	a.FailureReason = failureReason.String
	return &a, nil
}

// InsertAttempt stores a new attempt. A reused attempt id fails with ErrDuplicate.
func (c conn) InsertAttempt(ctx context.Context, a *models.ChargeAttempt) error {
	_, err := c.exec(ctx, `
		INSERT INTO charge_attempts (`+attemptColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, string(a.Kind), string(a.State), a.ActingUserID, nullString(a.GroupID), nullString(a.FundID),
		a.Amount, a.Currency, a.ChargeSeq, nullString(a.ExternalRef), nullString(a.MaskedCard),
		a.Payload, a.Metadata, nullString(a.FailureReason), a.CommitTries, a.CreatedAt, a.UpdatedAt)
	return c.wrapErr("insert attempt", err)
}

func (c conn) GetAttempt(ctx context.Context, attemptID string) (*models.ChargeAttempt, error) {
	a, err := scanAttempt(c.queryRow(ctx, `SELECT `+attemptColumns+` FROM charge_attempts WHERE id = ?`, attemptID))
	return a, c.wrapErr("get attempt", err)
}

// UpdateAttempt persists the mutable fields of an attempt. expected is the
// state the caller read; the write is rejected if another writer moved it.
func (c conn) UpdateAttempt(ctx context.Context, a *models.ChargeAttempt, expected models.AttemptState) error {
	a.UpdatedAt = utcNow()
	res, err := c.exec(ctx, `
		UPDATE charge_attempts
		SET state = ?, group_id = ?, fund_id = ?, charge_seq = ?, external_ref = ?, masked_card = ?,
			payload = ?, failure_reason = ?, commit_tries = ?, updated_at = ?
		WHERE id = ? AND state = ?`,
		string(a.State), nullString(a.GroupID), nullString(a.FundID), a.ChargeSeq, nullString(a.ExternalRef),
		nullString(a.MaskedCard), a.Payload, nullString(a.FailureReason), a.CommitTries, a.UpdatedAt,
		a.ID, string(expected))
	if err != nil {
		return c.wrapErr("update attempt", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update attempt %s: %w", a.ID, ErrStaleAttempt)
	}
	return nil
}

// ListAttemptsByState returns attempts in any of states last touched before
// olderThan, oldest first.
func (c conn) ListAttemptsByState(ctx context.Context, states []models.AttemptState, olderThan time.Time, limit int) ([]models.ChargeAttempt, error) {
	if len(states) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(states)+2)
	placeholders := ""
	for i, s := range states {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args = append(args, string(s))
	}
	args = append(args, olderThan, limit)

	rows, err := c.query(ctx, `
		SELECT `+attemptColumns+`
		FROM charge_attempts
		WHERE state IN (`+placeholders+`) AND updated_at < ?
		ORDER BY updated_at
		LIMIT ?`, args...)
	if err != nil {
		return nil, c.wrapErr("list attempts", err)
	}
	defer rows.Close()

	var attempts []models.ChargeAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, c.wrapErr("scan attempt", err)
		}
		attempts = append(attempts, *a)
	}
	return attempts, c.wrapErr("list attempts", rows.Err())
}
