package storage

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/familyfund/backend/internal/models"
)

const fundColumns = `id, group_id, balance, currency, version, status, created_at, updated_at`

const transactionColumns = `id, fund_id, seq, acting_user_id, type, amount, description, external_ref, balance_after, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFund(row rowScanner) (*models.Fund, error) {
	var f models.Fund
	err := row.Scan(&f.ID, &f.GroupID, &f.Balance, &f.Currency, &f.Version, &f.Status, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var (
		t   models.Transaction
		ref sql.NullString
	)
	err := row.Scan(&t.ID, &t.FundID, &t.Seq, &t.ActingUserID, &t.Type, &t.Amount, &t.Description, &ref, &t.BalanceAfter, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	t.ExternalRef = ref.String
	return &t, nil
}

// InsertFund stores a new fund. A second fund for the same group fails with
// ErrDuplicate.
func (c conn) InsertFund(ctx context.Context, f *models.Fund) error {
	_, err := c.exec(ctx, `
		INSERT INTO funds (`+fundColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.GroupID, f.Balance, f.Currency, f.Version, f.Status, f.CreatedAt, f.UpdatedAt)
	return c.wrapErr("insert fund", err)
}

func (c conn) GetFund(ctx context.Context, fundID string) (*models.Fund, error) {
	f, err := scanFund(c.queryRow(ctx, `SELECT `+fundColumns+` FROM funds WHERE id = ?`, fundID))
	return f, c.wrapErr("get fund", err)
}

func (c conn) GetFundByGroup(ctx context.Context, groupID string) (*models.Fund, error) {
	f, err := scanFund(c.queryRow(ctx, `SELECT `+fundColumns+` FROM funds WHERE group_id = ?`, groupID))
	return f, c.wrapErr("get fund by group", err)
}

// ListFundIDs returns every fund id, oldest first.
func (c conn) ListFundIDs(ctx context.Context) ([]string, error) {
	rows, err := c.query(ctx, `SELECT id FROM funds ORDER BY created_at, id`)
	if err != nil {
		return nil, c.wrapErr("list funds", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, c.wrapErr("scan fund id", err)
		}
		ids = append(ids, id)
	}
	return ids, c.wrapErr("list funds", rows.Err())
}

// SetFundStatus switches a fund between active and frozen.
func (c conn) SetFundStatus(ctx context.Context, fundID, status string) error {
	res, err := c.exec(ctx, `UPDATE funds SET status = ?, updated_at = ? WHERE id = ?`, status, utcNow(), fundID)
	if err != nil {
		return c.wrapErr("set fund status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set fund status: %w", ErrNotFound)
	}
	return nil
}

// LockFund reads the fund row and holds it until the transaction ends.
func (tx *Tx) LockFund(ctx context.Context, fundID string) (*models.Fund, error) {
	f, err := scanFund(tx.queryRow(ctx,
		`SELECT `+fundColumns+` FROM funds WHERE id = ?`+tx.dialect.LockClause(), fundID))
	return f, tx.wrapErr("lock fund", err)
}

// UpdateFundBalance writes the new balance and version, guarded by the version
// the caller read under lock.
func (tx *Tx) UpdateFundBalance(ctx context.Context, fundID string, balance, prevVersion, nextVersion int64, at time.Time) error {
	res, err := tx.exec(ctx, `
		UPDATE funds
		SET balance = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		balance, nextVersion, at, fundID, prevVersion)
	if err != nil {
		return tx.wrapErr("update fund balance", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return tx.wrapErr("update fund balance", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("optimistic lock failed for fund %s", fundID)
	}
	return nil
}

// InsertTransaction appends a ledger row. The caller owns seq assignment.
func (tx *Tx) InsertTransaction(ctx context.Context, t *models.Transaction) error {
	_, err := tx.exec(ctx, `
		INSERT INTO fund_transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.FundID, t.Seq, t.ActingUserID, string(t.Type), t.Amount, t.Description, nullString(t.ExternalRef), t.BalanceAfter, t.CreatedAt)
	return tx.wrapErr("insert transaction", err)
}

func (c conn) FindTransactionByExternalRef(ctx context.Context, fundID, externalRef string) (*models.Transaction, error) {
	t, err := scanTransaction(c.queryRow(ctx,
		`SELECT `+transactionColumns+` FROM fund_transactions WHERE fund_id = ? AND external_ref = ?`,
		fundID, externalRef))
	return t, c.wrapErr("find transaction by external ref", err)
}

// ListTransactions returns up to limit rows with seq < beforeSeq, newest first.
// beforeSeq <= 0 starts from the newest row.
func (c conn) ListTransactions(ctx context.Context, fundID string, beforeSeq int64, limit int) ([]models.Transaction, error) {
	if beforeSeq <= 0 {
		beforeSeq = math.MaxInt64
	}
	rows, err := c.query(ctx, `
		SELECT `+transactionColumns+`
		FROM fund_transactions
		WHERE fund_id = ? AND seq < ?
		ORDER BY seq DESC
		LIMIT ?`,
		fundID, beforeSeq, limit)
	if err != nil {
		return nil, c.wrapErr("list transactions", err)
	}
	defer rows.Close()

	txns := make([]models.Transaction, 0, limit)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, c.wrapErr("scan transaction", err)
		}
		txns = append(txns, *t)
	}
	return txns, c.wrapErr("list transactions", rows.Err())
}

// LedgerTotals is the recomputed view of a fund's log.
type LedgerTotals struct {
	Sum     int64
	Count   int64
	LastSeq int64
}

// SumTransactions recomputes the signed sum of a fund's log.
func (c conn) SumTransactions(ctx context.Context, fundID string) (LedgerTotals, error) {
	var totals LedgerTotals
	err := c.queryRow(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN type = 'deposit' THEN amount ELSE -amount END), 0),
			COUNT(*),
			COALESCE(MAX(seq), 0)
		FROM fund_transactions
		WHERE fund_id = ?`, fundID).Scan(&totals.Sum, &totals.Count, &totals.LastSeq)
	return totals, c.wrapErr("sum transactions", err)
}
