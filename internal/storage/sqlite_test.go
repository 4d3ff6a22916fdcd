package storage

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/familyfund/backend/internal/models"
)

func newSQLiteStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", SQLiteDSN(filepath.Join(t.TempDir(), "test.db")))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store := New(db, SQLite)
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func seedFund(t *testing.T, store *Store) *models.Fund {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	group := &models.Group{ID: uuid.NewString(), Name: "Cohen family", CreatedAt: now}
	fund := &models.Fund{ID: uuid.NewString(), GroupID: group.ID, Currency: "ILS", Status: models.FundStatusActive, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.WithTx(ctx, func(tx *Tx) error {
		if err := tx.InsertGroup(ctx, group); err != nil {
			return err
		}
		return tx.InsertFund(ctx, fund)
	}))
	return fund
}

func appendRow(t *testing.T, store *Store, fundID string, typ models.TransactionType, amount int64, ref string) *models.Transaction {
	t.Helper()
	ctx := context.Background()
	var txn *models.Transaction
	require.NoError(t, store.WithTx(ctx, func(tx *Tx) error {
		fund, err := tx.LockFund(ctx, fundID)
		if err != nil {
			return err
		}
		txn = &models.Transaction{
			ID: uuid.NewString(), FundID: fundID, Seq: fund.Version + 1, ActingUserID: "user1",
			Type: typ, Amount: amount, Description: "test", ExternalRef: ref, CreatedAt: time.Now().UTC(),
		}
		txn.BalanceAfter = fund.Balance + txn.SignedAmount()
		if err := tx.InsertTransaction(ctx, txn); err != nil {
			return err
		}
		return tx.UpdateFundBalance(ctx, fundID, txn.BalanceAfter, fund.Version, txn.Seq, txn.CreatedAt)
	}))
	return txn
}

func TestSQLiteStore_Funds(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	fund := seedFund(t, store)

	t.Run("GetFundByGroup", func(t *testing.T) {
		got, err := store.GetFundByGroup(ctx, fund.GroupID)
		require.NoError(t, err)
		assert.Equal(t, fund.ID, got.ID)
		assert.Equal(t, int64(0), got.Balance)
		assert.Equal(t, models.FundStatusActive, got.Status)
	})

	t.Run("second fund for a group is a duplicate", func(t *testing.T) {
		now := time.Now().UTC()
		err := store.InsertFund(ctx, &models.Fund{ID: uuid.NewString(), GroupID: fund.GroupID, Currency: "ILS", Status: models.FundStatusActive, CreatedAt: now, UpdatedAt: now})
		assert.ErrorIs(t, err, ErrDuplicate)
	})

	t.Run("append and sum", func(t *testing.T) {
		appendRow(t, store, fund.ID, models.TransactionDeposit, 7000, "ch_1")
		appendRow(t, store, fund.ID, models.TransactionPayment, 2500, "")
		appendRow(t, store, fund.ID, models.TransactionDeposit, 1000, "ch_2")

		got, err := store.GetFund(ctx, fund.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(5500), got.Balance)
		assert.Equal(t, int64(3), got.Version)

		totals, err := store.SumTransactions(ctx, fund.ID)
		require.NoError(t, err)
		assert.Equal(t, LedgerTotals{Sum: 5500, Count: 3, LastSeq: 3}, totals)
	})

	t.Run("external ref unique per fund", func(t *testing.T) {
		err := store.WithTx(ctx, func(tx *Tx) error {
			return tx.InsertTransaction(ctx, &models.Transaction{
				ID: uuid.NewString(), FundID: fund.ID, Seq: 99, ActingUserID: "user1",
				Type: models.TransactionDeposit, Amount: 1, Description: "dup", ExternalRef: "ch_1", CreatedAt: time.Now().UTC(),
			})
		})
		assert.ErrorIs(t, err, ErrDuplicate)

		orig, err := store.FindTransactionByExternalRef(ctx, fund.ID, "ch_1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), orig.Seq)
	})

	t.Run("transactions are append-only", func(t *testing.T) {
		_, err := store.DB().ExecContext(ctx, `UPDATE fund_transactions SET amount = 1 WHERE fund_id = ?`, fund.ID)
		assert.Error(t, err)
		_, err = store.DB().ExecContext(ctx, `DELETE FROM fund_transactions WHERE fund_id = ?`, fund.ID)
		assert.Error(t, err)
	})

	t.Run("freeze", func(t *testing.T) {
		require.NoError(t, store.SetFundStatus(ctx, fund.ID, models.FundStatusFrozen))
		got, err := store.GetFund(ctx, fund.ID)
		require.NoError(t, err)
		assert.True(t, got.Frozen())

		assert.ErrorIs(t, store.SetFundStatus(ctx, "missing", models.FundStatusFrozen), ErrNotFound)
	})
}

func TestSQLiteStore_ListTransactionsPaging(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	fund := seedFund(t, store)
	for i := 0; i < 5; i++ {
		appendRow(t, store, fund.ID, models.TransactionDeposit, int64(100*(i+1)), "")
	}

	first, err := store.ListTransactions(ctx, fund.ID, 0, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, int64(5), first[0].Seq)
	assert.Equal(t, int64(4), first[1].Seq)

	second, err := store.ListTransactions(ctx, fund.ID, first[1].Seq, 2)
	require.NoError(t, err)
	require.Len(t, second, 2)
	assert.Equal(t, int64(3), second[0].Seq)

	last, err := store.ListTransactions(ctx, fund.ID, second[1].Seq, 2)
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, int64(1), last[0].Seq)
}

func TestSQLiteStore_GroupsAndMembers(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	fund := seedFund(t, store)
	now := time.Now().UTC()

	require.NoError(t, store.InsertMember(ctx, &models.GroupMember{GroupID: fund.GroupID, UserID: "owner1", Role: models.RoleOwner, CreatedAt: now}))
	require.NoError(t, store.InsertRecipient(ctx, &models.Recipient{
		ID: uuid.NewString(), GroupID: fund.GroupID, Name: "Savta Rina", Address: "Herzl 1", City: "Haifa", CreatedAt: now,
	}))

	member, err := store.GetMember(ctx, fund.GroupID, "owner1")
	require.NoError(t, err)
	assert.Equal(t, models.RoleOwner, member.Role)

	_, err = store.GetMember(ctx, fund.GroupID, "stranger")
	assert.ErrorIs(t, err, ErrNotFound)

	recipients, err := store.ListRecipients(ctx, fund.GroupID)
	require.NoError(t, err)
	require.Len(t, recipients, 1)
	assert.Equal(t, "Haifa", recipients[0].City)
	assert.Empty(t, recipients[0].Phone)

	group, err := store.GetGroup(ctx, fund.GroupID)
	require.NoError(t, err)
	assert.Equal(t, "Cohen family", group.Name)
	assert.Empty(t, group.ImageRef)
}

func TestSQLiteStore_Attempts(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	old := time.Now().UTC().Add(-time.Hour)

	attempt := &models.ChargeAttempt{
		ID:           uuid.NewString(),
		Kind:         models.AttemptOnboarding,
		State:        models.AttemptAwaitingPayment,
		ActingUserID: "user1",
		GroupID:      uuid.NewString(),
		Amount:       7000,
		Currency:     "ILS",
		Payload: &models.AttemptPayload{
			Group:             &models.GroupData{Name: "Levi family"},
			AddRecipientLater: true,
		},
		Metadata:  models.Metadata{"ip_address": "10.0.0.1"},
		CreatedAt: old,
		UpdatedAt: old,
	}
	require.NoError(t, store.InsertAttempt(ctx, attempt))
	assert.ErrorIs(t, store.InsertAttempt(ctx, attempt), ErrDuplicate)

	got, err := store.GetAttempt(ctx, attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptAwaitingPayment, got.State)
	require.NotNil(t, got.Payload)
	assert.Equal(t, "Levi family", got.Payload.Group.Name)
	assert.True(t, got.Payload.AddRecipientLater)
	assert.Equal(t, "10.0.0.1", got.Metadata["ip_address"])
	assert.Equal(t, attempt.IdempotencyKey(), got.IdempotencyKey())

	t.Run("update and list by state", func(t *testing.T) {
		got.State = models.AttemptCharging
		got.MaskedCard = "**** **** **** 4242"
		require.NoError(t, store.UpdateAttempt(ctx, got, models.AttemptAwaitingPayment))

		stale, err := store.ListAttemptsByState(ctx, []models.AttemptState{models.AttemptCharging}, time.Now().UTC().Add(time.Minute), 10)
		require.NoError(t, err)
		require.Len(t, stale, 1)
		assert.Equal(t, "**** **** **** 4242", stale[0].MaskedCard)

		none, err := store.ListAttemptsByState(ctx, []models.AttemptState{models.AttemptCharging}, time.Now().UTC().Add(-time.Minute), 10)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("stale write rejected", func(t *testing.T) {
		got.State = models.AttemptCommitting
		err := store.UpdateAttempt(ctx, got, models.AttemptAwaitingPayment)
		assert.ErrorIs(t, err, ErrStaleAttempt)
	})

	t.Run("unknown attempt", func(t *testing.T) {
		_, err := store.GetAttempt(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
