package services

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/familyfund/backend/internal/audit"
	"github.com/familyfund/backend/internal/gateway"
	"github.com/familyfund/backend/internal/idempotency"
	"github.com/familyfund/backend/internal/models"
	"github.com/familyfund/backend/internal/storage"
)

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Charge(ctx context.Context, req gateway.ChargeRequest) (gateway.ChargeResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(gateway.ChargeResult), args.Error(1)
}

func (m *MockGateway) Status(ctx context.Context, idempotencyKey string) (gateway.ChargeResult, error) {
	args := m.Called(ctx, idempotencyKey)
	return args.Get(0).(gateway.ChargeResult), args.Error(1)
}

func (m *MockGateway) Refund(ctx context.Context, externalRef string, amount int64, idempotencyKey string) (gateway.RefundResult, error) {
	args := m.Called(ctx, externalRef, amount, idempotencyKey)
	return args.Get(0).(gateway.RefundResult), args.Error(1)
}

type MockLocker struct {
	mock.Mock
}

func (m *MockLocker) Acquire(ctx context.Context, key string) (func(), error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(func()), args.Error(1)
}

// Sandbox tokens; the sandbox reads the outcome from the last four characters.
const (
	goodCard          = "tok_test_4242"
	otherGoodCard     = "tok_test_1881"
	declinedCard      = "tok_test_" + gateway.SandboxDeclineLast4
	timeoutCard       = "tok_test_" + gateway.SandboxTimeoutLast4
	droppedCard       = "tok_test_" + gateway.SandboxDroppedLast4
	testFee           = int64(7000)
	testMaxTries      = 3
	testCurrency      = "ILS"
	testOwnerID       = "user-owner"
	testOtherMemberID = "user-outsider"
)

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	db, err := sql.Open("sqlite", storage.SQLiteDSN(filepath.Join(t.TempDir(), "fund.db")))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store := storage.New(db, storage.SQLite)
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func newTestAudit() *audit.Logger {
	return audit.NewLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// testEnv wires the services over a temp SQLite store.
type testEnv struct {
	store      *storage.Store
	ledger     *LedgerService
	onboarding *OnboardingService
	topUp      *TopUpService
	reconciler *Reconciler
	groups     *GroupService
}

func newTestEnv(t *testing.T, gw gateway.Gateway) *testEnv {
	t.Helper()
	store := newTestStore(t)
	auditLogger := newTestAudit()
	locker := idempotency.NewMemoryLocker()

	ledger := NewLedgerService(store, auditLogger)
	onboarding := NewOnboardingService(store, ledger, gw, locker, auditLogger, OnboardingConfig{
		Fee:            testFee,
		Currency:       testCurrency,
		MaxCommitTries: testMaxTries,
	})
	topUp := NewTopUpService(store, ledger, gw, locker, auditLogger, testMaxTries)
	reconciler := NewReconciler(store, gw, locker, auditLogger, onboarding, topUp, ReconcileConfig{
		StaleAfter:   time.Minute,
		AbandonAfter: time.Hour,
		BatchSize:    10,
	})
	return &testEnv{
		store:      store,
		ledger:     ledger,
		onboarding: onboarding,
		topUp:      topUp,
		reconciler: reconciler,
		groups:     NewGroupService(store, ledger),
	}
}

func groupRequest(card string) CreateGroupRequest {
	return CreateGroupRequest{
		AttemptID:    uuid.NewString(),
		UserID:       testOwnerID,
		Group:        models.GroupData{Name: "Levi family"},
		PaymentToken: models.CardToken{Token: card, MaskedNumber: "**** **** **** 4242"},
		Recipient: &models.RecipientData{
			Name:    "Savta Rina",
			Address: "12 Herzl St",
			City:    "Haifa",
		},
		IPAddress: "10.0.0.7",
	}
}

// onboard creates a funded group owned by testOwnerID.
func (e *testEnv) onboard(t *testing.T) *OnboardingResult {
	t.Helper()
	result, err := e.onboarding.CreateGroupWithPayment(context.Background(), groupRequest(goodCard))
	require.NoError(t, err)
	return result
}

// age moves an attempt's updated_at into the past so the reconciler sees it
// as stale.
func (e *testEnv) age(t *testing.T, attemptID string, by time.Duration) {
	t.Helper()
	_, err := e.store.DB().Exec(`UPDATE charge_attempts SET updated_at = ? WHERE id = ?`,
		time.Now().UTC().Add(-by), attemptID)
	require.NoError(t, err)
}

func (e *testEnv) attempt(t *testing.T, attemptID string) *models.ChargeAttempt {
	t.Helper()
	a, err := e.store.GetAttempt(context.Background(), attemptID)
	require.NoError(t, err)
	return a
}

func (e *testEnv) countRows(t *testing.T, table string) int {
	t.Helper()
	var n int
	require.NoError(t, e.store.DB().QueryRow(`SELECT COUNT(*) FROM `+table).Scan(&n))
	return n
}

// seedGroup creates a group with an empty fund owned by testOwnerID, without
// going through onboarding.
func (e *testEnv) seedGroup(t *testing.T) *models.Fund {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	group := &models.Group{ID: uuid.NewString(), Name: "Peretz family", CreatedAt: now}
	require.NoError(t, e.store.InsertGroup(ctx, group))
	require.NoError(t, e.store.InsertMember(ctx, &models.GroupMember{
		GroupID: group.ID, UserID: testOwnerID, Role: models.RoleOwner, CreatedAt: now,
	}))
	fund, err := e.ledger.CreateFund(ctx, group.ID, testCurrency)
	require.NoError(t, err)
	return fund
}
