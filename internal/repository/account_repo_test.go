package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"economy/internal/config"
	"economy/internal/infrastructure/database"
	"economy/internal/ledger"
	"economy/internal/model"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{
		Driver:   "sqlite",
		Path:     filepath.Join(t.TempDir(), "economy.db"),
		LogLevel: "silent",
	}, nil)
	require.NoError(t, err)
	return db
}

func newTestRepo(t *testing.T) *AccountRepository {
	t.Helper()
	r := NewAccountRepository(openTestDB(t))
	require.NoError(t, r.EnsureSchema(context.Background()))
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func mutation(id uuid.UUID, name, balance string, ts time.Time) model.PendingMutation {
	return model.PendingMutation{
		ID:          ts.UnixNano(),
		EntityID:    id,
		DisplayName: name,
		Balance:     decimal.RequireFromString(balance),
		Timestamp:   ts,
	}
}

func assertBalance(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "want balance %s, got %s", want, got)
}

func TestEnsureSchema_Idempotent(t *testing.T) {
	r := newTestRepo(t)
	require.NoError(t, r.EnsureSchema(context.Background()))

	assert.True(t, r.db.Migrator().HasTable(&model.Account{}))
	assert.True(t, r.db.Migrator().HasTable(&model.DeadLetter{}))
}

func TestLoadEntity_AbsentCreatesZeroRow(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	id := uuid.New()

	acc, err := r.LoadEntity(ctx, id, "alice")
	require.NoError(t, err)
	assert.Equal(t, id, acc.EntityID)
	assert.Equal(t, "alice", acc.DisplayName)
	assert.True(t, acc.Balance.IsZero())

	stored, err := r.GetByEntityID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "alice", stored.DisplayName)
}

func TestLoadEntity_RefreshesDisplayName(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	id := uuid.New()

	require.NoError(t, r.CommitBatch(ctx, []model.PendingMutation{mutation(id, "old", "12.5", time.Now())}))

	acc, err := r.LoadEntity(ctx, id, "new")
	require.NoError(t, err)
	assert.Equal(t, "new", acc.DisplayName)
	assertBalance(t, "12.5", acc.Balance.Decimal)

	stored, err := r.GetByEntityID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "new", stored.DisplayName)
}

func TestCommitBatch_LastWriteWinsPerEntity(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()
	now := time.Now()

	batch := []model.PendingMutation{
		mutation(a, "a", "3", now),
		mutation(b, "b", "7", now.Add(time.Millisecond)),
		mutation(a, "a", "5", now.Add(2*time.Millisecond)),
		mutation(b, "b", "-1.25", now.Add(3*time.Millisecond)),
	}
	require.NoError(t, r.CommitBatch(ctx, batch))

	accA, err := r.GetByEntityID(ctx, a)
	require.NoError(t, err)
	assertBalance(t, "5", accA.Balance.Decimal)

	accB, err := r.GetByEntityID(ctx, b)
	require.NoError(t, err)
	assertBalance(t, "-1.25", accB.Balance.Decimal)
}

func TestCommitBatch_ReapplyIsIdempotent(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	id := uuid.New()
	now := time.Now()

	batch := []model.PendingMutation{
		mutation(id, "c", "3", now),
		mutation(id, "c", "5", now.Add(time.Millisecond)),
	}
	require.NoError(t, r.CommitBatch(ctx, batch))
	require.NoError(t, r.CommitBatch(ctx, batch))

	acc, err := r.GetByEntityID(ctx, id)
	require.NoError(t, err)
	assertBalance(t, "5", acc.Balance.Decimal)
}

func TestCommitBatch_PreservesPrecision(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	values := []string{
		"12345678901234567890.12345678",
		"0.000000000000000000123456789",
		"-98765432109876543210.987654321012345",
		"1.123456789",
	}
	for _, v := range values {
		t.Run(v, func(t *testing.T) {
			id := uuid.New()
			require.NoError(t, r.CommitBatch(ctx, []model.PendingMutation{mutation(id, "p", v, time.Now())}))

			acc, err := r.LoadEntity(ctx, id, "p")
			require.NoError(t, err)
			assertBalance(t, v, acc.Balance.Decimal)

			var raw string
			require.NoError(t, r.db.Raw("SELECT balance FROM economy_account WHERE entity_id = ?", id).Scan(&raw).Error)
			assertBalance(t, v, decimal.RequireFromString(raw))
		})
	}
}

func TestEnsureSchema_BalanceColumnIsText(t *testing.T) {
	r := newTestRepo(t)

	columns, err := r.db.Migrator().ColumnTypes(&model.Account{})
	require.NoError(t, err)
	for _, c := range columns {
		if c.Name() == "balance" {
			assert.Equal(t, "TEXT", strings.ToUpper(c.DatabaseTypeName()))
			return
		}
	}
	t.Fatal("balance column not found")
}

func TestCommitBatch_KeepsCreatedAt(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	id := uuid.New()

	first, err := r.LoadEntity(ctx, id, "d")
	require.NoError(t, err)

	later := first.CreatedAt.Add(time.Hour)
	require.NoError(t, r.CommitBatch(ctx, []model.PendingMutation{mutation(id, "d", "1", later)}))

	acc, err := r.GetByEntityID(ctx, id)
	require.NoError(t, err)
	assert.WithinDuration(t, first.CreatedAt, acc.CreatedAt, time.Second)
	assert.WithinDuration(t, later, acc.UpdatedAt, time.Second)
}

func TestCommitBatch_MismatchRollsBack(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	id := uuid.New()

	// 模拟驱动报告的影响行数少于提交数
	require.NoError(t, r.db.Callback().Create().After("gorm:create").Register("test:zero_rows", func(tx *gorm.DB) {
		if tx.Statement.Table == "economy_account" {
			tx.RowsAffected = 0
		}
	}))

	err := r.CommitBatch(ctx, []model.PendingMutation{mutation(id, "e", "9", time.Now())})
	require.ErrorIs(t, err, ledger.ErrBatchMismatch)
	assert.Contains(t, err.Error(), "applied 0 of 1")

	_, err = r.GetByEntityID(ctx, id)
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestCommitBatch_Empty(t *testing.T) {
	r := newTestRepo(t)
	assert.NoError(t, r.CommitBatch(context.Background(), nil))
}

func TestClosedGateway(t *testing.T) {
	r := NewAccountRepository(openTestDB(t))
	ctx := context.Background()
	require.NoError(t, r.EnsureSchema(ctx))
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	_, err := r.LoadEntity(ctx, uuid.New(), "f")
	assert.ErrorIs(t, err, ledger.ErrGatewayClosed)
	assert.True(t, ledger.IsUnavailable(err))

	err = r.CommitBatch(ctx, []model.PendingMutation{mutation(uuid.New(), "f", "1", time.Now())})
	assert.ErrorIs(t, err, ledger.ErrGatewayClosed)

	assert.ErrorIs(t, r.EnsureSchema(ctx), ledger.ErrGatewayClosed)
}

func TestClassify(t *testing.T) {
	assert.NoError(t, classify(nil))

	refused := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	assert.ErrorIs(t, classify(refused), ledger.ErrGatewayUnavailable)
	assert.ErrorIs(t, classify(driver.ErrBadConn), ledger.ErrGatewayUnavailable)

	other := errors.New("syntax error")
	assert.Same(t, other, classify(other))

	closed := ledger.ErrGatewayClosed
	assert.Same(t, closed, classify(closed))
}
