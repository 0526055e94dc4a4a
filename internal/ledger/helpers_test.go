package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"economy/internal/model"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertBalance(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "want balance %s, got %s", want, got)
}

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestEntry(balance string, q *Queue, obs *Observers) *Entry {
	acc := model.NewAccount(uuid.New(), "alice", fixedNow)
	acc.Balance = model.NewAmount(dec(balance))
	return newEntry(acc, q, obs, func() time.Time { return fixedNow })
}

// syncExecutor 在调用方 goroutine 中直接执行任务
type syncExecutor struct {
	closed bool
}

func (e *syncExecutor) Submit(task func()) error {
	if e.closed {
		return ErrExecutorClosed
	}
	task()
	return nil
}

// fakeGateway 内存网关
type fakeGateway struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]model.Account
	loadErr  error
	loads    int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{accounts: make(map[uuid.UUID]model.Account)}
}

func (g *fakeGateway) EnsureSchema(context.Context) error { return nil }

func (g *fakeGateway) LoadEntity(_ context.Context, id uuid.UUID, name string) (model.Account, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.loads++
	if g.loadErr != nil {
		return model.Account{}, g.loadErr
	}
	acc, ok := g.accounts[id]
	if !ok {
		acc = model.NewAccount(id, name, fixedNow)
	}
	if acc.DisplayName != name {
		acc.DisplayName = name
	}
	g.accounts[id] = acc
	return acc, nil
}

func (g *fakeGateway) CommitBatch(_ context.Context, batch []model.PendingMutation) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, m := range batch {
		acc, ok := g.accounts[m.EntityID]
		if !ok {
			acc = model.NewAccount(m.EntityID, m.DisplayName, m.Timestamp)
		}
		acc.Balance = model.NewAmount(m.Balance)
		acc.UpdatedAt = m.Timestamp
		g.accounts[m.EntityID] = acc
	}
	return nil
}

func (g *fakeGateway) Close() error { return nil }

func (g *fakeGateway) balance(id uuid.UUID) decimal.Decimal {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.accounts[id].Balance.Decimal
}
