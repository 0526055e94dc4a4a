package ledger

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"economy/internal/model"
	"economy/pkg/idgen"
)

// Result 一次变更的结果
type Result struct {
	Previous decimal.Decimal
	Balance  decimal.Decimal // 变更后的余额；否决或失败时等于 Previous
	Vetoed   bool
}

// Entry 一个实体在内存中的余额记录
//
// 变更方法在条目锁内完成：计算 -> 观察者 -> 入队 -> 写回。
// 入队成功才写回，所以队列中同一实体的最后一条记录总是等于当前余额。
// 核心层不校验余额是否足够，也不截断负数，这些是调用方的规则
type Entry struct {
	mu        sync.Mutex
	account   model.Account
	queue     *Queue
	observers *Observers
	now       func() time.Time
}

func newEntry(account model.Account, queue *Queue, observers *Observers, now func() time.Time) *Entry {
	if now == nil {
		now = time.Now
	}
	return &Entry{
		account:   account,
		queue:     queue,
		observers: observers,
		now:       now,
	}
}

// Sum balance' = balance + amount，核心层不设上限
func (e *Entry) Sum(amount decimal.Decimal) (Result, error) {
	return e.apply(OpSum, amount, func(b decimal.Decimal) decimal.Decimal {
		return b.Add(amount)
	})
}

// Subtract balance' = balance - amount，允许结果为负
func (e *Entry) Subtract(amount decimal.Decimal) (Result, error) {
	return e.apply(OpSubtract, amount, func(b decimal.Decimal) decimal.Decimal {
		return b.Sub(amount)
	})
}

// SetBalance balance' = amount，无条件
func (e *Entry) SetBalance(amount decimal.Decimal) (Result, error) {
	return e.apply(OpSet, amount, func(decimal.Decimal) decimal.Decimal {
		return amount
	})
}

func (e *Entry) apply(op Operation, amount decimal.Decimal, compute func(decimal.Decimal) decimal.Decimal) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev := e.account.Balance.Decimal
	final, ok := e.observers.evaluate(Change{
		EntityID:    e.account.EntityID,
		DisplayName: e.account.DisplayName,
		Op:          op,
		Amount:      amount,
		Previous:    prev,
		Proposed:    compute(prev),
	})
	if !ok {
		return Result{Previous: prev, Balance: prev, Vetoed: true}, nil
	}

	now := e.now()
	err := e.queue.offer(model.PendingMutation{
		ID:          idgen.NextID(),
		EntityID:    e.account.EntityID,
		DisplayName: e.account.DisplayName,
		Balance:     final,
		Timestamp:   now,
	})
	if err != nil {
		return Result{Previous: prev, Balance: prev}, err
	}

	e.account.Balance = model.NewAmount(final)
	e.account.UpdatedAt = now
	return Result{Previous: prev, Balance: final}, nil
}

func (e *Entry) EntityID() uuid.UUID {
	return e.account.EntityID
}

func (e *Entry) Balance() decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.account.Balance.Decimal
}

func (e *Entry) DisplayName() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.account.DisplayName
}

func (e *Entry) rename(name string) {
	if name == "" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.account.DisplayName = name
}

// Snapshot 返回当前状态的副本
func (e *Entry) Snapshot() model.Account {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.account
}
