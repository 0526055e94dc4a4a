package ledger

import (
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Operation 余额变更类型
type Operation string

const (
	OpSum      Operation = "SUM"
	OpSubtract Operation = "SUBTRACT"
	OpSet      Operation = "SET"
)

// Change 提交前交给观察者的变更
type Change struct {
	EntityID    uuid.UUID
	DisplayName string
	Op          Operation
	Amount      decimal.Decimal // 调用方传入的参数
	Previous    decimal.Decimal // 变更前余额
	Proposed    decimal.Decimal // 拟提交余额，已包含前面观察者的覆盖
}

// Decision 观察者的结论：放行（可改写结果）或否决
type Decision struct {
	veto  bool
	value decimal.Decimal
}

// Proceed 放行，以 value 作为拟提交余额
func Proceed(value decimal.Decimal) Decision {
	return Decision{value: value}
}

// Veto 否决，条目保持不变，不入队
func Veto() Decision {
	return Decision{veto: true}
}

func (d Decision) Vetoed() bool { return d.veto }

func (d Decision) Value() decimal.Decimal { return d.value }

// Observer 在持有条目锁期间同步调用，不能回调同一条目的变更方法
type Observer func(Change) Decision

// Observers 按注册顺序调用的观察者列表
type Observers struct {
	mu   sync.RWMutex
	list []Observer
}

func NewObservers() *Observers {
	return &Observers{}
}

func (o *Observers) Register(fn Observer) {
	if fn == nil {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	// 写时复制，evaluate 拿到的快照不受后续注册影响
	list := make([]Observer, len(o.list), len(o.list)+1)
	copy(list, o.list)
	o.list = append(list, fn)
}

func (o *Observers) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.list)
}

// evaluate 依次调用观察者，返回最终余额；任一观察者否决则返回 false
func (o *Observers) evaluate(c Change) (decimal.Decimal, bool) {
	if o == nil {
		return c.Proposed, true
	}

	o.mu.RLock()
	list := o.list
	o.mu.RUnlock()

	for _, fn := range list {
		d := fn(c)
		if d.Vetoed() {
			return c.Previous, false
		}
		c.Proposed = d.Value()
	}
	return c.Proposed, true
}
