package worker

import (
	"sync"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"economy/internal/ledger"
)

// Pool 固定大小的工作池，所有数据库调用都在这里执行
//
// Submit 不阻塞调用方：任务先交给一个等待 goroutine，
// 由它在有空闲 worker 时投递
type Pool struct {
	mu      sync.RWMutex
	closed  bool
	pending conc.WaitGroup
	workers *pool.Pool
	logger  *zap.Logger
}

func NewPool(size int, logger *zap.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		workers: pool.New().WithMaxGoroutines(size),
		logger:  logger,
	}
}

// Submit 提交任务；关闭后返回 ledger.ErrExecutorClosed
func (p *Pool) Submit(task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ledger.ErrExecutorClosed
	}

	p.pending.Go(func() {
		p.workers.Go(func() { p.run(task) })
	})
	return nil
}

// run 任务 panic 只记录日志，不影响其他任务
func (p *Pool) run(task func()) {
	var pc panics.Catcher
	pc.Try(task)
	if r := pc.Recovered(); r != nil {
		p.logger.Error("任务 panic", zap.Any("panic", r.Value), zap.String("stack", string(r.Stack)))
	}
}

// Close 拒绝新任务，等待已提交的任务全部执行完毕，幂等
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.pending.Wait()
	p.workers.Wait()
	p.logger.Info("工作池已关闭")
}
