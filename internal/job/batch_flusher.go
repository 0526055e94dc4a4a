package job

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"economy/internal/config"
	"economy/internal/ledger"
	"economy/internal/metrics"
	"economy/internal/model"
	"economy/pkg/idgen"
)

// CommitListener 批次落库成功后的通知（Kafka 事件、Redis 镜像）
// 失败只记录日志，不影响已落库的批次
type CommitListener interface {
	OnCommit(ctx context.Context, batch []model.PendingMutation) error
}

// DeadLetterSink 保存超过最大重试次数的变更
type DeadLetterSink interface {
	SaveDeadLetters(ctx context.Context, letters []model.DeadLetter) error
}

// FlusherState 落库任务状态
type FlusherState int32

const (
	StateIdle FlusherState = iota
	StateFlushing
)

func (s FlusherState) String() string {
	if s == StateFlushing {
		return "FLUSHING"
	}
	return "IDLE"
}

// BatchFlusher 定时把待落库队列按页提交到数据库
//
// 同一时刻最多一个批次在途：flushMu 在派发时加锁，批次完成时由执行该批次的
// worker 解锁；定时触发时拿不到锁就跳过本次
type BatchFlusher struct {
	queue       *ledger.Queue
	gateway     ledger.Gateway
	exec        ledger.Executor
	deadLetters DeadLetterSink
	listeners   []CommitListener
	metrics     *metrics.Flusher
	logger      *zap.Logger

	interval      time.Duration
	pageSize      int
	maxAttempts   int
	commitTimeout time.Duration

	flushMu sync.Mutex
	state   atomic.Int32

	stopCh   chan struct{}
	stopOnce sync.Once
	running  atomic.Bool
	exited   chan struct{}
}

// FlusherOption 可选依赖
type FlusherOption func(*BatchFlusher)

func WithDeadLetterSink(sink DeadLetterSink) FlusherOption {
	return func(f *BatchFlusher) { f.deadLetters = sink }
}

func WithCommitListeners(listeners ...CommitListener) FlusherOption {
	return func(f *BatchFlusher) { f.listeners = append(f.listeners, listeners...) }
}

func WithMetrics(m *metrics.Flusher) FlusherOption {
	return func(f *BatchFlusher) { f.metrics = m }
}

func WithLogger(logger *zap.Logger) FlusherOption {
	return func(f *BatchFlusher) { f.logger = logger }
}

func NewBatchFlusher(queue *ledger.Queue, gateway ledger.Gateway, exec ledger.Executor, cfg config.EconomyConfig, opts ...FlusherOption) *BatchFlusher {
	f := &BatchFlusher{
		queue:         queue,
		gateway:       gateway,
		exec:          exec,
		logger:        zap.NewNop(),
		interval:      cfg.FlushInterval,
		pageSize:      cfg.PageSize,
		maxAttempts:   cfg.MaxAttempts,
		commitTimeout: cfg.CommitTimeout,
		stopCh:        make(chan struct{}),
		exited:        make(chan struct{}),
	}
	if f.interval <= 0 {
		f.interval = 50 * time.Millisecond
	}
	if f.pageSize <= 0 {
		f.pageSize = 48
	}
	if f.maxAttempts <= 0 {
		f.maxAttempts = 5
	}
	if f.commitTimeout <= 0 {
		f.commitTimeout = 10 * time.Second
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.metrics == nil {
		f.metrics = metrics.NewNopFlusher()
	}
	return f
}

// Start 阻塞运行定时循环，直到 ctx 取消或 Stop
func (f *BatchFlusher) Start(ctx context.Context) {
	f.running.Store(true)
	defer close(f.exited)

	f.logger.Info("批量落库任务启动",
		zap.Duration("interval", f.interval),
		zap.Int("page_size", f.pageSize))

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.logger.Info("收到停止信号，任务退出")
			return
		case <-f.stopCh:
			f.logger.Info("任务停止")
			return
		case <-ticker.C:
			f.Tick(ctx)
		}
	}
}

// Stop 停止定时循环并等待循环退出，幂等；不等待在途批次，见 Wait
func (f *BatchFlusher) Stop() {
	f.stopOnce.Do(func() { close(f.stopCh) })
	if f.running.Load() {
		<-f.exited
	}
}

// Wait 等待在途批次完成
func (f *BatchFlusher) Wait() {
	f.flushMu.Lock()
	f.flushMu.Unlock()
}

func (f *BatchFlusher) State() FlusherState {
	return FlusherState(f.state.Load())
}

// Tick 执行一次调度：空闲且队列非空时取出一页提交到工作池
// 返回是否派发了批次
func (f *BatchFlusher) Tick(ctx context.Context) bool {
	if !f.flushMu.TryLock() {
		f.metrics.Skipped.Inc()
		return false
	}

	batch := f.queue.Drain(f.pageSize)
	if len(batch) == 0 {
		f.flushMu.Unlock()
		return false
	}

	return f.dispatch(ctx, batch, nil) == nil
}

// FlushAll 同步清空队列，停机时调用
//
// 失败的批次按正常规则回队或转入死信，所以在数据库持续不可用时
// 循环次数受 max_attempts 约束；ctx 取消时提前返回
func (f *BatchFlusher) FlushAll(ctx context.Context) error {
	var errs error
	for {
		if err := ctx.Err(); err != nil {
			return multierr.Append(errs, err)
		}

		f.flushMu.Lock()
		batch := f.queue.Drain(f.pageSize)
		if len(batch) == 0 {
			f.flushMu.Unlock()
			return errs
		}

		done := make(chan error, 1)
		if err := f.dispatch(ctx, batch, done); err != nil {
			return multierr.Append(errs, err)
		}
		if err := <-done; err != nil {
			errs = multierr.Append(errs, err)
		}
	}
}

// dispatch 调用方已持有 flushMu；派发失败时在这里解锁并把批次原样放回队头
func (f *BatchFlusher) dispatch(ctx context.Context, batch []model.PendingMutation, done chan<- error) error {
	f.state.Store(int32(StateFlushing))

	err := f.exec.Submit(func() {
		err := f.commit(ctx, batch)
		f.state.Store(int32(StateIdle))
		f.flushMu.Unlock()
		if done != nil {
			done <- err
		}
	})
	if err != nil {
		f.queue.Requeue(batch)
		f.state.Store(int32(StateIdle))
		f.flushMu.Unlock()
		f.logger.Error("批次派发失败，已放回队列", zap.Int("count", len(batch)), zap.Error(err))
		return err
	}
	return nil
}

// commit 在 worker 中执行；上下文与调用方解绑，只受 commit_timeout 约束
func (f *BatchFlusher) commit(parent context.Context, batch []model.PendingMutation) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), f.commitTimeout)
	defer cancel()

	batchNo := idgen.BatchNo()
	start := time.Now()
	err := f.gateway.CommitBatch(ctx, batch)
	f.metrics.Duration.Observe(time.Since(start).Seconds())

	if err != nil {
		f.metrics.Batches.WithLabelValues("failure").Inc()
		f.logger.Error("批次落库失败",
			zap.String("batch_no", batchNo),
			zap.Int("count", len(batch)),
			zap.Int64("first_id", batch[0].ID),
			zap.Bool("mismatch", errors.Is(err, ledger.ErrBatchMismatch)),
			zap.Error(err))
		f.handleFailure(ctx, batch, err)
		return err
	}

	f.metrics.Batches.WithLabelValues("success").Inc()
	f.metrics.Committed.Add(float64(len(batch)))
	f.logger.Debug("批次落库成功", zap.String("batch_no", batchNo), zap.Int("count", len(batch)))

	for _, l := range f.listeners {
		if err := l.OnCommit(ctx, batch); err != nil {
			f.logger.Warn("落库通知失败", zap.Int("count", len(batch)), zap.Error(err))
		}
	}
	return nil
}

// handleFailure 重试次数+1 后放回队头；达到 max_attempts 的转入死信
func (f *BatchFlusher) handleFailure(ctx context.Context, batch []model.PendingMutation, cause error) {
	retry := make([]model.PendingMutation, 0, len(batch))
	var dead []model.PendingMutation

	for _, m := range batch {
		m.Attempts++
		if m.Attempts >= f.maxAttempts {
			dead = append(dead, m)
			continue
		}
		retry = append(retry, m)
	}

	if len(retry) > 0 {
		f.queue.Requeue(retry)
		f.metrics.Requeued.Add(float64(len(retry)))
	}
	if len(dead) > 0 {
		f.deadLetter(ctx, dead, cause)
	}
}

func (f *BatchFlusher) deadLetter(ctx context.Context, dead []model.PendingMutation, cause error) {
	f.metrics.DeadLetters.Add(float64(len(dead)))

	letters := make([]model.DeadLetter, 0, len(dead))
	for _, m := range dead {
		// 完整记录，保证即使死信表也写不进去仍可人工对账
		f.logger.Error("变更超过最大重试次数，转入死信",
			zap.Int64("mutation_id", m.ID),
			zap.Stringer("entity_id", m.EntityID),
			zap.String("display_name", m.DisplayName),
			zap.Stringer("balance", m.Balance),
			zap.Time("timestamp", m.Timestamp),
			zap.Int("attempts", m.Attempts))
		letters = append(letters, model.NewDeadLetter(m, cause.Error()))
	}

	if f.deadLetters == nil {
		return
	}

	// 提交可能正是因为超时失败，死信写入使用新的超时
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.commitTimeout)
	defer cancel()
	if err := f.deadLetters.SaveDeadLetters(ctx, letters); err != nil {
		f.logger.Error("保存死信失败", zap.Int("count", len(letters)), zap.Error(err))
	}
}
