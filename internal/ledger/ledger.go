package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"economy/internal/model"
)

// LoadResult 异步加载的结果
type LoadResult struct {
	Entry *Entry
	Err   error
}

// Options Ledger 可选参数
type Options struct {
	LoadTimeout time.Duration
	Logger      *zap.Logger
	Now         func() time.Time
}

// Ledger 组合缓存、队列、观察者和网关，对外提供加载/卸载和条目查询
type Ledger struct {
	cache       *Cache
	queue       *Queue
	observers   *Observers
	gateway     Gateway
	exec        Executor
	loadTimeout time.Duration
	logger      *zap.Logger
	now         func() time.Time
}

func New(gateway Gateway, exec Executor, queue *Queue, opts Options) *Ledger {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = 5 * time.Second
	}
	return &Ledger{
		cache:       NewCache(),
		queue:       queue,
		observers:   NewObservers(),
		gateway:     gateway,
		exec:        exec,
		loadTimeout: opts.LoadTimeout,
		logger:      opts.Logger,
		now:         opts.Now,
	}
}

// Load 在工作池中查询实体并放入缓存，结果从返回的 channel 读取（只发送一次）
//
// 网关关闭或不可达时降级为零余额条目并记录警告；其他错误原样返回。
// 缓存中已有存活条目时保留其余额，只刷新展示名
func (l *Ledger) Load(ctx context.Context, entityID uuid.UUID, displayName string) <-chan LoadResult {
	out := make(chan LoadResult, 1)

	err := l.exec.Submit(func() {
		out <- l.load(ctx, entityID, displayName)
		close(out)
	})
	if err != nil {
		out <- LoadResult{Err: fmt.Errorf("ledger: load %s: %w", entityID, err)}
		close(out)
	}
	return out
}

func (l *Ledger) load(ctx context.Context, entityID uuid.UUID, displayName string) LoadResult {
	ctx, cancel := context.WithTimeout(ctx, l.loadTimeout)
	defer cancel()

	account, err := l.gateway.LoadEntity(ctx, entityID, displayName)
	if err != nil {
		if !IsUnavailable(err) {
			l.logger.Error("加载实体失败", zap.Stringer("entity_id", entityID), zap.Error(err))
			return LoadResult{Err: fmt.Errorf("ledger: load %s: %w", entityID, err)}
		}
		l.logger.Warn("数据库不可用，使用零余额条目",
			zap.Stringer("entity_id", entityID), zap.Error(err))
		account = model.NewAccount(entityID, displayName, l.now())
	}

	entry, loaded := l.cache.LoadOrStore(entityID, newEntry(account, l.queue, l.observers, l.now))
	if loaded {
		entry.rename(account.DisplayName)
	}
	return LoadResult{Entry: entry}
}

// Unload 从缓存移除实体，队列中尚未落库的变更不受影响
func (l *Ledger) Unload(entityID uuid.UUID) bool {
	_, ok := l.cache.Remove(entityID)
	return ok
}

// Entry 返回已加载的条目
func (l *Ledger) Entry(entityID uuid.UUID) (*Entry, error) {
	e, ok := l.cache.Get(entityID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntityNotLoaded, entityID)
	}
	return e, nil
}

// Observe 注册观察者，按注册顺序调用
func (l *Ledger) Observe(fn Observer) {
	l.observers.Register(fn)
}

func (l *Ledger) Cache() *Cache {
	return l.cache
}

func (l *Ledger) Queue() *Queue {
	return l.queue
}
