package ledger

import (
	"context"

	"github.com/google/uuid"

	"economy/internal/model"
)

// Gateway 持久化网关，所有方法都可能阻塞在网络/磁盘 I/O 上，
// 只能在 Executor 中调用，不能出现在调用方的同步路径上
type Gateway interface {
	// EnsureSchema 幂等建表，启动时调用一次
	EnsureSchema(ctx context.Context) error
	// LoadEntity 按ID查询；不存在时返回零余额账户；
	// 库中展示名与 fallbackName 不一致时顺带更新库并返回更新后的值
	LoadEntity(ctx context.Context, entityID uuid.UUID, fallbackName string) (model.Account, error)
	// CommitBatch 在一个事务中按顺序应用整批变更；
	// 网关关闭/不可达或影响行数与变更数不一致时返回错误
	CommitBatch(ctx context.Context, batch []model.PendingMutation) error
	// Close 幂等关闭
	Close() error
}

// Executor 固定大小的工作池，执行所有网关调用
type Executor interface {
	// Submit 提交任务，不阻塞调用方；执行器已关闭返回 ErrExecutorClosed
	Submit(task func()) error
}
