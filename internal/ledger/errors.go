package ledger

import "errors"

var (
	// ErrGatewayClosed 连接池已关闭
	ErrGatewayClosed = errors.New("ledger: gateway closed")
	// ErrGatewayUnavailable 数据库不可达（连接被拒绝、连接失效等）
	ErrGatewayUnavailable = errors.New("ledger: gateway unavailable")
	// ErrBatchMismatch 实际影响行数与提交的变更数不一致，可能部分落库
	ErrBatchMismatch = errors.New("ledger: batch commit row count mismatch")

	ErrQueueClosed     = errors.New("ledger: mutation queue closed")
	ErrQueueFull       = errors.New("ledger: mutation queue full")
	ErrEntityNotLoaded = errors.New("ledger: entity not loaded")
	ErrExecutorClosed  = errors.New("ledger: executor closed")
)

// IsUnavailable 网关关闭或不可达
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrGatewayClosed) || errors.Is(err, ErrGatewayUnavailable)
}
