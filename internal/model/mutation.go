package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PendingMutation 待落库的余额变更
//
// 记录的是变更后的绝对余额而不是差值：同一批次内同一实体的多条记录
// 按顺序覆盖，最后一条生效，重复提交同一批次结果不变
type PendingMutation struct {
	ID          int64           `json:"id"` // 雪花ID，用于追踪和消息 key
	EntityID    uuid.UUID       `json:"entity_id"`
	DisplayName string          `json:"display_name"` // 行不存在时 upsert 需要
	Balance     decimal.Decimal `json:"balance"`      // 变更后的余额
	Timestamp   time.Time       `json:"timestamp"`
	Attempts    int             `json:"attempts"` // 已失败的提交次数
}
