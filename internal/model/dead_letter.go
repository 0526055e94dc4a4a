package model

import (
	"time"
)

// DeadLetter 超过最大重试次数仍无法提交的变更
// 只追加，供人工对账
type DeadLetter struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MutationID  int64     `gorm:"not null;index" json:"mutation_id"`
	EntityID    string    `gorm:"type:char(36);index;not null" json:"entity_id"`
	DisplayName string    `gorm:"type:varchar(64);not null" json:"display_name"`
	Balance     string    `gorm:"type:varchar(80);not null" json:"balance"` // 原样保存十进制字符串
	Attempts    int       `gorm:"not null" json:"attempts"`
	Reason      string    `gorm:"type:varchar(512)" json:"reason"`
	MutatedAt   time.Time `gorm:"not null" json:"mutated_at"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (DeadLetter) TableName() string {
	return "economy_dead_letter"
}

// NewDeadLetter 由待落库变更构造死信记录
func NewDeadLetter(m PendingMutation, reason string) DeadLetter {
	if len(reason) > 512 {
		reason = reason[:512]
	}
	return DeadLetter{
		MutationID:  m.ID,
		EntityID:    m.EntityID.String(),
		DisplayName: m.DisplayName,
		Balance:     m.Balance.String(),
		Attempts:    m.Attempts,
		Reason:      reason,
		MutatedAt:   m.Timestamp,
	}
}
